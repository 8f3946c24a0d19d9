// The main package for the servicecenter-crawler executable.
package main

import (
	"github.com/dkoval/servicecenter-crawler/cmd"
)

func main() {
	cmd.Execute()
}
