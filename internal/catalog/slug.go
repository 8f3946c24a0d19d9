package catalog

import (
	"strings"

	"github.com/gosimple/slug"
)

// Slug derives the deterministic natural key for a source title. Whitespace
// and case variants of the same title always map to the same key, which is
// what makes registry merges commutative and idempotent.
func Slug(title string) string {
	return slug.Make(strings.TrimSpace(title))
}
