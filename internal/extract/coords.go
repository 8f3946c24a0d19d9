package extract

import (
	"regexp"
	"strings"
)

// Placemark is one coordinate record scraped from the map script embedded in
// a detail page's head.
type Placemark struct {
	Coords  string
	Address string
}

var placemarkPattern = regexp.MustCompile(
	`(?s)Placemark\(\[(.+?)\].+?balloonContentBody: "(.+?)"`)

// ParsePlacemarks scrapes all coordinate/address pairs from the raw head
// markup. The pairs live inside a JavaScript map-widget initializer, so this
// is regex extraction by contract, not DOM traversal.
func ParsePlacemarks(headHTML string) []Placemark {
	matches := placemarkPattern.FindAllStringSubmatch(headHTML, -1)
	if matches == nil {
		return nil
	}
	out := make([]Placemark, 0, len(matches))
	for _, m := range matches {
		out = append(out, Placemark{Coords: m[1], Address: m[2]})
	}
	return out
}

// CoordsForAddress binds a location address to the first placemark whose
// balloon text contains it. Substring containment is a known approximation:
// when one address is a substring of another the wrong placemark can win.
// Returns nil when nothing matches; the location keeps null coordinates.
func CoordsForAddress(placemarks []Placemark, address string) *string {
	for _, p := range placemarks {
		if strings.Contains(p.Address, address) {
			coords := p.Coords
			return &coords
		}
	}
	return nil
}
