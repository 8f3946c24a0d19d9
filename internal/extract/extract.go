// Package extract holds the pure transforms that turn raw page fragments into
// typed facts. Functions here never fetch and never fail on absent markup:
// a missing field simply comes back empty or nil.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	logoAltPrefix     = "Логотип "
	metroPrefix       = "метро "
	addressHintPrefix = "Адрес: "
	centerTitlePrefix = "Сервисный центр "
	priceSuffix       = " руб."
	phonePrefix       = "tel:+"
)

// CategoryTitle extracts a category's title from its listing anchor. Listing
// thumbnails sometimes lack visible text, so a structured image caption with
// the localized "logo of" prefix takes precedence over the anchor text.
func CategoryTitle(anchor *goquery.Selection) string {
	if img := anchor.Find("img").First(); img.Length() > 0 {
		if alt, ok := img.Attr("alt"); ok && strings.HasPrefix(alt, logoAltPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(alt, logoAltPrefix))
		}
	}
	return strings.TrimSpace(anchor.Text())
}

// ThumbnailURL returns the category thumbnail source, falling back to the
// lazy-load attribute when src is absent.
func ThumbnailURL(anchor *goquery.Selection) string {
	img := anchor.Find("img").First()
	if img.Length() == 0 {
		return ""
	}
	if src, ok := img.Attr("src"); ok && src != "" {
		return src
	}
	if src, ok := img.Attr("data-src"); ok {
		return src
	}
	return ""
}

// ParseLocation splits a detail-page location heading of the form
// "метро Академическая-Гражданский пр., 41" into metro title and address.
func ParseLocation(text string) (metro, address string, ok bool) {
	metro, address, ok = strings.Cut(strings.TrimSpace(text), "-")
	if !ok {
		return "", "", false
	}
	return MetroTitle(metro), address, true
}

// MetroTitle normalizes a metro station title: the "метро " prefix is
// dropped and the station renamed after data collection started is mapped to
// its current name.
func MetroTitle(text string) string {
	title := strings.TrimPrefix(strings.TrimSpace(text), metroPrefix)
	if title == "Новокрестовская" {
		title = "Зенит"
	}
	return title
}

// AddressHint strips the label prefix from a listing-card address line.
func AddressHint(text string) string {
	return strings.TrimPrefix(strings.TrimSpace(text), addressHintPrefix)
}

// CenterTitle strips the decorative prefix from a detail-page heading.
func CenterTitle(text string) string {
	return strings.TrimPrefix(strings.TrimSpace(text), centerTitlePrefix)
}

// TrimPrice strips the currency suffix from a price cell.
func TrimPrice(text string) string {
	return strings.TrimSuffix(strings.TrimSpace(text), priceSuffix)
}

// Phone extracts the dialable number from a tel: anchor href.
func Phone(href string) string {
	return strings.TrimPrefix(strings.TrimSpace(href), phonePrefix)
}

var siteURLPattern = regexp.MustCompile(`url=(.+)%`)

// SiteURL pulls the external site address out of a redirect link href,
// defaulting the scheme to http when the source omits it.
func SiteURL(href string) string {
	m := siteURLPattern.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	target := m[1]
	if !strings.Contains(target, "//") {
		target = "http://" + target
	}
	return target
}
