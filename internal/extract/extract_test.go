package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func anchorFromHTML(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Find("a").First()
}

func TestCategoryTitlePrefersImageCaption(t *testing.T) {
	anchor := anchorFromHTML(t,
		`<a href="/apple.htm"><img alt="Логотип Apple" src="/i/apple.png"></a>`)
	require.Equal(t, "Apple", CategoryTitle(anchor))
}

func TestCategoryTitleFallsBackToAnchorText(t *testing.T) {
	anchor := anchorFromHTML(t,
		`<a href="/phones.htm"> Ремонт телефонов </a>`)
	require.Equal(t, "Ремонт телефонов", CategoryTitle(anchor))

	// Image without the caption prefix does not take precedence.
	anchor = anchorFromHTML(t,
		`<a href="/x.htm"><img alt="decorative" src="/i/x.png">Ноутбуки</a>`)
	require.Equal(t, "Ноутбуки", CategoryTitle(anchor))
}

func TestThumbnailURLFallsBackToDataSrc(t *testing.T) {
	anchor := anchorFromHTML(t,
		`<a href="/x.htm"><img alt="Логотип X" data-src="/i/lazy.png"></a>`)
	require.Equal(t, "/i/lazy.png", ThumbnailURL(anchor))

	anchor = anchorFromHTML(t, `<a href="/x.htm">no image</a>`)
	require.Empty(t, ThumbnailURL(anchor))
}

func TestParseLocation(t *testing.T) {
	metro, address, ok := ParseLocation("метро Академическая-Гражданский пр., 41")
	require.True(t, ok)
	require.Equal(t, "Академическая", metro)
	require.Equal(t, "Гражданский пр., 41", address)

	_, _, ok = ParseLocation("нет разделителя")
	require.False(t, ok)
}

func TestMetroTitleRenamesLegacyStation(t *testing.T) {
	require.Equal(t, "Зенит", MetroTitle("метро Новокрестовская"))
	require.Equal(t, "Озерки", MetroTitle("метро Озерки"))
}

func TestScalarTrims(t *testing.T) {
	require.Equal(t, "ул. Ленина, 1", AddressHint("Адрес: ул. Ленина, 1"))
	require.Equal(t, "Мастер", CenterTitle("Сервисный центр Мастер"))
	require.Equal(t, "1500", TrimPrice("1500 руб."))
	require.Equal(t, "78121234567", Phone("tel:+78121234567"))
}

func TestSiteURL(t *testing.T) {
	require.Equal(t, "http://remont.example",
		SiteURL("/redirect?url=remont.example%2F"))
	require.Equal(t, "https://remont.example",
		SiteURL("/redirect?url=https://remont.example%2F"))
	require.Empty(t, SiteURL("/no-redirect-here"))
}
