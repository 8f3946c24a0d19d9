package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkoval/servicecenter-crawler/internal/catalog"
	"github.com/dkoval/servicecenter-crawler/internal/fetch"
)

// fakeFetcher serves canned HTML by path and counts fetches.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Document(_ context.Context, ref string) (*goquery.Document, error) {
	f.mu.Lock()
	html, ok := f.pages[ref]
	f.calls[ref]++
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such page %q", ref)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *fakeFetcher) Download(_ context.Context, ref string) ([]byte, error) {
	return []byte("bytes:" + ref), nil
}

func (f *fakeFetcher) fetches(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

// fakeMirror records mirrored refs without touching the filesystem.
type fakeMirror struct {
	mu   sync.Mutex
	refs []string
}

func (m *fakeMirror) Mirror(_ context.Context, _ fetch.Fetcher, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs = append(m.refs, ref)
	return strings.TrimPrefix(ref, "/"), nil
}

func (m *fakeMirror) mirrored() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refs...)
}

const rootPage = `<html><body>
<div class="job-stats">
	<a href="/phones/">Ремонт телефонов</a>
</div>
<div class="job-stats">
	<a href="/brand-apple/"><img alt="Логотип Apple" src="/i/apple.png"></a>
	<a href="/brand-nokia/">Nokia</a>
</div>
</body></html>`

const devicePage = `<html><body>
<div class="single-job">
	<div class="job-stats">
		<a href="/apple/"><img alt="Логотип Apple" data-src="/i/apple.png"></a>
	</div>
</div>
<table class="table_price">
	<tr><td class="col-price-1">Замена экрана</td><td class="col-price-2">1500 руб.</td></tr>
	<tr><td class="col-price-1"></td><td class="col-price-2"></td></tr>
</table>
<ul class="pagination">
	<li><a href="prev.htm">&laquo;</a></li>
	<li><a href="p1.htm">1</a></li>
	<li><a href="next.htm">&raquo;</a></li>
</ul>
</body></html>`

const brandPage = `<html><body>
<ul class="pagination">
	<li><a href="prev.htm">&laquo;</a></li>
	<li><a href="/apple/page1.htm">1</a></li>
	<li><a href="next.htm">&raquo;</a></li>
</ul>
</body></html>`

const listingPage = `<html><body>
<div class="contacty">
	<div class="namesc">Сервис Мастер</div>
	<a href="/sc_master.htm">подробнее</a>
	<div class="services"><div class="container">
		<div class="bliz"><span>метро Озерки</span></div>
		<div class="time"><ul>
			<li>ПН-ПТ - 09:00 18:00</li>
			<li>СБ-ВС - Выходной</li>
		</ul></div>
	</div></div>
	<div><i class="fa-map-marker"></i>Адрес: пр. Энгельса, 111</div>
</div>
</body></html>`

const detailPage = `<html><head>
<script>
	myMap.geoObjects.add(new ymaps.Placemark([60.0511, 30.3327], {
		balloonContentBody: "метро Озерки, пр. Энгельса, 111"
	}));
</script>
</head><body>
<div class="main">
	<h1 class="title">Сервисный центр Мастер</h1>
	<h2 class="title"><a href="tel:+78121234567">+7 (812) 123-45-67</a></h2>
	<div class="description light">Чиним всё</div>
</div>
<div class="address">
	<h4>метро Озерки-пр. Энгельса, 111</h4>
	<a class="btn-default" href="/redirect?url=master.example%2F">Сайт</a>
</div>
<div class="job-info"><div class="sidebar-tags">
	<a>Выезд мастера</a>
</div></div>
<div><h3> Преимущества сервиса</h3><ul><li>Гарантия до года</li></ul></div>
<div class="culture"><p>Описание сервиса.</p><img src="/i/logo-master.png"></div>
<div data-fancybox="gallery"><img src="/gallery/master-1.jpg"></div>
</body></html>`

func sitePages() map[string]string {
	return map[string]string{
		"/spb.htm":         rootPage,
		"/phones/":         devicePage,
		"/apple/":          brandPage,
		"/phones/p1.htm":   listingPage,
		"/apple/page1.htm": listingPage,
		"/sc_master.htm":   detailPage,
	}
}

func runEngine(t *testing.T, fetcher *fakeFetcher, mirror AssetMirror) *catalog.Registry {
	t.Helper()
	registry := catalog.NewRegistry()
	eng := New(Config{StartPath: "/spb.htm", FanOut: 4}, fetcher, registry, mirror, zap.NewNop())
	require.NoError(t, eng.Run(context.Background()))
	return registry
}

func TestRunBuildsEntityGraph(t *testing.T) {
	fetcher := newFakeFetcher(sitePages())
	mirror := &fakeMirror{}
	registry := runEngine(t, fetcher, mirror)

	devices := registry.Categories(catalog.KindDevice)
	require.Len(t, devices, 1)
	device := devices[0]
	require.Equal(t, "Ремонт телефонов", device.Title)
	require.Contains(t, device.Brands, "apple")
	require.Len(t, device.Services, 1)
	require.Equal(t, "1500", device.Services["Замена экрана"].Price)

	brands := registry.Categories(catalog.KindBrand)
	require.Len(t, brands, 1)
	require.Equal(t, "Apple", brands[0].Title)
	require.True(t, brands[0].IsPopular, "root brand block flags popularity")
	require.NotNil(t, brands[0].Thumbnail)
	require.Equal(t, "i/apple.png", *brands[0].Thumbnail)

	centers := registry.Centers()
	require.Len(t, centers, 1, "same card from two listings must merge")
	sc := centers[0]

	require.Contains(t, sc.Devices, device.Slug)
	require.Contains(t, sc.Brands, "apple")
	require.Contains(t, sc.Metros, "Озерки")
	require.Len(t, sc.OpeningHours, 2)

	weekend := sc.OpeningHours[catalog.OpeningHourKey{WeekdayFrom: 6, WeekdayTo: 7}]
	require.NotNil(t, weekend)
	require.Nil(t, weekend.TimeFrom)

	require.Len(t, sc.Locations, 1)
	loc := sc.Locations[catalog.LocationKey{Metro: "Озерки", Address: "пр. Энгельса, 111"}]
	require.NotNil(t, loc)
	require.True(t, loc.IsPrimary)
	require.NotNil(t, loc.Coords)
	require.Equal(t, "60.0511, 30.3327", *loc.Coords)

	require.Equal(t, "Мастер", sc.Title)
	require.Equal(t, "78121234567", *sc.Phone)
	require.Equal(t, "Чиним всё", *sc.Slogan)
	require.Equal(t, "http://master.example", *sc.SiteURL)
	require.Equal(t, "Описание сервиса.", *sc.Description)
	require.Equal(t, "i/logo-master.png", *sc.Logo)

	require.Contains(t, sc.Features, "Выезд мастера")
	require.Contains(t, sc.Advantages, "Гарантия до года")
	require.Contains(t, sc.Gallery, "gallery/master-1.jpg")

	require.Contains(t, mirror.mirrored(), "/i/apple.png")
}

func TestEnrichmentRunsOncePerCenter(t *testing.T) {
	fetcher := newFakeFetcher(sitePages())
	runEngine(t, fetcher, nil)

	require.Equal(t, 1, fetcher.fetches("/sc_master.htm"),
		"detail page must be fetched once even when the card appears on several listings")
}

func TestRunIsIdempotentAcrossRepeatedTraversal(t *testing.T) {
	fetcher := newFakeFetcher(sitePages())
	registry := catalog.NewRegistry()
	eng := New(Config{StartPath: "/spb.htm", FanOut: 2}, fetcher, registry, nil, zap.NewNop())

	require.NoError(t, eng.Run(context.Background()))
	require.NoError(t, eng.Run(context.Background()))

	require.Len(t, registry.Centers(), 1)
	require.Len(t, registry.Categories(catalog.KindDevice), 1)
	require.Len(t, registry.Categories(catalog.KindBrand), 1)
	sc := registry.Centers()[0]
	require.Len(t, sc.Metros, 1)
	require.Len(t, sc.OpeningHours, 2)
}

func TestFailedListingBranchDoesNotAbortRun(t *testing.T) {
	pages := sitePages()
	delete(pages, "/apple/page1.htm") // brand listing branch will fail
	fetcher := newFakeFetcher(pages)
	registry := runEngine(t, fetcher, nil)

	// The device-side listing still produced the center.
	require.Len(t, registry.Centers(), 1)
	require.Contains(t, registry.Centers()[0].Devices, "remont-telefonov")
}

func TestRootWithoutCategoryBlocksFails(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"/spb.htm": `<html><body><p>empty</p></body></html>`,
	})
	eng := New(Config{StartPath: "/spb.htm"}, fetcher, catalog.NewRegistry(), nil, zap.NewNop())
	require.Error(t, eng.Run(context.Background()))
}
