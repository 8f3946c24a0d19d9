// Package engine drives the concurrent traversal of the catalog page
// hierarchy: root page, device/brand category pages, paginated listings and
// service-center detail pages. Extracted facts are merged into the run's
// registry; all registry writes are idempotent, so completion order across
// sibling branches never affects the result.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkoval/servicecenter-crawler/internal/catalog"
	"github.com/dkoval/servicecenter-crawler/internal/extract"
	"github.com/dkoval/servicecenter-crawler/internal/fetch"
	"github.com/dkoval/servicecenter-crawler/internal/metrics"
)

const advantagesHeading = " Преимущества сервиса"

// AssetMirror downloads an asset once and returns its local reference.
type AssetMirror interface {
	Mirror(ctx context.Context, fetcher fetch.Fetcher, ref string) (string, error)
}

// Config controls traversal behavior.
type Config struct {
	// StartPath is the root catalog page, e.g. "/spb.htm".
	StartPath string
	// FanOut bounds the number of concurrently crawled child pages per
	// hierarchy level.
	FanOut int
}

// Engine crawls the page hierarchy and feeds the registry.
type Engine struct {
	cfg      Config
	fetcher  fetch.Fetcher
	registry *catalog.Registry
	mirror   AssetMirror
	logger   *zap.Logger
}

// New constructs an Engine. mirror may be nil to skip asset downloads.
func New(
	cfg Config,
	fetcher fetch.Fetcher,
	registry *catalog.Registry,
	mirror AssetMirror,
	logger *zap.Logger,
) *Engine {
	if cfg.FanOut <= 0 {
		cfg.FanOut = 8
	}
	return &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		registry: registry,
		mirror:   mirror,
		logger:   logger,
	}
}

// Run crawls the whole hierarchy starting at the root page. A failed child
// branch is logged and dropped; only a root fetch failure aborts the run.
func (e *Engine) Run(ctx context.Context) error {
	doc, err := e.fetcher.Document(ctx, e.cfg.StartPath)
	if err != nil {
		return fmt.Errorf("fetch root page: %w", err)
	}
	metrics.PageFetched("root")

	blocks := doc.Find(".job-stats")
	if blocks.Length() < 2 {
		return fmt.Errorf("root page has %d category blocks, want 2", blocks.Length())
	}
	deviceBlock, brandBlock := blocks.Eq(0), blocks.Eq(1)

	group := e.newGroup(ctx)
	deviceBlock.Find("a").Each(func(_ int, anchor *goquery.Selection) {
		group.Go(func() error {
			if _, err := e.crawlCategory(ctx, anchor, catalog.KindDevice); err != nil {
				e.logger.Error("device category branch failed",
					zap.String("href", anchor.AttrOr("href", "")),
					zap.Error(err),
				)
			}
			return nil
		})
	})
	if err := group.Wait(); err != nil {
		return err
	}

	// Popularity markers apply only after device-driven discovery has
	// created the brands; a brand seen only here is dropped.
	brandBlock.Find("a").Each(func(_ int, anchor *goquery.Selection) {
		title := extract.CategoryTitle(anchor)
		if title == "" {
			return
		}
		if !e.registry.MarkBrandPopular(title) {
			e.logger.Debug("popularity marker dropped for unknown brand",
				zap.String("brand", title))
		}
	})
	return nil
}

// crawlCategory fetches one category page, records its facts and fans out
// into nested brand categories and pagination pages.
func (e *Engine) crawlCategory(
	ctx context.Context,
	anchor *goquery.Selection,
	kind catalog.CategoryKind,
) (*catalog.Category, error) {
	title := extract.CategoryTitle(anchor)
	if title == "" {
		return nil, fmt.Errorf("category anchor has no title")
	}
	href := anchor.AttrOr("href", "")
	if href == "" {
		return nil, fmt.Errorf("category %q anchor has no href", title)
	}

	cat, created := e.registry.UpsertCategory(kind, title)
	if created {
		metrics.EntityCreated(string(kind))
	}

	doc, err := e.fetcher.Document(ctx, href)
	if err != nil {
		return nil, fmt.Errorf("fetch category %q: %w", title, err)
	}
	metrics.PageFetched("category")

	group := e.newGroup(ctx)

	if kind == catalog.KindDevice {
		doc.Find(".single-job .job-stats a[href]").Each(func(_ int, brandAnchor *goquery.Selection) {
			group.Go(func() error {
				brand, err := e.crawlCategory(ctx, brandAnchor, catalog.KindBrand)
				if err != nil {
					e.logger.Error("brand category branch failed",
						zap.String("device", cat.Slug),
						zap.Error(err),
					)
					return nil
				}
				e.registry.AddBrandToDevice(cat, brand.Slug)
				return nil
			})
		})

		doc.Find(".table_price tr").Each(func(_ int, row *goquery.Selection) {
			e.addServiceRow(cat, row)
		})
	}

	e.mirrorThumbnail(ctx, cat, anchor)

	for _, pageRef := range paginationRefs(doc, href) {
		ref := pageRef
		group.Go(func() error {
			if err := e.crawlListingPage(ctx, ref, cat); err != nil {
				e.logger.Error("listing page branch failed",
					zap.String("category", cat.Slug),
					zap.String("page", ref),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (e *Engine) addServiceRow(cat *catalog.Category, row *goquery.Selection) {
	titleCell := row.Find(".col-price-1").First()
	priceCell := row.Find(".col-price-2").First()
	title := strings.TrimSpace(titleCell.Text())
	if title == "" {
		return
	}
	e.registry.AddService(cat, title, extract.TrimPrice(priceCell.Text()))
}

func (e *Engine) mirrorThumbnail(ctx context.Context, cat *catalog.Category, anchor *goquery.Selection) {
	if e.mirror == nil {
		return
	}
	thumbURL := extract.ThumbnailURL(anchor)
	if thumbURL == "" {
		return
	}
	ref, err := e.mirror.Mirror(ctx, e.fetcher, thumbURL)
	if err != nil {
		e.logger.Warn("thumbnail download failed",
			zap.String("category", cat.Slug),
			zap.String("url", thumbURL),
			zap.Error(err),
		)
		return
	}
	e.registry.SetCategoryThumbnail(cat, ref)
}

// paginationRefs enumerates listing pages from the pagination bar. The first
// and last entries are the previous/next controls and are skipped. Page hrefs
// are either site-absolute or relative to the category href.
func paginationRefs(doc *goquery.Document, categoryHref string) []string {
	links := doc.Find(".pagination li a")
	n := links.Length()
	if n <= 2 {
		return nil
	}
	refs := make([]string, 0, n-2)
	links.Slice(1, n-1).Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		if href == "" {
			return
		}
		if !strings.HasPrefix(href, "/") {
			href = categoryHref + href
		}
		refs = append(refs, href)
	})
	return refs
}

// cardFacts is the provisional view of a service center taken from one
// listing card before the registry decides create vs. merge.
type cardFacts struct {
	title       string
	detailRef   string
	metros      []string
	hours       []string
	addressHint string
}

func (e *Engine) crawlListingPage(ctx context.Context, ref string, cat *catalog.Category) error {
	doc, err := e.fetcher.Document(ctx, ref)
	if err != nil {
		return err
	}
	metrics.PageFetched("listing")

	group := e.newGroup(ctx)
	doc.Find(".contacty").Each(func(_ int, card *goquery.Selection) {
		facts := readCard(card)
		group.Go(func() error {
			if err := e.processCard(ctx, facts, cat); err != nil {
				e.logger.Error("service center branch failed",
					zap.String("center", facts.title),
					zap.Error(err),
				)
			}
			return nil
		})
	})
	return group.Wait()
}

func readCard(card *goquery.Selection) cardFacts {
	facts := cardFacts{
		title:     strings.TrimSpace(card.Find(".namesc").First().Text()),
		detailRef: card.Find(`a[href*="/sc_"]`).First().AttrOr("href", ""),
	}
	card.Find(".services > .container .bliz span").Each(func(_ int, s *goquery.Selection) {
		facts.metros = append(facts.metros, s.Text())
	})
	card.Find(".services > .container .time ul li").Each(func(_ int, s *goquery.Selection) {
		facts.hours = append(facts.hours, s.Text())
	})
	if marker := card.Find(".fa-map-marker").First(); marker.Length() > 0 {
		facts.addressHint = extract.AddressHint(marker.Parent().Text())
	}
	return facts
}

// processCard upserts the center and, when this sighting created it, runs the
// one-time detail-page enrichment. Category membership is recorded on every
// sighting.
func (e *Engine) processCard(ctx context.Context, facts cardFacts, cat *catalog.Category) error {
	if facts.title == "" || facts.detailRef == "" {
		return nil
	}

	sc, created := e.registry.UpsertServiceCenter(facts.title)
	e.registry.AddCenterCategory(sc, cat.Kind, cat.Slug)
	if !created {
		return nil
	}
	metrics.EntityCreated("service_center")

	for _, metro := range facts.metros {
		e.registry.AddCenterMetro(sc, extract.MetroTitle(metro))
	}
	for _, hourText := range facts.hours {
		if hour, ok := extract.ParseOpeningHour(hourText); ok {
			e.registry.AddOpeningHour(sc, hour)
		}
	}
	if facts.addressHint != "" {
		e.registry.SetPrimaryAddress(sc, facts.addressHint)
	}

	doc, err := e.fetcher.Document(ctx, facts.detailRef)
	if err != nil {
		return fmt.Errorf("fetch detail page: %w", err)
	}
	metrics.PageFetched("detail")

	e.enrichCenter(ctx, sc, doc, facts.addressHint)
	return nil
}

// enrichCenter runs the detail-page extractors. It executes at most once per
// center, on the goroutine that won creation.
func (e *Engine) enrichCenter(
	ctx context.Context,
	sc *catalog.ServiceCenter,
	doc *goquery.Document,
	primaryAddress string,
) {
	headHTML, err := goquery.OuterHtml(doc.Find("head"))
	if err != nil {
		headHTML = ""
	}
	placemarks := extract.ParsePlacemarks(headHTML)

	doc.Find(".address h4").Each(func(_ int, heading *goquery.Selection) {
		metro, address, ok := extract.ParseLocation(heading.Text())
		if !ok {
			return
		}
		loc := catalog.Location{
			Metro:   metro,
			Address: address,
			Coords:  extract.CoordsForAddress(placemarks, address),
		}
		if primaryAddress != "" {
			loc.IsPrimary = strings.Contains(address, primaryAddress)
		}
		e.registry.AddLocation(sc, loc)
	})

	doc.Find(".job-info .sidebar-tags a").Each(func(_ int, tag *goquery.Selection) {
		if title := strings.TrimSpace(tag.Text()); title != "" {
			e.registry.AddCenterFeature(sc, title)
		}
	})

	doc.Find("h3").Each(func(_ int, heading *goquery.Selection) {
		if heading.Text() != advantagesHeading {
			return
		}
		heading.Parent().Find("li").Each(func(_ int, item *goquery.Selection) {
			if title := strings.TrimSpace(item.Text()); title != "" {
				e.registry.AddCenterAdvantage(sc, title)
			}
		})
	})

	e.registry.ApplyCenterDetails(sc, e.readCenterDetails(ctx, doc))

	doc.Find(`[data-fancybox="gallery"] img`).Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" || e.mirror == nil {
			return
		}
		ref, err := e.mirror.Mirror(ctx, e.fetcher, src)
		if err != nil {
			e.logger.Warn("gallery download failed",
				zap.String("center", sc.Slug),
				zap.String("url", src),
				zap.Error(err),
			)
			return
		}
		e.registry.AddGalleryImage(sc, ref)
	})
}

func (e *Engine) readCenterDetails(ctx context.Context, doc *goquery.Document) catalog.CenterDetails {
	var details catalog.CenterDetails

	if heading := doc.Find(".main h1.title").First(); heading.Length() > 0 {
		title := extract.CenterTitle(heading.Text())
		details.Title = &title
	}
	if phoneLink := doc.Find(".main h2.title a[href]").First(); phoneLink.Length() > 0 {
		phone := extract.Phone(phoneLink.AttrOr("href", ""))
		details.Phone = &phone
	}
	if slogan := doc.Find(".main .description.light").First(); slogan.Length() > 0 {
		text := strings.TrimSpace(slogan.Text())
		details.Slogan = &text
	}
	if siteLink := doc.Find(".address .btn-default[href]").First(); siteLink.Length() > 0 {
		if site := extract.SiteURL(siteLink.AttrOr("href", "")); site != "" {
			details.SiteURL = &site
		}
	}
	if description := doc.Find(".culture p").First(); description.Length() > 0 {
		text := strings.TrimSpace(description.Text())
		details.Description = &text
	}
	if logo := doc.Find(".culture img[src]").First(); logo.Length() > 0 && e.mirror != nil {
		src := logo.AttrOr("src", "")
		if src != "" {
			if ref, err := e.mirror.Mirror(ctx, e.fetcher, src); err == nil {
				details.Logo = &ref
			} else {
				e.logger.Warn("logo download failed", zap.String("url", src), zap.Error(err))
			}
		}
	}
	return details
}

func (e *Engine) newGroup(ctx context.Context) *errgroup.Group {
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.FanOut)
	return group
}
