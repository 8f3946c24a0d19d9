// Package catalog defines the entity graph assembled during a crawl run and
// the concurrency-safe registry that deduplicates and merges extracted facts.
package catalog

// CategoryKind distinguishes the two category hierarchies on the site.
type CategoryKind string

const (
	KindDevice CategoryKind = "device"
	KindBrand  CategoryKind = "brand"
)

// Category is a device or brand listing category, keyed by slug(title).
type Category struct {
	Slug      string
	Title     string
	Kind      CategoryKind
	Thumbnail *string
	IsPopular bool

	// Brands holds brand slugs linked from a device category page.
	Brands map[string]struct{}
	// Services holds the flat price list scoped to a device category.
	Services map[string]*Service
}

// Service is one row of a device category's price table.
type Service struct {
	Title string
	Price string
}

// ServiceCenter is the central entity, keyed by slug(title). Scalar fields
// beyond Title are populated once by detail-page enrichment and stay nil when
// the source markup lacks them.
type ServiceCenter struct {
	Slug        string
	Title       string
	Phone       *string
	Slogan      *string
	Logo        *string
	SiteURL     *string
	Description *string

	// PrimaryAddress is the listing-card address hint used to derive each
	// location's is-primary flag. It is not persisted on its own.
	PrimaryAddress *string

	Advantages map[string]struct{}
	Brands     map[string]struct{}
	Devices    map[string]struct{}
	Features   map[string]struct{}
	Metros     map[string]struct{}

	Locations    map[LocationKey]*Location
	OpeningHours map[OpeningHourKey]*OpeningHour
	Gallery      map[string]struct{}
}

// Location is one address of a service center.
type Location struct {
	Metro     string
	Address   string
	Coords    *string
	IsPrimary bool
}

// LocationKey is the natural key of a location within one service center.
type LocationKey struct {
	Metro   string
	Address string
}

// Key returns the location's natural key.
func (l Location) Key() LocationKey {
	return LocationKey{Metro: l.Metro, Address: l.Address}
}

// OpeningHour is one weekday-range schedule entry. Nil times mean closed.
type OpeningHour struct {
	WeekdayFrom int
	WeekdayTo   int
	TimeFrom    *string
	TimeTo      *string
}

// OpeningHourKey is the natural key of a schedule entry within one center.
type OpeningHourKey struct {
	WeekdayFrom int
	WeekdayTo   int
}

// Key returns the schedule entry's natural key.
func (h OpeningHour) Key() OpeningHourKey {
	return OpeningHourKey{WeekdayFrom: h.WeekdayFrom, WeekdayTo: h.WeekdayTo}
}

// CenterDetails carries the scalar facts produced by detail-page enrichment.
// Nil fields were absent from the source markup.
type CenterDetails struct {
	Title       *string
	Phone       *string
	Slogan      *string
	Logo        *string
	SiteURL     *string
	Description *string
}

func newServiceCenter(slug, title string) *ServiceCenter {
	return &ServiceCenter{
		Slug:         slug,
		Title:        title,
		Advantages:   make(map[string]struct{}),
		Brands:       make(map[string]struct{}),
		Devices:      make(map[string]struct{}),
		Features:     make(map[string]struct{}),
		Metros:       make(map[string]struct{}),
		Locations:    make(map[LocationKey]*Location),
		OpeningHours: make(map[OpeningHourKey]*OpeningHour),
		Gallery:      make(map[string]struct{}),
	}
}

func newCategory(kind CategoryKind, slug, title string) *Category {
	c := &Category{
		Slug:  slug,
		Title: title,
		Kind:  kind,
	}
	if kind == KindDevice {
		c.Brands = make(map[string]struct{})
		c.Services = make(map[string]*Service)
	}
	return c
}
