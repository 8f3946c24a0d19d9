package catalog

import (
	"sort"
	"sync"
)

// Registry is the shared mutable store for one crawl run. Every mutation goes
// through a single mutex, so the create-vs-merge decision of an upsert is
// atomic: two concurrent first sightings of the same key cannot both observe
// created=true. The registry is scoped to a run and passed by reference into
// the traversal engine, never package-global.
type Registry struct {
	mu         sync.Mutex
	centers    map[string]*ServiceCenter
	devices    map[string]*Category
	brands     map[string]*Category
	metros     map[string]struct{}
	advantages map[string]struct{}
	features   map[string]struct{}
}

// NewRegistry creates an empty registry for a single crawl run.
func NewRegistry() *Registry {
	return &Registry{
		centers:    make(map[string]*ServiceCenter),
		devices:    make(map[string]*Category),
		brands:     make(map[string]*Category),
		metros:     make(map[string]struct{}),
		advantages: make(map[string]struct{}),
		features:   make(map[string]struct{}),
	}
}

// UpsertServiceCenter returns the center for slug(title), creating it on
// first sighting. The created flag tells the caller whether it owns the
// one-time detail-page enrichment for this center.
func (r *Registry) UpsertServiceCenter(title string) (*ServiceCenter, bool) {
	key := Slug(title)

	r.mu.Lock()
	defer r.mu.Unlock()

	if sc, ok := r.centers[key]; ok {
		return sc, false
	}
	sc := newServiceCenter(key, title)
	r.centers[key] = sc
	return sc, true
}

// UpsertCategory returns the category for slug(title) within the given kind,
// creating it on first sighting. Scalar fields are first-write-wins.
func (r *Registry) UpsertCategory(kind CategoryKind, title string) (*Category, bool) {
	key := Slug(title)

	r.mu.Lock()
	defer r.mu.Unlock()

	byKind := r.categories(kind)
	if c, ok := byKind[key]; ok {
		return c, false
	}
	c := newCategory(kind, key, title)
	byKind[key] = c
	return c, true
}

func (r *Registry) categories(kind CategoryKind) map[string]*Category {
	if kind == KindBrand {
		return r.brands
	}
	return r.devices
}

// SetCategoryThumbnail records the mirrored thumbnail reference once.
func (r *Registry) SetCategoryThumbnail(c *Category, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Thumbnail == nil {
		c.Thumbnail = &ref
	}
}

// MarkBrandPopular flags an already-discovered brand as popular. A brand
// mentioned only at the root was never created through device-driven
// discovery; in that case the flag is silently dropped and false returned.
func (r *Registry) MarkBrandPopular(title string) bool {
	key := Slug(title)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.brands[key]
	if !ok {
		return false
	}
	b.IsPopular = true
	return true
}

// AddCenterCategory links a center to the category it was listed under.
func (r *Registry) AddCenterCategory(sc *ServiceCenter, kind CategoryKind, categorySlug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == KindBrand {
		sc.Brands[categorySlug] = struct{}{}
		return
	}
	sc.Devices[categorySlug] = struct{}{}
}

// AddCenterMetro interns the metro by title and links the center to it.
func (r *Registry) AddCenterMetro(sc *ServiceCenter, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metros[title] = struct{}{}
	sc.Metros[title] = struct{}{}
}

// AddCenterAdvantage interns the advantage by title and links the center.
func (r *Registry) AddCenterAdvantage(sc *ServiceCenter, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advantages[title] = struct{}{}
	sc.Advantages[title] = struct{}{}
}

// AddCenterFeature interns the feature by title and links the center.
func (r *Registry) AddCenterFeature(sc *ServiceCenter, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[title] = struct{}{}
	sc.Features[title] = struct{}{}
}

// AddBrandToDevice records the brand↔device relationship.
func (r *Registry) AddBrandToDevice(device *Category, brandSlug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device.Brands[brandSlug] = struct{}{}
}

// AddService records one price-table row scoped to a device category.
// Re-adding a title is a no-op, first price wins.
func (r *Registry) AddService(device *Category, title, price string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := device.Services[title]; ok {
		return
	}
	device.Services[title] = &Service{Title: title, Price: price}
}

// AddLocation records a center location keyed by (metro, address).
func (r *Registry) AddLocation(sc *ServiceCenter, loc Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metros[loc.Metro] = struct{}{}
	if _, ok := sc.Locations[loc.Key()]; ok {
		return
	}
	l := loc
	sc.Locations[loc.Key()] = &l
}

// AddOpeningHour records a schedule entry keyed by the weekday range.
func (r *Registry) AddOpeningHour(sc *ServiceCenter, hour OpeningHour) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := sc.OpeningHours[hour.Key()]; ok {
		return
	}
	h := hour
	sc.OpeningHours[hour.Key()] = &h
}

// AddGalleryImage records a mirrored gallery asset reference.
func (r *Registry) AddGalleryImage(sc *ServiceCenter, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc.Gallery[ref] = struct{}{}
}

// SetPrimaryAddress stores the listing-card address hint once.
func (r *Registry) SetPrimaryAddress(sc *ServiceCenter, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc.PrimaryAddress == nil {
		sc.PrimaryAddress = &address
	}
}

// ApplyCenterDetails merges detail-page scalar facts into the center. The
// detail-page heading is authoritative for Title and replaces the listing
// card's; the remaining scalars are set-if-absent so a replayed enrichment
// cannot clobber values.
func (r *Registry) ApplyCenterDetails(sc *ServiceCenter, d CenterDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Title != nil {
		sc.Title = *d.Title
	}
	setIfAbsent(&sc.Phone, d.Phone)
	setIfAbsent(&sc.Slogan, d.Slogan)
	setIfAbsent(&sc.Logo, d.Logo)
	setIfAbsent(&sc.SiteURL, d.SiteURL)
	setIfAbsent(&sc.Description, d.Description)
}

func setIfAbsent(dst **string, src *string) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}

// Centers returns all service centers ordered by slug. Call only after
// traversal completes; the snapshot is read-only by convention.
func (r *Registry) Centers() []*ServiceCenter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ServiceCenter, 0, len(r.centers))
	for _, sc := range r.centers {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Categories returns all categories of the given kind ordered by slug.
func (r *Registry) Categories(kind CategoryKind) []*Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKind := r.categories(kind)
	out := make([]*Category, 0, len(byKind))
	for _, c := range byKind {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Metros returns all interned metro titles, sorted.
func (r *Registry) Metros() []string {
	return r.sortedTitles(r.metros)
}

// Advantages returns all interned advantage titles, sorted.
func (r *Registry) Advantages() []string {
	return r.sortedTitles(r.advantages)
}

// Features returns all interned feature titles, sorted.
func (r *Registry) Features() []string {
	return r.sortedTitles(r.features)
}

func (r *Registry) sortedTitles(set map[string]struct{}) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(set))
	for title := range set {
		out = append(out, title)
	}
	sort.Strings(out)
	return out
}
