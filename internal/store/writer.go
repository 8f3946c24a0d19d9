// Package store persists the entity graph into Postgres. Writes run in three
// dependency-ordered phases, each committed on its own, and every insert
// carries ON CONFLICT DO NOTHING against the table's declared uniqueness
// constraint so repeated runs converge instead of duplicating rows.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dkoval/servicecenter-crawler/internal/catalog"
	"github.com/dkoval/servicecenter-crawler/internal/metrics"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the writer needs; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Writer flushes a completed crawl registry into the relational store.
type Writer struct {
	db     DB
	logger *zap.Logger
}

// NewWriter connects a pgx pool using the provided config.
func NewWriter(ctx context.Context, cfg Config, logger *zap.Logger) (*Writer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Writer{db: pool, logger: logger}, nil
}

// NewWriterWithDB constructs a writer from an existing pool (primarily for
// testing).
func NewWriterWithDB(db DB, logger *zap.Logger) (*Writer, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Writer{db: db, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (w *Writer) Close() {
	if w == nil || w.db == nil {
		return
	}
	w.db.Close()
}

// EnsureSchema creates all tables and their uniqueness constraints.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := w.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Persist writes the registry snapshot in dependency order: independent
// entity tables, then service centers, then everything holding foreign keys.
// Each phase commits on its own; a failed phase aborts only itself.
func (w *Writer) Persist(ctx context.Context, reg *catalog.Registry) error {
	if err := w.phase(ctx, "independent entities", func(tx pgx.Tx) error {
		return w.writeIndependent(ctx, tx, reg)
	}); err != nil {
		return err
	}

	if err := w.phase(ctx, "service centers", func(tx pgx.Tx) error {
		return w.writeServiceCenters(ctx, tx, reg)
	}); err != nil {
		return err
	}

	ids, err := w.resolveIDs(ctx)
	if err != nil {
		return err
	}

	return w.phase(ctx, "relationships", func(tx pgx.Tx) error {
		return w.writeDependent(ctx, tx, reg, ids)
	})
}

func (w *Writer) phase(ctx context.Context, name string, fn func(pgx.Tx) error) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s phase: %w", name, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			w.logger.Warn("phase rollback failed", zap.String("phase", name), zap.Error(rbErr))
		}
		return fmt.Errorf("%s phase: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s phase: %w", name, err)
	}
	w.logger.Info("phase committed", zap.String("phase", name))
	return nil
}

func (w *Writer) writeIndependent(ctx context.Context, tx pgx.Tx, reg *catalog.Registry) error {
	for _, brand := range reg.Categories(catalog.KindBrand) {
		tag, err := tx.Exec(ctx,
			`INSERT INTO brands (slug, title, is_popular) VALUES ($1, $2, $3)
			 ON CONFLICT (slug) DO NOTHING`,
			brand.Slug, brand.Title, brand.IsPopular,
		)
		if err != nil {
			return fmt.Errorf("insert brand %s: %w", brand.Slug, err)
		}
		metrics.RowsWritten("brands", int(tag.RowsAffected()))
	}

	for _, device := range reg.Categories(catalog.KindDevice) {
		tag, err := tx.Exec(ctx,
			`INSERT INTO devices (slug, title) VALUES ($1, $2)
			 ON CONFLICT (slug) DO NOTHING`,
			device.Slug, device.Title,
		)
		if err != nil {
			return fmt.Errorf("insert device %s: %w", device.Slug, err)
		}
		metrics.RowsWritten("devices", int(tag.RowsAffected()))
	}

	titleTables := []struct {
		table  string
		titles []string
	}{
		{"metros", reg.Metros()},
		{"advantages", reg.Advantages()},
		{"features", reg.Features()},
	}
	for _, tt := range titleTables {
		for _, title := range tt.titles {
			tag, err := tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (title) VALUES ($1)
				 ON CONFLICT (title) DO NOTHING`, tt.table),
				title,
			)
			if err != nil {
				return fmt.Errorf("insert into %s: %w", tt.table, err)
			}
			metrics.RowsWritten(tt.table, int(tag.RowsAffected()))
		}
	}
	return nil
}

func (w *Writer) writeServiceCenters(ctx context.Context, tx pgx.Tx, reg *catalog.Registry) error {
	for _, sc := range reg.Centers() {
		tag, err := tx.Exec(ctx,
			`INSERT INTO service_centers
			 (slug, title, phone, slogan, logo, site_url, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (slug) DO NOTHING`,
			sc.Slug, sc.Title, sc.Phone, sc.Slogan, sc.Logo, sc.SiteURL, sc.Description,
		)
		if err != nil {
			return fmt.Errorf("insert service center %s: %w", sc.Slug, err)
		}
		metrics.RowsWritten("service_centers", int(tag.RowsAffected()))
	}
	return nil
}

// idMaps holds the natural-key → surrogate-id resolution read back from the
// store after the entity phases commit.
type idMaps struct {
	centers    map[string]int64
	brands     map[string]int64
	devices    map[string]int64
	metros     map[string]int64
	advantages map[string]int64
	features   map[string]int64
}

func (w *Writer) resolveIDs(ctx context.Context) (idMaps, error) {
	var (
		ids idMaps
		err error
	)
	if ids.centers, err = w.idsBy(ctx, "service_centers", "slug"); err != nil {
		return idMaps{}, err
	}
	if ids.brands, err = w.idsBy(ctx, "brands", "slug"); err != nil {
		return idMaps{}, err
	}
	if ids.devices, err = w.idsBy(ctx, "devices", "slug"); err != nil {
		return idMaps{}, err
	}
	if ids.metros, err = w.idsBy(ctx, "metros", "title"); err != nil {
		return idMaps{}, err
	}
	if ids.advantages, err = w.idsBy(ctx, "advantages", "title"); err != nil {
		return idMaps{}, err
	}
	if ids.features, err = w.idsBy(ctx, "features", "title"); err != nil {
		return idMaps{}, err
	}
	return ids, nil
}

// idsBy builds the natural-key → surrogate-id map for one table.
func (w *Writer) idsBy(ctx context.Context, table, keyColumn string) (map[string]int64, error) {
	if !validIdentifier.MatchString(table) || !validIdentifier.MatchString(keyColumn) {
		return nil, fmt.Errorf("invalid identifier %q.%q", table, keyColumn)
	}
	rows, err := w.db.Query(ctx, fmt.Sprintf("SELECT id, %s FROM %s", keyColumn, table))
	if err != nil {
		return nil, fmt.Errorf("read back %s ids: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scan %s id row: %w", table, err)
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s id rows: %w", table, err)
	}
	return out, nil
}

func (w *Writer) writeDependent(ctx context.Context, tx pgx.Tx, reg *catalog.Registry, ids idMaps) error {
	for _, sc := range reg.Centers() {
		centerID, ok := ids.centers[sc.Slug]
		if !ok {
			// The center row itself never landed; every dependent row of
			// this center is unresolvable.
			w.skip("service_centers", sc.Slug)
			continue
		}

		if err := w.writeCenterRows(ctx, tx, sc, centerID, ids); err != nil {
			return err
		}
	}

	for _, device := range reg.Categories(catalog.KindDevice) {
		deviceID, ok := ids.devices[device.Slug]
		if !ok {
			w.skip("devices", device.Slug)
			continue
		}
		if err := w.writeDeviceRows(ctx, tx, device, deviceID, ids); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeCenterRows(
	ctx context.Context,
	tx pgx.Tx,
	sc *catalog.ServiceCenter,
	centerID int64,
	ids idMaps,
) error {
	for _, key := range sortedLocationKeys(sc.Locations) {
		loc := sc.Locations[key]
		metroID, ok := ids.metros[loc.Metro]
		if !ok {
			w.skip("locations", loc.Metro)
			continue
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO locations (service_center_id, metro_id, address, coords, is_primary)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (service_center_id, metro_id, address) DO NOTHING`,
			centerID, metroID, loc.Address, loc.Coords, loc.IsPrimary,
		)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
		metrics.RowsWritten("locations", int(tag.RowsAffected()))
	}

	for _, key := range sortedHourKeys(sc.OpeningHours) {
		hour := sc.OpeningHours[key]
		tag, err := tx.Exec(ctx,
			`INSERT INTO opening_hours
			 (service_center_id, weekday_from, weekday_to, time_from, time_to)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (service_center_id, weekday_from, weekday_to) DO NOTHING`,
			centerID, hour.WeekdayFrom, hour.WeekdayTo, hour.TimeFrom, hour.TimeTo,
		)
		if err != nil {
			return fmt.Errorf("insert opening hour: %w", err)
		}
		metrics.RowsWritten("opening_hours", int(tag.RowsAffected()))
	}

	for _, image := range sortedKeys(sc.Gallery) {
		tag, err := tx.Exec(ctx,
			`INSERT INTO gallery_images (service_center_id, image) VALUES ($1, $2)
			 ON CONFLICT (service_center_id, image) DO NOTHING`,
			centerID, image,
		)
		if err != nil {
			return fmt.Errorf("insert gallery image: %w", err)
		}
		metrics.RowsWritten("gallery_images", int(tag.RowsAffected()))
	}

	junctions := []struct {
		table   string
		column  string
		targets map[string]struct{}
		lookup  map[string]int64
	}{
		{"advantage_service_center", "advantage_id", sc.Advantages, ids.advantages},
		{"brand_service_center", "brand_id", sc.Brands, ids.brands},
		{"device_service_center", "device_id", sc.Devices, ids.devices},
		{"metro_service_center", "metro_id", sc.Metros, ids.metros},
		{"feature_service_center", "feature_id", sc.Features, ids.features},
	}
	for _, j := range junctions {
		for _, key := range sortedKeys(j.targets) {
			targetID, ok := j.lookup[key]
			if !ok {
				w.skip(j.table, key)
				continue
			}
			tag, err := tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (%s, service_center_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`, j.table, j.column),
				targetID, centerID,
			)
			if err != nil {
				return fmt.Errorf("insert into %s: %w", j.table, err)
			}
			metrics.RowsWritten(j.table, int(tag.RowsAffected()))
		}
	}
	return nil
}

func (w *Writer) writeDeviceRows(
	ctx context.Context,
	tx pgx.Tx,
	device *catalog.Category,
	deviceID int64,
	ids idMaps,
) error {
	for _, title := range sortedServiceTitles(device.Services) {
		service := device.Services[title]
		tag, err := tx.Exec(ctx,
			`INSERT INTO services (device_id, title, price) VALUES ($1, $2, $3)
			 ON CONFLICT (device_id, title) DO NOTHING`,
			deviceID, service.Title, service.Price,
		)
		if err != nil {
			return fmt.Errorf("insert service: %w", err)
		}
		metrics.RowsWritten("services", int(tag.RowsAffected()))
	}

	for _, brandSlug := range sortedKeys(device.Brands) {
		brandID, ok := ids.brands[brandSlug]
		if !ok {
			w.skip("brand_device", brandSlug)
			continue
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO brand_device (brand_id, device_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			brandID, deviceID,
		)
		if err != nil {
			return fmt.Errorf("insert brand_device: %w", err)
		}
		metrics.RowsWritten("brand_device", int(tag.RowsAffected()))
	}
	return nil
}

// skip drops one relationship row whose natural key never resolved. This is
// expected when a field failed extraction upstream; it must not fail the run.
func (w *Writer) skip(table, key string) {
	metrics.RowSkipped(table)
	w.logger.Warn("skipping row with unresolved key",
		zap.String("table", table),
		zap.String("key", key),
	)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedServiceTitles(services map[string]*catalog.Service) []string {
	out := make([]string, 0, len(services))
	for title := range services {
		out = append(out, title)
	}
	sort.Strings(out)
	return out
}

func sortedLocationKeys(locations map[catalog.LocationKey]*catalog.Location) []catalog.LocationKey {
	out := make([]catalog.LocationKey, 0, len(locations))
	for k := range locations {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metro != out[j].Metro {
			return out[i].Metro < out[j].Metro
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func sortedHourKeys(hours map[catalog.OpeningHourKey]*catalog.OpeningHour) []catalog.OpeningHourKey {
	out := make([]catalog.OpeningHourKey, 0, len(hours))
	for k := range hours {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WeekdayFrom != out[j].WeekdayFrom {
			return out[i].WeekdayFrom < out[j].WeekdayFrom
		}
		return out[i].WeekdayTo < out[j].WeekdayTo
	})
	return out
}
