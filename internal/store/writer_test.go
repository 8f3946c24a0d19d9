package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkoval/servicecenter-crawler/internal/catalog"
)

func strPtr(s string) *string { return &s }

// sampleRegistry builds a small but fully connected entity graph: one device,
// one popular brand, one center with a location, schedule, gallery image and
// every junction populated.
func sampleRegistry(t *testing.T) *catalog.Registry {
	t.Helper()

	reg := catalog.NewRegistry()

	device, created := reg.UpsertCategory(catalog.KindDevice, "Ремонт телефонов")
	require.True(t, created)
	brand, _ := reg.UpsertCategory(catalog.KindBrand, "Apple")
	require.True(t, reg.MarkBrandPopular("Apple"))
	reg.AddBrandToDevice(device, brand.Slug)
	reg.AddService(device, "Замена экрана", "1500")

	sc, created := reg.UpsertServiceCenter("Сервис Мастер")
	require.True(t, created)
	reg.AddCenterCategory(sc, catalog.KindDevice, device.Slug)
	reg.AddCenterCategory(sc, catalog.KindBrand, brand.Slug)
	reg.AddCenterMetro(sc, "Озерки")
	reg.AddCenterAdvantage(sc, "Гарантия до года")
	reg.AddCenterFeature(sc, "Выезд мастера")
	reg.AddLocation(sc, catalog.Location{
		Metro:     "Озерки",
		Address:   "пр. Энгельса, 111",
		Coords:    strPtr("60.0511, 30.3327"),
		IsPrimary: true,
	})
	reg.AddOpeningHour(sc, catalog.OpeningHour{
		WeekdayFrom: 1,
		WeekdayTo:   5,
		TimeFrom:    strPtr("09:00"),
		TimeTo:      strPtr("18:00"),
	})
	reg.AddGalleryImage(sc, "gallery/master-1.jpg")
	reg.ApplyCenterDetails(sc, catalog.CenterDetails{
		Title: strPtr("Мастер"),
		Phone: strPtr("78121234567"),
	})

	return reg
}

func newMockWriter(t *testing.T) (pgxmock.PgxPoolIface, *Writer) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	w, err := NewWriterWithDB(mock, zap.NewNop())
	require.NoError(t, err)
	return mock, w
}

func expectIDReadback(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("SELECT id, slug FROM service_centers").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}).AddRow(int64(10), "servis-master"))
	mock.ExpectQuery("SELECT id, slug FROM brands").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}).AddRow(int64(20), "apple"))
	mock.ExpectQuery("SELECT id, slug FROM devices").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}).AddRow(int64(30), "remont-telefonov"))
	mock.ExpectQuery("SELECT id, title FROM metros").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}).AddRow(int64(40), "Озерки"))
	mock.ExpectQuery("SELECT id, title FROM advantages").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}).AddRow(int64(50), "Гарантия до года"))
	mock.ExpectQuery("SELECT id, title FROM features").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}).AddRow(int64(60), "Выезд мастера"))
}

func TestPersistWritesDependencyOrderedPhases(t *testing.T) {
	t.Parallel()

	mock, w := newMockWriter(t)
	reg := sampleRegistry(t)

	ins := pgxmock.NewResult("INSERT", 1)

	// Phase 1: entities without foreign keys.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO brands").
		WithArgs("apple", "Apple", true).
		WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO devices").
		WithArgs("remont-telefonov", "Ремонт телефонов").
		WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO metros").WithArgs("Озерки").WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO advantages").WithArgs("Гарантия до года").WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO features").WithArgs("Выезд мастера").WillReturnResult(ins)
	mock.ExpectCommit()

	// Phase 2: service centers.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO service_centers").
		WithArgs("servis-master", "Мастер", strPtr("78121234567"),
			(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil)).
		WillReturnResult(ins)
	mock.ExpectCommit()

	expectIDReadback(mock)

	// Phase 3: rows holding foreign keys, resolved through the read-back maps.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO locations").
		WithArgs(int64(10), int64(40), "пр. Энгельса, 111", strPtr("60.0511, 30.3327"), true).
		WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO opening_hours").
		WithArgs(int64(10), 1, 5, strPtr("09:00"), strPtr("18:00")).
		WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO gallery_images").
		WithArgs(int64(10), "gallery/master-1.jpg").
		WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO advantage_service_center").
		WithArgs(int64(50), int64(10)).WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO brand_service_center").
		WithArgs(int64(20), int64(10)).WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO device_service_center").
		WithArgs(int64(30), int64(10)).WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO metro_service_center").
		WithArgs(int64(40), int64(10)).WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO feature_service_center").
		WithArgs(int64(60), int64(10)).WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO services").
		WithArgs(int64(30), "Замена экрана", "1500").
		WillReturnResult(ins)
	mock.ExpectExec("INSERT INTO brand_device").
		WithArgs(int64(20), int64(30)).WillReturnResult(ins)
	mock.ExpectCommit()

	require.NoError(t, w.Persist(context.Background(), reg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistSkipsRowsWithUnresolvedKeys(t *testing.T) {
	t.Parallel()

	mock, w := newMockWriter(t)

	reg := catalog.NewRegistry()
	sc, _ := reg.UpsertServiceCenter("Сервис Мастер")
	reg.AddCenterMetro(sc, "Озерки")
	reg.AddLocation(sc, catalog.Location{Metro: "Озерки", Address: "пр. Энгельса, 111"})

	ins := pgxmock.NewResult("INSERT", 1)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metros").WithArgs("Озерки").WillReturnResult(ins)
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO service_centers").
		WithArgs("servis-master", "Сервис Мастер",
			(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil)).
		WillReturnResult(ins)
	mock.ExpectCommit()

	// The metro read-back comes up empty, so the location and the metro
	// junction have no id to reference and must be skipped, not fail.
	mock.ExpectQuery("SELECT id, slug FROM service_centers").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}).AddRow(int64(10), "servis-master"))
	mock.ExpectQuery("SELECT id, slug FROM brands").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}))
	mock.ExpectQuery("SELECT id, slug FROM devices").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}))
	mock.ExpectQuery("SELECT id, title FROM metros").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}))
	mock.ExpectQuery("SELECT id, title FROM advantages").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}))
	mock.ExpectQuery("SELECT id, title FROM features").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}))

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, w.Persist(context.Background(), reg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRollsBackFailedPhase(t *testing.T) {
	t.Parallel()

	mock, w := newMockWriter(t)

	reg := catalog.NewRegistry()
	reg.UpsertCategory(catalog.KindBrand, "Apple")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO brands").
		WithArgs("apple", "Apple", false).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := w.Persist(context.Background(), reg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "independent entities phase")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaExecutesEveryStatement(t *testing.T) {
	t.Parallel()

	mock, w := newMockWriter(t)

	for range schemaStatements {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	}

	require.NoError(t, w.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIDsByRejectsInvalidIdentifiers(t *testing.T) {
	t.Parallel()

	_, w := newMockWriter(t)

	_, err := w.idsBy(context.Background(), "brands; DROP TABLE brands", "slug")
	require.Error(t, err)

	_, err = w.idsBy(context.Background(), "brands", "slug--")
	require.Error(t, err)
}

func TestNewWriterWithDBRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWriterWithDB(nil, zap.NewNop())
	require.Error(t, err)
}
