package store

// Schema statements, one table each. Every uniqueness constraint here is the
// conflict target of the corresponding idempotent insert, so repeated runs
// over unchanged source data produce no duplicate rows and no errors.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS service_centers (
		id BIGSERIAL PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		phone TEXT,
		slogan TEXT,
		logo TEXT,
		site_url TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS brands (
		id BIGSERIAL PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		is_popular BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id BIGSERIAL PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metros (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS advantages (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS features (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS locations (
		id BIGSERIAL PRIMARY KEY,
		service_center_id BIGINT NOT NULL,
		metro_id BIGINT NOT NULL,
		address TEXT NOT NULL,
		coords TEXT,
		is_primary BOOLEAN NOT NULL,
		UNIQUE (service_center_id, metro_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS opening_hours (
		id BIGSERIAL PRIMARY KEY,
		service_center_id BIGINT NOT NULL,
		weekday_from SMALLINT NOT NULL,
		weekday_to SMALLINT NOT NULL,
		time_from TEXT,
		time_to TEXT,
		UNIQUE (service_center_id, weekday_from, weekday_to)
	)`,
	`CREATE TABLE IF NOT EXISTS gallery_images (
		id BIGSERIAL PRIMARY KEY,
		service_center_id BIGINT NOT NULL,
		image TEXT,
		UNIQUE (service_center_id, image)
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id BIGSERIAL PRIMARY KEY,
		device_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		price TEXT NOT NULL,
		UNIQUE (device_id, title)
	)`,
	`CREATE TABLE IF NOT EXISTS advantage_service_center (
		advantage_id BIGINT,
		service_center_id BIGINT,
		PRIMARY KEY (advantage_id, service_center_id)
	)`,
	`CREATE TABLE IF NOT EXISTS brand_service_center (
		brand_id BIGINT,
		service_center_id BIGINT,
		PRIMARY KEY (brand_id, service_center_id)
	)`,
	`CREATE TABLE IF NOT EXISTS device_service_center (
		device_id BIGINT,
		service_center_id BIGINT,
		PRIMARY KEY (device_id, service_center_id)
	)`,
	`CREATE TABLE IF NOT EXISTS metro_service_center (
		metro_id BIGINT,
		service_center_id BIGINT,
		PRIMARY KEY (metro_id, service_center_id)
	)`,
	`CREATE TABLE IF NOT EXISTS feature_service_center (
		feature_id BIGINT,
		service_center_id BIGINT,
		PRIMARY KEY (feature_id, service_center_id)
	)`,
	`CREATE TABLE IF NOT EXISTS brand_device (
		brand_id BIGINT,
		device_id BIGINT,
		PRIMARY KEY (brand_id, device_id)
	)`,
}
