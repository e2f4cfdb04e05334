// internal/db/db.go
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(url string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS upload_sessions (
		id          UUID PRIMARY KEY,
		addresses   TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at  TIMESTAMPTZ NOT NULL,
		consumed_by UUID
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id                UUID PRIMARY KEY,
		upload_session_id UUID NOT NULL,
		payment_reference TEXT NOT NULL UNIQUE,
		service_level     TEXT NOT NULL,
		email             TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'pending',
		total_count       INT NOT NULL,
		success_count     INT NOT NULL DEFAULT 0,
		failed_count      INT NOT NULL DEFAULT 0,
		attempt_count     INT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at      TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id                UUID PRIMARY KEY,
		campaign_id       UUID NOT NULL REFERENCES campaigns(id),
		position          INT NOT NULL,
		input_address     TEXT NOT NULL,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		error             TEXT NOT NULL DEFAULT '',
		address_full      TEXT,
		address_street    TEXT,
		city              TEXT,
		state             TEXT,
		zip               TEXT,
		county            TEXT,
		latitude          DOUBLE PRECISION,
		longitude         DOUBLE PRECISION,
		image_urls        TEXT[],
		capture_date      TEXT,
		pano_id           TEXT,
		imagery_stale     BOOLEAN NOT NULL DEFAULT false,
		scores            TEXT,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (campaign_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_campaign ON properties (campaign_id, position)`,
	`CREATE TABLE IF NOT EXISTS leases (
		key        TEXT PRIMARY KEY,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent so every process
// can run this at startup.
func Migrate(conn *sql.DB) error {
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
