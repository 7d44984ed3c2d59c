package db

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the engine's tables if they do not exist. Benefits
// and merchants are owned by the catalog and directory services; the tables
// here are the read replicas this engine queries plus the ledger tables it
// writes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS merchants (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			lat  DOUBLE PRECISION NOT NULL,
			lng  DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS benefits (
			id                TEXT PRIMARY KEY,
			merchant_id       TEXT NOT NULL REFERENCES merchants(id),
			title             TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'ACTIVE',
			valid_from        TIMESTAMPTZ NOT NULL,
			valid_to          TIMESTAMPTZ NOT NULL,
			geo_radius_meters DOUBLE PRECISION NOT NULL DEFAULT 150,
			total_limit       INTEGER,
			daily_limit       INTEGER,
			user_limit        INTEGER,
			student_only      BOOLEAN NOT NULL DEFAULT FALSE,
			CHECK (valid_from < valid_to),
			CHECK (geo_radius_meters >= 0 AND geo_radius_meters <= 1000)
		)`,
		`CREATE TABLE IF NOT EXISTS benefit_time_windows (
			benefit_id  TEXT NOT NULL REFERENCES benefits(id),
			day_of_week SMALLINT NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
			start_time  TEXT NOT NULL,
			end_time    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS benefit_blackout_dates (
			benefit_id    TEXT NOT NULL REFERENCES benefits(id),
			blackout_date DATE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			id         TEXT PRIMARY KEY,
			benefit_id TEXT NOT NULL REFERENCES benefits(id),
			user_id    TEXT NOT NULL,
			token      TEXT NOT NULL UNIQUE,
			pin        TEXT NOT NULL,
			issued_at  TIMESTAMPTZ NOT NULL,
			expire_at  TIMESTAMPTZ NOT NULL,
			redeemed_at TIMESTAMPTZ,
			device_id  TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT ''
		)`,
		// Serves the pending-coupon counts and the merchant-scoped PIN
		// lookup; only pending rows are indexed.
		`CREATE INDEX IF NOT EXISTS idx_coupons_pending
			ON coupons (benefit_id, user_id, expire_at)
			WHERE redeemed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_coupons_pin
			ON coupons (pin)
			WHERE redeemed_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS quota_counters (
			benefit_id TEXT NOT NULL,
			scope      TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (benefit_id, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS redemption_records (
			id          TEXT PRIMARY KEY,
			coupon_id   TEXT NOT NULL UNIQUE REFERENCES coupons(id),
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			redeemed_by TEXT NOT NULL DEFAULT '',
			lat         DOUBLE PRECISION,
			lng         DOUBLE PRECISION,
			device_id   TEXT NOT NULL DEFAULT '',
			ip_address  TEXT NOT NULL DEFAULT '',
			redeemed_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
