package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_ref       TEXT PRIMARY KEY,
		invoice_id      TEXT NOT NULL,
		country         TEXT NOT NULL,
		brand           TEXT NOT NULL,
		model           TEXT NOT NULL,
		network         TEXT NOT NULL,
		imei            CHAR(15) NOT NULL,
		serial_number   TEXT NOT NULL,
		mobile_number   TEXT NOT NULL DEFAULT '',
		email           TEXT NOT NULL,
		terms_accepted  BOOLEAN NOT NULL,
		amount          NUMERIC(10,2) NOT NULL CHECK (amount > 0),
		currency        CHAR(3) NOT NULL,
		payment_id      TEXT,
		payment_status  TEXT NOT NULL DEFAULT 'Pending'
			CHECK (payment_status IN ('Pending', 'Success', 'Failed')),
		payment_time    TIMESTAMPTZ,
		payment_method  TEXT NOT NULL,
		delivery_time   TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_imei_idx ON orders (imei)`,
	`CREATE INDEX IF NOT EXISTS orders_pending_idx ON orders (created_at) WHERE payment_status = 'Pending'`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id          UUID PRIMARY KEY,
		order_ref   TEXT NOT NULL,
		capture_id  TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL,
		method      TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL,
		event_id    TEXT NOT NULL DEFAULT '',
		applied     BOOLEAN NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS settlements_order_ref_idx ON settlements (order_ref)`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
