package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// Cycles are stored as whole JSON documents with a version counter for
// compare-and-swap; phase, due_at and refunds_pending are denormalized
// columns so the sweep can find work without unmarshalling every document.
const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    due_at INTEGER NOT NULL DEFAULT 0,
    refunds_pending INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_cycles_open_group
    ON cycles(group_id) WHERE phase IN ('collecting', 'payment_window');

CREATE INDEX IF NOT EXISTS idx_cycles_due ON cycles(due_at) WHERE due_at > 0;

CREATE INDEX IF NOT EXISTS idx_cycles_refunds_pending
    ON cycles(refunds_pending) WHERE refunds_pending = 1;

CREATE TABLE IF NOT EXISTS payments (
    gateway_order_id TEXT PRIMARY KEY,
    payment_id TEXT NOT NULL DEFAULT '',
    signature TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    cycle_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    amount_minor INTEGER NOT NULL,
    currency TEXT NOT NULL,
    receipt TEXT NOT NULL,
    refund_id TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_payment_id ON payments(payment_id);
CREATE INDEX IF NOT EXISTS idx_payments_cycle_id ON payments(cycle_id);

CREATE TABLE IF NOT EXISTS processed_events (
    key TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    cycle_id TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_cycle_id ON audit_log(cycle_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
