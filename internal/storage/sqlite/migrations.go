package sqlite

import "database/sql"

// schema sets up the snapshot tables. These run on startup to ensure tables exist.
// Amounts are TEXT so decimals survive without rounding.
// Bills keep no foreign key to users: deleting a user leaves their bills.
const schema = `
CREATE TABLE IF NOT EXISTS meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version TEXT NOT NULL,
    created TEXT NOT NULL,
    modified TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL DEFAULT '',
    balance TEXT
);

CREATE TABLE IF NOT EXISTS payment_modes (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bills (
    id INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    total_amount TEXT NOT NULL,
    payer_id INTEGER NOT NULL,
    occurred_at INTEGER NOT NULL,
    recurrence TEXT NOT NULL DEFAULT '',
    payment_mode_id INTEGER,
    category_id INTEGER,
    comment TEXT NOT NULL DEFAULT '',
    attachment_ref TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bill_splits (
    id INTEGER PRIMARY KEY,
    bill_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    amount TEXT NOT NULL,
    FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_bill_splits_bill_id ON bill_splits(bill_id);
CREATE INDEX IF NOT EXISTS idx_bills_payer_id ON bills(payer_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
