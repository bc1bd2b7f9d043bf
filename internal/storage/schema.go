package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS spreads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pair TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	price_a REAL NOT NULL,
	price_b REAL NOT NULL,
	spread REAL NOT NULL,
	z REAL NOT NULL,
	mean REAL NOT NULL,
	std REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spreads_pair_ts ON spreads(pair, ts_ms);

CREATE TABLE IF NOT EXISTS admin_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	json TEXT NOT NULL
);
`

// expectedColumns lists every nullable column a complete schema carries,
// beyond the NOT NULL core created above. New releases only ever add to
// this list (spec §9 "Schema evolution").
var expectedColumns = []string{
	"ema", "center_dev",
	"ob_spread_a", "ob_spread_b", "ob_spread_pct_a", "ob_spread_pct_b",
	"vol_a", "vol_b",
	"depth_qty_a", "depth_qty_b", "depth_notional_a", "depth_notional_b",
	"maker_fee_a", "taker_fee_a", "maker_fee_b", "taker_fee_b",
	"fr_a", "fr_b", "fr_countdown_ms",
	"half_life_s", "t_exit_s",
	"advice",
	"net_funding_cycle_usd", "expect_funding_next_usd",
	"age_a_ms", "age_b_ms", "skew_ms", "latency_ms", "stale",
}

// columnType returns the SQL type ensureSchema adds a missing column as:
// advice is the only text column, everything else is numeric.
func columnType(col string) string {
	if col == "advice" {
		return "TEXT"
	}
	return "REAL"
}

// ensureSchema creates the base tables if absent, then adds any column in
// expectedColumns missing from the live `spreads` table (spec §4.5
// "self-migrate"). Safe to call on every insert: PRAGMA table_info is
// cheap and ALTER TABLE ADD COLUMN only runs for columns that are absent.
func ensureSchema(db *sqlx.DB) error {
	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("storage: create tables: %w", err)
	}

	existing, err := tableColumns(db, "spreads")
	if err != nil {
		return fmt.Errorf("storage: inspect schema: %w", err)
	}

	for _, col := range expectedColumns {
		if existing[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE spreads ADD COLUMN %s %s", col, columnType(col))
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: add column %s: %w", col, err)
		}
	}
	return nil
}

func tableColumns(db *sqlx.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			dfltValue  interface{}
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
