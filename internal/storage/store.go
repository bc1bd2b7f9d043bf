package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog/log"
)

const sampleColumns = `pair, ts_ms, price_a, price_b, spread, z, mean, std,
	ema, center_dev,
	ob_spread_a, ob_spread_b, ob_spread_pct_a, ob_spread_pct_b,
	vol_a, vol_b,
	depth_qty_a, depth_qty_b, depth_notional_a, depth_notional_b,
	maker_fee_a, taker_fee_a, maker_fee_b, taker_fee_b,
	fr_a, fr_b, fr_countdown_ms,
	half_life_s, t_exit_s,
	advice,
	net_funding_cycle_usd, expect_funding_next_usd,
	age_a_ms, age_b_ms, skew_ms, latency_ms, stale`

const insertSQL = `INSERT INTO spreads (` + sampleColumns + `) VALUES (
	:pair, :ts_ms, :price_a, :price_b, :spread, :z, :mean, :std,
	:ema, :center_dev,
	:ob_spread_a, :ob_spread_b, :ob_spread_pct_a, :ob_spread_pct_b,
	:vol_a, :vol_b,
	:depth_qty_a, :depth_qty_b, :depth_notional_a, :depth_notional_b,
	:maker_fee_a, :taker_fee_a, :maker_fee_b, :taker_fee_b,
	:fr_a, :fr_b, :fr_countdown_ms,
	:half_life_s, :t_exit_s,
	:advice,
	:net_funding_cycle_usd, :expect_funding_next_usd,
	:age_a_ms, :age_b_ms, :skew_ms, :latency_ms, :stale
)`

// Store is the append-only sample store and single-row admin-config blob
// described by spec §4.5, backed by a pure-Go SQLite driver. Writes are
// commit-per-call; the expected rate (a handful per pair per second) makes
// that acceptable (spec §4.5).
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	cache   Cache
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCache attaches a read-through cache in front of Pairs/LatestAll —
// the two read paths every dashboard poll hits. Insert always invalidates
// the corresponding cache entries, so a cache miss never serves stale data
// beyond the configured TTL.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithTimeout overrides the per-call context timeout (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// Open opens (creating if absent) the SQLite database at path, ensures the
// schema, and returns a ready Store.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, timeout: 5 * time.Second, cache: noopCache{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists one Sample, self-migrating the schema first in case an
// older binary's table is missing newer nullable columns (spec §4.5, §8
// property 9).
func (s *Store) Insert(ctx context.Context, sample Sample) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := ensureSchema(s.db); err != nil {
		return err
	}

	if _, err := s.db.NamedExecContext(ctx, insertSQL, sample); err != nil {
		return fmt.Errorf("storage: insert sample: %w", err)
	}

	s.cache.Del(cacheKeyPairs())
	s.cache.Del(cacheKeyLatestAll())
	return nil
}

// Spreads returns up to limit samples for pair, newest-first (spec §4.5).
// The ingestion HTTP layer reverses this to ascending order per spec §4.6.
func (s *Store) Spreads(ctx context.Context, pair string, limit int) ([]Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + sampleColumns + ` FROM spreads WHERE pair = ? ORDER BY ts_ms DESC LIMIT ?`
	var out []Sample
	if err := s.db.SelectContext(ctx, &out, query, pair, limit); err != nil {
		return nil, fmt.Errorf("storage: spreads(%s): %w", pair, err)
	}
	return out, nil
}

// Pairs returns the distinct pair names that have at least one sample,
// sorted ascending.
func (s *Store) Pairs(ctx context.Context) ([]string, error) {
	if b, ok := s.cache.Get(cacheKeyPairs()); ok {
		var pairs []string
		if err := json.Unmarshal(b, &pairs); err == nil {
			return pairs, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var pairs []string
	err := s.db.SelectContext(ctx, &pairs, `SELECT DISTINCT pair FROM spreads ORDER BY pair`)
	if err != nil {
		return nil, fmt.Errorf("storage: pairs: %w", err)
	}

	if b, err := json.Marshal(pairs); err == nil {
		s.cache.Set(cacheKeyPairs(), b, 2*time.Second)
	}
	return pairs, nil
}

const latestAllSQL = `SELECT
	t.pair, t.ts_ms, t.price_a, t.price_b, t.spread, t.z, t.mean, t.std,
	t.ema, t.center_dev,
	t.ob_spread_a, t.ob_spread_b, t.ob_spread_pct_a, t.ob_spread_pct_b,
	t.vol_a, t.vol_b,
	t.depth_qty_a, t.depth_qty_b, t.depth_notional_a, t.depth_notional_b,
	t.maker_fee_a, t.taker_fee_a, t.maker_fee_b, t.taker_fee_b,
	t.fr_a, t.fr_b, t.fr_countdown_ms,
	t.half_life_s, t.t_exit_s,
	t.advice,
	t.net_funding_cycle_usd, t.expect_funding_next_usd,
	t.age_a_ms, t.age_b_ms, t.skew_ms, t.latency_ms, t.stale
	FROM spreads t
	JOIN (SELECT pair, MAX(ts_ms) ts FROM spreads GROUP BY pair) m
	ON t.pair = m.pair AND t.ts_ms = m.ts`

// LatestAll returns the most recent Sample per pair via a single
// join-against-max-ts query (spec §4.5).
func (s *Store) LatestAll(ctx context.Context) ([]Sample, error) {
	if b, ok := s.cache.Get(cacheKeyLatestAll()); ok {
		var out []Sample
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []Sample
	if err := s.db.SelectContext(ctx, &out, latestAllSQL); err != nil {
		return nil, fmt.Errorf("storage: latest_all: %w", err)
	}

	if b, err := json.Marshal(out); err == nil {
		s.cache.Set(cacheKeyLatestAll(), b, 1*time.Second)
	}
	return out, nil
}

// AdminGet returns the stored admin config, or (nil, nil) if it has never
// been set.
func (s *Store) AdminGet(ctx context.Context) (*AdminConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT json FROM admin_config WHERE id = 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: admin_get: %w", err)
	}

	var cfg AdminConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Warn().Err(err).Msg("storage: admin_config row is not valid json")
		return nil, nil
	}
	return &cfg, nil
}

// AdminSet stores cfg as the single admin-config row, creating it on first
// write and updating it in place thereafter (spec §3 "Lifecycle").
func (s *Store) AdminSet(ctx context.Context, cfg AdminConfig) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("storage: marshal admin config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO admin_config (id, json) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET json = excluded.json`, string(raw))
	if err != nil {
		return fmt.Errorf("storage: admin_set: %w", err)
	}
	return nil
}

func cacheKeyPairs() string     { return "spreadwatch:pairs" }
func cacheKeyLatestAll() string { return "spreadwatch:latest_all" }
