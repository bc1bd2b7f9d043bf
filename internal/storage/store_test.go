package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spreadwatch.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePtr(f float64) *float64 { return &f }
func stringPtr(s string) *string   { return &s }

func baseSample(pair string, tsMs int64, z float64) Sample {
	return Sample{
		Pair:   pair,
		TsMs:   tsMs,
		PriceA: 100.0,
		PriceB: 99.5,
		Spread: 0.5,
		Z:      z,
		Mean:   0.3,
		Std:    0.1,
	}
}

func TestStore_InsertAndSpreads_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, baseSample("BTC-A/BTC-B", 1000, 1.0)))
	require.NoError(t, s.Insert(ctx, baseSample("BTC-A/BTC-B", 2000, 2.0)))
	require.NoError(t, s.Insert(ctx, baseSample("BTC-A/BTC-B", 3000, 3.0)))

	rows, err := s.Spreads(ctx, "BTC-A/BTC-B", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3000), rows[0].TsMs)
	assert.Equal(t, int64(2000), rows[1].TsMs)
	assert.Equal(t, int64(1000), rows[2].TsMs)
}

func TestStore_Insert_SpreadInvariant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sample := baseSample("P1", 1000, 2.0)
	require.NoError(t, s.Insert(ctx, sample))

	rows, err := s.Spreads(ctx, "P1", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, rows[0].PriceA-rows[0].PriceB, rows[0].Spread, 1e-9)
}

func TestStore_Insert_NullableFieldsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sample := baseSample("P1", 1000, 2.0)
	sample.EMA = samplePtr(0.25)
	sample.Advice = stringPtr("enter_short_A_long_B")
	sample.Stale = samplePtr(0)
	require.NoError(t, s.Insert(ctx, sample))

	rows, err := s.Spreads(ctx, "P1", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].EMA)
	assert.InDelta(t, 0.25, *rows[0].EMA, 1e-9)
	require.NotNil(t, rows[0].Advice)
	assert.Equal(t, "enter_short_A_long_B", *rows[0].Advice)
	require.Nil(t, rows[0].CenterDev)
}

func TestStore_Pairs_DistinctSorted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, baseSample("ZZZ", 1000, 1.0)))
	require.NoError(t, s.Insert(ctx, baseSample("AAA", 1000, 1.0)))
	require.NoError(t, s.Insert(ctx, baseSample("AAA", 2000, 1.0)))

	pairs, err := s.Pairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "ZZZ"}, pairs)
}

func TestStore_LatestAll_OnePerPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, baseSample("A", 1000, 1.0)))
	require.NoError(t, s.Insert(ctx, baseSample("A", 2000, 2.0)))
	require.NoError(t, s.Insert(ctx, baseSample("B", 1500, 1.5)))

	latest, err := s.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	byPair := map[string]Sample{}
	for _, s := range latest {
		byPair[s.Pair] = s
	}
	assert.Equal(t, int64(2000), byPair["A"].TsMs)
	assert.Equal(t, int64(1500), byPair["B"].TsMs)
}

func TestStore_AdminConfig_CreateThenUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg, err := s.AdminGet(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	first := AdminConfig{RateLimits: map[string]map[string]BucketConfig{
		"aster": {"global": {Capacity: 5, Refill: 5}},
	}}
	require.NoError(t, s.AdminSet(ctx, first))

	got, err := s.AdminGet(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.RateLimits["aster"]["global"].Capacity)

	second := AdminConfig{RateLimits: map[string]map[string]BucketConfig{
		"aster": {"global": {Capacity: 2, Refill: 1}},
	}}
	require.NoError(t, s.AdminSet(ctx, second))

	got2, err := s.AdminGet(ctx)
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, 2, got2.RateLimits["aster"]["global"].Capacity)
}

func TestStore_SelfMigration_AddsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacyStore, err := Open(path)
	require.NoError(t, err)
	_, err = legacyStore.db.Exec(`ALTER TABLE spreads DROP COLUMN advice`)
	if err != nil {
		// modernc.org/sqlite supports DROP COLUMN; if unavailable in this
		// build, simulate an older schema by recreating a narrower table.
		require.NoError(t, legacyStore.Close())
		require.NoError(t, recreateNarrowSchema(path))
	} else {
		_, err = legacyStore.db.Exec(`ALTER TABLE spreads DROP COLUMN t_exit_s`)
		require.NoError(t, err)
		require.NoError(t, legacyStore.Close())
	}

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	ctx := context.Background()
	sample := baseSample("P1", 1000, 1.0)
	sample.Advice = stringPtr("hold")
	sample.TExitS = samplePtr(2.0)
	require.NoError(t, reopened.Insert(ctx, sample))

	rows, err := reopened.Spreads(ctx, "P1", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Advice)
	assert.Equal(t, "hold", *rows[0].Advice)
	require.NotNil(t, rows[0].TExitS)
	assert.InDelta(t, 2.0, *rows[0].TExitS, 1e-9)
}

// recreateNarrowSchema simulates a database written by an older binary
// that predates the advice/t_exit_s columns (spec §8 property 9), for
// SQLite builds where DROP COLUMN is unavailable.
func recreateNarrowSchema(path string) error {
	s, err := Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.db.Exec(`
		DROP TABLE spreads;
		CREATE TABLE spreads (
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
	`)
	return err
}
