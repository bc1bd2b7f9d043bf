// Package storage persists enriched pair samples to a self-migrating
// SQLite table and holds the single-row admin-config JSON blob, with an
// optional Redis read-through cache in front of the hot read paths.
package storage

// Sample is one tick of observation for one pair (spec §3). Every field
// beyond the identity/price/statistics core is nullable: upstream
// unavailability degrades a field to nil rather than a sentinel number.
type Sample struct {
	Pair string `db:"pair" json:"pair"`
	TsMs int64  `db:"ts_ms" json:"ts_ms"`

	PriceA float64 `db:"price_a" json:"price_a"`
	PriceB float64 `db:"price_b" json:"price_b"`
	Spread float64 `db:"spread" json:"spread"`

	Z    float64 `db:"z" json:"z"`
	Mean float64 `db:"mean" json:"mean"`
	Std  float64 `db:"std" json:"std"`

	EMA       *float64 `db:"ema" json:"ema,omitempty"`
	CenterDev *float64 `db:"center_dev" json:"center_dev,omitempty"`

	OBSpreadA    *float64 `db:"ob_spread_a" json:"ob_spread_a,omitempty"`
	OBSpreadB    *float64 `db:"ob_spread_b" json:"ob_spread_b,omitempty"`
	OBSpreadPctA *float64 `db:"ob_spread_pct_a" json:"ob_spread_pct_a,omitempty"`
	OBSpreadPctB *float64 `db:"ob_spread_pct_b" json:"ob_spread_pct_b,omitempty"`

	VolA *float64 `db:"vol_a" json:"vol_a,omitempty"`
	VolB *float64 `db:"vol_b" json:"vol_b,omitempty"`

	DepthQtyA      *float64 `db:"depth_qty_a" json:"depth_qty_a,omitempty"`
	DepthQtyB      *float64 `db:"depth_qty_b" json:"depth_qty_b,omitempty"`
	DepthNotionalA *float64 `db:"depth_notional_a" json:"depth_notional_a,omitempty"`
	DepthNotionalB *float64 `db:"depth_notional_b" json:"depth_notional_b,omitempty"`

	MakerFeeA *float64 `db:"maker_fee_a" json:"maker_fee_a,omitempty"`
	TakerFeeA *float64 `db:"taker_fee_a" json:"taker_fee_a,omitempty"`
	MakerFeeB *float64 `db:"maker_fee_b" json:"maker_fee_b,omitempty"`
	TakerFeeB *float64 `db:"taker_fee_b" json:"taker_fee_b,omitempty"`

	FrA           *float64 `db:"fr_a" json:"fr_a,omitempty"`
	FrB           *float64 `db:"fr_b" json:"fr_b,omitempty"`
	FrCountdownMs *float64 `db:"fr_countdown_ms" json:"fr_countdown_ms,omitempty"`

	HalfLifeS *float64 `db:"half_life_s" json:"half_life_s,omitempty"`
	TExitS    *float64 `db:"t_exit_s" json:"t_exit_s,omitempty"`

	Advice *string `db:"advice" json:"advice,omitempty"`

	NetFundingCycleUsd   *float64 `db:"net_funding_cycle_usd" json:"net_funding_cycle_usd,omitempty"`
	ExpectFundingNextUsd *float64 `db:"expect_funding_next_usd" json:"expect_funding_next_usd,omitempty"`

	AgeAMs    *float64 `db:"age_a_ms" json:"age_a_ms,omitempty"`
	AgeBMs    *float64 `db:"age_b_ms" json:"age_b_ms,omitempty"`
	SkewMs    *float64 `db:"skew_ms" json:"skew_ms,omitempty"`
	LatencyMs *float64 `db:"latency_ms" json:"latency_ms,omitempty"`
	Stale     *float64 `db:"stale" json:"stale,omitempty"`
}

// AdminConfig is the single-row operator-tunable knob set (spec §4.5,
// §4.6: rate-limit parameters today, stored as an opaque JSON blob so new
// knobs can be added without a schema change).
type AdminConfig struct {
	RateLimits map[string]map[string]BucketConfig `json:"ratelimits"`
}

// BucketConfig mirrors ratelimit.BucketConfig; duplicated here (rather than
// imported) so the storage package has no compile-time dependency on the
// rate-limiter's package, matching the spec's "ancillary key/value" framing
// of admin config as an opaque blob Storage does not interpret.
type BucketConfig struct {
	Capacity int     `json:"capacity"`
	Refill   float64 `json:"refill"`
}
