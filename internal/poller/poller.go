// Package poller runs one cooperative per-pair polling loop each: fetch
// both legs concurrently, run the rolling signals, enrich with order-book
// and funding data, and emit the resulting Sample (spec §4.4).
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadwatch/internal/config"
	"github.com/sawpanic/spreadwatch/internal/signal"
	"github.com/sawpanic/spreadwatch/internal/storage"
	"github.com/sawpanic/spreadwatch/internal/venue"
)

// Params bundles the per-pair tuning knobs a Poller needs, lifted
// directly off config.Config (spec §6 "Environment").
type Params struct {
	DepthLevels      int
	EnterZ           float64
	ExitZ            float64
	PollMs           int
	StaleMsThreshold int64
	SkewMsThreshold  int64
	Fees             map[string]config.FeeConfig
	CycleHours       map[string]int
	NotionalUsd      float64
	IngestionURL     string
}

// Poller owns one Pair's RollingZScore/EMA state and runs its tick loop
// for the lifetime of the supplied context.
type Poller struct {
	pair   config.PairConfig
	legA   venue.Adapter
	legB   venue.Adapter
	z      *signal.RollingZScore
	ema    *signal.EMA
	store  *storage.Store
	params Params
	client *http.Client
}

// New constructs a Poller for pair, resolving both legs' adapters from
// registry up front. Resolution failure is fatal for this poller only
// (spec §7 "Configuration error ... inside the poller, treated as fatal
// for that poller only") — the caller should log the error and not start
// Run.
func New(pair config.PairConfig, registry venue.Registry, lookback, emaWindow int, store *storage.Store, params Params) (*Poller, error) {
	legA, err := registry.For(pair.A.Venue)
	if err != nil {
		return nil, fmt.Errorf("poller %s: leg a: %w", pair.Name, err)
	}
	legB, err := registry.For(pair.B.Venue)
	if err != nil {
		return nil, fmt.Errorf("poller %s: leg b: %w", pair.Name, err)
	}

	return &Poller{
		pair:   pair,
		legA:   legA,
		legB:   legB,
		z:      signal.NewRollingZScore(lookback),
		ema:    signal.NewEMA(emaWindow),
		store:  store,
		params: params,
		client: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Run executes tick after tick until ctx is cancelled, sleeping
// params.PollMs between ticks (spec §9: uncompensated sleep — drift
// relative to wall clock is accepted, not corrected).
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.params.PollMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.tick(ctx); err != nil {
			log.Error().Str("pair", p.pair.Name).Err(err).Msg("poller tick failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

type timedPrice struct {
	price float64
	tsMs  int64
	durMs int64
	err   error
}

func (p *Poller) timedMidPrice(ctx context.Context, adapter venue.Adapter, m venue.Market) timedPrice {
	t0 := nowMs()
	price, err := adapter.MidPrice(ctx, m)
	t1 := nowMs()
	return timedPrice{price: price, tsMs: t1, durMs: t1 - t0, err: err}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// tick runs one observation cycle. A mid-price fetch failure on either leg
// aborts just this tick (spec §7: "for midPrice this propagates as a
// tick-level failure; tick logs and continues").
func (p *Poller) tick(ctx context.Context) error {
	marketA := venue.Market{Venue: p.pair.A.Venue, Symbol: p.pair.A.Symbol, MarketID: p.pair.A.MarketID}
	marketB := venue.Market{Venue: p.pair.B.Venue, Symbol: p.pair.B.Symbol, MarketID: p.pair.B.MarketID}

	resA := make(chan timedPrice, 1)
	resB := make(chan timedPrice, 1)
	go func() { resA <- p.timedMidPrice(ctx, p.legA, marketA) }()
	go func() { resB <- p.timedMidPrice(ctx, p.legB, marketB) }()
	a, b := <-resA, <-resB

	if a.err != nil {
		return fmt.Errorf("leg a mid price: %w", a.err)
	}
	if b.err != nil {
		return fmt.Errorf("leg b mid price: %w", b.err)
	}

	spread := a.price - b.price
	z, mean, std := p.z.Update(spread)
	emaVal := p.ema.Update(spread)
	var centerDev float64
	if std > 1e-12 {
		centerDev = (spread - emaVal) / std
	}

	ts := maxInt64(a.tsMs, b.tsMs)
	ageA := ts - a.tsMs
	ageB := ts - b.tsMs
	skewMs := absInt64(a.tsMs - b.tsMs)
	latencyMs := maxInt64(a.durMs, b.durMs)

	action := classify(z, p.params.EnterZ, p.params.ExitZ)
	stale := ageA > p.params.StaleMsThreshold || ageB > p.params.StaleMsThreshold || skewMs > p.params.SkewMsThreshold
	if stale {
		action = "hold"
	}

	enrichA := p.enrichLeg(ctx, p.legA, marketA, p.pair.A.Venue)
	enrichB := p.enrichLeg(ctx, p.legB, marketB, p.pair.B.Venue)

	// Funding/reversion/advisory computation only runs when an ingestion
	// endpoint is configured, so the poller is allowed to spend a round
	// trip on it (spec §4.4 step 7; original_source/arb/runner_reminder.py
	// gates this entire block on `if panel_ingest_url:`).
	var fundingA, fundingB venue.FundingInfo
	var countdownMs *float64
	var halfLifeS, tExitS *float64
	var advice *string
	var netFundingCycleUsd, expectFundingNextUsd *float64

	if p.params.IngestionURL != "" {
		fundingA = p.fundingFor(ctx, p.legA, marketA, p.pair.A.Venue)
		fundingB = p.fundingFor(ctx, p.legB, marketB, p.pair.B.Venue)

		if fundingA.NextTimeMs != nil || fundingB.NextTimeMs != nil {
			next := minOptInt64(fundingA.NextTimeMs, fundingB.NextTimeMs)
			if next != nil {
				c := float64(*next - ts)
				countdownMs = &c
			}
		}

		rev := signal.EstimateReversion(p.z.Window(), z, p.params.ExitZ, float64(p.params.PollMs)/1000.0)
		if rev.Ok {
			h, t := rev.HalfLifeS, rev.TExitS
			halfLifeS, tExitS = &h, &t
		}

		advice, netFundingCycleUsd, expectFundingNextUsd = p.adviseFunding(action, fundingA.Rate, fundingB.Rate, countdownMs, tExitS)
	}

	sample := storage.Sample{
		Pair:   p.pair.Name,
		TsMs:   ts,
		PriceA: a.price,
		PriceB: b.price,
		Spread: spread,
		Z:      z,
		Mean:   mean,
		Std:    std,
		EMA:    &emaVal,
		CenterDev: &centerDev,

		OBSpreadA:    enrichA.spreadAbs,
		OBSpreadB:    enrichB.spreadAbs,
		OBSpreadPctA: enrichA.spreadPct,
		OBSpreadPctB: enrichB.spreadPct,

		VolA: enrichA.volume,
		VolB: enrichB.volume,

		DepthQtyA:      enrichA.depthQty,
		DepthQtyB:      enrichB.depthQty,
		DepthNotionalA: enrichA.depthNotional,
		DepthNotionalB: enrichB.depthNotional,

		MakerFeeA: enrichA.maker,
		TakerFeeA: enrichA.taker,
		MakerFeeB: enrichB.maker,
		TakerFeeB: enrichB.taker,

		FrA:           fundingA.Rate,
		FrB:           fundingB.Rate,
		FrCountdownMs: countdownMs,

		HalfLifeS: halfLifeS,
		TExitS:    tExitS,
		Advice:    advice,

		NetFundingCycleUsd:   netFundingCycleUsd,
		ExpectFundingNextUsd: expectFundingNextUsd,

		AgeAMs:    floatPtr(float64(ageA)),
		AgeBMs:    floatPtr(float64(ageB)),
		SkewMs:    floatPtr(float64(skewMs)),
		LatencyMs: floatPtr(float64(latencyMs)),
		Stale:     floatPtr(boolToFloat(stale)),
	}

	log.Info().
		Str("pair", p.pair.Name).
		Float64("price_a", a.price).
		Float64("price_b", b.price).
		Float64("spread", spread).
		Float64("z", z).
		Str("action", action).
		Bool("stale", stale).
		Msg("tick")

	return p.emit(ctx, sample)
}

func classify(z, enterZ, exitZ float64) string {
	switch {
	case z >= enterZ:
		return "enter_short_A_long_B"
	case z <= -enterZ:
		return "enter_long_A_short_B"
	case math.Abs(z) <= exitZ:
		return "exit"
	default:
		return "hold"
	}
}

// adviseFunding applies the funding-timing heuristic carried over from
// original_source/arb/runner_reminder.py. The sign of net_rate is taken
// as-is from that source without per-venue convention normalization
// (spec §9 Open Questions flags this explicitly — do not assume intent).
func (p *Poller) adviseFunding(action string, frA, frB, countdownMs, tExitS *float64) (advice *string, netFundingCycleUsd, expectFundingNextUsd *float64) {
	if countdownMs == nil || tExitS == nil {
		return nil, nil, nil
	}

	var netRate float64
	var haveRate bool
	switch action {
	case "enter_short_A_long_B":
		if frA != nil && frB != nil {
			netRate = *frA - *frB
			haveRate = true
		}
	case "enter_long_A_short_B":
		if frA != nil && frB != nil {
			netRate = *frB - *frA
			haveRate = true
		}
	}
	if !haveRate {
		return nil, nil, nil
	}

	timeToFundingS := math.Max(0, math.Floor(*countdownMs/1000.0))
	var text string
	if *tExitS < timeToFundingS {
		text = "convergence expected before next funding; funding avoidable"
	} else {
		text = "position likely to span next funding; evaluate net funding"
	}
	advice = &text

	cycleUsd := p.params.NotionalUsd * netRate
	netFundingCycleUsd = &cycleUsd

	var nextUsd float64
	if *tExitS >= timeToFundingS {
		nextUsd = cycleUsd
	}
	expectFundingNextUsd = &nextUsd
	return advice, netFundingCycleUsd, expectFundingNextUsd
}

type legEnrichment struct {
	spreadAbs     *float64
	spreadPct     *float64
	depthQty      *float64
	depthNotional *float64
	volume        *float64
	maker         *float64
	taker         *float64
}

// enrichLeg fetches order-book summary, 24h volume, and fees for one leg.
// Every failure degrades its field to null rather than aborting the tick
// (spec §7 "for summary/stats/fees/funding it degrades that field to null").
func (p *Poller) enrichLeg(ctx context.Context, adapter venue.Adapter, m venue.Market, venueTag string) legEnrichment {
	var out legEnrichment

	if ob, err := adapter.OrderBookSummary(ctx, m, p.params.DepthLevels); err == nil {
		out.spreadAbs = floatPtr(ob.SpreadAbs)
		out.spreadPct = floatPtr(ob.SpreadPct)
		out.depthQty = floatPtr(ob.DepthQty)
		out.depthNotional = floatPtr(ob.DepthNotional)
	} else {
		log.Debug().Str("venue", venueTag).Err(err).Msg("order book summary unavailable")
	}

	if stats, err := adapter.Stats24h(ctx, m); err == nil {
		out.volume = floatPtr(stats.QuoteVolume)
	} else {
		log.Debug().Str("venue", venueTag).Err(err).Msg("24h stats unavailable")
	}

	if fees, err := adapter.Fees(ctx, m); err == nil && (fees.Maker != nil || fees.Taker != nil) {
		out.maker = fees.Maker
		out.taker = fees.Taker
	} else if fallback, ok := p.params.Fees[venueTag]; ok {
		out.maker = fallback.Maker
		out.taker = fallback.Taker
	}

	return out
}

func (p *Poller) fundingFor(ctx context.Context, adapter venue.Adapter, m venue.Market, venueTag string) venue.FundingInfo {
	cycleHours := p.params.CycleHours[venueTag]
	fi, err := adapter.FundingInfo(ctx, m, cycleHours)
	if err != nil {
		log.Debug().Str("venue", venueTag).Err(err).Msg("funding info unavailable")
		return venue.FundingInfo{}
	}
	return fi
}

// emit writes sample to the shared Storage handle (when one was
// configured), and/or POSTs it to the ingestion HTTP endpoint — the spec's
// "either direct Storage write, or to the ingestion HTTP endpoint ... or
// both" (§4.4 step 8).
func (p *Poller) emit(ctx context.Context, sample storage.Sample) error {
	var firstErr error

	if p.store != nil {
		if err := p.store.Insert(ctx, sample); err != nil {
			log.Error().Str("pair", p.pair.Name).Err(err).Msg("storage insert failed")
			firstErr = err
		}
	}

	if p.params.IngestionURL != "" {
		if err := p.postIngest(ctx, sample); err != nil {
			log.Debug().Str("pair", p.pair.Name).Err(err).Msg("ingestion post failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (p *Poller) postIngest(ctx context.Context, sample storage.Sample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.params.IngestionURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingestion http %d", resp.StatusCode)
	}
	return nil
}

func floatPtr(f float64) *float64 { return &f }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minOptInt64(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a < *b:
		return a
	default:
		return b
	}
}
