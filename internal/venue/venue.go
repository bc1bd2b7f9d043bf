// Package venue defines the capability interface the core consumes from
// venue-specific market-data adapters (spec §4.2), plus two concrete
// implementations modeled on a Lighter-style perp DEX and a
// Binance-futures-style perp exchange.
package venue

import (
	"context"
	"errors"
)

// Market identifies one leg on one venue. At least one of Symbol or
// MarketID must resolve at the venue; lighter-style venues require an
// integer MarketID, aster-style venues key purely by Symbol.
type Market struct {
	Venue    string
	Symbol   string
	MarketID *int
}

// OrderBookSummary is the top-of-book and top-N depth snapshot for a leg.
type OrderBookSummary struct {
	BestBid        float64
	BestAsk        float64
	SpreadAbs      float64
	SpreadPct      float64
	DepthQty       float64
	DepthNotional  float64
}

// Level is one (price, qty) order-book entry.
type Level struct {
	Price float64
	Qty   float64
}

// OrderBookLevels holds ordered top-N levels: index 0 is best on each side
// (bids descending, asks ascending).
type OrderBookLevels struct {
	Bids []Level
	Asks []Level
}

// Stats24h is the trailing-24h quote-volume for a leg.
type Stats24h struct {
	QuoteVolume float64
}

// Fees holds per-side fee fractions (not basis points). Either may be
// absent (nil) when the venue doesn't expose it.
type Fees struct {
	Maker *float64
	Taker *float64
}

// FundingInfo is the funding rate and next funding timestamp for a leg.
// NextTimeMs may be an exchange-reported value or an adapter-side
// approximation aligned to the configured cycle length.
type FundingInfo struct {
	Rate       *float64
	NextTimeMs *int64
}

// Errors surfaced by adapters. ErrNoBook propagates as a tick-level failure
// for MidPrice, but degrades the corresponding Sample field to null when
// raised from the enrichment calls (spec §7).
var (
	ErrNoBook           = errors.New("venue: no bids or asks returned")
	ErrUnresolvedMarket = errors.New("venue: market-id not resolved for symbol")
	ErrUnknownVenue     = errors.New("venue: no adapter registered for venue tag")
)

// Adapter is the capability surface the core requires from each venue.
type Adapter interface {
	// MidPrice returns a reference mid-price: (best bid + best ask) / 2,
	// or the single available side if only one exists. Returns ErrNoBook
	// if neither side is available.
	MidPrice(ctx context.Context, leg Market) (float64, error)

	// OrderBookSummary returns top-of-book and top-N depth for leg.
	OrderBookSummary(ctx context.Context, leg Market, levels int) (OrderBookSummary, error)

	// OrderBookLevels returns ordered top-N levels for leg.
	OrderBookLevels(ctx context.Context, leg Market, levels int) (OrderBookLevels, error)

	// Stats24h returns trailing-24h quote volume for leg.
	Stats24h(ctx context.Context, leg Market) (Stats24h, error)

	// Fees returns maker/taker fee fractions for leg.
	Fees(ctx context.Context, leg Market) (Fees, error)

	// FundingInfo returns the funding rate and next funding time for leg.
	// cycleHours is used by adapters that must approximate NextTimeMs.
	FundingInfo(ctx context.Context, leg Market, cycleHours int) (FundingInfo, error)
}

// Registry maps a venue tag to its adapter instance, built once in the
// composition root (spec §9: "Pair configuration refers to venues by tag").
type Registry map[string]Adapter

// For resolves the adapter for a venue tag, or ErrUnknownVenue.
func (r Registry) For(venueTag string) (Adapter, error) {
	a, ok := r[venueTag]
	if !ok {
		return nil, ErrUnknownVenue
	}
	return a, nil
}
