package venue

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/sawpanic/spreadwatch/internal/ratelimit"
)

// Asterlike adapts a Binance-futures-style perp exchange: every endpoint is
// keyed by symbol string directly, no market-id resolution step, and the
// exchange reports an explicit next funding timestamp. Grounded on
// original_source/arb/connectors/aster.py.
type Asterlike struct {
	gw   *httpGateway
	host string
}

// NewAsterlike constructs an Asterlike adapter against host.
func NewAsterlike(venueTag, host string, limiter *ratelimit.Limiter, timeout time.Duration) *Asterlike {
	return &Asterlike{gw: newHTTPGateway(venueTag, limiter, timeout), host: host}
}

type asterBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

type asterDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

type asterTicker24hr struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

type asterPremiumIndex struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

type asterCommissionRate struct {
	Symbol          string `json:"symbol"`
	MakerCommission string `json:"makerCommissionRate"`
	TakerCommission string `json:"takerCommissionRate"`
}

func (a *Asterlike) MidPrice(ctx context.Context, leg Market) (float64, error) {
	var t asterBookTicker
	u := a.host + "/fapi/v1/ticker/bookTicker?" + url.Values{"symbol": {leg.Symbol}}.Encode()
	if err := a.gw.getJSON(ctx, "global", u, &t); err != nil {
		return 0, err
	}
	bid, hasBid := parseNonZero(t.BidPrice)
	ask, hasAsk := parseNonZero(t.AskPrice)
	switch {
	case !hasBid && !hasAsk:
		return 0, ErrNoBook
	case !hasBid:
		return ask, nil
	case !hasAsk:
		return bid, nil
	default:
		return (bid + ask) / 2.0, nil
	}
}

func (a *Asterlike) OrderBookSummary(ctx context.Context, leg Market, levels int) (OrderBookSummary, error) {
	var d asterDepth
	u := a.host + "/fapi/v1/depth?" + url.Values{
		"symbol": {leg.Symbol},
		"limit":  {strconv.Itoa(levels)},
	}.Encode()
	if err := a.gw.getJSON(ctx, "depth", u, &d); err != nil {
		return OrderBookSummary{}, err
	}
	if len(d.Bids) == 0 && len(d.Asks) == 0 {
		return OrderBookSummary{}, ErrNoBook
	}

	var out OrderBookSummary
	bestBid, hasBid := bestAsterPrice(d.Bids)
	bestAsk, hasAsk := bestAsterPrice(d.Asks)
	out.BestBid = bestBid
	out.BestAsk = bestAsk
	if hasBid && hasAsk {
		mid := (bestBid + bestAsk) / 2.0
		out.SpreadAbs = bestAsk - bestBid
		if mid != 0 {
			out.SpreadPct = out.SpreadAbs / mid
		}
	}

	bidQty, bidNotional := sumAsterLevels(d.Bids, levels)
	askQty, askNotional := sumAsterLevels(d.Asks, levels)
	out.DepthQty = bidQty + askQty
	out.DepthNotional = bidNotional + askNotional
	return out, nil
}

func (a *Asterlike) OrderBookLevels(ctx context.Context, leg Market, levels int) (OrderBookLevels, error) {
	var d asterDepth
	u := a.host + "/fapi/v1/depth?" + url.Values{
		"symbol": {leg.Symbol},
		"limit":  {strconv.Itoa(levels)},
	}.Encode()
	if err := a.gw.getJSON(ctx, "depth", u, &d); err != nil {
		return OrderBookLevels{}, err
	}
	return OrderBookLevels{
		Bids: toAsterLevels(d.Bids, levels),
		Asks: toAsterLevels(d.Asks, levels),
	}, nil
}

func (a *Asterlike) Stats24h(ctx context.Context, leg Market) (Stats24h, error) {
	var t asterTicker24hr
	u := a.host + "/fapi/v1/ticker/24hr?" + url.Values{"symbol": {leg.Symbol}}.Encode()
	if err := a.gw.getJSON(ctx, "global", u, &t); err != nil {
		return Stats24h{}, err
	}
	v, _ := strconv.ParseFloat(t.QuoteVolume, 64)
	return Stats24h{QuoteVolume: v}, nil
}

func (a *Asterlike) Fees(ctx context.Context, leg Market) (Fees, error) {
	var c asterCommissionRate
	u := a.host + "/fapi/v1/commissionRate?" + url.Values{"symbol": {leg.Symbol}}.Encode()
	if err := a.gw.getJSON(ctx, "global", u, &c); err != nil {
		return Fees{}, err
	}
	maker, _ := strconv.ParseFloat(c.MakerCommission, 64)
	taker, _ := strconv.ParseFloat(c.TakerCommission, 64)
	return Fees{Maker: &maker, Taker: &taker}, nil
}

// FundingInfo reads the exchange-reported last funding rate and next
// funding time directly; cycleHours is unused on this venue family since
// premiumIndex already reports an authoritative next timestamp.
func (a *Asterlike) FundingInfo(ctx context.Context, leg Market, cycleHours int) (FundingInfo, error) {
	var p asterPremiumIndex
	u := a.host + "/fapi/v1/premiumIndex?" + url.Values{"symbol": {leg.Symbol}}.Encode()
	if err := a.gw.getJSON(ctx, "global", u, &p); err != nil {
		return FundingInfo{}, err
	}
	rate, err := strconv.ParseFloat(p.LastFundingRate, 64)
	var ratePtr *float64
	if err == nil {
		ratePtr = &rate
	}
	var nextPtr *int64
	if p.NextFundingTime > 0 {
		nextPtr = &p.NextFundingTime
	}
	return FundingInfo{Rate: ratePtr, NextTimeMs: nextPtr}, nil
}

func parseNonZero(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

func bestAsterPrice(side [][2]string) (float64, bool) {
	if len(side) == 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(side[0][0], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

func sumAsterLevels(side [][2]string, levels int) (qty, notional float64) {
	for i, lvl := range side {
		if i >= levels {
			break
		}
		p, err1 := strconv.ParseFloat(lvl[0], 64)
		q, err2 := strconv.ParseFloat(lvl[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		qty += q
		notional += p * q
	}
	return qty, notional
}

func toAsterLevels(side [][2]string, levels int) []Level {
	out := make([]Level, 0, len(side))
	for i, lvl := range side {
		if i >= levels {
			break
		}
		p, err1 := strconv.ParseFloat(lvl[0], 64)
		q, err2 := strconv.ParseFloat(lvl[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Level{Price: p, Qty: q})
	}
	return out
}
