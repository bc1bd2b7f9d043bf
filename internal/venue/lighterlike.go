package venue

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sawpanic/spreadwatch/internal/ratelimit"
)

// Lighterlike adapts a Lighter-style perp DEX: mid-price, order-book, and
// 24h-stats calls are keyed by an integer market-id rather than a symbol
// string (fees and funding rates are matched by symbol), and funding rate polling
// has no exchange-reported "next funding time" so it is approximated from
// a configured cycle length. Grounded on original_source/arb/connectors/lighter.py.
type Lighterlike struct {
	gw   *httpGateway
	host string

	mu        sync.RWMutex
	marketMap map[string]int
	feesCache map[string]Fees
}

// NewLighterlike constructs a Lighterlike adapter against host.
func NewLighterlike(venueTag, host string, limiter *ratelimit.Limiter, timeout time.Duration) *Lighterlike {
	return &Lighterlike{
		gw:        newHTTPGateway(venueTag, limiter, timeout),
		host:      host,
		marketMap: make(map[string]int),
		feesCache: make(map[string]Fees),
	}
}

type lighterOrderBookEntry struct {
	Price                string `json:"price"`
	RemainingBaseAmount   string `json:"remaining_base_amount"`
	InitialBaseAmount     string `json:"initial_base_amount"`
}

type lighterOrderBookOrdersResponse struct {
	Bids []lighterOrderBookEntry `json:"bids"`
	Asks []lighterOrderBookEntry `json:"asks"`
}

type lighterOrderBookDescriptor struct {
	Symbol   string  `json:"symbol"`
	MarketID int     `json:"market_id"`
	MakerFee *string `json:"maker_fee"`
	TakerFee *string `json:"taker_fee"`
}

type lighterOrderBooksResponse struct {
	OrderBooks []lighterOrderBookDescriptor `json:"order_books"`
}

type lighterOrderBookDetail struct {
	DailyQuoteTokenVolume float64 `json:"daily_quote_token_volume"`
}

type lighterOrderBookDetailsResponse struct {
	OrderBookDetails []lighterOrderBookDetail `json:"order_book_details"`
}

// FetchMarketMap retrieves the symbol -> market-id mapping and caches fee
// descriptors, matching connectors/lighter.py:fetch_market_map.
func (l *Lighterlike) FetchMarketMap(ctx context.Context) (map[string]int, error) {
	var resp lighterOrderBooksResponse
	u := l.host + "/api/v1/orderBooks"
	if err := l.gw.getJSON(ctx, "global", u, &resp); err != nil {
		return nil, err
	}

	mapping := make(map[string]int, len(resp.OrderBooks))
	fees := make(map[string]Fees, len(resp.OrderBooks))
	for _, ob := range resp.OrderBooks {
		mapping[ob.Symbol] = ob.MarketID
		fees[ob.Symbol] = Fees{Maker: parseOptFloat(ob.MakerFee), Taker: parseOptFloat(ob.TakerFee)}
	}

	l.mu.Lock()
	l.marketMap = mapping
	l.feesCache = fees
	l.mu.Unlock()
	return mapping, nil
}

// ResolveMarketID looks up a cached symbol -> market-id mapping, fetching
// it on first use.
func (l *Lighterlike) ResolveMarketID(ctx context.Context, symbol string) (int, error) {
	l.mu.RLock()
	id, ok := l.marketMap[symbol]
	l.mu.RUnlock()
	if ok {
		return id, nil
	}
	if _, err := l.FetchMarketMap(ctx); err != nil {
		return 0, err
	}
	l.mu.RLock()
	id, ok = l.marketMap[symbol]
	l.mu.RUnlock()
	if !ok {
		return 0, ErrUnresolvedMarket
	}
	return id, nil
}

func (l *Lighterlike) marketID(leg Market) (int, error) {
	if leg.MarketID == nil {
		return 0, ErrUnresolvedMarket
	}
	return *leg.MarketID, nil
}

func (l *Lighterlike) MidPrice(ctx context.Context, leg Market) (float64, error) {
	mid, err := l.marketID(leg)
	if err != nil {
		return 0, err
	}
	var resp lighterOrderBookOrdersResponse
	u := l.host + "/api/v1/orderBookOrders?" + url.Values{
		"market_id": {strconv.Itoa(mid)},
		"limit":     {"1"},
	}.Encode()
	if err := l.gw.getJSON(ctx, "global", u, &resp); err != nil {
		return 0, err
	}

	bestBid, hasBid := bestPrice(resp.Bids)
	bestAsk, hasAsk := bestPrice(resp.Asks)
	switch {
	case !hasBid && !hasAsk:
		return 0, ErrNoBook
	case !hasBid:
		return bestAsk, nil
	case !hasAsk:
		return bestBid, nil
	default:
		return (bestBid + bestAsk) / 2.0, nil
	}
}

func (l *Lighterlike) OrderBookSummary(ctx context.Context, leg Market, levels int) (OrderBookSummary, error) {
	mid, err := l.marketID(leg)
	if err != nil {
		return OrderBookSummary{}, err
	}
	var resp lighterOrderBookOrdersResponse
	u := l.host + "/api/v1/orderBookOrders?" + url.Values{
		"market_id": {strconv.Itoa(mid)},
		"limit":     {strconv.Itoa(levels)},
	}.Encode()
	if err := l.gw.getJSON(ctx, "depth", u, &resp); err != nil {
		return OrderBookSummary{}, err
	}

	bestBid, hasBid := bestPrice(resp.Bids)
	bestAsk, hasAsk := bestPrice(resp.Asks)
	if !hasBid && !hasAsk {
		return OrderBookSummary{}, ErrNoBook
	}

	var out OrderBookSummary
	out.BestBid = bestBid
	out.BestAsk = bestAsk
	if hasBid && hasAsk {
		mid := (bestBid + bestAsk) / 2.0
		out.SpreadAbs = bestAsk - bestBid
		if mid != 0 {
			out.SpreadPct = out.SpreadAbs / mid
		}
	}

	bidQty, bidNotional := sumLighterLevels(resp.Bids, levels)
	askQty, askNotional := sumLighterLevels(resp.Asks, levels)
	out.DepthQty = bidQty + askQty
	out.DepthNotional = bidNotional + askNotional
	return out, nil
}

func (l *Lighterlike) OrderBookLevels(ctx context.Context, leg Market, levels int) (OrderBookLevels, error) {
	mid, err := l.marketID(leg)
	if err != nil {
		return OrderBookLevels{}, err
	}
	var resp lighterOrderBookOrdersResponse
	u := l.host + "/api/v1/orderBookOrders?" + url.Values{
		"market_id": {strconv.Itoa(mid)},
		"limit":     {strconv.Itoa(levels)},
	}.Encode()
	if err := l.gw.getJSON(ctx, "depth", u, &resp); err != nil {
		return OrderBookLevels{}, err
	}
	return OrderBookLevels{
		Bids: toLighterLevels(resp.Bids, levels),
		Asks: toLighterLevels(resp.Asks, levels),
	}, nil
}

func (l *Lighterlike) Stats24h(ctx context.Context, leg Market) (Stats24h, error) {
	mid, err := l.marketID(leg)
	if err != nil {
		return Stats24h{}, err
	}
	var resp lighterOrderBookDetailsResponse
	u := l.host + "/api/v1/orderBookDetails?" + url.Values{"market_id": {strconv.Itoa(mid)}}.Encode()
	if err := l.gw.getJSON(ctx, "global", u, &resp); err != nil {
		return Stats24h{}, err
	}
	if len(resp.OrderBookDetails) == 0 {
		return Stats24h{}, nil
	}
	return Stats24h{QuoteVolume: resp.OrderBookDetails[0].DailyQuoteTokenVolume}, nil
}

func (l *Lighterlike) Fees(ctx context.Context, leg Market) (Fees, error) {
	l.mu.RLock()
	f, ok := l.feesCache[leg.Symbol]
	l.mu.RUnlock()
	if ok {
		return f, nil
	}
	if _, err := l.FetchMarketMap(ctx); err != nil {
		return Fees{}, err
	}
	l.mu.RLock()
	f = l.feesCache[leg.Symbol]
	l.mu.RUnlock()
	return f, nil
}

// FundingInfo approximates the next funding time by aligning to cycleHours
// boundaries from the epoch, matching
// connectors/lighter.py:get_funding_info — the API does not expose an
// explicit next-funding timestamp for this venue family.
func (l *Lighterlike) FundingInfo(ctx context.Context, leg Market, cycleHours int) (FundingInfo, error) {
	if cycleHours <= 0 {
		cycleHours = 8
	}
	periodMs := int64(cycleHours) * 3600 * 1000
	nowMs := time.Now().UnixMilli()
	next := ((nowMs / periodMs) + 1) * periodMs

	var resp struct {
		FundingRates []struct {
			Exchange string  `json:"exchange"`
			Symbol   string  `json:"symbol"`
			Rate     float64 `json:"rate"`
		} `json:"funding_rates"`
	}
	u := l.host + "/api/v1/fundingRates"
	var rate *float64
	if err := l.gw.getJSON(ctx, "global", u, &resp); err == nil {
		for _, fr := range resp.FundingRates {
			if fr.Symbol == leg.Symbol {
				v := fr.Rate
				rate = &v
				break
			}
		}
	}
	return FundingInfo{Rate: rate, NextTimeMs: &next}, nil
}

func bestPrice(side []lighterOrderBookEntry) (float64, bool) {
	if len(side) == 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(side[0].Price, 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

func sumLighterLevels(side []lighterOrderBookEntry, levels int) (qty, notional float64) {
	for i, o := range side {
		if i >= levels {
			break
		}
		p, err := strconv.ParseFloat(o.Price, 64)
		if err != nil {
			continue
		}
		q := lighterQty(o)
		qty += q
		notional += p * q
	}
	return qty, notional
}

func toLighterLevels(side []lighterOrderBookEntry, levels int) []Level {
	out := make([]Level, 0, min(len(side), levels))
	for i, o := range side {
		if i >= levels {
			break
		}
		p, err := strconv.ParseFloat(o.Price, 64)
		if err != nil {
			continue
		}
		out = append(out, Level{Price: p, Qty: lighterQty(o)})
	}
	return out
}

func lighterQty(o lighterOrderBookEntry) float64 {
	raw := o.RemainingBaseAmount
	if raw == "" {
		raw = o.InitialBaseAmount
	}
	q, _ := strconv.ParseFloat(raw, 64)
	return q
}

func parseOptFloat(s *string) *float64 {
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil
	}
	return &v
}

