package httpapi

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/sawpanic/spreadwatch/internal/config"
	"github.com/sawpanic/spreadwatch/internal/venue"
)

// legFill is one leg's simulated execution against its current order book
// (spec §4.6.2).
type legFill struct {
	Side        string  `json:"side"`
	Mid         float64 `json:"mid"`
	Qty         float64 `json:"qty"`
	FilledQty   float64 `json:"filled_qty"`
	AvgExec     float64 `json:"avg_exec"`
	SlippagePct float64 `json:"slippage_pct"`
	SlippageUsd float64 `json:"slippage_usd"`
	TakerFeeUsd float64 `json:"taker_fee_usd"`
}

type simulateResponse struct {
	Pair       string  `json:"pair"`
	NotionalUsd float64 `json:"notional_usd"`
	Pattern    string  `json:"pattern"`
	A          legFill `json:"a"`
	B          legFill `json:"b"`
	TotalCostUsd float64 `json:"total_cost_usd"`
}

// handleSimulate implements spec §4.6.2: a greedy order-book execution
// simulator estimating slippage and fees for entering a pair position.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	pairName := r.URL.Query().Get("pair")
	if pairName == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}
	pair, ok := s.findPair(pairName)
	if !ok {
		writeError(w, http.StatusNotFound, "unconfigured pair")
		return
	}
	notional, err := strconv.ParseFloat(r.URL.Query().Get("notional_usd"), 64)
	if err != nil || notional <= 0 {
		writeError(w, http.StatusBadRequest, "notional_usd must be a positive number")
		return
	}
	pattern := r.URL.Query().Get("pattern")
	sideA, sideB, ok := sidesForPattern(pattern)
	if !ok {
		writeError(w, http.StatusBadRequest, "pattern must be enter_short_A_long_B or enter_long_A_short_B")
		return
	}

	fillA, err := s.simulateLeg(r.Context(), pair.A, sideA, notional)
	if err != nil {
		writeError(w, http.StatusBadGateway, "leg a: "+err.Error())
		return
	}
	fillB, err := s.simulateLeg(r.Context(), pair.B, sideB, notional)
	if err != nil {
		writeError(w, http.StatusBadGateway, "leg b: "+err.Error())
		return
	}

	total := fillA.SlippageUsd + fillA.TakerFeeUsd + fillB.SlippageUsd + fillB.TakerFeeUsd
	writeJSON(w, http.StatusOK, simulateResponse{
		Pair:         pairName,
		NotionalUsd:  notional,
		Pattern:      pattern,
		A:            fillA,
		B:            fillB,
		TotalCostUsd: total,
	})
}

// sidesForPattern maps an action pattern to each leg's trade direction
// (spec §4.6.2 "enter_short_A_long_B -> (sell A, buy B)").
func sidesForPattern(pattern string) (sideA, sideB string, ok bool) {
	switch pattern {
	case "enter_short_A_long_B":
		return "sell", "buy", true
	case "enter_long_A_short_B":
		return "buy", "sell", true
	default:
		return "", "", false
	}
}

func (s *Server) simulateLeg(ctx context.Context, mc config.MarketConfig, side string, notional float64) (legFill, error) {
	market, err := s.marketFor(ctx, mc)
	if err != nil {
		return legFill{}, err
	}
	adapter, err := s.registry.For(mc.Venue)
	if err != nil {
		return legFill{}, err
	}

	mid, err := adapter.MidPrice(ctx, market)
	if err != nil {
		return legFill{}, err
	}
	levels, err := adapter.OrderBookLevels(ctx, market, s.depthLevels)
	if err != nil {
		return legFill{}, err
	}

	var book []venue.Level
	switch side {
	case "buy":
		book = levels.Asks
	case "sell":
		book = levels.Bids
	default:
		return legFill{}, fmt.Errorf("unknown side %q", side)
	}

	qty := notional / mid
	quote, filled := consumeLevels(book, qty)

	var avgExec float64
	if filled > 0 {
		avgExec = quote / filled
	}
	slippagePct := math.Abs(avgExec-mid) / mid
	slippageUsd := slippagePct * notional

	taker := s.takerFeeFor(mc.Venue)
	takerFeeUsd := taker * notional

	return legFill{
		Side:        side,
		Mid:         mid,
		Qty:         qty,
		FilledQty:   filled,
		AvgExec:     avgExec,
		SlippagePct: slippagePct,
		SlippageUsd: slippageUsd,
		TakerFeeUsd: takerFeeUsd,
	}, nil
}

// consumeLevels greedily fills qty against book in the order given,
// returning the accumulated quote total and filled base quantity (spec
// §4.6.2 "take = min(remaining, level.qty)").
func consumeLevels(book []venue.Level, qty float64) (quote, filled float64) {
	remaining := qty
	for _, lvl := range book {
		if remaining <= 0 {
			break
		}
		take := math.Min(remaining, lvl.Qty)
		quote += take * lvl.Price
		filled += take
		remaining -= take
	}
	return quote, filled
}

func (s *Server) takerFeeFor(venueTag string) float64 {
	if fc, ok := s.fees[venueTag]; ok && fc.Taker != nil {
		return *fc.Taker
	}
	return 0
}
