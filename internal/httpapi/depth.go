package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sawpanic/spreadwatch/internal/config"
	"github.com/sawpanic/spreadwatch/internal/venue"
)

type depthResponse struct {
	A venue.OrderBookLevels `json:"a"`
	B venue.OrderBookLevels `json:"b"`
}

// handleDepth is a live pass-through to both legs' venue adapters (spec
// §4.6 "depth ... live pass-through to venue adapters for both legs").
func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
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

	levels := s.depthLevels
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "levels must be a positive integer")
			return
		}
		levels = n
	}

	a, err := s.fetchLevels(r.Context(), pair.A, levels)
	if err != nil {
		writeError(w, http.StatusBadGateway, "leg a: "+err.Error())
		return
	}
	b, err := s.fetchLevels(r.Context(), pair.B, levels)
	if err != nil {
		writeError(w, http.StatusBadGateway, "leg b: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, depthResponse{A: a, B: b})
}

// fetchLevels resolves mc to a venue.Market and fetches its top-N order
// book levels through the registered adapter for that leg's venue.
func (s *Server) fetchLevels(ctx context.Context, mc config.MarketConfig, levels int) (venue.OrderBookLevels, error) {
	market, err := s.marketFor(ctx, mc)
	if err != nil {
		return venue.OrderBookLevels{}, err
	}
	adapter, err := s.registry.For(mc.Venue)
	if err != nil {
		return venue.OrderBookLevels{}, err
	}
	return adapter.OrderBookLevels(ctx, market, levels)
}
