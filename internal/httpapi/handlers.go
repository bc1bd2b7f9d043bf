package httpapi

import (
	"net/http"
	"strconv"

	"github.com/sawpanic/spreadwatch/internal/ratelimit"
	"github.com/sawpanic/spreadwatch/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSpreads serves spec §4.6 "spreads": ascending order, limit clamped
// to (0, 5000].
func (s *Server) handleSpreads(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}
	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 5000 {
		limit = 5000
	}

	rows, err := s.store.Spreads(r.Context(), pair, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Storage returns newest-first; charts want ascending.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	writeJSON(w, http.StatusOK, rows)
}

// handlePairs falls back to the configured pair names when storage has
// never been written to (spec §4.6 "pairs").
func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Pairs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		rows = make([]string, 0, len(s.pairs))
		for _, p := range s.pairs {
			rows = append(rows, p.Name)
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LatestAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

var defaultAdminConfig = storage.AdminConfig{
	RateLimits: map[string]map[string]storage.BucketConfig{
		"aster":   {"global": {Capacity: 20, Refill: 10.0}},
		"lighter": {"global": {Capacity: 20, Refill: 10.0}},
	},
}

func (s *Server) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.AdminGet(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, defaultAdminConfig)
		return
	}
	writeJSON(w, http.StatusOK, *cfg)
}

// handleAdminSet persists the new rate-limit configuration and applies it
// to the live limiter in the same call (spec §4.6 "POST admin/config...
// also invokes RateLimiter.update").
func (s *Server) handleAdminSet(w http.ResponseWriter, r *http.Request) {
	var cfg storage.AdminConfig
	if err := decodeJSONBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.RateLimits == nil {
		writeError(w, http.StatusBadRequest, "missing ratelimits")
		return
	}
	if err := s.store.AdminSet(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.limiter.Update(toRatelimitConfig(cfg.RateLimits))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toRatelimitConfig(in map[string]map[string]storage.BucketConfig) ratelimit.Config {
	out := make(ratelimit.Config, len(in))
	for venueTag, endpoints := range in {
		out[venueTag] = make(map[string]ratelimit.BucketConfig, len(endpoints))
		for endpoint, bc := range endpoints {
			out[venueTag][endpoint] = ratelimit.BucketConfig{Capacity: bc.Capacity, Refill: bc.Refill}
		}
	}
	return out
}
