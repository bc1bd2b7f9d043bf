// Package httpapi is the ingestion, query, fanout, and admin HTTP surface
// (spec §4.6, §6): a gorilla/mux router serving JSON query endpoints, a
// POST ingestion endpoint that persists and broadcasts, a WebSocket stream
// per pair, and admin endpoints for the rate limiter. Grounded on
// original_source/arb/panel/server.py's FastAPI routes and the teacher's
// internal/interfaces/http/server.go middleware chain.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadwatch/internal/config"
	"github.com/sawpanic/spreadwatch/internal/ratelimit"
	"github.com/sawpanic/spreadwatch/internal/storage"
	"github.com/sawpanic/spreadwatch/internal/venue"
)

// ServerConfig holds the listener address and per-request timeouts.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns the address from cfg.HTTPAddr with the
// teacher's timeout values.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:           addr,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Server is the composition root's HTTP front end: it owns no business
// logic beyond request parsing, delegating to Storage, the venue Registry,
// and the RateLimiter built elsewhere (spec §9 "build them once in a
// composition root").
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	cfg        ServerConfig

	store    *storage.Store
	registry venue.Registry
	limiter  *ratelimit.Limiter

	pairs       []config.PairConfig
	fees        map[string]config.FeeConfig
	depthLevels int

	ws *wsManager

	metrics *metricsSet
}

// NewServer probes the configured address for availability, then builds
// the router, middleware chain, and WebSocket manager. It best-effort
// prefetches lighter-style market maps so /api/depth and /api/simulate can
// resolve symbol -> market-id without a request-time round trip.
func NewServer(
	cfg ServerConfig,
	store *storage.Store,
	registry venue.Registry,
	limiter *ratelimit.Limiter,
	pairs []config.PairConfig,
	fees map[string]config.FeeConfig,
	depthLevels int,
	metricsEnabled bool,
) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("httpapi: address %s unavailable: %w", cfg.Addr, err)
	}
	ln.Close()

	s := &Server{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		limiter:     limiter,
		pairs:       pairs,
		fees:        fees,
		depthLevels: depthLevels,
		ws:          newWSManager(),
		metrics:     newMetricsSet(metricsEnabled),
	}

	s.resolveMarketIDs(context.Background())
	s.router = mux.NewRouter()
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/stream", s.handleWSStream)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/spreads", s.handleSpreads).Methods(http.MethodGet)
	api.HandleFunc("/pairs", s.handlePairs).Methods(http.MethodGet)
	api.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/stats/bins", s.handleStatsBins).Methods(http.MethodGet)
	api.HandleFunc("/depth", s.handleDepth).Methods(http.MethodGet)
	api.HandleFunc("/simulate", s.handleSimulate).Methods(http.MethodGet)
	api.HandleFunc("/ingest/spread", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/admin/config", s.handleAdminGet).Methods(http.MethodGet)
	api.HandleFunc("/admin/config", s.handleAdminSet).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Start serves until the listener errors (including on Shutdown, which
// returns http.ErrServerClosed).
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("httpapi: starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("httpapi: shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// responseWrapper captures the status code written so the logging
// middleware can report it after the handler returns.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("httpapi: request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows any origin; this API has no auth model and is
// meant for a local-network dashboard, matching the original's permissive
// CORSMiddleware(allow_origins=["*"]).
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// resolveMarketIDs prefetches symbol->market-id maps for every
// lighter-style adapter in the registry, mirroring the original's
// app.state.lighter_map startup prefetch. Failure is non-fatal: unresolved
// legs are rejected per-request instead.
func (s *Server) resolveMarketIDs(ctx context.Context) {
	for tag, adapter := range s.registry {
		ll, ok := adapter.(*venue.Lighterlike)
		if !ok {
			continue
		}
		if _, err := ll.FetchMarketMap(ctx); err != nil {
			log.Warn().Err(err).Str("venue", tag).Msg("httpapi: market map prefetch failed")
		}
	}
}

// findPair returns the configured pair definition by name.
func (s *Server) findPair(name string) (config.PairConfig, bool) {
	for _, p := range s.pairs {
		if p.Name == name {
			return p, true
		}
	}
	return config.PairConfig{}, false
}

// marketFor resolves a leg's venue.Market, consulting the adapter's own
// symbol resolution when no explicit market-id is configured.
func (s *Server) marketFor(ctx context.Context, mc config.MarketConfig) (venue.Market, error) {
	m := venue.Market{Venue: mc.Venue, Symbol: mc.Symbol, MarketID: mc.MarketID}
	if m.MarketID != nil {
		return m, nil
	}
	adapter, err := s.registry.For(mc.Venue)
	if err != nil {
		return m, err
	}
	if ll, ok := adapter.(*venue.Lighterlike); ok {
		id, err := ll.ResolveMarketID(ctx, mc.Symbol)
		if err != nil {
			return m, err
		}
		m.MarketID = &id
	}
	return m, nil
}
