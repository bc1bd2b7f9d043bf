// Package app is the composition root: it builds the rate limiter, venue
// registry, storage handle, and HTTP/WS server exactly once and hands each
// Pair Poller the shared handles it needs (spec §9 "build them once in a
// composition root ... No global mutable singletons"). Grounded on the
// teacher's internal/application wiring style (build dependencies up front,
// pass concrete handles into long-lived goroutines) adapted to this domain's
// narrower dependency graph.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadwatch/internal/config"
	"github.com/sawpanic/spreadwatch/internal/httpapi"
	"github.com/sawpanic/spreadwatch/internal/poller"
	"github.com/sawpanic/spreadwatch/internal/ratelimit"
	"github.com/sawpanic/spreadwatch/internal/storage"
	"github.com/sawpanic/spreadwatch/internal/venue"
)

// App owns every shared handle built from Config and the set of per-pair
// pollers derived from it. Run closes the storage handle when it returns;
// pollers are cancelled through the context passed to Run.
type App struct {
	cfg      config.Config
	Limiter  *ratelimit.Limiter
	Registry venue.Registry
	Store    *storage.Store
	Server   *httpapi.Server

	pollers []*poller.Poller
}

// New builds the full dependency graph from cfg: rate limiter, one adapter
// per distinct venue tag referenced by cfg.Pairs, the sample store (with a
// Redis cache when cfg.RedisAddr is set, an in-process cache otherwise),
// the HTTP/WS server, and one Poller per configured
// pair. It does not start anything — call Run to start serving and polling.
func New(cfg config.Config) (*App, error) {
	limiter := ratelimit.New(toRatelimitConfig(cfg.RateLimits))
	fetchAdminRateLimits(cfg.AdminFetchURL, limiter)

	registry, err := buildRegistry(cfg, limiter)
	if err != nil {
		return nil, fmt.Errorf("app: build venue registry: %w", err)
	}

	store, err := storage.Open(cfg.DBPath, storage.WithCache(storage.NewCacheFromAddr(cfg.RedisAddr)))
	if err != nil {
		return nil, fmt.Errorf("app: open storage: %w", err)
	}

	server, err := httpapi.NewServer(
		httpapi.DefaultServerConfig(cfg.HTTPAddr),
		store,
		registry,
		limiter,
		cfg.Pairs,
		cfg.Fees,
		cfg.DepthLevels,
		cfg.MetricsEnabled,
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app: build http server: %w", err)
	}

	params := poller.Params{
		DepthLevels:      cfg.DepthLevels,
		EnterZ:           cfg.EnterZ,
		ExitZ:            cfg.ExitZ,
		PollMs:           cfg.PollMs,
		StaleMsThreshold: int64(cfg.StaleMsThreshold),
		SkewMsThreshold:  int64(cfg.SkewMsThreshold),
		Fees:             cfg.Fees,
		CycleHours:       cfg.Funding.CycleHours,
		NotionalUsd:      cfg.Funding.NotionalUsd,
		IngestionURL:     cfg.IngestionURL,
	}

	var pollers []*poller.Poller
	for _, pair := range cfg.Pairs {
		p, err := poller.New(pair, registry, cfg.Lookback, cfg.EMAWindow, store, params)
		if err != nil {
			// Spec §7: a poller's own configuration error (unresolved
			// venue) is fatal for that poller only, never the process.
			log.Error().Str("pair", pair.Name).Err(err).Msg("poller not started")
			continue
		}
		pollers = append(pollers, p)
	}

	return &App{
		cfg:      cfg,
		Limiter:  limiter,
		Registry: registry,
		Store:    store,
		Server:   server,
		pollers:  pollers,
	}, nil
}

// buildRegistry constructs one adapter per distinct venue tag referenced by
// cfg.Pairs, dispatching on cfg.VenueKinds (spec §9 "Pair configuration
// refers to venues by tag; the composition root maps tag -> adapter
// instance").
func buildRegistry(cfg config.Config, limiter *ratelimit.Limiter) (venue.Registry, error) {
	registry := make(venue.Registry)
	seen := make(map[string]bool)

	addVenue := func(tag string) error {
		if seen[tag] {
			return nil
		}
		seen[tag] = true

		host, ok := cfg.VenueHosts[tag]
		if !ok || host == "" {
			return fmt.Errorf("venue %q: no host configured", tag)
		}
		kind := cfg.VenueKinds[tag]
		switch kind {
		case "lighterlike":
			registry[tag] = venue.NewLighterlike(tag, host, limiter, 10*time.Second)
		case "asterlike":
			registry[tag] = venue.NewAsterlike(tag, host, limiter, 10*time.Second)
		default:
			return fmt.Errorf("venue %q: unknown venue kind %q", tag, kind)
		}
		return nil
	}

	for _, pair := range cfg.Pairs {
		if err := addVenue(pair.A.Venue); err != nil {
			return nil, fmt.Errorf("pair %s leg a: %w", pair.Name, err)
		}
		if err := addVenue(pair.B.Venue); err != nil {
			return nil, fmt.Errorf("pair %s leg b: %w", pair.Name, err)
		}
	}
	return registry, nil
}

// adminPayload is the shape the panel's admin endpoint returns: a
// "ratelimits" key holding the same (venue, endpoint-class) -> params map
// ratelimit.Config expects, or nothing at all.
type adminPayload struct {
	RateLimits ratelimit.Config `json:"ratelimits"`
}

// fetchAdminRateLimits best-effort GETs cfg.AdminFetchURL at startup and
// applies any "ratelimits" payload to limiter, matching
// original_source/arb/runner_reminder.py's `if admin_url: ... limiter.update(...)`
// startup step. A blank URL is a no-op; a non-200 response, a malformed
// body, or a network error is logged as a warning and startup continues:
// this is a convenience knob for an operator-run panel, not a required
// dependency.
func fetchAdminRateLimits(url string, limiter *ratelimit.Limiter) {
	if url == "" {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Warn().Err(err).Msg("app: admin rate-limit fetch failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("app: admin rate-limit fetch non-200")
		return
	}

	var payload adminPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("app: admin rate-limit fetch decode failed")
		return
	}
	if len(payload.RateLimits) == 0 {
		return
	}
	limiter.Update(payload.RateLimits)
	log.Info().Int("venues", len(payload.RateLimits)).Msg("app: applied admin rate limits at startup")
}

func toRatelimitConfig(in map[string]map[string]config.BucketConfig) ratelimit.Config {
	out := make(ratelimit.Config, len(in))
	for venueTag, endpoints := range in {
		out[venueTag] = make(map[string]ratelimit.BucketConfig, len(endpoints))
		for endpoint, bc := range endpoints {
			out[venueTag][endpoint] = ratelimit.BucketConfig{Capacity: bc.Capacity, Refill: bc.Refill}
		}
	}
	return out
}

// Run starts every poller as an independent goroutine and blocks serving
// HTTP until ctx is cancelled, then shuts the HTTP server down gracefully
// and closes storage (spec §5 "Shutdown closes the database connection and
// adapter HTTP sessions; outstanding pollers are cancelled at the next
// suspension point").
func (a *App) Run(ctx context.Context) error {
	for _, p := range a.pollers {
		go p.Run(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	return a.Store.Close()
}
