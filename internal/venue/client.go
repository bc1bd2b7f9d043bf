package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/spreadwatch/internal/ratelimit"
)

// httpGateway is the shared HTTP + rate-limit + circuit-breaker plumbing
// both concrete adapters build on. Grounded on the teacher's
// internal/providers/kraken/client.go (shared *http.Client with a
// request timeout) and internal/infrastructure/providers/circuitbreakers.go
// (one breaker per provider).
type httpGateway struct {
	venue    string
	client   *http.Client
	limiter  *ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker
}

func newHTTPGateway(venueTag string, limiter *ratelimit.Limiter, timeout time.Duration) *httpGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        venueTag,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &httpGateway{
		venue:   venueTag,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// getJSON performs a rate-limited, circuit-broken GET and decodes the JSON
// body into out. endpointClass tags the rate-limiter bucket this call
// should be charged against (spec §4.2: "using an endpoint-class tag they
// choose").
func (g *httpGateway) getJSON(ctx context.Context, endpointClass, url string, out interface{}) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		if err := g.limiter.Acquire(ctx, g.venue, endpointClass, 1); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		log.Debug().Str("venue", g.venue).Str("endpoint", endpointClass).Err(err).Msg("venue request failed")
		return fmt.Errorf("venue %s: %w", g.venue, err)
	}
	return nil
}
