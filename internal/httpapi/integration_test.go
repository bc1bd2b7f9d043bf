package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadwatch/internal/config"
	"github.com/sawpanic/spreadwatch/internal/ratelimit"
	"github.com/sawpanic/spreadwatch/internal/storage"
	"github.com/sawpanic/spreadwatch/internal/venue"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := openHTTPTestStore(t)

	registry := venue.Registry{
		"lighter": &fakeAdapter{
			mid: 100.0,
			levels: venue.OrderBookLevels{
				Bids: []venue.Level{{Price: 100, Qty: 1}, {Price: 99, Qty: 2}},
				Asks: []venue.Level{{Price: 101, Qty: 1}, {Price: 102, Qty: 2}},
			},
		},
		"aster": &fakeAdapter{
			mid: 99.5,
			levels: venue.OrderBookLevels{
				Bids: []venue.Level{{Price: 99.5, Qty: 1}},
				Asks: []venue.Level{{Price: 100.5, Qty: 1}},
			},
		},
	}

	pairs := []config.PairConfig{{
		Name: "BTC-A/BTC-B",
		A:    config.MarketConfig{Venue: "lighter", Symbol: "BTC"},
		B:    config.MarketConfig{Venue: "aster", Symbol: "BTCUSDT"},
	}}

	limiter := ratelimit.New(ratelimit.Config{})

	srv, err := NewServer(DefaultServerConfig("127.0.0.1:0"), store, registry, limiter, pairs, nil, 5, false)
	require.NoError(t, err)
	return srv
}

func openHTTPTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleDepth_ReturnsBothLegs(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/depth?pair=BTC-A/BTC-B", nil)
	rec := httptest.NewRecorder()
	s.handleDepth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body depthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.A.Bids, 2)
	require.Len(t, body.B.Asks, 1)
}

func TestHandleDepth_UnknownPair(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/depth?pair=nope", nil)
	rec := httptest.NewRecorder()
	s.handleDepth(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSimulate_S4Example(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulate?pair=BTC-A/BTC-B&notional_usd=150&pattern=enter_short_A_long_B", nil)
	rec := httptest.NewRecorder()
	s.handleSimulate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body simulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "sell", body.A.Side)
	require.InDelta(t, 99.6667, body.A.AvgExec, 1e-3)
}

func TestHandleSimulate_BadPattern(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulate?pair=BTC-A/BTC-B&notional_usd=150&pattern=bogus", nil)
	rec := httptest.NewRecorder()
	s.handleSimulate(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatsBins_EmptyStoreOk(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats/bins?pair=BTC-A/BTC-B", nil)
	rec := httptest.NewRecorder()
	s.handleStatsBins(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body binStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Stats)
	for _, b := range body.Stats {
		require.Equal(t, 0, b.Samples)
	}
}

func TestHandleStatsBins_MissingPair(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats/bins", nil)
	rec := httptest.NewRecorder()
	s.handleStatsBins(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics_HandlerServesWhenEnabled(t *testing.T) {
	m := newMetricsSet(true)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_HandlerNoopWhenDisabled(t *testing.T) {
	m := newMetricsSet(false)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestStatusClassOf(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx"}
	for code, want := range cases {
		require.Equal(t, want, statusClassOf(code))
	}
}
