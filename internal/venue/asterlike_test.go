package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsterlike_MidPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/ticker/bookTicker", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"50000.0","bidQty":"1","askPrice":"50010.0","askQty":"1"}`))
	}))
	defer srv.Close()

	a := NewAsterlike("test", srv.URL, newTestLimiter(), time.Second)
	px, err := a.MidPrice(context.Background(), Market{Venue: "test", Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.InDelta(t, 50005.0, px, 1e-9)
}

func TestAsterlike_MidPrice_NoBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"0","askPrice":"0"}`))
	}))
	defer srv.Close()

	a := NewAsterlike("test", srv.URL, newTestLimiter(), time.Second)
	_, err := a.MidPrice(context.Background(), Market{Venue: "test", Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, ErrNoBook)
}

func TestAsterlike_OrderBookSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[["100.0","2.0"],["99.0","1.0"]],"asks":[["101.0","1.0"],["102.0","3.0"]]}`))
	}))
	defer srv.Close()

	a := NewAsterlike("test", srv.URL, newTestLimiter(), time.Second)
	sum, err := a.OrderBookSummary(context.Background(), Market{Venue: "test", Symbol: "BTCUSDT"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 100.0, sum.BestBid)
	assert.Equal(t, 101.0, sum.BestAsk)
	assert.InDelta(t, 2.0+1.0+1.0+3.0, sum.DepthQty, 1e-9)
}

func TestAsterlike_Fees(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","makerCommissionRate":"0.0002","takerCommissionRate":"0.0004"}`))
	}))
	defer srv.Close()

	a := NewAsterlike("test", srv.URL, newTestLimiter(), time.Second)
	fees, err := a.Fees(context.Background(), Market{Venue: "test", Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.NotNil(t, fees.Maker)
	require.NotNil(t, fees.Taker)
	assert.InDelta(t, 0.0002, *fees.Maker, 1e-9)
	assert.InDelta(t, 0.0004, *fees.Taker, 1e-9)
}

func TestAsterlike_FundingInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","lastFundingRate":"0.0001","nextFundingTime":1999999999000}`))
	}))
	defer srv.Close()

	a := NewAsterlike("test", srv.URL, newTestLimiter(), time.Second)
	fi, err := a.FundingInfo(context.Background(), Market{Venue: "test", Symbol: "BTCUSDT"}, 8)
	require.NoError(t, err)
	require.NotNil(t, fi.Rate)
	assert.InDelta(t, 0.0001, *fi.Rate, 1e-12)
	require.NotNil(t, fi.NextTimeMs)
	assert.Equal(t, int64(1999999999000), *fi.NextTimeMs)
}

func TestAsterlike_CircuitBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAsterlike("test-cb", srv.URL, newTestLimiter(), time.Second)
	for i := 0; i < 5; i++ {
		_, err := a.MidPrice(context.Background(), Market{Venue: "test-cb", Symbol: "BTCUSDT"})
		assert.Error(t, err)
	}
	_, err := a.MidPrice(context.Background(), Market{Venue: "test-cb", Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
