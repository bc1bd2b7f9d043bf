package httpapi

import (
	"context"

	"github.com/sawpanic/spreadwatch/internal/venue"
)

// fakeAdapter is a scripted venue.Adapter for handler tests: it returns
// whatever levels/mid/fees are stashed on it rather than hitting a network.
type fakeAdapter struct {
	mid    float64
	levels venue.OrderBookLevels
}

func (f *fakeAdapter) MidPrice(ctx context.Context, leg venue.Market) (float64, error) {
	return f.mid, nil
}

func (f *fakeAdapter) OrderBookSummary(ctx context.Context, leg venue.Market, levels int) (venue.OrderBookSummary, error) {
	return venue.OrderBookSummary{}, nil
}

func (f *fakeAdapter) OrderBookLevels(ctx context.Context, leg venue.Market, levels int) (venue.OrderBookLevels, error) {
	return f.levels, nil
}

func (f *fakeAdapter) Stats24h(ctx context.Context, leg venue.Market) (venue.Stats24h, error) {
	return venue.Stats24h{}, nil
}

func (f *fakeAdapter) Fees(ctx context.Context, leg venue.Market) (venue.Fees, error) {
	return venue.Fees{}, nil
}

func (f *fakeAdapter) FundingInfo(ctx context.Context, leg venue.Market, cycleHours int) (venue.FundingInfo, error) {
	return venue.FundingInfo{}, nil
}
