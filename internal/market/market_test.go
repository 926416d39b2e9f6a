package market

import (
	"context"
	"errors"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
)

func flatBars(n int, rangeWidth float64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{High: 100 + rangeWidth/2, Low: 100 - rangeWidth/2, Close: 100, Volume: 1000}
	}
	return bars
}

func TestATR(t *testing.T) {
	atr, ok := ATR(flatBars(15, 2), ATRPeriod)
	require.True(t, ok)
	assert.InDelta(t, 2.0, atr, 1e-9)

	atr, ok = ATR(flatBars(40, 4), ATRPeriod)
	require.True(t, ok)
	assert.InDelta(t, 4.0, atr, 1e-9)

	_, ok = ATR(flatBars(14, 2), ATRPeriod)
	assert.False(t, ok, "needs period+1 bars")

	_, ok = ATR(flatBars(20, 0), ATRPeriod)
	assert.False(t, ok, "zero range is unusable")
}

func TestATRUsesPreviousClose(t *testing.T) {
	bars := flatBars(15, 2)
	// gap up: true range is high minus previous close
	bars[14] = Bar{High: 110, Low: 108, Close: 109}

	atr, ok := ATR(bars, ATRPeriod)
	require.True(t, ok)
	assert.InDelta(t, (13*2.0+10)/14, atr, 1e-9)
}

func TestAverageVolume(t *testing.T) {
	bars := []Bar{{Volume: 10}, {Volume: 20}, {Volume: 30}}
	assert.Equal(t, 25.0, AverageVolume(bars, 2))
	assert.Equal(t, 20.0, AverageVolume(bars, 20))
	assert.Equal(t, 0.0, AverageVolume(nil, 20))
}

func TestSpreadRatio(t *testing.T) {
	r, ok := SpreadRatio(99, 101)
	require.True(t, ok)
	assert.InDelta(t, 0.02, r, 1e-12)

	_, ok = SpreadRatio(0, 101)
	assert.False(t, ok)
	_, ok = SpreadRatio(102, 101)
	assert.False(t, ok)
}

func TestTradingDaysUntil(t *testing.T) {
	friday := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	tuesday := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, TradingDaysUntil(friday, tuesday))
	assert.Equal(t, 0, TradingDaysUntil(friday, friday.Add(time.Hour)))
	assert.Equal(t, -2, TradingDaysUntil(tuesday, friday))
}

func TestSnapshotATR(t *testing.T) {
	_, ok := Snapshot{}.ATR()
	assert.False(t, ok)
	_, ok = Snapshot{ATR14: Float(0)}.ATR()
	assert.False(t, ok)
	v, ok := Snapshot{ATR14: Float(1.5)}.ATR()
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func newFakeYahoo(q *finance.Equity, bars []Bar, barsErr error) *YahooProvider {
	p := NewYahooProvider(".ME", 30, time.Second, logger.Discard())
	p.now = func() time.Time { return time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC) }
	p.getEquity = func(string) (*finance.Equity, error) { return q, nil }
	p.getBars = func(*chart.Params) ([]Bar, error) { return bars, barsErr }
	return p
}

func TestYahooSnapshot(t *testing.T) {
	q := &finance.Equity{}
	q.RegularMarketPrice = 310
	q.Bid = 309.9
	q.Ask = 310.1
	q.AverageDailyVolume10Day = 2_500_000
	q.EarningsTimestamp = int(time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC).Unix())

	snap, err := newFakeYahoo(q, flatBars(20, 3), nil).Snapshot(context.Background(), "SBER")
	require.NoError(t, err)

	assert.Equal(t, "SBER", snap.Symbol)
	assert.Equal(t, 310.0, snap.Price)
	assert.Equal(t, 2_500_000.0, snap.AvgDailyVolume)
	assert.InDelta(t, 0.2/310, snap.SpreadRatio, 1e-12)
	atr, ok := snap.ATR()
	require.True(t, ok)
	assert.InDelta(t, 3.0, atr, 1e-9)
	require.NotNil(t, snap.DaysToEarnings)
	assert.Equal(t, 2, *snap.DaysToEarnings)
}

func TestYahooSnapshotLeavesATRUnavailable(t *testing.T) {
	q := &finance.Equity{}
	q.RegularMarketPrice = 310
	q.Bid = 309.9
	q.Ask = 310.1

	snap, err := newFakeYahoo(q, nil, errors.New("chart down")).Snapshot(context.Background(), "SBER")
	require.NoError(t, err)
	assert.Nil(t, snap.ATR14)
	assert.Nil(t, snap.DaysToEarnings)
}

func TestYahooSnapshotMissingPrice(t *testing.T) {
	_, err := newFakeYahoo(&finance.Equity{}, nil, nil).Snapshot(context.Background(), "SBER")
	require.Error(t, err)
	assert.True(t, fault.IsDataUnavailable(err))
}

func TestYahooQuoteFailureIsTransient(t *testing.T) {
	p := newFakeYahoo(nil, nil, nil)
	p.getEquity = func(string) (*finance.Equity, error) { return nil, errors.New("connection reset") }

	_, err := p.Snapshot(context.Background(), "SBER")
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err))
}
