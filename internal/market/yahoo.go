package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"

	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
)

// YahooProvider builds snapshots from Yahoo Finance: the equity quote supplies price, bid/ask,
// average volume and the next earnings date; daily chart bars supply ATR(14).
type YahooProvider struct {
	suffix   string
	lookback int
	timeout  time.Duration
	now      func() time.Time
	logger   *logger.Logger

	getEquity func(symbol string) (*finance.Equity, error)
	getBars   func(params *chart.Params) ([]Bar, error)
}

func NewYahooProvider(suffix string, lookbackDays int, timeout time.Duration, log *logger.Logger) *YahooProvider {
	return &YahooProvider{
		suffix:    suffix,
		lookback:  lookbackDays,
		timeout:   timeout,
		now:       time.Now,
		logger:    log.Component("yahoo"),
		getEquity: equity.Get,
		getBars:   chartBars,
	}
}

func (p *YahooProvider) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	ticker := symbol + p.suffix
	now := p.now()

	q, err := fault.WithTimeout(ctx, p.timeout, "yahoo quote", func() (*finance.Equity, error) {
		return p.getEquity(ticker)
	})
	if err != nil {
		return Snapshot{}, classify("yahoo quote", err)
	}
	if q == nil {
		return Snapshot{}, fault.DataUnavailable("quote")
	}
	if q.RegularMarketPrice <= 0 {
		return Snapshot{}, fault.DataUnavailable("price")
	}

	spread, ok := SpreadRatio(q.Bid, q.Ask)
	if !ok {
		return Snapshot{}, fault.DataUnavailable("spread")
	}

	adv := float64(q.AverageDailyVolume10Day)
	if adv == 0 {
		adv = float64(q.AverageDailyVolume3Month)
	}

	snap := Snapshot{
		Symbol:         symbol,
		Price:          q.RegularMarketPrice,
		AvgDailyVolume: adv,
		SpreadRatio:    spread,
		AsOf:           now.UTC(),
	}

	start := now.AddDate(0, 0, -p.lookback)
	bars, err := fault.WithTimeout(ctx, p.timeout, "yahoo chart", func() ([]Bar, error) {
		return p.getBars(&chart.Params{
			Symbol:   ticker,
			Start:    datetime.New(&start),
			End:      datetime.New(&now),
			Interval: datetime.OneDay,
		})
	})
	if err != nil {
		p.logger.Warn("chart bars unavailable, ATR left empty", "symbol", symbol, "error", err)
	} else if atr, ok := ATR(bars, ATRPeriod); ok {
		snap.ATR14 = Float(atr)
	}

	if q.EarningsTimestamp > 0 {
		earnings := time.Unix(int64(q.EarningsTimestamp), 0)
		if !earnings.Before(now) {
			snap.DaysToEarnings = Int(TradingDaysUntil(now, earnings))
		}
	}

	return snap, nil
}

func chartBars(params *chart.Params) ([]Bar, error) {
	iter := chart.Get(params)

	var bars []Bar
	for iter.Next() {
		bar := iter.Bar()
		bars = append(bars, Bar{
			Time:   time.Unix(int64(bar.Timestamp), 0),
			High:   bar.High.InexactFloat64(),
			Low:    bar.Low.InexactFloat64(),
			Close:  bar.Close.InexactFloat64(),
			Volume: float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("chart %s: %w", params.Symbol, err)
	}
	return bars, nil
}

func classify(op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Transient(op, err)
}
