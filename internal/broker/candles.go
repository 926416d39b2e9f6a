package broker

import (
	"context"
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/market"
)

// avgVolumeDays is the window for average daily volume.
const avgVolumeDays = 20

type book struct {
	bid, ask, last float64
}

// Snapshot builds market facts from daily candles and the top of the order book.
// The broker has no earnings calendar, so DaysToEarnings is always unavailable.
func (c *Client) Snapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return market.Snapshot{}, err
	}

	now := time.Now()
	from := now.AddDate(0, 0, -c.lookback)
	md := c.sdk.NewMarketDataServiceClient()

	bars, err := call(ctx, c, "get candles", func() ([]market.Bar, error) {
		resp, err := md.GetCandles(
			inst.UID,
			pb.CandleInterval_CANDLE_INTERVAL_DAY,
			from, now,
			pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
			0,
		)
		if err != nil {
			return nil, err
		}
		return barsFrom(resp.GetCandles(), inst.Lot), nil
	})
	if err != nil {
		return market.Snapshot{}, err
	}

	top, err := call(ctx, c, "get order book", func() (book, error) {
		resp, err := md.GetOrderBook(inst.UID, 1)
		if err != nil {
			return book{}, err
		}
		var b book
		if bids := resp.GetBids(); len(bids) > 0 {
			b.bid = bids[0].GetPrice().ToFloat()
		}
		if asks := resp.GetAsks(); len(asks) > 0 {
			b.ask = asks[0].GetPrice().ToFloat()
		}
		if lp := resp.GetLastPrice(); lp != nil {
			b.last = lp.ToFloat()
		}
		return b, nil
	})
	if err != nil {
		return market.Snapshot{}, err
	}

	return buildSnapshot(symbol, bars, top, now)
}

// barsFrom converts candles to bars with volume in shares; the API reports lots.
func barsFrom(candles []*pb.HistoricCandle, lot int64) []market.Bar {
	bars := make([]market.Bar, 0, len(candles))
	for _, cd := range candles {
		bars = append(bars, market.Bar{
			Time:   cd.GetTime().AsTime(),
			High:   cd.GetHigh().ToFloat(),
			Low:    cd.GetLow().ToFloat(),
			Close:  cd.GetClose().ToFloat(),
			Volume: float64(cd.GetVolume() * lot),
		})
	}
	return bars
}

func buildSnapshot(symbol string, bars []market.Bar, top book, now time.Time) (market.Snapshot, error) {
	price := top.last
	if price <= 0 && len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}
	if price <= 0 {
		return market.Snapshot{}, fault.DataUnavailable("price")
	}

	spread, ok := market.SpreadRatio(top.bid, top.ask)
	if !ok {
		return market.Snapshot{}, fault.DataUnavailable("spread")
	}

	snap := market.Snapshot{
		Symbol:         symbol,
		Price:          price,
		AvgDailyVolume: market.AverageVolume(bars, avgVolumeDays),
		SpreadRatio:    spread,
		AsOf:           now.UTC(),
	}
	if atr, ok := market.ATR(bars, market.ATRPeriod); ok {
		snap.ATR14 = market.Float(atr)
	}
	return snap, nil
}
