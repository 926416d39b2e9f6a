package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/hype-trader/internal/fault"
)

type Instrument struct {
	UID    string
	Ticker string
	Lot    int64
	// Tick is the minimum price increment; zero when the broker did not report one.
	Tick decimal.Decimal
}

// Instrument resolves a ticker to its tradable instrument, caching the answer for the process lifetime.
func (c *Client) Instrument(ctx context.Context, ticker string) (Instrument, error) {
	c.mu.RLock()
	inst, ok := c.instruments[ticker]
	c.mu.RUnlock()
	if ok {
		return inst, nil
	}

	svc := c.sdk.NewInstrumentsServiceClient()
	found, err := call(ctx, c, "find instrument", func() ([]Instrument, error) {
		resp, err := svc.FindInstrument(ticker)
		if err != nil {
			return nil, err
		}
		var out []Instrument
		for _, i := range resp.GetInstruments() {
			if i.GetTicker() != ticker || !i.GetApiTradeAvailableFlag() {
				continue
			}
			out = append(out, Instrument{UID: i.GetUid(), Ticker: i.GetTicker()})
		}
		return out, nil
	})
	if err != nil {
		return Instrument{}, err
	}
	if len(found) == 0 {
		return Instrument{}, fault.Permanent("find instrument", fmt.Errorf("instrument not found: %s", ticker))
	}

	inst, err = c.instrumentByUID(ctx, found[0].UID)
	if err != nil {
		return Instrument{}, err
	}
	c.remember(inst)
	return inst, nil
}

// Ticker maps an instrument uid reported in the portfolio back to its ticker.
func (c *Client) Ticker(ctx context.Context, uid string) (string, error) {
	c.mu.RLock()
	ticker, ok := c.tickers[uid]
	c.mu.RUnlock()
	if ok {
		return ticker, nil
	}

	inst, err := c.instrumentByUID(ctx, uid)
	if err != nil {
		return "", err
	}
	c.remember(inst)
	return inst.Ticker, nil
}

func (c *Client) instrumentByUID(ctx context.Context, uid string) (Instrument, error) {
	svc := c.sdk.NewInstrumentsServiceClient()
	return call(ctx, c, "instrument by uid", func() (Instrument, error) {
		resp, err := svc.InstrumentByUid(uid)
		if err != nil {
			return Instrument{}, fmt.Errorf("instrument by uid %s: %w", uid, err)
		}
		i := resp.GetInstrument()
		inst := Instrument{UID: i.GetUid(), Ticker: i.GetTicker(), Lot: int64(i.GetLot())}
		if inc := i.GetMinPriceIncrement(); inc != nil {
			inst.Tick = decimal.NewFromFloat(inc.ToFloat())
		}
		if inst.Lot < 1 {
			inst.Lot = 1
		}
		return inst, nil
	})
}

func (c *Client) remember(inst Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.Ticker] = inst
	c.tickers[inst.UID] = inst.Ticker
}

// Lots converts a share quantity to whole lots, rounding down.
func (i Instrument) Lots(shares int64) int64 {
	if i.Lot <= 1 {
		return shares
	}
	return shares / i.Lot
}

// RoundPrice snaps a price to the instrument's tick size.
func (i Instrument) RoundPrice(p decimal.Decimal) decimal.Decimal {
	if !i.Tick.IsPositive() {
		return p
	}
	return p.Div(i.Tick).Round(0).Mul(i.Tick)
}
