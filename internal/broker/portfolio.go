package broker

import (
	"context"
	"math"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/hype-trader/internal/strategy"
)

type Position struct {
	Symbol        string
	InstrumentUID string
	// Quantity is in shares, negative for a short.
	Quantity     int64
	AvgPrice     float64
	CurrentPrice float64
	PnL          float64
}

type Account struct {
	Equity    float64
	Cash      float64
	Positions []Position
}

// Holdings maps symbol to the signed share position.
func (a Account) Holdings() map[string]int64 {
	out := make(map[string]int64, len(a.Positions))
	for _, p := range a.Positions {
		if p.Quantity != 0 {
			out[p.Symbol] += p.Quantity
		}
	}
	return out
}

func (a Account) OpenPositions() int {
	n := 0
	for _, q := range a.Holdings() {
		if q != 0 {
			n++
		}
	}
	return n
}

type portfolioResponse interface {
	GetTotalAmountPortfolio() *pb.MoneyValue
	GetTotalAmountCurrencies() *pb.MoneyValue
	GetPositions() []*pb.PortfolioPosition
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	accountID := c.AccountID()
	resp, err := call(ctx, c, "get portfolio", func() (portfolioResponse, error) {
		if c.sandbox {
			r, err := c.sdk.NewSandboxServiceClient().GetSandboxPortfolio(accountID, pb.PortfolioRequest_RUB)
			if err != nil {
				return nil, err
			}
			return r.PortfolioResponse, nil
		}
		r, err := c.sdk.NewOperationsServiceClient().GetPortfolio(accountID, pb.PortfolioRequest_RUB)
		if err != nil {
			return nil, err
		}
		return r.PortfolioResponse, nil
	})
	if err != nil {
		return Account{}, err
	}

	acc := Account{}
	if total := resp.GetTotalAmountPortfolio(); total != nil {
		acc.Equity = total.ToFloat()
	}
	if cash := resp.GetTotalAmountCurrencies(); cash != nil {
		acc.Cash = cash.ToFloat()
	}

	for _, pos := range resp.GetPositions() {
		if pos.GetInstrumentType() == "currency" {
			continue
		}
		p := Position{InstrumentUID: pos.GetInstrumentUid()}
		ticker, err := c.Ticker(ctx, p.InstrumentUID)
		if err != nil {
			return Account{}, err
		}
		p.Symbol = ticker
		if q := pos.GetQuantity(); q != nil {
			p.Quantity = int64(math.Round(q.ToFloat()))
		}
		if ap := pos.GetAveragePositionPrice(); ap != nil {
			p.AvgPrice = ap.ToFloat()
		}
		if cp := pos.GetCurrentPrice(); cp != nil {
			p.CurrentPrice = cp.ToFloat()
		}
		if ey := pos.GetExpectedYield(); ey != nil {
			p.PnL = ey.ToFloat()
		}
		acc.Positions = append(acc.Positions, p)
	}

	return acc, nil
}

// ClosePosition sends a market order that flattens p. orderID makes a repeated close idempotent.
func (c *Client) ClosePosition(ctx context.Context, p Position, orderID string) (*OrderResult, error) {
	inst, err := c.Instrument(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	side := strategy.SideShort
	qty := p.Quantity
	if qty < 0 {
		side = strategy.SideLong
		qty = -qty
	}
	lots := inst.Lots(qty)
	if lots < 1 {
		return &OrderResult{Status: StatusUnknown}, nil
	}
	return c.postMarket(ctx, inst, side, lots, orderID)
}
