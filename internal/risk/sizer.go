package risk

import (
	"github.com/shopspring/decimal"

	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/market"
	"github.com/camuig/hype-trader/internal/strategy"
)

// StopATRMultiple places the initial stop two ATR(14) away from entry.
const StopATRMultiple = 2

var hundred = decimal.NewFromInt(100)

type SizerConfig struct {
	RiskPerPositionPct float64
	RewardRiskMultiple float64
	MaxPositionPct     float64
}

// OrderPlan is the sized trading intent. Quantity is in shares; zero means no trade.
type OrderPlan struct {
	Symbol       string          `json:"symbol"`
	Side         strategy.Side   `json:"side"`
	Entry        decimal.Decimal `json:"entry"`
	Stop         decimal.Decimal `json:"stop"`
	Target       decimal.Decimal `json:"target"`
	StopDistance decimal.Decimal `json:"stop_distance"`
	Quantity     int64           `json:"quantity"`
	RiskAmount   decimal.Decimal `json:"risk_amount"`
	RewardRisk   decimal.Decimal `json:"reward_risk"`
	// Reduce is set by the guard when the plan closes part or all of an opposite position.
	Reduce bool `json:"reduce"`
}

func (p OrderPlan) IsTrade() bool { return p.Quantity > 0 }

func (p OrderPlan) Notional() decimal.Decimal {
	return p.Entry.Mul(decimal.NewFromInt(p.Quantity))
}

type Sizer struct {
	cfg SizerConfig
}

func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes stop, target and quantity so that quantity times stop distance does not exceed
// the configured share of equity. Missing or zero ATR is reported as data unavailable.
func (s *Sizer) Size(symbol string, side strategy.Side, snap market.Snapshot, equity float64) (OrderPlan, error) {
	atr, ok := snap.ATR()
	if !ok {
		return OrderPlan{}, fault.DataUnavailable("atr14")
	}
	if snap.Price <= 0 {
		return OrderPlan{}, fault.DataUnavailable("price")
	}

	entry := decimal.NewFromFloat(snap.Price)
	stopDistance := decimal.NewFromFloat(atr).Mul(decimal.NewFromInt(StopATRMultiple))
	riskAmount := s.riskBudget(equity)
	multiple := decimal.NewFromFloat(s.cfg.RewardRiskMultiple)

	qty := int64(0)
	if riskAmount.IsPositive() {
		qty = riskAmount.Div(stopDistance).Floor().IntPart()
	}
	if qty < 1 {
		qty = 0
	}

	reward := stopDistance.Mul(multiple)
	plan := OrderPlan{
		Symbol:       symbol,
		Side:         side,
		Entry:        entry,
		StopDistance: stopDistance,
		Quantity:     qty,
		RiskAmount:   riskAmount,
		RewardRisk:   multiple,
	}
	if side == strategy.SideShort {
		plan.Stop = entry.Add(stopDistance)
		plan.Target = entry.Sub(reward)
	} else {
		plan.Stop = entry.Sub(stopDistance)
		plan.Target = entry.Add(reward)
	}
	return plan, nil
}

// ClosePlan is the order that flattens a held position. It needs no ATR or risk budget and
// places no protective legs.
func ClosePlan(symbol string, side strategy.Side, price float64, position int64) OrderPlan {
	return OrderPlan{
		Symbol:   symbol,
		Side:     side,
		Entry:    decimal.NewFromFloat(price),
		Quantity: abs(position),
		Reduce:   true,
	}
}

// ProjectedNotional is the order value the liquidity gate checks before sizing.
// Without ATR it falls back to the per-position cap.
func (s *Sizer) ProjectedNotional(snap market.Snapshot, equity float64) float64 {
	if atr, ok := snap.ATR(); ok && snap.Price > 0 {
		stopDistance := decimal.NewFromFloat(atr).Mul(decimal.NewFromInt(StopATRMultiple))
		qty := s.riskBudget(equity).Div(stopDistance).Floor()
		return qty.Mul(decimal.NewFromFloat(snap.Price)).InexactFloat64()
	}
	return decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.cfg.MaxPositionPct)).Div(hundred).InexactFloat64()
}

func (s *Sizer) riskBudget(equity float64) decimal.Decimal {
	if equity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.cfg.RiskPerPositionPct)).Div(hundred)
}
