package strategy

import (
	"github.com/camuig/hype-trader/internal/market"
	"github.com/camuig/hype-trader/internal/signal"
)

type Gate string

const (
	GatePriceFloor       Gate = "price_floor"
	GateVolumeFloor      Gate = "volume_floor"
	GateSpreadCeiling    Gate = "spread_ceiling"
	GateEarningsBlackout Gate = "earnings_blackout"
	GateLiquidity        Gate = "liquidity"
)

// Gates lists every gate in evaluation order.
var Gates = []Gate{GatePriceFloor, GateVolumeFloor, GateSpreadCeiling, GateEarningsBlackout, GateLiquidity}

type GateConfig struct {
	MinPrice             float64
	MinAvgVolume         float64
	MaxSpreadRatio       float64
	EarningsBlackoutDays int
	RequireEarningsDate  bool
	LiquidityFraction    float64
}

type Check struct {
	Gate   Gate    `json:"gate"`
	Passed bool    `json:"passed"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
	Note   string  `json:"note,omitempty"`
}

type GateResult struct {
	Checks  []Check `json:"checks"`
	Overall bool    `json:"overall"`
}

func (r GateResult) Passed(g Gate) bool {
	for _, c := range r.Checks {
		if c.Gate == g {
			return c.Passed
		}
	}
	return false
}

func (r GateResult) Failed() []Gate {
	var failed []Gate
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c.Gate)
		}
	}
	return failed
}

// Evaluate applies every gate to the decision and snapshot. All five checks are always computed.
// projectedNotional is the currency value of the order the cycle intends to place.
func Evaluate(d signal.Decision, s market.Snapshot, projectedNotional float64, cfg GateConfig) GateResult {
	checks := []Check{
		{
			Gate:   GatePriceFloor,
			Passed: s.Price >= cfg.MinPrice,
			Value:  s.Price,
			Limit:  cfg.MinPrice,
		},
		{
			Gate:   GateVolumeFloor,
			Passed: s.AvgDailyVolume >= cfg.MinAvgVolume,
			Value:  s.AvgDailyVolume,
			Limit:  cfg.MinAvgVolume,
		},
		{
			Gate:   GateSpreadCeiling,
			Passed: s.SpreadRatio <= cfg.MaxSpreadRatio,
			Value:  s.SpreadRatio,
			Limit:  cfg.MaxSpreadRatio,
		},
		earningsCheck(d, s, cfg),
		liquidityCheck(s, projectedNotional, cfg),
	}

	overall := true
	for _, c := range checks {
		overall = overall && c.Passed
	}
	return GateResult{Checks: checks, Overall: overall}
}

func earningsCheck(d signal.Decision, s market.Snapshot, cfg GateConfig) Check {
	c := Check{Gate: GateEarningsBlackout, Limit: float64(cfg.EarningsBlackoutDays)}

	if d.Catalyst == signal.CatalystEarnings {
		c.Passed = true
		c.Note = "earnings catalyst"
		if s.DaysToEarnings != nil {
			c.Value = float64(*s.DaysToEarnings)
		}
		return c
	}

	if s.DaysToEarnings == nil {
		c.Passed = !cfg.RequireEarningsDate
		c.Note = "earnings date unavailable"
		return c
	}

	c.Value = float64(*s.DaysToEarnings)
	c.Passed = *s.DaysToEarnings > cfg.EarningsBlackoutDays
	return c
}

func liquidityCheck(s market.Snapshot, notional float64, cfg GateConfig) Check {
	limit := cfg.LiquidityFraction * s.AvgDailyVolume * s.Price
	return Check{
		Gate:   GateLiquidity,
		Passed: notional <= limit,
		Value:  notional,
		Limit:  limit,
	}
}
