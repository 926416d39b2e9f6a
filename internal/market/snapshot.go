// Package market describes the point-in-time facts the strategy needs for one instrument
// and the providers that supply them.
package market

import (
	"context"
	"time"
)

// Snapshot is fetched fresh every cycle. ATR14 and DaysToEarnings are nil when the provider
// cannot supply them; nil means unavailable, never zero.
type Snapshot struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	AvgDailyVolume float64   `json:"avg_daily_volume"`
	SpreadRatio    float64   `json:"spread_ratio"`
	ATR14          *float64  `json:"atr14,omitempty"`
	DaysToEarnings *int      `json:"days_to_earnings,omitempty"`
	AsOf           time.Time `json:"as_of"`
}

// ATR returns ATR(14) and whether it is usable for sizing.
func (s Snapshot) ATR() (float64, bool) {
	if s.ATR14 == nil || *s.ATR14 <= 0 {
		return 0, false
	}
	return *s.ATR14, true
}

type Provider interface {
	Snapshot(ctx context.Context, symbol string) (Snapshot, error)
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
