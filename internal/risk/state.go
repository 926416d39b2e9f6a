package risk

import "time"

// PortfolioState is loaded from storage at pass start, observed once, and written back at pass end.
type PortfolioState struct {
	PeakEquity    float64   `json:"peak_equity"`
	CurrentEquity float64   `json:"current_equity"`
	Drawdown      float64   `json:"drawdown"`
	OpenPositions int       `json:"open_positions"`
	KillSwitch    bool      `json:"kill_switch"`
	KillSwitchAt  time.Time `json:"kill_switch_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Observe records the latest equity, recomputes drawdown against the peak watermark and
// latches the kill switch once drawdown exceeds maxDrawdown. It reports whether the switch tripped now.
func (s *PortfolioState) Observe(equity float64, openPositions int, maxDrawdown float64, now time.Time) bool {
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
	s.CurrentEquity = equity
	s.OpenPositions = openPositions
	s.UpdatedAt = now

	s.Drawdown = 0
	if s.PeakEquity > 0 {
		s.Drawdown = (s.PeakEquity - equity) / s.PeakEquity
	}

	if !s.KillSwitch && s.Drawdown > maxDrawdown {
		s.KillSwitch = true
		s.KillSwitchAt = now
		return true
	}
	return false
}

// ClearKillSwitch is the manual reset. The peak is re-based to current equity so the
// old drawdown does not trip the switch again on the next pass.
func (s *PortfolioState) ClearKillSwitch(now time.Time) {
	s.KillSwitch = false
	s.KillSwitchAt = time.Time{}
	s.PeakEquity = s.CurrentEquity
	s.Drawdown = 0
	s.UpdatedAt = now
}
