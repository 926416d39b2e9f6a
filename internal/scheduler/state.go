package scheduler

import (
	"time"

	"github.com/camuig/hype-trader/internal/risk"
	"github.com/camuig/hype-trader/internal/storage"
)

// StateFromRecord and RecordFromState convert between the stored row and the guard's state.
func StateFromRecord(r *storage.PortfolioStateRecord) risk.PortfolioState {
	st := risk.PortfolioState{
		PeakEquity:    r.PeakEquity,
		CurrentEquity: r.CurrentEquity,
		Drawdown:      r.Drawdown,
		OpenPositions: r.OpenPositions,
		KillSwitch:    r.KillSwitch,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.KillSwitchAt != nil {
		st.KillSwitchAt = *r.KillSwitchAt
	}
	return st
}

func RecordFromState(st risk.PortfolioState) *storage.PortfolioStateRecord {
	r := &storage.PortfolioStateRecord{
		PeakEquity:    st.PeakEquity,
		CurrentEquity: st.CurrentEquity,
		Drawdown:      st.Drawdown,
		OpenPositions: st.OpenPositions,
		KillSwitch:    st.KillSwitch,
		UpdatedAt:     st.UpdatedAt,
	}
	if !st.KillSwitchAt.IsZero() {
		at := st.KillSwitchAt.UTC()
		r.KillSwitchAt = &at
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	return r
}
