package risk

import "sync"

type Verdict string

const (
	VerdictAdmit              Verdict = "admit"
	VerdictRejectKillSwitch   Verdict = "reject_kill_switch"
	VerdictRejectMaxPositions Verdict = "reject_max_positions"
	// VerdictRejectPositionHeld refuses to add to a position already held on the same side.
	VerdictRejectPositionHeld Verdict = "reject_position_held"
)

type GuardConfig struct {
	// MaxDrawdown is a fraction: 0.06 for a 6% kill switch.
	MaxDrawdown  float64
	MaxPositions int
}

// Guard admits plans against one pass's PortfolioState. The state is a copy taken at pass
// start; new-position slots are reserved under a lock so concurrent instruments cannot overshoot.
type Guard struct {
	mu       sync.Mutex
	state    PortfolioState
	cfg      GuardConfig
	reserved map[string]bool
}

func NewGuard(state PortfolioState, cfg GuardConfig) *Guard {
	return &Guard{state: state, cfg: cfg, reserved: make(map[string]bool)}
}

func (g *Guard) KillSwitchEngaged() bool {
	return g.state.KillSwitch || g.state.Drawdown > g.cfg.MaxDrawdown
}

// Admit decides whether plan may go to execution given the signed share position already held.
// Plans against an opposite position are reductions: always admitted, quantity clamped to the position.
// An instrument is held flat, long or short, never pyramided.
func (g *Guard) Admit(plan OrderPlan, position int64) (Verdict, OrderPlan) {
	if position != 0 && sign(position) != plan.Side.Sign() {
		plan.Reduce = true
		if held := abs(position); plan.Quantity > held {
			plan.Quantity = held
		}
		return VerdictAdmit, plan
	}

	if g.KillSwitchEngaged() {
		return VerdictRejectKillSwitch, plan
	}

	if position != 0 {
		return VerdictRejectPositionHeld, plan
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved[plan.Symbol] {
		return VerdictAdmit, plan
	}
	if g.state.OpenPositions+len(g.reserved) >= g.cfg.MaxPositions {
		return VerdictRejectMaxPositions, plan
	}
	g.reserved[plan.Symbol] = true
	return VerdictAdmit, plan
}

// Release frees the slot reserved for symbol when its order did not go through.
func (g *Guard) Release(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reserved, symbol)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
