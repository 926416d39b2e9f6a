package risk

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/market"
	"github.com/camuig/hype-trader/internal/strategy"
)

var sizerCfg = SizerConfig{RiskPerPositionPct: 0.75, RewardRiskMultiple: 2, MaxPositionPct: 10}

func snapshot(price, atr float64) market.Snapshot {
	return market.Snapshot{Symbol: "SBER", Price: price, ATR14: market.Float(atr)}
}

func TestSizeLong(t *testing.T) {
	plan, err := NewSizer(sizerCfg).Size("SBER", strategy.SideLong, snapshot(100, 2), 100_000)
	require.NoError(t, err)

	assert.Equal(t, int64(187), plan.Quantity)
	assert.Equal(t, strategy.SideLong, plan.Side)
	assert.True(t, plan.RiskAmount.Equal(decimal.NewFromInt(750)), plan.RiskAmount.String())
	assert.True(t, plan.StopDistance.Equal(decimal.NewFromInt(4)))
	assert.True(t, plan.Stop.Equal(decimal.NewFromInt(96)))
	assert.True(t, plan.Target.Equal(decimal.NewFromInt(108)))
	assert.True(t, plan.Notional().Equal(decimal.NewFromInt(18_700)))
	assert.True(t, plan.IsTrade())
}

func TestSizeShortMirrorsStops(t *testing.T) {
	plan, err := NewSizer(sizerCfg).Size("SBER", strategy.SideShort, snapshot(100, 2), 100_000)
	require.NoError(t, err)
	assert.True(t, plan.Stop.Equal(decimal.NewFromInt(104)))
	assert.True(t, plan.Target.Equal(decimal.NewFromInt(92)))
}

func TestSizeMissingATR(t *testing.T) {
	s := NewSizer(sizerCfg)

	_, err := s.Size("SBER", strategy.SideLong, market.Snapshot{Price: 100}, 100_000)
	require.Error(t, err)
	assert.True(t, fault.IsDataUnavailable(err))

	_, err = s.Size("SBER", strategy.SideLong, snapshot(100, 0), 100_000)
	assert.True(t, fault.IsDataUnavailable(err))
}

func TestSizeTooSmallIsNoTrade(t *testing.T) {
	plan, err := NewSizer(sizerCfg).Size("LKOH", strategy.SideLong, snapshot(7000, 300), 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), plan.Quantity)
	assert.False(t, plan.IsTrade())
}

func TestSizeNeverExceedsRiskBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSizer(sizerCfg)
	for i := 0; i < 2000; i++ {
		equity := 1_000 + rng.Float64()*1_000_000
		snap := snapshot(1+rng.Float64()*500, 0.01+rng.Float64()*20)

		a, err := s.Size("X", strategy.SideLong, snap, equity)
		require.NoError(t, err)
		b, err := s.Size("X", strategy.SideLong, snap, equity)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		risked := a.StopDistance.Mul(decimal.NewFromInt(a.Quantity))
		assert.True(t, risked.LessThanOrEqual(a.RiskAmount), "risked %s > budget %s", risked, a.RiskAmount)
	}
}

func TestProjectedNotional(t *testing.T) {
	s := NewSizer(sizerCfg)
	assert.InDelta(t, 18_700, s.ProjectedNotional(snapshot(100, 2), 100_000), 1e-6)
	assert.InDelta(t, 10_000, s.ProjectedNotional(market.Snapshot{Price: 100}, 100_000), 1e-6)
}

func TestObserveLatchesKillSwitch(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var st PortfolioState

	assert.False(t, st.Observe(100_000, 2, 0.06, now))
	assert.Equal(t, 100_000.0, st.PeakEquity)

	assert.False(t, st.Observe(94_000, 2, 0.06, now.Add(time.Minute)), "exactly 6% does not trip")
	assert.InDelta(t, 0.06, st.Drawdown, 1e-12)

	assert.True(t, st.Observe(93_900, 2, 0.06, now.Add(2*time.Minute)))
	assert.True(t, st.KillSwitch)
	assert.Equal(t, now.Add(2*time.Minute), st.KillSwitchAt)

	assert.False(t, st.Observe(101_000, 2, 0.06, now.Add(3*time.Minute)), "already latched")
	assert.True(t, st.KillSwitch, "recovery does not clear the switch")
	assert.Equal(t, 101_000.0, st.PeakEquity)
}

func TestClearKillSwitchRebasesPeak(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	st := PortfolioState{PeakEquity: 100_000}
	require.True(t, st.Observe(90_000, 0, 0.06, now))

	st.ClearKillSwitch(now)
	assert.False(t, st.KillSwitch)
	assert.True(t, st.KillSwitchAt.IsZero())
	assert.False(t, st.Observe(90_000, 0, 0.06, now.Add(time.Minute)))
}

func longPlan(symbol string, qty int64) OrderPlan {
	return OrderPlan{Symbol: symbol, Side: strategy.SideLong, Quantity: qty}
}

func TestGuardKillSwitchBlocksOpeningTrades(t *testing.T) {
	st := PortfolioState{PeakEquity: 100_000}
	st.Observe(93_900, 1, 0.06, time.Now())
	g := NewGuard(st, GuardConfig{MaxDrawdown: 0.06, MaxPositions: 6})
	require.True(t, g.KillSwitchEngaged())

	v, _ := g.Admit(longPlan("GAZP", 50), 0)
	assert.Equal(t, VerdictRejectKillSwitch, v)

	v, _ = g.Admit(longPlan("GAZP", 50), 20)
	assert.Equal(t, VerdictRejectKillSwitch, v, "adding to a position is still an opening trade")

	short := OrderPlan{Symbol: "SBER", Side: strategy.SideShort, Quantity: 500}
	v, plan := g.Admit(short, 120)
	assert.Equal(t, VerdictAdmit, v)
	assert.True(t, plan.Reduce)
	assert.Equal(t, int64(120), plan.Quantity)
}

func TestGuardStaysEngagedAcrossPasses(t *testing.T) {
	cfg := GuardConfig{MaxDrawdown: 0.06, MaxPositions: 6}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	st := PortfolioState{PeakEquity: 100_000}

	engaged := false
	for i, equity := range []float64{99_000, 93_000, 97_000, 100_500, 104_000} {
		st.Observe(equity, 0, cfg.MaxDrawdown, now.Add(time.Duration(i)*time.Minute))
		g := NewGuard(st, cfg)
		if engaged {
			assert.True(t, g.KillSwitchEngaged(), "pass %d", i)
		}
		engaged = g.KillSwitchEngaged()
	}
	assert.True(t, engaged)
}

func TestGuardMaxPositions(t *testing.T) {
	g := NewGuard(PortfolioState{OpenPositions: 4}, GuardConfig{MaxDrawdown: 0.06, MaxPositions: 6})

	v, _ := g.Admit(longPlan("A", 1), 0)
	assert.Equal(t, VerdictAdmit, v)
	v, _ = g.Admit(longPlan("A", 1), 0)
	assert.Equal(t, VerdictAdmit, v, "same symbol reuses its reservation")
	v, _ = g.Admit(longPlan("B", 1), 0)
	assert.Equal(t, VerdictAdmit, v)
	v, _ = g.Admit(longPlan("C", 1), 0)
	assert.Equal(t, VerdictRejectMaxPositions, v)

	v, _ = g.Admit(OrderPlan{Symbol: "D", Side: strategy.SideShort, Quantity: 1}, 10)
	assert.Equal(t, VerdictAdmit, v, "a reduction needs no new slot")

	g.Release("B")
	v, _ = g.Admit(longPlan("C", 1), 0)
	assert.Equal(t, VerdictAdmit, v)
}

func TestGuardConcurrentReservations(t *testing.T) {
	g := NewGuard(PortfolioState{}, GuardConfig{MaxDrawdown: 0.06, MaxPositions: 3})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := g.Admit(longPlan(string(rune('A'+i)), 1), 0)
			if v == VerdictAdmit {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
}

func TestGuardRejectsAddingToHeldPosition(t *testing.T) {
	g := NewGuard(PortfolioState{OpenPositions: 1}, GuardConfig{MaxDrawdown: 0.06, MaxPositions: 6})

	v, plan := g.Admit(longPlan("SBER", 187), 187)
	assert.Equal(t, VerdictRejectPositionHeld, v)
	assert.False(t, plan.Reduce)

	short := OrderPlan{Symbol: "GAZP", Side: strategy.SideShort, Quantity: 40}
	v, _ = g.Admit(short, -40)
	assert.Equal(t, VerdictRejectPositionHeld, v)

	v, _ = g.Admit(longPlan("GAZP", 40), -40)
	assert.Equal(t, VerdictAdmit, v)
}

func TestClosePlanUsesHeldQuantity(t *testing.T) {
	plan := ClosePlan("SBER", strategy.SideShort, 101.5, 187)
	assert.Equal(t, int64(187), plan.Quantity)
	assert.True(t, plan.Reduce)
	assert.True(t, plan.IsTrade())
	assert.True(t, plan.Entry.Equal(decimal.NewFromFloat(101.5)))
	assert.True(t, plan.Stop.IsZero())

	plan = ClosePlan("GAZP", strategy.SideLong, 0, -50)
	assert.Equal(t, int64(50), plan.Quantity)
	assert.Equal(t, strategy.SideLong, plan.Side)
}
