package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/camuig/hype-trader/internal/executor"
	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/market"
	"github.com/camuig/hype-trader/internal/moex"
	"github.com/camuig/hype-trader/internal/risk"
	"github.com/camuig/hype-trader/internal/signal"
	"github.com/camuig/hype-trader/internal/storage"
	"github.com/camuig/hype-trader/internal/strategy"
)

const (
	stageSignal    = "signal"
	stageValidate  = "validate"
	stageSnapshot  = "snapshot"
	stageGate      = "gate"
	stageDirection = "direction"
	stageSize      = "size"
	stageGuard     = "guard"
	stageExecute   = "execute"
	stageReconcile = "reconcile"
	stagePipeline  = "pipeline"
)

const (
	outcomeRejected     = "rejected"
	outcomeNoTrade      = "no_trade"
	outcomeError        = "error"
	outcomeKillSwitch   = "kill_switch"
	outcomeManualReview = "manual_review"
)

// Reasons recorded with a no_trade outcome. data_unavailable is kept apart from the
// deliberate ones.
const (
	reasonDataUnavailable = "data_unavailable"
	reasonGatesFailed     = "gates_failed"
	reasonNoDirection     = "no_direction"
	reasonZeroQuantity    = "zero_quantity"
)

// passCounts tallies what the instruments of one pass produced.
type passCounts struct {
	mu         sync.Mutex
	decisions  int
	rejections int
	orders     int
	errors     int
	transient  int
	lastErr    error
}

func (c *passCounts) decision() {
	c.mu.Lock()
	c.decisions++
	c.mu.Unlock()
}

func (c *passCounts) rejection() {
	c.mu.Lock()
	c.rejections++
	c.mu.Unlock()
}

func (c *passCounts) order() {
	c.mu.Lock()
	c.orders++
	c.mu.Unlock()
}

func (c *passCounts) failure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
	if fault.IsTransient(err) {
		c.transient++
		c.lastErr = err
	}
}

// allTransient reports whether every one of n instruments ended in a transient failure,
// which means an outage of a shared collaborator rather than a per-instrument problem.
func (c *passCounts) allTransient(n int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n > 0 && c.transient >= n, c.lastErr
}

func (c *passCounts) snapshot() (decisions, rejections, orders, errors int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decisions, c.rejections, c.orders, c.errors
}

// runInstrument takes one symbol from signal to order. Nothing here fails the pass:
// every outcome, error or panic ends up in the audit trail.
func (s *Scheduler) runInstrument(ctx context.Context, p *pass, symbol string) {
	log := p.logger.With("symbol", symbol)
	persist := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			log.Error("panic in instrument pipeline", "panic", fmt.Sprint(r))
			p.counts.failure(err)
			s.audit(persist, p, symbol, stagePipeline, outcomeError, "panic", err)
		}
	}()

	position := p.holdings[symbol]
	req := signal.Request{
		Symbol:    symbol,
		Headlines: s.headlines(p, symbol),
		Position:  position,
		AsOf:      p.started,
	}

	var raw string
	err := s.withRetry(ctx, log, stageSignal, func() error {
		var err error
		raw, err = s.deps.Signals.Fetch(ctx, req)
		return err
	})
	if err != nil {
		s.fail(persist, p, symbol, stageSignal, err, log)
		return
	}

	res := s.validator.Validate(raw, symbol, s.deps.Clock.Now())
	if !res.OK() {
		s.reject(persist, p, res.Rejection, raw, log)
		return
	}
	d := *res.Decision
	p.counts.decision()
	if d.Repaired {
		log.Info("signal repaired", "sentiment", d.Sentiment, "hype_score", d.HypeScore)
	}

	var snap market.Snapshot
	snapErr := s.withRetry(ctx, log, stageSnapshot, func() error {
		var err error
		snap, err = s.deps.Market.Snapshot(ctx, symbol)
		return err
	})

	decisionID := s.saveDecision(persist, p, d, raw, snap, snapErr == nil)
	if snapErr != nil {
		if fault.IsDataUnavailable(snapErr) {
			s.noTrade(persist, p, symbol, stageSnapshot, reasonDataUnavailable, snapErr, log)
			return
		}
		s.fail(persist, p, symbol, stageSnapshot, snapErr, log)
		return
	}

	gate := strategy.Evaluate(d, snap, s.sizer.ProjectedNotional(snap, p.equity), s.gateConfig())
	s.saveGate(persist, p, decisionID, symbol, gate)

	side, ok := strategy.Direction(d, s.directionConfig())
	reducing := ok && position != 0 && sign(position) != side.Sign()

	if !gate.Overall && !reducing {
		failed := make([]string, 0, len(gate.Checks))
		for _, g := range gate.Failed() {
			failed = append(failed, string(g))
		}
		s.noTrade(persist, p, symbol, stageGate, reasonGatesFailed+": "+strings.Join(failed, ","), nil, log)
		return
	}
	if !ok {
		s.noTrade(persist, p, symbol, stageDirection, reasonNoDirection, nil, log)
		return
	}

	if reducing {
		s.execute(ctx, p, decisionID, risk.ClosePlan(symbol, side, snap.Price, position), position, log)
		return
	}

	plan, err := s.sizer.Size(symbol, side, snap, p.equity)
	if err != nil {
		if fault.IsDataUnavailable(err) {
			s.noTrade(persist, p, symbol, stageSize, reasonDataUnavailable, err, log)
			return
		}
		s.fail(persist, p, symbol, stageSize, err, log)
		return
	}
	if !plan.IsTrade() {
		s.savePlan(persist, p, decisionID, plan, "", "")
		s.noTrade(persist, p, symbol, stageSize, reasonZeroQuantity, nil, log)
		return
	}

	s.execute(ctx, p, decisionID, plan, position, log)
}

// execute admits plan through the guard and sends it to the executor.
func (s *Scheduler) execute(ctx context.Context, p *pass, decisionID uint, plan risk.OrderPlan, position int64, log *logger.Logger) {
	persist := context.WithoutCancel(ctx)
	symbol := plan.Symbol

	verdict, plan := p.guard.Admit(plan, position)
	if verdict != risk.VerdictAdmit {
		s.savePlan(persist, p, decisionID, plan, verdict, "")
		log.Info("plan rejected by guard", "verdict", verdict, "side", plan.Side, "quantity", plan.Quantity)
		s.audit(persist, p, symbol, stageGuard, outcomeRejected, string(verdict), nil)
		return
	}

	opID := executor.OperationID(p.started, s.config.Interval(), symbol, plan.Side, plan.Quantity)
	s.savePlan(persist, p, decisionID, plan, verdict, opID)
	p.counts.order()

	var out executor.Outcome
	err := s.withRetry(ctx, log, stageExecute, func() error {
		var err error
		out, err = s.deps.Executor.Execute(ctx, p.cycle.CycleID, p.started, plan)
		return err
	})
	if err != nil {
		if !plan.Reduce {
			p.guard.Release(symbol)
		}
		s.fail(persist, p, symbol, stageExecute, err, log)
		return
	}
	if (out.Status == storage.OperationFailed || out.Status == storage.OperationSkipped) && !plan.Reduce {
		p.guard.Release(symbol)
	}

	log.Info("plan executed", "op_id", out.OpID, "status", out.Status, "side", plan.Side,
		"quantity", plan.Quantity, "reduce", plan.Reduce, "resumed", out.Resumed)
	s.audit(persist, p, symbol, stageExecute, string(out.Status), out.OpID, nil)
}

// withRetry retries fn on transient errors with a doubling delay. Other errors return at once.
func (s *Scheduler) withRetry(ctx context.Context, log *logger.Logger, stage string, fn func() error) error {
	attempts := s.config.Execution.InstrumentRetries + 1
	delay := s.config.RetryDelay()

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !fault.IsTransient(err) || attempt >= attempts {
			return err
		}
		log.Warn("transient failure, retrying", "stage", stage, "attempt", attempt, "wait", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-s.deps.Clock.After(delay):
		}
		delay *= 2
	}
}

func (s *Scheduler) headlines(p *pass, symbol string) []string {
	return moex.Headlines(p.news, symbol, s.config.News.MaxHeadlines)
}

func (s *Scheduler) gateConfig() strategy.GateConfig {
	st := s.config.Strategy
	return strategy.GateConfig{
		MinPrice:             st.MinPrice,
		MinAvgVolume:         st.MinAvgVolume,
		MaxSpreadRatio:       st.MaxSpreadRatio,
		EarningsBlackoutDays: st.EarningsBlackoutDays,
		RequireEarningsDate:  st.RequireEarningsDate,
		LiquidityFraction:    st.LiquidityFraction,
	}
}

func (s *Scheduler) directionConfig() strategy.DirectionConfig {
	st := s.config.Strategy
	return strategy.DirectionConfig{
		HypeLongThreshold:  st.HypeLongThreshold,
		HypeShortThreshold: st.HypeShortThreshold,
		MinConfidence:      st.MinConfidence,
	}
}

func (s *Scheduler) reject(ctx context.Context, p *pass, rej *signal.Rejection, raw string, log *logger.Logger) {
	p.counts.rejection()
	log.Warn("signal rejected", "reason", rej.Reason, "field", rej.Field, "detail", rej.Detail)

	rec := &storage.RejectionRecord{
		CycleID: p.cycle.CycleID,
		Symbol:  rej.Symbol,
		Reason:  string(rej.Reason),
		Field:   rej.Field,
		Detail:  rej.Detail,
		Raw:     raw,
	}
	if err := s.deps.Store.SaveRejection(ctx, rec); err != nil {
		log.Error("save rejection", "error", err)
	}
	s.audit(ctx, p, rej.Symbol, stageValidate, outcomeRejected, string(rej.Reason), rej)
}

func (s *Scheduler) noTrade(ctx context.Context, p *pass, symbol, stage, reason string, cause error, log *logger.Logger) {
	if cause != nil {
		log.Info("no trade", "stage", stage, "reason", reason, "error", cause)
	} else {
		log.Info("no trade", "stage", stage, "reason", reason)
	}
	s.audit(ctx, p, symbol, stage, outcomeNoTrade, reason, cause)
}

func (s *Scheduler) fail(ctx context.Context, p *pass, symbol, stage string, err error, log *logger.Logger) {
	p.counts.failure(err)
	log.Error("instrument stage failed", "stage", stage, "error", err)

	reason := ""
	switch {
	case fault.IsTransient(err):
		reason = "transient"
	case fault.IsPermanent(err):
		reason = "permanent"
	}
	s.audit(ctx, p, symbol, stage, outcomeError, reason, err)
}

func (s *Scheduler) audit(ctx context.Context, p *pass, symbol, stage, outcome, reason string, cause error) {
	e := &storage.AuditEvent{
		CycleID: p.cycle.CycleID,
		Symbol:  symbol,
		Stage:   stage,
		Outcome: outcome,
		Reason:  reason,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := s.deps.Store.SaveAudit(ctx, e); err != nil {
		p.logger.Error("save audit event", "stage", stage, "error", err)
	}
}

func (s *Scheduler) saveDecision(ctx context.Context, p *pass, d signal.Decision, raw string, snap market.Snapshot, withSnapshot bool) uint {
	evidence, _ := json.Marshal(d.Evidence)
	rec := &storage.DecisionRecord{
		CycleID:     p.cycle.CycleID,
		Symbol:      d.Symbol,
		Sentiment:   string(d.Sentiment),
		HypeScore:   d.HypeScore,
		Catalyst:    string(d.Catalyst),
		Confidence:  d.Confidence,
		Evidence:    evidence,
		GeneratedAt: d.GeneratedAt,
		Repaired:    d.Repaired,
		Raw:         raw,
	}
	if withSnapshot {
		rec.Snapshot, _ = json.Marshal(snap)
	}
	if err := s.deps.Store.SaveDecision(ctx, rec); err != nil {
		p.logger.Error("save decision", "symbol", d.Symbol, "error", err)
	}
	return rec.ID
}

func (s *Scheduler) saveGate(ctx context.Context, p *pass, decisionID uint, symbol string, gate strategy.GateResult) {
	checks, _ := json.Marshal(gate.Checks)
	rec := &storage.GateRecord{
		CycleID:    p.cycle.CycleID,
		DecisionID: decisionID,
		Symbol:     symbol,
		Overall:    gate.Overall,
		Checks:     checks,
	}
	if err := s.deps.Store.SaveGate(ctx, rec); err != nil {
		p.logger.Error("save gate result", "symbol", symbol, "error", err)
	}
}

func (s *Scheduler) savePlan(ctx context.Context, p *pass, decisionID uint, plan risk.OrderPlan, verdict risk.Verdict, opID string) {
	rec := &storage.PlanRecord{
		CycleID:      p.cycle.CycleID,
		DecisionID:   decisionID,
		Symbol:       plan.Symbol,
		Side:         string(plan.Side),
		Entry:        plan.Entry,
		Stop:         plan.Stop,
		Target:       plan.Target,
		StopDistance: plan.StopDistance,
		RiskAmount:   plan.RiskAmount,
		RewardRisk:   plan.RewardRisk,
		Quantity:     plan.Quantity,
		Reduce:       plan.Reduce,
		Verdict:      string(verdict),
		OpID:         opID,
	}
	if err := s.deps.Store.SavePlan(ctx, rec); err != nil {
		p.logger.Error("save order plan", "symbol", plan.Symbol, "error", err)
	}
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
