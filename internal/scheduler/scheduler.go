// Package scheduler runs the trading loop: one pass over the instrument set per interval,
// each instrument taken from signal to order independently of the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/camuig/hype-trader/internal/broker"
	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/executor"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/market"
	"github.com/camuig/hype-trader/internal/moex"
	"github.com/camuig/hype-trader/internal/risk"
	"github.com/camuig/hype-trader/internal/signal"
	"github.com/camuig/hype-trader/internal/storage"
)

type Broker interface {
	MarketOpen(ctx context.Context, now time.Time) (bool, error)
	Account(ctx context.Context) (broker.Account, error)
}

type SignalSource interface {
	Fetch(ctx context.Context, req signal.Request) (string, error)
}

type NewsSource interface {
	FetchRecentNews(ctx context.Context, now time.Time) ([]moex.NewsItem, error)
}

type UniverseSource interface {
	FetchTopTickers(ctx context.Context, limit int) ([]moex.MarketTicker, error)
}

type Executor interface {
	Execute(ctx context.Context, cycleID string, cycleTime time.Time, plan risk.OrderPlan) (executor.Outcome, error)
	Reconcile(ctx context.Context) (executor.ReconcileReport, error)
}

type Store interface {
	CreateCycle(ctx context.Context, c *storage.Cycle) error
	FinishCycle(ctx context.Context, c *storage.Cycle) error
	SaveDecision(ctx context.Context, d *storage.DecisionRecord) error
	SaveRejection(ctx context.Context, r *storage.RejectionRecord) error
	SaveGate(ctx context.Context, g *storage.GateRecord) error
	SavePlan(ctx context.Context, p *storage.PlanRecord) error
	SaveAudit(ctx context.Context, e *storage.AuditEvent) error
	SaveEquityPoint(ctx context.Context, p *storage.EquityPoint) error
	LoadPortfolioState(ctx context.Context) (*storage.PortfolioStateRecord, error)
	SavePortfolioState(ctx context.Context, st *storage.PortfolioStateRecord) error
}

type Notifier interface {
	NotifyKillSwitch(drawdown, peak, equity float64)
	NotifyError(context string, err error)
}

// Deps are the collaborators of the loop. News and Universe may be nil.
type Deps struct {
	Broker   Broker
	Market   market.Provider
	Signals  SignalSource
	News     NewsSource
	Universe UniverseSource
	Executor Executor
	Store    Store
	Notifier Notifier
	Clock    Clock
}

type Scheduler struct {
	deps      Deps
	validator *signal.Validator
	sizer     *risk.Sizer
	backoff   *Backoff
	config    *config.Config
	logger    *logger.Logger
}

func New(deps Deps, cfg *config.Config, log *logger.Logger) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	return &Scheduler{
		deps:      deps,
		validator: signal.NewValidator(signal.DefaultTolerance),
		sizer: risk.NewSizer(risk.SizerConfig{
			RiskPerPositionPct: cfg.Risk.RiskPerPositionPct,
			RewardRiskMultiple: cfg.Risk.RewardRiskMultiple,
			MaxPositionPct:     cfg.Risk.MaxPositionPct,
		}),
		backoff: NewBackoff(cfg.BackoffBase(), cfg.BackoffMax(), time.Now().UnixNano()),
		config:  cfg,
		logger:  log.Component("scheduler"),
	}
}

// Run executes a pass immediately and then one per interval until ctx is cancelled.
// A failed pass shortens the wait to an exponential backoff. Cancellation is only
// observed between passes; a running pass finishes its bookkeeping first.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.Interval()
	s.logger.Info("scheduler started", "interval", interval.String())

	failures := 0
	for {
		wait := interval
		if err := s.RunPass(ctx); err != nil {
			failures++
			wait = s.backoff.Delay(failures)
			s.logger.Error("pass failed, backing off", "failures", failures, "wait", wait.String(), "error", err)
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-s.deps.Clock.After(wait):
		}
	}
}

// pass is the state shared by the instruments of one pass.
type pass struct {
	cycle    *storage.Cycle
	started  time.Time
	equity   float64
	holdings map[string]int64
	news     map[string][]moex.NewsItem
	guard    *risk.Guard
	logger   *logger.Logger

	counts passCounts
}

// RunPass runs one pass over the instrument set and records it as a cycle.
// It fails only at the orchestration level: no account, no state, or every instrument
// failing transiently.
func (s *Scheduler) RunPass(ctx context.Context) (err error) {
	now := s.deps.Clock.Now()
	cycle := &storage.Cycle{
		CycleID:   newCycleID(now),
		StartedAt: now.UTC(),
		Status:    storage.CycleRunning,
	}
	if err := s.deps.Store.CreateCycle(ctx, cycle); err != nil {
		return fmt.Errorf("create cycle: %w", err)
	}

	persist := context.WithoutCancel(ctx)
	log := s.logger.With("cycle_id", cycle.CycleID)
	p := &pass{cycle: cycle, started: now, logger: log}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pass: %v", r)
			log.Error("panic in scheduler pass", "panic", fmt.Sprint(r))
			s.deps.Notifier.NotifyError("scheduler panic", err)
		}
		s.finishCycle(persist, p, err)
	}()

	if s.config.Scheduler.MarketHoursOnly {
		open, err := s.deps.Broker.MarketOpen(ctx, now)
		if err != nil {
			return fmt.Errorf("market hours: %w", err)
		}
		if !open {
			log.Info("market closed, skipping pass")
			cycle.Status = storage.CycleSkipped
			cycle.Reason = "market_closed"
			return nil
		}
	}

	if report, err := s.deps.Executor.Reconcile(ctx); err != nil {
		log.Warn("reconcile operations", "error", err)
		s.audit(persist, p, "", stageReconcile, outcomeError, "", err)
	} else if report.Checked > 0 {
		log.Info("operations reconciled", "checked", report.Checked, "filled", report.Filled,
			"failed", report.Failed, "manual_review", len(report.ManualReview))
		for _, opID := range report.ManualReview {
			s.audit(persist, p, "", stageReconcile, outcomeManualReview, opID, nil)
		}
	}

	acc, err := s.deps.Broker.Account(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	p.equity = acc.Equity
	p.holdings = acc.Holdings()

	rec, err := s.deps.Store.LoadPortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("load portfolio state: %w", err)
	}
	state := StateFromRecord(rec)
	maxDrawdown := s.config.Risk.DrawdownKillSwitchPct / 100
	if state.Observe(acc.Equity, acc.OpenPositions(), maxDrawdown, now) {
		log.Warn("kill switch engaged", "drawdown", state.Drawdown, "peak", state.PeakEquity, "equity", state.CurrentEquity)
		s.audit(persist, p, "", stageGuard, outcomeKillSwitch, fmt.Sprintf("drawdown %.4f", state.Drawdown), nil)
		s.deps.Notifier.NotifyKillSwitch(state.Drawdown, state.PeakEquity, state.CurrentEquity)
	}
	defer s.saveState(persist, p, state)

	p.guard = risk.NewGuard(state, risk.GuardConfig{
		MaxDrawdown:  maxDrawdown,
		MaxPositions: s.config.Risk.MaxPositions,
	})
	if p.guard.KillSwitchEngaged() {
		log.Warn("kill switch active, only reducing trades are admitted")
	}

	symbols := s.universe(ctx, p)
	if len(symbols) == 0 {
		return errors.New("no instruments to evaluate")
	}
	cycle.Instruments = len(symbols)
	p.news = s.news(ctx, p, symbols)

	var g errgroup.Group
	g.SetLimit(s.config.Scheduler.Concurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			s.runInstrument(ctx, p, symbol)
			return nil
		})
	}
	_ = g.Wait()

	if failed, last := p.counts.allTransient(len(symbols)); failed {
		return fmt.Errorf("all %d instruments failed: %w", len(symbols), last)
	}
	return nil
}

func (s *Scheduler) finishCycle(ctx context.Context, p *pass, passErr error) {
	c := p.cycle
	finished := s.deps.Clock.Now().UTC()
	c.FinishedAt = &finished
	c.Decisions, c.Rejections, c.Orders, c.Errors = p.counts.snapshot()

	switch {
	case passErr != nil:
		c.Status = storage.CycleFailed
		c.Error = passErr.Error()
	case c.Status == storage.CycleRunning:
		c.Status = storage.CycleCompleted
	}

	if err := s.deps.Store.FinishCycle(ctx, c); err != nil {
		p.logger.Error("save cycle", "error", err)
	}
	p.logger.Info("pass finished", "status", c.Status, "instruments", c.Instruments,
		"decisions", c.Decisions, "rejections", c.Rejections, "orders", c.Orders, "errors", c.Errors)
}

func (s *Scheduler) saveState(ctx context.Context, p *pass, state risk.PortfolioState) {
	if err := s.deps.Store.SavePortfolioState(ctx, RecordFromState(state)); err != nil {
		p.logger.Error("save portfolio state", "error", err)
	}
	point := &storage.EquityPoint{
		CycleID:       p.cycle.CycleID,
		Equity:        state.CurrentEquity,
		Peak:          state.PeakEquity,
		Drawdown:      state.Drawdown,
		OpenPositions: state.OpenPositions,
	}
	if err := s.deps.Store.SaveEquityPoint(ctx, point); err != nil {
		p.logger.Error("save equity point", "error", err)
	}
}

// universe is the configured instruments plus, when enabled, the top MOEX tickers by turnover.
func (s *Scheduler) universe(ctx context.Context, p *pass) []string {
	configured := s.config.Strategy.Instruments
	top := s.config.Strategy.UniverseTop
	if top <= 0 || s.deps.Universe == nil {
		return moex.Universe(configured, nil)
	}
	tickers, err := s.deps.Universe.FetchTopTickers(ctx, top)
	if err != nil {
		p.logger.Warn("fetch top tickers, using configured instruments", "error", err)
		return moex.Universe(configured, nil)
	}
	return moex.Universe(configured, tickers)
}

// news groups recent headlines by instrument. A news outage only means an empty context.
func (s *Scheduler) news(ctx context.Context, p *pass, symbols []string) map[string][]moex.NewsItem {
	if !s.config.News.Enabled || s.deps.News == nil {
		return nil
	}
	items, err := s.deps.News.FetchRecentNews(ctx, p.started)
	if err != nil {
		p.logger.Warn("fetch news, continuing without headlines", "error", err)
		return nil
	}
	return moex.FilterNewsForTickers(items, symbols)
}

func newCycleID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}
