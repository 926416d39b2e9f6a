// Package executor turns admitted order plans into broker submissions exactly once per
// operation id, and reconciles submitted orders with the broker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/hype-trader/internal/broker"
	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/risk"
	"github.com/camuig/hype-trader/internal/storage"
	"github.com/camuig/hype-trader/internal/strategy"
)

type Broker interface {
	SubmitBracket(ctx context.Context, req broker.BracketRequest) (*broker.OrderResult, error)
	OrderState(ctx context.Context, symbol, ref string) (*broker.OrderResult, error)
}

type Store interface {
	BeginOperation(ctx context.Context, op *storage.Operation) (*storage.Operation, bool, error)
	FindOperation(ctx context.Context, opID string) (*storage.Operation, error)
	TransitionOperation(ctx context.Context, op *storage.Operation, next storage.OperationStatus) error
	FlagManualReview(ctx context.Context, opID, note string) error
	ReconcilableOperations(ctx context.Context, failedSince time.Time) ([]storage.Operation, error)
	StalePendingOperations(ctx context.Context, createdBefore time.Time) ([]storage.Operation, error)
}

type Notifier interface {
	NotifyFill(symbol, side string, qty int64, price, stop, target decimal.Decimal)
	NotifyFailure(symbol, opID string, err error)
	NotifyManualReview(symbol, opID, note string)
}

type Config struct {
	// MaxRetries bounds transient submission failures before the record is failed for good.
	MaxRetries int
	Interval   time.Duration
	DryRun     bool
	// ReviewWindow is how far back failed records are rechecked for late fills.
	ReviewWindow time.Duration
}

// Outcome is what the coordinator knows about an operation after a call.
type Outcome struct {
	OpID       string
	Status     storage.OperationStatus
	BrokerRef  string
	FilledQty  int64
	RetryCount int
	// Resumed is true when the record already existed before this call.
	Resumed bool
}

type Coordinator struct {
	broker   Broker
	store    Store
	notifier Notifier
	cfg      Config
	now      func() time.Time
	logger   *logger.Logger
}

func NewCoordinator(b Broker, store Store, n Notifier, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.ReviewWindow <= 0 {
		cfg.ReviewWindow = 24 * time.Hour
	}
	return &Coordinator{
		broker:   b,
		store:    store,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.Component("executor"),
	}
}

var clientOrderNamespace = uuid.MustParse("0b8e5d7a-91c4-4a3e-b0f2-5c6d8e2a1f37")

// OperationID is a deterministic key for one trading intent: the cycle window, the instrument,
// the side, and the bit length of the quantity so small sizing drift maps to the same id.
func OperationID(cycleTime time.Time, interval time.Duration, symbol string, side strategy.Side, qty int64) string {
	window := cycleTime.UTC()
	if interval > 0 {
		window = window.Truncate(interval)
	}
	return fmt.Sprintf("%s:%s:%s:q%d", window.Format("20060102T1504Z"), symbol, side, bits.Len64(uint64(qty)))
}

// ClientOrderID is the idempotency key sent to the broker for an operation.
func ClientOrderID(opID string) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(opID)).String()
}

// Execute drives plan to the broker at most once for its operation id. A transient broker
// failure is returned as is so the caller can back off and call Execute again with the same plan.
func (c *Coordinator) Execute(ctx context.Context, cycleID string, cycleTime time.Time, plan risk.OrderPlan) (Outcome, error) {
	opID := OperationID(cycleTime, c.cfg.Interval, plan.Symbol, plan.Side, plan.Quantity)
	log := c.logger.With("op_id", opID, "symbol", plan.Symbol, "side", plan.Side)

	op, created, err := c.store.BeginOperation(ctx, &storage.Operation{
		OpID:          opID,
		ClientOrderID: ClientOrderID(opID),
		CycleID:       cycleID,
		Symbol:        plan.Symbol,
		Side:          string(plan.Side),
		Quantity:      plan.Quantity,
		Reduce:        plan.Reduce,
		Stop:          plan.Stop,
		Target:        plan.Target,
	})
	if err != nil {
		return Outcome{OpID: opID}, err
	}

	switch {
	case op.Status.Terminal():
		log.Info("operation already settled", "status", op.Status)
		return outcomeOf(op, true), nil
	case op.Status == storage.OperationSubmitted || op.BrokerRef != "":
		log.Info("resuming submitted operation", "broker_ref", op.BrokerRef)
		err := c.reconcile(ctx, op)
		return outcomeOf(op, true), err
	}

	return c.submit(ctx, op, !created, false, log)
}

// submit sends op to the broker. With last set, a transient failure fails the record
// instead of leaving it pending.
func (c *Coordinator) submit(ctx context.Context, op *storage.Operation, resumed, last bool, log *logger.Logger) (Outcome, error) {
	if c.cfg.DryRun {
		op.LastError = "dry run"
		if err := c.transition(ctx, op, storage.OperationSkipped); err != nil {
			return outcomeOf(op, resumed), err
		}
		log.Info("dry run, order not sent", "qty", op.Quantity)
		return outcomeOf(op, resumed), nil
	}

	res, err := c.broker.SubmitBracket(ctx, broker.BracketRequest{
		ClientOrderID: op.ClientOrderID,
		Symbol:        op.Symbol,
		Side:          strategy.Side(op.Side),
		Quantity:      op.Quantity,
		Stop:          op.Stop,
		Target:        op.Target,
		Reduce:        op.Reduce,
	})

	// The broker may hold an order now; the record must be written even if ctx is cancelled.
	persist := context.WithoutCancel(ctx)

	if err != nil {
		op.LastError = err.Error()
		if res != nil {
			op.BrokerRef = res.OrderRef
		}
		if fault.IsPermanent(err) {
			return c.fail(persist, op, resumed, err, log)
		}

		op.RetryCount++
		if last || op.RetryCount >= c.cfg.MaxRetries {
			exhausted := fault.Permanent("execute", fmt.Errorf("retries exhausted after %d attempts: %w", op.RetryCount, err))
			return c.fail(persist, op, resumed, exhausted, log)
		}
		if terr := c.transition(persist, op, storage.OperationPending); terr != nil {
			return outcomeOf(op, resumed), errors.Join(err, terr)
		}
		log.Warn("transient broker failure, will retry", "retry_count", op.RetryCount, "error", err)
		return outcomeOf(op, resumed), err
	}

	op.BrokerRef = res.OrderRef
	op.StopRef = res.StopRef
	op.TargetRef = res.TargetRef
	op.FilledQty = res.FilledQty
	op.AvgPrice = res.AvgPrice
	op.LastError = ""

	next := storage.OperationSubmitted
	if res.Status == broker.StatusFilled {
		next = storage.OperationFilled
	}
	if err := c.transition(persist, op, next); err != nil {
		log.Error("order sent but record not updated", "broker_ref", res.OrderRef, "error", err)
		return outcomeOf(op, resumed), err
	}

	log.Info("order submitted", "status", op.Status, "broker_ref", op.BrokerRef, "filled_qty", op.FilledQty)
	if next == storage.OperationFilled {
		c.notifyFill(op)
	}
	return outcomeOf(op, resumed), nil
}

func (c *Coordinator) fail(ctx context.Context, op *storage.Operation, resumed bool, cause error, log *logger.Logger) (Outcome, error) {
	op.LastError = cause.Error()
	if err := c.transition(ctx, op, storage.OperationFailed); err != nil {
		return outcomeOf(op, resumed), errors.Join(cause, err)
	}
	log.Error("operation failed", "retry_count", op.RetryCount, "error", cause)
	c.notifier.NotifyFailure(op.Symbol, op.OpID, cause)
	return outcomeOf(op, resumed), cause
}

// reconcile asks the broker about a submitted order and records what it says.
// An order still working leaves the record as submitted.
func (c *Coordinator) reconcile(ctx context.Context, op *storage.Operation) error {
	res, err := c.broker.OrderState(ctx, op.Symbol, op.BrokerRef)
	if err != nil {
		return err
	}

	persist := context.WithoutCancel(ctx)
	switch {
	case res.Status == broker.StatusFilled:
		op.FilledQty = res.FilledQty
		op.AvgPrice = res.AvgPrice
		if err := c.transition(persist, op, storage.OperationFilled); err != nil {
			return err
		}
		c.notifyFill(op)
	case res.Status.Dead():
		op.LastError = fmt.Sprintf("broker reports %s", res.Status)
		op.FilledQty = res.FilledQty
		if err := c.transition(persist, op, storage.OperationFailed); err != nil {
			return err
		}
		c.notifier.NotifyFailure(op.Symbol, op.OpID, errors.New(op.LastError))
	case op.Status == storage.OperationPending:
		op.FilledQty = res.FilledQty
		return c.transition(persist, op, storage.OperationSubmitted)
	}
	return nil
}

// transition writes op. A version conflict means another worker moved the record first;
// op is reloaded so the caller reports the stored state.
func (c *Coordinator) transition(ctx context.Context, op *storage.Operation, next storage.OperationStatus) error {
	err := c.store.TransitionOperation(ctx, op, next)
	if !errors.Is(err, storage.ErrConflict) {
		return err
	}
	fresh, ferr := c.store.FindOperation(ctx, op.OpID)
	if ferr != nil {
		return errors.Join(err, ferr)
	}
	*op = *fresh
	return nil
}

func (c *Coordinator) notifyFill(op *storage.Operation) {
	c.notifier.NotifyFill(op.Symbol, op.Side, op.FilledQty, op.AvgPrice, op.Stop, op.Target)
}

// ReconcileReport summarises one maintenance sweep.
type ReconcileReport struct {
	Checked      int
	Filled       int
	Failed       int
	ManualReview []string
}

// Reconcile sweeps submitted operations and recently failed ones. A fill reported for a
// failed record is never resolved automatically: the record is flagged for manual review.
// Pending records left behind by an earlier window get one last submission.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	ops, err := c.store.ReconcilableOperations(ctx, c.now().UTC().Add(-c.cfg.ReviewWindow))
	if err != nil {
		return report, fmt.Errorf("list reconcilable operations: %w", err)
	}

	var errs []error
	for i := range ops {
		op := &ops[i]
		report.Checked++
		log := c.logger.With("op_id", op.OpID, "symbol", op.Symbol, "broker_ref", op.BrokerRef)

		if op.Status == storage.OperationFailed {
			res, err := c.broker.OrderState(ctx, op.Symbol, op.BrokerRef)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", op.OpID, err))
				continue
			}
			if res.FilledQty > 0 || res.Status == broker.StatusFilled {
				note := fmt.Sprintf("broker reports %s with %d filled for a failed record", res.Status, res.FilledQty)
				if err := c.store.FlagManualReview(ctx, op.OpID, note); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", op.OpID, err))
					continue
				}
				log.Warn("fill on failed operation, manual review required", "filled_qty", res.FilledQty)
				c.notifier.NotifyManualReview(op.Symbol, op.OpID, note)
				report.ManualReview = append(report.ManualReview, op.OpID)
			}
			continue
		}

		if err := c.reconcile(ctx, op); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op.OpID, err))
			continue
		}
		switch op.Status {
		case storage.OperationFilled:
			report.Filled++
			log.Info("operation filled on reconciliation")
		case storage.OperationFailed:
			report.Failed++
			log.Warn("operation cancelled by broker", "reason", op.LastError)
		}
	}

	stale, err := c.store.StalePendingOperations(ctx, c.now().UTC().Add(-c.cfg.Interval))
	if err != nil {
		errs = append(errs, fmt.Errorf("list stale operations: %w", err))
	}
	for i := range stale {
		op := &stale[i]
		report.Checked++
		if err := c.resubmitStale(ctx, op, &report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op.OpID, err))
		}
	}
	return report, errors.Join(errs...)
}

// resubmitStale sends a stale pending record once more under its original client order id, so
// an order placed by an earlier timed-out call is deduplicated by the broker. A record that
// still does not go through is failed and flagged for manual review.
func (c *Coordinator) resubmitStale(ctx context.Context, op *storage.Operation, report *ReconcileReport) error {
	log := c.logger.With("op_id", op.OpID, "symbol", op.Symbol, "retry_count", op.RetryCount)
	if op.BrokerRef != "" {
		if err := c.reconcile(ctx, op); err != nil {
			return err
		}
		if op.Status == storage.OperationFilled {
			report.Filled++
		}
		return nil
	}
	log.Warn("pending operation outlived its window, resubmitting")

	_, err := c.submit(ctx, op, true, true, log)
	switch op.Status {
	case storage.OperationFilled:
		report.Filled++
		return nil
	case storage.OperationSubmitted, storage.OperationSkipped:
		return nil
	case storage.OperationFailed:
		report.Failed++
		note := fmt.Sprintf("pending past its window, last submission failed: %s", op.LastError)
		if ferr := c.store.FlagManualReview(context.WithoutCancel(ctx), op.OpID, note); ferr != nil {
			return ferr
		}
		c.notifier.NotifyManualReview(op.Symbol, op.OpID, note)
		report.ManualReview = append(report.ManualReview, op.OpID)
		return nil
	}
	return err
}

func outcomeOf(op *storage.Operation, resumed bool) Outcome {
	return Outcome{
		OpID:       op.OpID,
		Status:     op.Status,
		BrokerRef:  op.BrokerRef,
		FilledQty:  op.FilledQty,
		RetryCount: op.RetryCount,
		Resumed:    resumed,
	}
}
