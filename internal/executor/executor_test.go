package executor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/hype-trader/internal/broker"
	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/risk"
	"github.com/camuig/hype-trader/internal/storage"
	"github.com/camuig/hype-trader/internal/strategy"
)

type fakeBroker struct {
	mu         sync.Mutex
	submitErrs []error
	result     broker.OrderResult
	state      broker.OrderResult
	stateErr   error
	submits    []broker.BracketRequest
	stateCalls int
	onSubmit   func()

	// resultOnErr returns result alongside a submit error, as for a rejected entry.
	resultOnErr bool
}

func (f *fakeBroker) SubmitBracket(_ context.Context, req broker.BracketRequest) (*broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.onSubmit != nil {
		f.onSubmit()
	}
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			if f.resultOnErr {
				res := f.result
				return &res, err
			}
			return nil, err
		}
	}
	res := f.result
	return &res, nil
}

func (f *fakeBroker) OrderState(_ context.Context, _, ref string) (*broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	res := f.state
	res.OrderRef = ref
	return &res, nil
}

type fakeNotifier struct {
	fills, failures, reviews int
}

func (n *fakeNotifier) NotifyFill(string, string, int64, decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	n.fills++
}
func (n *fakeNotifier) NotifyFailure(string, string, error) { n.failures++ }
func (n *fakeNotifier) NotifyManualReview(string, string, string) { n.reviews++ }

var cycleTime = time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

func setup(t *testing.T, b *fakeBroker, cfg Config) (*Coordinator, *storage.Repository, *fakeNotifier) {
	t.Helper()
	db, err := storage.Open(config.StorageConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "exec.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	repo := storage.NewRepository(db)
	n := &fakeNotifier{}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	return NewCoordinator(b, repo, n, cfg, logger.Discard()), repo, n
}

func plan() risk.OrderPlan {
	return risk.OrderPlan{
		Symbol:   "SBER",
		Side:     strategy.SideLong,
		Entry:    decimal.NewFromInt(100),
		Stop:     decimal.NewFromInt(96),
		Target:   decimal.NewFromInt(108),
		Quantity: 187,
	}
}

func filled() broker.OrderResult {
	return broker.OrderResult{OrderRef: "ord-1", Status: broker.StatusFilled, FilledQty: 187, AvgPrice: decimal.NewFromInt(100)}
}

func TestOperationID(t *testing.T) {
	a := OperationID(cycleTime, 5*time.Minute, "SBER", strategy.SideLong, 187)
	assert.Equal(t, "20260302T1005Z:SBER:long:q8", a)
	assert.Equal(t, a, OperationID(cycleTime.Add(2*time.Minute), 5*time.Minute, "SBER", strategy.SideLong, 200))
	assert.NotEqual(t, a, OperationID(cycleTime.Add(4*time.Minute), 5*time.Minute, "SBER", strategy.SideLong, 187))
	assert.NotEqual(t, a, OperationID(cycleTime, 5*time.Minute, "SBER", strategy.SideShort, 187))
	assert.NotEqual(t, a, OperationID(cycleTime, 5*time.Minute, "SBER", strategy.SideLong, 300))

	assert.Equal(t, ClientOrderID(a), ClientOrderID(a))
	assert.Len(t, ClientOrderID(a), 36)
}

func TestExecuteSubmitsExactlyOnce(t *testing.T) {
	b := &fakeBroker{result: filled()}
	c, repo, n := setup(t, b, Config{})
	ctx := context.Background()

	first, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, first.Status)
	assert.False(t, first.Resumed)

	second, err := c.Execute(ctx, "c1-restart", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, first.OpID, second.OpID)
	assert.Equal(t, storage.OperationFilled, second.Status)
	assert.True(t, second.Resumed)

	assert.Len(t, b.submits, 1)
	assert.Equal(t, 1, n.fills)

	counts, err := repo.CountOperationsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[storage.OperationStatus]int64{storage.OperationFilled: 1}, counts)
}

func TestExecuteRetriesTransientWithSameOperation(t *testing.T) {
	b := &fakeBroker{
		submitErrs: []error{fault.Transient("post order", context.DeadlineExceeded)},
		result:     filled(),
	}
	c, repo, _ := setup(t, b, Config{})
	ctx := context.Background()

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err))
	assert.Equal(t, storage.OperationPending, out.Status)
	assert.Equal(t, 1, out.RetryCount)

	out, err = c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, out.Status)

	op, err := repo.FindOperation(ctx, out.OpID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, op.Status)
	assert.Equal(t, 1, op.RetryCount)
	assert.Equal(t, "ord-1", op.BrokerRef)

	require.Len(t, b.submits, 2)
	assert.Equal(t, b.submits[0].ClientOrderID, b.submits[1].ClientOrderID)

	counts, err := repo.CountOperationsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[storage.OperationStatus]int64{storage.OperationFilled: 1}, counts)
}

func TestExecutePermanentFailureIsTerminal(t *testing.T) {
	b := &fakeBroker{submitErrs: []error{fault.Permanent("post order", assert.AnError)}}
	c, _, n := setup(t, b, Config{})
	ctx := context.Background()

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.Error(t, err)
	assert.True(t, fault.IsPermanent(err))
	assert.Equal(t, storage.OperationFailed, out.Status)
	assert.Equal(t, 1, n.failures)

	out, err = c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFailed, out.Status)
	assert.Len(t, b.submits, 1)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	timeout := fault.Transient("post order", context.DeadlineExceeded)
	b := &fakeBroker{submitErrs: []error{timeout, timeout}}
	c, _, n := setup(t, b, Config{MaxRetries: 2})
	ctx := context.Background()

	_, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.True(t, fault.IsTransient(err))

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.Error(t, err)
	assert.True(t, fault.IsPermanent(err))
	assert.Equal(t, storage.OperationFailed, out.Status)
	assert.Equal(t, 2, out.RetryCount)
	assert.Equal(t, 1, n.failures)
}

func TestExecuteReconcilesSubmittedInsteadOfResubmitting(t *testing.T) {
	b := &fakeBroker{result: broker.OrderResult{OrderRef: "ord-7", Status: broker.StatusNew}}
	c, _, n := setup(t, b, Config{})
	ctx := context.Background()

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSubmitted, out.Status)

	b.state = broker.OrderResult{Status: broker.StatusNew}
	out, err = c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSubmitted, out.Status)

	b.state = broker.OrderResult{Status: broker.StatusFilled, FilledQty: 187, AvgPrice: decimal.NewFromInt(101)}
	out, err = c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, out.Status)
	assert.Equal(t, int64(187), out.FilledQty)

	assert.Len(t, b.submits, 1)
	assert.Equal(t, 2, b.stateCalls)
	assert.Equal(t, 1, n.fills)
}

func TestExecuteWritesRecordAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBroker{result: filled(), onSubmit: cancel}
	c, repo, _ := setup(t, b, Config{})

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)

	op, err := repo.FindOperation(context.Background(), out.OpID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, op.Status)
	assert.Equal(t, "ord-1", op.BrokerRef)
}

func TestExecuteDryRun(t *testing.T) {
	b := &fakeBroker{}
	c, _, _ := setup(t, b, Config{DryRun: true})

	out, err := c.Execute(context.Background(), "c1", cycleTime, plan())
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSkipped, out.Status)
	assert.Empty(t, b.submits)
}

func TestReconcile(t *testing.T) {
	b := &fakeBroker{result: broker.OrderResult{OrderRef: "ord-sub", Status: broker.StatusNew}}
	c, repo, n := setup(t, b, Config{})
	ctx := context.Background()

	submitted, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.NoError(t, err)
	require.Equal(t, storage.OperationSubmitted, submitted.Status)

	rejected := plan()
	rejected.Symbol = "GAZP"
	b.submitErrs = []error{fault.Permanent("submit bracket", assert.AnError)}
	b.resultOnErr = true
	b.result = broker.OrderResult{OrderRef: "ord-fail", Status: broker.StatusRejected}
	failed, err := c.Execute(ctx, "c1", cycleTime, rejected)
	require.Error(t, err)
	require.Equal(t, storage.OperationFailed, failed.Status)
	require.Equal(t, "ord-fail", failed.BrokerRef)

	// the broker later reports both orders filled
	b.state = broker.OrderResult{Status: broker.StatusFilled, FilledQty: 187, AvgPrice: decimal.NewFromInt(100)}
	report, err := c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Filled)
	assert.Equal(t, []string{failed.OpID}, report.ManualReview)
	assert.Equal(t, 1, n.fills)
	assert.Equal(t, 1, n.reviews)

	op, err := repo.FindOperation(ctx, failed.OpID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFailed, op.Status, "never resolved automatically")
	assert.True(t, op.ManualReview)

	op, err = repo.FindOperation(ctx, submitted.OpID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, op.Status)

	report, err = c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestReconcileResubmitsPendingFromEarlierWindow(t *testing.T) {
	b := &fakeBroker{
		submitErrs: []error{fault.Transient("post order", context.DeadlineExceeded)},
		result:     filled(),
	}
	c, repo, n := setup(t, b, Config{})
	ctx := context.Background()

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.True(t, fault.IsTransient(err))
	require.Equal(t, storage.OperationPending, out.Status)

	report, err := c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked, "pending record is still inside its window")

	c.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	report, err = c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Filled)

	require.Len(t, b.submits, 2)
	assert.Equal(t, b.submits[0].ClientOrderID, b.submits[1].ClientOrderID)

	op, err := repo.FindOperation(ctx, out.OpID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFilled, op.Status)
	assert.Equal(t, "ord-1", op.BrokerRef)
	assert.Equal(t, 1, n.fills)
}

func TestReconcileFailsPendingThatStillCannotBeSent(t *testing.T) {
	timeout := fault.Transient("post order", context.DeadlineExceeded)
	b := &fakeBroker{submitErrs: []error{timeout, timeout}}
	c, repo, n := setup(t, b, Config{})
	ctx := context.Background()

	out, err := c.Execute(ctx, "c1", cycleTime, plan())
	require.True(t, fault.IsTransient(err))

	c.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	report, err := c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{out.OpID}, report.ManualReview)
	assert.Equal(t, 1, n.failures)
	assert.Equal(t, 1, n.reviews)

	op, err := repo.FindOperation(ctx, out.OpID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationFailed, op.Status)
	assert.True(t, op.ManualReview)
	assert.Equal(t, 2, op.RetryCount)

	review, err := repo.ManualReviewOperations(ctx)
	require.NoError(t, err)
	require.Len(t, review, 1)

	report, err = c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Len(t, b.submits, 2)
}
