// Package status assembles what an operator needs to see about the loop from persisted state only.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/camuig/hype-trader/internal/storage"
)

const defaultLimit = 10

type Source interface {
	LoadPortfolioState(ctx context.Context) (*storage.PortfolioStateRecord, error)
	LastCycle(ctx context.Context) (*storage.Cycle, error)
	CountOperationsByStatus(ctx context.Context) (map[storage.OperationStatus]int64, error)
	RecentFailedOperations(ctx context.Context, limit int) ([]storage.Operation, error)
	ManualReviewOperations(ctx context.Context) ([]storage.Operation, error)
	RecentErrors(ctx context.Context, limit int) ([]storage.AuditEvent, error)
	RecentEquity(ctx context.Context, limit int) ([]storage.EquityPoint, error)
}

type Report struct {
	GeneratedAt  time.Time                         `json:"generated_at"`
	Mode         string                            `json:"mode"`
	Portfolio    storage.PortfolioStateRecord      `json:"portfolio"`
	LastCycle    *storage.Cycle                    `json:"last_cycle,omitempty"`
	Operations   map[storage.OperationStatus]int64 `json:"operations"`
	Failed       []storage.Operation               `json:"failed_operations"`
	ManualReview []storage.Operation               `json:"manual_review"`
	Errors       []storage.AuditEvent              `json:"recent_errors"`
	Equity       []storage.EquityPoint             `json:"equity"`
}

// Build reads the report. limit caps the failed, error and equity lists; zero means the default.
func Build(ctx context.Context, src Source, mode string, limit int) (*Report, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	r := &Report{GeneratedAt: time.Now().UTC(), Mode: mode}

	st, err := src.LoadPortfolioState(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio state: %w", err)
	}
	r.Portfolio = *st

	r.LastCycle, err = src.LastCycle(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		r.LastCycle, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last cycle: %w", err)
	}

	if r.Operations, err = src.CountOperationsByStatus(ctx); err != nil {
		return nil, fmt.Errorf("operation counts: %w", err)
	}
	if r.Failed, err = src.RecentFailedOperations(ctx, limit); err != nil {
		return nil, fmt.Errorf("failed operations: %w", err)
	}
	if r.ManualReview, err = src.ManualReviewOperations(ctx); err != nil {
		return nil, fmt.Errorf("manual review operations: %w", err)
	}
	if r.Errors, err = src.RecentErrors(ctx, limit); err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}
	if r.Equity, err = src.RecentEquity(ctx, limit); err != nil {
		return nil, fmt.Errorf("equity curve: %w", err)
	}
	return r, nil
}

// NeedsAttention is true when an operator has something to act on.
func (r *Report) NeedsAttention() bool {
	return r.Portfolio.KillSwitch || len(r.ManualReview) > 0 ||
		(r.LastCycle != nil && r.LastCycle.Status == storage.CycleFailed)
}
