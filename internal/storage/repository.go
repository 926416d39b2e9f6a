package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrConflict means the operation changed since it was read; reload and decide again.
	ErrConflict          = errors.New("operation version conflict")
	ErrInvalidTransition = errors.New("invalid operation transition")
	ErrNotFound          = errors.New("not found")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Cycles

func (r *Repository) CreateCycle(ctx context.Context, c *Cycle) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) FinishCycle(ctx context.Context, c *Cycle) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *Repository) LastCycle(ctx context.Context) (*Cycle, error) {
	var c Cycle
	err := r.db.WithContext(ctx).Order("started_at DESC, id DESC").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	var cycles []Cycle
	err := r.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&cycles).Error
	return cycles, err
}

// Decision lineage, append-only

func (r *Repository) SaveDecision(ctx context.Context, d *DecisionRecord) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repository) SaveRejection(ctx context.Context, rej *RejectionRecord) error {
	return r.db.WithContext(ctx).Create(rej).Error
}

func (r *Repository) SaveGate(ctx context.Context, g *GateRecord) error {
	return r.db.WithContext(ctx).Create(g).Error
}

func (r *Repository) SavePlan(ctx context.Context, p *PlanRecord) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) DecisionsForCycle(ctx context.Context, cycleID string) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id").Find(&out).Error
	return out, err
}

func (r *Repository) PlansForCycle(ctx context.Context, cycleID string) ([]PlanRecord, error) {
	var out []PlanRecord
	err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id").Find(&out).Error
	return out, err
}

// Operations

// BeginOperation returns the record for op.OpID, creating it as pending if none exists.
// created reports whether this call inserted the row.
func (r *Repository) BeginOperation(ctx context.Context, op *Operation) (stored *Operation, created bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Operation
		err := tx.Where("op_id = ?", op.OpID).First(&existing).Error
		if err == nil {
			stored = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		fresh := *op
		fresh.ID = 0
		fresh.Status = OperationPending
		fresh.Version = 1
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "op_id"}}, DoNothing: true}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("op_id = ?", op.OpID).First(&existing).Error; err != nil {
				return err
			}
			stored = &existing
			return nil
		}
		stored = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("begin operation %s: %w", op.OpID, err)
	}
	return stored, created, nil
}

func (r *Repository) FindOperation(ctx context.Context, opID string) (*Operation, error) {
	var op Operation
	err := r.db.WithContext(ctx).Where("op_id = ?", opID).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// TransitionOperation writes op's mutable fields and moves it to status next, provided the
// stored row still carries op.Version. On success op.Version is bumped; on conflict op is untouched.
func (r *Repository) TransitionOperation(ctx context.Context, op *Operation, next OperationStatus) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Operation
		if err := tx.Where("op_id = ?", op.OpID).First(&current).Error; err != nil {
			return err
		}
		if current.Version != op.Version {
			return ErrConflict
		}
		if !current.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}

		res := tx.Model(&Operation{}).
			Where("op_id = ? AND version = ?", op.OpID, op.Version).
			Updates(map[string]any{
				"status":      next,
				"version":     op.Version + 1,
				"broker_ref":  op.BrokerRef,
				"stop_ref":    op.StopRef,
				"target_ref":  op.TargetRef,
				"filled_qty":  op.FilledQty,
				"avg_price":   op.AvgPrice,
				"retry_count": op.RetryCount,
				"last_error":  op.LastError,
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transition operation %s to %s: %w", op.OpID, next, err)
	}
	op.Status = next
	op.Version++
	return nil
}

// FlagManualReview marks a record for an operator without touching its status.
func (r *Repository) FlagManualReview(ctx context.Context, opID, note string) error {
	return r.db.WithContext(ctx).Model(&Operation{}).
		Where("op_id = ?", opID).
		Updates(map[string]any{"manual_review": true, "last_error": note}).Error
}

func (r *Repository) OperationsByStatus(ctx context.Context, status OperationStatus) ([]Operation, error) {
	var ops []Operation
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("id").Find(&ops).Error
	return ops, err
}

// ReconcilableOperations returns records with a broker reference whose broker-side state may
// still change what we know: submitted ones, and failed ones updated since the cutoff that are
// not yet flagged for review.
func (r *Repository) ReconcilableOperations(ctx context.Context, failedSince time.Time) ([]Operation, error) {
	var ops []Operation
	err := r.db.WithContext(ctx).
		Where("broker_ref <> ''").
		Where("status = ? OR (status = ? AND manual_review = ? AND updated_at >= ?)",
			OperationSubmitted, OperationFailed, false, failedSince).
		Order("id").Find(&ops).Error
	return ops, err
}

// StalePendingOperations returns pending records created before cutoff. Their cycle window has
// passed, so no later pass derives the same operation id again.
func (r *Repository) StalePendingOperations(ctx context.Context, createdBefore time.Time) ([]Operation, error) {
	var ops []Operation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", OperationPending, createdBefore.UTC()).
		Order("id").Find(&ops).Error
	return ops, err
}

func (r *Repository) ManualReviewOperations(ctx context.Context) ([]Operation, error) {
	var ops []Operation
	err := r.db.WithContext(ctx).Where("manual_review = ?", true).Order("updated_at DESC").Find(&ops).Error
	return ops, err
}

func (r *Repository) RecentFailedOperations(ctx context.Context, limit int) ([]Operation, error) {
	var ops []Operation
	err := r.db.WithContext(ctx).Where("status = ?", OperationFailed).
		Order("updated_at DESC").Limit(limit).Find(&ops).Error
	return ops, err
}

func (r *Repository) CountOperationsByStatus(ctx context.Context) (map[OperationStatus]int64, error) {
	var rows []struct {
		Status OperationStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&Operation{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[OperationStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// Portfolio state

// LoadPortfolioState returns the stored state, or a zero record before the first pass.
func (r *Repository) LoadPortfolioState(ctx context.Context) (*PortfolioStateRecord, error) {
	var st PortfolioStateRecord
	err := r.db.WithContext(ctx).First(&st, portfolioStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &PortfolioStateRecord{ID: portfolioStateID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Repository) SavePortfolioState(ctx context.Context, st *PortfolioStateRecord) error {
	st.ID = portfolioStateID
	return r.db.WithContext(ctx).Save(st).Error
}

// Equity curve

func (r *Repository) SaveEquityPoint(ctx context.Context, p *EquityPoint) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) RecentEquity(ctx context.Context, limit int) ([]EquityPoint, error) {
	var points []EquityPoint
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&points).Error
	return points, err
}

// Audit

func (r *Repository) SaveAudit(ctx context.Context, e *AuditEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *Repository) AuditForCycle(ctx context.Context, cycleID string) ([]AuditEvent, error) {
	var events []AuditEvent
	err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id").Find(&events).Error
	return events, err
}

func (r *Repository) RecentErrors(ctx context.Context, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := r.db.WithContext(ctx).Where("error <> ''").Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error
	return events, err
}
