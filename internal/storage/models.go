package storage

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
	CycleSkipped   CycleStatus = "skipped"
)

// Cycle is one pass of the loop over the instrument set.
type Cycle struct {
	ID         uint        `gorm:"primarykey" json:"id"`
	CycleID    string      `gorm:"uniqueIndex;size:64;not null" json:"cycle_id"`
	StartedAt  time.Time   `gorm:"index" json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Status     CycleStatus `gorm:"size:20;not null;index" json:"status"`
	Reason     string      `gorm:"size:255" json:"reason,omitempty"`

	Instruments int `json:"instruments"`
	Decisions   int `json:"decisions"`
	Rejections  int `json:"rejections"`
	Orders      int `json:"orders"`
	Errors      int `json:"errors"`

	Error string `gorm:"type:text" json:"error,omitempty"`
}

type DecisionRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CycleID   string    `gorm:"index;size:64" json:"cycle_id"`
	Symbol    string    `gorm:"index;size:32;not null" json:"symbol"`

	Sentiment   string         `gorm:"size:16;not null" json:"sentiment"`
	HypeScore   float64        `json:"hype_score"`
	Catalyst    string         `gorm:"size:32" json:"catalyst,omitempty"`
	Confidence  float64        `json:"confidence"`
	Evidence    datatypes.JSON `json:"evidence"`
	GeneratedAt time.Time      `json:"generated_at"`
	Repaired    bool           `json:"repaired"`

	// Snapshot is the market state the decision was gated against.
	Snapshot datatypes.JSON `json:"snapshot,omitempty"`
	Raw      string         `gorm:"type:text" json:"raw"`
}

// RejectionRecord replaces a Decision that failed schema validation.
type RejectionRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CycleID   string    `gorm:"index;size:64" json:"cycle_id"`
	Symbol    string    `gorm:"index;size:32;not null" json:"symbol"`
	Reason    string    `gorm:"size:32;not null" json:"reason"`
	Field     string    `gorm:"size:64" json:"field,omitempty"`
	Detail    string    `gorm:"type:text" json:"detail"`
	Raw       string    `gorm:"type:text" json:"raw"`
}

type GateRecord struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	CycleID    string         `gorm:"index;size:64" json:"cycle_id"`
	DecisionID uint           `gorm:"index" json:"decision_id"`
	Symbol     string         `gorm:"index;size:32;not null" json:"symbol"`
	Overall    bool           `json:"overall"`
	Checks     datatypes.JSON `json:"checks"`
}

type PlanRecord struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	CycleID    string    `gorm:"index;size:64" json:"cycle_id"`
	DecisionID uint      `gorm:"index" json:"decision_id"`
	Symbol     string    `gorm:"index;size:32;not null" json:"symbol"`
	Side       string    `gorm:"size:8;not null" json:"side"`

	Entry        decimal.Decimal `gorm:"type:numeric(20,6)" json:"entry"`
	Stop         decimal.Decimal `gorm:"type:numeric(20,6)" json:"stop"`
	Target       decimal.Decimal `gorm:"type:numeric(20,6)" json:"target"`
	StopDistance decimal.Decimal `gorm:"type:numeric(20,6)" json:"stop_distance"`
	RiskAmount   decimal.Decimal `gorm:"type:numeric(20,6)" json:"risk_amount"`
	RewardRisk   decimal.Decimal `gorm:"type:numeric(10,4)" json:"reward_risk"`
	Quantity     int64           `json:"quantity"`
	Reduce       bool            `json:"reduce"`

	Verdict string `gorm:"size:32" json:"verdict,omitempty"`
	OpID    string `gorm:"index;size:64" json:"op_id,omitempty"`
}

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationSubmitted OperationStatus = "submitted"
	OperationFilled    OperationStatus = "filled"
	OperationFailed    OperationStatus = "failed"
	OperationSkipped   OperationStatus = "skipped"
)

func (s OperationStatus) Terminal() bool {
	switch s {
	case OperationFilled, OperationFailed, OperationSkipped:
		return true
	}
	return false
}

// CanTransition reports whether a record in status s may move to next.
// Non-terminal records may be rewritten in place to record retries.
func (s OperationStatus) CanTransition(next OperationStatus) bool {
	switch s {
	case OperationPending:
		return true
	case OperationSubmitted:
		return next == OperationSubmitted || next == OperationFilled || next == OperationFailed
	}
	return false
}

// Operation is the idempotency record for one order intent. OpID is unique, so a retried
// cycle always resumes the same row.
type Operation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OpID          string          `gorm:"uniqueIndex;size:64;not null" json:"op_id"`
	ClientOrderID string          `gorm:"size:64;not null" json:"client_order_id"`
	CycleID       string          `gorm:"index;size:64" json:"cycle_id"`
	Symbol        string          `gorm:"index;size:32;not null" json:"symbol"`
	Side          string          `gorm:"size:8;not null" json:"side"`
	Quantity      int64           `json:"quantity"`
	Reduce        bool            `json:"reduce"`
	Stop          decimal.Decimal `gorm:"type:numeric(20,6)" json:"stop"`
	Target        decimal.Decimal `gorm:"type:numeric(20,6)" json:"target"`

	Status     OperationStatus `gorm:"size:20;not null;index" json:"status"`
	BrokerRef  string          `gorm:"size:64" json:"broker_ref,omitempty"`
	StopRef    string          `gorm:"size:64" json:"stop_ref,omitempty"`
	TargetRef  string          `gorm:"size:64" json:"target_ref,omitempty"`
	FilledQty  int64           `json:"filled_qty"`
	AvgPrice   decimal.Decimal `gorm:"type:numeric(20,6)" json:"avg_price"`
	RetryCount int             `json:"retry_count"`
	Version    int             `gorm:"not null;default:1" json:"version"`

	ManualReview bool   `gorm:"index" json:"manual_review"`
	LastError    string `gorm:"type:text" json:"last_error,omitempty"`
}

const portfolioStateID = 1

// PortfolioStateRecord is a single row holding the running account health.
type PortfolioStateRecord struct {
	ID            uint       `gorm:"primarykey" json:"-"`
	PeakEquity    float64    `json:"peak_equity"`
	CurrentEquity float64    `json:"current_equity"`
	Drawdown      float64    `json:"drawdown"`
	OpenPositions int        `json:"open_positions"`
	KillSwitch    bool       `json:"kill_switch"`
	KillSwitchAt  *time.Time `json:"kill_switch_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type EquityPoint struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	CycleID       string    `gorm:"size:64" json:"cycle_id"`
	Equity        float64   `json:"equity"`
	Peak          float64   `json:"peak"`
	Drawdown      float64   `json:"drawdown"`
	OpenPositions int       `json:"open_positions"`
}

// AuditEvent is an append-only line of what happened to a symbol at a stage.
type AuditEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	CycleID   string    `gorm:"index;size:64" json:"cycle_id"`
	Symbol    string    `gorm:"size:32" json:"symbol,omitempty"`
	Stage     string    `gorm:"size:32;not null" json:"stage"`
	Outcome   string    `gorm:"size:32;not null;index" json:"outcome"`
	Reason    string    `gorm:"size:255" json:"reason,omitempty"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
}
