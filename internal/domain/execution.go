package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

//go:generate mockgen -destination mocks/mock_execution_repository.go -package mocks github.com/donorflow/donorflow/internal/domain ExecutionRepository
//go:generate mockgen -destination mocks/mock_admission_store.go -package mocks github.com/donorflow/donorflow/internal/domain AdmissionStore

// ExecutionStatus represents the state of one firing of an automation
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusScheduled ExecutionStatus = "scheduled"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
)

// IsValid checks if the execution status is valid
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusScheduled, ExecutionStatusRunning,
		ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is terminal. Terminal executions
// are never re-entered.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusSkipped:
		return true
	default:
		return false
	}
}

// StepOutcome is the result of one action step within an execution
type StepOutcome string

const (
	StepOutcomeOK      StepOutcome = "ok"
	StepOutcomeFailed  StepOutcome = "failed"
	StepOutcomeSkipped StepOutcome = "skipped"
)

// StepResult records the outcome of one action step
type StepResult struct {
	StepOrder int         `json:"step_order"`
	Outcome   StepOutcome `json:"outcome"`
	Error     *string     `json:"error,omitempty"`
}

// Execution is one firing of an automation for one recipient. Created when
// a trigger match is accepted, mutated only by the execution runner, never
// deleted by the engine — terminal executions are retained for audit.
type Execution struct {
	ID             string          `json:"id"`
	AutomationID   string          `json:"automation_id"`
	RecipientKey   string          `json:"recipient_key"`
	RecipientID    string          `json:"recipient_id"`
	RecipientEmail string          `json:"recipient_email"`
	TriggerEventID string          `json:"trigger_event_id"`
	DedupKey       string          `json:"dedup_key"`
	Status         ExecutionStatus `json:"status"`
	ScheduledFor   *time.Time      `json:"scheduled_for,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	NextStepOrder  int             `json:"next_step_order"`
	StepResults    []StepResult    `json:"step_results,omitempty"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	EventPayload   json.RawMessage `json:"event_payload,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate validates the execution
func (e *Execution) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.AutomationID == "" {
		return fmt.Errorf("automation_id is required")
	}
	if e.RecipientKey == "" {
		return fmt.Errorf("recipient_key is required")
	}
	if e.TriggerEventID == "" {
		return fmt.Errorf("trigger_event_id is required")
	}
	if e.DedupKey == "" {
		return fmt.Errorf("dedup_key is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid execution status: %s", e.Status)
	}
	if e.AttemptCount < 0 {
		return fmt.Errorf("attempt_count cannot be negative")
	}
	if e.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative")
	}
	return nil
}

// RecipientKeyFor derives the throttling identity unit for a definition and
// a recipient's stable identifier. Two different trigger events for the same
// donor under the same rule share one cooldown clock.
func RecipientKeyFor(automationID, recipientID string) string {
	return automationID + ":" + strings.ToLower(strings.TrimSpace(recipientID))
}

// DedupKeyFor derives the idempotency token preventing duplicate Execution
// creation for the same upstream event.
func DedupKeyFor(automationID, recipientKey, eventID string) string {
	sum := sha256.Sum256([]byte(automationID + "|" + recipientKey + "|" + eventID))
	return hex.EncodeToString(sum[:])
}

// RejectReason is why admission control refused an execution
type RejectReason string

const (
	RejectReasonMaxExecutionsReached RejectReason = "max_executions_reached"
	RejectReasonCooldownActive       RejectReason = "cooldown_active"
)

// AdmissionDecision is the outcome of the atomic check-and-reserve step
// enforcing the execution cap and the per-recipient cooldown window
type AdmissionDecision struct {
	Admitted bool
	Reason   RejectReason
}

// AdmissionStore is the durable rate/cap state: per-automation execution
// counters and per-recipient cooldown clocks. TryAdmit is the sole
// serialization point shared by concurrent executions of one recipient key
// and must be atomic — check and reserve in a single transaction, never a
// read followed by an isolated write.
type AdmissionStore interface {
	TryAdmit(ctx context.Context, def *AutomationDefinition, recipientKey string, now time.Time) (AdmissionDecision, error)
	TotalExecutions(ctx context.Context, automationID string) (int64, error)
}

// ExecutionFilter defines filtering options for listing executions
type ExecutionFilter struct {
	AutomationID string
	RecipientKey string
	Status       []ExecutionStatus
	Limit        int
	Offset       int
}

// ExecutionRepository persists executions and doubles as the durable timer
// queue: scheduled executions carry their fire time and ClaimDue hands the
// due ones to the runner in ascending fire-time order.
type ExecutionRepository interface {
	// Insert creates the execution if no execution with its dedup key
	// exists yet. Returns false when a duplicate was suppressed.
	Insert(ctx context.Context, execution *Execution) (bool, error)

	// Claim atomically transitions one pending execution to running. The
	// immediate path claims its row before running it in-process, so a
	// concurrent ClaimDue sweep can never execute the same row a second
	// time. Returns false when the row was already claimed.
	Claim(ctx context.Context, id string) (bool, error)

	GetByID(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, execution *Execution) error
	List(ctx context.Context, filter ExecutionFilter) ([]*Execution, int, error)

	// ClaimDue atomically claims up to limit executions whose fire time is
	// at or before the given time, marking them running so concurrent
	// workers never pick the same row. Rows are claimed in ascending
	// fire-time order.
	ClaimDue(ctx context.Context, before time.Time, limit int) ([]*Execution, error)

	// SkipScheduled transitions all scheduled executions of an automation
	// to skipped. Used when a paused definition has cancel_pending_on_pause
	// set. Returns the number of executions cancelled.
	SkipScheduled(ctx context.Context, automationID, reason string) (int64, error)

	// CountByStatus exposes per-automation execution counts for the audit
	// and analytics consumers.
	CountByStatus(ctx context.Context, automationID string) (map[ExecutionStatus]int64, error)
}
