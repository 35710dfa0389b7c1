package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/donorflow/donorflow/internal/domain"
)

var executionColumns = []string{
	"id", "automation_id", "recipient_key", "recipient_id", "recipient_email",
	"trigger_event_id", "dedup_key", "status", "scheduled_for", "started_at",
	"completed_at", "next_step_order", "step_results", "failure_reason",
	"event_payload", "attempt_count", "max_attempts", "last_error", "created_at",
}

// ExecutionRepository implements domain.ExecutionRepository. The executions
// table is both the audit log and the durable timer queue: scheduled rows
// carry their fire time and ClaimDue drains them in fire-time order.
type ExecutionRepository struct {
	db *sql.DB

	staleClaimAfter time.Duration
}

// ExecutionRepositoryOption configures an ExecutionRepository
type ExecutionRepositoryOption func(*ExecutionRepository)

// WithStaleClaimAfter overrides how long a running execution may go without
// finishing before the claim sweep reclaims it. Must exceed the worst-case
// step sequence duration, or a slow live run gets executed twice.
func WithStaleClaimAfter(d time.Duration) ExecutionRepositoryOption {
	return func(r *ExecutionRepository) {
		if d > 0 {
			r.staleClaimAfter = d
		}
	}
}

// NewExecutionRepository creates a new ExecutionRepository
func NewExecutionRepository(db *sql.DB, opts ...ExecutionRepositoryOption) *ExecutionRepository {
	r := &ExecutionRepository{
		db:              db,
		staleClaimAfter: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert creates the execution unless one with the same dedup key already
// exists. The unique index on dedup_key is the idempotency barrier: two
// concurrent deliveries of the same upstream event race on the insert and
// exactly one wins.
func (r *ExecutionRepository) Insert(ctx context.Context, execution *domain.Execution) (bool, error) {
	stepResultsJSON, err := json.Marshal(execution.StepResults)
	if err != nil {
		return false, fmt.Errorf("failed to marshal step results: %w", err)
	}

	query, args, err := psql.Insert("executions").
		Columns(executionColumns...).
		Values(
			execution.ID,
			execution.AutomationID,
			execution.RecipientKey,
			execution.RecipientID,
			execution.RecipientEmail,
			execution.TriggerEventID,
			execution.DedupKey,
			execution.Status,
			execution.ScheduledFor,
			execution.StartedAt,
			execution.CompletedAt,
			execution.NextStepOrder,
			stepResultsJSON,
			execution.FailureReason,
			[]byte(execution.EventPayload),
			execution.AttemptCount,
			execution.MaxAttempts,
			execution.LastError,
			execution.CreatedAt,
		).
		Suffix("ON CONFLICT (dedup_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetByID retrieves an execution by its id
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	query, args, err := psql.Select(executionColumns...).
		From("executions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	row := r.db.QueryRowContext(ctx, query, args...)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// Update persists the mutable fields of an execution
func (r *ExecutionRepository) Update(ctx context.Context, execution *domain.Execution) error {
	stepResultsJSON, err := json.Marshal(execution.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	query, args, err := psql.Update("executions").
		Set("status", execution.Status).
		Set("scheduled_for", execution.ScheduledFor).
		Set("started_at", execution.StartedAt).
		Set("completed_at", execution.CompletedAt).
		Set("next_step_order", execution.NextStepOrder).
		Set("step_results", stepResultsJSON).
		Set("failure_reason", execution.FailureReason).
		Set("attempt_count", execution.AttemptCount).
		Set("last_error", execution.LastError).
		Where(sq.Eq{"id": execution.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("execution not found: %s", execution.ID)
	}
	return nil
}

// List retrieves executions matching the filter, newest first, plus the
// total count before pagination
func (r *ExecutionRepository) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, int, error) {
	where := sq.And{}
	if filter.AutomationID != "" {
		where = append(where, sq.Eq{"automation_id": filter.AutomationID})
	}
	if filter.RecipientKey != "" {
		where = append(where, sq.Eq{"recipient_key": filter.RecipientKey})
	}
	if len(filter.Status) > 0 {
		where = append(where, sq.Eq{"status": filter.Status})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").
		From("executions").
		Where(where).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	builder := psql.Select(executionColumns...).
		From("executions").
		Where(where).
		OrderBy("created_at DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	return executions, total, rows.Err()
}

// Claim atomically transitions one pending execution to running so the
// immediate path and the ClaimDue sweep never both run the same row.
// Returns false when the sweep got there first.
func (r *ExecutionRepository) Claim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = 'running', started_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClaimDue atomically claims due executions and marks them running in one
// statement. FOR UPDATE SKIP LOCKED lets concurrent engine instances drain
// the queue without ever claiming the same row; the inner select also
// reclaims rows stuck in running longer than the stale threshold after a
// crashed worker.
func (r *ExecutionRepository) ClaimDue(ctx context.Context, before time.Time, limit int) ([]*domain.Execution, error) {
	query := fmt.Sprintf(`
		UPDATE executions
		SET status = 'running', started_at = COALESCE(started_at, NOW())
		WHERE id IN (
			SELECT id FROM executions
			WHERE (status IN ('pending', 'scheduled') AND scheduled_for <= $1)
			   OR (status = 'running' AND started_at < NOW() - make_interval(secs => $2))
			ORDER BY scheduled_for ASC
			LIMIT %d
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, limit, columnList(executionColumns))

	rows, err := r.db.QueryContext(ctx, query, before, r.staleClaimAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim due executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

// SkipScheduled transitions every scheduled execution of an automation to
// skipped with the given reason
func (r *ExecutionRepository) SkipScheduled(ctx context.Context, automationID, reason string) (int64, error) {
	query, args, err := psql.Update("executions").
		Set("status", domain.ExecutionStatusSkipped).
		Set("completed_at", sq.Expr("NOW()")).
		Set("failure_reason", reason).
		Where(sq.Eq{
			"automation_id": automationID,
			"status":        []domain.ExecutionStatus{domain.ExecutionStatusPending, domain.ExecutionStatusScheduled},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to skip scheduled executions: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns per-status execution counts for one automation
func (r *ExecutionRepository) CountByStatus(ctx context.Context, automationID string) (map[domain.ExecutionStatus]int64, error) {
	query, args, err := psql.Select("status", "COUNT(*)").
		From("executions").
		Where(sq.Eq{"automation_id": automationID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ExecutionStatus]int64)
	for rows.Next() {
		var status domain.ExecutionStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanExecution(s scanner) (*domain.Execution, error) {
	var execution domain.Execution
	var stepResultsJSON, eventPayload []byte

	err := s.Scan(
		&execution.ID,
		&execution.AutomationID,
		&execution.RecipientKey,
		&execution.RecipientID,
		&execution.RecipientEmail,
		&execution.TriggerEventID,
		&execution.DedupKey,
		&execution.Status,
		&execution.ScheduledFor,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.NextStepOrder,
		&stepResultsJSON,
		&execution.FailureReason,
		&eventPayload,
		&execution.AttemptCount,
		&execution.MaxAttempts,
		&execution.LastError,
		&execution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(stepResultsJSON) > 0 {
		if err := json.Unmarshal(stepResultsJSON, &execution.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}
	execution.EventPayload = json.RawMessage(eventPayload)

	return &execution, nil
}

func columnList(columns []string) string {
	return strings.Join(columns, ", ")
}
