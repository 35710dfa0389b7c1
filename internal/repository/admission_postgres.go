package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/donorflow/donorflow/internal/domain"
)

// AdmissionRepository implements domain.AdmissionStore on two small tables:
// a per-automation execution counter and a per-recipient cooldown stamp.
// TryAdmit holds row locks on both for the duration of one transaction, so
// two near-simultaneous executions of the same recipient key serialize here
// and the loser observes the winner's reservation.
type AdmissionRepository struct {
	db *sql.DB
}

// NewAdmissionRepository creates a new AdmissionRepository
func NewAdmissionRepository(db *sql.DB) *AdmissionRepository {
	return &AdmissionRepository{db: db}
}

// TryAdmit checks the execution cap and the per-recipient cooldown window
// and, when both pass, reserves the slot. Check and reserve happen in a
// single transaction.
func (r *AdmissionRepository) TryAdmit(ctx context.Context, def *domain.AutomationDefinition, recipientKey string, now time.Time) (domain.AdmissionDecision, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdmissionDecision{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	total, err := r.lockCounter(ctx, tx, def.ID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}

	if def.MaxExecutions != nil && total >= int64(*def.MaxExecutions) {
		return domain.AdmissionDecision{Admitted: false, Reason: domain.RejectReasonMaxExecutionsReached}, nil
	}

	if window := def.CooldownWindow(); window > 0 {
		lastAdmitted, found, err := r.lockCooldown(ctx, tx, def.ID, recipientKey)
		if err != nil {
			return domain.AdmissionDecision{}, err
		}
		if found && now.Sub(lastAdmitted) < window {
			return domain.AdmissionDecision{Admitted: false, Reason: domain.RejectReasonCooldownActive}, nil
		}
	}

	if err := r.reserve(ctx, tx, def.ID, recipientKey, now); err != nil {
		return domain.AdmissionDecision{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.AdmissionDecision{}, fmt.Errorf("failed to commit admission: %w", err)
	}
	return domain.AdmissionDecision{Admitted: true}, nil
}

// TotalExecutions returns the number of admitted executions for an automation
func (r *AdmissionRepository) TotalExecutions(ctx context.Context, automationID string) (int64, error) {
	query, args, err := psql.Select("total_executions").
		From("automation_counters").
		Where(sq.Eq{"automation_id": automationID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var total int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get execution count: %w", err)
	}
	return total, nil
}

// lockCounter ensures the counter row exists and takes a row lock on it.
// The lock serializes every admission for the automation for the lifetime
// of the transaction.
func (r *AdmissionRepository) lockCounter(ctx context.Context, tx *sql.Tx, automationID string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO automation_counters (automation_id, total_executions, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (automation_id) DO NOTHING`, automationID)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure counter row: %w", err)
	}

	var total int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_executions FROM automation_counters
		WHERE automation_id = $1
		FOR UPDATE`, automationID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to lock counter row: %w", err)
	}
	return total, nil
}

func (r *AdmissionRepository) lockCooldown(ctx context.Context, tx *sql.Tx, automationID, recipientKey string) (time.Time, bool, error) {
	var lastAdmitted time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT last_admitted_at FROM automation_cooldowns
		WHERE automation_id = $1 AND recipient_key = $2
		FOR UPDATE`, automationID, recipientKey).Scan(&lastAdmitted)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to lock cooldown row: %w", err)
	}
	return lastAdmitted, true, nil
}

func (r *AdmissionRepository) reserve(ctx context.Context, tx *sql.Tx, automationID, recipientKey string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE automation_counters
		SET total_executions = total_executions + 1, updated_at = NOW()
		WHERE automation_id = $1`, automationID)
	if err != nil {
		return fmt.Errorf("failed to increment counter: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO automation_cooldowns (automation_id, recipient_key, last_admitted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (automation_id, recipient_key)
		DO UPDATE SET last_admitted_at = EXCLUDED.last_admitted_at`,
		automationID, recipientKey, now)
	if err != nil {
		return fmt.Errorf("failed to stamp cooldown: %w", err)
	}
	return nil
}
