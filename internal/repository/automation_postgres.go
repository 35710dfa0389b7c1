package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/donorflow/donorflow/internal/domain"
)

// psql is a Squirrel StatementBuilder configured for PostgreSQL
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var automationColumns = []string{
	"id", "name", "status", "trigger_type", "trigger", "conditions", "steps",
	"delay_minutes", "delay_type", "time_of_day", "max_executions",
	"cooldown_hours", "cancel_pending_on_pause", "created_at", "updated_at",
}

// AutomationRepository implements domain.AutomationRepository against the
// authoring store. The engine only reads definitions; writes flow through
// the authoring system.
type AutomationRepository struct {
	db *sql.DB
}

// NewAutomationRepository creates a new AutomationRepository
func NewAutomationRepository(db *sql.DB) *AutomationRepository {
	return &AutomationRepository{db: db}
}

// GetByID retrieves an automation definition by its id
func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*domain.AutomationDefinition, error) {
	query, args, err := psql.Select(automationColumns...).
		From("automations").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	row := r.db.QueryRowContext(ctx, query, args...)
	def, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return def, nil
}

// ListByStatus retrieves all automation definitions with the given status
func (r *AutomationRepository) ListByStatus(ctx context.Context, status domain.AutomationStatus) ([]*domain.AutomationDefinition, error) {
	query, args, err := psql.Select(automationColumns...).
		From("automations").
		Where(sq.Eq{"status": status}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var defs []*domain.AutomationDefinition
	for rows.Next() {
		def, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAutomation(s scanner) (*domain.AutomationDefinition, error) {
	var def domain.AutomationDefinition
	var triggerJSON, conditionsJSON, stepsJSON []byte

	err := s.Scan(
		&def.ID,
		&def.Name,
		&def.Status,
		&def.TriggerType,
		&triggerJSON,
		&conditionsJSON,
		&stepsJSON,
		&def.DelayMinutes,
		&def.DelayType,
		&def.TimeOfDay,
		&def.MaxExecutions,
		&def.CooldownHours,
		&def.CancelPendingOnPause,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &def.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &def.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &def, nil
}
