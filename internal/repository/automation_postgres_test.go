package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/internal/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func automationRow(id string) []driverValue {
	trigger, _ := json.Marshal(domain.TriggerConfig{
		Event: &domain.EventTriggerConfig{EventName: string(domain.EventDonationCompleted)},
	})
	steps, _ := json.Marshal([]domain.ActionStep{
		{Order: 0, Type: domain.ActionTypeSendMessage, Config: map[string]interface{}{"body": "hi"}},
	})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	return []driverValue{
		id, "Thank you note", "active", "event", trigger, []byte(`[]`), steps,
		0, "immediate", nil, nil, nil, false, now, now,
	}
}

type driverValue = driver.Value

func TestAutomationRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("returns definition with unmarshaled config", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAutomationRepository(db)

		rows := sqlmock.NewRows(automationColumns).AddRow(automationRow("auto-1")...)
		mock.ExpectQuery(`SELECT .+ FROM automations WHERE id = \$1`).
			WithArgs("auto-1").
			WillReturnRows(rows)

		def, err := repo.GetByID(ctx, "auto-1")
		require.NoError(t, err)
		require.NotNil(t, def)
		assert.Equal(t, "auto-1", def.ID)
		assert.Equal(t, domain.AutomationStatusActive, def.Status)
		require.NotNil(t, def.Trigger)
		assert.Equal(t, string(domain.EventDonationCompleted), def.Trigger.Event.EventName)
		require.Len(t, def.Steps, 1)
		assert.Equal(t, domain.ActionTypeSendMessage, def.Steps[0].Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil when not found", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAutomationRepository(db)

		mock.ExpectQuery(`SELECT .+ FROM automations`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		def, err := repo.GetByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, def)
	})
}

func TestAutomationRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("returns all definitions with the status", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAutomationRepository(db)

		rows := sqlmock.NewRows(automationColumns).
			AddRow(automationRow("auto-1")...).
			AddRow(automationRow("auto-2")...)
		mock.ExpectQuery(`SELECT .+ FROM automations WHERE status = \$1 ORDER BY created_at ASC`).
			WithArgs("active").
			WillReturnRows(rows)

		defs, err := repo.ListByStatus(ctx, domain.AutomationStatusActive)
		require.NoError(t, err)
		require.Len(t, defs, 2)
		assert.Equal(t, "auto-1", defs[0].ID)
		assert.Equal(t, "auto-2", defs[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates query errors", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAutomationRepository(db)

		mock.ExpectQuery(`SELECT .+ FROM automations`).
			WillReturnError(errors.New("connection refused"))

		_, err := repo.ListByStatus(ctx, domain.AutomationStatusActive)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list automations")
	})
}
