package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/internal/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func admissionDefinition() *domain.AutomationDefinition {
	maxExecutions := 100
	cooldownHours := 24.0
	return &domain.AutomationDefinition{
		ID:            "auto-1",
		Name:          "Thank you note",
		MaxExecutions: &maxExecutions,
		CooldownHours: &cooldownHours,
	}
}

func expectCounterLock(mock sqlmock.Sqlmock, total int64) {
	mock.ExpectExec(`INSERT INTO automation_counters`).
		WithArgs("auto-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT total_executions FROM automation_counters\s+WHERE automation_id = \$1\s+FOR UPDATE`).
		WithArgs("auto-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_executions"}).AddRow(total))
}

func TestAdmissionRepository_TryAdmit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	recipientKey := "auto-1:donor-1"

	t.Run("admits and reserves when cap and cooldown pass", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)

		mock.ExpectBegin()
		expectCounterLock(mock, 10)
		mock.ExpectQuery(`SELECT last_admitted_at FROM automation_cooldowns`).
			WithArgs("auto-1", recipientKey).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`UPDATE automation_counters\s+SET total_executions = total_executions \+ 1`).
			WithArgs("auto-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO automation_cooldowns`).
			WithArgs("auto-1", recipientKey, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		decision, err := repo.TryAdmit(ctx, admissionDefinition(), recipientKey, now)
		require.NoError(t, err)
		assert.True(t, decision.Admitted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects when execution cap reached", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)

		mock.ExpectBegin()
		expectCounterLock(mock, 100)
		mock.ExpectRollback()

		decision, err := repo.TryAdmit(ctx, admissionDefinition(), recipientKey, now)
		require.NoError(t, err)
		assert.False(t, decision.Admitted)
		assert.Equal(t, domain.RejectReasonMaxExecutionsReached, decision.Reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects inside the cooldown window", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)

		mock.ExpectBegin()
		expectCounterLock(mock, 10)
		mock.ExpectQuery(`SELECT last_admitted_at FROM automation_cooldowns`).
			WithArgs("auto-1", recipientKey).
			WillReturnRows(sqlmock.NewRows([]string{"last_admitted_at"}).AddRow(now.Add(-time.Hour)))
		mock.ExpectRollback()

		decision, err := repo.TryAdmit(ctx, admissionDefinition(), recipientKey, now)
		require.NoError(t, err)
		assert.False(t, decision.Admitted)
		assert.Equal(t, domain.RejectReasonCooldownActive, decision.Reason)
	})

	t.Run("admits when last admission is older than the window", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)

		mock.ExpectBegin()
		expectCounterLock(mock, 10)
		mock.ExpectQuery(`SELECT last_admitted_at FROM automation_cooldowns`).
			WithArgs("auto-1", recipientKey).
			WillReturnRows(sqlmock.NewRows([]string{"last_admitted_at"}).AddRow(now.Add(-25 * time.Hour)))
		mock.ExpectExec(`UPDATE automation_counters`).
			WithArgs("auto-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO automation_cooldowns`).
			WithArgs("auto-1", recipientKey, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		decision, err := repo.TryAdmit(ctx, admissionDefinition(), recipientKey, now)
		require.NoError(t, err)
		assert.True(t, decision.Admitted)
	})

	t.Run("no cap or cooldown admits without cooldown lock", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)
		def := &domain.AutomationDefinition{ID: "auto-1", Name: "Unbounded"}

		mock.ExpectBegin()
		expectCounterLock(mock, 10)
		mock.ExpectExec(`UPDATE automation_counters`).
			WithArgs("auto-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO automation_cooldowns`).
			WithArgs("auto-1", recipientKey, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		decision, err := repo.TryAdmit(ctx, def, recipientKey, now)
		require.NoError(t, err)
		assert.True(t, decision.Admitted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdmissionRepository_TotalExecutions(t *testing.T) {
	ctx := context.Background()

	t.Run("returns counter value", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)

		mock.ExpectQuery(`SELECT total_executions FROM automation_counters WHERE automation_id = \$1`).
			WithArgs("auto-1").
			WillReturnRows(sqlmock.NewRows([]string{"total_executions"}).AddRow(42))

		total, err := repo.TotalExecutions(ctx, "auto-1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), total)
	})

	t.Run("missing counter row means zero", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewAdmissionRepository(db)

		mock.ExpectQuery(`SELECT total_executions FROM automation_counters`).
			WithArgs("auto-missing").
			WillReturnError(sql.ErrNoRows)

		total, err := repo.TotalExecutions(ctx, "auto-missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})
}
