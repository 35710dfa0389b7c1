package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/donorflow/donorflow/internal/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientRepository_GetProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("returns profile with attributes", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewRecipientRepository(db)

		rows := sqlmock.NewRows([]string{"id", "email", "attributes"}).
			AddRow("donor-1", "donor@example.com", []byte(`{"first_name": "Ada"}`))
		mock.ExpectQuery(`SELECT id, email, attributes FROM recipients WHERE id = \$1`).
			WithArgs("donor-1").
			WillReturnRows(rows)

		profile, err := repo.GetProfile(ctx, "donor-1")
		require.NoError(t, err)
		assert.Equal(t, "donor-1", profile.ID)
		assert.Equal(t, "donor@example.com", profile.Email)
		assert.Equal(t, json.RawMessage(`{"first_name": "Ada"}`), profile.Attributes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown recipient is an error", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewRecipientRepository(db)

		mock.ExpectQuery(`SELECT id, email, attributes FROM recipients`).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "attributes"}))

		_, err := repo.GetProfile(ctx, "ghost")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recipient not found: ghost")
	})
}

func TestRecipientRepository_UpdateFields(t *testing.T) {
	ctx := context.Background()

	t.Run("merges fields into attributes", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewRecipientRepository(db)

		mock.ExpectExec(`UPDATE recipients\s+SET attributes = COALESCE\(attributes, '\{\}'::jsonb\) \|\| \$2::jsonb`).
			WithArgs("donor-1", []byte(`{"last_thanked_at":"2026-03-10"}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateFields(ctx, "donor-1", map[string]interface{}{
			"last_thanked_at": "2026-03-10",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown recipient is an error", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewRecipientRepository(db)

		mock.ExpectExec(`UPDATE recipients`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateFields(ctx, "ghost", map[string]interface{}{"a": 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recipient not found: ghost")
	})
}

func TestRecipientRepository_AddTag(t *testing.T) {
	ctx := context.Background()

	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewRecipientRepository(db)

	mock.ExpectExec(`UPDATE recipients\s+SET tags = CASE`).
		WithArgs("donor-1", []byte(`"first-gift"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddTag(ctx, "donor-1", "first-gift"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientRepository_ListAudience(t *testing.T) {
	ctx := context.Background()

	t.Run("returns audience members in stable order", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewRecipientRepository(db)

		rows := sqlmock.NewRows([]string{"id", "email", "attributes"}).
			AddRow("donor-1", "a@example.com", []byte(`{}`)).
			AddRow("donor-2", "b@example.com", []byte(`{"lapsed": true}`))
		mock.ExpectQuery(`SELECT id, email, attributes FROM recipients\s+WHERE COALESCE\(audience_keys, '\[\]'::jsonb\) @> \$1::jsonb\s+ORDER BY id ASC`).
			WithArgs([]byte(`"lapsed-donors"`)).
			WillReturnRows(rows)

		profiles, err := repo.ListAudience(ctx, "lapsed-donors")
		require.NoError(t, err)
		require.Len(t, profiles, 2)
		assert.Equal(t, "donor-1", profiles[0].ID)
		assert.Equal(t, "donor-2", profiles[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty audience returns no profiles", func(t *testing.T) {
		db, mock, cleanup := testutil.SetupMockDB(t)
		defer cleanup()

		repo := NewRecipientRepository(db)

		mock.ExpectQuery(`SELECT id, email, attributes FROM recipients`).
			WithArgs([]byte(`"nobody"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "attributes"}))

		profiles, err := repo.ListAudience(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, profiles)
	})
}
