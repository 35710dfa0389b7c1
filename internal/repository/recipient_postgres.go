package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/donorflow/donorflow/internal/domain"
)

// RecipientRepository implements domain.RecipientDirectory and
// domain.AudienceSource against the recipients table. Audience membership
// is precomputed by the CRM sync and stored as a JSONB list of keys.
type RecipientRepository struct {
	db *sql.DB
}

// NewRecipientRepository creates a new RecipientRepository
func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// GetProfile retrieves the current profile of a recipient
func (r *RecipientRepository) GetProfile(ctx context.Context, id string) (*domain.RecipientProfile, error) {
	query, args, err := psql.Select("id", "email", "attributes").
		From("recipients").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var profile domain.RecipientProfile
	var attributes []byte
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&profile.ID, &profile.Email, &attributes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipient not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	profile.Attributes = json.RawMessage(attributes)
	return &profile, nil
}

// UpdateFields merges the given fields into the recipient's attributes
func (r *RecipientRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE recipients
		SET attributes = COALESCE(attributes, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1`, id, fieldsJSON)
	if err != nil {
		return fmt.Errorf("failed to update recipient fields: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recipient not found: %s", id)
	}
	return nil
}

// AddTag appends a tag to the recipient's tag list. Adding a tag that is
// already present is a no-op.
func (r *RecipientRepository) AddTag(ctx context.Context, id string, tag string) error {
	tagJSON, err := json.Marshal(tag)
	if err != nil {
		return fmt.Errorf("failed to marshal tag: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE recipients
		SET tags = CASE
			WHEN COALESCE(tags, '[]'::jsonb) @> $2::jsonb THEN tags
			ELSE COALESCE(tags, '[]'::jsonb) || jsonb_build_array($2::jsonb)
		END,
		updated_at = NOW()
		WHERE id = $1`, id, tagJSON)
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recipient not found: %s", id)
	}
	return nil
}

// ListAudience retrieves the recipients belonging to a precomputed audience
func (r *RecipientRepository) ListAudience(ctx context.Context, audienceKey string) ([]*domain.RecipientProfile, error) {
	keyJSON, err := json.Marshal(audienceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audience key: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, attributes FROM recipients
		WHERE COALESCE(audience_keys, '[]'::jsonb) @> $1::jsonb
		ORDER BY id ASC`, keyJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to list audience: %w", err)
	}
	defer rows.Close()

	var profiles []*domain.RecipientProfile
	for rows.Next() {
		var profile domain.RecipientProfile
		var attributes []byte
		if err := rows.Scan(&profile.ID, &profile.Email, &attributes); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		profile.Attributes = json.RawMessage(attributes)
		profiles = append(profiles, &profile)
	}
	return profiles, rows.Err()
}
