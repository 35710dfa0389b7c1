package service

import (
	"encoding/json"
	"testing"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluator_Matches(t *testing.T) {
	evaluator := NewConditionEvaluator()
	entity := json.RawMessage(`{
		"amount": 150.5,
		"currency": "USD",
		"recurring": true,
		"campaign": {"name": "spring-appeal", "goal": 10000},
		"tags": ["major-donor", "newsletter"],
		"completed_at": "2026-03-10T11:59:00Z"
	}`)

	t.Run("empty condition list matches", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, nil)
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("eq on nested field", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "campaign.name", Operator: domain.OperatorEq, Value: "spring-appeal"},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("eq tolerates numeric representation drift", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "campaign.goal", Operator: domain.OperatorEq, Value: float64(10000)},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("neq on absent field matches", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "refund_reason", Operator: domain.OperatorNeq, Value: "fraud"},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("eq on absent field does not match", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "refund_reason", Operator: domain.OperatorEq, Value: "fraud"},
		})
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("numeric ordering", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "amount", Operator: domain.OperatorGte, Value: float64(100)},
			{Field: "amount", Operator: domain.OperatorLt, Value: float64(200)},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("timestamp ordering is lexicographic", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "completed_at", Operator: domain.OperatorGt, Value: "2026-01-01T00:00:00Z"},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("in membership", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "currency", Operator: domain.OperatorIn, Value: []interface{}{"USD", "EUR"}},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("contains on array field", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "tags", Operator: domain.OperatorContains, Value: "major-donor"},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("contains on string field", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "campaign.name", Operator: domain.OperatorContains, Value: "spring"},
		})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("conditions are AND-ed", func(t *testing.T) {
		matched, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "recurring", Operator: domain.OperatorEq, Value: true},
			{Field: "amount", Operator: domain.OperatorGt, Value: float64(1000)},
		})
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("type mismatch surfaces an error", func(t *testing.T) {
		_, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "amount", Operator: domain.OperatorGt, Value: "high"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot compare numeric field")
	})

	t.Run("in with non-list value surfaces an error", func(t *testing.T) {
		_, err := evaluator.Matches(entity, domain.ConditionList{
			{Field: "currency", Operator: domain.OperatorIn, Value: "USD"},
		})
		require.Error(t, err)
	})
}
