package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionList_Validate(t *testing.T) {
	t.Run("empty list is valid", func(t *testing.T) {
		require.NoError(t, ConditionList{}.Validate())
	})

	t.Run("valid conditions pass", func(t *testing.T) {
		list := ConditionList{
			{Field: "amount", Operator: OperatorGte, Value: 100},
			{Field: "campaign.type", Operator: OperatorIn, Value: []interface{}{"appeal", "event"}},
		}
		require.NoError(t, list.Validate())
	})

	t.Run("missing field names the offending index", func(t *testing.T) {
		list := ConditionList{
			{Field: "amount", Operator: OperatorGte, Value: 100},
			{Operator: OperatorEq, Value: "x"},
		}
		assert.ErrorContains(t, list.Validate(), "condition 1: field is required")
	})

	t.Run("unknown operator", func(t *testing.T) {
		list := ConditionList{{Field: "amount", Operator: "matches", Value: 1}}
		assert.ErrorContains(t, list.Validate(), "invalid operator: matches")
	})

	t.Run("nil value", func(t *testing.T) {
		list := ConditionList{{Field: "amount", Operator: OperatorEq}}
		assert.ErrorContains(t, list.Validate(), "value is required")
	})

	t.Run("in operator requires a list", func(t *testing.T) {
		list := ConditionList{{Field: "tier", Operator: OperatorIn, Value: "gold"}}
		assert.ErrorContains(t, list.Validate(), "in operator requires a list value")
	})
}
