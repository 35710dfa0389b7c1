package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/tidwall/gjson"
)

// ConditionEvaluator evaluates condition expressions against an entity
// document. It is a pure interpreter over a fixed grammar: dotted field
// path, operator, literal. Conditions are data, never code.
type ConditionEvaluator struct{}

// NewConditionEvaluator creates a new condition evaluator
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Matches reports whether the entity document satisfies every condition in
// the list. An empty list always matches. Field paths use gjson syntax,
// e.g. "donation.amount" or "donor.tags".
func (e *ConditionEvaluator) Matches(entity json.RawMessage, conditions domain.ConditionList) (bool, error) {
	for i := range conditions {
		ok, err := e.matchesOne(entity, &conditions[i])
		if err != nil {
			return false, fmt.Errorf("condition %d (%s %s): %w", i, conditions[i].Field, conditions[i].Operator, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *ConditionEvaluator) matchesOne(entity json.RawMessage, c *domain.Condition) (bool, error) {
	field := gjson.GetBytes(entity, c.Field)

	switch c.Operator {
	case domain.OperatorEq:
		return field.Exists() && looseEqual(field, c.Value), nil

	case domain.OperatorNeq:
		// An absent field is not equal to any literal
		return !field.Exists() || !looseEqual(field, c.Value), nil

	case domain.OperatorGt, domain.OperatorGte, domain.OperatorLt, domain.OperatorLte:
		if !field.Exists() {
			return false, nil
		}
		cmp, err := compare(field, c.Value)
		if err != nil {
			return false, err
		}
		switch c.Operator {
		case domain.OperatorGt:
			return cmp > 0, nil
		case domain.OperatorGte:
			return cmp >= 0, nil
		case domain.OperatorLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}

	case domain.OperatorIn:
		values, ok := c.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("in operator requires a list value")
		}
		if !field.Exists() {
			return false, nil
		}
		for _, v := range values {
			if looseEqual(field, v) {
				return true, nil
			}
		}
		return false, nil

	case domain.OperatorContains:
		if !field.Exists() {
			return false, nil
		}
		if field.IsArray() {
			for _, item := range field.Array() {
				if looseEqual(item, c.Value) {
					return true, nil
				}
			}
			return false, nil
		}
		needle, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("contains operator on a string field requires a string value")
		}
		return strings.Contains(field.String(), needle), nil

	default:
		return false, fmt.Errorf("unsupported operator: %s", c.Operator)
	}
}

// looseEqual compares a JSON field against a literal, tolerating the
// number/string representation drift inherent in JSON config payloads
func looseEqual(field gjson.Result, value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return field.Type == gjson.Null
	case bool:
		return field.IsBool() && field.Bool() == v
	case float64:
		return field.Type == gjson.Number && field.Num == v
	case int:
		return field.Type == gjson.Number && field.Num == float64(v)
	case json.Number:
		f, err := v.Float64()
		return err == nil && field.Type == gjson.Number && field.Num == f
	case string:
		return field.String() == v
	default:
		return field.String() == fmt.Sprintf("%v", value)
	}
}

// compare orders a JSON field against a literal: numerically when both
// sides are numbers, lexicographically otherwise (which also covers
// RFC 3339 timestamps).
func compare(field gjson.Result, value interface{}) (int, error) {
	if field.Type == gjson.Number {
		var want float64
		switch v := value.(type) {
		case float64:
			want = v
		case int:
			want = float64(v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return 0, fmt.Errorf("invalid numeric literal: %v", value)
			}
			want = f
		case string:
			return 0, fmt.Errorf("cannot compare numeric field to string literal %q", v)
		default:
			return 0, fmt.Errorf("cannot compare numeric field to %T literal", value)
		}
		switch {
		case field.Num < want:
			return -1, nil
		case field.Num > want:
			return 1, nil
		default:
			return 0, nil
		}
	}

	want, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("cannot compare string field to %T literal", value)
	}
	return strings.Compare(field.String(), want), nil
}
