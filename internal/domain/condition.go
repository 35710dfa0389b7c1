package domain

import (
	"fmt"
)

// Operator is a comparison operator usable in condition expressions and
// event filters. The set is closed: conditions are data, never code.
type Operator string

const (
	OperatorEq       Operator = "eq"
	OperatorNeq      Operator = "neq"
	OperatorGt       Operator = "gt"
	OperatorGte      Operator = "gte"
	OperatorLt       Operator = "lt"
	OperatorLte      Operator = "lte"
	OperatorIn       Operator = "in"
	OperatorContains Operator = "contains"
)

// IsValid checks if the operator is valid
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEq, OperatorNeq, OperatorGt, OperatorGte,
		OperatorLt, OperatorLte, OperatorIn, OperatorContains:
		return true
	default:
		return false
	}
}

// Condition is one comparison: a dotted field path into the entity
// document, an operator, and a literal value.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Validate validates the condition
func (c *Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}

	if !c.Operator.IsValid() {
		return fmt.Errorf("invalid operator: %s", c.Operator)
	}

	if c.Value == nil {
		return fmt.Errorf("value is required")
	}

	if c.Operator == OperatorIn {
		if _, ok := c.Value.([]interface{}); !ok {
			return fmt.Errorf("in operator requires a list value")
		}
	}

	return nil
}

// ConditionList is an ordered set of conditions, implicitly AND-ed.
// An empty list always matches.
type ConditionList []Condition

// Validate validates every condition in the list
func (l ConditionList) Validate() error {
	for i := range l {
		if err := l[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}
