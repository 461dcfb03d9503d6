package models

// Operator is a numeric comparison used by lead-score conditions.
type Operator string

const (
	OperatorEquals         Operator = "equals"
	OperatorNotEquals      Operator = "not_equals"
	OperatorGreaterThan    Operator = "greater_than"
	OperatorLessThan       Operator = "less_than"
	OperatorGreaterOrEqual Operator = "greater_or_equal"
	OperatorLessOrEqual    Operator = "less_or_equal"
)

func (op Operator) Known() bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan,
		OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Compare evaluates value <op> target. Unknown operators evaluate to false.
func (op Operator) Compare(value, target int) bool {
	switch op {
	case OperatorEquals:
		return value == target
	case OperatorNotEquals:
		return value != target
	case OperatorGreaterThan:
		return value > target
	case OperatorLessThan:
		return value < target
	case OperatorGreaterOrEqual:
		return value >= target
	case OperatorLessOrEqual:
		return value <= target
	default:
		return false
	}
}
