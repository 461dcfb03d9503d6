package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op       Operator
		value    int
		target   int
		expected bool
	}{
		{OperatorEquals, 50, 50, true},
		{OperatorEquals, 50, 51, false},
		{OperatorNotEquals, 50, 51, true},
		{OperatorGreaterThan, 51, 50, true},
		{OperatorGreaterThan, 50, 50, false},
		{OperatorLessThan, 49, 50, true},
		{OperatorGreaterOrEqual, 50, 50, true},
		{OperatorLessOrEqual, 50, 50, true},
		{OperatorLessOrEqual, 51, 50, false},
		{Operator("around"), 50, 50, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.op.Compare(tt.value, tt.target))
		})
	}
}

func TestOperatorKnown(t *testing.T) {
	assert.True(t, OperatorEquals.Known())
	assert.False(t, Operator("around").Known())
	assert.False(t, Operator("").Known())
}
