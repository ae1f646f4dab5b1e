package bpmn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateExpressionTreatsPlainTextAsConstant(t *testing.T) {
	result, err := evaluateExpression("  PT1H ", nil)

	require.NoError(t, err)
	assert.Equal(t, "PT1H", result)
}

func TestEvaluateExpressionUsesVariables(t *testing.T) {
	result, err := evaluateExpression(`=name + "!"`, map[string]any{"name": "zen"})

	require.NoError(t, err)
	assert.Equal(t, "zen!", result)
}

func TestEvaluateExpressionReturnsPlainNumbers(t *testing.T) {
	result, err := evaluateExpression("=1 + 2", nil)

	require.NoError(t, err)
	assert.EqualValues(t, 3, result)
}

func TestEvaluateExpressionFailsForInvalidSyntax(t *testing.T) {
	_, err := evaluateExpression("=)(", nil)

	assert.Error(t, err)
}
