package bpmn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pbinitiative/feel"
)

// evaluateExpression evaluates expressions starting with "=" as FEEL, everything else is a string constant
func evaluateExpression(expression string, variableContext map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	//check if is expression if not treat as constant
	if !strings.HasPrefix(expression, "=") {
		return expression, nil
	}

	expression = strings.TrimPrefix(expression, "=")
	res, err := feel.EvalStringWithScope(expression, variableContext)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %s with variables %v : %w", expression, variableContext, err)
	}
	return normalizeFeelValue(res), nil
}

// normalizeFeelValue converts FEEL specific value types into plain Go values
func normalizeFeelValue(value any) any {
	switch v := value.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return v
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, item := range v {
			res[k] = normalizeFeelValue(item)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, item := range v {
			res[i] = normalizeFeelValue(item)
		}
		return res
	case fmt.Stringer:
		// FEEL numbers are arbitrary precision decimals
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}
