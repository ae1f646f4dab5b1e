package runtime

import (
	"maps"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/extensions"
)

type EvaluateExpressionFunc func(expression string, variableContext map[string]any) (any, error)

// VariableHolder is a variable scope with an optional parent scope.
// It never changes the engine state, callers turn computed variables into records.
type VariableHolder struct {
	parent         *VariableHolder
	localVariables map[string]any
}

// NewVariableHolder creates a new VariableHolder with a given parent and localVariables map.
// If localVariables are not specified all parent.localVariables are copied into current localVariables.
func NewVariableHolder(parent *VariableHolder, localVariables map[string]any) VariableHolder {
	if localVariables == nil {
		localVariables = make(map[string]any)
		if parent != nil {
			maps.Copy(localVariables, parent.localVariables)
		}
	}
	return VariableHolder{
		parent:         parent,
		localVariables: localVariables,
	}
}

func (vh *VariableHolder) LocalVariables() map[string]any {
	return vh.localVariables
}

func (vh *VariableHolder) GetVariable(key string) (any, bool) {
	if v, ok := vh.localVariables[key]; ok {
		return v, true
	}
	if vh.parent != nil {
		return vh.parent.GetVariable(key)
	}
	return nil, false
}

func (vh *VariableHolder) SetLocalVariable(key string, val any) {
	vh.localVariables[key] = val
}

// Scope flattens the holder chain, local variables shadow the parent ones.
func (vh *VariableHolder) Scope() map[string]any {
	scope := map[string]any{}
	if vh.parent != nil {
		maps.Copy(scope, vh.parent.Scope())
	}
	maps.Copy(scope, vh.localVariables)
	return scope
}

// EvaluateInputMappings evaluates mappings against the parent scope and returns the resulting local variables.
func (vh *VariableHolder) EvaluateInputMappings(mappings []extensions.TIoMapping, evaluateExpression EvaluateExpressionFunc) (map[string]any, error) {
	context := map[string]any{}
	if vh.parent != nil {
		context = vh.parent.Scope()
	}
	result := make(map[string]any, len(mappings))
	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, context)
		if err != nil {
			return nil, err
		}
		result[mapping.Target] = evalResult
	}
	return result, nil
}

// EvaluateOutputMappings returns the variables to propagate to the parent scope.
// Without mappings all outputVariables are propagated, later keys overwrite earlier ones.
func (vh *VariableHolder) EvaluateOutputMappings(mappings []extensions.TIoMapping, outputVariables map[string]any, evaluateExpression EvaluateExpressionFunc) (map[string]any, error) {
	if len(mappings) == 0 {
		return maps.Clone(outputVariables), nil
	}
	localScope := vh.Scope()
	maps.Copy(localScope, outputVariables)

	result := make(map[string]any, len(mappings))
	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, localScope)
		if err != nil {
			return nil, err
		}
		result[mapping.Target] = evalResult
	}
	return result, nil
}
