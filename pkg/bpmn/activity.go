package bpmn

import (
	"context"
	"fmt"
	"maps"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
)

// serviceTaskExecutor creates a job and lets the token wait until the job is completed
type serviceTaskExecutor struct {
	element *bpmn20.TServiceTask
}

func (e serviceTaskExecutor) execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]*bpmn20.TSequenceFlow, bool, error) {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, run.instanceKey)
	if err != nil {
		return nil, false, notFound(err, "process instance", run.instanceKey)
	}
	instanceScope := runtime.NewVariableHolder(nil, instance.Variables)
	elementScope := runtime.NewVariableHolder(&instanceScope, map[string]any{})
	localVariables, err := elementScope.EvaluateInputMappings(e.element.GetInputMapping(), evaluateExpression)
	if err != nil {
		return nil, false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Can't evaluate input mapping of element id=%s name=%s", e.element.Id, e.element.Name),
			Err: err,
		}
	}
	if err := engine.writeVariables(ctx, batch, run, token.Key, localVariables); err != nil {
		return nil, false, err
	}

	jobVariables := maps.Clone(instance.Variables)
	if jobVariables == nil {
		jobVariables = map[string]any{}
	}
	maps.Copy(jobVariables, localVariables)
	if err := engine.createJob(ctx, batch, run, token, e.element, jobVariables); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}
