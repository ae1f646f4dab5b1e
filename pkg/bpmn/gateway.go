package bpmn

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
)

// exclusiveGatewayExecutor takes the first outgoing flow whose condition holds, else the default flow
type exclusiveGatewayExecutor struct {
	element *bpmn20.TExclusiveGateway
}

func (e exclusiveGatewayExecutor) execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]*bpmn20.TSequenceFlow, bool, error) {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, run.instanceKey)
	if err != nil {
		return nil, false, notFound(err, "process instance", run.instanceKey)
	}
	flow, err := exclusivelyFilterByConditionExpression(e.element, run.process().OutgoingFlows(e.element.Id), instance.Variables)
	if err != nil {
		return nil, false, err
	}
	return []*bpmn20.TSequenceFlow{flow}, false, nil
}

// parallelGatewayExecutor forks to all outgoing flows. Joining happens before activation,
// a parallel gateway is only activated once every incoming flow was taken.
type parallelGatewayExecutor struct {
	element *bpmn20.TParallelGateway
}

func (e parallelGatewayExecutor) execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]*bpmn20.TSequenceFlow, bool, error) {
	flows := run.process().OutgoingFlows(e.element.Id)
	if len(flows) == 0 {
		return nil, false, fmt.Errorf("parallel gateway %s has no outgoing flows", e.element.Id)
	}
	return flows, false, nil
}
