package bpmn

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/extensions"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// values of the token status span attribute
const (
	tokenStatusCompleting = "completing"
	tokenStatusWaiting    = "waiting"
	tokenStatusIncident   = "incident"
)

// flowNodeExecutor defines the behavior of all BPMN element executors
type flowNodeExecutor interface {
	// execute runs an activated element. It returns the sequence flows taken once the element completes,
	// or wait when the token waits for a job or a timer.
	execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) (flows []*bpmn20.TSequenceFlow, wait bool, err error)
}

func getExecutor(element bpmn20.FlowNode) (flowNodeExecutor, error) {
	switch e := element.(type) {
	// Events
	case *bpmn20.TStartEvent:
		return startEventExecutor{element: e}, nil
	case *bpmn20.TEndEvent:
		return endEventExecutor{element: e}, nil
	case *bpmn20.TIntermediateCatchEvent:
		return timerCatchEventExecutor{element: e}, nil
	// Activities
	case *bpmn20.TServiceTask:
		return serviceTaskExecutor{element: e}, nil
	// Gateways
	case *bpmn20.TExclusiveGateway:
		return exclusiveGatewayExecutor{element: e}, nil
	case *bpmn20.TParallelGateway:
		return parallelGatewayExecutor{element: e}, nil
	default:
		return nil, newEngineErrorf("no executor defined for element %s of type %s", element.GetId(), element.GetType())
	}
}

// instanceRun is the process instance a command operates on
type instanceRun struct {
	definition  runtime.ProcessDefinition
	instanceKey int64
}

func (run *instanceRun) process() *bpmn20.TProcess {
	return &run.definition.Definitions.Process
}

func (run *instanceRun) element(elementId string) (bpmn20.FlowNode, error) {
	element, ok := run.process().GetFlowNodeById(elementId)
	if !ok {
		return nil, newEngineErrorf("element %s not found in process %s version %d", elementId, run.definition.BpmnProcessId, run.definition.Version)
	}
	return element, nil
}

func (run *instanceRun) elementValue(elementId string, elementType bpmn20.ElementType) record.ProcessInstanceValue {
	return record.ProcessInstanceValue{
		BpmnProcessId:        run.definition.BpmnProcessId,
		Version:              run.definition.Version,
		ProcessDefinitionKey: run.definition.Key,
		ProcessInstanceKey:   run.instanceKey,
		ElementId:            elementId,
		BpmnElementType:      elementType,
		FlowScopeKey:         run.instanceKey,
	}
}

func (run *instanceRun) processValue() record.ProcessInstanceValue {
	value := run.elementValue(run.definition.BpmnProcessId, bpmn20.ElementTypeProcess)
	value.FlowScopeKey = -1
	return value
}

func (engine *Engine) loadInstanceRun(ctx context.Context, processInstanceKey int64) (*instanceRun, runtime.ProcessInstance, error) {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, processInstanceKey)
	if err != nil {
		return nil, instance, notFound(err, "process instance", processInstanceKey)
	}
	definition, err := engine.state.FindProcessDefinitionByKey(ctx, instance.ProcessDefinitionKey)
	if err != nil {
		return nil, instance, notFound(err, "process definition", instance.ProcessDefinitionKey)
	}
	return &instanceRun{definition: definition, instanceKey: instance.Key}, instance, nil
}

// run processes commands until every token of the instance either waits or ended
func (engine *Engine) run(ctx context.Context, batch *engineBatch, run *instanceRun, commandQueue []command) error {
	for len(commandQueue) > 0 {
		cmd := commandQueue[0]
		commandQueue = commandQueue[1:]

		var nextCommands []command
		var err error
		switch tCmd := cmd.(type) {
		case activateElementCommand:
			nextCommands, err = engine.activateElement(ctx, batch, run, tCmd.element)
		case executeElementCommand:
			nextCommands, err = engine.executeElement(ctx, batch, run, tCmd.token)
		case completeElementCommand:
			nextCommands, err = engine.completeElement(ctx, batch, run, tCmd.token, tCmd.variables, tCmd.flows)
		case flowTransitionCommand:
			nextCommands, err = engine.takeSequenceFlow(ctx, batch, run, tCmd.sequenceFlow)
		default:
			panic("[invariant check] command type check not fully implemented")
		}
		if err != nil {
			return err
		}
		commandQueue = append(commandQueue, nextCommands...)
	}
	return engine.completeInstanceIfDone(ctx, batch, run)
}

func (engine *Engine) activateElement(ctx context.Context, batch *engineBatch, run *instanceRun, element bpmn20.FlowNode) ([]command, error) {
	key := engine.generateKey()
	value := run.elementValue(element.GetId(), element.GetType())
	if _, err := batch.write(ctx, key, record.ValueTypeProcessInstance, record.IntentElementActivating, value); err != nil {
		return nil, err
	}
	if _, err := batch.write(ctx, key, record.ValueTypeProcessInstance, record.IntentElementActivated, value); err != nil {
		return nil, err
	}
	token := runtime.ExecutionToken{
		Key:                key,
		ProcessInstanceKey: run.instanceKey,
		ElementId:          element.GetId(),
		ElementType:        element.GetType(),
		State:              runtime.TokenStateActivated,
	}
	return []command{executeElementCommand{token: token}}, nil
}

func (engine *Engine) executeElement(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]command, error) {
	element, err := run.element(token.ElementId)
	if err != nil {
		return nil, err
	}
	ctx, elementSpan := engine.tracer.Start(ctx, fmt.Sprintf("element:%s", token.ElementId), trace.WithAttributes(
		attribute.String(otelPkg.AttributeElementId, token.ElementId),
		attribute.String(otelPkg.AttributeElementType, string(token.ElementType)),
		attribute.Int64(otelPkg.AttributeElementKey, token.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, run.instanceKey),
	))
	defer elementSpan.End()

	executor, err := getExecutor(element)
	if err != nil {
		elementSpan.SetAttributes(attribute.String(otelPkg.SpanStatusToken, tokenStatusIncident))
		return nil, engine.raiseIncident(ctx, batch, run, token, 0, err)
	}
	flows, wait, err := executor.execute(ctx, engine, batch, run, token)
	if err != nil {
		elementSpan.SetAttributes(attribute.String(otelPkg.SpanStatusToken, tokenStatusIncident))
		return nil, engine.raiseIncident(ctx, batch, run, token, 0, err)
	}
	if wait {
		elementSpan.SetAttributes(attribute.String(otelPkg.SpanStatusToken, tokenStatusWaiting))
		return nil, nil
	}
	elementSpan.SetAttributes(attribute.String(otelPkg.SpanStatusToken, tokenStatusCompleting))
	return []command{completeElementCommand{token: token, flows: flows}}, nil
}

func (engine *Engine) completeElement(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken, variables map[string]any, flows []*bpmn20.TSequenceFlow) ([]command, error) {
	element, err := run.element(token.ElementId)
	if err != nil {
		return nil, err
	}
	value := run.elementValue(element.GetId(), element.GetType())
	if token.State != runtime.TokenStateCompleting {
		if _, err := batch.write(ctx, token.Key, record.ValueTypeProcessInstance, record.IntentElementCompleting, value); err != nil {
			return nil, err
		}
		token.State = runtime.TokenStateCompleting
	}

	outputs, err := engine.evaluateOutputMappings(ctx, batch, run, token, element, variables)
	if err != nil {
		return nil, engine.raiseIncident(ctx, batch, run, token, 0, err)
	}
	if err := engine.writeVariables(ctx, batch, run, run.instanceKey, outputs); err != nil {
		return nil, err
	}
	if _, err := batch.write(ctx, token.Key, record.ValueTypeProcessInstance, record.IntentElementCompleted, value); err != nil {
		return nil, err
	}

	nextCommands := make([]command, 0, len(flows))
	for _, flow := range flows {
		nextCommands = append(nextCommands, flowTransitionCommand{sequenceFlow: flow})
	}
	return nextCommands, nil
}

func (engine *Engine) takeSequenceFlow(ctx context.Context, batch *engineBatch, run *instanceRun, flow *bpmn20.TSequenceFlow) ([]command, error) {
	_, err := batch.write(ctx, engine.generateKey(), record.ValueTypeProcessInstance, record.IntentSequenceFlowTaken, run.elementValue(flow.Id, bpmn20.ElementTypeSequenceFlow))
	if err != nil {
		return nil, err
	}
	target, err := run.element(flow.TargetRef)
	if err != nil {
		return nil, err
	}
	if target.GetType() == bpmn20.ElementTypeParallelGateway {
		// the join waits until every incoming flow was taken at least once
		taken, err := engine.state.GetTakenSequenceFlows(ctx, run.instanceKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load taken sequence flows of instance %d: %w", run.instanceKey, err)
		}
		for _, incoming := range run.process().IncomingFlows(target.GetId()) {
			if taken[incoming.Id] < 1 {
				return nil, nil
			}
		}
	}
	return []command{activateElementCommand{element: target}}, nil
}

func outputMappings(element bpmn20.FlowNode) []extensions.TIoMapping {
	switch e := element.(type) {
	case bpmn20.TaskElement:
		return e.GetOutputMapping()
	case *bpmn20.TIntermediateCatchEvent:
		return e.GetOutputMapping()
	}
	return nil
}

// evaluateOutputMappings returns the variables propagated into the instance scope when the element completes.
// With output mappings the produced variables are kept in the element scope first, so a failed mapping can be retried.
func (engine *Engine) evaluateOutputMappings(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken, element bpmn20.FlowNode, variables map[string]any) (map[string]any, error) {
	mappings := outputMappings(element)
	if len(mappings) == 0 {
		return variables, nil
	}
	if err := engine.writeVariables(ctx, batch, run, token.Key, variables); err != nil {
		return nil, err
	}
	instance, err := engine.state.FindProcessInstanceByKey(ctx, run.instanceKey)
	if err != nil {
		return nil, notFound(err, "process instance", run.instanceKey)
	}
	current, err := engine.state.GetTokenByKey(ctx, token.Key)
	if err != nil {
		return nil, notFound(err, "element instance", token.Key)
	}
	localVariables := maps.Clone(current.Variables)
	if localVariables == nil {
		localVariables = map[string]any{}
	}
	instanceScope := runtime.NewVariableHolder(nil, instance.Variables)
	elementScope := runtime.NewVariableHolder(&instanceScope, localVariables)
	outputs, err := elementScope.EvaluateOutputMappings(mappings, variables, evaluateExpression)
	if err != nil {
		return nil, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Can't evaluate output mapping of element id=%s", element.GetId()),
			Err: err,
		}
	}
	return outputs, nil
}

// writeVariables writes a VARIABLE record for every new or changed variable of the scope, in name order
func (engine *Engine) writeVariables(ctx context.Context, batch *engineBatch, run *instanceRun, scopeKey int64, variables map[string]any) error {
	if len(variables) == 0 {
		return nil
	}
	var current map[string]any
	if scopeKey == run.instanceKey {
		instance, err := engine.state.FindProcessInstanceByKey(ctx, run.instanceKey)
		if err != nil {
			return notFound(err, "process instance", run.instanceKey)
		}
		current = instance.Variables
	} else {
		token, err := engine.state.GetTokenByKey(ctx, scopeKey)
		if err != nil {
			return notFound(err, "element instance", scopeKey)
		}
		current = token.Variables
	}
	for _, name := range slices.Sorted(maps.Keys(variables)) {
		value := variables[name]
		old, exists := current[name]
		if exists && reflect.DeepEqual(old, value) {
			continue
		}
		intent := record.IntentCreated
		if exists {
			intent = record.IntentUpdated
		}
		_, err := batch.write(ctx, engine.generateKey(), record.ValueTypeVariable, intent, record.VariableValue{
			Name:                 name,
			Value:                value,
			ScopeKey:             scopeKey,
			ProcessInstanceKey:   run.instanceKey,
			ProcessDefinitionKey: run.definition.Key,
			BpmnProcessId:        run.definition.BpmnProcessId,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (engine *Engine) completeInstanceIfDone(ctx context.Context, batch *engineBatch, run *instanceRun) error {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, run.instanceKey)
	if err != nil {
		return notFound(err, "process instance", run.instanceKey)
	}
	if instance.State != runtime.ProcessInstanceStateActive {
		return nil
	}
	tokens, err := engine.state.GetActiveTokensForProcessInstance(ctx, run.instanceKey)
	if err != nil {
		return fmt.Errorf("failed to load tokens of instance %d: %w", run.instanceKey, err)
	}
	if len(tokens) > 0 {
		return nil
	}
	value := run.processValue()
	if _, err := batch.write(ctx, run.instanceKey, record.ValueTypeProcessInstance, record.IntentElementCompleting, value); err != nil {
		return err
	}
	if _, err := batch.write(ctx, run.instanceKey, record.ValueTypeProcessInstance, record.IntentElementCompleted, value); err != nil {
		return err
	}
	engine.metrics.ProcessesEnded.Add(ctx, 1)
	engine.metrics.ProcessesRunning.Add(ctx, -1)
	batch.instanceFinished(instanceOutcome{
		processInstanceKey: run.instanceKey,
		variables:          instance.Variables,
	})
	return nil
}

// isIncidentError reports whether err is an execution failure that halts the token instead of failing the command
func isIncidentError(err error) bool {
	var expressionErr *ExpressionEvaluationError
	var engineErr *BpmnEngineError
	return errors.As(err, &expressionErr) || errors.As(err, &engineErr)
}
