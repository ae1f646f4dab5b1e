package bpmn

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LatestVersion selects the highest deployed version of a process
const LatestVersion int32 = -1

type CreateInstanceCommand struct {
	// ProcessDefinitionKey takes precedence over BpmnProcessId and Version
	ProcessDefinitionKey int64
	BpmnProcessId        string
	// Version of the process, LatestVersion or zero selects the latest one
	Version   int32
	Variables map[string]any
	// AwaitResult blocks until the instance completed and returns its variables
	AwaitResult bool
}

type InstanceResult struct {
	ProcessInstanceKey   int64
	ProcessDefinitionKey int64
	BpmnProcessId        string
	Version              int32
	// Variables are only set for commands awaiting the result
	Variables map[string]any
}

// CreateInstance creates a new process instance and runs it until every token waits or ended.
// Unknown processes fail with a NotFoundError. With AwaitResult the call blocks until the instance completed,
// an incident fails the call with an ExecutionError or RetryExhaustedError, canceling it with ErrInstanceTerminated.
// Abandoning the wait through ctx never cancels the instance.
func (engine *Engine) CreateInstance(ctx context.Context, cmd CreateInstanceCommand) (result InstanceResult, retErr error) {
	enterDone, err := engine.enter()
	if err != nil {
		return result, err
	}
	// the in-flight slot covers starting the instance, never the wait for its result
	done := sync.OnceFunc(enterDone)
	defer done()

	definition, err := engine.findDefinitionToStart(ctx, cmd)
	if err != nil {
		return result, err
	}
	key := engine.generateKey()
	result = InstanceResult{
		ProcessInstanceKey:   key,
		ProcessDefinitionKey: definition.Key,
		BpmnProcessId:        definition.BpmnProcessId,
		Version:              definition.Version,
	}

	ctx, createSpan := engine.tracer.Start(ctx, fmt.Sprintf("create-instance:%s", definition.BpmnProcessId), trace.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, definition.BpmnProcessId),
		attribute.Int64(otelPkg.AttributeProcessDefinitionKey, definition.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, key),
	))
	defer func() {
		if retErr != nil {
			createSpan.RecordError(retErr)
			createSpan.SetStatus(codes.Error, retErr.Error())
		}
		createSpan.End()
	}()

	var awaiter <-chan instanceOutcome
	err = func() error {
		engine.runningInstances.lockInstance(key)
		batch := engine.newEngineBatch()
		defer func() {
			engine.runningInstances.unlockInstance(key)
			batch.flush()
		}()
		if cmd.AwaitResult {
			awaiter = engine.awaiters.register(key)
		}
		return engine.startInstance(ctx, batch, &instanceRun{definition: definition, instanceKey: key}, cmd.Variables)
	}()
	if err != nil {
		if awaiter != nil {
			engine.awaiters.deregister(key, awaiter)
		}
		return result, err
	}
	done()
	if !cmd.AwaitResult {
		return result, nil
	}

	select {
	case outcome := <-awaiter:
		if outcome.err != nil {
			return result, outcome.err
		}
		result.Variables = outcome.variables
		return result, nil
	case <-ctx.Done():
		engine.awaiters.deregister(key, awaiter)
		return result, ctx.Err()
	}
}

func (engine *Engine) findDefinitionToStart(ctx context.Context, cmd CreateInstanceCommand) (runtime.ProcessDefinition, error) {
	if cmd.ProcessDefinitionKey != 0 {
		definition, err := engine.state.FindProcessDefinitionByKey(ctx, cmd.ProcessDefinitionKey)
		if err != nil {
			return definition, notFound(err, "process definition", cmd.ProcessDefinitionKey)
		}
		return definition, nil
	}
	if cmd.BpmnProcessId == "" {
		return runtime.ProcessDefinition{}, newValidationErrorf("either a process definition key or a BPMN process id is required")
	}
	if cmd.Version > 0 {
		definition, err := engine.state.FindProcessDefinitionByIdAndVersion(ctx, cmd.BpmnProcessId, cmd.Version)
		if err != nil {
			return definition, notFound(err, "process", fmt.Sprintf("%s version %d", cmd.BpmnProcessId, cmd.Version))
		}
		return definition, nil
	}
	if cmd.Version != LatestVersion && cmd.Version != 0 {
		return runtime.ProcessDefinition{}, newValidationErrorf("invalid version %d of process %s", cmd.Version, cmd.BpmnProcessId)
	}
	definition, err := engine.state.FindLatestProcessDefinitionById(ctx, cmd.BpmnProcessId)
	if err != nil {
		return definition, notFound(err, "process", cmd.BpmnProcessId)
	}
	return definition, nil
}

func (engine *Engine) startInstance(ctx context.Context, batch *engineBatch, run *instanceRun, variables map[string]any) error {
	startEvent, ok := run.process().GetStartEvent()
	if !ok {
		return newEngineErrorf("process %s has no start event", run.definition.BpmnProcessId)
	}
	value := run.processValue()
	if _, err := batch.write(ctx, run.instanceKey, record.ValueTypeProcessInstance, record.IntentElementActivating, value); err != nil {
		return err
	}
	if err := engine.writeVariables(ctx, batch, run, run.instanceKey, variables); err != nil {
		return err
	}
	if _, err := batch.write(ctx, run.instanceKey, record.ValueTypeProcessInstance, record.IntentElementActivated, value); err != nil {
		return err
	}
	_, err := batch.write(ctx, run.instanceKey, record.ValueTypeProcessInstanceCreation, record.IntentCreated, record.ProcessInstanceCreationValue{
		BpmnProcessId:        run.definition.BpmnProcessId,
		Version:              run.definition.Version,
		ProcessDefinitionKey: run.definition.Key,
		ProcessInstanceKey:   run.instanceKey,
		Variables:            maps.Clone(variables),
	})
	if err != nil {
		return err
	}
	engine.metrics.ProcessesStarted.Add(ctx, 1)
	engine.metrics.ProcessesRunning.Add(ctx, 1)
	return engine.run(ctx, batch, run, []command{activateElementCommand{element: startEvent}})
}

// CancelInstance terminates all tokens of the instance and cancels its jobs and timers.
// Canceling an instance that already ended is a no-op.
func (engine *Engine) CancelInstance(ctx context.Context, processInstanceKey int64) (retErr error) {
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancelSpan := engine.tracer.Start(ctx, fmt.Sprintf("cancel-instance:%d", processInstanceKey), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey),
	))
	defer func() {
		if retErr != nil {
			cancelSpan.RecordError(retErr)
			cancelSpan.SetStatus(codes.Error, retErr.Error())
		}
		cancelSpan.End()
	}()

	engine.runningInstances.lockInstance(processInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(processInstanceKey)
		batch.flush()
	}()

	run, instance, err := engine.loadInstanceRun(ctx, processInstanceKey)
	if err != nil {
		return err
	}
	if instance.IsTerminal() {
		return nil
	}

	jobs, err := engine.state.FindProcessInstanceJobs(ctx, processInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to load jobs of instance %d: %w", processInstanceKey, err)
	}
	for _, job := range jobs {
		if _, err := batch.write(ctx, job.Key, record.ValueTypeJob, record.IntentCanceled, jobValue(job)); err != nil {
			return err
		}
	}
	timers, err := engine.state.FindProcessInstanceTimers(ctx, processInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to load timers of instance %d: %w", processInstanceKey, err)
	}
	for _, timer := range timers {
		if _, err := batch.write(ctx, timer.Key, record.ValueTypeTimer, record.IntentCanceled, timerValue(timer)); err != nil {
			return err
		}
	}
	incidents, err := engine.state.FindProcessInstanceIncidents(ctx, processInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to load incidents of instance %d: %w", processInstanceKey, err)
	}
	for _, incident := range incidents {
		if _, err := batch.write(ctx, incident.Key, record.ValueTypeIncident, record.IntentResolved, incidentValue(run, incident)); err != nil {
			return err
		}
	}
	tokens, err := engine.state.GetActiveTokensForProcessInstance(ctx, processInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to load tokens of instance %d: %w", processInstanceKey, err)
	}
	for _, token := range tokens {
		_, err := batch.write(ctx, token.Key, record.ValueTypeProcessInstance, record.IntentElementTerminated, run.elementValue(token.ElementId, token.ElementType))
		if err != nil {
			return err
		}
	}
	if _, err := batch.write(ctx, processInstanceKey, record.ValueTypeProcessInstance, record.IntentElementTerminated, run.processValue()); err != nil {
		return err
	}
	engine.metrics.ProcessesRunning.Add(ctx, -1)
	batch.instanceFinished(instanceOutcome{processInstanceKey: processInstanceKey, err: ErrInstanceTerminated})
	return nil
}

// SetVariables sets variables in the scope of the process instance, later keys overwrite existing ones
func (engine *Engine) SetVariables(ctx context.Context, processInstanceKey int64, variables map[string]any) error {
	if len(variables) == 0 {
		return newValidationErrorf("no variables to set")
	}
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	engine.runningInstances.lockInstance(processInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(processInstanceKey)
		batch.flush()
	}()

	run, instance, err := engine.loadInstanceRun(ctx, processInstanceKey)
	if err != nil {
		return err
	}
	if instance.IsTerminal() {
		return newValidationErrorf("process instance %d is %s", processInstanceKey, instance.State)
	}
	return engine.writeVariables(ctx, batch, run, processInstanceKey, variables)
}

// FindProcessInstance returns the current state of a process instance
func (engine *Engine) FindProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, processInstanceKey)
	if err != nil {
		return instance, notFound(err, "process instance", processInstanceKey)
	}
	return instance, nil
}

// FindProcessesById returns all deployed versions of a process, ordered by version
func (engine *Engine) FindProcessesById(ctx context.Context, bpmnProcessId string) ([]runtime.ProcessDefinition, error) {
	return engine.state.FindProcessDefinitionsById(ctx, bpmnProcessId)
}

// FindIncidents returns the open incidents of a process instance
func (engine *Engine) FindIncidents(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	return engine.state.FindProcessInstanceIncidents(ctx, processInstanceKey)
}
