package bpmn

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// raiseIncident halts the token with an incident when err is an execution failure,
// any other error is returned unchanged
func (engine *Engine) raiseIncident(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken, jobKey int64, cause error) error {
	if !isIncidentError(cause) {
		return cause
	}
	errorType := record.ErrorTypeExecution
	var expressionErr *ExpressionEvaluationError
	if errors.As(cause, &expressionErr) {
		errorType = record.ErrorTypeExpressionEvaluation
	}
	incidentKey, err := engine.writeIncident(ctx, batch, run, token, jobKey, errorType, cause.Error())
	if err != nil {
		return err
	}
	batch.instanceFinished(instanceOutcome{
		processInstanceKey: run.instanceKey,
		err: &ExecutionError{
			IncidentKey:        incidentKey,
			ProcessInstanceKey: run.instanceKey,
			ElementId:          token.ElementId,
			Msg:                expressionMessage(cause),
			Err:                cause,
		},
	})
	return nil
}

func expressionMessage(err error) string {
	var expressionErr *ExpressionEvaluationError
	if errors.As(err, &expressionErr) {
		return expressionErr.Msg
	}
	return err.Error()
}

func (engine *Engine) writeIncident(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken, jobKey int64, errorType record.ErrorType, message string) (int64, error) {
	key := engine.generateKey()
	_, err := batch.write(ctx, key, record.ValueTypeIncident, record.IntentCreated, record.IncidentValue{
		ErrorType:            errorType,
		ErrorMessage:         message,
		BpmnProcessId:        run.definition.BpmnProcessId,
		ProcessDefinitionKey: run.definition.Key,
		ProcessInstanceKey:   run.instanceKey,
		ElementId:            token.ElementId,
		ElementInstanceKey:   token.Key,
		JobKey:               jobKey,
	})
	if err != nil {
		return 0, err
	}
	engine.metrics.IncidentsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(errorType))))
	engine.logger.Warn("incident created", "incidentKey", key, "processInstanceKey", run.instanceKey, "elementId", token.ElementId, "errorType", errorType, "message", message)
	return key, nil
}

// ResolveIncident resolves an incident and continues the halted token.
// A job incident requires the job to have retries left, the job is then activatable again.
func (engine *Engine) ResolveIncident(ctx context.Context, key int64) (err error) {
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	ctx, resolveIncidentSpan := engine.tracer.Start(ctx, fmt.Sprintf("incident:%d", key))
	defer func() {
		if err != nil {
			resolveIncidentSpan.RecordError(err)
			resolveIncidentSpan.SetStatus(codes.Error, err.Error())
		}
		resolveIncidentSpan.End()
	}()

	incident, err := engine.state.FindIncidentByKey(ctx, key)
	if err != nil {
		return notFound(err, "incident", key)
	}
	resolveIncidentSpan.SetAttributes(
		attribute.Int64(otelPkg.AttributeIncidentKey, incident.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, incident.ProcessInstanceKey),
		attribute.Int64(otelPkg.AttributeElementKey, incident.ElementInstanceKey),
	)

	engine.runningInstances.lockInstance(incident.ProcessInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(incident.ProcessInstanceKey)
		batch.flush()
	}()

	// it may have been resolved while waiting for the lock
	incident, err = engine.state.FindIncidentByKey(ctx, key)
	if err != nil {
		return notFound(err, "incident", key)
	}
	run, _, err := engine.loadInstanceRun(ctx, incident.ProcessInstanceKey)
	if err != nil {
		return err
	}

	var job runtime.Job
	if incident.JobKey != 0 {
		job, err = engine.state.FindJobByKey(ctx, incident.JobKey)
		if err != nil {
			return notFound(err, "job", incident.JobKey)
		}
		if job.Retries <= 0 {
			return newValidationErrorf("job %d of incident %d has no retries left, update the job retries first", job.Key, incident.Key)
		}
	}

	_, err = batch.write(ctx, incident.Key, record.ValueTypeIncident, record.IntentResolved, incidentValue(run, incident))
	if err != nil {
		return err
	}

	if incident.JobKey != 0 {
		batch.jobCreated(job.Type)
		return nil
	}

	token, err := engine.state.GetTokenByKey(ctx, incident.ElementInstanceKey)
	if err != nil {
		return notFound(err, "element instance", incident.ElementInstanceKey)
	}
	if token.State == runtime.TokenStateCompleting {
		// the element failed while completing, retry the completion with the variables it produced
		return engine.run(ctx, batch, run, []command{completeElementCommand{
			token:     token,
			variables: token.Variables,
			flows:     run.process().OutgoingFlows(token.ElementId),
		}})
	}
	return engine.run(ctx, batch, run, []command{executeElementCommand{token: token}})
}

func incidentValue(run *instanceRun, incident runtime.Incident) record.IncidentValue {
	return record.IncidentValue{
		ErrorType:            incident.ErrorType,
		ErrorMessage:         incident.Message,
		BpmnProcessId:        run.definition.BpmnProcessId,
		ProcessDefinitionKey: run.definition.Key,
		ProcessInstanceKey:   incident.ProcessInstanceKey,
		ElementId:            incident.ElementId,
		ElementInstanceKey:   incident.ElementInstanceKey,
		JobKey:               incident.JobKey,
	}
}
