package bpmn

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ActivateJobs activates up to maxJobs activatable jobs of the given type in creation order
func (engine *Engine) ActivateJobs(ctx context.Context, jobType string, maxJobs int, worker string) ([]ActivatedJob, error) {
	if jobType == "" {
		return nil, newValidationErrorf("job type must not be empty")
	}
	if maxJobs < 1 {
		return nil, newValidationErrorf("max jobs to activate must be positive, got %d", maxJobs)
	}
	done, err := engine.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	candidates, err := engine.state.FindActivatableJobs(ctx, jobType, maxJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to find activatable jobs of type %s: %w", jobType, err)
	}
	activated := make([]ActivatedJob, 0, len(candidates))
	for _, candidate := range candidates {
		job, ok, err := engine.activateJob(ctx, candidate.Key, candidate.ProcessInstanceKey, worker)
		if err != nil {
			return activated, err
		}
		if ok {
			activated = append(activated, job)
		}
	}
	return activated, nil
}

// activateJob activates the job unless another worker was faster
func (engine *Engine) activateJob(ctx context.Context, jobKey int64, processInstanceKey int64, worker string) (ActivatedJob, bool, error) {
	engine.runningInstances.lockInstance(processInstanceKey)
	defer engine.runningInstances.unlockInstance(processInstanceKey)

	job, err := engine.state.FindJobByKey(ctx, jobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ActivatedJob{}, false, nil
	}
	if err != nil {
		return ActivatedJob{}, false, fmt.Errorf("failed to load job %d: %w", jobKey, err)
	}
	if !job.IsActivatable() {
		return ActivatedJob{}, false, nil
	}
	incidents, err := engine.state.FindProcessInstanceIncidents(ctx, processInstanceKey)
	if err != nil {
		return ActivatedJob{}, false, fmt.Errorf("failed to load incidents of instance %d: %w", processInstanceKey, err)
	}
	for _, incident := range incidents {
		if incident.JobKey == job.Key {
			return ActivatedJob{}, false, nil
		}
	}

	job.State = runtime.JobStateActivated
	job.Worker = worker
	if _, err := engine.writeRecord(ctx, job.Key, record.ValueTypeJob, record.IntentActivated, jobValue(job)); err != nil {
		return ActivatedJob{}, false, err
	}

	variables, err := engine.jobVariables(ctx, job)
	if err != nil {
		return ActivatedJob{}, false, err
	}
	definition, err := engine.state.FindProcessDefinitionByKey(ctx, job.ProcessDefinitionKey)
	if err != nil {
		return ActivatedJob{}, false, notFound(err, "process definition", job.ProcessDefinitionKey)
	}
	return newActivatedJob(job, definition.Version, variables), true, nil
}

// jobVariables returns the instance variables shadowed by the local variables of the job's element
func (engine *Engine) jobVariables(ctx context.Context, job runtime.Job) (map[string]any, error) {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, job.ProcessInstanceKey)
	if err != nil {
		return nil, notFound(err, "process instance", job.ProcessInstanceKey)
	}
	variables := instance.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	token, err := engine.state.GetTokenByKey(ctx, job.ElementInstanceKey)
	if err == nil {
		maps.Copy(variables, token.Variables)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load element instance %d: %w", job.ElementInstanceKey, err)
	}
	return variables, nil
}

// CompleteJob completes the job and continues the waiting token with the given variables
func (engine *Engine) CompleteJob(ctx context.Context, jobKey int64, variables map[string]any) (retErr error) {
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	job, err := engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return notFound(err, "job", jobKey)
	}

	ctx, completeJobSpan := engine.tracer.Start(ctx, fmt.Sprintf("job:%s", job.Type), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeJobKey, job.Key),
		attribute.String(otelPkg.AttributeJobType, job.Type),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, job.ProcessInstanceKey),
	))
	defer func() {
		if retErr != nil {
			completeJobSpan.RecordError(retErr)
			completeJobSpan.SetStatus(codes.Error, retErr.Error())
		}
		completeJobSpan.End()
	}()

	engine.runningInstances.lockInstance(job.ProcessInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(job.ProcessInstanceKey)
		batch.flush()
	}()

	// the job may have been completed or canceled while waiting for the lock
	job, err = engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return notFound(err, "job", jobKey)
	}
	if err := engine.checkNoJobIncident(ctx, job); err != nil {
		return err
	}
	run, _, err := engine.loadInstanceRun(ctx, job.ProcessInstanceKey)
	if err != nil {
		return err
	}
	token, err := engine.state.GetTokenByKey(ctx, job.ElementInstanceKey)
	if err != nil {
		return notFound(err, "element instance", job.ElementInstanceKey)
	}

	value := jobValue(job)
	value.Variables = maps.Clone(variables)
	if _, err := batch.write(ctx, job.Key, record.ValueTypeJob, record.IntentCompleted, value); err != nil {
		return err
	}
	engine.metrics.JobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", job.Type)))

	return engine.run(ctx, batch, run, []command{completeElementCommand{
		token:     token,
		variables: maps.Clone(variables),
		flows:     run.process().OutgoingFlows(token.ElementId),
	}})
}

// FailJob marks the job as failed. With retries left the job becomes activatable again,
// without retries an incident is raised and the token halts until the incident is resolved.
func (engine *Engine) FailJob(ctx context.Context, jobKey int64, retries int32, errorMessage string) (retErr error) {
	if retries < 0 {
		return newValidationErrorf("retries must not be negative, got %d", retries)
	}
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	job, err := engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return notFound(err, "job", jobKey)
	}

	ctx, failJobSpan := engine.tracer.Start(ctx, fmt.Sprintf("job:%s", job.Type), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeJobKey, job.Key),
		attribute.String(otelPkg.AttributeJobType, job.Type),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, job.ProcessInstanceKey),
	))
	defer func() {
		if retErr != nil {
			failJobSpan.RecordError(retErr)
			failJobSpan.SetStatus(codes.Error, retErr.Error())
		}
		failJobSpan.End()
	}()

	engine.runningInstances.lockInstance(job.ProcessInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(job.ProcessInstanceKey)
		batch.flush()
	}()

	job, err = engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return notFound(err, "job", jobKey)
	}
	if job.State != runtime.JobStateActivated {
		return newValidationErrorf("job %d is %s, only activated jobs can be failed", job.Key, job.State)
	}
	run, _, err := engine.loadInstanceRun(ctx, job.ProcessInstanceKey)
	if err != nil {
		return err
	}

	job.State = runtime.JobStateFailed
	job.Retries = retries
	job.ErrorMessage = errorMessage
	job.Worker = ""
	if _, err := batch.write(ctx, job.Key, record.ValueTypeJob, record.IntentFailed, jobValue(job)); err != nil {
		return err
	}
	engine.metrics.JobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", job.Type)))

	if retries > 0 {
		batch.jobCreated(job.Type)
		return nil
	}

	token := runtime.ExecutionToken{Key: job.ElementInstanceKey, ProcessInstanceKey: job.ProcessInstanceKey, ElementId: job.ElementId}
	message := errorMessage
	if message == "" {
		message = "No more retries left."
	}
	incidentKey, err := engine.writeIncident(ctx, batch, run, token, job.Key, record.ErrorTypeJobNoRetries, message)
	if err != nil {
		return err
	}
	batch.instanceFinished(instanceOutcome{
		processInstanceKey: job.ProcessInstanceKey,
		err: &RetryExhaustedError{
			IncidentKey:        incidentKey,
			ProcessInstanceKey: job.ProcessInstanceKey,
			JobKey:             job.Key,
			Msg:                message,
		},
	})
	return nil
}

// UpdateJobRetries sets the retries of a job, a failed job without an open incident becomes activatable again
func (engine *Engine) UpdateJobRetries(ctx context.Context, jobKey int64, retries int32) error {
	if retries < 1 {
		return newValidationErrorf("retries must be positive, got %d", retries)
	}
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	job, err := engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return notFound(err, "job", jobKey)
	}
	engine.runningInstances.lockInstance(job.ProcessInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(job.ProcessInstanceKey)
		batch.flush()
	}()

	job, err = engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return notFound(err, "job", jobKey)
	}
	job.Retries = retries
	if _, err := batch.write(ctx, job.Key, record.ValueTypeJob, record.IntentRetriesUpdated, jobValue(job)); err != nil {
		return err
	}
	if job.IsActivatable() {
		batch.jobCreated(job.Type)
	}
	return nil
}

func (engine *Engine) checkNoJobIncident(ctx context.Context, job runtime.Job) error {
	incidents, err := engine.state.FindProcessInstanceIncidents(ctx, job.ProcessInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to load incidents of instance %d: %w", job.ProcessInstanceKey, err)
	}
	for _, incident := range incidents {
		if incident.JobKey == job.Key {
			return newValidationErrorf("job %d has the open incident %d", job.Key, incident.Key)
		}
	}
	return nil
}

// FindJobByKey returns the current state of an open job
func (engine *Engine) FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error) {
	job, err := engine.state.FindJobByKey(ctx, jobKey)
	if err != nil {
		return job, notFound(err, "job", jobKey)
	}
	return job, nil
}
