package bpmn

import (
	"context"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func (engine *Engine) createJob(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken, task bpmn20.TaskElement, variables map[string]any) error {
	retries, err := task.GetTaskDefinition().GetRetries()
	if err != nil {
		return newEngineErrorf("invalid retries of element %s: %s", task.GetId(), err)
	}
	jobKey := engine.generateKey()
	_, err = batch.write(ctx, jobKey, record.ValueTypeJob, record.IntentCreated, record.JobValue{
		Type:                 task.GetTaskType(),
		BpmnProcessId:        run.definition.BpmnProcessId,
		ProcessDefinitionKey: run.definition.Key,
		ProcessInstanceKey:   run.instanceKey,
		ElementId:            task.GetId(),
		ElementInstanceKey:   token.Key,
		Retries:              retries,
		Variables:            variables,
	})
	if err != nil {
		return err
	}
	engine.metrics.JobsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", task.GetTaskType())))
	batch.jobCreated(task.GetTaskType())
	return nil
}

// jobValue turns a stored job into the payload of its records
func jobValue(job runtime.Job) record.JobValue {
	return record.JobValue{
		Type:                 job.Type,
		BpmnProcessId:        job.BpmnProcessId,
		ProcessDefinitionKey: job.ProcessDefinitionKey,
		ProcessInstanceKey:   job.ProcessInstanceKey,
		ElementId:            job.ElementId,
		ElementInstanceKey:   job.ElementInstanceKey,
		Retries:              job.Retries,
		Worker:               job.Worker,
		ErrorMessage:         job.ErrorMessage,
	}
}
