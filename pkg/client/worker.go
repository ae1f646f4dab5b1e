package client

import (
	"context"
	"fmt"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
)

// WorkerFunc handles one job. Returned variables complete the job, a returned *WorkerError fails it.
type WorkerFunc func(ctx context.Context, job bpmn.ActivatedJob) (map[string]any, *WorkerError)

type WorkerError struct {
	Err error
	// Retries left after the failure, defaults to the job's retries minus one
	Retries *int32
	// Variables are set on the process instance before the job is failed
	Variables map[string]any
}

func (e *WorkerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error with retries:%v, variables:%v", e.Retries, e.Variables)
	}
	return fmt.Sprintf("error :%v, with variables:%v", e.Err, e.Variables)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// JobWorkerBuilder registers a WorkerFunc with the engine's job dispatcher
type JobWorkerBuilder struct {
	client  *Client
	jobType string
	handler WorkerFunc
	options bpmn.WorkerOptions
}

func (c *Client) NewJobWorker() *JobWorkerBuilder {
	return &JobWorkerBuilder{client: c}
}

func (b *JobWorkerBuilder) JobType(jobType string) *JobWorkerBuilder {
	b.jobType = jobType
	return b
}

func (b *JobWorkerBuilder) Handler(handler WorkerFunc) *JobWorkerBuilder {
	b.handler = handler
	return b
}

func (b *JobWorkerBuilder) Name(name string) *JobWorkerBuilder {
	b.options.Name = name
	return b
}

func (b *JobWorkerBuilder) MaxJobsActive(maxJobsActive int) *JobWorkerBuilder {
	b.options.MaxJobsActive = maxJobsActive
	return b
}

func (b *JobWorkerBuilder) PollInterval(interval time.Duration) *JobWorkerBuilder {
	b.options.PollInterval = interval
	return b
}

func (b *JobWorkerBuilder) Open() (*bpmn.JobWorker, error) {
	if b.jobType == "" {
		return nil, newValidationError("job type is required")
	}
	if b.handler == nil {
		return nil, newValidationError("handler of job type %s is required", b.jobType)
	}
	engine := b.client.engine
	logger := b.client.logger
	handler := b.handler
	return engine.RegisterWorker(b.jobType, func(ctx context.Context, job bpmn.ActivatedJob) {
		variables, workerErr := handler(ctx, job)
		if workerErr == nil {
			if err := engine.CompleteJob(ctx, job.Key, variables); err != nil {
				logger.Error(fmt.Sprintf("failed to complete job %d: %s", job.Key, err))
			}
			return
		}
		if len(workerErr.Variables) > 0 {
			if err := engine.SetVariables(ctx, job.ProcessInstanceKey, workerErr.Variables); err != nil {
				logger.Error(fmt.Sprintf("failed to set variables of failed job %d: %s", job.Key, err))
			}
		}
		retries := max(job.Retries-1, 0)
		if workerErr.Retries != nil {
			retries = *workerErr.Retries
		}
		err := engine.FailJob(ctx, job.Key, retries, fmt.Sprintf("failed to complete job: %s", workerErr.Error()))
		if err != nil {
			logger.Error(fmt.Sprintf("failed to inform engine about failed job %d: %s", job.Key, err))
			return
		}
		logger.Debug("job failed", "jobKey", job.Key, "retries", retries)
	}, b.options)
}
