package client

import (
	"context"
	"maps"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
)

type ActivateJobsCommand struct {
	client  *Client
	jobType string
	maxJobs int
	worker  string
}

func (c *Client) NewActivateJobsCommand() *ActivateJobsCommand {
	return &ActivateJobsCommand{client: c}
}

func (cmd *ActivateJobsCommand) JobType(jobType string) *ActivateJobsCommand {
	cmd.jobType = jobType
	return cmd
}

func (cmd *ActivateJobsCommand) MaxJobsToActivate(maxJobs int) *ActivateJobsCommand {
	cmd.maxJobs = maxJobs
	return cmd
}

func (cmd *ActivateJobsCommand) WorkerName(worker string) *ActivateJobsCommand {
	cmd.worker = worker
	return cmd
}

func (cmd *ActivateJobsCommand) Send(ctx context.Context) ([]bpmn.ActivatedJob, error) {
	if cmd.jobType == "" {
		return nil, newValidationError("job type is required")
	}
	if cmd.maxJobs < 1 {
		return nil, newValidationError("max jobs to activate must be at least 1, got %d", cmd.maxJobs)
	}
	return cmd.client.engine.ActivateJobs(ctx, cmd.jobType, cmd.maxJobs, cmd.worker)
}

func (cmd *ActivateJobsCommand) SendAsync(ctx context.Context) *Future[[]bpmn.ActivatedJob] {
	return send(ctx, cmd.Send)
}

type CompleteJobCommand struct {
	client    *Client
	jobKey    int64
	variables map[string]any
}

func (c *Client) NewCompleteJobCommand() *CompleteJobCommand {
	return &CompleteJobCommand{client: c}
}

func (cmd *CompleteJobCommand) JobKey(key int64) *CompleteJobCommand {
	cmd.jobKey = key
	return cmd
}

func (cmd *CompleteJobCommand) Variables(variables map[string]any) *CompleteJobCommand {
	if cmd.variables == nil {
		cmd.variables = map[string]any{}
	}
	maps.Copy(cmd.variables, variables)
	return cmd
}

func (cmd *CompleteJobCommand) Send(ctx context.Context) error {
	if cmd.jobKey == 0 {
		return newValidationError("job key is required")
	}
	return cmd.client.engine.CompleteJob(ctx, cmd.jobKey, cmd.variables)
}

func (cmd *CompleteJobCommand) SendAsync(ctx context.Context) *Future[struct{}] {
	return send(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cmd.Send(ctx)
	})
}

type FailJobCommand struct {
	client       *Client
	jobKey       int64
	retries      int32
	retriesSet   bool
	errorMessage string
}

func (c *Client) NewFailJobCommand() *FailJobCommand {
	return &FailJobCommand{client: c}
}

func (cmd *FailJobCommand) JobKey(key int64) *FailJobCommand {
	cmd.jobKey = key
	return cmd
}

// Retries left after this failure, 0 raises an incident
func (cmd *FailJobCommand) Retries(retries int32) *FailJobCommand {
	cmd.retries = retries
	cmd.retriesSet = true
	return cmd
}

func (cmd *FailJobCommand) ErrorMessage(message string) *FailJobCommand {
	cmd.errorMessage = message
	return cmd
}

func (cmd *FailJobCommand) Send(ctx context.Context) error {
	if cmd.jobKey == 0 {
		return newValidationError("job key is required")
	}
	if !cmd.retriesSet {
		return newValidationError("retries of job %d are required", cmd.jobKey)
	}
	if cmd.retries < 0 {
		return newValidationError("retries must not be negative, got %d", cmd.retries)
	}
	return cmd.client.engine.FailJob(ctx, cmd.jobKey, cmd.retries, cmd.errorMessage)
}

func (cmd *FailJobCommand) SendAsync(ctx context.Context) *Future[struct{}] {
	return send(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cmd.Send(ctx)
	})
}

type UpdateJobRetriesCommand struct {
	client  *Client
	jobKey  int64
	retries int32
}

func (c *Client) NewUpdateJobRetriesCommand() *UpdateJobRetriesCommand {
	return &UpdateJobRetriesCommand{client: c}
}

func (cmd *UpdateJobRetriesCommand) JobKey(key int64) *UpdateJobRetriesCommand {
	cmd.jobKey = key
	return cmd
}

func (cmd *UpdateJobRetriesCommand) Retries(retries int32) *UpdateJobRetriesCommand {
	cmd.retries = retries
	return cmd
}

func (cmd *UpdateJobRetriesCommand) Send(ctx context.Context) error {
	if cmd.jobKey == 0 {
		return newValidationError("job key is required")
	}
	if cmd.retries < 1 {
		return newValidationError("retries must be at least 1, got %d", cmd.retries)
	}
	return cmd.client.engine.UpdateJobRetries(ctx, cmd.jobKey, cmd.retries)
}

func (cmd *UpdateJobRetriesCommand) SendAsync(ctx context.Context) *Future[struct{}] {
	return send(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cmd.Send(ctx)
	})
}
