package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/builder"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	engine, err := bpmn.NewEngine()
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
	})
	return New(engine)
}

func taskProcess(processId string, jobType string) *builder.ProcessBuilder {
	return builder.CreateExecutableProcess(processId).
		StartEvent().
		ServiceTask("task").JobType(jobType).
		EndEvent()
}

func deploy(t *testing.T, c *Client, b *builder.ProcessBuilder) bpmn.Deployment {
	t.Helper()
	definitions, err := b.Done()
	require.NoError(t, err)
	deployment, err := c.NewDeployResourceCommand().AddProcessModel(definitions, "process.bpmn").Send(t.Context())
	require.NoError(t, err)
	return deployment
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	var validationErr *bpmn.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestDeployResourceCommandDeploysXmlAndModels(t *testing.T) {
	// given
	c := newTestClient(t)
	xmlData, err := builder.CreateExecutableProcess("from-xml").StartEvent().EndEvent().ToXML()
	require.NoError(t, err)
	definitions, err := builder.CreateExecutableProcess("from-model").StartEvent().EndEvent().Done()
	require.NoError(t, err)

	// when
	deployment, err := c.NewDeployResourceCommand().
		AddResource(xmlData, "xml.bpmn").
		AddProcessModel(definitions, "model.bpmn").
		Send(t.Context())

	// then
	require.NoError(t, err)
	require.Len(t, deployment.Processes, 2)
	ids := []string{deployment.Processes[0].BpmnProcessId, deployment.Processes[1].BpmnProcessId}
	assert.ElementsMatch(t, []string{"from-xml", "from-model"}, ids)
}

func TestDeployResourceCommandValidation(t *testing.T) {
	c := newTestClient(t)

	_, err := c.NewDeployResourceCommand().Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewDeployResourceCommand().AddResource([]byte("<xml/>"), "").Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewDeployResourceCommand().AddResource(nil, "empty.bpmn").Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewDeployResourceCommand().AddProcessModel(nil, "nil.bpmn").Send(t.Context())
	assertValidationError(t, err)
}

func TestCreateInstanceWithResult(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, builder.CreateExecutableProcess("with-result").StartEvent().EndEvent())

	// when
	result, err := c.NewCreateInstanceCommand().
		BpmnProcessId("with-result").
		LatestVersion().
		Variables(map[string]any{"a": 1}).
		Variables(map[string]any{"b": "two"}).
		WithResult().
		Send(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, "with-result", result.BpmnProcessId)
	assert.Equal(t, int32(1), result.Version)
	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, result.Variables)
}

func TestCreateInstanceCommandValidation(t *testing.T) {
	c := newTestClient(t)

	_, err := c.NewCreateInstanceCommand().Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewCreateInstanceCommand().BpmnProcessId("no-version").Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewCreateInstanceCommand().BpmnProcessId("bad-version").Version(-5).Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewCreateInstanceCommand().ProcessDefinitionKey(42).BpmnProcessId("both").Send(t.Context())
	assertValidationError(t, err)

	_, err = c.NewCreateInstanceCommand().BpmnProcessId("unknown").LatestVersion().Send(t.Context())
	var notFound *bpmn.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreateInstanceAsyncIsNotCanceledByCaller(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, taskProcess("async", "async-task"))
	ctx, cancel := context.WithCancel(t.Context())

	// when
	future := c.NewCreateInstanceCommand().BpmnProcessId("async").LatestVersion().WithResult().SendAsync(ctx)
	cancel()
	_, err := future.JoinContext(ctx)
	require.ErrorIs(t, err, context.Canceled)

	jobs, err := c.NewActivateJobsCommand().JobType("async-task").MaxJobsToActivate(1).Send(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, c.NewCompleteJobCommand().JobKey(jobs[0].Key).Variables(map[string]any{"done": true}).Send(t.Context()))

	// then
	result, err := future.Join()
	require.NoError(t, err)
	assert.Equal(t, true, result.Variables["done"])
}

func TestJobCommands(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, taskProcess("job-commands", "job-commands-task"))
	created, err := c.NewCreateInstanceCommand().BpmnProcessId("job-commands").LatestVersion().Send(t.Context())
	require.NoError(t, err)

	// when
	jobs, err := c.NewActivateJobsCommand().JobType("job-commands-task").MaxJobsToActivate(5).WorkerName("test").Send(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, c.NewFailJobCommand().JobKey(jobs[0].Key).Retries(0).ErrorMessage("boom").Send(t.Context()))

	// then
	incidents, err := c.Engine().FindIncidents(t.Context(), created.ProcessInstanceKey)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	require.NoError(t, c.NewUpdateJobRetriesCommand().JobKey(jobs[0].Key).Retries(1).Send(t.Context()))
	require.NoError(t, c.NewResolveIncidentCommand().IncidentKey(incidents[0].Key).Send(t.Context()))
	jobs, err = c.NewActivateJobsCommand().JobType("job-commands-task").MaxJobsToActivate(5).Send(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	_, err = c.NewCompleteJobCommand().JobKey(jobs[0].Key).SendAsync(t.Context()).Join()
	require.NoError(t, err)

	instance, err := c.Engine().FindProcessInstance(t.Context(), created.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
}

func TestJobCommandValidation(t *testing.T) {
	c := newTestClient(t)

	_, err := c.NewActivateJobsCommand().MaxJobsToActivate(1).Send(t.Context())
	assertValidationError(t, err)
	_, err = c.NewActivateJobsCommand().JobType("t").Send(t.Context())
	assertValidationError(t, err)

	assertValidationError(t, c.NewCompleteJobCommand().Send(t.Context()))
	assertValidationError(t, c.NewFailJobCommand().JobKey(1).Send(t.Context()))
	assertValidationError(t, c.NewFailJobCommand().JobKey(1).Retries(-1).Send(t.Context()))
	assertValidationError(t, c.NewUpdateJobRetriesCommand().JobKey(1).Retries(0).Send(t.Context()))
	assertValidationError(t, c.NewCancelInstanceCommand().Send(t.Context()))
	assertValidationError(t, c.NewSetVariablesCommand().ProcessInstanceKey(1).Send(t.Context()))
	assertValidationError(t, c.NewResolveIncidentCommand().Send(t.Context()))
}

func TestCancelAndSetVariables(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, taskProcess("cancel-me", "cancel-me-task"))
	created, err := c.NewCreateInstanceCommand().BpmnProcessId("cancel-me").LatestVersion().Send(t.Context())
	require.NoError(t, err)

	// when
	require.NoError(t, c.NewSetVariablesCommand().ProcessInstanceKey(created.ProcessInstanceKey).Variables(map[string]any{"x": 1}).Send(t.Context()))
	_, err = c.NewCancelInstanceCommand().ProcessInstanceKey(created.ProcessInstanceKey).SendAsync(t.Context()).Join()

	// then
	require.NoError(t, err)
	instance, err := c.Engine().FindProcessInstance(t.Context(), created.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateTerminated, instance.State)
}

func TestJobWorkerCompletesJobs(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, taskProcess("worker-completes", "worker-completes-task"))
	worker, err := c.NewJobWorker().
		JobType("worker-completes-task").
		Name("completer").
		Handler(func(ctx context.Context, job bpmn.ActivatedJob) (map[string]any, *WorkerError) {
			return map[string]any{"handledBy": job.Worker}, nil
		}).
		Open()
	require.NoError(t, err)
	defer worker.Close()

	// when
	result, err := c.NewCreateInstanceCommand().BpmnProcessId("worker-completes").LatestVersion().WithResult().Send(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, "completer", result.Variables["handledBy"])
}

func TestJobWorkerFailsJobsUntilRetriesAreExhausted(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, taskProcess("worker-fails", "worker-fails-task"))
	var calls atomic.Int32
	worker, err := c.NewJobWorker().
		JobType("worker-fails-task").
		PollInterval(10 * time.Millisecond).
		Handler(func(ctx context.Context, job bpmn.ActivatedJob) (map[string]any, *WorkerError) {
			calls.Add(1)
			return nil, &WorkerError{Err: errors.New("unavailable"), Variables: map[string]any{"lastAttempt": job.Retries}}
		}).
		Open()
	require.NoError(t, err)
	defer worker.Close()

	// when
	_, err = c.NewCreateInstanceCommand().BpmnProcessId("worker-fails").LatestVersion().WithResult().Send(t.Context())

	// then
	var exhausted *bpmn.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, exhausted.Msg, "unavailable")
}

func TestJobWorkerErrorWithExplicitRetries(t *testing.T) {
	// given
	c := newTestClient(t)
	deploy(t, c, taskProcess("worker-gives-up", "worker-gives-up-task"))
	worker, err := c.NewJobWorker().
		JobType("worker-gives-up-task").
		Handler(func(ctx context.Context, job bpmn.ActivatedJob) (map[string]any, *WorkerError) {
			noRetries := int32(0)
			return nil, &WorkerError{Err: errors.New("fatal"), Retries: &noRetries}
		}).
		Open()
	require.NoError(t, err)
	defer worker.Close()

	// when
	_, err = c.NewCreateInstanceCommand().BpmnProcessId("worker-gives-up").LatestVersion().WithResult().Send(t.Context())

	// then
	var exhausted *bpmn.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	job, err := c.Engine().FindJobByKey(t.Context(), exhausted.JobKey)
	require.NoError(t, err)
	assert.Equal(t, int32(0), job.Retries)
}

func TestJobWorkerBuilderValidation(t *testing.T) {
	c := newTestClient(t)

	_, err := c.NewJobWorker().Open()
	assertValidationError(t, err)

	_, err = c.NewJobWorker().JobType("no-handler").Open()
	assertValidationError(t, err)
}

func TestWorkerErrorUnwraps(t *testing.T) {
	cause := errors.New("cause")
	err := &WorkerError{Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "cause")
}
