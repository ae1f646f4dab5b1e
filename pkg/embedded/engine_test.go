package embedded_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/builder"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/client"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded/embeddedtest"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serviceTaskProcess(processId string, jobType string) *builder.ProcessBuilder {
	return builder.CreateExecutableProcess(processId).
		StartEvent().
		ServiceTask("task").JobType(jobType).
		EndEvent()
}

func TestWorkerCompletesJobAndResultMergesVariables(t *testing.T) {
	// given
	h := embeddedtest.New(t)
	h.Deploy(serviceTaskProcess("process", "test"))
	worker, err := h.Client().NewJobWorker().
		JobType("test").
		Handler(func(ctx context.Context, job bpmn.ActivatedJob) (map[string]any, *client.WorkerError) {
			return map[string]any{"y": 2}, nil
		}).
		Open()
	require.NoError(t, err)
	defer worker.Close()

	// when
	result, err := h.Client().NewCreateInstanceCommand().
		BpmnProcessId("process").
		LatestVersion().
		Variables(map[string]any{"x": 1}).
		WithResult().
		Send(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, result.Variables)
	jobIntents := h.Records().JobRecords().Intents()
	assert.Equal(t, []record.Intent{record.IntentCreated, record.IntentActivated, record.IntentCompleted}, jobIntents)
}

func TestTimerIsCreatedAndFiresWhenTimeIncreases(t *testing.T) {
	// given
	h := embeddedtest.New(t)
	h.Deploy(builder.CreateExecutableProcess("timer").
		StartEvent().
		IntermediateCatchEvent("wait").TimerWithDuration("PT1H").OutputExpression("true", "done").
		EndEvent())
	future := h.Client().NewCreateInstanceCommand().BpmnProcessId("timer").LatestVersion().WithResult().SendAsync(t.Context())
	created := h.AwaitRecord(embeddedtest.Matches(record.ValueTypeTimer, record.IntentCreated))
	assert.Equal(t, embeddedtest.DefaultStart.Add(time.Hour), created.Value.(record.TimerValue).DueDate)

	// when
	h.IncreaseTime(24 * time.Hour)

	// then
	result, err := future.Join()
	require.NoError(t, err)
	assert.Equal(t, true, result.Variables["done"])
	assert.Len(t, h.Records().TimerRecords().WithIntent(record.IntentTriggered), 1)
}

func TestLatestVersionIsUsedRightAfterDeploy(t *testing.T) {
	// given
	h := embeddedtest.New(t)
	h.Deploy(builder.CreateExecutableProcess("versions").StartEvent().EndEvent())
	second := h.Deploy(builder.CreateExecutableProcess("versions").Name("second").StartEvent().EndEvent())

	// when
	result, err := h.Client().NewCreateInstanceCommand().BpmnProcessId("versions").LatestVersion().WithResult().Send(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, second.Version, result.Version)
	assert.Equal(t, second.ProcessDefinitionKey, result.ProcessDefinitionKey)
}

func TestCancelTwiceAppendsCancellationOnce(t *testing.T) {
	// given
	h := embeddedtest.New(t)
	h.Deploy(builder.CreateExecutableProcess("cancel").
		StartEvent().
		ParallelGateway("fork").
		ServiceTask("task").JobType("cancel-task").
		EndEvent("task-end").
		MoveToNode("fork").
		IntermediateCatchEvent("wait").TimerWithDuration("PT1H").
		EndEvent("timer-end"))
	created, err := h.Client().NewCreateInstanceCommand().BpmnProcessId("cancel").LatestVersion().Send(t.Context())
	require.NoError(t, err)

	// when
	require.NoError(t, h.Client().NewCancelInstanceCommand().ProcessInstanceKey(created.ProcessInstanceKey).Send(t.Context()))
	afterFirst := h.Records()
	require.NoError(t, h.Client().NewCancelInstanceCommand().ProcessInstanceKey(created.ProcessInstanceKey).Send(t.Context()))

	// then
	assert.Equal(t, afterFirst, h.Records())
	assert.Len(t, afterFirst.JobRecords().WithIntent(record.IntentCanceled), 1)
	assert.Len(t, afterFirst.TimerRecords().WithIntent(record.IntentCanceled), 1)
	instance, err := h.Engine().BpmnEngine().FindProcessInstance(t.Context(), created.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateTerminated, instance.State)

	// the canceled timer never fires
	h.IncreaseTime(2 * time.Hour)
	assert.Empty(t, h.Records().TimerRecords().WithIntent(record.IntentTriggered))
}

func TestReplayOfRecordsEqualsLiveState(t *testing.T) {
	// given
	h := embeddedtest.New(t)
	h.Deploy(serviceTaskProcess("replay", "replay-task"))
	for i := range 3 {
		_, err := h.Client().NewCreateInstanceCommand().BpmnProcessId("replay").LatestVersion().
			Variables(map[string]any{"i": i}).Send(t.Context())
		require.NoError(t, err)
	}
	jobs, err := h.Client().NewActivateJobsCommand().JobType("replay-task").MaxJobsToActivate(2).Send(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.NoError(t, h.Client().NewCompleteJobCommand().JobKey(jobs[0].Key).Variables(map[string]any{"done": true}).Send(t.Context()))
	require.NoError(t, h.Client().NewFailJobCommand().JobKey(jobs[1].Key).Retries(0).Send(t.Context()))

	// when
	replayed, err := inmemory.Replay(t.Context(), h.Records())

	// then
	require.NoError(t, err)
	live, err := h.Engine().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, live, replayed.Snapshot())
}

type collectingExporter struct {
	mu      sync.Mutex
	records record.Records
}

func (e *collectingExporter) Open(ctx context.Context) error { return nil }

func (e *collectingExporter) Export(ctx context.Context, rec record.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

func (e *collectingExporter) Close(ctx context.Context) error { return nil }

func (e *collectingExporter) Records() record.Records {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(record.Records{}, e.records...)
}

func TestExportersReceiveTheWholeLogInOrder(t *testing.T) {
	// given
	collector := &collectingExporter{}
	h := embeddedtest.New(t, embedded.WithExporter("collector", collector))
	h.Deploy(builder.CreateExecutableProcess("exported").StartEvent().EndEvent())

	// when
	_, err := h.Client().NewCreateInstanceCommand().BpmnProcessId("exported").LatestVersion().WithResult().Send(t.Context())
	require.NoError(t, err)
	require.NoError(t, h.Engine().Flush(t.Context()))

	// then
	assert.Equal(t, h.Records(), collector.Records())
}

func TestJournalRestoresTheEngineAfterRestart(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "journal.db")
	engine, err := embedded.New(embedded.WithJournal(path), embedded.WithControlledClock(embeddedtest.DefaultStart))
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	definitions, err := serviceTaskProcess("journaled", "journaled-task").Done()
	require.NoError(t, err)
	_, err = engine.Client().NewDeployResourceCommand().AddProcessModel(definitions, "journaled.bpmn").Send(t.Context())
	require.NoError(t, err)
	created, err := engine.Client().NewCreateInstanceCommand().BpmnProcessId("journaled").LatestVersion().
		Variables(map[string]any{"x": 1}).Send(t.Context())
	require.NoError(t, err)
	_, err = engine.IncreaseTime(time.Hour)
	require.NoError(t, err)
	before := engine.Records()
	require.NoError(t, engine.Stop(t.Context()))

	// when
	require.NoError(t, engine.Start(t.Context()))
	defer engine.Stop(context.Background())

	// then
	restored := engine.Records()
	require.Len(t, restored, len(before))
	assert.Equal(t, before.Keys(), restored.Keys())
	lastBefore := before[len(before)-1]
	assert.False(t, engine.Now().Before(lastBefore.Timestamp))

	jobs, err := engine.Client().NewActivateJobsCommand().JobType("journaled-task").MaxJobsToActivate(1).Send(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, created.ProcessInstanceKey, jobs[0].ProcessInstanceKey)
	assert.Equal(t, float64(1), jobs[0].Variables["x"])
	require.NoError(t, engine.Client().NewCompleteJobCommand().JobKey(jobs[0].Key).Send(t.Context()))

	instance, err := engine.BpmnEngine().FindProcessInstance(t.Context(), created.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	last, ok := engine.Records().Last()
	require.True(t, ok)
	assert.Greater(t, last.Position, lastBefore.Position)
}

func TestRestartWithoutJournalStartsEmpty(t *testing.T) {
	// given
	engine, err := embedded.New(embedded.WithControlledClock(embeddedtest.DefaultStart))
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	definitions, err := builder.CreateExecutableProcess("forgotten").StartEvent().EndEvent().Done()
	require.NoError(t, err)
	_, err = engine.Client().NewDeployResourceCommand().AddProcessModel(definitions, "forgotten.bpmn").Send(t.Context())
	require.NoError(t, err)
	require.NoError(t, engine.Stop(t.Context()))

	// when
	require.NoError(t, engine.Start(t.Context()))
	defer engine.Stop(context.Background())

	// then
	assert.Empty(t, engine.Records())
	_, err = engine.Client().NewCreateInstanceCommand().BpmnProcessId("forgotten").LatestVersion().Send(t.Context())
	var notFound *bpmn.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLifecycleErrors(t *testing.T) {
	engine, err := embedded.New()
	require.NoError(t, err)

	_, err = engine.IncreaseTime(time.Second)
	assert.ErrorIs(t, err, embedded.ErrNotStarted)
	_, err = engine.StreamFrom(1)
	assert.ErrorIs(t, err, embedded.ErrNotStarted)

	require.NoError(t, engine.Start(t.Context()))
	defer engine.Stop(context.Background())
	assert.ErrorIs(t, engine.Start(t.Context()), embedded.ErrAlreadyStarted)
	_, err = engine.IncreaseTime(time.Second)
	assert.ErrorIs(t, err, embedded.ErrClockNotControlled)

	_, err = embedded.New(embedded.WithExporter("journal", &collectingExporter{}))
	assert.ErrorIs(t, err, embedded.ErrDuplicateExporterName)
}

func TestStopRejectsCommandsAndClosesWorkers(t *testing.T) {
	// given
	engine, err := embedded.New(embedded.WithControlledClock(embeddedtest.DefaultStart))
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	c := engine.Client()

	// when
	require.NoError(t, engine.Stop(t.Context()))

	// then
	_, err = c.NewActivateJobsCommand().JobType("any").MaxJobsToActivate(1).Send(t.Context())
	assert.ErrorIs(t, err, bpmn.ErrEngineStopped)
	_, err = c.NewJobWorker().JobType("any").Handler(func(ctx context.Context, job bpmn.ActivatedJob) (map[string]any, *client.WorkerError) {
		return nil, nil
	}).Open()
	assert.ErrorIs(t, err, bpmn.ErrEngineStopped)
	assert.False(t, engine.Running())
}

func TestStopDoesNotWaitForResultCallers(t *testing.T) {
	// given
	engine, err := embedded.New(embedded.WithControlledClock(embeddedtest.DefaultStart))
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	definitions, err := serviceTaskProcess("waiting", "nobody").Done()
	require.NoError(t, err)
	_, err = engine.Client().NewDeployResourceCommand().
		AddProcessModel(definitions, "waiting.bpmn").
		Send(t.Context())
	require.NoError(t, err)
	future := engine.Client().NewCreateInstanceCommand().
		BpmnProcessId("waiting").
		LatestVersion().
		WithResult().
		SendAsync(t.Context())
	require.Eventually(t, func() bool {
		_, ok := engine.Records().JobRecords().WithIntent(record.IntentCreated).First()
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	// when
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	started := time.Now()
	err = engine.Stop(ctx)

	// then
	require.NoError(t, err)
	assert.Less(t, time.Since(started), time.Second)
	_, err = future.Join()
	assert.ErrorIs(t, err, bpmn.ErrEngineStopped)
}
