// Package storagetest verifies that a storage.Storage applies records and answers queries as the engine expects.
package storagetest

import (
	"context"
	"fmt"
	"reflect"
	stdruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	bpmnruntime "github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

// NewStorageFunc returns an empty store for every test.
type NewStorageFunc func() storage.Storage

type StorageTester struct {
	position int64
	key      int64
	now      time.Time
}

const processXml = `<?xml version="1.0" encoding="UTF-8"?>
<definitions id="d">
  <process id="storage-process" isExecutable="true">
    <startEvent id="start" />
    <parallelGateway id="fork" />
    <serviceTask id="task"><extensionElements><taskDefinition type="work" /></extensionElements></serviceTask>
    <intermediateCatchEvent id="timer"><timerEventDefinition><timeDuration>PT1M</timeDuration></timerEventDefinition></intermediateCatchEvent>
    <parallelGateway id="join" />
    <endEvent id="end" />
    <sequenceFlow id="f-start" sourceRef="start" targetRef="fork" />
    <sequenceFlow id="f-task" sourceRef="fork" targetRef="task" />
    <sequenceFlow id="f-timer" sourceRef="fork" targetRef="timer" />
    <sequenceFlow id="f-task-join" sourceRef="task" targetRef="join" />
    <sequenceFlow id="f-timer-join" sourceRef="timer" targetRef="join" />
    <sequenceFlow id="f-end" sourceRef="join" targetRef="end" />
  </process>
</definitions>`

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestProcessDefinitionStorageReader,
		st.TestProcessInstanceStorageReader,
		st.TestTokenStorageReader,
		st.TestJobStorageReader,
		st.TestTimerStorageReader,
		st.TestIncidentStorageReader,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func (st *StorageTester) apply(t *testing.T, s storage.Storage, key int64, valueType record.ValueType, intent record.Intent, value record.Value) record.Record {
	t.Helper()
	st.position++
	if st.now.IsZero() {
		st.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rec := record.Record{
		Position:  st.position,
		Key:       key,
		Timestamp: st.now,
		ValueType: valueType,
		Intent:    intent,
		Value:     value,
	}
	require.NoError(t, s.Apply(context.Background(), rec))
	return rec
}

func (st *StorageTester) nextKey() int64 {
	st.key++
	return st.key
}

// deploy applies a PROCESS record with the given version and returns its key
func (st *StorageTester) deploy(t *testing.T, s storage.Storage, version int32) int64 {
	return st.deployProcess(t, s, "storage-process", version)
}

func (st *StorageTester) deployProcess(t *testing.T, s storage.Storage, processId string, version int32) int64 {
	key := st.nextKey()
	st.apply(t, s, key, record.ValueTypeProcess, record.IntentCreated, record.ProcessValue{
		ProcessMetadata: record.ProcessMetadata{
			BpmnProcessId:        processId,
			Version:              version,
			ProcessDefinitionKey: key,
			ResourceName:         "storage.bpmn",
			Checksum:             "c",
		},
		Resource: []byte(strings.Replace(processXml, `id="storage-process"`, fmt.Sprintf("id=%q", processId), 1)),
	})
	return key
}

func (st *StorageTester) startInstance(t *testing.T, s storage.Storage, definitionKey int64) int64 {
	key := st.nextKey()
	st.apply(t, s, key, record.ValueTypeProcessInstance, record.IntentElementActivating, record.ProcessInstanceValue{
		BpmnProcessId:        "storage-process",
		ProcessDefinitionKey: definitionKey,
		ProcessInstanceKey:   key,
		ElementId:            "storage-process",
		BpmnElementType:      bpmn20.ElementTypeProcess,
		FlowScopeKey:         -1,
	})
	return key
}

func elementValue(definitionKey, instanceKey int64, elementId string, elementType bpmn20.ElementType) record.ProcessInstanceValue {
	return record.ProcessInstanceValue{
		BpmnProcessId:        "storage-process",
		ProcessDefinitionKey: definitionKey,
		ProcessInstanceKey:   instanceKey,
		ElementId:            elementId,
		BpmnElementType:      elementType,
		FlowScopeKey:         instanceKey,
	}
}

func (st *StorageTester) TestProcessDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		first := st.deployProcess(t, s, "versioned-process", 1)
		second := st.deployProcess(t, s, "versioned-process", 2)

		latest, err := s.FindLatestProcessDefinitionById(ctx, "versioned-process")
		require.NoError(t, err)
		assert.Equal(t, second, latest.Key)
		assert.Equal(t, "start", latest.Definitions.Process.StartEvents[0].Id)

		byVersion, err := s.FindProcessDefinitionByIdAndVersion(ctx, "versioned-process", 1)
		require.NoError(t, err)
		assert.Equal(t, first, byVersion.Key)

		all, err := s.FindProcessDefinitionsById(ctx, "versioned-process")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, []int64{first, second}, []int64{all[0].Key, all[1].Key})

		_, err = s.FindProcessDefinitionByKey(ctx, -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindLatestProcessDefinitionById(ctx, "unknown")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		none, err := s.FindProcessDefinitionsById(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, none)
	}
}

func (st *StorageTester) TestProcessInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		definitionKey := st.deploy(t, s, 1)
		instanceKey := st.startInstance(t, s, definitionKey)
		st.apply(t, s, st.nextKey(), record.ValueTypeVariable, record.IntentCreated, record.VariableValue{
			Name: "x", Value: 1, ScopeKey: instanceKey, ProcessInstanceKey: instanceKey,
		})

		pi, err := s.FindProcessInstanceByKey(ctx, instanceKey)
		require.NoError(t, err)
		assert.Equal(t, bpmnruntime.ProcessInstanceStateActive, pi.State)
		assert.Equal(t, map[string]any{"x": 1}, pi.Variables)

		// returned variables are a copy
		pi.Variables["x"] = 2
		again, err := s.FindProcessInstanceByKey(ctx, instanceKey)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Variables["x"])

		st.apply(t, s, instanceKey, record.ValueTypeProcessInstance, record.IntentElementCompleted,
			elementValue(definitionKey, instanceKey, "storage-process", bpmn20.ElementTypeProcess))
		done, err := s.FindProcessInstanceByKey(ctx, instanceKey)
		require.NoError(t, err)
		assert.Equal(t, bpmnruntime.ProcessInstanceStateCompleted, done.State)

		_, err = s.FindProcessInstanceByKey(ctx, -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestTokenStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		definitionKey := st.deploy(t, s, 1)
		instanceKey := st.startInstance(t, s, definitionKey)

		st.apply(t, s, st.nextKey(), record.ValueTypeProcessInstance, record.IntentSequenceFlowTaken,
			elementValue(definitionKey, instanceKey, "f-task-join", bpmn20.ElementTypeSequenceFlow))
		taken, err := s.GetTakenSequenceFlows(ctx, instanceKey)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"f-task-join": 1}, taken)

		st.apply(t, s, st.nextKey(), record.ValueTypeProcessInstance, record.IntentSequenceFlowTaken,
			elementValue(definitionKey, instanceKey, "f-timer-join", bpmn20.ElementTypeSequenceFlow))
		joinKey := st.nextKey()
		st.apply(t, s, joinKey, record.ValueTypeProcessInstance, record.IntentElementActivating,
			elementValue(definitionKey, instanceKey, "join", bpmn20.ElementTypeParallelGateway))

		taken, err = s.GetTakenSequenceFlows(ctx, instanceKey)
		require.NoError(t, err)
		assert.Empty(t, taken)

		st.apply(t, s, joinKey, record.ValueTypeProcessInstance, record.IntentElementActivated,
			elementValue(definitionKey, instanceKey, "join", bpmn20.ElementTypeParallelGateway))
		token, err := s.GetTokenByKey(ctx, joinKey)
		require.NoError(t, err)
		assert.Equal(t, bpmnruntime.TokenStateActivated, token.State)
		tokens, err := s.GetActiveTokensForProcessInstance(ctx, instanceKey)
		require.NoError(t, err)
		assert.Len(t, tokens, 1)

		st.apply(t, s, joinKey, record.ValueTypeProcessInstance, record.IntentElementCompleted,
			elementValue(definitionKey, instanceKey, "join", bpmn20.ElementTypeParallelGateway))
		_, err = s.GetTokenByKey(ctx, joinKey)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestJobStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		definitionKey := st.deploy(t, s, 1)
		instanceKey := st.startInstance(t, s, definitionKey)
		jobType := "work-" + t.Name()

		first, second := st.nextKey(), st.nextKey()
		for _, key := range []int64{second, first} {
			st.apply(t, s, key, record.ValueTypeJob, record.IntentCreated, record.JobValue{
				Type: jobType, ProcessInstanceKey: instanceKey, ProcessDefinitionKey: definitionKey, ElementId: "task", Retries: 1,
			})
		}

		jobs, err := s.FindActivatableJobs(ctx, jobType, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		// creation order, not key order
		assert.Equal(t, second, jobs[0].Key)

		st.apply(t, s, second, record.ValueTypeJob, record.IntentActivated, record.JobValue{Type: jobType, Retries: 1, Worker: "w"})
		jobs, err = s.FindActivatableJobs(ctx, jobType, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, first, jobs[0].Key)

		st.apply(t, s, second, record.ValueTypeJob, record.IntentFailed, record.JobValue{Type: jobType, Retries: 0, ErrorMessage: "boom"})
		job, err := s.FindJobByKey(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, bpmnruntime.JobStateFailed, job.State)
		assert.False(t, job.IsActivatable())

		st.apply(t, s, first, record.ValueTypeJob, record.IntentCompleted, record.JobValue{Type: jobType})
		_, err = s.FindJobByKey(ctx, first)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		instanceJobs, err := s.FindProcessInstanceJobs(ctx, instanceKey)
		require.NoError(t, err)
		assert.Len(t, instanceJobs, 1)
	}
}

func (st *StorageTester) TestTimerStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		definitionKey := st.deploy(t, s, 1)
		instanceKey := st.startInstance(t, s, definitionKey)
		base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

		late, early, sameAsEarly := st.nextKey(), st.nextKey(), st.nextKey()
		st.apply(t, s, late, record.ValueTypeTimer, record.IntentCreated, record.TimerValue{ProcessInstanceKey: instanceKey, TargetElementId: "timer", DueDate: base.Add(time.Hour)})
		st.apply(t, s, early, record.ValueTypeTimer, record.IntentCreated, record.TimerValue{ProcessInstanceKey: instanceKey, TargetElementId: "timer", DueDate: base})
		st.apply(t, s, sameAsEarly, record.ValueTypeTimer, record.IntentCreated, record.TimerValue{ProcessInstanceKey: instanceKey, TargetElementId: "timer", DueDate: base})

		due, err := s.FindDueTimers(ctx, base)
		require.NoError(t, err)
		var dueKeys []int64
		for _, timer := range due {
			if timer.ProcessInstanceKey == instanceKey {
				dueKeys = append(dueKeys, timer.Key)
			}
		}
		assert.Equal(t, []int64{early, sameAsEarly}, dueKeys)

		st.apply(t, s, early, record.ValueTypeTimer, record.IntentTriggered, record.TimerValue{ProcessInstanceKey: instanceKey})
		_, err = s.FindTimerByKey(ctx, early)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		timers, err := s.FindProcessInstanceTimers(ctx, instanceKey)
		require.NoError(t, err)
		require.Len(t, timers, 2)
		assert.Equal(t, sameAsEarly, timers[0].Key)
	}
}

func (st *StorageTester) TestIncidentStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		definitionKey := st.deploy(t, s, 1)
		instanceKey := st.startInstance(t, s, definitionKey)
		incidentKey := st.nextKey()

		st.apply(t, s, incidentKey, record.ValueTypeIncident, record.IntentCreated, record.IncidentValue{
			ErrorType: record.ErrorTypeExpressionEvaluation, ErrorMessage: "bad", ProcessInstanceKey: instanceKey, ElementId: "fork",
		})
		incident, err := s.FindIncidentByKey(ctx, incidentKey)
		require.NoError(t, err)
		assert.Equal(t, "bad", incident.Message)
		pi, err := s.FindProcessInstanceByKey(ctx, instanceKey)
		require.NoError(t, err)
		assert.Equal(t, bpmnruntime.ProcessInstanceStateFailed, pi.State)

		st.apply(t, s, incidentKey, record.ValueTypeIncident, record.IntentResolved, record.IncidentValue{ProcessInstanceKey: instanceKey})
		incidents, err := s.FindProcessInstanceIncidents(ctx, instanceKey)
		require.NoError(t, err)
		assert.Empty(t, incidents)
		pi, err = s.FindProcessInstanceByKey(ctx, instanceKey)
		require.NoError(t, err)
		assert.Equal(t, bpmnruntime.ProcessInstanceStateActive, pi.State)
	}
}
