package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replayProcess = `<definitions><process id="replay" isExecutable="true">
<startEvent id="start" />
<serviceTask id="task"><extensionElements><taskDefinition type="work" /></extensionElements></serviceTask>
<endEvent id="end" />
<sequenceFlow id="f1" sourceRef="start" targetRef="task" />
<sequenceFlow id="f2" sourceRef="task" targetRef="end" />
</process></definitions>`

func TestReplayProducesEqualSnapshot(t *testing.T) {
	// given
	ctx := context.Background()
	log := record.NewLog()
	live := NewStorage()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	write := func(key int64, valueType record.ValueType, intent record.Intent, value record.Value) {
		rec := log.Append(record.Record{Key: key, Timestamp: now, ValueType: valueType, Intent: intent, Value: value})
		require.NoError(t, live.Apply(ctx, rec))
	}
	element := func(id string, elementType bpmn20.ElementType) record.ProcessInstanceValue {
		return record.ProcessInstanceValue{
			BpmnProcessId: "replay", ProcessDefinitionKey: 1, ProcessInstanceKey: 2,
			ElementId: id, BpmnElementType: elementType, FlowScopeKey: 2,
		}
	}

	write(1, record.ValueTypeProcess, record.IntentCreated, record.ProcessValue{
		ProcessMetadata: record.ProcessMetadata{BpmnProcessId: "replay", Version: 1, ProcessDefinitionKey: 1},
		Resource:        []byte(replayProcess),
	})
	write(2, record.ValueTypeProcessInstance, record.IntentElementActivating, element("replay", bpmn20.ElementTypeProcess))
	write(3, record.ValueTypeVariable, record.IntentCreated, record.VariableValue{Name: "x", Value: "a", ScopeKey: 2, ProcessInstanceKey: 2})
	write(4, record.ValueTypeProcessInstance, record.IntentElementActivating, element("task", bpmn20.ElementTypeServiceTask))
	write(4, record.ValueTypeProcessInstance, record.IntentElementActivated, element("task", bpmn20.ElementTypeServiceTask))
	write(5, record.ValueTypeJob, record.IntentCreated, record.JobValue{Type: "work", ProcessInstanceKey: 2, ElementInstanceKey: 4, ElementId: "task", Retries: 3})
	write(5, record.ValueTypeJob, record.IntentActivated, record.JobValue{Type: "work", Retries: 3, Worker: "w"})

	// when
	replayed, err := Replay(ctx, log.Records())

	// then
	require.NoError(t, err)
	assert.Equal(t, live.Snapshot(), replayed.Snapshot())
	job, err := replayed.FindJobByKey(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, runtime.JobStateActivated, job.State)
	assert.Equal(t, "w", job.Worker)
}

func TestApplyRejectsUnknownScope(t *testing.T) {
	// given
	mem := NewStorage()

	// when
	err := mem.Apply(context.Background(), record.Record{
		Position: 1, Key: 1, ValueType: record.ValueTypeVariable, Intent: record.IntentCreated,
		Value: record.VariableValue{Name: "x", ScopeKey: 99, ProcessInstanceKey: 98},
	})

	// then
	assert.Error(t, err)
}
