package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/builder"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exclusiveWithoutDefault(processId string) *builder.ProcessBuilder {
	return builder.CreateExecutableProcess(processId).
		StartEvent().
		ExclusiveGateway("split").
		SequenceFlowId("to-a").ConditionExpression("price > 0").
		ServiceTask("task-a").JobType("task-a").
		EndEvent("end-a").
		MoveToNode("split").
		SequenceFlowId("to-b").ConditionExpression("price < 0").
		ServiceTask("task-b").JobType("task-b").
		EndEvent("end-b")
}

func jobTypesOf(t *testing.T, engine *Engine, processInstanceKey int64) []string {
	t.Helper()
	jobs, err := engine.State().FindProcessInstanceJobs(t.Context(), processInstanceKey)
	require.NoError(t, err)
	var types []string
	for _, job := range jobs {
		types = append(types, job.Type)
	}
	return types
}

func TestExclusiveGatewayWithExpressionsSelectsOneAndNotOthers(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.LoadFromFile(t.Context(), "./model/bpmn20/test-cases/exclusive_gateway_with_condition_and_default.bpmn")
	require.NoError(t, err)

	instance, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{
		BpmnProcessId: "exclusive-gateway-with-condition-and-default",
		Variables:     map[string]any{"price": 100},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"task-a"}, jobTypesOf(t, engine, instance.ProcessInstanceKey))
	taken := engine.Log().Records().WithProcessInstanceKey(instance.ProcessInstanceKey).
		WithElementType(bpmn20.ElementTypeSequenceFlow)
	assert.Len(t, taken.WithElementId("flow-a"), 1)
	assert.Empty(t, taken.WithElementId("flow-default"))
}

func TestExclusiveGatewayWithExpressionsSelectsDefault(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.LoadFromFile(t.Context(), "./model/bpmn20/test-cases/exclusive_gateway_with_condition_and_default.bpmn")
	require.NoError(t, err)

	instance, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{
		BpmnProcessId: "exclusive-gateway-with-condition-and-default",
		Variables:     map[string]any{"price": -1},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"task-b"}, jobTypesOf(t, engine, instance.ProcessInstanceKey))
}

func TestExclusiveGatewayTakesFirstMatchingFlow(t *testing.T) {
	engine, _ := newTestEngine(t)
	deployProcess(t, engine, builder.CreateExecutableProcess("first-match").
		StartEvent().
		ExclusiveGateway("split").
		ConditionExpression("price >= 0").
		ServiceTask("task-a").JobType("task-a").
		EndEvent("end-a").
		MoveToNode("split").
		ConditionExpression("price = 0").
		ServiceTask("task-b").JobType("task-b").
		EndEvent("end-b"))

	instance, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{BpmnProcessId: "first-match", Variables: map[string]any{"price": 0}})

	require.NoError(t, err)
	assert.Equal(t, []string{"task-a"}, jobTypesOf(t, engine, instance.ProcessInstanceKey))
}

func TestExclusiveGatewayWithoutMatchRaisesIncident(t *testing.T) {
	// given
	engine, _ := newTestEngine(t)
	deployProcess(t, engine, exclusiveWithoutDefault("no-match"))

	// when
	_, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{
		BpmnProcessId: "no-match",
		Variables:     map[string]any{"price": 0},
		AwaitResult:   true,
	})

	// then
	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)
	assert.Equal(t, "split", executionErr.ElementId)
	assert.Contains(t, executionErr.Msg, "No default flow")

	instance, err := engine.FindProcessInstance(t.Context(), executionErr.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateFailed, instance.State)
	incidents := engine.Log().Records().IncidentRecords().WithIntent(record.IntentCreated)
	require.Len(t, incidents, 1)
	assert.Equal(t, executionErr.IncidentKey, incidents[0].Key)
	assert.Equal(t, record.ErrorTypeExpressionEvaluation, incidents[0].Value.(record.IncidentValue).ErrorType)
}

func TestExclusiveGatewayIncidentIsResolvedAfterVariablesAreFixed(t *testing.T) {
	// given
	engine, _ := newTestEngine(t)
	deployProcess(t, engine, exclusiveWithoutDefault("fix-and-resolve"))
	_, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{
		BpmnProcessId: "fix-and-resolve",
		Variables:     map[string]any{"price": 0},
		AwaitResult:   true,
	})
	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)

	// when
	require.NoError(t, engine.SetVariables(t.Context(), executionErr.ProcessInstanceKey, map[string]any{"price": -10}))
	err = engine.ResolveIncident(t.Context(), executionErr.IncidentKey)

	// then
	require.NoError(t, err)
	instance, err := engine.FindProcessInstance(t.Context(), executionErr.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateActive, instance.State)
	assert.Equal(t, []string{"task-b"}, jobTypesOf(t, engine, executionErr.ProcessInstanceKey))
	var notFoundErr *NotFoundError
	assert.ErrorAs(t, engine.ResolveIncident(t.Context(), executionErr.IncidentKey), &notFoundErr)
}

func TestParallelGatewayJoinsBothBranches(t *testing.T) {
	// given
	engine, _ := newTestEngine(t)
	deployProcess(t, engine, builder.CreateExecutableProcess("fork-join").
		StartEvent().
		ParallelGateway("fork").
		ServiceTask("task-a").JobType("branch-a").
		ParallelGateway("join").
		ServiceTask("after").JobType("after-join").
		EndEvent().
		MoveToNode("fork").
		ServiceTask("task-b").JobType("branch-b").
		ConnectTo("join"))
	instance, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{BpmnProcessId: "fork-join"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"branch-a", "branch-b"}, jobTypesOf(t, engine, instance.ProcessInstanceKey))

	// when
	a := activateOne(t, engine, "branch-a")
	require.NoError(t, engine.CompleteJob(t.Context(), a.Key, map[string]any{"a": true}))
	afterFirst := jobTypesOf(t, engine, instance.ProcessInstanceKey)
	b := activateOne(t, engine, "branch-b")
	require.NoError(t, engine.CompleteJob(t.Context(), b.Key, map[string]any{"b": true}))

	// then
	assert.Equal(t, []string{"branch-b"}, afterFirst)
	assert.Equal(t, []string{"after-join"}, jobTypesOf(t, engine, instance.ProcessInstanceKey))
	joins := engine.Log().Records().WithProcessInstanceKey(instance.ProcessInstanceKey).
		ProcessInstanceRecords().WithElementId("join").WithIntent(record.IntentElementActivated)
	assert.Len(t, joins, 1)
	after := activateOne(t, engine, "after-join")
	assert.Equal(t, true, after.Variable("a"))
	assert.Equal(t, true, after.Variable("b"))
}

func TestUncontrolledForkCompletesAfterAllBranches(t *testing.T) {
	engine, _ := newTestEngine(t)
	deployProcess(t, engine, builder.CreateExecutableProcess("uncontrolled").
		StartEvent("start").
		ServiceTask("task-a").JobType("uncontrolled-a").
		EndEvent("end-a").
		MoveToNode("start").
		ServiceTask("task-b").JobType("uncontrolled-b").
		EndEvent("end-b"))
	instance, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{BpmnProcessId: "uncontrolled"})
	require.NoError(t, err)

	a := activateOne(t, engine, "uncontrolled-a")
	require.NoError(t, engine.CompleteJob(t.Context(), a.Key, nil))
	running, err := engine.FindProcessInstance(t.Context(), instance.ProcessInstanceKey)
	require.NoError(t, err)
	b := activateOne(t, engine, "uncontrolled-b")
	require.NoError(t, engine.CompleteJob(t.Context(), b.Key, nil))
	completed, err := engine.FindProcessInstance(t.Context(), instance.ProcessInstanceKey)
	require.NoError(t, err)

	assert.Equal(t, runtime.ProcessInstanceStateActive, running.State)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, completed.State)
	ends := engine.Log().Records().WithProcessInstanceKey(instance.ProcessInstanceKey).
		ProcessInstanceRecords().WithElementType(bpmn20.ElementTypeEndEvent).WithIntent(record.IntentElementCompleted)
	assert.Len(t, ends, 2)
}
