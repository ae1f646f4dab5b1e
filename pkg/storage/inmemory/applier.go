package inmemory

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
)

var _ storage.EventApplier = &Storage{}

// Apply changes the state according to rec. Records without state changes are ignored.
func (mem *Storage) Apply(ctx context.Context, rec record.Record) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	switch v := rec.Value.(type) {
	case record.ProcessValue:
		return mem.applyProcess(rec, v)
	case record.ProcessInstanceValue:
		return mem.applyProcessInstance(rec, v)
	case record.VariableValue:
		return mem.applyVariable(rec, v)
	case record.JobValue:
		return mem.applyJob(rec, v)
	case record.TimerValue:
		return mem.applyTimer(rec, v)
	case record.IncidentValue:
		return mem.applyIncident(rec, v)
	case record.DeploymentValue, record.ProcessInstanceCreationValue:
		return nil
	default:
		return fmt.Errorf("no applier for record %d of value type %T", rec.Position, rec.Value)
	}
}

func (mem *Storage) applyProcess(rec record.Record, v record.ProcessValue) error {
	if rec.Intent != record.IntentCreated {
		return nil
	}
	definitions, err := bpmn20.Parse(v.Resource)
	if err != nil {
		return fmt.Errorf("failed to parse resource %s of process %d: %w", v.ResourceName, rec.Key, err)
	}
	mem.processDefinitions[rec.Key] = runtime.ProcessDefinition{
		BpmnProcessId:    v.BpmnProcessId,
		Version:          v.Version,
		Key:              rec.Key,
		Definitions:      definitions,
		BpmnData:         v.Resource,
		BpmnResourceName: v.ResourceName,
		BpmnChecksum:     v.Checksum,
		DeployedAt:       rec.Timestamp,
	}
	if latest, ok := mem.latestDefinitions.Peek(v.BpmnProcessId); ok {
		if def, ok := mem.processDefinitions[latest]; ok && def.Version > v.Version {
			return nil
		}
	}
	mem.latestDefinitions.Add(v.BpmnProcessId, rec.Key)
	return nil
}

func (mem *Storage) applyProcessInstance(rec record.Record, v record.ProcessInstanceValue) error {
	if v.BpmnElementType == bpmn20.ElementTypeProcess {
		return mem.applyProcessLifecycle(rec, v)
	}
	switch rec.Intent {
	case record.IntentSequenceFlowTaken:
		process, err := mem.process(v.ProcessDefinitionKey)
		if err != nil {
			return err
		}
		flow, ok := process.GetSequenceFlowById(v.ElementId)
		if !ok {
			return fmt.Errorf("sequence flow %s not found in process %s", v.ElementId, v.BpmnProcessId)
		}
		if target, ok := process.GetFlowNodeById(flow.TargetRef); ok && target.GetType() == bpmn20.ElementTypeParallelGateway {
			taken := mem.takenFlows[v.ProcessInstanceKey]
			if taken == nil {
				taken = map[string]int{}
				mem.takenFlows[v.ProcessInstanceKey] = taken
			}
			taken[flow.Id]++
		}
	case record.IntentElementActivating:
		mem.tokens[rec.Key] = runtime.ExecutionToken{
			Key:                rec.Key,
			ProcessInstanceKey: v.ProcessInstanceKey,
			ElementId:          v.ElementId,
			ElementType:        v.BpmnElementType,
			State:              runtime.TokenStateActivating,
		}
		if v.BpmnElementType == bpmn20.ElementTypeParallelGateway {
			return mem.consumeJoinedFlows(v)
		}
	case record.IntentElementActivated:
		return mem.setTokenState(rec.Key, runtime.TokenStateActivated)
	case record.IntentElementCompleting:
		return mem.setTokenState(rec.Key, runtime.TokenStateCompleting)
	case record.IntentElementCompleted, record.IntentElementTerminated:
		delete(mem.tokens, rec.Key)
	}
	return nil
}

// consumeJoinedFlows takes one arrival of every incoming flow when a parallel gateway activates
func (mem *Storage) consumeJoinedFlows(v record.ProcessInstanceValue) error {
	process, err := mem.process(v.ProcessDefinitionKey)
	if err != nil {
		return err
	}
	taken := mem.takenFlows[v.ProcessInstanceKey]
	for _, flow := range process.IncomingFlows(v.ElementId) {
		if taken[flow.Id] <= 1 {
			delete(taken, flow.Id)
			continue
		}
		taken[flow.Id]--
	}
	if len(taken) == 0 {
		delete(mem.takenFlows, v.ProcessInstanceKey)
	}
	return nil
}

func (mem *Storage) applyProcessLifecycle(rec record.Record, v record.ProcessInstanceValue) error {
	switch rec.Intent {
	case record.IntentElementActivating:
		mem.processInstances[rec.Key] = runtime.ProcessInstance{
			Key:                  rec.Key,
			ProcessDefinitionKey: v.ProcessDefinitionKey,
			BpmnProcessId:        v.BpmnProcessId,
			Version:              v.Version,
			State:                runtime.ProcessInstanceStateActive,
			Variables:            map[string]any{},
			CreatedAt:            rec.Timestamp,
		}
	case record.IntentElementCompleted:
		return mem.finishProcessInstance(rec.Key, runtime.ProcessInstanceStateCompleted)
	case record.IntentElementTerminated:
		return mem.finishProcessInstance(rec.Key, runtime.ProcessInstanceStateTerminated)
	}
	return nil
}

func (mem *Storage) finishProcessInstance(key int64, state runtime.ProcessInstanceState) error {
	pi, ok := mem.processInstances[key]
	if !ok {
		return fmt.Errorf("process instance %d: %w", key, storage.ErrNotFound)
	}
	pi.State = state
	mem.processInstances[key] = pi
	delete(mem.takenFlows, key)
	return nil
}

func (mem *Storage) applyVariable(rec record.Record, v record.VariableValue) error {
	if v.ScopeKey == v.ProcessInstanceKey {
		pi, ok := mem.processInstances[v.ProcessInstanceKey]
		if !ok {
			return fmt.Errorf("variable scope %d: %w", v.ScopeKey, storage.ErrNotFound)
		}
		pi.Variables[v.Name] = v.Value
		return nil
	}
	token, ok := mem.tokens[v.ScopeKey]
	if !ok {
		return fmt.Errorf("variable scope %d: %w", v.ScopeKey, storage.ErrNotFound)
	}
	if token.Variables == nil {
		token.Variables = map[string]any{}
	}
	token.Variables[v.Name] = v.Value
	mem.tokens[v.ScopeKey] = token
	return nil
}

func (mem *Storage) applyJob(rec record.Record, v record.JobValue) error {
	if rec.Intent == record.IntentCreated {
		mem.jobs[rec.Key] = runtime.Job{
			Key:                  rec.Key,
			Type:                 v.Type,
			ElementId:            v.ElementId,
			ElementInstanceKey:   v.ElementInstanceKey,
			ProcessInstanceKey:   v.ProcessInstanceKey,
			ProcessDefinitionKey: v.ProcessDefinitionKey,
			BpmnProcessId:        v.BpmnProcessId,
			State:                runtime.JobStateCreated,
			Retries:              v.Retries,
			Variables:            v.Variables,
			CreatedAt:            rec.Timestamp,
			Position:             rec.Position,
		}
		return nil
	}
	job, ok := mem.jobs[rec.Key]
	if !ok {
		return fmt.Errorf("job %d: %w", rec.Key, storage.ErrNotFound)
	}
	switch rec.Intent {
	case record.IntentActivated:
		job.State = runtime.JobStateActivated
		job.Worker = v.Worker
	case record.IntentFailed:
		job.State = runtime.JobStateFailed
		job.Retries = v.Retries
		job.ErrorMessage = v.ErrorMessage
		job.Worker = ""
	case record.IntentRetriesUpdated:
		job.Retries = v.Retries
	case record.IntentCompleted, record.IntentCanceled:
		delete(mem.jobs, rec.Key)
		return nil
	}
	mem.jobs[rec.Key] = job
	return nil
}

func (mem *Storage) applyTimer(rec record.Record, v record.TimerValue) error {
	switch rec.Intent {
	case record.IntentCreated:
		mem.timers[rec.Key] = runtime.Timer{
			Key:                  rec.Key,
			ElementId:            v.TargetElementId,
			ElementInstanceKey:   v.ElementInstanceKey,
			ProcessInstanceKey:   v.ProcessInstanceKey,
			ProcessDefinitionKey: v.ProcessDefinitionKey,
			DueAt:                v.DueDate,
			CreatedAt:            rec.Timestamp,
			Position:             rec.Position,
		}
	case record.IntentTriggered, record.IntentCanceled:
		delete(mem.timers, rec.Key)
	}
	return nil
}

func (mem *Storage) applyIncident(rec record.Record, v record.IncidentValue) error {
	pi, ok := mem.processInstances[v.ProcessInstanceKey]
	if !ok {
		return fmt.Errorf("process instance %d of incident %d: %w", v.ProcessInstanceKey, rec.Key, storage.ErrNotFound)
	}
	switch rec.Intent {
	case record.IntentCreated:
		mem.incidents[rec.Key] = runtime.Incident{
			Key:                  rec.Key,
			ErrorType:            v.ErrorType,
			Message:              v.ErrorMessage,
			ElementId:            v.ElementId,
			ElementInstanceKey:   v.ElementInstanceKey,
			ProcessInstanceKey:   v.ProcessInstanceKey,
			ProcessDefinitionKey: v.ProcessDefinitionKey,
			JobKey:               v.JobKey,
			CreatedAt:            rec.Timestamp,
		}
		if !pi.IsTerminal() {
			pi.State = runtime.ProcessInstanceStateFailed
		}
	case record.IntentResolved:
		delete(mem.incidents, rec.Key)
		if pi.State == runtime.ProcessInstanceStateFailed && !mem.hasOpenIncident(v.ProcessInstanceKey) {
			pi.State = runtime.ProcessInstanceStateActive
		}
	}
	mem.processInstances[v.ProcessInstanceKey] = pi
	return nil
}

func (mem *Storage) hasOpenIncident(processInstanceKey int64) bool {
	for _, incident := range mem.incidents {
		if incident.ProcessInstanceKey == processInstanceKey {
			return true
		}
	}
	return false
}

func (mem *Storage) setTokenState(key int64, state runtime.TokenState) error {
	token, ok := mem.tokens[key]
	if !ok {
		return fmt.Errorf("token %d: %w", key, storage.ErrNotFound)
	}
	token.State = state
	mem.tokens[key] = token
	return nil
}

func (mem *Storage) process(processDefinitionKey int64) (*bpmn20.TProcess, error) {
	def, ok := mem.processDefinitions[processDefinitionKey]
	if !ok {
		return nil, fmt.Errorf("process definition %d: %w", processDefinitionKey, storage.ErrNotFound)
	}
	return &def.Definitions.Process, nil
}
