package inmemory

import (
	"context"
	"fmt"
	"maps"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
)

// Snapshot is a deep copy of the state, comparable with assert.Equal.
// Parsed definitions are left out, they are derived from BpmnData.
type Snapshot struct {
	ProcessDefinitions map[int64]runtime.ProcessDefinition
	ProcessInstances   map[int64]runtime.ProcessInstance
	Tokens             map[int64]runtime.ExecutionToken
	TakenFlows         map[int64]map[string]int
	Jobs               map[int64]runtime.Job
	Timers             map[int64]runtime.Timer
	Incidents          map[int64]runtime.Incident
}

func (mem *Storage) Snapshot() Snapshot {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	s := Snapshot{
		ProcessDefinitions: make(map[int64]runtime.ProcessDefinition, len(mem.processDefinitions)),
		ProcessInstances:   make(map[int64]runtime.ProcessInstance, len(mem.processInstances)),
		Tokens:             make(map[int64]runtime.ExecutionToken, len(mem.tokens)),
		TakenFlows:         make(map[int64]map[string]int, len(mem.takenFlows)),
		Jobs:               make(map[int64]runtime.Job, len(mem.jobs)),
		Timers:             maps.Clone(mem.timers),
		Incidents:          maps.Clone(mem.incidents),
	}
	for k, def := range mem.processDefinitions {
		def.Definitions = nil
		s.ProcessDefinitions[k] = def
	}
	for k, pi := range mem.processInstances {
		s.ProcessInstances[k] = pi.Clone()
	}
	for k, token := range mem.tokens {
		s.Tokens[k] = token.Clone()
	}
	for k, taken := range mem.takenFlows {
		s.TakenFlows[k] = maps.Clone(taken)
	}
	for k, job := range mem.jobs {
		s.Jobs[k] = job.Clone()
	}
	return s
}

// Replay builds a new Storage by applying records in order.
func Replay(ctx context.Context, records record.Records) (*Storage, error) {
	mem := NewStorage()
	for _, rec := range records {
		if err := mem.Apply(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to replay record %d: %w", rec.Position, err)
		}
	}
	return mem, nil
}
