package inmemory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
)

const latestDefinitionCacheSize = 256

// Storage keeps the materialized engine state in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu sync.RWMutex

	processDefinitions map[int64]runtime.ProcessDefinition
	// latestDefinitions caches the key of the latest version per BPMN process id
	latestDefinitions *lru.Cache[string, int64]
	processInstances  map[int64]runtime.ProcessInstance
	tokens            map[int64]runtime.ExecutionToken
	// takenFlows counts sequence flows taken towards parallel joins, per process instance
	takenFlows map[int64]map[string]int
	jobs       map[int64]runtime.Job
	timers     map[int64]runtime.Timer
	incidents  map[int64]runtime.Incident
}

func NewStorage() *Storage {
	cache, err := lru.New[string, int64](latestDefinitionCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Storage{
		processDefinitions: make(map[int64]runtime.ProcessDefinition),
		latestDefinitions:  cache,
		processInstances:   make(map[int64]runtime.ProcessInstance),
		tokens:             make(map[int64]runtime.ExecutionToken),
		takenFlows:         make(map[int64]map[string]int),
		jobs:               make(map[int64]runtime.Job),
		timers:             make(map[int64]runtime.Timer),
		incidents:          make(map[int64]runtime.Incident),
	}
}

var _ storage.Storage = &Storage{}

var _ storage.ProcessDefinitionStorageReader = &Storage{}

func (mem *Storage) FindLatestProcessDefinitionById(ctx context.Context, processDefinitionId string) (runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	if key, ok := mem.latestDefinitions.Get(processDefinitionId); ok {
		if def, ok := mem.processDefinitions[key]; ok {
			return def, nil
		}
	}
	var res runtime.ProcessDefinition
	found := false
	for _, def := range mem.processDefinitions {
		if def.BpmnProcessId != processDefinitionId {
			continue
		}
		if !found || def.Version > res.Version {
			res = def
			found = true
		}
	}
	if !found {
		return res, storage.ErrNotFound
	}
	mem.latestDefinitions.Add(processDefinitionId, res.Key)
	return res, nil
}

func (mem *Storage) FindProcessDefinitionByKey(ctx context.Context, processDefinitionKey int64) (runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	def, ok := mem.processDefinitions[processDefinitionKey]
	if !ok {
		return def, storage.ErrNotFound
	}
	return def, nil
}

func (mem *Storage) FindProcessDefinitionByIdAndVersion(ctx context.Context, processDefinitionId string, version int32) (runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	for _, def := range mem.processDefinitions {
		if def.BpmnProcessId == processDefinitionId && def.Version == version {
			return def, nil
		}
	}
	return runtime.ProcessDefinition{}, storage.ErrNotFound
}

func (mem *Storage) FindProcessDefinitionsById(ctx context.Context, processDefinitionId string) ([]runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.ProcessDefinition{}
	for _, def := range mem.processDefinitions {
		if def.BpmnProcessId == processDefinitionId {
			res = append(res, def)
		}
	}
	slices.SortFunc(res, func(a, b runtime.ProcessDefinition) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return res, nil
}

var _ storage.ProcessInstanceStorageReader = &Storage{}

func (mem *Storage) FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	pi, ok := mem.processInstances[processInstanceKey]
	if !ok {
		return pi, storage.ErrNotFound
	}
	return pi.Clone(), nil
}

var _ storage.TokenStorageReader = &Storage{}

func (mem *Storage) GetTokenByKey(ctx context.Context, tokenKey int64) (runtime.ExecutionToken, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	token, ok := mem.tokens[tokenKey]
	if !ok {
		return token, storage.ErrNotFound
	}
	return token.Clone(), nil
}

func (mem *Storage) GetActiveTokensForProcessInstance(ctx context.Context, processInstanceKey int64) ([]runtime.ExecutionToken, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.ExecutionToken{}
	for _, token := range mem.tokens {
		if token.ProcessInstanceKey == processInstanceKey {
			res = append(res, token.Clone())
		}
	}
	slices.SortFunc(res, func(a, b runtime.ExecutionToken) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return res, nil
}

func (mem *Storage) GetTakenSequenceFlows(ctx context.Context, processInstanceKey int64) (map[string]int, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := maps.Clone(mem.takenFlows[processInstanceKey])
	if res == nil {
		res = map[string]int{}
	}
	return res, nil
}

var _ storage.JobStorageReader = &Storage{}

func (mem *Storage) FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	job, ok := mem.jobs[jobKey]
	if !ok {
		return job, storage.ErrNotFound
	}
	return job.Clone(), nil
}

func (mem *Storage) FindActivatableJobs(ctx context.Context, jobType string, limit int) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.Job{}
	for _, job := range mem.jobs {
		if job.Type == jobType && job.IsActivatable() && !mem.hasOpenIncidentForJob(job.Key) {
			res = append(res, job.Clone())
		}
	}
	slices.SortFunc(res, func(a, b runtime.Job) int {
		return cmp.Compare(a.Position, b.Position)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (mem *Storage) hasOpenIncidentForJob(jobKey int64) bool {
	for _, incident := range mem.incidents {
		if incident.JobKey == jobKey {
			return true
		}
	}
	return false
}

func (mem *Storage) FindProcessInstanceJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.Job{}
	for _, job := range mem.jobs {
		if job.ProcessInstanceKey == processInstanceKey {
			res = append(res, job.Clone())
		}
	}
	slices.SortFunc(res, func(a, b runtime.Job) int {
		return cmp.Compare(a.Position, b.Position)
	})
	return res, nil
}

var _ storage.TimerStorageReader = &Storage{}

func (mem *Storage) FindTimerByKey(ctx context.Context, timerKey int64) (runtime.Timer, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	timer, ok := mem.timers[timerKey]
	if !ok {
		return timer, storage.ErrNotFound
	}
	return timer, nil
}

func (mem *Storage) FindDueTimers(ctx context.Context, until time.Time) ([]runtime.Timer, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.Timer{}
	for _, timer := range mem.timers {
		if !timer.DueAt.After(until) {
			res = append(res, timer)
		}
	}
	sortTimers(res)
	return res, nil
}

func (mem *Storage) FindProcessInstanceTimers(ctx context.Context, processInstanceKey int64) ([]runtime.Timer, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.Timer{}
	for _, timer := range mem.timers {
		if timer.ProcessInstanceKey == processInstanceKey {
			res = append(res, timer)
		}
	}
	sortTimers(res)
	return res, nil
}

func sortTimers(timers []runtime.Timer) {
	slices.SortFunc(timers, func(a, b runtime.Timer) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
}

var _ storage.IncidentStorageReader = &Storage{}

func (mem *Storage) FindIncidentByKey(ctx context.Context, incidentKey int64) (runtime.Incident, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	incident, ok := mem.incidents[incidentKey]
	if !ok {
		return incident, storage.ErrNotFound
	}
	return incident, nil
}

func (mem *Storage) FindProcessInstanceIncidents(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := []runtime.Incident{}
	for _, incident := range mem.incidents {
		if incident.ProcessInstanceKey == processInstanceKey {
			res = append(res, incident)
		}
	}
	slices.SortFunc(res, func(a, b runtime.Incident) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return res, nil
}
