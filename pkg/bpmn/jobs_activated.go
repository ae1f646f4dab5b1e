package bpmn

import (
	"maps"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
)

// ActivatedJob is handed to job workers.
// Don't forget to complete or fail it when your worker is done with it, an activated job is never redelivered otherwise.
type ActivatedJob struct {
	Key                      int64
	Type                     string
	ProcessInstanceKey       int64
	BpmnProcessId            string
	ProcessDefinitionVersion int32
	ProcessDefinitionKey     int64
	ElementId                string
	ElementInstanceKey       int64
	Retries                  int32
	Worker                   string
	CreatedAt                time.Time
	// Variables visible to the job at activation time
	Variables map[string]any
}

// Variable from the process instance's variable context
func (job ActivatedJob) Variable(key string) any {
	return job.Variables[key]
}

func newActivatedJob(job runtime.Job, version int32, variables map[string]any) ActivatedJob {
	return ActivatedJob{
		Key:                      job.Key,
		Type:                     job.Type,
		ProcessInstanceKey:       job.ProcessInstanceKey,
		BpmnProcessId:            job.BpmnProcessId,
		ProcessDefinitionVersion: version,
		ProcessDefinitionKey:     job.ProcessDefinitionKey,
		ElementId:                job.ElementId,
		ElementInstanceKey:       job.ElementInstanceKey,
		Retries:                  job.Retries,
		Worker:                   job.Worker,
		CreatedAt:                job.CreatedAt,
		Variables:                maps.Clone(variables),
	}
}
