package runtime

import (
	"maps"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
)

type ProcessDefinition struct {
	BpmnProcessId    string               // The ID as defined in the BPMN file
	Version          int32                // A version of the process, default=1, incremented, when another process with the same ID is loaded
	Key              int64                // The engines key for this given process with version
	Definitions      *bpmn20.TDefinitions // parsed file content
	BpmnData         []byte               // the raw source data
	BpmnResourceName string               // some name for the resource
	BpmnChecksum     string               // internal checksum to identify different versions
	DeployedAt       time.Time
}

type ProcessInstanceState string

const (
	ProcessInstanceStateActive     ProcessInstanceState = "ACTIVE"
	ProcessInstanceStateCompleted  ProcessInstanceState = "COMPLETED"
	ProcessInstanceStateTerminated ProcessInstanceState = "TERMINATED"
	// ProcessInstanceStateFailed marks an instance with an unresolved incident.
	ProcessInstanceStateFailed ProcessInstanceState = "FAILED"
)

type ProcessInstance struct {
	Key                  int64
	ProcessDefinitionKey int64
	BpmnProcessId        string
	Version              int32
	State                ProcessInstanceState
	Variables            map[string]any
	CreatedAt            time.Time
}

func (pi ProcessInstance) IsTerminal() bool {
	return pi.State == ProcessInstanceStateCompleted || pi.State == ProcessInstanceStateTerminated
}

func (pi ProcessInstance) Clone() ProcessInstance {
	pi.Variables = maps.Clone(pi.Variables)
	return pi
}

type TokenState string

const (
	TokenStateActivating TokenState = "ACTIVATING"
	TokenStateActivated  TokenState = "ACTIVATED"
	TokenStateCompleting TokenState = "COMPLETING"
)

// ExecutionToken is one thread of control of a process instance, it is the element instance currently holding it.
type ExecutionToken struct {
	Key                int64
	ProcessInstanceKey int64
	ElementId          string
	ElementType        bpmn20.ElementType
	State              TokenState
	// Variables are local to the element instance
	Variables map[string]any
}

func (t ExecutionToken) Clone() ExecutionToken {
	t.Variables = maps.Clone(t.Variables)
	return t
}

type JobState string

const (
	JobStateCreated   JobState = "CREATED"
	JobStateActivated JobState = "ACTIVATED"
	JobStateFailed    JobState = "FAILED"
)

type Job struct {
	Key                  int64
	Type                 string
	ElementId            string
	ElementInstanceKey   int64
	ProcessInstanceKey   int64
	ProcessDefinitionKey int64
	BpmnProcessId        string
	State                JobState
	Retries              int32
	Worker               string
	ErrorMessage         string
	Variables            map[string]any
	CreatedAt            time.Time
	// Position of the record creating the job, orders jobs of one type
	Position int64
}

// IsActivatable reports whether a worker may claim the job.
func (j Job) IsActivatable() bool {
	switch j.State {
	case JobStateCreated:
		return true
	case JobStateFailed:
		return j.Retries > 0
	}
	return false
}

func (j Job) Clone() Job {
	j.Variables = maps.Clone(j.Variables)
	return j
}

type Timer struct {
	Key                  int64
	ElementId            string
	ElementInstanceKey   int64
	ProcessInstanceKey   int64
	ProcessDefinitionKey int64
	DueAt                time.Time
	CreatedAt            time.Time
	Position             int64
}

type Incident struct {
	Key                  int64
	ErrorType            record.ErrorType
	Message              string
	ElementId            string
	ElementInstanceKey   int64
	ProcessInstanceKey   int64
	ProcessDefinitionKey int64
	JobKey               int64
	CreatedAt            time.Time
}
