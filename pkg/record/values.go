package record

import (
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
)

type ProcessMetadata struct {
	BpmnProcessId        string `json:"bpmnProcessId"`
	Version              int32  `json:"version"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	ResourceName         string `json:"resourceName"`
	Checksum             string `json:"checksum"`
	// IsDuplicate is set when the resource was already deployed and no new version was created.
	IsDuplicate bool `json:"isDuplicate"`
}

type DeploymentValue struct {
	ResourceNames     []string          `json:"resourceNames"`
	ProcessesMetadata []ProcessMetadata `json:"processesMetadata"`
}

func (DeploymentValue) ValueType() ValueType { return ValueTypeDeployment }

type ProcessValue struct {
	ProcessMetadata
	Resource []byte `json:"resource"`
}

func (ProcessValue) ValueType() ValueType { return ValueTypeProcess }

type ProcessInstanceValue struct {
	BpmnProcessId        string             `json:"bpmnProcessId"`
	Version              int32              `json:"version"`
	ProcessDefinitionKey int64              `json:"processDefinitionKey"`
	ProcessInstanceKey   int64              `json:"processInstanceKey"`
	ElementId            string             `json:"elementId"`
	BpmnElementType      bpmn20.ElementType `json:"bpmnElementType"`
	// FlowScopeKey is the key of the enclosing element instance, -1 for the process itself.
	FlowScopeKey int64 `json:"flowScopeKey"`
}

func (ProcessInstanceValue) ValueType() ValueType { return ValueTypeProcessInstance }
func (v ProcessInstanceValue) GetProcessInstanceKey() int64 { return v.ProcessInstanceKey }

type ProcessInstanceCreationValue struct {
	BpmnProcessId        string         `json:"bpmnProcessId"`
	Version              int32          `json:"version"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	Variables            map[string]any `json:"variables"`
}

func (ProcessInstanceCreationValue) ValueType() ValueType { return ValueTypeProcessInstanceCreation }
func (v ProcessInstanceCreationValue) GetProcessInstanceKey() int64 { return v.ProcessInstanceKey }

type JobValue struct {
	Type                 string         `json:"type"`
	BpmnProcessId        string         `json:"bpmnProcessId"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	ElementId            string         `json:"elementId"`
	ElementInstanceKey   int64          `json:"elementInstanceKey"`
	Retries              int32          `json:"retries"`
	Worker               string         `json:"worker,omitempty"`
	ErrorMessage         string         `json:"errorMessage,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
}

func (JobValue) ValueType() ValueType { return ValueTypeJob }
func (v JobValue) GetProcessInstanceKey() int64 { return v.ProcessInstanceKey }

type TimerValue struct {
	ProcessDefinitionKey int64     `json:"processDefinitionKey"`
	ProcessInstanceKey   int64     `json:"processInstanceKey"`
	ElementInstanceKey   int64     `json:"elementInstanceKey"`
	TargetElementId      string    `json:"targetElementId"`
	DueDate              time.Time `json:"dueDate"`
}

func (TimerValue) ValueType() ValueType { return ValueTypeTimer }
func (v TimerValue) GetProcessInstanceKey() int64 { return v.ProcessInstanceKey }

type VariableValue struct {
	Name                 string `json:"name"`
	Value                any    `json:"value"`
	ScopeKey             int64  `json:"scopeKey"`
	ProcessInstanceKey   int64  `json:"processInstanceKey"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	BpmnProcessId        string `json:"bpmnProcessId"`
}

func (VariableValue) ValueType() ValueType { return ValueTypeVariable }
func (v VariableValue) GetProcessInstanceKey() int64 { return v.ProcessInstanceKey }

type ErrorType string

const (
	ErrorTypeExpressionEvaluation ErrorType = "EXPRESSION_EVALUATION"
	ErrorTypeJobNoRetries         ErrorType = "JOB_NO_RETRIES"
	ErrorTypeExecution            ErrorType = "EXECUTION"
)

type IncidentValue struct {
	ErrorType            ErrorType `json:"errorType"`
	ErrorMessage         string    `json:"errorMessage"`
	BpmnProcessId        string    `json:"bpmnProcessId"`
	ProcessDefinitionKey int64     `json:"processDefinitionKey"`
	ProcessInstanceKey   int64     `json:"processInstanceKey"`
	ElementId            string    `json:"elementId"`
	ElementInstanceKey   int64     `json:"elementInstanceKey"`
	JobKey               int64     `json:"jobKey,omitempty"`
}

func (IncidentValue) ValueType() ValueType { return ValueTypeIncident }
func (v IncidentValue) GetProcessInstanceKey() int64 { return v.ProcessInstanceKey }
