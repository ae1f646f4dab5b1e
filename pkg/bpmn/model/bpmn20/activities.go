package bpmn20

import "github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/extensions"

const (
	ElementTypeServiceTask ElementType = "SERVICE_TASK"
)

// TaskElement is implemented by elements processed by external job workers.
type TaskElement interface {
	FlowNode
	GetTaskType() string
	GetTaskDefinition() extensions.TTaskDefinition
	GetInputMapping() []extensions.TIoMapping
	GetOutputMapping() []extensions.TIoMapping
}

type TServiceTask struct {
	TFlowNode
	// BPMN 2.0 Unorthodox elements. Part of the extensions elements
	TaskDefinition extensions.TTaskDefinition `xml:"extensionElements>taskDefinition"`
	Input          []extensions.TIoMapping    `xml:"extensionElements>ioMapping>input,omitempty"`
	Output         []extensions.TIoMapping    `xml:"extensionElements>ioMapping>output,omitempty"`
}

func (serviceTask TServiceTask) GetType() ElementType { return ElementTypeServiceTask }

func (serviceTask TServiceTask) GetTaskType() string {
	return serviceTask.TaskDefinition.TypeName
}

func (serviceTask TServiceTask) GetTaskDefinition() extensions.TTaskDefinition {
	return serviceTask.TaskDefinition
}

func (serviceTask TServiceTask) GetInputMapping() []extensions.TIoMapping  { return serviceTask.Input }
func (serviceTask TServiceTask) GetOutputMapping() []extensions.TIoMapping { return serviceTask.Output }
