package bpmn20

import "github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/extensions"

const (
	ElementTypeStartEvent             ElementType = "START_EVENT"
	ElementTypeEndEvent               ElementType = "END_EVENT"
	ElementTypeIntermediateCatchEvent ElementType = "INTERMEDIATE_CATCH_EVENT"
)

type TStartEvent struct {
	TFlowNode
}

func (startEvent TStartEvent) GetType() ElementType {
	return ElementTypeStartEvent
}

type TEndEvent struct {
	TFlowNode
}

func (endEvent TEndEvent) GetType() ElementType { return ElementTypeEndEvent }

type TIntermediateCatchEvent struct {
	TFlowNode
	TimerEventDefinition   *TTimerEventDefinition   `xml:"timerEventDefinition,omitempty"`
	MessageEventDefinition *TMessageEventDefinition `xml:"messageEventDefinition,omitempty"`
	// BPMN 2.0 Unorthodox elements. Part of the extensions elements
	Output []extensions.TIoMapping `xml:"extensionElements>ioMapping>output,omitempty"`
}

func (intermediateCatchEvent TIntermediateCatchEvent) GetType() ElementType {
	return ElementTypeIntermediateCatchEvent
}

func (intermediateCatchEvent TIntermediateCatchEvent) GetOutputMapping() []extensions.TIoMapping {
	return intermediateCatchEvent.Output
}

type TMessageEventDefinition struct {
	Id         string `xml:"id,attr,omitempty"`
	MessageRef string `xml:"messageRef,attr,omitempty"`
}

type TTimerEventDefinition struct {
	Id           string      `xml:"id,attr,omitempty"`
	TimeDuration TExpression `xml:"timeDuration"`
}
