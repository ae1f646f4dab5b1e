// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import (
	"encoding/xml"
	"strings"
)

const (
	NamespaceModel = "http://www.omg.org/spec/BPMN/20100524/MODEL"
	NamespaceZeebe = "http://camunda.org/schema/zeebe/1.0"
)

type ElementType string

const (
	ElementTypeProcess      ElementType = "PROCESS"
	ElementTypeSequenceFlow ElementType = "SEQUENCE_FLOW"
)

// All BPMN elements that inherit from the BaseElement will have the capability,
// through the Documentation element, to have one (1) or more text descriptions
// of that element.
type TDocumentation struct {
	Text   string `xml:",chardata"`
	Format string `xml:"textFormat,attr,omitempty"`
}

type TBaseElement struct {
	Id            string           `xml:"id,attr"`
	Documentation []TDocumentation `xml:"documentation,omitempty"`
}

func (t TBaseElement) GetId() string {
	return t.Id
}

type BaseElement interface {
	GetId() string
}

type TDefinitions struct {
	XMLName xml.Name `xml:"definitions"`
	TBaseElement
	Xmlns           string   `xml:"xmlns,attr,omitempty"`
	XmlnsZeebe      string   `xml:"xmlns:zeebe,attr,omitempty"`
	Name            string   `xml:"name,attr,omitempty"`
	TargetNamespace string   `xml:"targetNamespace,attr,omitempty"`
	Exporter        string   `xml:"exporter,attr,omitempty"`
	Process         TProcess `xml:"process"`
}

type FlowElement interface {
	BaseElement
	GetName() string
	GetType() ElementType
}

type TFlowElement struct {
	TBaseElement
	Name string `xml:"name,attr,omitempty"`
}

func (fe TFlowElement) GetName() string {
	return fe.Name
}

type TSequenceFlow struct {
	TFlowElement
	SourceRef           string       `xml:"sourceRef,attr"`
	TargetRef           string       `xml:"targetRef,attr"`
	ConditionExpression *TExpression `xml:"conditionExpression,omitempty"`
}

func (sf TSequenceFlow) GetType() ElementType {
	return ElementTypeSequenceFlow
}

// GetConditionExpression returns the trimmed condition or an empty string when the flow is unconditional.
func (sf TSequenceFlow) GetConditionExpression() string {
	if sf.ConditionExpression == nil {
		return ""
	}
	return strings.TrimSpace(sf.ConditionExpression.Text)
}

// FlowNode is the tagged variant every executable element implements, GetType is the tag.
type FlowNode interface {
	FlowElement
}

type TFlowNode struct {
	TFlowElement
	IncomingAssociation []string `xml:"incoming,omitempty"`
	OutgoingAssociation []string `xml:"outgoing,omitempty"`
}

type TExpression struct {
	Text string `xml:",chardata"`
}

// TUnsupportedElement captures any process child the engine can not execute.
type TUnsupportedElement struct {
	XMLName xml.Name
	Id      string `xml:"id,attr"`
}
