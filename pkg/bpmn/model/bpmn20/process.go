// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

type TFlowElementsContainer struct {
	StartEvents             []TStartEvent             `xml:"startEvent,omitempty"`
	EndEvents               []TEndEvent               `xml:"endEvent,omitempty"`
	ServiceTasks            []TServiceTask            `xml:"serviceTask,omitempty"`
	IntermediateCatchEvents []TIntermediateCatchEvent `xml:"intermediateCatchEvent,omitempty"`
	ExclusiveGateways       []TExclusiveGateway       `xml:"exclusiveGateway,omitempty"`
	ParallelGateways        []TParallelGateway        `xml:"parallelGateway,omitempty"`
	SequenceFlows           []TSequenceFlow           `xml:"sequenceFlow,omitempty"`
	Unsupported             []TUnsupportedElement     `xml:",any"`
}

type TProcess struct {
	TFlowElement
	TFlowElementsContainer
	IsExecutable bool `xml:"isExecutable,attr"`

	index *processIndex
}

type processIndex struct {
	nodes    map[string]FlowNode
	order    []FlowNode
	flows    map[string]*TSequenceFlow
	outgoing map[string][]*TSequenceFlow
	incoming map[string][]*TSequenceFlow
}

// buildIndex must run before the definition is shared between goroutines, Parse and Validate take care of that.
func (p *TProcess) buildIndex() {
	idx := &processIndex{
		nodes:    map[string]FlowNode{},
		flows:    map[string]*TSequenceFlow{},
		outgoing: map[string][]*TSequenceFlow{},
		incoming: map[string][]*TSequenceFlow{},
	}
	add := func(n FlowNode) {
		idx.nodes[n.GetId()] = n
		idx.order = append(idx.order, n)
	}
	for i := range p.StartEvents {
		add(&p.StartEvents[i])
	}
	for i := range p.ServiceTasks {
		add(&p.ServiceTasks[i])
	}
	for i := range p.IntermediateCatchEvents {
		add(&p.IntermediateCatchEvents[i])
	}
	for i := range p.ExclusiveGateways {
		add(&p.ExclusiveGateways[i])
	}
	for i := range p.ParallelGateways {
		add(&p.ParallelGateways[i])
	}
	for i := range p.EndEvents {
		add(&p.EndEvents[i])
	}
	for i := range p.SequenceFlows {
		f := &p.SequenceFlows[i]
		idx.flows[f.Id] = f
		idx.outgoing[f.SourceRef] = append(idx.outgoing[f.SourceRef], f)
		idx.incoming[f.TargetRef] = append(idx.incoming[f.TargetRef], f)
	}
	p.index = idx
}

func (p *TProcess) ensureIndex() *processIndex {
	if p.index == nil {
		p.buildIndex()
	}
	return p.index
}

func (p *TProcess) GetFlowNodeById(id string) (FlowNode, bool) {
	n, ok := p.ensureIndex().nodes[id]
	return n, ok
}

func (p *TProcess) GetSequenceFlowById(id string) (*TSequenceFlow, bool) {
	f, ok := p.ensureIndex().flows[id]
	return f, ok
}

// FlowNodes returns all executable nodes, start events first.
func (p *TProcess) FlowNodes() []FlowNode {
	return p.ensureIndex().order
}

// OutgoingFlows returns the outgoing sequence flows of a node in document order.
func (p *TProcess) OutgoingFlows(nodeId string) []*TSequenceFlow {
	return p.ensureIndex().outgoing[nodeId]
}

func (p *TProcess) IncomingFlows(nodeId string) []*TSequenceFlow {
	return p.ensureIndex().incoming[nodeId]
}

func (p *TProcess) GetStartEvent() (*TStartEvent, bool) {
	if len(p.StartEvents) == 0 {
		return nil, false
	}
	return &p.StartEvents[0], true
}
