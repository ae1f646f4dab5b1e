// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package builder creates executable process definitions in code.
//
//	definitions, err := builder.CreateExecutableProcess("process").
//		StartEvent().
//		ServiceTask("task-1").JobType("test").
//		EndEvent().
//		Done()
package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/extensions"
)

type pendingFlow struct {
	id        string
	condition string
	isDefault bool
}

// ProcessBuilder appends elements after the current element and connects them with sequence flows.
type ProcessBuilder struct {
	definitions *bpmn20.TDefinitions
	current     string
	next        pendingFlow
	counters    map[string]int
	errs        []error
}

func CreateExecutableProcess(processId string) *ProcessBuilder {
	return &ProcessBuilder{
		definitions: &bpmn20.TDefinitions{
			TBaseElement: bpmn20.TBaseElement{Id: "definitions_" + processId},
			Process: bpmn20.TProcess{
				TFlowElement: bpmn20.TFlowElement{TBaseElement: bpmn20.TBaseElement{Id: processId}},
				IsExecutable: true,
			},
			Exporter: "zenbpm-embedded",
		},
		counters: map[string]int{},
	}
}

func (b *ProcessBuilder) Name(name string) *ProcessBuilder {
	b.definitions.Process.Name = name
	return b
}

func (b *ProcessBuilder) StartEvent(id ...string) *ProcessBuilder {
	el := bpmn20.TStartEvent{TFlowNode: b.flowNode("startEvent", id)}
	b.definitions.Process.StartEvents = append(b.definitions.Process.StartEvents, el)
	return b.connect(el.Id)
}

func (b *ProcessBuilder) EndEvent(id ...string) *ProcessBuilder {
	el := bpmn20.TEndEvent{TFlowNode: b.flowNode("endEvent", id)}
	b.definitions.Process.EndEvents = append(b.definitions.Process.EndEvents, el)
	return b.connect(el.Id)
}

func (b *ProcessBuilder) ServiceTask(id ...string) *ProcessBuilder {
	el := bpmn20.TServiceTask{TFlowNode: b.flowNode("serviceTask", id)}
	b.definitions.Process.ServiceTasks = append(b.definitions.Process.ServiceTasks, el)
	return b.connect(el.Id)
}

func (b *ProcessBuilder) IntermediateCatchEvent(id ...string) *ProcessBuilder {
	el := bpmn20.TIntermediateCatchEvent{TFlowNode: b.flowNode("intermediateCatchEvent", id)}
	b.definitions.Process.IntermediateCatchEvents = append(b.definitions.Process.IntermediateCatchEvents, el)
	return b.connect(el.Id)
}

func (b *ProcessBuilder) ExclusiveGateway(id ...string) *ProcessBuilder {
	el := bpmn20.TExclusiveGateway{TFlowNode: b.flowNode("exclusiveGateway", id)}
	b.definitions.Process.ExclusiveGateways = append(b.definitions.Process.ExclusiveGateways, el)
	return b.connect(el.Id)
}

func (b *ProcessBuilder) ParallelGateway(id ...string) *ProcessBuilder {
	el := bpmn20.TParallelGateway{TFlowNode: b.flowNode("parallelGateway", id)}
	b.definitions.Process.ParallelGateways = append(b.definitions.Process.ParallelGateways, el)
	return b.connect(el.Id)
}

// JobType sets the job type of the current service task.
func (b *ProcessBuilder) JobType(jobType string) *ProcessBuilder {
	if task := b.currentServiceTask("JobType"); task != nil {
		task.TaskDefinition.TypeName = jobType
	}
	return b
}

func (b *ProcessBuilder) JobRetries(retries int) *ProcessBuilder {
	if task := b.currentServiceTask("JobRetries"); task != nil {
		task.TaskDefinition.Retries = fmt.Sprintf("%d", retries)
	}
	return b
}

// InputExpression maps the FEEL expression to a variable local to the current service task.
func (b *ProcessBuilder) InputExpression(expression string, target string) *ProcessBuilder {
	if task := b.currentServiceTask("InputExpression"); task != nil {
		task.Input = append(task.Input, extensions.TIoMapping{Source: asExpression(expression), Target: target})
	}
	return b
}

// OutputExpression maps the FEEL expression to a process variable when the current element completes.
func (b *ProcessBuilder) OutputExpression(expression string, target string) *ProcessBuilder {
	mapping := extensions.TIoMapping{Source: asExpression(expression), Target: target}
	p := &b.definitions.Process
	for i := range p.ServiceTasks {
		if p.ServiceTasks[i].Id == b.current {
			p.ServiceTasks[i].Output = append(p.ServiceTasks[i].Output, mapping)
			return b
		}
	}
	for i := range p.IntermediateCatchEvents {
		if p.IntermediateCatchEvents[i].Id == b.current {
			p.IntermediateCatchEvents[i].Output = append(p.IntermediateCatchEvents[i].Output, mapping)
			return b
		}
	}
	b.errs = append(b.errs, fmt.Errorf("OutputExpression: element %q does not support output mappings", b.current))
	return b
}

// TimerWithDuration sets an ISO-8601 duration on the current intermediate catch event.
func (b *ProcessBuilder) TimerWithDuration(isoDuration string) *ProcessBuilder {
	p := &b.definitions.Process
	for i := range p.IntermediateCatchEvents {
		if p.IntermediateCatchEvents[i].Id == b.current {
			p.IntermediateCatchEvents[i].TimerEventDefinition = &bpmn20.TTimerEventDefinition{
				TimeDuration: bpmn20.TExpression{Text: isoDuration},
			}
			return b
		}
	}
	b.errs = append(b.errs, fmt.Errorf("TimerWithDuration: element %q is not an intermediate catch event", b.current))
	return b
}

// SequenceFlowId names the next sequence flow.
func (b *ProcessBuilder) SequenceFlowId(id string) *ProcessBuilder {
	b.next.id = id
	return b
}

// ConditionExpression guards the next sequence flow with a FEEL condition.
func (b *ProcessBuilder) ConditionExpression(expression string) *ProcessBuilder {
	b.next.condition = asExpression(expression)
	return b
}

// DefaultFlow marks the next sequence flow as the default flow of the current exclusive gateway.
func (b *ProcessBuilder) DefaultFlow() *ProcessBuilder {
	b.next.isDefault = true
	return b
}

// MoveToNode continues building from an existing element.
func (b *ProcessBuilder) MoveToNode(id string) *ProcessBuilder {
	if _, ok := b.node(id); !ok {
		b.errs = append(b.errs, fmt.Errorf("MoveToNode: element %q does not exist", id))
		return b
	}
	b.current = id
	b.next = pendingFlow{}
	return b
}

// ConnectTo connects the current element to an existing element and continues from there.
func (b *ProcessBuilder) ConnectTo(id string) *ProcessBuilder {
	if _, ok := b.node(id); !ok {
		b.errs = append(b.errs, fmt.Errorf("ConnectTo: element %q does not exist", id))
		return b
	}
	return b.connect(id)
}

// Done validates and returns the definitions.
func (b *ProcessBuilder) Done() (*bpmn20.TDefinitions, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if err := b.definitions.Validate(); err != nil {
		return nil, err
	}
	return b.definitions, nil
}

// ToXML validates the definitions and renders them as BPMN XML.
func (b *ProcessBuilder) ToXML() ([]byte, error) {
	definitions, err := b.Done()
	if err != nil {
		return nil, err
	}
	return bpmn20.Marshal(definitions)
}

func (b *ProcessBuilder) flowNode(kind string, id []string) bpmn20.TFlowNode {
	elementId := ""
	if len(id) > 0 {
		elementId = id[0]
	} else {
		elementId = b.generateId(kind)
	}
	return bpmn20.TFlowNode{TFlowElement: bpmn20.TFlowElement{TBaseElement: bpmn20.TBaseElement{Id: elementId}}}
}

func (b *ProcessBuilder) generateId(kind string) string {
	b.counters[kind]++
	return fmt.Sprintf("%s_%d", kind, b.counters[kind])
}

func (b *ProcessBuilder) connect(target string) *ProcessBuilder {
	if b.current != "" {
		flow := bpmn20.TSequenceFlow{
			SourceRef: b.current,
			TargetRef: target,
		}
		flow.Id = b.next.id
		if flow.Id == "" {
			flow.Id = b.generateId("flow")
		}
		if b.next.condition != "" {
			flow.ConditionExpression = &bpmn20.TExpression{Text: b.next.condition}
		}
		if b.next.isDefault {
			b.setDefaultFlow(b.current, flow.Id)
		}
		b.definitions.Process.SequenceFlows = append(b.definitions.Process.SequenceFlows, flow)
	}
	b.current = target
	b.next = pendingFlow{}
	return b
}

func (b *ProcessBuilder) setDefaultFlow(gatewayId string, flowId string) {
	p := &b.definitions.Process
	for i := range p.ExclusiveGateways {
		if p.ExclusiveGateways[i].Id == gatewayId {
			p.ExclusiveGateways[i].DefaultFlowId = flowId
			return
		}
	}
	b.errs = append(b.errs, fmt.Errorf("DefaultFlow: element %q is not an exclusive gateway", gatewayId))
}

func (b *ProcessBuilder) currentServiceTask(op string) *bpmn20.TServiceTask {
	p := &b.definitions.Process
	for i := range p.ServiceTasks {
		if p.ServiceTasks[i].Id == b.current {
			return &p.ServiceTasks[i]
		}
	}
	b.errs = append(b.errs, fmt.Errorf("%s: element %q is not a service task", op, b.current))
	return nil
}

func (b *ProcessBuilder) node(id string) (bpmn20.FlowNode, bool) {
	// the index is stale while building, look the element up directly
	p := &b.definitions.Process
	for i := range p.StartEvents {
		if p.StartEvents[i].Id == id {
			return &p.StartEvents[i], true
		}
	}
	for i := range p.EndEvents {
		if p.EndEvents[i].Id == id {
			return &p.EndEvents[i], true
		}
	}
	for i := range p.ServiceTasks {
		if p.ServiceTasks[i].Id == id {
			return &p.ServiceTasks[i], true
		}
	}
	for i := range p.IntermediateCatchEvents {
		if p.IntermediateCatchEvents[i].Id == id {
			return &p.IntermediateCatchEvents[i], true
		}
	}
	for i := range p.ExclusiveGateways {
		if p.ExclusiveGateways[i].Id == id {
			return &p.ExclusiveGateways[i], true
		}
	}
	for i := range p.ParallelGateways {
		if p.ParallelGateways[i].Id == id {
			return &p.ParallelGateways[i], true
		}
	}
	return nil, false
}

func asExpression(expression string) string {
	expression = strings.TrimSpace(expression)
	if strings.HasPrefix(expression, "=") {
		return expression
	}
	return "=" + expression
}
