package bpmn20

import (
	"errors"
	"fmt"
	"strings"

	"github.com/senseyeio/duration"
)

// tolerated process children which carry no execution semantics
var ignoredElements = map[string]struct{}{
	"extensionElements":  {},
	"laneSet":            {},
	"textAnnotation":     {},
	"association":        {},
	"dataObject":         {},
	"dataStoreReference": {},
}

// Validate checks that the process only uses supported elements and that its graph is consistent.
// All problems are reported at once.
func (definitions *TDefinitions) Validate() error {
	p := &definitions.Process
	p.buildIndex()

	var errs []error
	if strings.TrimSpace(p.Id) == "" {
		errs = append(errs, errors.New("process id must not be empty"))
	}
	for _, u := range p.Unsupported {
		if _, ok := ignoredElements[u.XMLName.Local]; ok {
			continue
		}
		errs = append(errs, fmt.Errorf("element %q with id %q is not supported", u.XMLName.Local, u.Id))
	}
	if len(p.StartEvents) != 1 {
		errs = append(errs, fmt.Errorf("process %q must have exactly one start event, found %d", p.Id, len(p.StartEvents)))
	}

	seen := map[string]struct{}{}
	checkId := func(kind string, id string) {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("%s without id", kind))
			return
		}
		if _, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("duplicate element id %q", id))
		}
		seen[id] = struct{}{}
	}
	for _, n := range p.FlowNodes() {
		checkId(string(n.GetType()), n.GetId())
	}
	for _, f := range p.SequenceFlows {
		checkId(string(ElementTypeSequenceFlow), f.Id)
		if _, ok := p.index.nodes[f.SourceRef]; !ok {
			errs = append(errs, fmt.Errorf("sequence flow %q references unknown source %q", f.Id, f.SourceRef))
		}
		if _, ok := p.index.nodes[f.TargetRef]; !ok {
			errs = append(errs, fmt.Errorf("sequence flow %q references unknown target %q", f.Id, f.TargetRef))
		}
	}

	for _, n := range p.FlowNodes() {
		errs = append(errs, validateNode(p, n)...)
	}
	return errors.Join(errs...)
}

func validateNode(p *TProcess, n FlowNode) []error {
	var errs []error
	id := n.GetId()
	incoming, outgoing := p.IncomingFlows(id), p.OutgoingFlows(id)
	if n.GetType() != ElementTypeStartEvent && len(incoming) == 0 {
		errs = append(errs, fmt.Errorf("element %q is not reachable, it has no incoming sequence flow", id))
	}
	if n.GetType() != ElementTypeEndEvent && len(outgoing) == 0 {
		errs = append(errs, fmt.Errorf("element %q has no outgoing sequence flow", id))
	}

	switch e := n.(type) {
	case *TStartEvent:
		if len(incoming) > 0 {
			errs = append(errs, fmt.Errorf("start event %q must not have incoming sequence flows", id))
		}
	case *TEndEvent:
		if len(outgoing) > 0 {
			errs = append(errs, fmt.Errorf("end event %q must not have outgoing sequence flows", id))
		}
	case *TServiceTask:
		if strings.TrimSpace(e.GetTaskType()) == "" {
			errs = append(errs, fmt.Errorf("service task %q has no job type", id))
		}
		if _, err := e.TaskDefinition.GetRetries(); err != nil {
			errs = append(errs, fmt.Errorf("service task %q: %w", id, err))
		}
	case *TIntermediateCatchEvent:
		if e.MessageEventDefinition != nil {
			errs = append(errs, fmt.Errorf("intermediate catch event %q: message events are not supported", id))
		}
		if e.TimerEventDefinition == nil {
			errs = append(errs, fmt.Errorf("intermediate catch event %q has no timer definition", id))
			break
		}
		d := strings.TrimSpace(e.TimerEventDefinition.TimeDuration.Text)
		if d == "" {
			errs = append(errs, fmt.Errorf("timer event %q has no duration", id))
		} else if !strings.HasPrefix(d, "=") {
			if _, err := duration.ParseISO8601(d); err != nil {
				errs = append(errs, fmt.Errorf("timer event %q has invalid duration %q: %w", id, d, err))
			}
		}
	case *TExclusiveGateway:
		if e.DefaultFlowId != "" {
			found := false
			for _, f := range outgoing {
				if f.Id == e.DefaultFlowId {
					found = true
					if f.GetConditionExpression() != "" {
						errs = append(errs, fmt.Errorf("default flow %q of gateway %q must not have a condition", f.Id, id))
					}
				}
			}
			if !found {
				errs = append(errs, fmt.Errorf("default flow %q is not an outgoing flow of gateway %q", e.DefaultFlowId, id))
			}
		}
	case *TParallelGateway:
		for _, f := range outgoing {
			if f.GetConditionExpression() != "" {
				errs = append(errs, fmt.Errorf("outgoing flow %q of parallel gateway %q must not have a condition", f.Id, id))
			}
		}
	}
	return errs
}
