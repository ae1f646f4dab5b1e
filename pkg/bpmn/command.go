package bpmn

import (
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
)

// command is one step of a token moving through the process, processed in FIFO order by Engine.run
type command interface {
}

// ---------------------------------------------------------------------

type activateElementCommand struct {
	element bpmn20.FlowNode
}

// ---------------------------------------------------------------------

type executeElementCommand struct {
	token runtime.ExecutionToken
}

// ---------------------------------------------------------------------

type completeElementCommand struct {
	token runtime.ExecutionToken
	// variables produced by the element, e.g. job completion variables
	variables map[string]any
	flows     []*bpmn20.TSequenceFlow
}

// ---------------------------------------------------------------------

type flowTransitionCommand struct {
	sequenceFlow *bpmn20.TSequenceFlow
}
