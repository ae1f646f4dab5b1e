package bpmn

import (
	"context"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
)

type startEventExecutor struct {
	element *bpmn20.TStartEvent
}

func (e startEventExecutor) execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]*bpmn20.TSequenceFlow, bool, error) {
	return run.process().OutgoingFlows(e.element.Id), false, nil
}

// endEventExecutor completes the token, the instance completes once no other token is left
type endEventExecutor struct {
	element *bpmn20.TEndEvent
}

func (e endEventExecutor) execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]*bpmn20.TSequenceFlow, bool, error) {
	return nil, false, nil
}

// timerCatchEventExecutor creates a timer and lets the token wait until the timer manager triggers it
type timerCatchEventExecutor struct {
	element *bpmn20.TIntermediateCatchEvent
}

func (e timerCatchEventExecutor) execute(ctx context.Context, engine *Engine, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken) ([]*bpmn20.TSequenceFlow, bool, error) {
	if e.element.TimerEventDefinition == nil {
		return nil, false, newEngineErrorf("intermediate catch event %s has no timer event definition", e.element.Id)
	}
	if err := engine.createTimer(ctx, batch, run, token, e.element); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}
