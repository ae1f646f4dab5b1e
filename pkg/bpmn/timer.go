// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
	"github.com/senseyeio/duration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (engine *Engine) createTimer(ctx context.Context, batch *engineBatch, run *instanceRun, token runtime.ExecutionToken, ice *bpmn20.TIntermediateCatchEvent) error {
	instance, err := engine.state.FindProcessInstanceByKey(ctx, run.instanceKey)
	if err != nil {
		return notFound(err, "process instance", run.instanceKey)
	}
	durationVal, err := findDurationValue(ice, instance.Variables)
	if err != nil {
		return err
	}
	dueAt := durationVal.Shift(engine.clock.Now())
	_, err = batch.write(ctx, engine.generateKey(), record.ValueTypeTimer, record.IntentCreated, record.TimerValue{
		ProcessDefinitionKey: run.definition.Key,
		ProcessInstanceKey:   run.instanceKey,
		ElementInstanceKey:   token.Key,
		TargetElementId:      ice.Id,
		DueDate:              dueAt,
	})
	if err != nil {
		return err
	}
	engine.timerManager.wake()
	return nil
}

// findDurationValue reads the ISO-8601 duration of a timer, an expression has to evaluate to such a duration
func findDurationValue(ice *bpmn20.TIntermediateCatchEvent, variables map[string]any) (duration.Duration, error) {
	durationStr := strings.TrimSpace(ice.TimerEventDefinition.TimeDuration.Text)
	if len(durationStr) == 0 {
		return duration.Duration{}, newEngineErrorf("Can't find 'timeDuration' value for INTERMEDIATE_CATCH_EVENT with id=%s", ice.Id)
	}
	if strings.HasPrefix(durationStr, "=") {
		evaluated, err := evaluateExpression(durationStr, variables)
		if err != nil {
			return duration.Duration{}, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Can't evaluate 'timeDuration' expression of element id=%s", ice.Id),
				Err: err,
			}
		}
		s, ok := evaluated.(string)
		if !ok {
			return duration.Duration{}, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("'timeDuration' expression of element id=%s returned %T instead of a duration", ice.Id, evaluated),
			}
		}
		durationStr = s
	}
	d, err := duration.ParseISO8601(durationStr)
	if err != nil {
		return duration.Duration{}, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Error parsing 'timeDuration' value %q of element id=%s", durationStr, ice.Id),
			Err: err,
		}
	}
	return d, nil
}

// fireDueTimers triggers every timer due at now, ordered by due date and creation.
// Triggered tokens may create new timers that are due already, so it loops until nothing is due.
func (engine *Engine) fireDueTimers(ctx context.Context, now time.Time) error {
	for {
		timers, err := engine.state.FindDueTimers(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to find timers due at %s: %w", now, err)
		}
		if len(timers) == 0 {
			return nil
		}
		for _, timer := range timers {
			if err := engine.triggerTimer(ctx, timer); err != nil {
				return err
			}
		}
	}
}

// triggerTimer completes the timer catch event of the timer and continues its token
func (engine *Engine) triggerTimer(ctx context.Context, timer runtime.Timer) (retErr error) {
	done, err := engine.enter()
	if err != nil {
		return err
	}
	defer done()

	ctx, timerSpan := engine.tracer.Start(ctx, fmt.Sprintf("timer:%s", timer.ElementId), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeTimerKey, timer.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, timer.ProcessInstanceKey),
	))
	defer func() {
		if retErr != nil {
			timerSpan.RecordError(retErr)
			timerSpan.SetStatus(codes.Error, retErr.Error())
		}
		timerSpan.End()
	}()

	engine.runningInstances.lockInstance(timer.ProcessInstanceKey)
	batch := engine.newEngineBatch()
	defer func() {
		engine.runningInstances.unlockInstance(timer.ProcessInstanceKey)
		batch.flush()
	}()

	// the instance may have been canceled in the meantime
	timerKey := timer.Key
	timer, err = engine.state.FindTimerByKey(ctx, timerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load timer %d: %w", timerKey, err)
	}
	run, _, err := engine.loadInstanceRun(ctx, timer.ProcessInstanceKey)
	if err != nil {
		return err
	}
	token, err := engine.state.GetTokenByKey(ctx, timer.ElementInstanceKey)
	if err != nil {
		return notFound(err, "element instance", timer.ElementInstanceKey)
	}

	_, err = batch.write(ctx, timer.Key, record.ValueTypeTimer, record.IntentTriggered, timerValue(timer))
	if err != nil {
		return err
	}
	engine.metrics.TimersTriggered.Add(ctx, 1)

	return engine.run(ctx, batch, run, []command{completeElementCommand{
		token: token,
		flows: run.process().OutgoingFlows(token.ElementId),
	}})
}

func timerValue(timer runtime.Timer) record.TimerValue {
	return record.TimerValue{
		ProcessDefinitionKey: timer.ProcessDefinitionKey,
		ProcessInstanceKey:   timer.ProcessInstanceKey,
		ElementInstanceKey:   timer.ElementInstanceKey,
		TargetElementId:      timer.ElementId,
		DueDate:              timer.DueAt,
	}
}
