package bpmn

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
)

// engineBatch collects the side effects of one command that must run after the instance lock was released
type engineBatch struct {
	engine   *Engine
	jobTypes map[string]struct{}
	outcomes []instanceOutcome
}

func (engine *Engine) newEngineBatch() *engineBatch {
	return &engineBatch{
		engine:   engine,
		jobTypes: map[string]struct{}{},
	}
}

// write appends a record and applies it to the state
func (batch *engineBatch) write(ctx context.Context, key int64, valueType record.ValueType, intent record.Intent, value record.Value) (record.Record, error) {
	return batch.engine.writeRecord(ctx, key, valueType, intent, value)
}

// jobCreated schedules a dispatch of the given job type
func (batch *engineBatch) jobCreated(jobType string) {
	batch.jobTypes[jobType] = struct{}{}
}

// instanceFinished schedules a resolution of the instance awaiters
func (batch *engineBatch) instanceFinished(outcome instanceOutcome) {
	batch.outcomes = append(batch.outcomes, outcome)
}

// flush must be called without holding any instance lock
func (batch *engineBatch) flush() {
	for _, outcome := range batch.outcomes {
		batch.engine.awaiters.resolve(outcome)
	}
	for _, jobType := range slices.Sorted(maps.Keys(batch.jobTypes)) {
		batch.engine.dispatcher.notify(jobType)
	}
	batch.outcomes = nil
	clear(batch.jobTypes)
}

func (engine *Engine) writeRecord(ctx context.Context, key int64, valueType record.ValueType, intent record.Intent, value record.Value) (record.Record, error) {
	engine.writeMu.Lock()
	defer engine.writeMu.Unlock()
	rec := engine.log.Append(record.Record{
		Key:       key,
		Timestamp: engine.clock.Now(),
		ValueType: valueType,
		Intent:    intent,
		Value:     value,
	})
	engine.metrics.RecordsWritten.Add(ctx, 1)
	if err := engine.state.Apply(ctx, rec); err != nil {
		engine.logger.Error("failed to apply record", "position", rec.Position, "valueType", rec.ValueType, "intent", rec.Intent, "err", err)
		return rec, fmt.Errorf("failed to apply record %d %s %s: %w", rec.Position, rec.ValueType, rec.Intent, err)
	}
	return rec, nil
}
