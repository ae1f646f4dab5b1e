// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package embedded runs a complete BPMN engine inside the calling process.
// It owns the clock, the record log, the state, the exporters and the command client
// and gives them a single Start/Stop lifecycle.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	"github.com/pbinitiative/zenbpm-embedded/pkg/client"
	"github.com/pbinitiative/zenbpm-embedded/pkg/clock"
	"github.com/pbinitiative/zenbpm-embedded/pkg/exporter"
	"github.com/pbinitiative/zenbpm-embedded/pkg/exporter/sqlite"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage/inmemory"
)

const journalExporterName = "journal"

var (
	ErrNotStarted            = errors.New("embedded engine is not started")
	ErrAlreadyStarted        = errors.New("embedded engine is already started")
	ErrClockNotControlled    = errors.New("the engine clock can't be controlled, use WithControlledClock")
	ErrDuplicateExporterName = errors.New("exporter name is already used")
)

// Engine is not usable before Start. After Stop it can be started again,
// it then starts from an empty log unless a journal is configured.
type Engine struct {
	options options
	logger  hclog.Logger

	mu         sync.RWMutex
	running    bool
	controlled *clock.Controlled
	log        *record.Log
	state      *inmemory.Storage
	bpmn       *bpmn.Engine
	client     *client.Client
	exporters  *exporter.Adapter
}

func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	names := map[string]struct{}{journalExporterName: {}}
	for _, e := range o.exporters {
		if _, ok := names[e.name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExporterName, e.name)
		}
		names[e.name] = struct{}{}
	}
	if o.name == "" {
		o.name = "embedded-" + uuid.NewString()
	}
	return &Engine{
		options: o,
		logger:  o.logger.Named(o.name),
	}, nil
}

// Start creates the clock, log and state and starts the command intake, the timers and the exporters.
// With a journal the log is restored from it and the state is replayed before anything else happens.
func (e *Engine) Start(ctx context.Context) (retErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyStarted
	}

	log := record.NewLog()
	state := inmemory.NewStorage()
	var journal *sqlite.Journal
	if e.options.journalPath != "" {
		var err error
		journal, log, state, err = e.restore(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if retErr != nil {
				_ = journal.Close(ctx)
			}
		}()
	}

	var engineClock clock.Clock = clock.System{}
	var controlled *clock.Controlled
	if e.options.controlledClock {
		start := e.options.clockStart
		if last, ok := log.Get(log.LastPosition()); ok && last.Timestamp.After(start) {
			start = last.Timestamp
		}
		controlled = clock.NewControlled(start)
		engineClock = controlled
	}

	engineOptions := []bpmn.EngineOption{
		bpmn.EngineWithName(e.options.name),
		bpmn.EngineWithClock(engineClock),
		bpmn.EngineWithLog(log),
		bpmn.EngineWithStorage(state),
		bpmn.EngineWithLogger(e.logger.Named("bpmn-engine")),
		bpmn.EngineWithTimerPollInterval(e.options.timerPollInterval),
		bpmn.EngineWithNodeId(e.options.nodeId),
	}
	if e.options.tracer != nil {
		engineOptions = append(engineOptions, bpmn.EngineWithTracer(e.options.tracer))
	}
	if e.options.metrics != nil {
		engineOptions = append(engineOptions, bpmn.EngineWithMetrics(e.options.metrics))
	}
	bpmnEngine, err := bpmn.NewEngine(engineOptions...)
	if err != nil {
		return fmt.Errorf("failed to create bpmn engine: %w", err)
	}

	adapterOptions := []exporter.AdapterOption{
		exporter.AdapterWithLogger(e.logger.Named("exporter")),
		exporter.AdapterWithBackoff(e.options.exportBackoff, e.options.exportMaxBackoff),
	}
	if e.options.exporterMetrics != nil {
		adapterOptions = append(adapterOptions, exporter.AdapterWithMetrics(e.options.exporterMetrics))
	}
	adapter, err := exporter.NewAdapter(log, adapterOptions...)
	if err != nil {
		return fmt.Errorf("failed to create exporter adapter: %w", err)
	}
	if journal != nil {
		if err := adapter.Register(journalExporterName, journal); err != nil {
			return err
		}
	}
	for _, registration := range e.options.exporters {
		if err := adapter.Register(registration.name, registration.exporter); err != nil {
			return err
		}
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	if err := bpmnEngine.Start(ctx); err != nil {
		return errors.Join(err, adapter.Stop(ctx))
	}

	e.controlled = controlled
	e.log = log
	e.state = state
	e.bpmn = bpmnEngine
	e.client = client.New(bpmnEngine).WithLogger(client.HclogLogger{Logger: e.logger.Named("client")})
	e.exporters = adapter
	e.running = true
	e.logger.Info("embedded engine started", "records", log.LastPosition(), "controlledClock", controlled != nil)
	return nil
}

func (e *Engine) restore(ctx context.Context) (*sqlite.Journal, *record.Log, *inmemory.Storage, error) {
	journal, err := sqlite.NewFromPath(e.options.journalPath)
	if err != nil {
		return nil, nil, nil, err
	}
	fail := func(err error) (*sqlite.Journal, *record.Log, *inmemory.Storage, error) {
		_ = journal.Close(ctx)
		return nil, nil, nil, err
	}
	if err := journal.Open(ctx); err != nil {
		return fail(err)
	}
	records, err := journal.Load(ctx)
	if err != nil {
		return fail(err)
	}
	log, err := record.NewLogFrom(records)
	if err != nil {
		return fail(fmt.Errorf("journal %s is corrupted: %w", e.options.journalPath, err))
	}
	state, err := inmemory.Replay(ctx, records)
	if err != nil {
		return fail(fmt.Errorf("failed to replay journal %s: %w", e.options.journalPath, err))
	}
	e.logger.Debug("journal restored", "path", e.options.journalPath, "records", len(records))
	return journal, log, state, nil
}

// Stop drains in-flight commands, closes workers and timers, exports what is left and closes the exporters.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	err := errors.Join(
		e.bpmn.Stop(ctx),
		e.exporters.Stop(ctx),
	)
	e.logger.Info("embedded engine stopped", "records", e.log.LastPosition())
	return err
}

func (e *Engine) Name() string {
	return e.options.name
}

func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Client sends commands to the running engine, nil before the first Start
func (e *Engine) Client() *client.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// BpmnEngine exposes the execution engine for queries, nil before the first Start
func (e *Engine) BpmnEngine() *bpmn.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bpmn
}

// Records returns the records appended so far
func (e *Engine) Records() record.Records {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.log == nil {
		return record.Records{}
	}
	return e.log.Records()
}

// StreamFrom tails the record log from position, the caller closes the stream
func (e *Engine) StreamFrom(position int64) (*record.Stream, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.log == nil {
		return nil, ErrNotStarted
	}
	return e.log.StreamFrom(position), nil
}

func (e *Engine) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.bpmn == nil {
		return time.Now()
	}
	return e.bpmn.Clock().Now()
}

// IncreaseTime advances the controlled clock, all timers due by then fired when it returns
func (e *Engine) IncreaseTime(d time.Duration) (time.Time, error) {
	controlled, err := e.controlledClock()
	if err != nil {
		return time.Time{}, err
	}
	return controlled.IncreaseTime(d)
}

// SetTime moves the controlled clock to t, all timers due by then fired when it returns
func (e *Engine) SetTime(t time.Time) error {
	controlled, err := e.controlledClock()
	if err != nil {
		return err
	}
	return controlled.SetTime(t)
}

func (e *Engine) controlledClock() (*clock.Controlled, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return nil, ErrNotStarted
	}
	if e.controlled == nil {
		return nil, ErrClockNotControlled
	}
	return e.controlled, nil
}

// Flush waits until every exporter received the records appended so far
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.RLock()
	adapter := e.exporters
	e.mu.RUnlock()
	if adapter == nil {
		return ErrNotStarted
	}
	return adapter.Flush(ctx)
}

// Snapshot copies the materialized state, a replay of Records yields an equal one
func (e *Engine) Snapshot() (inmemory.Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return inmemory.Snapshot{}, ErrNotStarted
	}
	return e.state.Snapshot(), nil
}

type Status struct {
	Name              string           `json:"name"`
	Running           bool             `json:"running"`
	Now               time.Time        `json:"now"`
	ControlledClock   bool             `json:"controlledClock"`
	LastPosition      int64            `json:"lastPosition"`
	ExportedPositions map[string]int64 `json:"exportedPositions"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := Status{
		Name:              e.options.name,
		Running:           e.running,
		Now:               time.Now(),
		ControlledClock:   e.controlled != nil,
		ExportedPositions: map[string]int64{},
	}
	if e.bpmn != nil {
		status.Now = e.bpmn.Clock().Now()
	}
	if e.log != nil {
		status.LastPosition = e.log.LastPosition()
	}
	if e.exporters != nil {
		status.ExportedPositions = e.exporters.ExportedPositions()
	}
	return status
}
