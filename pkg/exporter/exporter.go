// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package exporter streams the record log to external sinks.
// Every exporter gets all records in log order, a failed export is retried until it succeeds.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName   = "github.com/pbinitiative/zenbpm-embedded/pkg/exporter"
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

var ErrAdapterStarted = errors.New("exporter adapter already started")

type Exporter interface {
	Open(ctx context.Context) error
	Export(ctx context.Context, rec record.Record) error
	Close(ctx context.Context) error
}

// Resumer is implemented by exporters that keep what they exported, they continue after ExportedPosition
type Resumer interface {
	ExportedPosition(ctx context.Context) (int64, error)
}

type AdapterOption = func(*Adapter)

func AdapterWithLogger(logger hclog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func AdapterWithBackoff(initial time.Duration, maxBackoff time.Duration) AdapterOption {
	return func(a *Adapter) {
		if initial > 0 {
			a.initialBackoff = initial
		}
		if maxBackoff >= a.initialBackoff {
			a.maxBackoff = maxBackoff
		}
	}
}

func AdapterWithMetrics(metrics *otelPkg.ExporterMetrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = metrics
	}
}

// Adapter runs one goroutine per exporter tailing the record log
type Adapter struct {
	log            *record.Log
	logger         hclog.Logger
	metrics        *otelPkg.ExporterMetrics
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu        sync.Mutex
	exporters []*exporterRun
	started   bool
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	progressMu sync.Mutex
	progress   chan struct{} // closed and replaced whenever an exporter moved forward
}

type exporterRun struct {
	name     string
	exporter Exporter
	stream   *record.Stream
	exported atomic.Int64
}

func NewAdapter(log *record.Log, options ...AdapterOption) (*Adapter, error) {
	a := &Adapter{
		log:            log,
		logger:         hclog.Default().Named("exporter"),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		progress:       make(chan struct{}),
	}
	for _, option := range options {
		option(a)
	}
	if a.metrics == nil {
		metrics, err := otelPkg.NewExporterMetrics(otel.Meter(instrumentationName))
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter metrics: %w", err)
		}
		a.metrics = metrics
	}
	return a, nil
}

// Register adds an exporter, all exporters must be registered before Start
func (a *Adapter) Register(name string, exporter Exporter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAdapterStarted
	}
	for _, run := range a.exporters {
		if run.name == name {
			return fmt.Errorf("exporter %s is already registered", name)
		}
	}
	a.exporters = append(a.exporters, &exporterRun{name: name, exporter: exporter})
	return nil
}

// Start opens the exporters and starts tailing the log. An exporter failing to open fails the whole start.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAdapterStarted
	}
	for i, run := range a.exporters {
		if err := run.exporter.Open(ctx); err != nil {
			for _, opened := range a.exporters[:i] {
				_ = opened.exporter.Close(ctx)
			}
			return fmt.Errorf("failed to open exporter %s: %w", run.name, err)
		}
		from := int64(1)
		if resumer, ok := run.exporter.(Resumer); ok {
			position, err := resumer.ExportedPosition(ctx)
			if err != nil {
				for _, opened := range a.exporters[:i+1] {
					_ = opened.exporter.Close(ctx)
				}
				return fmt.Errorf("failed to read exported position of %s: %w", run.name, err)
			}
			from = position + 1
		}
		run.exported.Store(from - 1)
		run.stream = a.log.StreamFrom(from)
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, run := range a.exporters {
		a.wg.Add(1)
		go a.run(run)
	}
	a.logger.Debug("exporters started", "count", len(a.exporters))
	return nil
}

func (a *Adapter) run(run *exporterRun) {
	defer a.wg.Done()
	logger := a.logger.With("exporter", run.name)
	for {
		rec, err := run.stream.Next(a.ctx)
		if err != nil {
			return
		}
		if !a.export(run, logger, rec) {
			return
		}
		run.exported.Store(rec.Position)
		a.progressMu.Lock()
		close(a.progress)
		a.progress = make(chan struct{})
		a.progressMu.Unlock()
	}
}

func (a *Adapter) progressed() <-chan struct{} {
	a.progressMu.Lock()
	defer a.progressMu.Unlock()
	return a.progress
}

// export retries rec until it is exported, it returns false when the adapter stopped first
func (a *Adapter) export(run *exporterRun, logger hclog.Logger, rec record.Record) bool {
	attrs := metric.WithAttributes(attribute.String("exporter", run.name))
	backoff := a.initialBackoff
	for attempt := 1; ; attempt++ {
		err := run.exporter.Export(a.ctx, rec)
		if err == nil {
			a.metrics.RecordsExported.Add(a.ctx, 1, attrs)
			return true
		}
		a.metrics.ExportFailures.Add(a.ctx, 1, attrs)
		logger.Warn("failed to export record, retrying", "position", rec.Position, "attempt", attempt, "backoff", backoff, "err", err)
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-a.ctx.Done():
			timer.Stop()
			return false
		}
		backoff = min(backoff*2, a.maxBackoff)
	}
}

// ExportedPosition returns the position the named exporter exported last
func (a *Adapter) ExportedPosition(name string) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, run := range a.exporters {
		if run.name == name {
			return run.exported.Load(), true
		}
	}
	return 0, false
}

// ExportedPositions returns the last exported position per exporter name
func (a *Adapter) ExportedPositions() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	positions := make(map[string]int64, len(a.exporters))
	for _, run := range a.exporters {
		positions[run.name] = run.exported.Load()
	}
	return positions
}

// Flush waits until every exporter exported the records appended before the call
func (a *Adapter) Flush(ctx context.Context) error {
	a.mu.Lock()
	runs := a.exporters
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil
	}
	target := a.log.LastPosition()
	for {
		progressed := a.progressed()
		behind := 0
		for _, run := range runs {
			if run.exported.Load() < target {
				behind++
			}
		}
		if behind == 0 {
			return nil
		}
		select {
		case <-progressed:
		case <-ctx.Done():
			return fmt.Errorf("%d exporters did not reach position %d: %w", behind, target, ctx.Err())
		}
	}
}

// Stop exports what was appended so far, unless ctx ends first, and closes the exporters
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.stopped = true
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	flushErr := a.Flush(ctx)
	a.cancel()
	a.wg.Wait()

	errs := []error{flushErr}
	for _, run := range a.exporters {
		run.stream.Close()
		if err := run.exporter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close exporter %s: %w", run.name, err))
		}
	}
	a.logger.Debug("exporters stopped")
	return errors.Join(errs...)
}
