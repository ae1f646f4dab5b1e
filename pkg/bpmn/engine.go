package bpmn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/clock"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage/inmemory"
	"github.com/pbinitiative/zenbpm-embedded/pkg/zenflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName      = "github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	defaultTimerPollInterval = time.Second
)

// Engine executes deployed processes. Every state change is appended to the record log
// and applied to the state by the same code path that a replay uses.
type Engine struct {
	name              string
	nodeId            int64
	clock             clock.Clock
	log               *record.Log
	state             storage.Storage
	keys              *zenflake.KeyGenerator
	logger            hclog.Logger
	tracer            trace.Tracer
	metrics           *otelPkg.EngineMetrics
	timerPollInterval time.Duration

	// writeMu keeps the order of appends and applies identical
	writeMu sync.Mutex
	// deployMu serializes version assignment
	deployMu sync.Mutex

	runningInstances *RunningInstancesCache
	awaiters         *resultAwaiters
	dispatcher       *jobDispatcher
	timerManager     *timerManager

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool
	inflight    sync.WaitGroup
}

// NewEngine creates a new instance of the BPMN Engine
func NewEngine(options ...EngineOption) (*Engine, error) {
	engine := &Engine{
		clock:             clock.System{},
		log:               record.NewLog(),
		logger:            hclog.Default().Named("bpmn-engine"),
		tracer:            otel.Tracer(instrumentationName),
		timerPollInterval: defaultTimerPollInterval,
		runningInstances:  newRunningInstancesCache(),
		awaiters:          newResultAwaiters(),
	}
	for _, option := range options {
		option(engine)
	}

	keys, err := zenflake.NewKeyGenerator(engine.nodeId)
	if err != nil {
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}
	engine.keys = keys
	if engine.name == "" {
		engine.name = fmt.Sprintf("Bpmn-Engine-%d", keys.Next())
	}
	if engine.state == nil {
		engine.state = inmemory.NewStorage()
	}
	if engine.metrics == nil {
		metrics, err := otelPkg.NewMetrics(otel.Meter(instrumentationName))
		if err != nil {
			return nil, fmt.Errorf("failed to create engine metrics: %w", err)
		}
		engine.metrics = metrics
	}
	engine.dispatcher = newJobDispatcher(engine)
	engine.timerManager = newTimerManager(engine.fireDueTimers, engine.timerPollInterval)
	return engine, nil
}

// Start starts the timer scheduler. Commands are accepted before Start, timers only fire after it.
func (engine *Engine) Start(ctx context.Context) error {
	engine.lifecycleMu.Lock()
	defer engine.lifecycleMu.Unlock()
	if engine.stopped {
		return ErrEngineStopped
	}
	if engine.started {
		return nil
	}
	engine.started = true
	engine.timerManager.start(engine.clock)
	// timers restored from a journal may be overdue already
	engine.timerManager.wake()
	engine.logger.Debug("engine started", "name", engine.name)
	return nil
}

// Stop rejects new commands, waits for in-flight ones and releases workers and timers.
// Pending result awaiters fail with ErrEngineStopped.
func (engine *Engine) Stop(ctx context.Context) error {
	engine.lifecycleMu.Lock()
	if engine.stopped {
		engine.lifecycleMu.Unlock()
		return nil
	}
	engine.stopped = true
	engine.lifecycleMu.Unlock()

	engine.awaiters.failAll(ErrEngineStopped)
	drained := make(chan struct{})
	go func() {
		engine.inflight.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("in-flight commands did not finish: %w", ctx.Err())
	}

	engine.timerManager.stop()
	engine.dispatcher.stop()
	// instances started while draining registered after the first failAll
	engine.awaiters.failAll(ErrEngineStopped)
	engine.logger.Debug("engine stopped", "name", engine.name)
	return err
}

// enter registers an in-flight command, the returned func must be called when it is done
func (engine *Engine) enter() (func(), error) {
	engine.lifecycleMu.RLock()
	defer engine.lifecycleMu.RUnlock()
	if engine.stopped {
		return nil, ErrEngineStopped
	}
	engine.inflight.Add(1)
	return engine.inflight.Done, nil
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

func (engine *Engine) Clock() clock.Clock {
	return engine.clock
}

// Log returns the record log, the single source of truth of what happened
func (engine *Engine) Log() *record.Log {
	return engine.log
}

// State returns the read side of the materialized state
func (engine *Engine) State() storage.StorageReader {
	return engine.state
}
