package bpmn

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/clock"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
	"go.opentelemetry.io/otel/trace"
)

type EngineOption = func(*Engine)

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

// EngineWithClock sets the time source, a clock.Advancer also drives the timers on every advancement
func EngineWithClock(c clock.Clock) EngineOption {
	return func(engine *Engine) {
		engine.clock = c
	}
}

// EngineWithLog lets the engine append to an existing log, the state must already reflect its records
func EngineWithLog(log *record.Log) EngineOption {
	return func(engine *Engine) {
		engine.log = log
	}
}

func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.state = persistence
	}
}

func EngineWithTimerPollInterval(interval time.Duration) EngineOption {
	return func(engine *Engine) {
		if interval > 0 {
			engine.timerPollInterval = interval
		}
	}
}

// EngineWithNodeId sets the node id encoded into generated keys
func EngineWithNodeId(nodeId int64) EngineOption {
	return func(engine *Engine) {
		engine.nodeId = nodeId
	}
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

func EngineWithTracer(tracer trace.Tracer) EngineOption {
	return func(engine *Engine) {
		engine.tracer = tracer
	}
}

func EngineWithMetrics(metrics *otelPkg.EngineMetrics) EngineOption {
	return func(engine *Engine) {
		engine.metrics = metrics
	}
}
