package embedded

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/exporter"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"go.opentelemetry.io/otel/trace"
)

type exporterRegistration struct {
	name     string
	exporter exporter.Exporter
}

type options struct {
	name              string
	nodeId            int64
	logger            hclog.Logger
	controlledClock   bool
	clockStart        time.Time
	timerPollInterval time.Duration
	journalPath       string
	exporters         []exporterRegistration
	exportBackoff     time.Duration
	exportMaxBackoff  time.Duration
	tracer            trace.Tracer
	metrics           *otelPkg.EngineMetrics
	exporterMetrics   *otelPkg.ExporterMetrics
}

func defaultOptions() options {
	return options{
		logger:            hclog.Default(),
		timerPollInterval: time.Second,
		exportBackoff:     50 * time.Millisecond,
		exportMaxBackoff:  5 * time.Second,
	}
}

type Option func(*options)

func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithNodeId sets the node id encoded into generated keys, engines sharing an exporter sink need distinct ones
func WithNodeId(nodeId int64) Option {
	return func(o *options) {
		o.nodeId = nodeId
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithControlledClock makes time move only through IncreaseTime and SetTime, starting at start.
// A restored journal moves the start to its newest record when that is later.
func WithControlledClock(start time.Time) Option {
	return func(o *options) {
		o.controlledClock = true
		o.clockStart = start
	}
}

func WithTimerPollInterval(interval time.Duration) Option {
	return func(o *options) {
		o.timerPollInterval = interval
	}
}

// WithJournal keeps the record log in a SQLite file and restores it on Start
func WithJournal(path string) Option {
	return func(o *options) {
		o.journalPath = path
	}
}

// WithExporter registers an exporter under a unique name, "journal" is reserved
func WithExporter(name string, e exporter.Exporter) Option {
	return func(o *options) {
		o.exporters = append(o.exporters, exporterRegistration{name: name, exporter: e})
	}
}

func WithExportBackoff(initial time.Duration, maxBackoff time.Duration) Option {
	return func(o *options) {
		o.exportBackoff = initial
		o.exportMaxBackoff = maxBackoff
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func WithMetrics(metrics *otelPkg.EngineMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

func WithExporterMetrics(metrics *otelPkg.ExporterMetrics) Option {
	return func(o *options) {
		o.exporterMetrics = metrics
	}
}
