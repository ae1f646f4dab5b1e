package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesDeployed metric.Int64Counter
	ProcessesStarted  metric.Int64Counter
	ProcessesEnded    metric.Int64Counter
	ProcessesRunning  metric.Int64UpDownCounter
	JobsCreated       metric.Int64Counter
	JobsCompleted     metric.Int64Counter
	JobsFailed        metric.Int64Counter
	TimersTriggered   metric.Int64Counter
	IncidentsCreated  metric.Int64Counter
	RecordsWritten    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesDeployed, err := meter.Int64Counter("processes_deployed", metric.WithDescription("Number of process versions deployed"))
	errJoin = errors.Join(errJoin, err)

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	jobsCreated, err := meter.Int64Counter("jobs_created", metric.WithDescription("Number of jobs created"))
	errJoin = errors.Join(errJoin, err)

	jobsCompleted, err := meter.Int64Counter("jobs_completed", metric.WithDescription("Number of jobs completed"))
	errJoin = errors.Join(errJoin, err)

	jobsFailed, err := meter.Int64Counter("jobs_failed", metric.WithDescription("Number of jobs failed"))
	errJoin = errors.Join(errJoin, err)

	timersTriggered, err := meter.Int64Counter("timers_triggered", metric.WithDescription("Number of timers triggered"))
	errJoin = errors.Join(errJoin, err)

	incidentsCreated, err := meter.Int64Counter("incidents_created", metric.WithDescription("Number of incidents created"))
	errJoin = errors.Join(errJoin, err)

	recordsWritten, err := meter.Int64Counter("records_written", metric.WithDescription("Number of records appended to the record log"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesDeployed: processesDeployed,
		ProcessesStarted:  processesStartedTotal,
		ProcessesEnded:    processesCompletedTotal,
		ProcessesRunning:  processesRunning,
		JobsCreated:       jobsCreated,
		JobsCompleted:     jobsCompleted,
		JobsFailed:        jobsFailed,
		TimersTriggered:   timersTriggered,
		IncidentsCreated:  incidentsCreated,
		RecordsWritten:    recordsWritten,
	}
	return &metrics, errJoin
}

type ExporterMetrics struct {
	RecordsExported metric.Int64Counter
	ExportFailures  metric.Int64Counter
}

func NewExporterMetrics(meter metric.Meter) (*ExporterMetrics, error) {
	var errJoin error

	recordsExported, err := meter.Int64Counter("records_exported", metric.WithDescription("Number of records handed to exporters"))
	errJoin = errors.Join(errJoin, err)

	exportFailures, err := meter.Int64Counter("export_failures", metric.WithDescription("Number of failed export attempts, every attempt is retried"))
	errJoin = errors.Join(errJoin, err)

	return &ExporterMetrics{
		RecordsExported: recordsExported,
		ExportFailures:  exportFailures,
	}, errJoin
}
