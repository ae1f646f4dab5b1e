package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metrics "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const requestMeter = "request-meter"

// Requests is nil until SetupOtel ran, the system server skips request metrics then
var Requests *RequestMetrics

type RequestMetrics struct {
	total        metrics.Int64Counter
	perRoute     metrics.Int64Counter
	responseSize metrics.Float64Counter
	duration     metrics.Float64Histogram
}

// Record counts one served request under its route pattern
func (m *RequestMetrics) Record(ctx context.Context, route string, method string, status int, written int64, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metrics.WithAttributes(
		attribute.String("uri", route),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	m.total.Add(ctx, 1)
	m.perRoute.Add(ctx, 1, attrs)
	if written > 0 {
		m.responseSize.Add(ctx, float64(written), attrs)
	}
	m.duration.Record(ctx, float64(latency.Microseconds())/1000, attrs)
}

func newRequestMetrics(meter metrics.Meter) (*RequestMetrics, error) {
	m := RequestMetrics{}
	var err, errJoin error
	m.total, err = meter.Int64Counter("request_total", metrics.WithDescription("Total requests to the system server"))
	errJoin = errors.Join(errJoin, err)
	m.perRoute, err = meter.Int64Counter("request_uri_total", metrics.WithDescription("Total requests per route"))
	errJoin = errors.Join(errJoin, err)
	m.responseSize, err = meter.Float64Counter("response_body_size", metrics.WithUnit("By"), metrics.WithDescription("Response body size, bytes"))
	errJoin = errors.Join(errJoin, err)
	m.duration, err = meter.Float64Histogram("request_duration", metrics.WithUnit("ms"), metrics.WithDescription("Time to serve the request, milliseconds"))
	errJoin = errors.Join(errJoin, err)
	if errJoin != nil {
		return nil, fmt.Errorf("failed to create request instruments: %w", errJoin)
	}
	return &m, nil
}

type Otel struct {
	meterProvider *metric.MeterProvider
}

// SetupOtel installs a global meter provider read by the prometheus registry that promhttp serves
func SetupOtel(appName string) (*Otel, error) {
	o := Otel{}
	var err error

	o.meterProvider, err = setupMeterProvider(appName)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(o.meterProvider)
	return &o, nil
}

func (o *Otel) Stop(ctx context.Context) {
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
		o.meterProvider = nil
		Requests = nil
	}
}

func setupMeterProvider(appName string) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to set up prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(appName),
		attribute.String("library.language", "go"),
	))
	if err != nil {
		return nil, err
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	Requests, err = newRequestMetrics(meterProvider.Meter(requestMeter))
	if err != nil {
		return nil, err
	}
	return meterProvider, nil
}
