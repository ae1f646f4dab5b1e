// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracerprovider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	engine, _ := newTestEngine(t, EngineWithTracer(tracerprovider.Tracer("test-tracer")))
	deployProcess(t, engine, singleTaskProcess("traced", "traced-task"))

	ctx, parent := tracerprovider.Tracer("test-tracer").Start(t.Context(), "parent-test-span")
	instance, err := engine.CreateInstance(ctx, CreateInstanceCommand{BpmnProcessId: "traced"})
	require.NoError(t, err)
	job := activateOne(t, engine, "traced-task")
	require.NoError(t, engine.CompleteJob(ctx, job.Key, nil))
	parent.End()

	spans := exporter.GetSpans()
	var names []string
	for _, span := range spans {
		names = append(names, span.Name)
		if span.SpanContext.SpanID() == parent.SpanContext().SpanID() {
			continue
		}
		if span.Name == "deploy" {
			continue
		}
		assert.Equal(t, parent.SpanContext().TraceID(), span.Parent.TraceID())
	}
	assert.Contains(t, names, "create-instance:traced")
	assert.Contains(t, names, "job:traced-task")
	for _, span := range spans {
		if span.Name != "create-instance:traced" {
			continue
		}
		assert.Contains(t, span.Attributes, attribute.Int64(otelPkg.AttributeProcessInstanceKey, instance.ProcessInstanceKey))
	}
}

func TestTracerRecordsCommandErrors(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracerprovider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	engine, _ := newTestEngine(t, EngineWithTracer(tracerprovider.Tracer("test-tracer")))

	err := engine.CancelInstance(t.Context(), 42)

	require.Error(t, err)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestTracerRecordsElementSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracerprovider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	engine, _ := newTestEngine(t, EngineWithTracer(tracerprovider.Tracer("test-tracer")))
	deployProcess(t, engine, singleTaskProcess("elements", "elements-task"))

	_, err := engine.CreateInstance(t.Context(), CreateInstanceCommand{BpmnProcessId: "elements"})
	require.NoError(t, err)

	var taskSpan tracetest.SpanStub
	found := false
	for _, span := range exporter.GetSpans() {
		if span.Name == "element:task" {
			taskSpan = span
			found = true
		}
	}
	require.True(t, found)
	assert.Contains(t, taskSpan.Attributes, attribute.String(otelPkg.AttributeElementId, "task"))
	assert.Contains(t, taskSpan.Attributes, attribute.String(otelPkg.AttributeElementType, string(bpmn20.ElementTypeServiceTask)))
	assert.Contains(t, taskSpan.Attributes, attribute.String(otelPkg.SpanStatusToken, tokenStatusWaiting))
}
