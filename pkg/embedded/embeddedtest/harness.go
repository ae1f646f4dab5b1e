// Package embeddedtest starts an embedded engine per test.
package embeddedtest

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/builder"
	"github.com/pbinitiative/zenbpm-embedded/pkg/client"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/stretchr/testify/require"
)

// DefaultStart is where the controlled clock of a harness starts
var DefaultStart = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

const DefaultAwaitTimeout = 5 * time.Second

type Harness struct {
	t      testing.TB
	engine *embedded.Engine
}

// New starts an engine with a controlled clock, options given here override the defaults.
// The engine is stopped when the test ends.
func New(t testing.TB, options ...embedded.Option) *Harness {
	t.Helper()
	defaults := []embedded.Option{
		embedded.WithName(t.Name()),
		embedded.WithControlledClock(DefaultStart),
		embedded.WithLogger(hclog.New(&hclog.LoggerOptions{Level: hclog.Warn})),
		embedded.WithTimerPollInterval(time.Hour),
	}
	engine, err := embedded.New(append(defaults, options...)...)
	require.NoError(t, err)
	require.NoError(t, engine.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Stop(ctx); err != nil {
			t.Logf("failed to stop embedded engine: %s", err)
		}
	})
	return &Harness{t: t, engine: engine}
}

func (h *Harness) Engine() *embedded.Engine {
	return h.engine
}

func (h *Harness) Client() *client.Client {
	return h.engine.Client()
}

// Deploy deploys a process built with the builder package and returns its metadata
func (h *Harness) Deploy(b *builder.ProcessBuilder) record.ProcessMetadata {
	h.t.Helper()
	definitions, err := b.Done()
	require.NoError(h.t, err)
	deployment, err := h.Client().NewDeployResourceCommand().
		AddProcessModel(definitions, "process.bpmn").
		Send(h.t.Context())
	require.NoError(h.t, err)
	require.Len(h.t, deployment.Processes, 1)
	return deployment.Processes[0]
}

func (h *Harness) DeployFile(filename string) bpmn.Deployment {
	h.t.Helper()
	deployment, err := h.engine.BpmnEngine().LoadFromFile(h.t.Context(), filename)
	require.NoError(h.t, err)
	return deployment
}

func (h *Harness) IncreaseTime(d time.Duration) time.Time {
	h.t.Helper()
	now, err := h.engine.IncreaseTime(d)
	require.NoError(h.t, err)
	return now
}

func (h *Harness) SetTime(t time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.engine.SetTime(t))
}

func (h *Harness) Records() record.Records {
	return h.engine.Records()
}

// AwaitRecord waits for the first record matching match, it fails the test after DefaultAwaitTimeout.
// Use it for records appended by workers or the timer poller.
func (h *Harness) AwaitRecord(match func(record.Record) bool) record.Record {
	h.t.Helper()
	stream, err := h.engine.StreamFrom(1)
	require.NoError(h.t, err)
	defer stream.Close()
	ctx, cancel := context.WithTimeout(h.t.Context(), DefaultAwaitTimeout)
	defer cancel()
	for rec := range stream.All(ctx) {
		if match(rec) {
			return rec
		}
	}
	h.t.Fatalf("no matching record appended within %s", DefaultAwaitTimeout)
	return record.Record{}
}

// Matches builds a matcher for AwaitRecord, an empty intent matches every intent
func Matches(valueType record.ValueType, intent record.Intent) func(record.Record) bool {
	return func(rec record.Record) bool {
		return rec.ValueType == valueType && (intent == "" || rec.Intent == intent)
	}
}
