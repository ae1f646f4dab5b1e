package exporter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingExporter struct {
	mu        sync.Mutex
	records   []record.Record
	failures  int
	attempts  int
	opened    bool
	closed    bool
	resumeAt  int64
	openError error
}

func (e *collectingExporter) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = true
	return e.openError
}

func (e *collectingExporter) Export(ctx context.Context, rec record.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	if e.failures > 0 {
		e.failures--
		return errors.New("sink unavailable")
	}
	e.records = append(e.records, rec)
	return nil
}

func (e *collectingExporter) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *collectingExporter) positions() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	positions := make([]int64, len(e.records))
	for i, rec := range e.records {
		positions[i] = rec.Position
	}
	return positions
}

type resumingExporter struct {
	*collectingExporter
}

func (e resumingExporter) ExportedPosition(ctx context.Context) (int64, error) {
	return e.resumeAt, nil
}

func appendJobs(log *record.Log, n int) {
	for i := 0; i < n; i++ {
		log.Append(record.Record{Key: int64(i + 1), ValueType: record.ValueTypeJob, Intent: record.IntentCreated, Value: record.JobValue{Type: "t"}})
	}
}

func newTestAdapter(t *testing.T, log *record.Log) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(log, AdapterWithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return adapter
}

func TestAdapterExportsHistoryAndLiveRecordsInOrder(t *testing.T) {
	// given
	log := record.NewLog()
	appendJobs(log, 3)
	adapter := newTestAdapter(t, log)
	first := &collectingExporter{}
	second := &collectingExporter{}
	require.NoError(t, adapter.Register("first", first))
	require.NoError(t, adapter.Register("second", second))

	// when
	require.NoError(t, adapter.Start(t.Context()))
	appendJobs(log, 2)
	require.NoError(t, adapter.Stop(t.Context()))

	// then
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, first.positions())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, second.positions())
	assert.True(t, first.opened)
	assert.True(t, first.closed)
	assert.Equal(t, map[string]int64{"first": 5, "second": 5}, adapter.ExportedPositions())
}

func TestAdapterRetriesFailedExports(t *testing.T) {
	// given
	log := record.NewLog()
	appendJobs(log, 2)
	adapter := newTestAdapter(t, log)
	flaky := &collectingExporter{failures: 3}
	require.NoError(t, adapter.Register("flaky", flaky))
	require.NoError(t, adapter.Start(t.Context()))

	// when
	require.NoError(t, adapter.Flush(t.Context()))

	// then
	assert.Equal(t, []int64{1, 2}, flaky.positions())
	assert.Equal(t, 5, flaky.attempts)
	position, ok := adapter.ExportedPosition("flaky")
	assert.True(t, ok)
	assert.Equal(t, int64(2), position)
	require.NoError(t, adapter.Stop(t.Context()))
}

func TestAdapterResumesAfterExportedPosition(t *testing.T) {
	// given
	log := record.NewLog()
	appendJobs(log, 4)
	adapter := newTestAdapter(t, log)
	resuming := resumingExporter{&collectingExporter{resumeAt: 2}}
	require.NoError(t, adapter.Register("resuming", resuming))

	// when
	require.NoError(t, adapter.Start(t.Context()))
	require.NoError(t, adapter.Stop(t.Context()))

	// then
	assert.Equal(t, []int64{3, 4}, resuming.positions())
}

func TestAdapterStopGivesUpOnBrokenExporter(t *testing.T) {
	// given
	log := record.NewLog()
	appendJobs(log, 1)
	adapter := newTestAdapter(t, log)
	broken := &collectingExporter{failures: 1 << 30}
	require.NoError(t, adapter.Register("broken", broken))
	require.NoError(t, adapter.Start(t.Context()))

	// when
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := adapter.Stop(ctx)

	// then
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, broken.positions())
	assert.True(t, broken.closed)
}

func TestAdapterRegistration(t *testing.T) {
	log := record.NewLog()
	adapter := newTestAdapter(t, log)
	require.NoError(t, adapter.Register("once", &collectingExporter{}))
	assert.Error(t, adapter.Register("once", &collectingExporter{}))

	failing := &collectingExporter{openError: errors.New("no sink")}
	require.NoError(t, adapter.Register("failing", failing))
	assert.Error(t, adapter.Start(t.Context()))

	other := newTestAdapter(t, log)
	require.NoError(t, other.Start(t.Context()))
	assert.ErrorIs(t, other.Register("late", &collectingExporter{}), ErrAdapterStarted)
	require.NoError(t, other.Stop(t.Context()))
}
