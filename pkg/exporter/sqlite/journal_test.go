package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func testRecords() record.Records {
	return record.Records{
		{Position: 1, Key: 10, Timestamp: ts, ValueType: record.ValueTypeProcessInstance, Intent: record.IntentElementActivating,
			Value: record.ProcessInstanceValue{ProcessInstanceKey: 10, BpmnProcessId: "journal", ElementId: "journal"}},
		{Position: 2, Key: 11, Timestamp: ts.Add(time.Second), ValueType: record.ValueTypeVariable, Intent: record.IntentCreated,
			Value: record.VariableValue{Name: "amount", Value: 3, ProcessInstanceKey: 10, ScopeKey: 10}},
		{Position: 3, Key: 12, Timestamp: ts.Add(2 * time.Second), ValueType: record.ValueTypeJob, Intent: record.IntentCreated,
			Value: record.JobValue{Type: "other", ProcessInstanceKey: 20, Retries: 3}},
	}
}

func openJournal(t *testing.T, path string) *Journal {
	t.Helper()
	journal, err := NewFromPath(path)
	require.NoError(t, err)
	require.NoError(t, journal.Open(t.Context()))
	return journal
}

func TestJournalStoresAndLoadsRecords(t *testing.T) {
	// given
	journal := openJournal(t, ":memory:")
	defer journal.Close(t.Context())

	// when
	for _, rec := range testRecords() {
		require.NoError(t, journal.Export(t.Context(), rec))
	}
	loaded, err := journal.Load(t.Context())

	// then
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, rec := range testRecords() {
		assert.Equal(t, rec.Position, loaded[i].Position)
		assert.Equal(t, rec.Key, loaded[i].Key)
		assert.Equal(t, rec.Intent, loaded[i].Intent)
		assert.True(t, rec.Timestamp.Equal(loaded[i].Timestamp))
	}
	variable := loaded[1].Value.(record.VariableValue)
	assert.Equal(t, float64(3), variable.Value)

	position, err := journal.ExportedPosition(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(3), position)
}

func TestJournalIgnoresRecordsExportedTwice(t *testing.T) {
	// given
	journal := openJournal(t, ":memory:")
	defer journal.Close(t.Context())
	rec := testRecords()[0]

	// when
	require.NoError(t, journal.Export(t.Context(), rec))
	require.NoError(t, journal.Export(t.Context(), rec))

	// then
	loaded, err := journal.Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestJournalSurvivesReopen(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "journal.db")
	journal := openJournal(t, path)
	for _, rec := range testRecords() {
		require.NoError(t, journal.Export(t.Context(), rec))
	}
	require.NoError(t, journal.Close(t.Context()))

	// when
	reopened := openJournal(t, path)
	defer reopened.Close(t.Context())
	loaded, err := reopened.Load(t.Context())

	// then
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
	_, err = record.NewLogFrom(loaded)
	assert.NoError(t, err)
}
