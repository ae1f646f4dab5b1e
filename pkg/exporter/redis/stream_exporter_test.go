package redis

import (
	"context"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func jobRecord(position int64) record.Record {
	return record.Record{
		Position:  position,
		Key:       1876543210987654321,
		Timestamp: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
		ValueType: record.ValueTypeJob,
		Intent:    record.IntentCreated,
		Value: record.JobValue{
			Type:               "mail",
			ProcessInstanceKey: 1876543210987654000,
			Retries:            3,
			Variables:          map[string]any{"to": "someone", "attempt": 1},
		},
	}
}

func TestPayloadKeepsKeysExact(t *testing.T) {
	// given
	rec := jobRecord(7)

	// when
	data, err := EncodePayload(rec)
	require.NoError(t, err)
	payload, err := DecodePayload(data)

	// then
	require.NoError(t, err)
	assert.Equal(t, "1876543210987654321", payload["key"])
	assert.Equal(t, float64(7), payload["position"])
	assert.Equal(t, "JOB", payload["valueType"])
	value := payload["value"].(map[string]any)
	assert.Equal(t, "1876543210987654000", value["processInstanceKey"])
	assert.Equal(t, float64(3), value["retries"])
	assert.Equal(t, map[string]any{"to": "someone", "attempt": float64(1)}, value["variables"])
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests are skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	redisC, err := testcontainers.Run(
		ctx, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	testcontainers.CleanupContainer(t, redisC)
	require.NoError(t, err)

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestExportAddsStreamEntries(t *testing.T) {
	// given
	addr := startRedis(t)
	exporter := NewFromAddr(addr, WithStream("test:records"))
	require.NoError(t, exporter.Open(t.Context()))
	defer exporter.Close(t.Context())

	// when
	require.NoError(t, exporter.Export(t.Context(), jobRecord(1)))
	require.NoError(t, exporter.Export(t.Context(), jobRecord(2)))
	// repeated after a failure, Redis rejects the entry id
	require.NoError(t, exporter.Export(t.Context(), jobRecord(2)))

	// then
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()
	entries, err := client.XRange(t.Context(), "test:records", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1-0", entries[0].ID)
	assert.Equal(t, "JOB", entries[1].Values[FieldValueType])
	assert.Equal(t, "1876543210987654321", entries[1].Values[FieldKey])

	payload, err := DecodePayload([]byte(entries[1].Values[FieldPayload].(string)))
	require.NoError(t, err)
	assert.Equal(t, "CREATED", payload["intent"])

	position, err := exporter.ExportedPosition(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), position)
}
