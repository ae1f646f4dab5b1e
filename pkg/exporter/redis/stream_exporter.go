// Package redis bridges the record log to a Redis stream.
// Each record becomes one stream entry, the record itself is a protobuf encoded google.protobuf.Struct.
// Entry ids are "<position>-0".
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DefaultStream = "zenbpm:records"

	FieldPosition  = "position"
	FieldKey       = "key"
	FieldValueType = "valueType"
	FieldIntent    = "intent"
	FieldPayload   = "payload"
)

type Exporter struct {
	client  goredis.UniversalClient
	stream  string
	maxLen  int64
	ownsCli bool
}

type Option = func(*Exporter)

func WithStream(stream string) Option {
	return func(e *Exporter) {
		if stream != "" {
			e.stream = stream
		}
	}
}

// WithMaxLen trims the stream approximately to maxLen entries, 0 keeps everything
func WithMaxLen(maxLen int64) Option {
	return func(e *Exporter) {
		e.maxLen = maxLen
	}
}

// New uses client as it is, the caller closes it
func New(client goredis.UniversalClient, options ...Option) *Exporter {
	e := &Exporter{client: client, stream: DefaultStream}
	for _, option := range options {
		option(e)
	}
	return e
}

// NewFromAddr connects to the Redis server at addr and closes the connection with the exporter
func NewFromAddr(addr string, options ...Option) *Exporter {
	e := New(goredis.NewClient(&goredis.Options{Addr: addr}), options...)
	e.ownsCli = true
	return e
}

func (e *Exporter) Open(ctx context.Context) error {
	if err := e.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Export adds rec to the stream. The entry id is derived from the position so an export
// repeated after a failure is rejected by Redis instead of duplicated.
func (e *Exporter) Export(ctx context.Context, rec record.Record) error {
	payload, err := EncodePayload(rec)
	if err != nil {
		return err
	}
	args := &goredis.XAddArgs{
		Stream: e.stream,
		ID:     strconv.FormatInt(rec.Position, 10) + "-0",
		Values: map[string]any{
			FieldPosition:  rec.Position,
			FieldKey:       strconv.FormatInt(rec.Key, 10),
			FieldValueType: string(rec.ValueType),
			FieldIntent:    string(rec.Intent),
			FieldPayload:   payload,
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}
	err = e.client.XAdd(ctx, args).Err()
	if err != nil && isIdTooSmall(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add record %d to stream %s: %w", rec.Position, e.stream, err)
	}
	return nil
}

// ExportedPosition is the position of the newest stream entry
func (e *Exporter) ExportedPosition(ctx context.Context) (int64, error) {
	entries, err := e.client.XRevRangeN(ctx, e.stream, "+", "-", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream %s: %w", e.stream, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	position, err := strconv.ParseInt(fmt.Sprint(entries[0].Values[FieldPosition]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stream %s holds an entry without position: %w", e.stream, err)
	}
	return position, nil
}

func (e *Exporter) Close(ctx context.Context) error {
	if !e.ownsCli {
		return nil
	}
	return e.client.Close()
}

// EncodePayload renders rec as a protobuf Struct. Integers a double can't hold exactly,
// which includes most keys, are kept as decimal strings.
func EncodePayload(rec record.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %d: %w", rec.Position, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to encode record %d: %w", rec.Position, err)
	}
	payload, err := structpb.NewStruct(normalizeNumbers(fields).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %d: %w", rec.Position, err)
	}
	return proto.Marshal(payload)
}

// DecodePayload reads a payload written by EncodePayload
func DecodePayload(data []byte) (map[string]any, error) {
	payload := &structpb.Struct{}
	if err := proto.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return payload.AsMap(), nil
}

const maxExactDouble = 1 << 53

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			if i > maxExactDouble || i < -maxExactDouble {
				return v.String()
			}
			return float64(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}

// a repeated export of the same position is rejected with this error
func isIdTooSmall(err error) bool {
	return strings.Contains(err.Error(), "equal or smaller than the target stream top item")
}
