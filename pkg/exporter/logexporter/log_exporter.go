package logexporter

import (
	"context"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
)

// Exporter writes every record as one log line
type Exporter struct {
	logger     hclog.Logger
	level      hclog.Level
	valueTypes []record.ValueType
}

type Option = func(*Exporter)

func WithLevel(level hclog.Level) Option {
	return func(e *Exporter) {
		e.level = level
	}
}

// WithValueTypes limits the exported records, all value types are exported by default
func WithValueTypes(valueTypes ...record.ValueType) Option {
	return func(e *Exporter) {
		e.valueTypes = valueTypes
	}
}

func New(logger hclog.Logger, options ...Option) *Exporter {
	e := &Exporter{
		logger: logger,
		level:  hclog.Info,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *Exporter) Open(ctx context.Context) error {
	return nil
}

func (e *Exporter) Export(ctx context.Context, rec record.Record) error {
	if len(e.valueTypes) > 0 && !slices.Contains(e.valueTypes, rec.ValueType) {
		return nil
	}
	args := []any{
		"position", rec.Position,
		"key", rec.Key,
		"valueType", rec.ValueType,
		"intent", rec.Intent,
	}
	if processInstanceKey := rec.ProcessInstanceKey(); processInstanceKey != 0 {
		args = append(args, "processInstanceKey", processInstanceKey)
	}
	e.logger.Log(e.level, "record", args...)
	return nil
}

func (e *Exporter) Close(ctx context.Context) error {
	return nil
}
