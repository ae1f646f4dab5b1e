// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package sqlite keeps a journal of the record log in a SQLite database.
// The journal is an exporter and the source a restarted engine restores its log from.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	position INTEGER PRIMARY KEY,
	record_key INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	value_type TEXT NOT NULL,
	intent TEXT NOT NULL,
	process_instance_key INTEGER NOT NULL,
	value BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS records_process_instance_key ON records (process_instance_key);`

// Journal is safe for concurrent use, the adapter calls Export from a single goroutine
type Journal struct {
	db     *sql.DB
	ownsDB bool
}

// New uses db as it is, the caller closes it
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// NewFromPath opens the database file at path, ":memory:" keeps the journal in memory
func NewFromPath(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases alive and writes ordered
	db.SetMaxOpenConns(1)
	return &Journal{db: db, ownsDB: true}, nil
}

func (j *Journal) Open(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Export stores rec, a record already stored at the same position is kept
func (j *Journal) Export(ctx context.Context, rec record.Record) error {
	value, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("failed to encode value of record %d: %w", rec.Position, err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO records (position, record_key, timestamp, value_type, intent, process_instance_key, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Position,
		rec.Key,
		rec.Timestamp.UnixNano(),
		string(rec.ValueType),
		string(rec.Intent),
		rec.ProcessInstanceKey(),
		value,
	)
	if err != nil {
		return fmt.Errorf("failed to store record %d: %w", rec.Position, err)
	}
	return nil
}

func (j *Journal) ExportedPosition(ctx context.Context) (int64, error) {
	var position int64
	err := j.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM records`).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("failed to read journal position: %w", err)
	}
	return position, nil
}

// Load reads the whole journal in log order. Numbers inside variables come back as float64.
func (j *Journal) Load(ctx context.Context) (record.Records, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT position, record_key, timestamp, value_type, intent, value
		FROM records ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) (record.Records, error) {
	records := record.Records{}
	for rows.Next() {
		var (
			rec       record.Record
			timestamp int64
			valueType string
			intent    string
			value     []byte
		)
		if err := rows.Scan(&rec.Position, &rec.Key, &timestamp, &valueType, &intent, &value); err != nil {
			return nil, fmt.Errorf("failed to scan journal record: %w", err)
		}
		rec.Timestamp = time.Unix(0, timestamp).UTC()
		rec.ValueType = record.ValueType(valueType)
		rec.Intent = record.Intent(intent)
		decoded, err := record.DecodeValue(rec.ValueType, value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode journal record %d: %w", rec.Position, err)
		}
		rec.Value = decoded
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return records, nil
}

func (j *Journal) Close(ctx context.Context) error {
	if !j.ownsDB {
		return nil
	}
	return j.db.Close()
}
