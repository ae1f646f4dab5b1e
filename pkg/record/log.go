package record

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

var ErrStreamClosed = errors.New("record stream closed")

// Log is an in-memory append-only sequence of records.
type Log struct {
	mu      sync.RWMutex
	records []Record
	// appended is closed and replaced on every append to wake up waiting streams
	appended chan struct{}
}

func NewLog() *Log {
	return &Log{
		appended: make(chan struct{}),
	}
}

// NewLogFrom creates a log holding restored records, their positions must start at 1 and be gapless.
func NewLogFrom(records Records) (*Log, error) {
	for i, rec := range records {
		if rec.Position != int64(i)+1 {
			return nil, fmt.Errorf("record at index %d has position %d, expected %d", i, rec.Position, i+1)
		}
	}
	l := NewLog()
	l.records = append(make([]Record, 0, len(records)), records...)
	return l, nil
}

// Append assigns the next position to r, stores it and returns the stored record.
func (l *Log) Append(r Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.Position = int64(len(l.records)) + 1
	l.records = append(l.records, r)
	close(l.appended)
	l.appended = make(chan struct{})
	return r
}

// LastPosition returns the position of the newest record or 0 for an empty log.
func (l *Log) LastPosition() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.records))
}

func (l *Log) Get(position int64) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position < 1 || position > int64(len(l.records)) {
		return Record{}, false
	}
	return l.records[position-1], true
}

// Records returns a snapshot of all records appended so far.
func (l *Log) Records() Records {
	return l.From(1)
}

// From returns a snapshot of the records starting at position.
func (l *Log) From(position int64) Records {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position < 1 {
		position = 1
	}
	if position > int64(len(l.records)) {
		return Records{}
	}
	out := make(Records, int64(len(l.records))-position+1)
	copy(out, l.records[position-1:])
	return out
}

// StreamFrom returns a stream yielding records from position on, including records appended later.
// Streams are independent of each other and must be closed by the caller.
func (l *Log) StreamFrom(position int64) *Stream {
	if position < 1 {
		position = 1
	}
	s := &Stream{
		log:    l,
		closed: make(chan struct{}),
	}
	s.next.Store(position)
	return s
}

func (l *Log) next(position int64) (Record, bool, <-chan struct{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position <= int64(len(l.records)) {
		return l.records[position-1], true, nil
	}
	return Record{}, false, l.appended
}

// Stream is consumed by a single goroutine.
type Stream struct {
	log       *Log
	next      atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
}

// Next blocks until the next record is available, the stream is closed or ctx is done.
func (s *Stream) Next(ctx context.Context) (Record, error) {
	for {
		select {
		case <-s.closed:
			return Record{}, ErrStreamClosed
		default:
		}
		rec, ok, wait := s.log.next(s.next.Load())
		if ok {
			s.next.Add(1)
			return rec, nil
		}
		select {
		case <-wait:
		case <-s.closed:
			return Record{}, ErrStreamClosed
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
	}
}

// Position returns the position of the record the next call to Next returns.
func (s *Stream) Position() int64 {
	return s.next.Load()
}

func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// All yields records until the stream is closed or ctx is done.
func (s *Stream) All(ctx context.Context) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for {
			rec, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}
