package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/bladeloader/pkg/gcode"
)

// EntryKind distinguishes sent commands from warnings in the audit trail.
type EntryKind string

const (
	EntryCommand EntryKind = "command"
	EntryWarning EntryKind = "warning"
)

// Entry is one immutable audit record.
type Entry struct {
	Seq      int
	Kind     EntryKind
	Command  gcode.Command // nil for warnings
	Wire     string        // empty for host-side commands
	Response string
	Success  bool
	Local    bool // executed on the host, never sent
	Error    string
	Note     string
	Time     time.Time
}

// Sink receives every entry after it is appended, e.g. for persistence.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Log is an append-only, ordered audit trail. It is independent of the
// queue: draining or clearing a queue never removes history.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	sinks   []Sink
	logger  *slog.Logger
	now     func() time.Time
}

// NewLog returns an empty log that forwards entries to sinks.
func NewLog(logger *slog.Logger, sinks ...Sink) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{
		sinks:  sinks,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// AddSink attaches another sink for entries recorded from now on.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Record appends e, stamping its sequence number and time, and returns the
// stored entry. Sink failures are logged and never fail the caller.
func (l *Log) Record(ctx context.Context, e Entry) Entry {
	l.mu.Lock()
	e.Seq = len(l.entries) + 1
	if e.Kind == "" {
		e.Kind = EntryCommand
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	l.entries = append(l.entries, e)
	sinks := l.sinks
	// Sinks see entries in append order.
	for _, s := range sinks {
		if err := s.Append(ctx, e); err != nil {
			l.logger.Warn("audit sink failed", "seq", e.Seq, "error", err)
		}
	}
	l.mu.Unlock()
	return e
}

// Warn records a warning entry.
func (l *Log) Warn(ctx context.Context, note string) Entry {
	l.logger.Warn(note)
	return l.Record(ctx, Entry{Kind: EntryWarning, Note: note, Success: true})
}

// Entries returns up to limit most recent entries in append order. A
// non-positive limit returns everything.
func (l *Log) Entries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if limit > 0 && len(l.entries) > limit {
		start = len(l.entries) - limit
	}
	return append([]Entry(nil), l.entries[start:]...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
