// Package executor runs planned command sequences against a transport, in
// order, and keeps the audit trail.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/transport"
)

var (
	// ErrTransport is the sentinel behind every TransportError.
	ErrTransport = errors.New("transport failure")
	// ErrNoAck means the arm answered without an acknowledgement.
	ErrNoAck = errors.New("response not acknowledged")
)

// TransportError reports the command whose response failed. Drain stops at
// that command.
type TransportError struct {
	Entry Entry
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("command %q failed: %v (response %q)", e.Entry.Wire, e.Err, e.Entry.Response)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Queue is a FIFO of planned commands.
type Queue struct {
	mu      sync.Mutex
	pending []gcode.Command
	log     *Log
	sleep   func(time.Duration)
	logger  *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithSleeper replaces time.Sleep for Delay commands.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(q *Queue) {
		if sleep != nil {
			q.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueue returns an empty queue that records into log.
func NewQueue(log *Log, opts ...Option) *Queue {
	q := &Queue{
		log:    log,
		sleep:  time.Sleep,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(q)
	}
	q.logger = q.logger.With("component", "executor")
	return q
}

// Log returns the audit trail the queue records into.
func (q *Queue) Log() *Log { return q.log }

// Enqueue appends cmds.
func (q *Queue) Enqueue(cmds ...gcode.Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmds...)
	q.mu.Unlock()
}

// Pending returns a copy of the queued commands.
func (q *Queue) Pending() []gcode.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]gcode.Command(nil), q.pending...)
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops all queued commands.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// Drain sends every queued command in order and returns one entry per
// command executed. Command N+1 is not sent before the entry for command N
// is recorded. On the first failed response Drain stops and returns the
// entries so far with a *TransportError. The queue is empty afterwards in
// every case.
//
// Cancellation is checked between commands only. A command that has been
// handed to the transport is always awaited, and the Wait after a move is
// sent even when the context is canceled in between.
func (q *Queue) Drain(ctx context.Context, t transport.Transport) ([]Entry, error) {
	q.mu.Lock()
	cmds := q.pending
	q.pending = nil
	q.mu.Unlock()

	results := make([]Entry, 0, len(cmds))
	for i, c := range cmds {
		settling := i > 0 && gcode.IsMove(cmds[i-1]) && gcode.IsWait(c)
		if err := ctx.Err(); err != nil && !settling {
			q.logger.Warn("drain interrupted", "remaining", len(cmds)-len(results), "error", err)
			return results, err
		}

		if d, ok := c.(gcode.Delay); ok {
			q.sleep(d.Duration)
			results = append(results, q.log.Record(ctx, Entry{Command: c, Local: true, Success: true}))
			continue
		}

		wire := c.Encode()
		resp, err := t.Send(context.WithoutCancel(ctx), wire)
		if err == nil && !accepted(resp) {
			err = ErrNoAck
		}
		e := Entry{Command: c, Wire: wire, Response: resp, Success: err == nil}
		if err != nil {
			e.Error = err.Error()
		}
		e = q.log.Record(ctx, e)
		results = append(results, e)

		if err != nil {
			q.logger.Error("command failed", "wire", wire, "response", resp, "error", err)
			return results, &TransportError{Entry: e, Err: err}
		}
		q.logger.Debug("command ok", "wire", wire)
	}
	return results, nil
}

// accepted reports whether resp carries an acknowledgement and no error line.
func accepted(resp string) bool {
	for _, line := range strings.Split(resp, "\n") {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "error") {
			return false
		}
	}
	return gcode.ResponseOK(resp)
}
