// Package logging builds the structured logger shared by every component.
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: text    # json, text
//	  output: stderr  # stdout, stderr
package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gwillem/bladeloader/pkg/config"
)

const service = "bladeloader"

// New returns a logger writing to the configured output.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return NewWriter(cfg, version, output)
}

// NewWriter returns a logger writing to w.
func NewWriter(cfg config.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// parseLevel defaults to info when level is unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Lines is an io.Writer that delivers complete log lines on a channel, for
// display in a TUI that owns the terminal. Lines are dropped when the
// channel is full.
type Lines struct {
	mu  sync.Mutex
	buf []byte
	ch  chan string
}

// NewLines returns a Lines with the given channel buffer.
func NewLines(buffer int) *Lines {
	return &Lines{ch: make(chan string, buffer)}
}

// C returns the line channel.
func (l *Lines) C() <-chan string { return l.ch }

func (l *Lines) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := string(l.buf[:i])
		l.buf = l.buf[i+1:]
		select {
		case l.ch <- line:
		default:
		}
	}
	return len(p), nil
}
