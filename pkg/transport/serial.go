package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/gwillem/bladeloader/pkg/gcode"
)

// SerialConfig holds serial port settings.
type SerialConfig struct {
	Port            string
	BaudRate        int
	ConnectDelay    time.Duration // settle time after open, the board resets on connect
	ResponseTimeout time.Duration
	ReadTimeout     time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
	if c.ConnectDelay < 0 {
		c.ConnectDelay = 0
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	return c
}

type device interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Serial talks to the arm firmware over a serial line (8N1, CRLF). Each Send
// blocks until a line starting with "ok" is read.
type Serial struct {
	cfg    SerialConfig
	logger *slog.Logger

	mu  sync.Mutex // one request in flight
	wmu sync.Mutex // serializes writes, including Interrupt
	dev device
	buf []byte

	closed atomic.Bool
}

// OpenSerial opens the port and waits ConnectDelay before returning.
func OpenSerial(ctx context.Context, cfg SerialConfig, logger *slog.Logger) (*Serial, error) {
	cfg = cfg.withDefaults()
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	s := newSerial(port, cfg, logger)

	timer := time.NewTimer(cfg.ConnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		port.Close()
		return nil, ctx.Err()
	case <-timer.C:
	}
	if err := port.ResetInputBuffer(); err != nil {
		s.logger.Warn("reset input buffer", "error", err)
	}
	s.logger.Info("serial connected", "port", cfg.Port, "baud", cfg.BaudRate)
	return s, nil
}

func newSerial(dev device, cfg SerialConfig, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Serial{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "serial", "port", cfg.Port),
		dev:    dev,
	}
}

// Send writes line and collects response lines up to and including the
// acknowledgement. The context is only checked before writing; once a line
// is on the wire its answer is always awaited.
func (s *Serial) Send(ctx context.Context, line string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return "", ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := s.write(line); err != nil {
		return "", err
	}
	s.logger.Debug("send", "line", line)

	var lines []string
	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	for {
		l, ok, err := s.readLine()
		if err != nil {
			return strings.Join(lines, "\n"), fmt.Errorf("read response to %q: %w", line, err)
		}
		if ok {
			if l == "" {
				continue
			}
			s.logger.Debug("recv", "line", l)
			lines = append(lines, l)
			if gcode.IsOK(l) {
				return strings.Join(lines, "\n"), nil
			}
			continue
		}
		if time.Now().After(deadline) {
			if err := s.dev.ResetInputBuffer(); err != nil {
				s.logger.Warn("reset input buffer", "error", err)
			}
			s.buf = s.buf[:0]
			return strings.Join(lines, "\n"), fmt.Errorf("send %q: %w after %s", line, ErrTimeout, s.cfg.ResponseTimeout)
		}
	}
}

// Interrupt writes line immediately without waiting for a pending request
// or reading an answer.
func (s *Serial) Interrupt(line string) error {
	if err := s.write(line); err != nil {
		return err
	}
	s.logger.Warn("interrupt", "line", line)
	return nil
}

func (s *Serial) write(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return ErrDisconnected
	}
	if _, err := io.WriteString(s.dev, line+"\r\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

// readLine returns the next complete line. ok is false when the read timed
// out before a full line arrived.
func (s *Serial) readLine() (string, bool, error) {
	for {
		if i := strings.IndexByte(string(s.buf), '\n'); i >= 0 {
			l := strings.TrimSpace(string(s.buf[:i]))
			s.buf = s.buf[i+1:]
			return l, true, nil
		}
		chunk := make([]byte, 256)
		n, err := s.dev.Read(chunk)
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			return "", false, nil
		}
		s.buf = append(s.buf, chunk[:n]...)
	}
}

// Close closes the port.
func (s *Serial) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.dev.Close()
}
