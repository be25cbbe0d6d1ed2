package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/bladeloader/pkg/audit"
	"github.com/gwillem/bladeloader/pkg/config"
	"github.com/gwillem/bladeloader/pkg/controller"
	"github.com/gwillem/bladeloader/pkg/events"
	"github.com/gwillem/bladeloader/pkg/executor"
	"github.com/gwillem/bladeloader/pkg/logging"
	"github.com/gwillem/bladeloader/pkg/transport"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// session is one open connection with everything hanging off it.
type session struct {
	cfg    *config.Config
	ctrl   *controller.Controller
	logger *slog.Logger
	store  *audit.Store
	closer []io.Closer
}

type sessionOptions struct {
	logOutput io.Writer          // nil means the configured output
	observer  workflow.Observer // optional, in addition to MQTT
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Port != "" {
		cfg.Serial.Port = opts.Port
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w != nil {
		return logging.NewWriter(cfg.Logging, version, w)
	}
	return logging.New(cfg.Logging, version)
}

func openSession(ctx context.Context, so sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: newLogger(cfg, so.logOutput)}

	var t transport.Transport
	if opts.Simulate {
		t = transport.NewSimulator()
	} else {
		if cfg.Serial.Port == "" {
			return nil, fmt.Errorf("no serial port configured, run 'bladeloader setup' or pass --port")
		}
		serial, err := transport.OpenSerial(ctx, cfg.Transport(), s.logger)
		if err != nil {
			return nil, err
		}
		t = serial
	}

	ccfg := controller.ConfigFrom(cfg, t)
	ccfg.Logger = s.logger

	if cfg.Audit.Path != "" {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			s.closeTransport(t)
			return nil, err
		}
		s.store = store
		s.closer = append(s.closer, store)
		ccfg.Sinks = []executor.Sink{store}
	}

	var observers workflow.Observers
	if so.observer != nil {
		observers = append(observers, so.observer)
	}
	if cfg.MQTT.Enabled {
		client, err := events.Connect(cfg.MQTT, s.logger)
		if err != nil {
			s.logger.Warn("mqtt disabled", "error", err)
		} else {
			obs := events.NewObserver(client, client.Topics(), s.logger)
			observers = append(observers, obs)
			s.closer = append(s.closer, client, closerFunc(func() error { obs.Close(); return nil }))
		}
	}
	if len(observers) > 0 {
		ccfg.Observer = observers
	}

	ctrl, err := controller.New(ccfg)
	if err != nil {
		s.closeTransport(t)
		s.Close()
		return nil, err
	}
	s.ctrl = ctrl
	return s, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (s *session) closeTransport(t transport.Transport) {
	if c, ok := t.(io.Closer); ok {
		c.Close()
	}
}

// Close closes the controller first so nothing is published or audited
// after its sinks are gone.
func (s *session) Close() {
	if s.ctrl != nil {
		if err := s.ctrl.Close(); err != nil {
			s.logger.Warn("close controller", "error", err)
		}
	}
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i].Close()
	}
}

// saveTeachPoints writes the controller's teach points and safe Z to the
// configuration file.
func (s *session) saveTeachPoints() error {
	pick, hooks := s.ctrl.TeachPoints()
	s.cfg.Teach.Pick = pick
	s.cfg.Teach.Hooks = hooks
	s.cfg.Motion.SafeZ = s.ctrl.Status().Arm.SafeZ
	return s.cfg.Save(opts.Config)
}

func fail(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, args...)))
	os.Exit(1)
}
