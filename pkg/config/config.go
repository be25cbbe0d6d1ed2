// Package config loads and saves the bladeloader YAML configuration,
// including the taught pick and hook positions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/transport"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

const DefaultConfigFile = "bladeloader.yaml"

// Config holds the whole configuration.
type Config struct {
	Serial    SerialConfig           `yaml:"serial"`
	Workspace motion.WorkspaceLimits `yaml:"workspace"`
	Motion    MotionConfig           `yaml:"motion"`
	Timing    TimingConfig           `yaml:"timing"`
	Teach     TeachPoints            `yaml:"teach"`
	Audit     AuditConfig            `yaml:"audit"`
	Logging   LoggingConfig          `yaml:"logging"`
	MQTT      MQTTConfig             `yaml:"mqtt"`
	Recovery  RecoveryConfig         `yaml:"recovery"`
}

// SerialConfig holds the connection to the arm.
type SerialConfig struct {
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// MotionConfig holds planner and tracking parameters.
type MotionConfig struct {
	SafeZ          float64 `yaml:"safe_z"`
	Feedrate       int     `yaml:"feedrate"`
	DriftTolerance float64 `yaml:"drift_tolerance"`
}

// TimingConfig holds the physical settling delays.
type TimingConfig struct {
	VacuumDelay  time.Duration `yaml:"vacuum_delay"`
	GrabDelay    time.Duration `yaml:"grab_delay"`
	ReleaseDelay time.Duration `yaml:"release_delay"`
}

// TeachPoints are the positions recorded in teach mode.
type TeachPoints struct {
	Pick  *motion.Position  `yaml:"pick,omitempty"`
	Hooks []motion.Position `yaml:"hooks,omitempty"`
}

// AuditConfig holds the persistent audit trail. An empty path keeps the
// trail in memory only.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// MQTTConfig holds the event publisher settings.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RecoveryConfig selects the optional recovery motions.
type RecoveryConfig struct {
	LiftToSafe bool `yaml:"lift_to_safe"`
	Home       bool `yaml:"home"`
}

// Default returns a configuration for a DexArm with the pneumatic module.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Baud:            115200,
			ConnectDelay:    2 * time.Second,
			ResponseTimeout: 10 * time.Second,
		},
		Workspace: motion.DefaultLimits(),
		Motion: MotionConfig{
			SafeZ:          50,
			Feedrate:       3000,
			DriftTolerance: 0.5,
		},
		Timing: TimingConfig{
			VacuumDelay:  300 * time.Millisecond,
			GrabDelay:    500 * time.Millisecond,
			ReleaseDelay: 500 * time.Millisecond,
		},
		Audit: AuditConfig{Path: "./data/audit.db"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "bladeloader",
			TopicPrefix: "bladeloader",
			QoS:         1,
			Timeout:     5 * time.Second,
		},
		Recovery: RecoveryConfig{LiftToSafe: true},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the configuration, including every teach point.
func (c *Config) Validate() error {
	var errs []string

	if err := c.Workspace.Check(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, "serial.baud must be positive")
	}
	if c.Motion.Feedrate <= 0 {
		errs = append(errs, "motion.feedrate must be positive")
	}
	if c.Motion.SafeZ < c.Workspace.ZMin || c.Motion.SafeZ > c.Workspace.ZMax {
		errs = append(errs, fmt.Sprintf("motion.safe_z %.2f outside z range [%.2f, %.2f]",
			c.Motion.SafeZ, c.Workspace.ZMin, c.Workspace.ZMax))
	}
	if c.Motion.DriftTolerance <= 0 {
		errs = append(errs, "motion.drift_tolerance must be positive")
	}
	if c.Timing.VacuumDelay < 0 || c.Timing.GrabDelay < 0 || c.Timing.ReleaseDelay < 0 {
		errs = append(errs, "timing delays must not be negative")
	}
	if c.Teach.Pick != nil {
		if err := c.Workspace.Validate(*c.Teach.Pick); err != nil {
			errs = append(errs, "teach.pick: "+err.Error())
		}
	}
	for i, h := range c.Teach.Hooks {
		if err := c.Workspace.Validate(h); err != nil {
			errs = append(errs, fmt.Sprintf("teach.hooks[%d]: %v", i, err))
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q unknown", c.Logging.Level))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Transport returns the serial settings for the transport package.
func (c *Config) Transport() transport.SerialConfig {
	return transport.SerialConfig{
		Port:            c.Serial.Port,
		BaudRate:        c.Serial.Baud,
		ConnectDelay:    c.Serial.ConnectDelay,
		ResponseTimeout: c.Serial.ResponseTimeout,
	}
}

// WorkflowTiming returns the delays for a workflow job.
func (c *Config) WorkflowTiming() workflow.Timing {
	return workflow.Timing{
		Vacuum:  c.Timing.VacuumDelay,
		Grab:    c.Timing.GrabDelay,
		Release: c.Timing.ReleaseDelay,
	}
}

// RecoveryPolicy returns the workflow recovery policy.
func (c *Config) RecoveryPolicy() workflow.RecoveryPolicy {
	return workflow.RecoveryPolicy{
		LiftToSafe: c.Recovery.LiftToSafe,
		Home:       c.Recovery.Home,
	}
}
