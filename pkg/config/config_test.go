package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwillem/bladeloader/pkg/motion"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bladeloader.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyACM0
motion:
  safe_z: 40
timing:
  grab_delay: 750ms
teach:
  pick: {x: 100, y: 250, z: -40}
  hooks:
    - {x: -100, y: 350, z: 10}
    - {x: -50, y: 350, z: 10}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyACM0")
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %d, want default 115200", cfg.Serial.Baud)
	}
	if cfg.Motion.SafeZ != 40 {
		t.Errorf("Motion.SafeZ = %v, want 40", cfg.Motion.SafeZ)
	}
	if cfg.Motion.Feedrate != 3000 {
		t.Errorf("Motion.Feedrate = %d, want default 3000", cfg.Motion.Feedrate)
	}
	if cfg.Timing.GrabDelay != 750*time.Millisecond {
		t.Errorf("Timing.GrabDelay = %v, want 750ms", cfg.Timing.GrabDelay)
	}
	if cfg.Timing.VacuumDelay != 300*time.Millisecond {
		t.Errorf("Timing.VacuumDelay = %v, want default 300ms", cfg.Timing.VacuumDelay)
	}
	if want := (motion.Position{X: 100, Y: 250, Z: -40}); cfg.Teach.Pick == nil || *cfg.Teach.Pick != want {
		t.Errorf("Teach.Pick = %v, want %v", cfg.Teach.Pick, want)
	}
	if len(cfg.Teach.Hooks) != 2 {
		t.Errorf("len(Teach.Hooks) = %d, want 2", len(cfg.Teach.Hooks))
	}
	if got := cfg.WorkflowTiming().Grab; got != 750*time.Millisecond {
		t.Errorf("WorkflowTiming().Grab = %v, want 750ms", got)
	}
	if got := cfg.Transport().BaudRate; got != 115200 {
		t.Errorf("Transport().BaudRate = %d, want 115200", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() err = %v, want ErrNotExist", err)
	}

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || cfg == nil {
		t.Fatalf("LoadOrDefault() = %v, %v", cfg, err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"safe z above range", func(c *Config) { c.Motion.SafeZ = 500 }, "motion.safe_z"},
		{"zero feedrate", func(c *Config) { c.Motion.Feedrate = 0 }, "motion.feedrate"},
		{"pick outside", func(c *Config) { c.Teach.Pick = &motion.Position{X: 350, Y: 300} }, "teach.pick"},
		{"hook outside reach", func(c *Config) {
			c.Teach.Hooks = []motion.Position{{X: 290, Y: 440}}
		}, "teach.hooks[0]"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "mqtt.broker"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"inverted limits", func(c *Config) { c.Workspace.XMin = 400 }, "workspace"},
		{"negative delay", func(c *Config) { c.Timing.GrabDelay = -time.Second }, "timing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", DefaultConfigFile)
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Teach.Pick = &motion.Position{X: 10, Y: 300, Z: -20}
	cfg.Teach.Hooks = []motion.Position{{X: -100, Y: 350, Z: 10}}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !Exists(path) {
		t.Fatal("Exists() = false after Save")
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Serial.Port != cfg.Serial.Port || *got.Teach.Pick != *cfg.Teach.Pick || got.Teach.Hooks[0] != cfg.Teach.Hooks[0] {
		t.Errorf("Load(Save(cfg)) = %+v, want %+v", got, cfg)
	}
	if got.Serial.ConnectDelay != 2*time.Second {
		t.Errorf("ConnectDelay = %v, want 2s", got.Serial.ConnectDelay)
	}
}
