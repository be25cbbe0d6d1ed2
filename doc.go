// Package bladeloader drives a Rotrics DexArm with a pneumatic suction cup to
// move blades from a pick point onto a row of hooks.
//
// Every move is planned as lift, travel, descend: the arm never travels in
// XY below the configured safe height. The tracked position is reconciled with
// the encoders after homing, teach mode and on request.
//
// # Installation
//
//	go install github.com/gwillem/bladeloader/cmd/bladeloader@latest
//
// # Usage
//
// First, pick the serial port and safe height:
//
//	bladeloader setup
//
// Record the pick point and hooks by moving the arm by hand:
//
//	bladeloader teach
//
// Then run a loading cycle:
//
//	bladeloader cycle
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/bladeloader: CLI with setup, teach, cycle and manual commands
//   - pkg/gcode: DexArm command encoding and response parsing
//   - pkg/motion: Positions, workspace limits and the safe-Z planner
//   - pkg/transport: Serial and simulated links to the arm
//   - pkg/executor: Command queue and audit trail
//   - pkg/audit: SQLite store for the audit trail
//   - pkg/position: Tracked position, teach mode and drift checks
//   - pkg/arm: Arm state applied from executed commands
//   - pkg/workflow: Loading cycle state machine
//   - pkg/controller: Facade used by the CLI
//   - pkg/config, pkg/logging, pkg/events: YAML config, slog setup and MQTT events
package bladeloader
