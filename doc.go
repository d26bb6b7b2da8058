// Package ugopro bridges a teleoperation runtime to the ugo Pro dual-arm
// robot over UDP.
//
// The robot's control box streams line-oriented CSV telemetry (joint
// angles, velocities, currents) and accepts joint-target commands in a
// matching CSV format. This module parses that stream into consistent
// frames, keeps the latest robot state available to concurrent readers,
// rate-limits outbound commands, and freezes the arms at the last sent
// targets when telemetry goes stale.
//
// # Installation
//
//	go install github.com/gwillem/ugo-pro/cmd/ugo@latest
//
// # Usage
//
// First, run setup to detect and calibrate the leader arms and record the
// controller address:
//
//	ugo setup
//
// Then start teleoperation:
//
//	ugo teleoperate
//
// Without robot hardware, a controller emulator and a telemetry viewer are
// available:
//
//	ugo mock-controller
//	ugo monitor --controller 127.0.0.1:8888
//
// # Packages
//
//   - cmd/ugo: CLI with setup, teleoperate, monitor and mock-controller commands
//   - pkg/telemetry: CSV telemetry parsing, latest-frame store, UDP receiver
//   - pkg/command: command encoding and rate-limited UDP transmission
//   - pkg/follower: configuration, request resolution and the fail-safe supervisor
//   - pkg/teleop: leader arms, position mapping and the control loop
package ugopro
