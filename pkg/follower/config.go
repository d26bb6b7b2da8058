// Package follower bridges a host runtime to the ugo Pro dual-arm
// controller: it owns the telemetry and command UDP paths, validates and
// resolves joint-target requests, and falls back to a hold posture when
// telemetry goes stale.
package follower

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gwillem/ugo-pro/pkg/command"
)

// DefaultConfigFile is where Load looks for the robot configuration.
const DefaultConfigFile = "ugo.json"

// Default joint numbering: seven joints per arm, left arm 21-27, right arm
// 11-17. The wire order is always left arm then right arm.
var (
	DefaultLeftIDs  = []int{21, 22, 23, 24, 25, 26, 27}
	DefaultRightIDs = []int{11, 12, 13, 14, 15, 16, 17}
)

// LeaderArm points at one leader arm's serial port and calibration file,
// used by the teleoperation loop. Unset when no leader hardware is attached.
type LeaderArm struct {
	Port        string `json:"port"`
	Calibration string `json:"calibration,omitempty"`
}

// LeaderConfig holds the serial-side leader arms.
type LeaderConfig struct {
	Left  LeaderArm `json:"left"`
	Right LeaderArm `json:"right"`
}

// Config holds the follower's network endpoints, joint topology and safety
// knobs. It round-trips through ugo.json.
type Config struct {
	// TelemetryAddr is the local host:port bound for inbound telemetry.
	TelemetryAddr string `json:"telemetry_addr"`
	// ControllerAddr is the controller's command host:port.
	ControllerAddr string `json:"controller_addr"`
	// CommandBindAddr optionally pins the outbound socket's local address.
	CommandBindAddr string `json:"command_bind_addr,omitempty"`

	LeftArmIDs  []int          `json:"left_arm_ids"`
	RightArmIDs []int          `json:"right_arm_ids"`
	Limits      command.Limits `json:"joint_limits_deg"`

	// TimeoutSec is the telemetry staleness threshold for the fail-safe
	// supervisor.
	TimeoutSec float64 `json:"timeout_sec"`
	// CommandIntervalMS is the minimum spacing between command packets.
	CommandIntervalMS float64 `json:"command_interval_ms"`
	// BlockingSend selects the transmitter's rate-limit policy.
	BlockingSend bool `json:"blocking_send"`

	// VelocityLimitRaw and TorqueLimitRaw, when non-zero, are applied as
	// uniform spd/trq rows on every command that does not carry its own.
	// Raw controller units, no physical unit assumed.
	VelocityLimitRaw int `json:"velocity_limit_raw,omitempty"`
	TorqueLimitRaw   int `json:"torque_limit_raw,omitempty"`

	// CommandHistorySize bounds the ring of recently sent commands kept
	// for observation; 0 means DefaultHistorySize.
	CommandHistorySize int `json:"command_history_size,omitempty"`

	Leader LeaderConfig `json:"leader,omitempty"`
}

// DefaultHistorySize matches the controller-side command log depth.
const DefaultHistorySize = 32

// DefaultConfig returns a config for the stock dual-arm setup with ±180°
// limits on every joint.
func DefaultConfig() *Config {
	cfg := &Config{
		TelemetryAddr:     "0.0.0.0:8886",
		ControllerAddr:    "192.168.4.40:8888",
		LeftArmIDs:        append([]int(nil), DefaultLeftIDs...),
		RightArmIDs:       append([]int(nil), DefaultRightIDs...),
		Limits:            command.Limits{},
		TimeoutSec:        0.2,
		CommandIntervalMS: 10,
		BlockingSend:      true,
		VelocityLimitRaw:  512,
		TorqueLimitRaw:    1023,
	}
	for _, id := range cfg.AllJointIDs() {
		cfg.Limits[id] = command.Limit{Min: -180, Max: 180}
	}
	return cfg
}

// AllJointIDs returns the full arm set in wire order, left arm first.
func (c *Config) AllJointIDs() []int {
	out := make([]int, 0, len(c.LeftArmIDs)+len(c.RightArmIDs))
	out = append(out, c.LeftArmIDs...)
	return append(out, c.RightArmIDs...)
}

// HasJoint reports whether id belongs to the configured arm set.
func (c *Config) HasJoint(id int) bool {
	_, ok := c.Limits[id]
	return ok
}

// LimitFor returns the configured limit for a joint.
func (c *Config) LimitFor(id int) command.Limit {
	return c.Limits[id]
}

// Timeout returns the staleness threshold as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec * float64(time.Second))
}

// CommandInterval returns the minimum inter-send interval as a duration.
func (c *Config) CommandInterval() time.Duration {
	return time.Duration(c.CommandIntervalMS * float64(time.Millisecond))
}

// Validate checks endpoints, joint IDs and limits. Called by Load and by
// NewFollower, so a hand-built config gets the same scrutiny as a file.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"telemetry_addr":  c.TelemetryAddr,
		"controller_addr": c.ControllerAddr,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s %q: %w", name, addr, err)
		}
	}
	if c.CommandBindAddr != "" {
		if _, _, err := net.SplitHostPort(c.CommandBindAddr); err != nil {
			return fmt.Errorf("command_bind_addr %q: %w", c.CommandBindAddr, err)
		}
	}
	if len(c.LeftArmIDs) == 0 || len(c.RightArmIDs) == 0 {
		return fmt.Errorf("left_arm_ids and right_arm_ids cannot be empty")
	}
	seen := make(map[int]bool)
	for _, id := range c.AllJointIDs() {
		if id <= 0 {
			return fmt.Errorf("joint id %d: must be a positive integer", id)
		}
		if seen[id] {
			return fmt.Errorf("joint id %d appears in both arms", id)
		}
		seen[id] = true
		lim, ok := c.Limits[id]
		if !ok {
			return fmt.Errorf("joint_limits_deg missing entry for joint %d", id)
		}
		if lim.Min >= lim.Max {
			return fmt.Errorf("joint %d: limit min %.1f >= max %.1f", id, lim.Min, lim.Max)
		}
	}
	for id := range c.Limits {
		if !seen[id] {
			return fmt.Errorf("joint_limits_deg has entry for unconfigured joint %d", id)
		}
	}
	if c.TimeoutSec <= 0 {
		return fmt.Errorf("timeout_sec must be greater than zero")
	}
	if c.CommandIntervalMS <= 0 {
		return fmt.Errorf("command_interval_ms must be greater than zero")
	}
	return nil
}

// Load loads the configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom loads and validates configuration from a specific file.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo writes the configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
