// Package teleop drives the ugo Pro follower from a pair of hand-held
// SO-101 leader arms: it reads the leader servos over serial, maps their
// positions onto follower joint targets, and feeds those to the follower's
// orchestrator at a fixed cadence.
package teleop

import (
	"encoding/json"
	"fmt"
	"os"
)

// MotorName identifies a servo in a leader arm.
type MotorName string

// Motor names for the SO-101 leader arm, in servo-ID order (1-6).
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// LeaderMotors returns all leader motor names in servo-ID order.
func LeaderMotors() []MotorName {
	return []MotorName{ShoulderPan, ShoulderLift, ElbowFlex, WristFlex, WristRoll, Gripper}
}

// MotorCalibration holds one servo's recorded range, in the same JSON form
// the LeRobot calibration flow writes.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Normalize converts a raw servo position to [-100, 100] across the
// recorded range.
func (c MotorCalibration) Normalize(raw int) float64 {
	span := float64(c.RangeMax - c.RangeMin)
	if span == 0 {
		return 0
	}
	return (float64(raw-c.RangeMin)/span)*200 - 100
}

// Denormalize converts a normalized value [-100, 100] back to a raw servo
// position.
func (c MotorCalibration) Denormalize(norm float64) int {
	span := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*span) + c.RangeMin
}

// Calibration holds the calibration for one leader arm, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// LoadCalibration reads a leader arm's calibration JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[MotorName(name)] = mc
	}
	return cal, nil
}

// Save writes the calibration to a JSON file.
func (c Calibration) Save(path string) error {
	raw := make(map[string]MotorCalibration, len(c))
	for name, mc := range c {
		raw[string(name)] = mc
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ServoIDs returns the servo bus IDs in LeaderMotors order, skipping motors
// without calibration.
func (c Calibration) ServoIDs() []int {
	ids := make([]int, 0, len(c))
	for _, name := range LeaderMotors() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// NameByID finds the motor name and calibration for a servo bus ID.
func (c Calibration) NameByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}
