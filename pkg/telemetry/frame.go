// Package telemetry decodes the controller's UDP CSV telemetry stream and
// holds the latest decoded joint state.
package telemetry

import "time"

// Health describes how complete a decoded telemetry cycle was.
type Health string

const (
	// HealthOk means every expected row was present and every cell decoded.
	HealthOk Health = "ok"
	// HealthPartial means at least one row or cell was missing or malformed.
	HealthPartial Health = "partial"
	// HealthUnknownJoints means no joint-ID declaration has been seen yet,
	// so cycles are being buffered instead of emitted.
	HealthUnknownJoints Health = "unknown_joints"
)

// Frame is an immutable snapshot of one decoded telemetry cycle. Once a
// Frame has been handed to a Store it must not be mutated.
type Frame struct {
	// JointIDs is the declared joint ordering for this cycle.
	JointIDs []int

	// Angles maps joint ID to the reported angle in degrees (wire value /
	// 10). Keys are always exactly JointIDs; a cell that was missing or
	// malformed is NaN.
	Angles map[int]float64

	// Velocities and Currents carry the optional vel/cur rows as raw
	// controller units. The unit and scaling of the current row is
	// unspecified upstream; treat it as opaque. Nil when the row was absent.
	Velocities map[int]int
	Currents   map[int]int

	// TargetsEcho reflects the controller's last-applied target per joint
	// (the onj_agl row), in degrees. Nil when absent.
	TargetsEcho map[int]float64

	// Controller-reported timing for the cycle that produced this frame.
	CycleIntervalMS float64
	ReadLatencyMS   float64
	WriteLatencyMS  float64

	// ReceivedAt is the local time when the frame was fully assembled.
	ReceivedAt time.Time

	// MissingFields counts absent expected rows, dropped mismatched rows,
	// and malformed cells within the cycle.
	MissingFields int

	Health Health
}

// Angle returns the reported angle for a joint and whether it was present.
func (f *Frame) Angle(id int) (float64, bool) {
	v, ok := f.Angles[id]
	return v, ok
}
