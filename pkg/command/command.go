// Package command serializes joint-target commands into the controller's
// CSV wire format and transmits them over UDP at a bounded rate.
package command

import (
	"errors"
	"fmt"
)

// Mode selects how the controller interprets the target row.
type Mode string

const (
	// ModeAbsolute commands absolute joint angles.
	ModeAbsolute Mode = "abs"
	// ModeRelative commands offsets from the current pose.
	ModeRelative Mode = "rel"
	// ModeHold freezes the controller at the carried targets; used as the
	// fail-safe posture.
	ModeHold Mode = "hold"
)

// ReasonTelemetryTimeout tags hold commands triggered by telemetry loss.
const ReasonTelemetryTimeout = "telemetry_timeout"

// ErrRateLimited is returned by a non-blocking Transmitter when the minimum
// inter-send interval has not elapsed. The caller may retry later.
var ErrRateLimited = errors.New("command rate limited")

// ErrNotConnected is returned when the outbound socket is not open.
var ErrNotConnected = errors.New("command socket not connected")

// Limit bounds a joint's commanded angle in degrees.
type Limit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp returns v bounded to the limit.
func (l Limit) Clamp(v float64) float64 {
	return min(max(v, l.Min), l.Max)
}

// Mid returns the midpoint of the limit range, used as the neutral default
// for a joint that has never been commanded.
func (l Limit) Mid() float64 {
	return (l.Min + l.Max) / 2
}

// Limits maps joint ID to its commanded-angle bounds.
type Limits map[int]Limit

// Command is a fully resolved, clipped, ordered joint-target set ready for
// encoding. Every joint of the configured arm set appears exactly once, in
// the fixed left-then-right order; TargetsDeg is index-aligned with IDs.
type Command struct {
	IDs        []int
	TargetsDeg []float64
	// SpeedsRaw and TorquesRaw are optional per-joint ceilings in raw
	// controller units; nil or index-aligned with IDs.
	SpeedsRaw  []int
	TorquesRaw []int
	Mode       Mode
	// IntervalEchoMS mirrors the most recent telemetry cycle interval so
	// the controller can detect delayed commands.
	IntervalEchoMS float64
	// Reason tags the cmd row (e.g. ReasonTelemetryTimeout on a fail-safe
	// hold). Empty for ordinary commands.
	Reason string
	// Sync is passed through to the sync row untouched; its upstream
	// semantics (timestamp vs sequence number) are unresolved, so nothing
	// here interprets it. Nil selects the encoder's default.
	Sync []string
}

// Clone returns a deep copy, so a retained command (last-safe targets)
// cannot alias a caller's slices.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	out := &Command{
		Mode:           c.Mode,
		IntervalEchoMS: c.IntervalEchoMS,
		Reason:         c.Reason,
	}
	out.IDs = append([]int(nil), c.IDs...)
	out.TargetsDeg = append([]float64(nil), c.TargetsDeg...)
	if c.SpeedsRaw != nil {
		out.SpeedsRaw = append([]int(nil), c.SpeedsRaw...)
	}
	if c.TorquesRaw != nil {
		out.TorquesRaw = append([]int(nil), c.TorquesRaw...)
	}
	if c.Sync != nil {
		out.Sync = append([]string(nil), c.Sync...)
	}
	return out
}

// Target returns the command's target for a joint and whether it is present.
func (c *Command) Target(id int) (float64, bool) {
	for i, jid := range c.IDs {
		if jid == id {
			return c.TargetsDeg[i], true
		}
	}
	return 0, false
}

// EncodingError reports a command the encoder refused to serialize.
type EncodingError struct {
	JointID int
	Value   float64
	Detail  string
}

func (e *EncodingError) Error() string {
	if e.JointID != 0 {
		return fmt.Sprintf("encode command: joint %d value %.1f: %s", e.JointID, e.Value, e.Detail)
	}
	return fmt.Sprintf("encode command: %s", e.Detail)
}
