package teleop

// Role restricts which follower arm the teleoperation loop drives. Joints
// of the masked-out arm are simply omitted from the request; the follower's
// fill-with-last-value policy keeps them where they were.
type Role string

const (
	RoleDual  Role = "dual"
	RoleLeft  Role = "left"
	RoleRight Role = "right"
)

// DefaultDegreesPerUnit converts a leader's normalized [-100, 100] position
// into follower degrees: full deflection maps to ±90°.
const DefaultDegreesPerUnit = 0.9

// Mapper is the pure leader-to-follower remapping policy: it turns the two
// leaders' normalized motor positions into a joint-ID-keyed target map. No
// I/O, no state.
type Mapper struct {
	// LeftBindings and RightBindings assign each leader motor to a
	// follower joint ID on the matching arm.
	LeftBindings  map[MotorName]int
	RightBindings map[MotorName]int
	// Gain scales all targets; 1.0 is direct following.
	Gain float64
	// Mirror swaps the arms: the left leader drives the right follower
	// arm and vice versa, for face-to-face operation.
	Mirror bool
	Role   Role
	// DegreesPerUnit converts normalized position to degrees; 0 selects
	// DefaultDegreesPerUnit.
	DegreesPerUnit float64
}

// DefaultBindings assigns the six leader motors to the first six joints of
// an arm, in servo-ID order.
func DefaultBindings(armIDs []int) map[MotorName]int {
	out := make(map[MotorName]int)
	for i, name := range LeaderMotors() {
		if i >= len(armIDs) {
			break
		}
		out[name] = armIDs[i]
	}
	return out
}

// Map converts the two leaders' normalized positions into follower joint
// targets in degrees. A nil position map (leader absent) contributes no
// targets.
func (m *Mapper) Map(left, right map[MotorName]float64) map[int]float64 {
	if m.Mirror {
		left, right = right, left
	}

	scale := m.DegreesPerUnit
	if scale == 0 {
		scale = DefaultDegreesPerUnit
	}
	gain := m.Gain
	if gain == 0 {
		gain = 1.0
	}

	targets := make(map[int]float64)
	if m.Role != RoleRight {
		m.applyArm(targets, m.LeftBindings, left, scale*gain)
	}
	if m.Role != RoleLeft {
		m.applyArm(targets, m.RightBindings, right, scale*gain)
	}
	return targets
}

func (m *Mapper) applyArm(targets map[int]float64, bindings map[MotorName]int, positions map[MotorName]float64, scale float64) {
	for name, norm := range positions {
		id, ok := bindings[name]
		if !ok {
			continue
		}
		targets[id] = norm * scale
	}
}
