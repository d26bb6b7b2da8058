package teleop

import (
	"math"
	"testing"
)

func mapperFixture() Mapper {
	return Mapper{
		LeftBindings:  DefaultBindings([]int{21, 22, 23, 24, 25, 26, 27}),
		RightBindings: DefaultBindings([]int{11, 12, 13, 14, 15, 16, 17}),
	}
}

func approx(t *testing.T, got map[int]float64, id int, want float64) {
	t.Helper()
	v, ok := got[id]
	if !ok {
		t.Fatalf("joint %d missing from targets %v", id, got)
	}
	if math.Abs(v-want) > 0.001 {
		t.Errorf("joint %d = %f, want %f", id, v, want)
	}
}

func TestDefaultBindings(t *testing.T) {
	b := DefaultBindings([]int{11, 12, 13, 14, 15, 16, 17})
	if len(b) != 6 {
		t.Fatalf("got %d bindings, want 6", len(b))
	}
	if b[ShoulderPan] != 11 || b[Gripper] != 16 {
		t.Errorf("unexpected bindings: %v", b)
	}

	// Fewer joints than leader motors is allowed; extras are unbound.
	b = DefaultBindings([]int{31, 32})
	if len(b) != 2 || b[ShoulderLift] != 32 {
		t.Errorf("unexpected short bindings: %v", b)
	}
}

func TestMapperDualArms(t *testing.T) {
	m := mapperFixture()
	targets := m.Map(
		map[MotorName]float64{ShoulderPan: 100, Gripper: -50},
		map[MotorName]float64{ShoulderPan: -100},
	)

	approx(t, targets, 21, 90.0)  // full deflection -> 90 degrees
	approx(t, targets, 26, -45.0) // half deflection -> -45 degrees
	approx(t, targets, 11, -90.0)
	if len(targets) != 3 {
		t.Errorf("got %d targets, want 3: %v", len(targets), targets)
	}
}

func TestMapperGain(t *testing.T) {
	m := mapperFixture()
	m.Gain = 0.5
	targets := m.Map(map[MotorName]float64{ShoulderPan: 100}, nil)
	approx(t, targets, 21, 45.0)
}

func TestMapperMirror(t *testing.T) {
	m := mapperFixture()
	m.Mirror = true
	targets := m.Map(
		map[MotorName]float64{ShoulderPan: 100},
		map[MotorName]float64{ShoulderPan: -20},
	)

	// The left leader drives the right follower arm and vice versa.
	approx(t, targets, 11, 90.0)
	approx(t, targets, 21, -18.0)
}

func TestMapperRoleMasksArm(t *testing.T) {
	m := mapperFixture()
	m.Role = RoleLeft
	targets := m.Map(
		map[MotorName]float64{ShoulderPan: 50},
		map[MotorName]float64{ShoulderPan: 50},
	)

	approx(t, targets, 21, 45.0)
	if _, ok := targets[11]; ok {
		t.Error("right-arm joint mapped despite RoleLeft")
	}
}

func TestMapperNilPositions(t *testing.T) {
	m := mapperFixture()
	targets := m.Map(nil, nil)
	if len(targets) != 0 {
		t.Errorf("expected no targets, got %v", targets)
	}
}

func TestMapperUnboundMotorSkipped(t *testing.T) {
	m := Mapper{LeftBindings: map[MotorName]int{ShoulderPan: 21}}
	targets := m.Map(map[MotorName]float64{ShoulderPan: 10, WristRoll: 10}, nil)
	if len(targets) != 1 {
		t.Errorf("unbound motor leaked into targets: %v", targets)
	}
}

func TestMapperCustomScale(t *testing.T) {
	m := mapperFixture()
	m.DegreesPerUnit = 1.8
	targets := m.Map(map[MotorName]float64{ShoulderPan: 100}, nil)
	approx(t, targets, 21, 180.0)
}
