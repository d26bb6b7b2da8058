package teleop

import (
	"context"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Leader is one hand-held SO-101 arm on a serial servo bus. It is read-only
// from this package's point of view: torque stays disabled so the operator
// can move it freely, and only positions are sampled.
type Leader struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
	cal   Calibration
}

// OpenLeader connects to a leader arm.
func OpenLeader(port string, cal Calibration) (*Leader, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open leader bus %s: %w", port, err)
	}
	group := feetech.NewServoGroupByIDs(bus, cal.ServoIDs()...)
	return &Leader{bus: bus, group: group, cal: cal}, nil
}

// Passive disables torque on all servos so the arm can be moved by hand.
func (l *Leader) Passive(ctx context.Context) error {
	return l.group.DisableAll(ctx)
}

// Positions reads every servo and returns normalized positions in
// [-100, 100], keyed by motor name.
func (l *Leader) Positions(ctx context.Context) (map[MotorName]float64, error) {
	raw, err := l.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read leader positions: %w", err)
	}
	out := make(map[MotorName]float64, len(raw))
	for id, pos := range raw {
		name, mc, ok := l.cal.NameByID(id)
		if !ok {
			continue
		}
		out[name] = mc.Normalize(pos)
	}
	return out, nil
}

// Close releases the serial bus.
func (l *Leader) Close() error {
	return l.bus.Close()
}
