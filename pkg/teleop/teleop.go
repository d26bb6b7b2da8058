package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gwillem/ugo-pro/pkg/command"
	"github.com/gwillem/ugo-pro/pkg/follower"
)

// State is one control-loop step's outcome, published for UIs.
type State struct {
	// TargetsDeg is what was requested of the follower this step.
	TargetsDeg map[int]float64
	// ObservedDeg holds the follower's reported joint angles, entries
	// with readable values only.
	ObservedDeg map[int]float64
	// Supervisor is the follower's fail-safe mode at the time of the step.
	Supervisor follower.SupervisorState
	Timestamp  time.Time
	Error      error
}

// Config holds the teleoperation loop's knobs.
type Config struct {
	LeftPort         string
	LeftCalibration  string
	RightPort        string
	RightCalibration string
	Hz               int
	Gain             float64
	Mirror           bool
	Role             Role
}

// Controller runs the leader-to-follower control loop: sample the leader
// servos, map them to joint targets, send. States and log lines go out on
// buffered channels so a UI can render them without touching the loop.
type Controller struct {
	left   *Leader
	right  *Leader
	fol    *follower.Follower
	mapper Mapper
	hz     int

	mu      sync.Mutex
	running bool
	stateCh chan State
	logCh   chan string
}

// NewController opens the configured leader arms and wires them to an
// already-constructed (but not yet connected) follower. A role that masks
// out an arm makes that arm's port optional.
func NewController(cfg Config, fol *follower.Follower, folCfg *follower.Config) (*Controller, error) {
	if cfg.Hz <= 0 {
		cfg.Hz = 100
	}
	role := cfg.Role
	if role == "" {
		role = RoleDual
	}

	c := &Controller{
		fol: fol,
		hz:  cfg.Hz,
		mapper: Mapper{
			LeftBindings:  DefaultBindings(folCfg.LeftArmIDs),
			RightBindings: DefaultBindings(folCfg.RightArmIDs),
			Gain:          cfg.Gain,
			Mirror:        cfg.Mirror,
			Role:          role,
		},
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}

	var err error
	if role != RoleRight {
		if c.left, err = openArm(cfg.LeftPort, cfg.LeftCalibration); err != nil {
			return nil, fmt.Errorf("left leader: %w", err)
		}
	}
	if role != RoleLeft {
		if c.right, err = openArm(cfg.RightPort, cfg.RightCalibration); err != nil {
			if c.left != nil {
				c.left.Close()
			}
			return nil, fmt.Errorf("right leader: %w", err)
		}
	}
	return c, nil
}

func openArm(port, calPath string) (*Leader, error) {
	if port == "" {
		return nil, fmt.Errorf("no serial port configured")
	}
	cal, err := LoadCalibration(calPath)
	if err != nil {
		return nil, err
	}
	return OpenLeader(port, cal)
}

// States returns the channel of per-step state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns the channel of human-readable log lines.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if the UI is not draining.
	}
}

// Start connects the follower and runs the control loop until the context
// is cancelled or telemetry reception fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.fol.Connect(ctx); err != nil {
		return fmt.Errorf("connect follower: %w", err)
	}
	c.log("Follower connected")

	for _, l := range []*Leader{c.left, c.right} {
		if l == nil {
			continue
		}
		if err := l.Passive(ctx); err != nil {
			c.log("Warning: failed to release leader torque: %v", err)
		}
	}
	c.log("Teleoperation started at %d Hz", c.hz)

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case err := <-c.fol.Err():
			c.log("Telemetry lost: %v", err)
			c.shutdown()
			return err
		case <-ticker.C:
			c.step(ctx)
		}
	}
}

func (c *Controller) step(ctx context.Context) {
	var leftPos, rightPos map[MotorName]float64
	var err error
	if c.left != nil {
		if leftPos, err = c.left.Positions(ctx); err != nil {
			c.log("Left leader read error: %v", err)
			c.sendState(State{Error: err, Timestamp: time.Now()})
			return
		}
	}
	if c.right != nil {
		if rightPos, err = c.right.Positions(ctx); err != nil {
			c.log("Right leader read error: %v", err)
			c.sendState(State{Error: err, Timestamp: time.Now()})
			return
		}
	}

	targets := c.mapper.Map(leftPos, rightPos)
	_, err = c.fol.SendAction(ctx, follower.Request{
		TargetsDeg: targets,
		Mode:       command.ModeAbsolute,
	})
	if err != nil && !errors.Is(err, command.ErrRateLimited) {
		c.log("Send error: %v", err)
	}

	c.sendState(State{
		TargetsDeg:  targets,
		ObservedDeg: c.observedAngles(),
		Supervisor:  c.fol.Mode(),
		Timestamp:   time.Now(),
	})
}

func (c *Controller) observedAngles() map[int]float64 {
	frame, ok := c.fol.Snapshot()
	if !ok {
		return nil
	}
	out := make(map[int]float64, len(frame.Angles))
	for id, v := range frame.Angles {
		if !math.IsNaN(v) {
			out[id] = v
		}
	}
	return out
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Replace the stale state if the UI fell behind.
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.fol.Disconnect(); err != nil {
		c.log("Warning: follower disconnect: %v", err)
	}
	c.log("Teleoperation stopped")
}

// Close releases the leader serial buses. The follower is disconnected by
// the control loop's shutdown; Close only handles the serial side.
func (c *Controller) Close() error {
	var errs []error
	for _, l := range []*Leader{c.left, c.right} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
