package follower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gwillem/ugo-pro/pkg/command"
	"github.com/gwillem/ugo-pro/pkg/telemetry"
)

// ErrNotConnected is returned by operations that need open sockets.
var ErrNotConnected = errors.New("follower not connected")

// UnknownJointError reports a request naming a joint outside the configured
// arm set. The request is rejected before any transmission.
type UnknownJointError struct {
	JointID int
}

func (e *UnknownJointError) Error() string {
	return fmt.Sprintf("unknown joint id %d", e.JointID)
}

// Request is an external joint-target intent. Joints absent from TargetsDeg
// are filled from the last successfully transmitted value, so a request may
// name any subset of the arm set.
type Request struct {
	TargetsDeg map[int]float64
	// SpeedsRaw and TorquesRaw are optional per-joint ceilings in raw
	// controller units.
	SpeedsRaw  map[int]int
	TorquesRaw map[int]int
	// Mode defaults to Absolute. Ignored (forced to Hold) while the
	// supervisor is holding.
	Mode command.Mode
	// Sync is passed through to the wire opaque; nil selects the default.
	Sync []string
}

// ClampEvent records a target that was clipped to its joint limit.
// Non-fatal; the clamped value was sent.
type ClampEvent struct {
	JointID   int
	Requested float64
	Applied   float64
}

// Result reports what a resolved request actually put on the wire.
type Result struct {
	Mode       command.Mode
	TargetsDeg map[int]float64
	Clamped    []ClampEvent
}

// HistoryEntry is one transmitted command, kept in a bounded ring for
// observation.
type HistoryEntry struct {
	At      time.Time
	Command *command.Command
}

// Follower composes the telemetry and command paths behind the host
// runtime's device contract: Connect/Disconnect for lifecycle, Snapshot and
// Observation for reads, SendAction for writes. The two UDP paths are
// independent failure domains; losing one does not take down the other.
type Follower struct {
	cfg    *Config
	store  *telemetry.Store
	parser *telemetry.Parser
	recv   *telemetry.Receiver
	tx     *command.Transmitter
	sup    *Supervisor
	log    *slog.Logger

	mu        sync.Mutex
	connected bool
	lastSent  map[int]float64
	history   []HistoryEntry
	cancel    context.CancelFunc
	done      chan struct{}
	errCh     chan error
}

// NewFollower validates the config and wires the component graph. No
// sockets are opened until Connect.
func NewFollower(cfg *Config, logger *slog.Logger) (*Follower, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("follower config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := telemetry.NewStore()
	parser := telemetry.NewParser()
	recv := telemetry.NewReceiver(telemetry.ReceiverConfig{
		Addr:   cfg.TelemetryAddr,
		Logger: logger,
	}, parser, store)

	tx := command.NewTransmitter(command.TransmitterConfig{
		RemoteAddr:  cfg.ControllerAddr,
		LocalAddr:   cfg.CommandBindAddr,
		MinInterval: cfg.CommandInterval(),
		Blocking:    cfg.BlockingSend,
		Logger:      logger,
	}, command.NewEncoder(cfg.Limits))

	f := &Follower{
		cfg:    cfg,
		store:  store,
		parser: parser,
		recv:   recv,
		tx:     tx,
		log:    logger.With("component", "follower"),
		errCh:  make(chan error, 1),
	}
	f.sup = NewSupervisor(store, tx, cfg.Timeout(), f.neutralCommand(), logger)
	return f, nil
}

// neutralCommand is the hold fallback before anything was ever sent: every
// joint at the midpoint of its limit range.
func (f *Follower) neutralCommand() *command.Command {
	ids := f.cfg.AllJointIDs()
	targets := make([]float64, len(ids))
	for i, id := range ids {
		targets[i] = f.cfg.LimitFor(id).Mid()
	}
	return &command.Command{
		IDs:        ids,
		TargetsDeg: targets,
		Mode:       command.ModeAbsolute,
	}
}

// Connect opens both sockets, wakes the controller, starts the receive loop
// and the fail-safe supervisor, then waits up to the staleness timeout for
// the controller's first joint-ID declaration. A missing declaration is not
// fatal; command packets fall back to the configured joint order, which is
// what the declaration normally confirms.
func (f *Follower) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return fmt.Errorf("follower already connected")
	}
	f.mu.Unlock()

	if err := f.recv.Listen(); err != nil {
		return err
	}
	if err := f.tx.Connect(); err != nil {
		f.recv.Close()
		return err
	}
	if err := f.tx.SendEmpty(); err != nil {
		f.log.Warn("controller wake packet failed", "err", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := f.recv.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			f.log.Error("telemetry receiver stopped", "err", err)
			select {
			case f.errCh <- err:
			default:
			}
		}
	}()
	go f.sup.Run(runCtx)

	f.mu.Lock()
	f.connected = true
	f.lastSent = make(map[int]float64)
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	f.waitForJointIDs(ctx)
	f.log.Info("connected", "controller", f.cfg.ControllerAddr)
	return nil
}

func (f *Follower) waitForJointIDs(ctx context.Context) {
	deadline := time.Now().Add(f.cfg.Timeout())
	for time.Now().Before(deadline) {
		if ids := f.parser.IDs(); ids != nil {
			f.log.Debug("joint ordering received", "ids", ids)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.log.Warn("no joint-id declaration yet, using configured order")
}

// Disconnect stops the supervisor and receive loop and closes both sockets.
func (f *Follower) Disconnect() error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connected = false
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	cancel()
	errRecv := f.recv.Close()
	<-done
	errTx := f.tx.Close()
	if errRecv != nil {
		return fmt.Errorf("close telemetry socket: %w", errRecv)
	}
	if errTx != nil {
		return fmt.Errorf("close command socket: %w", errTx)
	}
	f.log.Info("disconnected")
	return nil
}

// Err yields the telemetry receiver's terminal error, if any. The follower
// does not auto-reconnect; the owning lifecycle wrapper decides.
func (f *Follower) Err() <-chan error {
	return f.errCh
}

// Snapshot returns the latest telemetry frame.
func (f *Follower) Snapshot() (*telemetry.Frame, bool) {
	return f.store.Snapshot()
}

// TelemetryAge returns the staleness of the latest frame.
func (f *Follower) TelemetryAge() time.Duration {
	return f.store.Age()
}

// Mode returns the supervisor's current state.
func (f *Follower) Mode() SupervisorState {
	return f.sup.State()
}

// SendAction resolves and transmits an external joint-target request:
// validate IDs, clamp to limits, fill absent joints from the last sent
// value, override with Hold while the supervisor holds, then delegate to
// the transmitter.
func (f *Follower) SendAction(ctx context.Context, req Request) (Result, error) {
	f.mu.Lock()
	connected := f.connected
	f.mu.Unlock()
	if !connected {
		return Result{}, ErrNotConnected
	}

	for id := range req.TargetsDeg {
		if !f.cfg.HasJoint(id) {
			return Result{}, &UnknownJointError{JointID: id}
		}
	}
	for id := range req.SpeedsRaw {
		if !f.cfg.HasJoint(id) {
			return Result{}, &UnknownJointError{JointID: id}
		}
	}
	for id := range req.TorquesRaw {
		if !f.cfg.HasJoint(id) {
			return Result{}, &UnknownJointError{JointID: id}
		}
	}

	cmd, result := f.resolve(req)
	if f.sup.Holding() {
		// Normal flow is overridden: freeze at the last safe targets no
		// matter what was asked for.
		cmd = f.sup.LastSafeTargets()
		cmd.Mode = command.ModeHold
		cmd.Reason = command.ReasonTelemetryTimeout
		result = Result{Mode: command.ModeHold, TargetsDeg: targetMap(cmd)}
	}

	if err := f.tx.Send(ctx, cmd); err != nil {
		return result, err
	}

	f.mu.Lock()
	if cmd.Mode != command.ModeHold {
		for i, id := range cmd.IDs {
			f.lastSent[id] = cmd.TargetsDeg[i]
		}
	}
	f.pushHistoryLocked(cmd)
	f.mu.Unlock()
	f.sup.RecordSafeTargets(cmd)
	return result, nil
}

// resolve builds the full ordered OutboundCommand from a sparse request.
func (f *Follower) resolve(req Request) (*command.Command, Result) {
	ids := f.cfg.AllJointIDs()
	targets := make([]float64, len(ids))
	resolved := make(map[int]float64, len(ids))
	var clamped []ClampEvent

	f.mu.Lock()
	for i, id := range ids {
		lim := f.cfg.LimitFor(id)
		v, ok := req.TargetsDeg[id]
		if !ok {
			// Joint holds its last commanded position.
			if last, sent := f.lastSent[id]; sent {
				v = last
			} else {
				v = lim.Mid()
			}
		}
		applied := lim.Clamp(v)
		if ok && applied != v {
			clamped = append(clamped, ClampEvent{JointID: id, Requested: v, Applied: applied})
		}
		targets[i] = applied
		resolved[id] = applied
	}
	f.mu.Unlock()

	for _, ev := range clamped {
		f.log.Debug("target clamped to joint limit",
			"joint", ev.JointID, "requested", ev.Requested, "applied", ev.Applied)
	}

	mode := req.Mode
	if mode == "" {
		mode = command.ModeAbsolute
	}

	cmd := &command.Command{
		IDs:            ids,
		TargetsDeg:     targets,
		Mode:           mode,
		IntervalEchoMS: f.intervalEcho(),
		Sync:           req.Sync,
	}
	cmd.SpeedsRaw = f.ceilingRow(ids, req.SpeedsRaw, f.cfg.VelocityLimitRaw)
	cmd.TorquesRaw = f.ceilingRow(ids, req.TorquesRaw, f.cfg.TorqueLimitRaw)

	return cmd, Result{Mode: mode, TargetsDeg: resolved, Clamped: clamped}
}

// ceilingRow aligns a sparse per-joint ceiling map with the wire order,
// falling back to the configured default. Nil when neither is set.
func (f *Follower) ceilingRow(ids []int, req map[int]int, def int) []int {
	if len(req) == 0 && def == 0 {
		return nil
	}
	row := make([]int, len(ids))
	for i, id := range ids {
		if v, ok := req[id]; ok {
			row[i] = v
		} else {
			row[i] = def
		}
	}
	return row
}

// intervalEcho mirrors the most recent telemetry cycle interval so the
// controller can detect delayed commands.
func (f *Follower) intervalEcho() float64 {
	frame, ok := f.store.Snapshot()
	if !ok || math.IsNaN(frame.CycleIntervalMS) {
		return f.cfg.CommandIntervalMS
	}
	if frame.CycleIntervalMS == 0 {
		return f.cfg.CommandIntervalMS
	}
	return frame.CycleIntervalMS
}

func (f *Follower) pushHistoryLocked(cmd *command.Command) {
	size := f.cfg.CommandHistorySize
	if size == 0 {
		size = DefaultHistorySize
	}
	f.history = append(f.history, HistoryEntry{At: time.Now(), Command: cmd.Clone()})
	if len(f.history) > size {
		f.history = f.history[len(f.history)-size:]
	}
}

// History returns the transmitted-command ring, oldest first.
func (f *Follower) History() []HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]HistoryEntry(nil), f.history...)
}

// Observation flattens the latest frame into the key/value form the host
// runtime records: joint_<id>.pos_deg per joint plus packet age, cycle
// timing and frame health. Joints absent from telemetry are NaN.
func (f *Follower) Observation() map[string]any {
	obs := make(map[string]any)
	frame, ok := f.store.Snapshot()
	for _, id := range f.cfg.AllJointIDs() {
		key := fmt.Sprintf("joint_%d.pos_deg", id)
		if !ok {
			obs[key] = math.NaN()
			continue
		}
		if v, present := frame.Angle(id); present {
			obs[key] = v
		} else {
			obs[key] = math.NaN()
		}
	}
	if !ok {
		obs["packet_age_ms"] = math.NaN()
		obs["status.health"] = string(telemetry.HealthUnknownJoints)
		obs["status.missing_fields"] = 0
		return obs
	}
	obs["packet_age_ms"] = float64(f.store.Age()) / float64(time.Millisecond)
	obs["vsd_interval_ms"] = frame.CycleIntervalMS
	obs["vsd_read_ms"] = frame.ReadLatencyMS
	obs["vsd_write_ms"] = frame.WriteLatencyMS
	obs["status.health"] = string(frame.Health)
	obs["status.missing_fields"] = frame.MissingFields
	return obs
}

func targetMap(cmd *command.Command) map[int]float64 {
	out := make(map[int]float64, len(cmd.IDs))
	for i, id := range cmd.IDs {
		out[id] = cmd.TargetsDeg[i]
	}
	return out
}
