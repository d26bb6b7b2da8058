package follower

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/ugo-pro/pkg/command"
	"github.com/gwillem/ugo-pro/pkg/telemetry"
)

// SupervisorState is the fail-safe supervisor's mode.
type SupervisorState int

const (
	// StateStreaming means telemetry is fresh and commands flow normally.
	StateStreaming SupervisorState = iota
	// StateStale means telemetry age crossed the timeout but no hold has
	// been sent yet. This state is transient; the supervisor moves to
	// Holding as soon as the hold command goes out.
	StateStale
	// StateHolding means the hold command is actively being sent.
	StateHolding
)

func (s SupervisorState) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateStale:
		return "stale"
	case StateHolding:
		return "holding"
	}
	return "unknown"
}

// Supervisor watches the store's freshness and, when telemetry goes stale,
// overrides normal command flow with a hold built from the last known-safe
// targets. Those are the last *transmitted* targets, not the last observed
// telemetry: the controller was already tracking toward them, while stale
// telemetry would freeze the arm at an old observed pose and jerk it there.
//
// A supervisor starts in Stale: until the first frame arrives the robot is
// treated as unsupervised and held.
type Supervisor struct {
	store   *telemetry.Store
	tx      *command.Transmitter
	timeout time.Duration
	poll    time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	state    SupervisorState
	lastSafe *command.Command
}

// NewSupervisor builds a supervisor polling the store at a quarter of the
// staleness timeout (bounded to 5-50 ms). fallback provides the hold
// targets used before any command has been sent; usually the neutral pose.
func NewSupervisor(store *telemetry.Store, tx *command.Transmitter, timeout time.Duration, fallback *command.Command, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	poll := timeout / 4
	if poll < 5*time.Millisecond {
		poll = 5 * time.Millisecond
	}
	if poll > 50*time.Millisecond {
		poll = 50 * time.Millisecond
	}
	return &Supervisor{
		store:    store,
		tx:       tx,
		timeout:  timeout,
		poll:     poll,
		log:      logger.With("component", "supervisor"),
		state:    StateStale,
		lastSafe: fallback.Clone(),
	}
}

// Run polls freshness until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check performs one freshness check and the resulting transition, sending
// a hold command when entering or remaining in the stale regime.
func (s *Supervisor) Check(ctx context.Context) {
	if s.store.Age() < s.timeout {
		s.mu.Lock()
		if s.state != StateStreaming {
			s.log.Info("telemetry fresh, resuming", "from", s.state.String())
			s.state = StateStreaming
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.state == StateStreaming {
		s.log.Warn("telemetry stale, freezing at last sent targets",
			"age", s.store.Age(), "timeout", s.timeout)
	}
	s.state = StateStale
	hold := s.holdCommandLocked()
	s.mu.Unlock()

	// Re-sent on every poll while stale; the transmitter's rate limit
	// bounds the wire rate, so a dropped re-send is expected with a
	// non-blocking transmitter.
	if err := s.tx.Send(ctx, hold); err != nil && !errors.Is(err, command.ErrRateLimited) {
		s.log.Error("hold command failed", "err", err)
	}

	s.mu.Lock()
	s.state = StateHolding
	s.mu.Unlock()
}

// holdCommandLocked builds the hold command from lastSafe. Caller holds mu.
func (s *Supervisor) holdCommandLocked() *command.Command {
	hold := s.lastSafe.Clone()
	hold.Mode = command.ModeHold
	hold.Reason = command.ReasonTelemetryTimeout
	hold.Sync = nil
	return hold
}

// State returns the current supervisor mode.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Holding reports whether external requests must be overridden with Hold.
func (s *Supervisor) Holding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateStreaming
}

// RecordSafeTargets notes a successfully transmitted non-hold command as
// the freeze pose for a future timeout.
func (s *Supervisor) RecordSafeTargets(cmd *command.Command) {
	if cmd == nil || cmd.Mode == command.ModeHold {
		return
	}
	s.mu.Lock()
	s.lastSafe = cmd.Clone()
	s.mu.Unlock()
}

// LastSafeTargets returns a copy of the targets a hold would freeze at.
func (s *Supervisor) LastSafeTargets() *command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSafe.Clone()
}
