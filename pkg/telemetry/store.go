package telemetry

import (
	"math"
	"sync/atomic"
	"time"
)

// AgeUnknown is returned by Store.Age before any frame has arrived.
const AgeUnknown = time.Duration(math.MaxInt64)

type stamped struct {
	frame *Frame
	at    time.Time
}

// Store holds the most recent telemetry frame. Updates replace the held
// frame and its arrival time in a single pointer swap, so readers never
// observe a frame mixing fields from two cycles and never block the writer.
// One writer (the receive loop), any number of readers.
//
// No history is retained; only the latest frame matters, which bounds memory
// regardless of backpressure.
type Store struct {
	cell atomic.Pointer[stamped]
	now  func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Update replaces the held frame. The frame must not be mutated afterwards.
func (s *Store) Update(f *Frame) {
	s.cell.Store(&stamped{frame: f, at: s.now()})
}

// Snapshot returns the latest frame, or false if none has arrived yet. The
// returned frame is shared; callers must treat it as read-only.
func (s *Store) Snapshot() (*Frame, bool) {
	c := s.cell.Load()
	if c == nil {
		return nil, false
	}
	return c.frame, true
}

// Age returns the elapsed time since the last update, or AgeUnknown if no
// frame has ever been stored.
func (s *Store) Age() time.Duration {
	c := s.cell.Load()
	if c == nil {
		return AgeUnknown
	}
	return s.now().Sub(c.at)
}
