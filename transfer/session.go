package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/AlibekovAA/NATS/types"
)

// Phase is the lifecycle phase of a session.
type Phase string

const (
	PhaseInitialized  Phase = "initialized"
	PhaseStarted      Phase = "started"
	PhaseTransferring Phase = "transferring"
	PhaseFinishing    Phase = "finishing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// next lists the forward transitions. Failed is reachable from every
// non-terminal phase.
var next = map[Phase]Phase{
	PhaseInitialized:  PhaseStarted,
	PhaseStarted:      PhaseTransferring,
	PhaseTransferring: PhaseFinishing,
	PhaseFinishing:    PhaseCompleted,
}

// Session is one chunked transfer. It is never reused.
type Session struct {
	// ID is unique per session (UUIDv4).
	ID string
	// Encoding is the chunk payload encoding.
	Encoding types.Encoding
	// Bytes is the raw capture size.
	Bytes int
	// TotalChunks is set once the capture is split.
	TotalChunks int
	// StartedAt is when the session was created.
	StartedAt time.Time

	mu      sync.Mutex
	phase   Phase
	err     error
	endedAt time.Time
}

func newSession(id string, enc types.Encoding, size int) *Session {
	return &Session{
		ID:        id,
		Encoding:  enc,
		Bytes:     size,
		StartedAt: time.Now(),
		phase:     PhaseInitialized,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration returns the session's run time, up to now if still running.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.endedAt.Sub(s.StartedAt)
}

// advance moves the session to phase to.
func (s *Session) advance(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return fmt.Errorf("session %s: already %s", s.ID, s.phase)
	}
	if to != PhaseFailed && next[s.phase] != to {
		return fmt.Errorf("session %s: invalid transition %s -> %s", s.ID, s.phase, to)
	}
	s.phase = to
	if to.Terminal() {
		s.endedAt = time.Now()
	}
	return nil
}

// fail records err and moves the session to Failed.
func (s *Session) fail(err error) error {
	if terr := s.advance(PhaseFailed); terr != nil {
		return terr
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return nil
}
