// Package adapter defines the completion notification boundary.
//
// Adapters publish one event per finished transfer session to a
// downstream system. The CLI owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/AlibekovAA/NATS/transfer"
	"github.com/AlibekovAA/NATS/types"
)

// EventTypeAnalysisCompleted is the event_type of every published event.
const EventTypeAnalysisCompleted = "analysis_completed"

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AnalysisCompletedEvent is the payload published when a session ends,
// whether it completed or failed.
type AnalysisCompletedEvent struct {
	EventType   string `json:"event_type" msgpack:"event_type"`
	SessionID   string `json:"session_id" msgpack:"session_id"`
	Outcome     string `json:"outcome" msgpack:"outcome"`
	ErrorKind   string `json:"error_kind,omitempty" msgpack:"error_kind,omitempty"`
	Error       string `json:"error,omitempty" msgpack:"error,omitempty"`
	TotalChunks int    `json:"total_chunks" msgpack:"total_chunks"`
	Bytes       int    `json:"bytes" msgpack:"bytes"`
	PacketCount int    `json:"packet_count" msgpack:"packet_count"`
	DurationMs  int64  `json:"duration_ms" msgpack:"duration_ms"`
	Timestamp   string `json:"timestamp" msgpack:"timestamp"` // RFC 3339
}

// NewEvent builds the event for a finished session. result may be nil.
func NewEvent(s *transfer.Session, result *types.AnalysisResult, now time.Time) *AnalysisCompletedEvent {
	ev := &AnalysisCompletedEvent{
		EventType:   EventTypeAnalysisCompleted,
		SessionID:   s.ID,
		Outcome:     OutcomeSuccess,
		TotalChunks: s.TotalChunks,
		Bytes:       s.Bytes,
		DurationMs:  s.Duration().Milliseconds(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if err := s.Err(); err != nil {
		ev.Outcome = OutcomeFailure
		ev.ErrorKind = types.KindOf(err)
		ev.Error = err.Error()
	}
	if result != nil {
		ev.PacketCount = result.PacketCount()
	}
	return ev
}

// Adapter publishes completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *AnalysisCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
