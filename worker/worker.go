// Package worker implements the responding side of the session protocol.
//
// It reassembles chunked captures per session and answers finish requests
// with a capture summary. It does not decode packets; the result carries an
// empty packet list. It backs the in-memory bus mode of the CLI and the
// end-to-end tests.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/chunk"
	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/protocol"
	"github.com/AlibekovAA/NATS/types"
)

// Subscriber is the part of bus.Transport the worker needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, h bus.Handler) (bus.Subscription, error)
}

// DefaultSessionTTL is how long a session may sit idle before it is
// dropped.
const DefaultSessionTTL = 10 * time.Minute

// session accumulates the chunks of one transfer.
type session struct {
	total    int
	encoding types.Encoding
	chunks   map[int][]byte
	touched  time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithSessionTTL sets the idle lifetime of unfinished sessions. Zero or
// negative keeps sessions until finish.
func WithSessionTTL(d time.Duration) Option {
	return func(w *Worker) { w.ttl = d }
}

// Worker serves start, chunk and finish subjects.
type Worker struct {
	codec    protocol.Codec
	subjects protocol.Subjects
	logger   *log.Logger
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a worker.
func New(codec protocol.Codec, subjects protocol.Subjects, logger *log.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = log.Nop()
	}
	w := &Worker{
		codec:    codec,
		subjects: subjects,
		logger:   logger.Named("worker"),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve subscribes the worker's handlers. Subscriptions live until the
// subscriber's connection closes.
func (w *Worker) Serve(ctx context.Context, s Subscriber) error {
	handlers := []struct {
		subject string
		handler bus.HandlerFunc
	}{
		{w.subjects.Start, w.handleStart},
		{w.subjects.Chunk, w.handleChunk},
		{w.subjects.Finish, w.handleFinish},
	}
	for _, h := range handlers {
		if _, err := s.Subscribe(ctx, h.subject, h.handler); err != nil {
			return err
		}
	}
	return nil
}

// Sessions returns the number of sessions awaiting finish.
func (w *Worker) Sessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *Worker) handleStart(_ context.Context, msg *bus.Message) {
	var env protocol.StartEnvelope
	if err := w.codec.Unmarshal(msg.Data, &env); err != nil {
		w.logger.Warn("invalid start envelope", map[string]any{"error": err.Error()})
		return
	}

	w.mu.Lock()
	now := w.now()
	w.evictIdleLocked(now)
	if s, ok := w.sessions[env.SessionID]; ok {
		s.total, s.encoding, s.touched = env.TotalChunks, env.Encoding, now
	} else {
		w.sessions[env.SessionID] = &session{
			total:    env.TotalChunks,
			encoding: env.Encoding,
			chunks:   make(map[int][]byte, env.TotalChunks),
			touched:  now,
		}
	}
	w.mu.Unlock()

	w.logger.Info("session started", map[string]any{
		"session_id":   env.SessionID,
		"total_chunks": env.TotalChunks,
	})
}

func (w *Worker) handleChunk(_ context.Context, msg *bus.Message) {
	var env protocol.ChunkEnvelope
	if err := w.codec.Unmarshal(msg.Data, &env); err != nil {
		w.reply(msg, map[string]any{"error": "invalid chunk envelope: " + err.Error()})
		return
	}
	data, err := protocol.DecodePayload(env.Data, env.Encoding)
	if err != nil {
		// The sender aborts on the first rejected chunk, so no finish follows.
		w.drop(env.SessionID, "chunk rejected")
		w.reply(msg, map[string]any{"error": fmt.Sprintf("chunk %d: %v", env.ChunkIndex, err)})
		return
	}

	w.mu.Lock()
	now := w.now()
	w.evictIdleLocked(now)
	s, ok := w.sessions[env.SessionID]
	if !ok {
		// Start is fire-and-forget; tolerate a chunk that overtook it.
		s = &session{total: env.TotalChunks, encoding: env.Encoding, chunks: make(map[int][]byte)}
		w.sessions[env.SessionID] = s
	}
	s.chunks[env.ChunkIndex] = data
	s.touched = now
	w.mu.Unlock()

	w.reply(msg, map[string]any{"status": string(protocol.AckOK)})
}

func (w *Worker) handleFinish(_ context.Context, msg *bus.Message) {
	var env protocol.FinishEnvelope
	if err := w.codec.Unmarshal(msg.Data, &env); err != nil {
		w.reply(msg, map[string]any{"error": "invalid finish envelope: " + err.Error()})
		return
	}

	w.mu.Lock()
	s, ok := w.sessions[env.SessionID]
	delete(w.sessions, env.SessionID)
	w.mu.Unlock()
	if !ok {
		w.reply(msg, map[string]any{"error": "unknown session " + env.SessionID})
		return
	}

	capture, err := s.assemble()
	if err != nil {
		w.reply(msg, map[string]any{"error": err.Error()})
		return
	}

	w.logger.Info("session finished", map[string]any{
		"session_id": env.SessionID,
		"bytes":      len(capture),
	})
	w.reply(msg, map[string]any{
		"packets": []types.NetworkPacket{},
		"summary": map[string]any{
			"session_id":   env.SessionID,
			"total_chunks": s.total,
			"total_bytes":  len(capture),
			"valid_header": chunk.HasMagic(capture),
		},
	})
}

func (w *Worker) drop(id, reason string) {
	w.mu.Lock()
	_, ok := w.sessions[id]
	delete(w.sessions, id)
	w.mu.Unlock()
	if ok {
		w.logger.Info("session dropped", map[string]any{"session_id": id, "reason": reason})
	}
}

// evictIdleLocked drops sessions untouched for longer than the TTL.
func (w *Worker) evictIdleLocked(now time.Time) {
	if w.ttl <= 0 {
		return
	}
	for id, s := range w.sessions {
		if now.Sub(s.touched) > w.ttl {
			delete(w.sessions, id)
			w.logger.Info("session dropped", map[string]any{"session_id": id, "reason": "idle"})
		}
	}
}

// assemble joins the session's chunks in index order.
func (s *session) assemble() ([]byte, error) {
	if len(s.chunks) != s.total {
		return nil, fmt.Errorf("received %d of %d chunks", len(s.chunks), s.total)
	}
	chunks := make([]types.Chunk, 0, len(s.chunks))
	for i, p := range s.chunks {
		chunks = append(chunks, types.Chunk{Index: i, Payload: p, TotalChunks: s.total, Encoding: s.encoding})
	}
	return chunk.Join(chunks)
}

func (w *Worker) reply(msg *bus.Message, body map[string]any) {
	data, err := w.codec.Marshal(body)
	if err != nil {
		w.logger.Error("encode reply", map[string]any{"error": err.Error()})
		return
	}
	if err := msg.Respond(data); err != nil {
		w.logger.Warn("send reply", map[string]any{"subject": msg.Subject, "error": err.Error()})
	}
}
