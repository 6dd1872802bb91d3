// Package transfer drives chunked capture sessions over the bus.
//
// A Coordinator splits the capture, publishes the start envelope, sends the
// chunks as requests with bounded concurrency, and once every chunk is
// acknowledged sends finish and decodes the analysis result. The first
// failure ends the session; sessions are never retried.
package transfer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AlibekovAA/NATS/chunk"
	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/metrics"
	"github.com/AlibekovAA/NATS/protocol"
	"github.com/AlibekovAA/NATS/types"
)

// Defaults.
const (
	DefaultConcurrency   = 4
	DefaultChunkTimeout  = 30 * time.Second
	DefaultFinishTimeout = 60 * time.Second
)

// Bus is the transport a Coordinator sends through. *bus.Transport
// implements it.
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)
	MaxPayload() int64
}

// Observer receives session progress. Calls for one session may come from
// several goroutines.
type Observer interface {
	// PhaseChanged is called after every phase transition.
	PhaseChanged(s *Session, phase Phase)
	// ChunkAcked is called after each acknowledged chunk with the number
	// of chunks acknowledged so far.
	ChunkAcked(s *Session, index, acked int)
}

// Config holds transfer parameters.
type Config struct {
	// ChunkSize is the raw bytes per chunk (default 256 KiB).
	ChunkSize int
	// Concurrency bounds chunks in flight (default 4).
	Concurrency int
	// ChunkTimeout bounds each chunk request (default 30s).
	ChunkTimeout time.Duration
	// FinishTimeout bounds the finish request (default 60s).
	FinishTimeout time.Duration
	// Subjects are the bus subjects (default prefix "analysis").
	Subjects protocol.Subjects
	// Codec marshals envelopes (default JSON).
	Codec protocol.Codec
	// Splitter controls capture validation.
	Splitter chunk.Config
}

// DefaultConfig returns the default transfer parameters.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     chunk.DefaultChunkSize,
		Concurrency:   DefaultConcurrency,
		ChunkTimeout:  DefaultChunkTimeout,
		FinishTimeout: DefaultFinishTimeout,
		Subjects:      protocol.NewSubjects(""),
		Codec:         protocol.JSONCodec{},
		Splitter:      chunk.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = d.ChunkTimeout
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = d.FinishTimeout
	}
	if c.Subjects == (protocol.Subjects{}) {
		c.Subjects = d.Subjects
	}
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	return c
}

// Options configures a Coordinator.
type Options struct {
	Config   Config
	Logger   *log.Logger
	Metrics  *metrics.Collector
	Observer Observer
}

// Coordinator runs sessions. It holds no per-session state and is safe for
// concurrent use.
type Coordinator struct {
	bus      Bus
	config   Config
	splitter *chunk.Splitter
	logger   *log.Logger
	metrics  *metrics.Collector
	observer Observer
}

// NewCoordinator creates a Coordinator sending through b.
func NewCoordinator(b Bus, opts Options) *Coordinator {
	cfg := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{
		bus:      b,
		config:   cfg,
		splitter: chunk.NewSplitter(cfg.Splitter),
		logger:   logger.Named("transfer"),
		metrics:  opts.Metrics,
		observer: opts.Observer,
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// Transfer sends raw to the worker and returns its analysis.
func (c *Coordinator) Transfer(ctx context.Context, raw []byte, enc types.Encoding) (*types.AnalysisResult, error) {
	_, result, err := c.Run(ctx, raw, enc)
	return result, err
}

// Run is Transfer that also returns the session, which records the outcome
// even when err is non-nil.
func (c *Coordinator) Run(ctx context.Context, raw []byte, enc types.Encoding) (*Session, *types.AnalysisResult, error) {
	s := newSession(uuid.NewString(), enc, len(raw))
	logger := c.logger.With(map[string]any{"session_id": s.ID})
	c.metrics.IncSessionStarted()

	result, err := c.run(ctx, s, raw, logger)
	if err != nil {
		_ = s.fail(err)
		c.notifyPhase(s, PhaseFailed)
		c.metrics.IncSessionFailed(types.KindOf(err))
		logger.Error("session failed", map[string]any{
			"error_kind":  types.KindOf(err),
			"error":       err.Error(),
			"duration_ms": s.Duration().Milliseconds(),
		})
		return s, nil, err
	}

	c.metrics.IncSessionCompleted()
	logger.Info("session completed", map[string]any{
		"total_chunks": s.TotalChunks,
		"packets":      result.PacketCount(),
		"duration_ms":  s.Duration().Milliseconds(),
	})
	return s, result, nil
}

func (c *Coordinator) run(ctx context.Context, s *Session, raw []byte, logger *log.Logger) (*types.AnalysisResult, error) {
	chunks, err := c.splitter.Split(raw, c.config.ChunkSize, s.Encoding)
	if err != nil {
		return nil, err
	}
	s.TotalChunks = len(chunks)

	start, err := c.config.Codec.Marshal(protocol.BuildStartEnvelope(s.ID, s.TotalChunks, s.Encoding))
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "start", "encode envelope", err)
	}
	if err := c.bus.Publish(ctx, c.config.Subjects.Start, start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	c.enter(s, PhaseStarted)
	logger.Info("session started", map[string]any{
		"total_chunks": s.TotalChunks,
		"bytes":        s.Bytes,
		"encoding":     string(s.Encoding),
	})

	c.enter(s, PhaseTransferring)
	if err := c.dispatch(ctx, s, chunks); err != nil {
		return nil, err
	}

	c.enter(s, PhaseFinishing)
	finish, err := c.config.Codec.Marshal(protocol.BuildFinishEnvelope(s.ID, s.Encoding))
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "finish", "encode envelope", err)
	}
	resp, err := c.bus.Request(ctx, c.config.Subjects.Finish, finish, c.config.FinishTimeout)
	if err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	result, err := protocol.ParseResult(c.config.Codec, resp)
	if err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	c.enter(s, PhaseCompleted)
	return result, nil
}

// dispatch sends chunks with at most Concurrency requests in flight. The
// first failure cancels in-flight requests and stops further dispatch.
func (c *Coordinator) dispatch(ctx context.Context, s *Session, chunks []types.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	// dctx is cancelled before a failed sender frees its slot, so no chunk
	// is dispatched after a failure.
	dctx, cancel := context.WithCancelCause(gctx)
	defer cancel(nil)

	sem := make(chan struct{}, c.config.Concurrency)
	var acked atomic.Int64

	for _, ch := range chunks {
		select {
		case sem <- struct{}{}:
		case <-dctx.Done():
		}
		if dctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() { <-sem }()
			err := c.sendChunk(dctx, s, ch, &acked)
			if err != nil {
				cancel(err)
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		// The first cause is the failure that stopped dispatch; later
		// errors are in-flight requests it cancelled.
		if cause := context.Cause(dctx); cause != nil && ctx.Err() == nil {
			return cause
		}
		return err
	}
	return ctx.Err()
}

func (c *Coordinator) sendChunk(ctx context.Context, s *Session, ch types.Chunk, acked *atomic.Int64) error {
	op := fmt.Sprintf("chunk %d", ch.Index)

	env, err := protocol.BuildChunkEnvelope(s.ID, ch)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := c.config.Codec.Marshal(env)
	if err != nil {
		return types.NewError(types.ErrValidation, op, "encode envelope", err)
	}
	if limit := c.bus.MaxPayload(); limit > 0 && int64(len(body)) > limit {
		return types.NewError(types.ErrValidation, op,
			fmt.Sprintf("encoded envelope of %d bytes exceeds bus limit of %d bytes", len(body), limit), nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.metrics.ChunkSent(len(ch.Payload))
	resp, err := c.bus.Request(ctx, c.config.Subjects.Chunk, body, c.config.ChunkTimeout)
	if err == nil {
		_, err = protocol.ParseAck(c.config.Codec, resp)
	}
	c.metrics.ChunkDone(err == nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n := int(acked.Add(1))
	c.logger.Debug("chunk acknowledged", map[string]any{
		"session_id":  s.ID,
		"chunk_index": ch.Index,
		"acked":       n,
		"total":       s.TotalChunks,
	})
	if c.observer != nil {
		c.observer.ChunkAcked(s, ch.Index, n)
	}
	return nil
}

func (c *Coordinator) enter(s *Session, phase Phase) {
	if err := s.advance(phase); err != nil {
		c.logger.Warn("unexpected phase transition", map[string]any{"session_id": s.ID, "error": err.Error()})
		return
	}
	c.notifyPhase(s, phase)
}

func (c *Coordinator) notifyPhase(s *Session, phase Phase) {
	if c.observer != nil {
		c.observer.PhaseChanged(s, phase)
	}
}
