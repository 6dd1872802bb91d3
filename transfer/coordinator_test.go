package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/bus/bustest"
	"github.com/AlibekovAA/NATS/chunk"
	"github.com/AlibekovAA/NATS/metrics"
	"github.com/AlibekovAA/NATS/protocol"
	"github.com/AlibekovAA/NATS/types"
	"github.com/AlibekovAA/NATS/worker"
)

var subjects = protocol.NewSubjects("")

// capture returns n bytes starting with a pcap magic.
func capture(n int) []byte {
	buf := make([]byte, n)
	rng := rand.New(rand.NewSource(int64(n)))
	_, _ = rng.Read(buf)
	copy(buf, []byte{0xa1, 0xb2, 0xc3, 0xd4})
	return buf
}

func newBus(t *testing.T) (*bustest.Network, *bus.Transport) {
	t.Helper()
	net := bustest.NewNetwork()
	m, err := bus.NewManager(bus.ManagerOptions{
		Endpoint:        "memory://test",
		Dialer:          net,
		Retry:           bus.RetryPolicy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }},
		MonitorInterval: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return net, bus.NewTransport(m, nil)
}

func subscribe(t *testing.T, tr *bus.Transport, subject string, fn func(msg *bus.Message)) {
	t.Helper()
	h := bus.HandlerFunc(func(_ context.Context, msg *bus.Message) { fn(msg) })
	if _, err := tr.Subscribe(t.Context(), subject, h); err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
}

func respond(t *testing.T, msg *bus.Message, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		t.Error(err)
		return
	}
	_ = msg.Respond(data)
}

func decodeChunk(t *testing.T, msg *bus.Message) protocol.ChunkEnvelope {
	var env protocol.ChunkEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Errorf("decode chunk envelope: %v", err)
	}
	return env
}

// recordingObserver records phases and acknowledgements.
type recordingObserver struct {
	mu     sync.Mutex
	phases []Phase
	acks   []int
}

func (o *recordingObserver) PhaseChanged(_ *Session, p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) ChunkAcked(_ *Session, _, acked int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acks = append(o.acks, acked)
}

func TestTransfer_Scenario600KiB(t *testing.T) {
	net, tr := newBus(t)
	w := worker.New(protocol.JSONCodec{}, subjects, nil)
	if err := w.Serve(t.Context(), tr); err != nil {
		t.Fatal(err)
	}

	obs := &recordingObserver{}
	c := NewCoordinator(tr, Options{
		Config:   Config{ChunkSize: 256 * 1024},
		Observer: obs,
	})

	s, result, err := c.Run(t.Context(), capture(600*1024), types.EncodingBase64)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if s.TotalChunks != 3 || s.Phase() != PhaseCompleted {
		t.Errorf("session = %d chunks, phase %s", s.TotalChunks, s.Phase())
	}
	if got := result.Summary["total_bytes"]; got != float64(600*1024) {
		t.Errorf("worker reassembled %v bytes", got)
	}
	if result.Packets == nil {
		t.Error("packets should be non-nil")
	}

	if net.Count(subjects.Start) != 1 || net.Count(subjects.Chunk) != 3 || net.Count(subjects.Finish) != 1 {
		t.Errorf("traffic: start=%d chunk=%d finish=%d",
			net.Count(subjects.Start), net.Count(subjects.Chunk), net.Count(subjects.Finish))
	}
	records := net.Records()
	if records[0].Subject != subjects.Start || records[len(records)-1].Subject != subjects.Finish {
		t.Errorf("start must be first and finish last: %s ... %s", records[0].Subject, records[len(records)-1].Subject)
	}

	wantPhases := []Phase{PhaseStarted, PhaseTransferring, PhaseFinishing, PhaseCompleted}
	if len(obs.phases) != len(wantPhases) {
		t.Fatalf("phases = %v", obs.phases)
	}
	for i := range wantPhases {
		if obs.phases[i] != wantPhases[i] {
			t.Errorf("phase %d = %s, want %s", i, obs.phases[i], wantPhases[i])
		}
	}
	if len(obs.acks) != 3 {
		t.Errorf("acks observed = %v", obs.acks)
	}
	if w.Sessions() != 0 {
		t.Error("worker should drop the session after finish")
	}
}

func TestTransfer_ChunksReassembleExactly(t *testing.T) {
	for _, enc := range []types.Encoding{types.EncodingHex, types.EncodingBase64} {
		t.Run(string(enc), func(t *testing.T) {
			_, tr := newBus(t)
			data := capture(10_000)

			var mu sync.Mutex
			var received []types.Chunk
			subscribe(t, tr, subjects.Start, func(*bus.Message) {})
			subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
				env := decodeChunk(t, msg)
				payload, err := protocol.DecodePayload(env.Data, env.Encoding)
				if err != nil {
					t.Error(err)
				}
				mu.Lock()
				received = append(received, types.Chunk{Index: env.ChunkIndex, Payload: payload, TotalChunks: env.TotalChunks})
				mu.Unlock()
				respond(t, msg, map[string]string{"status": "ok"})
			})
			subscribe(t, tr, subjects.Finish, func(msg *bus.Message) {
				respond(t, msg, map[string]any{"packets": []any{}, "summary": map[string]any{}})
			})

			c := NewCoordinator(tr, Options{Config: Config{ChunkSize: 999}})
			if _, err := c.Transfer(t.Context(), data, enc); err != nil {
				t.Fatalf("Transfer failed: %v", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(received) != chunk.Count(len(data), 999) {
				t.Fatalf("received %d chunks", len(received))
			}
			joined, err := chunk.Join(received)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(joined, data) {
				t.Error("reassembled capture differs from input")
			}
		})
	}
}

func TestTransfer_BoundedConcurrency(t *testing.T) {
	const k = 3
	_, tr := newBus(t)

	var inFlight, maxInFlight atomic.Int64
	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
		go func() {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			inFlight.Add(-1)
			respond(t, msg, map[string]string{"status": "ok"})
		}()
	})
	subscribe(t, tr, subjects.Finish, func(msg *bus.Message) {
		respond(t, msg, map[string]any{"summary": map[string]any{}})
	})

	collector := metrics.NewCollector("memory", "test")
	c := NewCoordinator(tr, Options{
		Config:  Config{ChunkSize: 100, Concurrency: k},
		Metrics: collector,
	})
	if _, err := c.Transfer(t.Context(), capture(1200), types.EncodingHex); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if got := maxInFlight.Load(); got > k {
		t.Errorf("worker saw %d concurrent chunks, bound is %d", got, k)
	}
	if got := maxInFlight.Load(); got < 2 {
		t.Errorf("expected parallel dispatch, max in flight = %d", got)
	}
	snap := collector.Snapshot()
	if snap.MaxInFlight > k {
		t.Errorf("collector MaxInFlight = %d", snap.MaxInFlight)
	}
	if snap.ChunksSent != 12 || snap.ChunksAcked != 12 || snap.BytesSent != 1200 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.SessionsCompleted != 1 {
		t.Errorf("sessions completed = %d", snap.SessionsCompleted)
	}
}

func TestTransfer_FinishOnlyAfterAllAcks(t *testing.T) {
	_, tr := newBus(t)

	var acked atomic.Int64
	acksAtFinish := make(chan int64, 1)
	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
		go func() {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			acked.Add(1)
			respond(t, msg, map[string]string{"status": "ok"})
		}()
	})
	subscribe(t, tr, subjects.Finish, func(msg *bus.Message) {
		acksAtFinish <- acked.Load()
		respond(t, msg, map[string]any{"packets": []any{}})
	})

	c := NewCoordinator(tr, Options{Config: Config{ChunkSize: 64}})
	if _, err := c.Transfer(t.Context(), capture(64*20), types.EncodingHex); err != nil {
		t.Fatal(err)
	}
	if got := <-acksAtFinish; got != 20 {
		t.Errorf("finish arrived after %d of 20 acks", got)
	}
}

func TestTransfer_ChunkErrorStopsDispatch(t *testing.T) {
	net, tr := newBus(t)

	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
		if decodeChunk(t, msg).ChunkIndex == 1 {
			respond(t, msg, map[string]string{"error": "disk full"})
			return
		}
		respond(t, msg, map[string]string{"status": "ok"})
	})
	subscribe(t, tr, subjects.Finish, func(msg *bus.Message) {
		respond(t, msg, map[string]any{"packets": []any{}})
	})

	collector := metrics.NewCollector("memory", "test")
	c := NewCoordinator(tr, Options{
		Config:  Config{ChunkSize: 100, Concurrency: 1},
		Metrics: collector,
	})
	s, _, err := c.Run(t.Context(), capture(1000), types.EncodingHex)

	var re *types.RemoteError
	if !errors.As(err, &re) || re.Message != "disk full" {
		t.Fatalf("expected RemoteError(disk full), got %v", err)
	}
	if !errors.Is(err, types.ErrRemote) {
		t.Error("expected errors.Is(err, ErrRemote)")
	}
	if !strings.Contains(err.Error(), "chunk 1") {
		t.Errorf("error should name the chunk: %v", err)
	}
	if got := net.Count(subjects.Chunk); got != 2 {
		t.Errorf("dispatched %d chunks, want 2", got)
	}
	if net.Count(subjects.Finish) != 0 {
		t.Error("finish must not be sent after a chunk failure")
	}
	if s.Phase() != PhaseFailed || s.Err() == nil {
		t.Errorf("session phase = %s, err = %v", s.Phase(), s.Err())
	}
	snap := collector.Snapshot()
	if snap.SessionsFailed != 1 || snap.FailuresByKind[types.KindRemote] != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTransfer_ChunkErrorWinsOverCancelledSiblings(t *testing.T) {
	_, tr := newBus(t)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
		env := decodeChunk(t, msg)
		go func() {
			if env.ChunkIndex == 2 {
				respond(t, msg, map[string]string{"error": "bad chunk"})
				return
			}
			<-release
		}()
	})

	c := NewCoordinator(tr, Options{Config: Config{ChunkSize: 100, Concurrency: 4}})
	_, err := c.Transfer(t.Context(), capture(1000), types.EncodingHex)
	if !errors.Is(err, types.ErrRemote) {
		t.Errorf("expected the worker failure, got %v", err)
	}
}

func TestTransfer_ChunkTimeout(t *testing.T) {
	net, tr := newBus(t)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(*bus.Message) { <-release })

	c := NewCoordinator(tr, Options{Config: Config{
		ChunkSize:    100,
		Concurrency:  1,
		ChunkTimeout: 30 * time.Millisecond,
	}})
	s, _, err := c.Run(t.Context(), capture(500), types.EncodingHex)

	if !errors.Is(err, types.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if s.Phase() != PhaseFailed {
		t.Errorf("phase = %s", s.Phase())
	}
	if got := net.Count(subjects.Chunk); got != 1 {
		t.Errorf("dispatched %d chunks after timeout, want 1", got)
	}
	if net.Count(subjects.Finish) != 0 {
		t.Error("finish must not be sent after a timeout")
	}
}

func TestTransfer_ValidationNeverReachesBus(t *testing.T) {
	net, tr := newBus(t)
	c := NewCoordinator(tr, Options{})

	inputs := map[string][]byte{
		"empty":     nil,
		"short":     capture(10),
		"bad magic": bytes.Repeat([]byte{0x42}, 100),
	}
	for name, data := range inputs {
		s, _, err := c.Run(t.Context(), data, types.EncodingHex)
		if !errors.Is(err, types.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
		if s.Phase() != PhaseFailed {
			t.Errorf("%s: phase = %s", name, s.Phase())
		}
	}
	if _, err := c.Transfer(t.Context(), capture(100), types.Encoding("rot13")); !errors.Is(err, types.ErrValidation) {
		t.Errorf("bad encoding: expected ErrValidation, got %v", err)
	}

	if len(net.Records()) != 0 || net.DialCount() != 0 {
		t.Errorf("bus touched: %d messages, %d dials", len(net.Records()), net.DialCount())
	}
}

func TestTransfer_OversizedEnvelopeRejectedLocally(t *testing.T) {
	net, tr := newBus(t)
	net.SetMaxPayload(1000)
	subscribe(t, tr, subjects.Start, func(*bus.Message) {})

	c := NewCoordinator(tr, Options{Config: Config{ChunkSize: 4096}})
	_, err := c.Transfer(t.Context(), capture(8192), types.EncodingHex)

	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	for _, want := range []string{"chunk 0", "1000"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
	if net.Count(subjects.Chunk) != 0 {
		t.Error("oversized chunk must not be sent")
	}
}

func TestTransfer_FinishFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
		kind  error
	}{
		{"remote error", []byte(`{"error":"truncated capture"}`), types.ErrRemote},
		{"malformed bytes", []byte{0xff, 0xfe}, types.ErrDecode},
		{"malformed structure", []byte(`[]`), types.ErrDecode},
		{"missing result", []byte(`{"status":"ok"}`), types.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tr := newBus(t)
			subscribe(t, tr, subjects.Start, func(*bus.Message) {})
			subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
				respond(t, msg, map[string]string{"status": "ok"})
			})
			subscribe(t, tr, subjects.Finish, func(msg *bus.Message) { _ = msg.Respond(tt.reply) })

			c := NewCoordinator(tr, Options{})
			s, _, err := c.Run(t.Context(), capture(100), types.EncodingHex)
			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
			if s.Phase() != PhaseFailed {
				t.Errorf("phase = %s", s.Phase())
			}
		})
	}
}

func TestTransfer_FinishTimeout(t *testing.T) {
	_, tr := newBus(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(msg *bus.Message) {
		respond(t, msg, map[string]string{"status": "ok"})
	})
	subscribe(t, tr, subjects.Finish, func(*bus.Message) { <-release })

	c := NewCoordinator(tr, Options{Config: Config{FinishTimeout: 30 * time.Millisecond}})
	_, err := c.Transfer(t.Context(), capture(100), types.EncodingHex)
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestTransfer_ConnectionFailure(t *testing.T) {
	net, tr := newBus(t)
	net.FailNextDials(10)

	c := NewCoordinator(tr, Options{})
	s, _, err := c.Run(t.Context(), capture(100), types.EncodingHex)
	if !errors.Is(err, types.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if s.Phase() != PhaseFailed {
		t.Errorf("phase = %s", s.Phase())
	}
}

func TestTransfer_NoWorker(t *testing.T) {
	_, tr := newBus(t)
	c := NewCoordinator(tr, Options{})

	_, err := c.Transfer(t.Context(), capture(100), types.EncodingHex)
	if !errors.Is(err, types.ErrConnection) || !errors.Is(err, bus.ErrNoResponders) {
		t.Errorf("expected no-responders connection error, got %v", err)
	}
}

func TestTransfer_Canceled(t *testing.T) {
	_, tr := newBus(t)
	ctx, cancel := context.WithCancel(t.Context())

	subscribe(t, tr, subjects.Start, func(*bus.Message) {})
	subscribe(t, tr, subjects.Chunk, func(*bus.Message) { cancel() })

	c := NewCoordinator(tr, Options{Config: Config{ChunkSize: 100}})
	_, err := c.Transfer(ctx, capture(1000), types.EncodingHex)
	if types.KindOf(err) != types.KindCanceled {
		t.Errorf("expected canceled, got %v (%s)", err, types.KindOf(err))
	}
}

func TestTransfer_SessionsAreUnique(t *testing.T) {
	_, tr := newBus(t)
	w := worker.New(protocol.JSONCodec{}, subjects, nil)
	if err := w.Serve(t.Context(), tr); err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(tr, Options{})

	seen := make(map[string]bool)
	for range 3 {
		s, _, err := c.Run(t.Context(), capture(300), types.EncodingHex)
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.ID] {
			t.Errorf("session id %s reused", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestTransfer_MsgpackCodec(t *testing.T) {
	_, tr := newBus(t)
	codec := protocol.MsgpackCodec{}
	w := worker.New(codec, subjects, nil)
	if err := w.Serve(t.Context(), tr); err != nil {
		t.Fatal(err)
	}

	c := NewCoordinator(tr, Options{Config: Config{ChunkSize: 128, Codec: codec}})
	result, err := c.Transfer(t.Context(), capture(1000), types.EncodingBase64)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if result.Summary["valid_header"] != true {
		t.Errorf("summary = %v", result.Summary)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ChunkSize != 256*1024 || cfg.Concurrency != 4 ||
		cfg.ChunkTimeout != 30*time.Second || cfg.FinishTimeout != 60*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Subjects.Chunk != "analysis.chunk" || cfg.Codec.Name() != protocol.CodecJSON {
		t.Errorf("subjects/codec = %+v %s", cfg.Subjects, cfg.Codec.Name())
	}
}
