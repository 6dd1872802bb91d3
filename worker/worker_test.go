package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/bus/bustest"
	"github.com/AlibekovAA/NATS/protocol"
	"github.com/AlibekovAA/NATS/types"
)

func serve(t *testing.T, opts ...Option) (*Worker, *bus.Transport) {
	t.Helper()
	m, err := bus.NewManager(bus.ManagerOptions{
		Endpoint:        "memory://worker",
		Dialer:          bustest.NewNetwork(),
		MonitorInterval: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	tr := bus.NewTransport(m, nil)

	w := New(protocol.JSONCodec{}, protocol.NewSubjects(""), nil, opts...)
	if err := w.Serve(t.Context(), tr); err != nil {
		t.Fatal(err)
	}
	return w, tr
}

func request(t *testing.T, tr *bus.Transport, subject string, v any) map[string]any {
	t.Helper()
	body, _ := json.Marshal(v)
	resp, err := tr.Request(t.Context(), subject, body, 5*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	m, err := protocol.Decode(protocol.JSONCodec{}, resp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func chunkEnvelope(t *testing.T, id string, index, total int, payload []byte) protocol.ChunkEnvelope {
	t.Helper()
	env, err := protocol.BuildChunkEnvelope(id, types.Chunk{
		Index: index, Payload: payload, TotalChunks: total, Encoding: types.EncodingHex,
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestWorker_ReassemblesOutOfOrderChunks(t *testing.T) {
	w, tr := serve(t)
	subjects := protocol.NewSubjects("")

	header := []byte{0xd4, 0xc3, 0xb2, 0xa1}
	parts := [][]byte{header, []byte("bbbb"), []byte("cc")}

	for _, i := range []int{2, 0, 1} {
		ack := request(t, tr, subjects.Chunk, chunkEnvelope(t, "s-1", i, 3, parts[i]))
		if ack["status"] != "ok" {
			t.Fatalf("chunk %d ack = %v", i, ack)
		}
	}
	if w.Sessions() != 1 {
		t.Errorf("sessions = %d", w.Sessions())
	}

	res := request(t, tr, subjects.Finish, protocol.BuildFinishEnvelope("s-1", types.EncodingHex))
	summary, _ := res["summary"].(map[string]any)
	if summary["total_bytes"] != float64(10) || summary["valid_header"] != true {
		t.Errorf("summary = %v", summary)
	}
	if w.Sessions() != 0 {
		t.Error("session should be dropped after finish")
	}
}

func TestWorker_StartAfterChunkKeepsChunks(t *testing.T) {
	w, tr := serve(t)
	subjects := protocol.NewSubjects("")

	request(t, tr, subjects.Chunk, chunkEnvelope(t, "s-2", 0, 1, []byte("x")))

	start, _ := json.Marshal(protocol.BuildStartEnvelope("s-2", 1, types.EncodingHex))
	w.handleStart(t.Context(), bus.NewMessage(subjects.Start, start, nil))
	if w.Sessions() != 1 {
		t.Fatalf("sessions = %d, want 1", w.Sessions())
	}

	res := request(t, tr, subjects.Finish, protocol.BuildFinishEnvelope("s-2", types.EncodingHex))
	if _, failed := res["error"]; failed {
		t.Errorf("finish failed: %v", res)
	}
}

func TestWorker_Errors(t *testing.T) {
	_, tr := serve(t)
	subjects := protocol.NewSubjects("")

	res := request(t, tr, subjects.Finish, protocol.BuildFinishEnvelope("unknown", types.EncodingHex))
	if res["error"] == nil {
		t.Error("finish for an unknown session should fail")
	}

	bad := protocol.ChunkEnvelope{SessionID: "s", ChunkIndex: 0, TotalChunks: 1, Data: "zz", Encoding: types.EncodingHex}
	if res := request(t, tr, subjects.Chunk, bad); res["error"] == nil {
		t.Error("undecodable payload should be rejected")
	}

	request(t, tr, subjects.Chunk, chunkEnvelope(t, "partial", 0, 2, []byte("a")))
	res = request(t, tr, subjects.Finish, protocol.BuildFinishEnvelope("partial", types.EncodingHex))
	if msg, _ := res["error"].(string); msg != "received 1 of 2 chunks" {
		t.Errorf("partial session error = %v", res["error"])
	}

	resp, err := tr.Request(context.Background(), subjects.Chunk, []byte("not json"), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := protocol.ParseAck(protocol.JSONCodec{}, resp); err == nil {
		t.Error("malformed envelope should produce an error ack")
	}
}

func TestWorker_DropsSessionOnRejectedChunk(t *testing.T) {
	w, tr := serve(t)
	subjects := protocol.NewSubjects("")

	request(t, tr, subjects.Chunk, chunkEnvelope(t, "s", 0, 2, []byte("a")))
	if w.Sessions() != 1 {
		t.Fatalf("sessions = %d, want 1", w.Sessions())
	}

	bad := protocol.ChunkEnvelope{SessionID: "s", ChunkIndex: 1, TotalChunks: 2, Data: "zz", Encoding: types.EncodingHex}
	if res := request(t, tr, subjects.Chunk, bad); res["error"] == nil {
		t.Fatal("undecodable payload should be rejected")
	}
	if w.Sessions() != 0 {
		t.Errorf("sessions = %d after a rejected chunk, want 0", w.Sessions())
	}
}

func TestWorker_EvictsIdleSessions(t *testing.T) {
	w, tr := serve(t, WithSessionTTL(time.Minute))
	subjects := protocol.NewSubjects("")

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w.mu.Lock()
	w.now = func() time.Time { return clock }
	w.mu.Unlock()

	request(t, tr, subjects.Chunk, chunkEnvelope(t, "abandoned", 0, 2, []byte("a")))

	w.mu.Lock()
	clock = clock.Add(30 * time.Second)
	w.mu.Unlock()
	request(t, tr, subjects.Chunk, chunkEnvelope(t, "active", 0, 2, []byte("b")))
	if w.Sessions() != 2 {
		t.Fatalf("sessions = %d, want 2", w.Sessions())
	}

	w.mu.Lock()
	clock = clock.Add(45 * time.Second)
	w.mu.Unlock()
	request(t, tr, subjects.Chunk, chunkEnvelope(t, "active", 1, 2, []byte("c")))

	if w.Sessions() != 1 {
		t.Errorf("sessions = %d, want only the active one", w.Sessions())
	}
	res := request(t, tr, subjects.Finish, protocol.BuildFinishEnvelope("active", types.EncodingHex))
	if _, failed := res["error"]; failed {
		t.Errorf("active session should finish: %v", res)
	}
	res = request(t, tr, subjects.Finish, protocol.BuildFinishEnvelope("abandoned", types.EncodingHex))
	if res["error"] == nil {
		t.Error("evicted session should be unknown")
	}
}
