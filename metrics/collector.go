// Package metrics provides in-process transfer counters.
//
// The Collector accumulates counters across sessions sharing one bus
// connection. It is a leaf package with no internal dependencies; there is
// no exposition endpoint, callers read a Snapshot.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64            `json:"sessions_started"`
	SessionsCompleted int64            `json:"sessions_completed"`
	SessionsFailed    int64            `json:"sessions_failed"`
	FailuresByKind    map[string]int64 `json:"failures_by_kind"`

	// Chunk traffic
	ChunksSent  int64 `json:"chunks_sent"`
	ChunksAcked int64 `json:"chunks_acked"`
	BytesSent   int64 `json:"bytes_sent"`
	MaxInFlight int64 `json:"max_in_flight"`

	// Connection
	ConnectAttempts int64 `json:"connect_attempts"`
	ConnectFailures int64 `json:"connect_failures"`
	Reconnects      int64 `json:"reconnects"`

	// Dimensions (informational, set at construction)
	Bus      string `json:"bus"`
	Endpoint string `json:"endpoint"`
}

// Collector accumulates transfer counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	failuresByKind    map[string]int64

	chunksSent  int64
	chunksAcked int64
	bytesSent   int64
	inFlight    int64
	maxInFlight int64

	connectAttempts int64
	connectFailures int64
	reconnects      int64

	bus      string
	endpoint string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(bus, endpoint string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		bus:            bus,
		endpoint:       endpoint,
	}
}

// --- Sessions ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionCompleted records a session that returned a result.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionFailed records a failed session under its failure kind.
func (c *Collector) IncSessionFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// --- Chunks ---
// ChunkSent and ChunkDone bracket one in-flight chunk request so the
// collector can report the observed concurrency high-water mark.

// ChunkSent records a chunk request leaving with n payload bytes.
func (c *Collector) ChunkSent(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksSent++
	c.bytesSent += int64(n)
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()
}

// ChunkDone records the end of a chunk request; acked reports success.
func (c *Collector) ChunkDone(acked bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.inFlight--
	if acked {
		c.chunksAcked++
	}
	c.mu.Unlock()
}

// --- Connection ---

// IncConnectAttempt records a single dial attempt.
func (c *Collector) IncConnectAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectAttempts++
	c.mu.Unlock()
}

// IncConnectFailure records a failed dial attempt.
func (c *Collector) IncConnectFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectFailures++
	c.mu.Unlock()
}

// IncReconnect records a reconnect triggered by the connection monitor.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		byKind[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		FailuresByKind:    byKind,

		ChunksSent:  c.chunksSent,
		ChunksAcked: c.chunksAcked,
		BytesSent:   c.bytesSent,
		MaxInFlight: c.maxInFlight,

		ConnectAttempts: c.connectAttempts,
		ConnectFailures: c.connectFailures,
		Reconnects:      c.reconnects,

		Bus:      c.bus,
		Endpoint: c.endpoint,
	}
}
