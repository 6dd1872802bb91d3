package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/metrics"
	"github.com/AlibekovAA/NATS/types"
)

// DefaultMonitorInterval is how often the reconnection monitor checks the
// connection.
const DefaultMonitorInterval = 5 * time.Second

// Phase is the connection lifecycle phase.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseClosed       Phase = "closed"
)

// ConnectionState is a point-in-time view of the manager.
type ConnectionState struct {
	Phase         Phase    `json:"phase"`
	Connected     bool     `json:"connected"`
	Endpoint      string   `json:"endpoint"`
	Subscriptions []string `json:"subscriptions"`
	RetryCount    int      `json:"retry_count"`
	Reconnects    int      `json:"reconnects"`
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Endpoint is passed to the Dialer (required).
	Endpoint string
	// Dialer opens connections (required).
	Dialer Dialer
	// Retry controls connection attempts (default DefaultRetryPolicy).
	Retry RetryPolicy
	// MonitorInterval is the reconnection check period (default 5s).
	// Negative disables the monitor.
	MonitorInterval time.Duration
	// Logger receives lifecycle logs (default no-op).
	Logger *log.Logger
	// Metrics counts connect attempts and reconnects (optional).
	Metrics *metrics.Collector
}

type registration struct {
	handler Handler
	sub     Subscription
	handle  *managedSubscription
}

// Manager owns one bus connection. It is safe for concurrent use.
type Manager struct {
	dialer   Dialer
	endpoint string
	retry    RetryPolicy
	interval time.Duration
	logger   *log.Logger
	metrics  *metrics.Collector

	// lifetime is canceled by Close and aborts in-flight Connect calls.
	lifetime context.Context
	stop     context.CancelFunc

	// connectMu serializes connection attempts and subscription changes.
	// Conn methods are never called while holding mu.
	connectMu sync.Mutex

	mu            sync.Mutex
	conn          Conn
	phase         Phase
	retryCount    int
	reconnects    int
	everConnected bool
	closed        bool
	subs          map[string]*registration
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewManager creates a disconnected manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, types.NewError(types.ErrValidation, "new manager", "dialer is required", nil)
	}
	if opts.Endpoint == "" {
		return nil, types.NewError(types.ErrValidation, "new manager", "endpoint is required", nil)
	}
	if opts.Retry.MaxAttempts == 0 && opts.Retry.Backoff == nil && opts.Retry.Sleep == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.MonitorInterval == 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Manager{
		lifetime: lifetime,
		stop:     stop,
		dialer:   opts.Dialer,
		endpoint: opts.Endpoint,
		retry:    opts.Retry.withDefaults(),
		interval: opts.MonitorInterval,
		logger:   opts.Logger.Named("bus"),
		metrics:  opts.Metrics,
		phase:    PhaseDisconnected,
		subs:     make(map[string]*registration),
	}, nil
}

func (m *Manager) closedError(op string) error {
	return types.NewError(types.ErrConnection, op, "connection manager is closed", ErrClosed)
}

// current returns the connection, or nil once closed.
func (m *Manager) current() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	return m.conn
}

// Connect establishes the connection, retrying per the RetryPolicy. It is a
// no-op when already connected. The final failure is a connection error
// wrapping the last dial error. Close aborts a Connect in progress, which
// then returns the closed error.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if conn := m.current(); conn != nil && conn.IsConnected() {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.closedError("connect")
	}
	m.phase = PhaseConnecting
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(m.lifetime, cancel)()

	var conn Conn
	attempts, err := m.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return m.closedError("connect")
		}
		m.retryCount = attempt - 1
		m.mu.Unlock()
		m.metrics.IncConnectAttempt()

		c, err := m.dialer.Dial(ctx, m.endpoint)
		if err != nil {
			m.metrics.IncConnectFailure()
			m.logger.Warn("connect attempt failed", map[string]any{
				"endpoint":     m.endpoint,
				"attempt":      attempt,
				"max_attempts": m.retry.MaxAttempts,
				"error":        err.Error(),
			})
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		m.mu.Lock()
		closed := m.closed
		m.retryCount = attempts
		if !closed {
			m.phase = PhaseDisconnected
		}
		m.mu.Unlock()
		if closed {
			return m.closedError("connect")
		}
		return types.NewError(types.ErrConnection, "connect",
			fmt.Sprintf("failed to connect to %s after %d attempts", m.endpoint, attempts), err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return m.closedError("connect")
	}
	stale := m.conn
	m.conn = conn
	m.phase = PhaseConnected
	m.retryCount = 0
	reconnect := m.everConnected
	m.everConnected = true
	if reconnect {
		m.reconnects++
		m.metrics.IncReconnect()
	}
	m.startMonitorLocked()
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	m.resubscribe(conn)
	m.logger.Info("connected", map[string]any{
		"endpoint":  m.endpoint,
		"attempts":  attempts,
		"reconnect": reconnect,
	})
	return nil
}

// resubscribe re-establishes every registered subscription on conn. The
// caller holds connectMu.
func (m *Manager) resubscribe(conn Conn) {
	m.mu.Lock()
	regs := make(map[string]*registration, len(m.subs))
	for subject, reg := range m.subs {
		regs[subject] = reg
	}
	m.mu.Unlock()

	for subject, reg := range regs {
		sub, err := conn.Subscribe(subject, reg.handler)
		if err != nil {
			m.logger.Warn("resubscribe failed", map[string]any{
				"subject": subject,
				"error":   err.Error(),
			})
		}

		m.mu.Lock()
		live := !m.closed && m.subs[subject] == reg
		if live {
			reg.sub = sub
		}
		m.mu.Unlock()
		if !live && sub != nil {
			_ = sub.Unsubscribe()
		}
	}
}

func (m *Manager) startMonitorLocked() {
	if m.monitorCancel != nil || m.interval < 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.monitorCancel = cancel
	m.monitorDone = make(chan struct{})
	go m.monitor(ctx, m.monitorDone)
}

// monitor reconnects whenever the connection is found lost. It exits when
// the manager closes.
func (m *Manager) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkConnection(ctx)
		}
	}
}

func (m *Manager) checkConnection(ctx context.Context) {
	if conn := m.current(); conn != nil && conn.IsConnected() {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseDisconnected
	m.mu.Unlock()

	m.logger.Warn("connection lost, reconnecting", map[string]any{"endpoint": m.endpoint})
	if err := m.Connect(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("reconnect failed", map[string]any{
			"endpoint": m.endpoint,
			"error":    err.Error(),
		})
	}
}

// IsConnected reports whether the current connection is usable.
func (m *Manager) IsConnected() bool {
	conn := m.current()
	return conn != nil && conn.IsConnected()
}

// EnsureConnected returns the live connection, connecting first if needed.
func (m *Manager) EnsureConnected(ctx context.Context) (Conn, error) {
	if m.isClosed() {
		return nil, m.closedError("ensure connected")
	}
	if conn := m.current(); conn != nil && conn.IsConnected() {
		return conn, nil
	}

	if err := m.Connect(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn == nil {
		return nil, m.closedError("ensure connected")
	}
	return m.conn, nil
}

// Subscribe registers h for subject and returns the subscription handle.
// Subscribing to an already registered subject returns the existing handle
// and leaves the original handler in place. Registered subscriptions are
// re-established after every reconnect.
func (m *Manager) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, types.NewError(types.ErrValidation, "subscribe "+subject, "handler is required", nil)
	}
	if _, err := m.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	// Holding connectMu keeps the connection from being swapped until the
	// registration is recorded.
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed || m.conn == nil {
		m.mu.Unlock()
		return nil, m.closedError("subscribe " + subject)
	}
	if reg, ok := m.subs[subject]; ok {
		m.mu.Unlock()
		return reg.handle, nil
	}
	conn := m.conn
	m.mu.Unlock()

	sub, err := conn.Subscribe(subject, h)
	if err != nil {
		return nil, Classify("subscribe "+subject, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, m.closedError("subscribe " + subject)
	}
	reg := &registration{handler: h, sub: sub, handle: &managedSubscription{m: m, subject: subject}}
	m.subs[subject] = reg
	m.mu.Unlock()

	m.logger.Debug("subscribed", map[string]any{"subject": subject})
	return reg.handle, nil
}

func (m *Manager) unsubscribe(subject string) error {
	m.mu.Lock()
	reg, ok := m.subs[subject]
	delete(m.subs, subject)
	m.mu.Unlock()
	if !ok || reg.sub == nil {
		return nil
	}
	return reg.sub.Unsubscribe()
}

// MaxPayload returns the current connection's payload limit, or 0 when
// disconnected.
func (m *Manager) MaxPayload() int64 {
	conn := m.current()
	if conn == nil {
		return 0
	}
	return conn.MaxPayload()
}

// State returns a snapshot of the connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	subjects := make([]string, 0, len(m.subs))
	for s := range m.subs {
		subjects = append(subjects, s)
	}
	state := ConnectionState{
		Phase:         m.phase,
		Endpoint:      m.endpoint,
		Subscriptions: subjects,
		RetryCount:    m.retryCount,
		Reconnects:    m.reconnects,
	}
	var conn Conn
	if !m.closed {
		conn = m.conn
	}
	m.mu.Unlock()

	sort.Strings(state.Subscriptions)
	state.Connected = conn != nil && conn.IsConnected()
	return state
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close stops the monitor, drains subscriptions and closes the connection.
// Calling Close more than once is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.phase = PhaseClosed
	cancel, done := m.monitorCancel, m.monitorDone
	m.mu.Unlock()

	m.stop()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	subs := m.subs
	m.subs = make(map[string]*registration)
	m.mu.Unlock()

	var errs []error
	for _, reg := range subs {
		if reg.sub != nil {
			if err := reg.sub.Unsubscribe(); err != nil && !errors.Is(err, ErrClosed) {
				errs = append(errs, err)
			}
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}
	m.logger.Info("closed", map[string]any{"endpoint": m.endpoint})
	return errors.Join(errs...)
}

// managedSubscription is the handle returned by Manager.Subscribe. It
// stays valid across reconnects.
type managedSubscription struct {
	m       *Manager
	subject string
}

func (s *managedSubscription) Subject() string { return s.subject }

func (s *managedSubscription) Unsubscribe() error { return s.m.unsubscribe(s.subject) }
