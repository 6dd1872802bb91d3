// Package redis implements the bus over Redis pub/sub.
//
// Requests are published with a reply channel under a per-connection inbox
// (_INBOX.<uuid>.<n>); the responder publishes its reply there. Messages
// are framed with msgpack so the reply channel travels with the payload.
// A PUBLISH that reaches no subscriber fails with bus.ErrNoResponders.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/log"
)

// DefaultMaxPayload is the Redis default bulk string limit (512 MiB).
const DefaultMaxPayload = 512 << 20

// healthTTL is how long a successful ping is trusted by IsConnected.
const healthTTL = time.Second

// pingTimeout bounds health check pings.
const pingTimeout = 500 * time.Millisecond

// frame is the envelope for every message on the bus.
type frame struct {
	Reply string `msgpack:"reply,omitempty"`
	Data  []byte `msgpack:"data"`
}

// Options configures a Dialer.
type Options struct {
	// MaxPayload is the limit reported by MaxPayload (default 512 MiB).
	MaxPayload int64
	// Logger receives connection events (default no-op).
	Logger *log.Logger
}

// Dialer dials Redis servers.
type Dialer struct {
	opts Options
}

// NewDialer creates a Dialer.
func NewDialer(opts Options) *Dialer {
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Logger = opts.Logger.Named("redis")
	return &Dialer{opts: opts}
}

// Dial connects to url (redis://[:password@]host:port[/db]) and listens on
// the connection's reply inbox.
func (d *Dialer) Dial(ctx context.Context, url string) (bus.Conn, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
	}

	inbox := "_INBOX." + uuid.NewString()
	replies := client.PSubscribe(ctx, inbox+".*")
	if _, err := replies.Receive(ctx); err != nil {
		_ = replies.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis: subscribe inbox: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		client:     client,
		logger:     d.opts.Logger,
		maxPayload: d.opts.MaxPayload,
		inbox:      inbox,
		replies:    replies,
		pending:    make(map[string]chan []byte),
		done:       make(chan struct{}),
		ctx:        connCtx,
		cancel:     cancel,
		healthy:    true,
		checkedAt:  time.Now(),
	}
	go c.readReplies()
	return c, nil
}

// Conn is a Redis bus connection.
type Conn struct {
	client     *goredis.Client
	logger     *log.Logger
	maxPayload int64
	inbox      string
	replies    *goredis.PubSub
	seq        atomic.Uint64

	mu        sync.Mutex
	pending   map[string]chan []byte
	subs      []*subscription
	healthy   bool
	checkedAt time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

func (c *Conn) readReplies() {
	for msg := range c.replies.Channel() {
		var f frame
		if err := msgpack.Unmarshal([]byte(msg.Payload), &f); err != nil {
			c.logger.Warn("dropping malformed reply", map[string]any{"channel": msg.Channel, "error": err.Error()})
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.Channel]
		delete(c.pending, msg.Channel)
		c.mu.Unlock()
		if ok {
			ch <- f.Data
		}
	}
}

func (c *Conn) publish(ctx context.Context, subject string, f frame) (int64, error) {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("redis: encode frame: %w", err)
	}
	n, err := c.client.Publish(ctx, subject, body).Result()
	if err != nil {
		c.markUnhealthy()
		if c.closed.Load() || errors.Is(err, goredis.ErrClosed) {
			return 0, fmt.Errorf("%w: %w", bus.ErrClosed, err)
		}
		return 0, err
	}
	return n, nil
}

// Publish implements bus.Conn.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if c.closed.Load() {
		return bus.ErrClosed
	}
	_, err := c.publish(ctx, subject, frame{Data: data})
	return err
}

// Request implements bus.Conn.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, bus.ErrClosed
	}

	reply := c.inbox + "." + strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[reply] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reply)
		c.mu.Unlock()
	}()

	receivers, err := c.publish(ctx, subject, frame{Reply: reply, Data: data})
	if err != nil {
		return nil, err
	}
	if receivers == 0 {
		return nil, bus.ErrNoResponders
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, bus.ErrClosed
	}
}

// Subscribe implements bus.Conn. Messages on one subscription are handled
// in arrival order.
func (c *Conn) Subscribe(subject string, h bus.Handler) (bus.Subscription, error) {
	if c.closed.Load() {
		return nil, bus.ErrClosed
	}
	ps := c.client.Subscribe(c.ctx, subject)
	if _, err := ps.Receive(c.ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", subject, err)
	}

	s := &subscription{subject: subject, ps: ps}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var f frame
			if err := msgpack.Unmarshal([]byte(msg.Payload), &f); err != nil {
				c.logger.Warn("dropping malformed message", map[string]any{"subject": msg.Channel, "error": err.Error()})
				continue
			}
			var respond func([]byte) error
			if f.Reply != "" {
				replyTo := f.Reply
				respond = func(data []byte) error {
					_, err := c.publish(c.ctx, replyTo, frame{Data: data})
					return err
				}
			}
			h.ServeMessage(c.ctx, bus.NewMessage(msg.Channel, f.Data, respond))
		}
	}()
	return s, nil
}

// IsConnected implements bus.Conn. A ping result is trusted for healthTTL.
func (c *Conn) IsConnected() bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	if time.Since(c.checkedAt) < healthTTL {
		healthy := c.healthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy := c.client.Ping(ctx).Err() == nil

	c.mu.Lock()
	c.healthy = healthy
	c.checkedAt = time.Now()
	c.mu.Unlock()
	return healthy
}

func (c *Conn) markUnhealthy() {
	c.mu.Lock()
	c.checkedAt = time.Time{}
	c.mu.Unlock()
}

// MaxPayload implements bus.Conn.
func (c *Conn) MaxPayload() int64 {
	return c.maxPayload
}

// Close implements bus.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.cancel()

		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()

		errs := make([]error, 0, len(subs)+2)
		for _, s := range subs {
			errs = append(errs, s.Unsubscribe())
		}
		errs = append(errs, c.replies.Close(), c.client.Close())
		err = errors.Join(errs...)
	})
	return err
}

type subscription struct {
	subject string
	ps      *goredis.PubSub
	once    sync.Once
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// Compile-time interface checks.
var (
	_ bus.Dialer = (*Dialer)(nil)
	_ bus.Conn   = (*Conn)(nil)
)
