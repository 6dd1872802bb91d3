// Package nats implements the bus over a NATS server.
//
// Client-side reconnection is disabled: a dropped connection closes, and
// bus.Manager redials and restores subscriptions.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/log"
)

// DefaultURL is the default server URL.
const DefaultURL = natsgo.DefaultURL

// DefaultName is the client name reported to the server.
const DefaultName = "pcapbus"

// Options configures a Dialer.
type Options struct {
	// Name is the client connection name (default "pcapbus").
	Name string
	// ConnectTimeout bounds the dial when ctx has no earlier deadline
	// (default 5s).
	ConnectTimeout time.Duration
	// Logger receives connection events (default no-op).
	Logger *log.Logger
}

// Dialer dials NATS servers.
type Dialer struct {
	opts Options
}

// NewDialer creates a Dialer.
func NewDialer(opts Options) *Dialer {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Logger = opts.Logger.Named("nats")
	return &Dialer{opts: opts}
}

// Dial connects to url. It returns when the connection is established, the
// dial fails, or ctx is done.
func (d *Dialer) Dial(ctx context.Context, url string) (bus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := d.opts.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	logger := d.opts.Logger
	opts := []natsgo.Option{
		natsgo.Name(d.opts.Name),
		natsgo.Timeout(timeout),
		natsgo.NoReconnect(),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			fields := map[string]any{"url": url}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.Warn("disconnected", fields)
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			fields := map[string]any{"error": err.Error()}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			logger.Error("async error", fields)
		}),
	}

	type result struct {
		nc  *natsgo.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := natsgo.Connect(url, opts...)
		done <- result{nc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("nats: connect %s: %w", url, r.err)
		}
		return newConn(r.nc, logger), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Conn is a NATS connection.
type Conn struct {
	nc     *natsgo.Conn
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(nc *natsgo.Conn, logger *log.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{nc: nc, logger: logger, ctx: ctx, cancel: cancel}
}

// Publish implements bus.Conn.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(c.nc.Publish(subject, data))
}

// Request implements bus.Conn.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, mapError(err)
	}
	return msg.Data, nil
}

// Subscribe implements bus.Conn. Handlers run on the subscription's
// delivery goroutine and see a context cancelled when the connection closes.
func (c *Conn) Subscribe(subject string, h bus.Handler) (bus.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(m *natsgo.Msg) {
		var respond func([]byte) error
		if m.Reply != "" {
			respond = func(data []byte) error { return mapError(m.Respond(data)) }
		}
		h.ServeMessage(c.ctx, bus.NewMessage(m.Subject, m.Data, respond))
	})
	if err != nil {
		return nil, mapError(err)
	}
	return subscription{sub}, nil
}

// IsConnected implements bus.Conn.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

// MaxPayload implements bus.Conn. The value comes from the server INFO.
func (c *Conn) MaxPayload() int64 {
	return c.nc.MaxPayload()
}

// Close implements bus.Conn.
func (c *Conn) Close() error {
	c.cancel()
	c.nc.Close()
	return nil
}

type subscription struct {
	sub *natsgo.Subscription
}

func (s subscription) Subject() string { return s.sub.Subject }

func (s subscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, natsgo.ErrConnectionClosed) || errors.Is(err, natsgo.ErrBadSubscription) {
		return nil
	}
	return mapError(err)
}

// mapError wraps NATS errors with the bus sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, natsgo.ErrTimeout):
		return fmt.Errorf("%w: %w", bus.ErrRequestTimeout, err)
	case errors.Is(err, natsgo.ErrNoResponders):
		return fmt.Errorf("%w: %w", bus.ErrNoResponders, err)
	case errors.Is(err, natsgo.ErrConnectionClosed),
		errors.Is(err, natsgo.ErrConnectionDraining),
		errors.Is(err, natsgo.ErrConnectionReconnecting):
		return fmt.Errorf("%w: %w", bus.ErrClosed, err)
	default:
		return err
	}
}

// Compile-time interface checks.
var (
	_ bus.Dialer = (*Dialer)(nil)
	_ bus.Conn   = (*Conn)(nil)
)
