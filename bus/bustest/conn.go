package bustest

import (
	"context"
	"sync"

	"github.com/AlibekovAA/NATS/bus"
)

// queueSize bounds undelivered messages per subscription.
const queueSize = 1024

// Conn is a connection to a Network.
type Conn struct {
	network *Network

	mu   sync.Mutex
	subs []*subscription
	down bool
	done chan struct{}
}

// Publish implements bus.Conn.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.IsConnected() {
		return bus.ErrClosed
	}
	subs, err := c.network.route(subject, data, false)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if err := s.enqueue(ctx, bus.NewMessage(subject, data, nil)); err != nil {
			return err
		}
	}
	return nil
}

// Request implements bus.Conn. The first subscriber on subject receives the
// request.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if !c.IsConnected() {
		return nil, bus.ErrClosed
	}
	subs, err := c.network.route(subject, data, true)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, bus.ErrNoResponders
	}

	reply := make(chan []byte, 1)
	msg := bus.NewMessage(subject, data, func(resp []byte) error {
		select {
		case reply <- append([]byte(nil), resp...):
		default:
		}
		return nil
	})
	if err := subs[0].enqueue(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, bus.ErrClosed
	}
}

// Subscribe implements bus.Conn.
func (c *Conn) Subscribe(subject string, h bus.Handler) (bus.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, bus.ErrClosed
	}
	s := &subscription{
		conn:    c,
		subject: subject,
		handler: h,
		queue:   make(chan *bus.Message, queueSize),
		done:    make(chan struct{}),
	}
	c.subs = append(c.subs, s)
	c.network.addSub(s)
	go s.run()
	return s, nil
}

// IsConnected implements bus.Conn.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.down
}

// MaxPayload implements bus.Conn.
func (c *Conn) MaxPayload() int64 {
	return c.network.limit()
}

// Close implements bus.Conn.
func (c *Conn) Close() error {
	c.sever()
	return nil
}

// sever disconnects c and drops its subscriptions. It is idempotent.
func (c *Conn) sever() {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	close(c.done)
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	c.network.removeConn(c)
}

type subscription struct {
	conn    *Conn
	subject string
	handler bus.Handler
	queue   chan *bus.Message
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.network.removeSub(s)
	})
	return nil
}

func (s *subscription) enqueue(ctx context.Context, msg *bus.Message) error {
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			s.handler.ServeMessage(ctx, msg)
		}
	}
}
