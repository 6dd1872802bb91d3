package bus

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/types"
)

// Transport publishes, requests and subscribes through a Manager. Every
// operation ensures a connection first and fails with a connection error,
// without touching the bus, when none can be established.
type Transport struct {
	manager *Manager
	logger  *log.Logger
}

// NewTransport creates a transport over m.
func NewTransport(m *Manager, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.Nop()
	}
	return &Transport{manager: m, logger: logger.Named("transport")}
}

// Manager returns the underlying connection manager.
func (t *Transport) Manager() *Manager {
	return t.manager
}

// Publish sends a fire-and-forget message.
func (t *Transport) Publish(ctx context.Context, subject string, payload []byte) error {
	conn, err := t.manager.EnsureConnected(ctx)
	if err != nil {
		return err
	}
	if err := conn.Publish(ctx, subject, payload); err != nil {
		return Classify("publish "+subject, err)
	}
	t.logger.Debug("published", map[string]any{"subject": subject, "bytes": len(payload)})
	return nil
}

// Request sends payload and waits up to timeout for the reply. Expiry is a
// timeout error, distinct from connection errors. A non-positive timeout
// leaves the request bounded only by ctx.
func (t *Transport) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	conn, err := t.manager.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	op := "request " + subject
	resp, err := conn.Request(reqCtx, subject, payload)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		classified := Classify(op, err)
		if timeout > 0 && errors.Is(classified, types.ErrTimeout) {
			return nil, timeoutError(op, timeout, err)
		}
		return nil, classified
	}
	return resp, nil
}

// Subscribe registers h for subject. Repeated subscriptions to the same
// subject return the existing handle.
func (t *Transport) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	return t.manager.Subscribe(ctx, subject, h)
}

// MaxPayload returns the bus's message size limit, or 0 when unknown.
func (t *Transport) MaxPayload() int64 {
	return t.manager.MaxPayload()
}
