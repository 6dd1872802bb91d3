// Package bus manages the connection to the request-reply message bus.
//
// A Manager owns the connection lifecycle (connect with retry, background
// reconnection, idempotent close) and the subscription registry. A Transport
// layers publish, request and subscribe on top of it and classifies every
// failure into the types error taxonomy.
//
// Concrete buses live in subpackages (bus/nats, bus/redis, bus/bustest) and
// implement Dialer and Conn.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekovAA/NATS/types"
)

// Backend sentinel errors. Conn implementations wrap their native errors
// with these so Classify can map them without knowing the backend.
var (
	// ErrClosed indicates the connection is closed or was lost.
	ErrClosed = errors.New("bus: connection closed")

	// ErrRequestTimeout indicates no reply arrived before the deadline.
	ErrRequestTimeout = errors.New("bus: request timed out")

	// ErrNoResponders indicates nothing is subscribed to the request subject.
	ErrNoResponders = errors.New("bus: no responders")

	// ErrNoReply indicates Respond was called on a message without a reply
	// subject.
	ErrNoReply = errors.New("bus: message has no reply subject")
)

// Message is a message delivered to a Handler.
type Message struct {
	Subject string
	Data    []byte

	respond func([]byte) error
}

// NewMessage builds a delivered message. respond may be nil for messages
// that were published rather than requested.
func NewMessage(subject string, data []byte, respond func([]byte) error) *Message {
	return &Message{Subject: subject, Data: data, respond: respond}
}

// Respond replies to a request.
func (m *Message) Respond(data []byte) error {
	if m.respond == nil {
		return ErrNoReply
	}
	return m.respond(data)
}

// Handler processes messages delivered on a subscribed subject.
type Handler interface {
	ServeMessage(ctx context.Context, msg *Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message)

// ServeMessage calls f(ctx, msg).
func (f HandlerFunc) ServeMessage(ctx context.Context, msg *Message) {
	f(ctx, msg)
}

// Subscription is an active subscription.
type Subscription interface {
	Subject() string
	Unsubscribe() error
}

// Conn is a live connection to a bus.
type Conn interface {
	// Publish sends a fire-and-forget message.
	Publish(ctx context.Context, subject string, data []byte) error
	// Request sends a message and waits for a single reply until ctx is done.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	// Subscribe delivers messages on subject to h until unsubscribed.
	Subscribe(subject string, h Handler) (Subscription, error)
	// IsConnected reports whether the connection is usable.
	IsConnected() bool
	// MaxPayload returns the largest accepted message in bytes, or 0 if the
	// bus imposes no known limit.
	MaxPayload() int64
	// Close releases the connection.
	Close() error
}

// Dialer opens connections to a bus endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f(ctx, endpoint).
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// Classify maps a backend error to the types taxonomy. Errors that are
// already classified, and caller cancellation, pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrTimeout, op, "request timed out", err)
	case errors.Is(err, ErrNoResponders):
		return types.NewError(types.ErrConnection, op, "no responders", err)
	case errors.Is(err, ErrClosed):
		return types.NewError(types.ErrConnection, op, "connection lost", err)
	default:
		return types.NewError(types.ErrConnection, op, "bus error", err)
	}
}

// timeoutError builds the error for a request that got no reply in time.
func timeoutError(op string, timeout time.Duration, err error) error {
	return types.NewError(types.ErrTimeout, op, "no reply within "+timeout.String(), err)
}
