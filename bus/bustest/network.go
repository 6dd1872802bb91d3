// Package bustest provides an in-process bus for tests and dry runs.
//
// A Network routes messages between the connections dialed from it.
// Delivery to each subscription is serialized in arrival order, so a
// handler observes publishes and requests on one subject in the order they
// were sent. Failures are injected with FailNextDials and Drop.
package bustest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AlibekovAA/NATS/bus"
)

// DefaultMaxPayload matches the default NATS server limit (1 MiB).
const DefaultMaxPayload = 1 << 20

// ErrDialRefused is returned by dials failed with FailNextDials.
var ErrDialRefused = errors.New("bustest: dial refused")

// Compile-time interface checks.
var (
	_ bus.Dialer = (*Network)(nil)
	_ bus.Conn   = (*Conn)(nil)
)

// Record is a message observed by the network.
type Record struct {
	Subject string
	Data    []byte
	Request bool
}

// Network is an in-process bus. The zero value is not usable; use
// NewNetwork.
type Network struct {
	mu         sync.Mutex
	subs       map[string][]*subscription
	conns      map[*Conn]struct{}
	records    []Record
	failDials  int
	dialErr    error
	dials      int
	maxPayload int64
}

// NewNetwork creates an empty network with DefaultMaxPayload.
func NewNetwork() *Network {
	return &Network{
		subs:       make(map[string][]*subscription),
		conns:      make(map[*Conn]struct{}),
		maxPayload: DefaultMaxPayload,
	}
}

// Dial implements bus.Dialer. The endpoint is ignored.
func (n *Network) Dial(ctx context.Context, _ string) (bus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials++
	if n.failDials > 0 {
		n.failDials--
		if n.dialErr != nil {
			return nil, n.dialErr
		}
		return nil, ErrDialRefused
	}
	c := &Conn{network: n, done: make(chan struct{})}
	n.conns[c] = struct{}{}
	return c, nil
}

// FailNextDials makes the next k dials fail with ErrDialRefused.
func (n *Network) FailNextDials(k int) {
	n.FailNextDialsWith(k, nil)
}

// FailNextDialsWith makes the next k dials fail with err.
func (n *Network) FailNextDialsWith(k int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failDials = k
	n.dialErr = err
}

// DialCount returns the number of dials attempted.
func (n *Network) DialCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

// SetMaxPayload changes the payload limit reported to and enforced on
// connections. Zero disables the limit.
func (n *Network) SetMaxPayload(limit int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maxPayload = limit
}

// Drop severs every open connection, as a server restart would. Pending
// requests fail and the connections report disconnected.
func (n *Network) Drop() {
	n.mu.Lock()
	conns := make([]*Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.sever()
	}
}

// Records returns every message observed so far, in send order.
func (n *Network) Records() []Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Record(nil), n.records...)
}

// Count returns how many messages were sent to subject.
func (n *Network) Count(subject string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, r := range n.records {
		if r.Subject == subject {
			count++
		}
	}
	return count
}

// Subscribers returns the number of live subscriptions on subject.
func (n *Network) Subscribers(subject string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[subject])
}

func (n *Network) route(subject string, data []byte, request bool) ([]*subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.maxPayload > 0 && int64(len(data)) > n.maxPayload {
		return nil, fmt.Errorf("bustest: payload of %d bytes exceeds limit %d", len(data), n.maxPayload)
	}
	n.records = append(n.records, Record{Subject: subject, Data: append([]byte(nil), data...), Request: request})
	return append([]*subscription(nil), n.subs[subject]...), nil
}

func (n *Network) addSub(s *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[s.subject] = append(n.subs[s.subject], s)
}

func (n *Network) removeSub(s *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[s.subject]
	for i, cur := range list {
		if cur == s {
			n.subs[s.subject] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(n.subs[s.subject]) == 0 {
		delete(n.subs, s.subject)
	}
}

func (n *Network) removeConn(c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, c)
}

func (n *Network) limit() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.maxPayload
}
