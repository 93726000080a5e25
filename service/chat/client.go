package chat

import (
	"sync"
	"sync/atomic"
)

// Connection lifecycle. A connection leaves Active exactly once; every later
// teardown signal is a no-op.
const (
	StateConnecting int32 = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

// Client is one authenticated connection on this instance. Display fields are
// snapshotted at authentication time so relayed events never need a user
// lookup. The struct is owned by its supervisor goroutines and never leaves
// the instance; cross-instance visibility goes through the presence registry.
type Client struct {
	ConnID string
	UserID string
	Name   string
	Avatar string

	send      chan []byte
	state     atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(connID, userID, name, avatar string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	c := &Client{
		ConnID: connID,
		UserID: userID,
		Name:   name,
		Avatar: avatar,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
	c.state.Store(StateConnecting)
	return c
}

func (c *Client) State() int32       { return c.state.Load() }
func (c *Client) SetState(s int32)   { c.state.Store(s) }
func (c *Client) Send() <-chan []byte { return c.send }
func (c *Client) Done() <-chan struct{} { return c.closed }

// BeginClose moves Active -> Closing; only the first caller wins.
func (c *Client) BeginClose() bool {
	return c.state.CompareAndSwap(StateActive, StateClosing)
}

// Close releases the outbound queue. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(StateClosed)
		close(c.closed)
	})
}

// Enqueue hands a payload to the writer goroutine without blocking. A payload
// for a closed or saturated connection is dropped: late results after
// disconnect must be harmless no-ops, and a slow client must not stall the
// room (delivery is at-least-once end to end, the client reconciles on
// reconnect).
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}
