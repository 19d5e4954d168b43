package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

const outboundBuffer = 64

// Reasons passed to Link.Terminate.
const (
	CloseReasonDisconnected = "disconnected"
	CloseReasonReplaced     = "session replaced"
	CloseReasonSlowConsumer = "slow consumer"
	CloseReasonTimeout      = "liveness timeout"
	CloseReasonShutdown     = "server shutting down"
)

// Link is the transport side of a connection as seen by the core.
type Link interface {
	// Ping sends a liveness probe and blocks until the peer answers or ctx ends.
	Ping(ctx context.Context) error
	// Terminate drops the transport without a closing handshake.
	Terminate(reason string)
}

// Identity is what a connection knows about its authenticated user.
type Identity struct {
	UserID   string
	Username string
	Level    int
	GuildID  string
}

// Conn is one live client connection.
// Identity and room fields are written only by the Registry.
type Conn struct {
	ID string

	link      Link
	out       chan proto.Outbound
	done      chan struct{}
	closeOnce sync.Once

	alive    atomic.Bool
	detached atomic.Bool

	mu       sync.RWMutex
	identity Identity
	roomID   string
	status   string
}

// NewConn wraps a transport link. The connection starts alive and unauthenticated.
func NewConn(id string, link Link) *Conn {
	c := &Conn{
		ID:   id,
		link: link,
		out:  make(chan proto.Outbound, outboundBuffer),
		done: make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Identity returns the bound identity and whether authentication happened.
func (c *Conn) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.identity.UserID != ""
}

// UserID returns the authenticated user ID or "".
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.UserID
}

// RoomID returns the room this connection is subscribed to or "".
func (c *Conn) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Status returns the last presence status announced for this connection.
func (c *Conn) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Conn) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// MarkAlive records a liveness response.
func (c *Conn) MarkAlive() {
	c.alive.Store(true)
}

// Alive reports whether the connection answered since the last probe.
func (c *Conn) Alive() bool {
	return c.alive.Load()
}

// Outbound is drained by the transport writer.
func (c *Conn) Outbound() <-chan proto.Outbound {
	return c.out
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops delivery and terminates the transport. Safe to call many times.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.link != nil {
			c.link.Terminate(reason)
		}
	})
}

// Send queues an envelope for the writer, stamping the server time when unset.
// A full buffer closes the connection rather than blocking the sender.
func (c *Conn) Send(env proto.Outbound) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if c.Closed() {
		return ErrConnClosed
	}

	select {
	case c.out <- env:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.Close(CloseReasonSlowConsumer)
		return ErrSlowConsumer
	}
}

// markDetached flips the detached flag once; false means cleanup already ran.
func (c *Conn) markDetached() bool {
	return c.detached.CompareAndSwap(false, true)
}
