package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeldware/dropship/internal/authapi"
	"github.com/skeldware/dropship/internal/protocol"
	"github.com/skeldware/dropship/internal/transport"
)

// Link is the slice of a transport peer the session layer uses. Room
// tests substitute in-memory fakes.
type Link interface {
	SendReliable(payload []byte) error
	SendUnreliable(payload []byte) error
	Disconnect(reason protocol.DisconnectReason, message string)
	RoundTripPing() time.Duration
	RemoteIP() string
	Closed() bool
}

// Connection binds a transport peer to a protocol identity: the
// process-unique client id, the hello fields, and the resolved account.
// The room pointer is written by the owning room's goroutine and read by
// the worker's routing, hence atomic.
type Connection struct {
	ClientID uint32

	link Link
	// peer is the underlying transport peer, nil when link is a fake.
	peer  *transport.Peer
	hello transport.Hello
	user  *authapi.User

	room atomic.Pointer[Room]

	// malformed budgets undecodable root messages; nil means unlimited
	// (test connections).
	malformed *rate.Limiter

	mu      sync.Mutex
	pending [][]byte
}

// NewConnection wraps a real transport peer.
func NewConnection(clientID uint32, p *transport.Peer, user *authapi.User) *Connection {
	return &Connection{
		ClientID: clientID,
		link:     p,
		peer:     p,
		hello:    p.Hello(),
		user:     user,
	}
}

// newTestConnection wires an arbitrary Link; used by package tests.
func newTestConnection(clientID uint32, link Link, hello transport.Hello, user *authapi.User) *Connection {
	return &Connection{ClientID: clientID, link: link, peer: nil, hello: hello, user: user}
}

// Username returns the display name: the account's when authenticated,
// else the name from the hello payload.
func (c *Connection) Username() string {
	if c.user != nil && c.user.DisplayName != "" {
		return c.user.DisplayName
	}
	return c.hello.Username
}

// UserID identifies the connection in infraction records. Anonymous
// connections are tagged with their claimed username.
func (c *Connection) UserID() string {
	if c.user != nil && c.user.ID != "" {
		return c.user.ID
	}
	return "guest:" + c.hello.Username
}

// User returns the resolved account, nil when anonymous.
func (c *Connection) User() *authapi.User { return c.user }

// Hello returns the decoded handshake payload.
func (c *Connection) Hello() transport.Hello { return c.hello }

// Ping returns the smoothed round-trip time.
func (c *Connection) Ping() time.Duration { return c.link.RoundTripPing() }

// RemoteIP returns the peer address without the port.
func (c *Connection) RemoteIP() string { return c.link.RemoteIP() }

// Room returns the room this connection belongs to, nil when lobbyless.
func (c *Connection) Room() *Room { return c.room.Load() }

func (c *Connection) setRoom(r *Room) { c.room.Store(r) }

func (c *Connection) clearRoom() { c.room.Store(nil) }

// SendReliable coalesces the given root messages into one reliable
// packet.
func (c *Connection) SendReliable(msgs ...[]byte) error {
	w := protocol.GetWriter()
	defer w.Put()
	for _, m := range msgs {
		w.WriteBytes(m)
	}
	if w.Len() == 0 {
		return nil
	}
	return c.link.SendReliable(w.Bytes())
}

// SendUnreliable ships one pre-framed payload without delivery tracking.
func (c *Connection) SendUnreliable(payload []byte) error {
	return c.link.SendUnreliable(payload)
}

// Queue buffers a root message for the next Flush. Queue and Flush pair
// up when a caller produces messages incrementally but wants them in a
// single packet.
func (c *Connection) Queue(msg []byte) {
	c.mu.Lock()
	c.pending = append(c.pending, msg)
	c.mu.Unlock()
}

// Flush sends everything queued as one reliable packet.
func (c *Connection) Flush() error {
	c.mu.Lock()
	msgs := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(msgs) == 0 {
		return nil
	}
	return c.SendReliable(msgs...)
}

// Disconnect drops the peer with a reason.
func (c *Connection) Disconnect(reason protocol.DisconnectReason, message string) {
	c.link.Disconnect(reason, message)
}

// Closed reports whether the underlying peer is gone.
func (c *Connection) Closed() bool { return c.link.Closed() }
