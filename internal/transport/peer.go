package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeldware/dropship/internal/protocol"
)

var (
	// ErrPeerClosed reports a send on a disconnected peer.
	ErrPeerClosed = errors.New("transport: peer closed")
	// ErrSendTimeout reports a reliable packet that exhausted its resend
	// budget without being acked.
	ErrSendTimeout = errors.New("transport: reliable send not acked")
)

// CloseKind tells the handler why a peer went away.
type CloseKind int

const (
	// ClosedByPeer: the peer sent a Disconnect packet.
	ClosedByPeer CloseKind = iota
	// ClosedTimeout: the peer went silent or stopped acking.
	ClosedTimeout
	// ClosedByServer: the server called Peer.Disconnect.
	ClosedByServer
	// ClosedProtocolAbuse: the peer exhausted its malformed-packet budget.
	ClosedProtocolAbuse
)

func (k CloseKind) String() string {
	switch k {
	case ClosedByPeer:
		return "by_peer"
	case ClosedTimeout:
		return "timeout"
	case ClosedByServer:
		return "by_server"
	case ClosedProtocolAbuse:
		return "protocol_abuse"
	default:
		return fmt.Sprintf("close(%d)", int(k))
	}
}

const (
	peerConnected int32 = iota
	peerClosed
)

// pendingPacket is a reliable packet awaiting an ack. data holds the full
// datagram including the kind byte and nonce so retransmits are a plain
// resend.
type pendingPacket struct {
	data        []byte
	firstSentAt time.Time
	lastSentAt  time.Time
	attempts    int
	done        chan error // non-nil only for awaited sends, buffered 1
}

// Peer is one remote endpoint with its reliability state: a send nonce,
// the unacked-packet map, and a bounded window of recently seen nonces
// for duplicate suppression. All methods are safe for concurrent use;
// sends may come from any goroutine while the listener's read and
// maintenance loops drive acks and retransmits.
type Peer struct {
	ln    *Listener
	addr  *net.UDPAddr
	key   string
	hello Hello

	state     atomic.Int32
	nonce     atomic.Uint32 // low 16 bits travel on the wire
	lastHeard atomic.Int64  // unix nanos
	lastSent  atomic.Int64
	rtt       atomic.Int64 // EWMA, nanos

	mu       sync.Mutex
	unacked  map[uint16]*pendingPacket
	seen     map[uint16]struct{}
	seenRing []uint16
	seenHead int
	seenLen  int

	malformed *rate.Limiter
}

func newPeer(ln *Listener, addr *net.UDPAddr, hello Hello, opts Options) *Peer {
	p := &Peer{
		ln:        ln,
		addr:      addr,
		key:       addr.String(),
		hello:     hello,
		unacked:   make(map[uint16]*pendingPacket),
		seen:      make(map[uint16]struct{}, opts.DedupWindow),
		seenRing:  make([]uint16, opts.DedupWindow),
		malformed: rate.NewLimiter(opts.MalformedRate, opts.MalformedBurst),
	}
	now := time.Now().UnixNano()
	p.lastHeard.Store(now)
	p.lastSent.Store(now)
	return p
}

// Addr returns the peer's remote address.
func (p *Peer) Addr() *net.UDPAddr {
	return p.addr
}

// RemoteIP returns the peer's address without the port, for ban checks.
func (p *Peer) RemoteIP() string {
	return p.addr.IP.String()
}

// Hello returns the decoded handshake payload.
func (p *Peer) Hello() Hello {
	return p.hello
}

// Closed reports whether the peer has been disconnected.
func (p *Peer) Closed() bool {
	return p.state.Load() == peerClosed
}

// RoundTripPing returns the smoothed round-trip time, or zero before the
// first ack arrives.
func (p *Peer) RoundTripPing() time.Duration {
	return time.Duration(p.rtt.Load())
}

func (p *Peer) String() string {
	return p.key
}

// SendReliable queues payload as a reliable packet. Delivery is confirmed
// by ack or retried by the maintenance loop; exhausting the resend budget
// closes the peer.
func (p *Peer) SendReliable(payload []byte) error {
	_, err := p.sendReliable(payload, false)
	return err
}

// SendReliableAwait sends payload reliably and blocks until the packet is
// acked, the resend budget runs out, or ctx is done.
func (p *Peer) SendReliableAwait(ctx context.Context, payload []byte) error {
	done, err := p.sendReliable(payload, true)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Peer) sendReliable(payload []byte, await bool) (chan error, error) {
	if p.Closed() {
		return nil, ErrPeerClosed
	}
	n := uint16(p.nonce.Add(1))
	data := make([]byte, 0, len(payload)+3)
	data = append(data, byte(protocol.PacketReliable), byte(n>>8), byte(n))
	data = append(data, payload...)

	now := time.Now()
	pp := &pendingPacket{data: data, firstSentAt: now, lastSentAt: now, attempts: 1}
	if await {
		pp.done = make(chan error, 1)
	}

	p.mu.Lock()
	if p.Closed() {
		p.mu.Unlock()
		return nil, ErrPeerClosed
	}
	p.unacked[n] = pp
	p.mu.Unlock()

	p.write(data)
	return pp.done, nil
}

// SendUnreliable sends payload without delivery tracking. Used for
// movement snapshots where the next update supersedes a lost one.
func (p *Peer) SendUnreliable(payload []byte) error {
	if p.Closed() {
		return ErrPeerClosed
	}
	buf := p.ln.sendPool.Get(len(payload) + 1)
	buf[0] = byte(protocol.PacketUnreliable)
	copy(buf[1:], payload)
	p.write(buf)
	p.ln.sendPool.Put(buf)
	return nil
}

// Disconnect tells the peer why it is being dropped and closes it. The
// close is not reported back through the handler; callers already know.
func (p *Peer) Disconnect(reason protocol.DisconnectReason, message string) {
	if !p.close(ErrPeerClosed) {
		return
	}
	p.ln.sendDisconnect(p.addr, reason, message)
	p.ln.forget(p)
	p.ln.observer.PeerClosed(ClosedByServer)
}

// close transitions the peer to closed and fails every awaited send.
// It reports false when the peer was already closed.
func (p *Peer) close(err error) bool {
	if !p.state.CompareAndSwap(peerConnected, peerClosed) {
		return false
	}
	p.mu.Lock()
	for n, pp := range p.unacked {
		delete(p.unacked, n)
		if pp.done != nil {
			pp.done <- err
		}
	}
	p.mu.Unlock()
	return true
}

func (p *Peer) touch() {
	p.lastHeard.Store(time.Now().UnixNano())
}

func (p *Peer) write(data []byte) {
	p.lastSent.Store(time.Now().UnixNano())
	p.ln.writeTo(data, p.addr)
}

func (p *Peer) sendPing() {
	n := uint16(p.nonce.Add(1))
	data := []byte{byte(protocol.PacketPing), byte(n >> 8), byte(n)}
	now := time.Now()
	pp := &pendingPacket{data: data, firstSentAt: now, lastSentAt: now, attempts: 1}

	p.mu.Lock()
	if p.Closed() {
		p.mu.Unlock()
		return
	}
	p.unacked[n] = pp
	p.mu.Unlock()

	p.write(data)
}

// acceptNonce records an inbound nonce, acks it, and reports whether the
// packet is new rather than a retransmit. Duplicates are acked again:
// the earlier ack evidently did not arrive.
func (p *Peer) acceptNonce(n uint16) bool {
	p.mu.Lock()
	fresh := p.markSeenLocked(n)
	field := p.ackFieldLocked(n)
	p.mu.Unlock()
	p.write([]byte{byte(protocol.PacketAck), byte(n >> 8), byte(n), field})
	return fresh
}

func (p *Peer) markSeenLocked(n uint16) bool {
	if _, dup := p.seen[n]; dup {
		return false
	}
	if p.seenLen == len(p.seenRing) {
		delete(p.seen, p.seenRing[p.seenHead])
		p.seenRing[p.seenHead] = n
		p.seenHead = (p.seenHead + 1) % len(p.seenRing)
	} else {
		p.seenRing[(p.seenHead+p.seenLen)%len(p.seenRing)] = n
		p.seenLen++
	}
	p.seen[n] = struct{}{}
	return true
}

// ackFieldLocked builds the ack bitfield: bit i set means nonce-1-i was
// also received, sparing the peer a retransmit after reordering.
func (p *Peer) ackFieldLocked(n uint16) byte {
	var field byte
	for i := uint16(0); i < 8; i++ {
		if _, ok := p.seen[n-1-i]; ok {
			field |= 1 << i
		}
	}
	return field
}

// ackReceived clears the acked packet and any packets the bitfield covers.
func (p *Peer) ackReceived(n uint16, field byte, now time.Time) {
	p.mu.Lock()
	p.clearPendingLocked(n, now)
	for i := uint16(0); i < 8; i++ {
		if field&(1<<i) != 0 {
			p.clearPendingLocked(n-1-i, now)
		}
	}
	p.mu.Unlock()
}

func (p *Peer) clearPendingLocked(n uint16, now time.Time) {
	pp, ok := p.unacked[n]
	if !ok {
		return
	}
	delete(p.unacked, n)
	// Karn's rule: only first-transmission acks give a clean RTT sample.
	if pp.attempts == 1 {
		p.observeRTT(now.Sub(pp.firstSentAt))
	}
	if pp.done != nil {
		pp.done <- nil
	}
}

func (p *Peer) observeRTT(sample time.Duration) {
	old := p.rtt.Load()
	if old == 0 {
		p.rtt.Store(int64(sample))
		return
	}
	p.rtt.Store(old - old/8 + int64(sample)/8)
}

// sweep retransmits packets whose backoff elapsed and reports whether the
// peer exhausted its resend budget. Socket writes happen after the lock
// is released.
func (p *Peer) sweep(now time.Time, opts Options) (resent int, dead bool) {
	var out [][]byte
	p.mu.Lock()
	for _, pp := range p.unacked {
		if now.Sub(pp.lastSentAt) < backoff(pp.attempts, opts) {
			continue
		}
		if pp.attempts >= 1+opts.MaxResends {
			dead = true
			break
		}
		pp.attempts++
		pp.lastSentAt = now
		out = append(out, pp.data)
	}
	p.mu.Unlock()

	for _, data := range out {
		p.write(data)
	}
	return len(out), dead
}

// backoff returns the wait after the given number of sends: doubling from
// ResendInterval up to ResendCap.
func backoff(attempts int, opts Options) time.Duration {
	d := opts.ResendInterval << (attempts - 1)
	if d <= 0 || d > opts.ResendCap {
		return opts.ResendCap
	}
	return d
}
