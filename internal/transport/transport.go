// Package transport implements the UDP wire protocol: the hello
// handshake, reliable delivery with acks and retransmits, duplicate
// suppression, keepalives, and disconnect tombstones. It hands decoded
// events to a Handler and knows nothing about rooms or game state.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skeldware/dropship/internal/protocol"
)

// Handler receives transport events. Calls arrive one at a time from the
// listener's read goroutine; implementations that need to block should
// hand off to their own goroutines.
type Handler interface {
	// HandleHello decides whether a new peer may connect. A returned
	// *RefuseError is sent to the peer as a Disconnect packet with its
	// reason; any other error refuses with ReasonError.
	HandleHello(p *Peer, hello Hello) error
	// HandleMessage delivers the payload of a data packet, with the
	// packet kind byte and any reliability header already stripped.
	// The slice is only valid for the duration of the call.
	HandleMessage(p *Peer, payload []byte, reliable bool)
	// HandlePeerClosed reports a transport-initiated close: a Disconnect
	// packet from the peer, silence, retransmit exhaustion, or protocol
	// abuse. Closes made through Peer.Disconnect are not reported.
	HandlePeerClosed(p *Peer, kind CloseKind)
}

// RefuseError rejects a Hello with a specific disconnect reason.
type RefuseError struct {
	Reason  protocol.DisconnectReason
	Message string
}

func (e *RefuseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("refused: %s (%s)", e.Reason, e.Message)
	}
	return fmt.Sprintf("refused: %s", e.Reason)
}

// Refuse builds the error a Handler returns to turn away a Hello.
func Refuse(reason protocol.DisconnectReason, message string) error {
	return &RefuseError{Reason: reason, Message: message}
}

// Listener owns the UDP socket and the peer table. One goroutine reads
// datagrams, a second drives retransmits, keepalives, and timeouts.
type Listener struct {
	opts     Options
	handler  Handler
	observer Observer
	sendPool *BytePool

	mu         sync.RWMutex
	conn       *net.UDPConn
	peers      map[string]*Peer
	tombstones map[string]time.Time
}

// NewListener creates a Listener. A nil observer discards counters.
func NewListener(opts Options, h Handler, obs Observer) *Listener {
	if obs == nil {
		obs = NopObserver{}
	}
	opts = opts.withDefaults()
	return &Listener{
		opts:       opts,
		handler:    h,
		observer:   obs,
		sendPool:   NewBytePool(512),
		peers:      make(map[string]*Peer),
		tombstones: make(map[string]time.Time),
	}
}

// Run binds the UDP socket and serves until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.opts.BindAddress, l.opts.Port)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return l.Serve(ctx, conn)
}

// Serve reads datagrams from the given socket until ctx is canceled.
// Used for testing with sockets bound to ephemeral ports.
func (l *Listener) Serve(ctx context.Context, conn *net.UDPConn) error {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.closeAll()
		conn.Close()
	}()
	go l.maintenanceLoop(ctx)

	slog.Info("udp listener started", "address", conn.LocalAddr())

	buf := make([]byte, l.opts.MaxPacketSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("udp read failed", "error", err)
			continue
		}
		l.dispatch(buf[:n], raddr)
	}
}

// Addr returns the bound address, or nil before Serve.
func (l *Listener) Addr() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil
	}
	addr, _ := l.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// PeerCount reports the number of connected peers.
func (l *Listener) PeerCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.peers)
}

func (l *Listener) peer(key string) *Peer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peers[key]
}

func (l *Listener) dispatch(data []byte, raddr *net.UDPAddr) {
	if len(data) == 0 {
		return
	}
	kind := protocol.PacketKind(data[0])
	l.observer.PacketIn(kind, len(data))

	key := raddr.String()
	l.mu.RLock()
	p := l.peers[key]
	_, tombstoned := l.tombstones[key]
	l.mu.RUnlock()

	switch kind {
	case protocol.PacketHello:
		l.handleHello(data, raddr, p)
	case protocol.PacketReliable:
		if p == nil {
			l.ackOrphan(data, raddr, tombstoned)
			return
		}
		l.handleReliable(p, data)
	case protocol.PacketUnreliable:
		if p == nil {
			return
		}
		p.touch()
		l.handler.HandleMessage(p, data[1:], false)
	case protocol.PacketPing:
		if p == nil {
			l.ackOrphan(data, raddr, tombstoned)
			return
		}
		l.handlePing(p, data)
	case protocol.PacketAck:
		if p == nil {
			return
		}
		l.handleAck(p, data)
	case protocol.PacketDisconnect:
		if p == nil {
			return
		}
		l.dropPeer(p, ClosedByPeer)
	case protocol.PacketFragment:
		l.noteMalformed(p, raddr, "fragment packets not supported")
	default:
		l.noteMalformed(p, raddr, fmt.Sprintf("unknown packet kind 0x%02X", data[0]))
	}
}

func (l *Listener) handleHello(data []byte, raddr *net.UDPAddr, existing *Peer) {
	if len(data) < 3 {
		l.noteMalformed(existing, raddr, "short hello packet")
		return
	}
	nonce := uint16(data[1])<<8 | uint16(data[2])
	if existing != nil {
		// Retransmitted hello: our ack was lost, send another.
		existing.touch()
		existing.acceptNonce(nonce)
		return
	}

	hello, err := parseHello(protocol.NewReader(data[3:]))
	if err != nil {
		l.observer.Malformed()
		slog.Warn("malformed hello", "remote", raddr, "error", err)
		return
	}

	p := newPeer(l, raddr, hello, l.opts)
	p.acceptNonce(nonce)

	if err := l.handler.HandleHello(p, hello); err != nil {
		reason, message := protocol.ReasonError, ""
		var refuse *RefuseError
		if errors.As(err, &refuse) {
			reason, message = refuse.Reason, refuse.Message
		}
		p.close(ErrPeerClosed)
		l.sendDisconnect(raddr, reason, message)
		slog.Info("hello refused", "remote", raddr, "reason", reason, "error", err)
		return
	}

	l.mu.Lock()
	l.peers[p.key] = p
	delete(l.tombstones, p.key)
	l.mu.Unlock()

	l.observer.PeerOpened()
	slog.Info("peer connected",
		"remote", raddr,
		"username", hello.Username,
		"version", hello.ClientVersion,
		"platform", hello.Platform)
}

func (l *Listener) handleReliable(p *Peer, data []byte) {
	if len(data) < 3 {
		l.noteMalformed(p, p.addr, "short reliable packet")
		return
	}
	p.touch()
	nonce := uint16(data[1])<<8 | uint16(data[2])
	if !p.acceptNonce(nonce) {
		return
	}
	if len(data) == 3 {
		return
	}
	l.handler.HandleMessage(p, data[3:], true)
}

func (l *Listener) handlePing(p *Peer, data []byte) {
	if len(data) < 3 {
		l.noteMalformed(p, p.addr, "short ping packet")
		return
	}
	p.touch()
	nonce := uint16(data[1])<<8 | uint16(data[2])
	p.acceptNonce(nonce)
}

func (l *Listener) handleAck(p *Peer, data []byte) {
	if len(data) < 3 {
		l.noteMalformed(p, p.addr, "short ack packet")
		return
	}
	p.touch()
	nonce := uint16(data[1])<<8 | uint16(data[2])
	var field byte
	if len(data) >= 4 {
		field = data[3]
	}
	p.ackReceived(nonce, field, time.Now())
}

// ackOrphan acks reliable traffic from recently disconnected peers so
// their retransmit timers stop. Strangers get nothing.
func (l *Listener) ackOrphan(data []byte, raddr *net.UDPAddr, tombstoned bool) {
	if !tombstoned || len(data) < 3 {
		return
	}
	l.writeTo([]byte{byte(protocol.PacketAck), data[1], data[2], 0}, raddr)
}

func (l *Listener) noteMalformed(p *Peer, raddr *net.UDPAddr, detail string) {
	l.observer.Malformed()
	slog.Debug("malformed packet", "remote", raddr, "detail", detail)
	if p == nil {
		return
	}
	if !p.malformed.Allow() {
		slog.Warn("malformed packet budget exhausted", "remote", raddr)
		l.dropPeer(p, ClosedProtocolAbuse)
	}
}

// dropPeer closes a peer for transport reasons and reports it upward.
func (l *Listener) dropPeer(p *Peer, kind CloseKind) {
	err := ErrPeerClosed
	if kind == ClosedTimeout {
		err = ErrSendTimeout
	}
	if !p.close(err) {
		return
	}
	if kind == ClosedProtocolAbuse {
		l.sendDisconnect(p.addr, protocol.ReasonHacking, "")
	}
	l.forget(p)
	l.observer.PeerClosed(kind)
	l.handler.HandlePeerClosed(p, kind)
	slog.Info("peer closed", "remote", p.addr, "kind", kind)
}

// forget removes the peer from the table and leaves a tombstone so
// in-flight packets from the old session still get acks.
func (l *Listener) forget(p *Peer) {
	l.mu.Lock()
	delete(l.peers, p.key)
	l.tombstones[p.key] = time.Now().Add(l.opts.TombstoneDuration)
	l.mu.Unlock()
}

func (l *Listener) sendDisconnect(raddr *net.UDPAddr, reason protocol.DisconnectReason, message string) {
	w := protocol.GetWriter()
	defer w.Put()
	w.WriteByte(byte(protocol.PacketDisconnect))
	w.WriteByte(1) // forced: the client must not reconnect on its own
	w.BeginMessage(0)
	w.WriteByte(byte(reason))
	if reason == protocol.ReasonCustom {
		w.WriteString(message)
	}
	w.EndMessage()
	l.writeTo(w.Bytes(), raddr)
}

func (l *Listener) writeTo(data []byte, raddr *net.UDPAddr) {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(data, raddr); err != nil {
		slog.Debug("udp write failed", "remote", raddr, "error", err)
		return
	}
	l.observer.PacketOut(protocol.PacketKind(data[0]), len(data))
}

func (l *Listener) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(l.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.maintain(now)
		}
	}
}

func (l *Listener) maintain(now time.Time) {
	l.mu.RLock()
	peers := make([]*Peer, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.RUnlock()

	for _, p := range peers {
		if now.Sub(time.Unix(0, p.lastHeard.Load())) > l.opts.DisconnectTimeout {
			l.dropPeer(p, ClosedTimeout)
			continue
		}
		resent, dead := p.sweep(now, l.opts)
		if resent > 0 {
			l.observer.Retransmits(resent)
		}
		if dead {
			l.dropPeer(p, ClosedTimeout)
			continue
		}
		if now.Sub(time.Unix(0, p.lastSent.Load())) > l.opts.KeepAliveInterval {
			p.sendPing()
		}
	}

	l.mu.Lock()
	for key, until := range l.tombstones {
		if now.After(until) {
			delete(l.tombstones, key)
		}
	}
	l.mu.Unlock()
}

// closeAll tells every peer the server is going away. Runs during
// shutdown; the handler is not notified, it is shutting down too.
func (l *Listener) closeAll() {
	l.mu.Lock()
	peers := make([]*Peer, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.peers = make(map[string]*Peer)
	l.mu.Unlock()

	for _, p := range peers {
		if p.close(ErrPeerClosed) {
			l.sendDisconnect(p.addr, protocol.ReasonServerRequest, "")
		}
	}
}
