package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeldware/dropship/internal/anticheat"
	"github.com/skeldware/dropship/internal/authapi"
	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/events"
	"github.com/skeldware/dropship/internal/protocol"
	"github.com/skeldware/dropship/internal/transport"
)

const (
	// firstClientID is where client id allocation starts; lower values
	// stay clear of anything a stock client might assume.
	firstClientID = 1000

	// Join-flood budget per remote address.
	joinRate  = rate.Limit(2)
	joinBurst = 5

	// Malformed root-message budget per connection.
	malformedRootRate  = rate.Limit(5)
	malformedRootBurst = 20

	// codeAllocAttempts bounds random code allocation before giving up.
	codeAllocAttempts = 64
)

// Worker owns the transport listener, the room registry, and the
// connection table. It is the transport.Handler: root messages are
// decoded here and either answered directly or posted into the owning
// room's goroutine.
type Worker struct {
	cfg      config.Config
	hub      *events.Hub
	gate     *anticheat.Gate
	resolver authapi.Resolver
	metrics  Metrics
	listener *transport.Listener

	// ctx is the lifetime handed to Run; room goroutines inherit it.
	ctx atomic.Pointer[context.Context]

	nextClientID atomic.Uint32

	mu    sync.RWMutex
	rooms map[protocol.GameCode]*Room
	conns map[*transport.Peer]*Connection

	limiterMu    sync.Mutex
	joinLimiters map[string]*rate.Limiter
}

// NewWorker wires the session core. The observer feeds transport-level
// metrics; pass transport.NopObserver{} to opt out.
func NewWorker(cfg config.Config, hub *events.Hub, gate *anticheat.Gate, resolver authapi.Resolver, metrics Metrics, obs transport.Observer) *Worker {
	w := &Worker{
		cfg:          cfg,
		hub:          hub,
		gate:         gate,
		resolver:     resolver,
		metrics:      metrics,
		rooms:        make(map[protocol.GameCode]*Room),
		conns:        make(map[*transport.Peer]*Connection),
		joinLimiters: make(map[string]*rate.Limiter),
	}
	w.nextClientID.Store(firstClientID)

	opts := transport.DefaultOptions()
	opts.BindAddress = cfg.BindAddress
	opts.Port = cfg.Port
	w.listener = transport.NewListener(opts, w, obs)
	return w
}

// Run serves until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.ctx.Store(&ctx)
	return w.listener.Run(ctx)
}

// Serve runs the worker on an already-bound socket; used by tests to
// grab an ephemeral port.
func (w *Worker) Serve(ctx context.Context, conn *net.UDPConn) error {
	w.ctx.Store(&ctx)
	return w.listener.Serve(ctx, conn)
}

// Addr returns the bound UDP address once serving.
func (w *Worker) Addr() *net.UDPAddr { return w.listener.Addr() }

func (w *Worker) runCtx() context.Context {
	if p := w.ctx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// HandleHello resolves the connecting account and registers the
// connection. Implements transport.Handler.
func (w *Worker) HandleHello(p *transport.Peer, hello transport.Hello) error {
	clientID := w.nextClientID.Add(1)

	timeout := w.cfg.Auth.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	user, err := w.resolver.ConnectionUser(ctx, authapi.Identity{
		ClientID: clientID,
		Username: hello.Username,
		Token:    hello.Token,
		RemoteIP: p.RemoteIP(),
	})
	switch {
	case err == nil:
	case errors.Is(err, authapi.ErrUnavailable):
		slog.Warn("account service unavailable, admitting as guest",
			"client", clientID, "username", hello.Username)
		user = nil
	default:
		slog.Info("connection refused by auth",
			"client", clientID, "username", hello.Username, "error", err)
		return transport.Refuse(protocol.ReasonNotAuthorized, "")
	}

	c := NewConnection(clientID, p, user)
	c.malformed = rate.NewLimiter(malformedRootRate, malformedRootBurst)
	w.mu.Lock()
	w.conns[p] = c
	w.mu.Unlock()

	slog.Info("client connected",
		"client", clientID,
		"username", c.Username(),
		"remote", p.RemoteIP(),
		"version", hello.ClientVersion,
		"authenticated", user != nil)
	return nil
}

// HandleMessage decodes the root messages of one data packet.
// Implements transport.Handler.
func (w *Worker) HandleMessage(p *transport.Peer, payload []byte, reliable bool) {
	w.mu.RLock()
	c := w.conns[p]
	w.mu.RUnlock()
	if c == nil {
		return
	}

	rd := protocol.NewReader(payload)
	for rd.Remaining() > 0 {
		tag, inner, err := rd.ReadMessage()
		if err != nil {
			slog.Debug("malformed root message", "client", c.ClientID, "error", err)
			w.reportMalformed(c)
			return
		}
		w.handleRoot(c, protocol.RootTag(tag), inner, reliable)
	}
}

func (w *Worker) handleRoot(c *Connection, tag protocol.RootTag, body *protocol.Reader, reliable bool) {
	switch tag {
	case protocol.RootHostGame:
		w.handleHostGame(c, body)
	case protocol.RootJoinGame:
		w.handleJoinGame(c, body)
	case protocol.RootGameData:
		w.handleGameDataRoot(c, body, false, reliable)
	case protocol.RootGameDataTo:
		w.handleGameDataRoot(c, body, true, reliable)
	case protocol.RootStartGame:
		if r := w.roomFor(c, body); r != nil {
			r.post(func() { r.handleStartGame(c) })
		}
	case protocol.RootEndGame:
		w.handleEndGame(c, body)
	case protocol.RootRemoveGame:
		if r := c.Room(); r != nil {
			r.post(func() {
				if r.isActingHost(c) {
					r.destroy()
				}
			})
		}
	case protocol.RootKickPlayer:
		w.handleKickPlayer(c, body)
	case protocol.RootAlterGame:
		w.handleAlterGame(c, body)
	case protocol.RootGetGameListV2:
		w.handleGameList(c)
	default:
		slog.Debug("unhandled root tag", "client", c.ClientID, "tag", byte(tag))
	}
}

// roomFor reads the leading game code and returns the sender's room
// when it matches.
func (w *Worker) roomFor(c *Connection, body *protocol.Reader) *Room {
	codeInt, err := body.ReadInt32()
	if err != nil {
		w.reportMalformed(c)
		return nil
	}
	r := c.Room()
	if r == nil || r.code != protocol.GameCode(codeInt) {
		return nil
	}
	return r
}

func (w *Worker) handleHostGame(c *Connection, body *protocol.Reader) {
	if !w.allowJoin(c.RemoteIP()) {
		c.Disconnect(protocol.ReasonCustom, "You are creating games too quickly")
		return
	}
	settings, err := protocol.DecodeGameSettings(body)
	if err != nil {
		slog.Debug("malformed HostGame", "client", c.ClientID, "error", err)
		w.reportMalformed(c)
		return
	}
	room, err := w.CreateRoom(settings)
	if err != nil {
		slog.Error("creating room failed", "client", c.ClientID, "error", err)
		c.Disconnect(protocol.ReasonError, "")
		return
	}
	_ = c.SendReliable(hostGameMessage(room.code))
}

func (w *Worker) handleJoinGame(c *Connection, body *protocol.Reader) {
	codeInt, err := body.ReadInt32()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	if !w.allowJoin(c.RemoteIP()) {
		c.Disconnect(protocol.ReasonCustom, "You are joining games too quickly")
		return
	}
	code := protocol.GameCode(codeInt)
	room := w.room(code)
	if room == nil {
		c.Disconnect(protocol.ReasonGameNotFound, "")
		return
	}
	if !room.post(func() { room.handleJoin(c) }) {
		c.Disconnect(protocol.ReasonGameNotFound, "")
	}
}

func (w *Worker) handleGameDataRoot(c *Connection, body *protocol.Reader, targeted, reliable bool) {
	codeInt, err := body.ReadInt32()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	var target uint32
	if targeted {
		if target, err = body.ReadPackedUint32(); err != nil {
			w.reportMalformed(c)
			return
		}
	}
	room := c.Room()
	if room == nil || room.code != protocol.GameCode(codeInt) {
		slog.Debug("game data for wrong room dropped", "client", c.ClientID, "code", codeInt)
		return
	}
	// The reader's backing slice dies with this call; the room goroutine
	// needs its own copy.
	inner := append([]byte(nil), body.RemainingBytes()...)
	room.post(func() { room.handleGameData(c, inner, target, targeted, reliable) })
}

func (w *Worker) handleEndGame(c *Connection, body *protocol.Reader) {
	if _, err := body.ReadInt32(); err != nil {
		w.reportMalformed(c)
		return
	}
	reasonByte, err := body.ReadByte()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	r := c.Room()
	if r == nil {
		return
	}
	r.post(func() {
		if r.isActingHost(c) {
			r.endGame(GameOverReason(reasonByte))
		}
	})
}

func (w *Worker) handleKickPlayer(c *Connection, body *protocol.Reader) {
	if _, err := body.ReadInt32(); err != nil {
		w.reportMalformed(c)
		return
	}
	target, err := body.ReadPackedUint32()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	ban, err := body.ReadBool()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	if r := c.Room(); r != nil {
		r.post(func() { r.handleKick(c, target, ban) })
	}
}

func (w *Worker) handleAlterGame(c *Connection, body *protocol.Reader) {
	if _, err := body.ReadInt32(); err != nil {
		w.reportMalformed(c)
		return
	}
	flag, err := body.ReadByte()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	value, err := body.ReadBool()
	if err != nil {
		w.reportMalformed(c)
		return
	}
	if r := c.Room(); r != nil {
		r.post(func() { r.handleAlterGame(c, flag, value) })
	}
}

// handleGameList answers the server-browser query with every public
// room.
func (w *Worker) handleGameList(c *Connection) {
	summaries := w.Rooms()

	var ip [4]byte
	port := uint16(w.cfg.Port)
	if addr := w.listener.Addr(); addr != nil {
		if v4 := addr.IP.To4(); v4 != nil {
			copy(ip[:], v4)
		}
		port = uint16(addr.Port)
	}

	pw := protocol.GetWriter()
	defer pw.Put()
	pw.BeginMessage(byte(protocol.RootGetGameListV2))
	pw.BeginMessage(0)
	for _, s := range summaries {
		if !s.Public || s.State != RoomNotStarted.String() {
			continue
		}
		code, err := protocol.ParseGameCode(s.Code)
		if err != nil {
			continue
		}
		pw.BeginMessage(0)
		pw.WriteUint32(binary.LittleEndian.Uint32(ip[:]))
		pw.WriteUint16(port)
		pw.WriteInt32(int32(code))
		pw.WriteString(s.HostName)
		pw.WriteByte(byte(s.Players))
		pw.WritePackedUint32(uint32(time.Since(s.CreatedAt).Seconds()))
		pw.WriteByte(s.MapID)
		pw.WriteByte(byte(s.Impostors))
		pw.WriteByte(byte(s.MaxPlayers))
		pw.EndMessage()
	}
	pw.EndMessage()
	pw.EndMessage()
	_ = c.SendReliable(pw.Take())
}

// HandlePeerClosed cleans up after a transport-initiated close.
// Implements transport.Handler.
func (w *Worker) HandlePeerClosed(p *transport.Peer, kind transport.CloseKind) {
	w.mu.Lock()
	c := w.conns[p]
	delete(w.conns, p)
	w.mu.Unlock()
	if c == nil {
		return
	}
	w.resolver.Forget(c.ClientID)

	reason := closeReason(kind)
	if r := c.Room(); r != nil {
		r.post(func() { r.handleLeave(c, reason) })
	}
	slog.Info("client disconnected", "client", c.ClientID, "kind", kind)
}

func closeReason(kind transport.CloseKind) protocol.DisconnectReason {
	switch kind {
	case transport.ClosedByPeer:
		return protocol.ReasonExitGame
	case transport.ClosedTimeout:
		return protocol.ReasonError
	case transport.ClosedProtocolAbuse:
		return protocol.ReasonHacking
	default:
		return protocol.ReasonServerRequest
	}
}

// closeConnection drops a connection the server's side: the transport
// does not report server-initiated closes back, so the table and the
// resolver are cleaned here.
func (w *Worker) closeConnection(c *Connection, reason protocol.DisconnectReason, message string) {
	if c.peer != nil {
		w.mu.Lock()
		delete(w.conns, c.peer)
		w.mu.Unlock()
	}
	w.resolver.Forget(c.ClientID)
	c.Disconnect(reason, message)
}

// reportMalformed charges one undecodable message against the
// connection's budget and disconnects abusers.
func (w *Worker) reportMalformed(c *Connection) {
	if c.malformed == nil || c.malformed.Allow() {
		return
	}
	slog.Warn("malformed message budget exhausted", "client", c.ClientID, "remote", c.RemoteIP())
	if r := c.Room(); r != nil {
		r.post(func() { r.handleLeave(c, protocol.ReasonHacking) })
	}
	w.closeConnection(c, protocol.ReasonHacking, "")
}

func (w *Worker) allowJoin(ip string) bool {
	w.limiterMu.Lock()
	defer w.limiterMu.Unlock()
	// Crude bound on the table; a flood from many addresses resets it.
	if len(w.joinLimiters) > 4096 {
		w.joinLimiters = make(map[string]*rate.Limiter)
	}
	lim := w.joinLimiters[ip]
	if lim == nil {
		lim = rate.NewLimiter(joinRate, joinBurst)
		w.joinLimiters[ip] = lim
	}
	return lim.Allow()
}

// CreateRoom allocates a code, registers the room, and starts its
// goroutine. Settings pass through the configured enforcement first.
func (w *Worker) CreateRoom(settings protocol.GameSettings) (*Room, error) {
	settings = enforceSettings(settings, w.cfg.Rooms.Enforce)

	w.mu.Lock()
	var code protocol.GameCode
	if fixed := w.cfg.Rooms.FixedCode; fixed != "" {
		parsed, err := protocol.ParseGameCode(fixed)
		if err != nil {
			w.mu.Unlock()
			return nil, fmt.Errorf("fixed room code %q: %w", fixed, err)
		}
		if _, taken := w.rooms[parsed]; taken {
			w.mu.Unlock()
			return nil, fmt.Errorf("fixed room code %q already in use", fixed)
		}
		code = parsed
	} else {
		allocated := false
		for i := 0; i < codeAllocAttempts; i++ {
			code = protocol.RandomGameCode()
			if _, taken := w.rooms[code]; !taken {
				allocated = true
				break
			}
		}
		if !allocated {
			w.mu.Unlock()
			return nil, errors.New("room code space exhausted")
		}
	}
	r := newRoom(w, code, settings)
	w.rooms[code] = r
	w.mu.Unlock()

	go r.run(w.runCtx())

	w.hub.Emit(&RoomCreateEvent{Room: r})
	go func() {
		id, err := w.metrics.OpenGame(context.Background(), code.String())
		if err != nil {
			slog.Warn("opening game session failed", "room", code, "error", err)
			return
		}
		r.post(func() { r.gameID = id })
	}()

	slog.Info("room created", "room", r.formatFields(w.cfg.Logging.Rooms.Format))
	return r, nil
}

func (w *Worker) room(code protocol.GameCode) *Room {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rooms[code]
}

func (w *Worker) removeRoom(code protocol.GameCode) {
	w.mu.Lock()
	delete(w.rooms, code)
	w.mu.Unlock()
}

// Rooms returns a snapshot of every room, sorted by display code. Safe
// from any goroutine; the ops API reads through here.
func (w *Worker) Rooms() []Summary {
	w.mu.RLock()
	out := make([]Summary, 0, len(w.rooms))
	for _, r := range w.rooms {
		out = append(out, r.Summary())
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// RoomByCode resolves a display code, case-insensitively.
func (w *Worker) RoomByCode(code string) (*Room, bool) {
	parsed, err := protocol.ParseGameCode(strings.ToUpper(code))
	if err != nil {
		return nil, false
	}
	r := w.room(parsed)
	return r, r != nil
}

// DestroyRoom tears a room down on operator request. Reports whether
// the room existed.
func (w *Worker) DestroyRoom(code string) bool {
	r, ok := w.RoomByCode(code)
	if !ok {
		return false
	}
	r.post(func() { r.destroyForced(protocol.ReasonServerRequest) })
	return true
}

// RoomCount reports the number of live rooms.
func (w *Worker) RoomCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rooms)
}

// ConnectionCount reports registered connections.
func (w *Worker) ConnectionCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.conns)
}

// Hub exposes the event hub for plugins and the ops layer.
func (w *Worker) Hub() *events.Hub { return w.hub }

// enforceSettings overlays the operator's pinned settings on what the
// host proposed.
func enforceSettings(s protocol.GameSettings, e *config.EnforceSettingsConfig) protocol.GameSettings {
	if e == nil {
		return s
	}
	if e.Map != nil {
		if id, ok := parseMapName(*e.Map); ok {
			s.Map = id
		}
	}
	if e.MaxPlayers != nil {
		s.MaxPlayers = *e.MaxPlayers
	}
	if e.NumImpostors != nil {
		s.NumImpostors = *e.NumImpostors
	}
	if e.KillCooldown != nil {
		s.KillCooldown = float32(*e.KillCooldown)
	}
	if e.DiscussionTime != nil {
		s.DiscussionTime = int32(*e.DiscussionTime)
	}
	if e.VotingTime != nil {
		s.VotingTime = int32(*e.VotingTime)
	}
	return s
}

func parseMapName(name string) (protocol.MapID, bool) {
	switch strings.ToLower(strings.ReplaceAll(name, " ", "")) {
	case "skeld", "theskeld":
		return protocol.MapTheSkeld, true
	case "mira", "mirahq":
		return protocol.MapMiraHQ, true
	case "polus":
		return protocol.MapPolus, true
	case "airship":
		return protocol.MapAirship, true
	default:
		return 0, false
	}
}
