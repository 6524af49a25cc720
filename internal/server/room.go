package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/skeldware/dropship/internal/anticheat"
	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// RoomState is the room lifecycle stage.
type RoomState int

const (
	RoomNotStarted RoomState = iota
	RoomStarted
	RoomEnded
	RoomDestroyed
)

func (s RoomState) String() string {
	switch s {
	case RoomNotStarted:
		return "not_started"
	case RoomStarted:
		return "started"
	case RoomEnded:
		return "ended"
	case RoomDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Privacy controls game-list visibility.
type Privacy byte

const (
	PrivacyPrivate Privacy = iota
	PrivacyPublic
)

func (p Privacy) String() string {
	if p == PrivacyPublic {
		return "public"
	}
	return "private"
}

// startReadyWindow is how long the server waits for Ready messages
// after StartGame before force-removing stragglers.
const startReadyWindow = 3 * time.Second

type endGameIntent struct {
	name   string
	reason GameOverReason
}

// Summary is a read-only snapshot of a room, refreshed by the room
// goroutine and consumed lock-free by the ops API and the game list.
type Summary struct {
	Code       string
	HostName   string
	Players    int
	MaxPlayers int
	State      string
	Public     bool
	Map        string
	MapID      byte
	Impostors  int
	CreatedAt  time.Time
}

// Room is one game session. Every field below the inbox is owned by the
// room goroutine: the worker and other goroutines interact only by
// posting closures.
type Room struct {
	worker *Worker
	code   protocol.GameCode

	inbox chan func()
	done  chan struct{}

	// gameID is the metrics session, set asynchronously after OpenGame.
	gameID string

	state    RoomState
	privacy  Privacy
	settings protocol.GameSettings

	hostID             uint32
	actingHostsEnabled bool
	actingHosts        map[uint32]struct{}
	waitingForHost     map[uint32]*Connection
	// actingHostWaiting lists joiners, in order, whose settings exchange
	// with the acting hosts is still pending. While non-empty every
	// connection sees the server as host.
	actingHostWaiting             []uint32
	finishedActingHostTransaction bool

	connections map[uint32]*Connection
	players     map[uint32]*Player

	graph *object.Graph
	// spawnGroups remembers which components were spawned together so
	// late joiners receive whole prefabs.
	spawnGroups [][]object.Component

	outbound [][]byte
	intents  []endGameIntent

	infractions anticheat.Buffer

	banned map[string]struct{}

	movementCounters map[uint32]int

	createdAt          time.Time
	lastTick           time.Time
	startReadyDeadline time.Time

	summary atomic.Pointer[Summary]
}

func newRoom(w *Worker, code protocol.GameCode, settings protocol.GameSettings) *Room {
	r := &Room{
		worker:           w,
		code:             code,
		inbox:            make(chan func(), 256),
		done:             make(chan struct{}),
		settings:         settings,
		privacy:          PrivacyPrivate,
		actingHosts:      make(map[uint32]struct{}),
		waitingForHost:   make(map[uint32]*Connection),
		connections:      make(map[uint32]*Connection),
		players:          make(map[uint32]*Player),
		banned:           make(map[string]struct{}),
		movementCounters: make(map[uint32]int),
		createdAt:        time.Now(),
	}
	policy, err := object.ParseUnknownPolicy(w.cfg.Rooms.Advanced.UnknownObjects)
	if err != nil {
		slog.Warn("unknown objects policy invalid, rejecting unknowns", "error", err)
		policy = object.RejectUnknown()
	}
	r.graph = object.NewGraph(policy)
	if w.cfg.Rooms.ServerAsHost {
		r.hostID = protocol.ClientIDServer
		r.actingHostsEnabled = true
	} else {
		r.hostID = protocol.ClientIDNil
	}
	r.refreshSummary()
	return r
}

// Code returns the room's game code.
func (r *Room) Code() protocol.GameCode { return r.code }

// Summary returns the latest snapshot. Safe from any goroutine.
func (r *Room) Summary() Summary { return *r.summary.Load() }

// post hands fn to the room goroutine. Reports false when the room is
// already destroyed.
func (r *Room) post(fn func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- fn:
		return true
	case <-r.done:
		return false
	}
}

// run is the room goroutine: closures from the inbox plus the fixed
// tick, strictly one at a time.
func (r *Room) run(ctx context.Context) {
	ticker := time.NewTicker(r.worker.cfg.TickInterval)
	defer ticker.Stop()
	r.lastTick = time.Now()

	for {
		select {
		case <-ctx.Done():
			r.safely(func() { r.destroyForced(protocol.ReasonServerRequest) })
			return
		case fn := <-r.inbox:
			r.safely(fn)
		case now := <-ticker.C:
			r.safely(func() { r.tick(now) })
		}
		if r.state == RoomDestroyed {
			return
		}
	}
}

// safely runs fn and converts a panic into a room destroy. One bad room
// never takes down the process.
func (r *Room) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("room goroutine panicked",
				"room", r.code,
				"panic", rec,
				"stack", string(debug.Stack()))
			r.destroyForced(protocol.ReasonError)
		}
	}()
	fn()
}

func (r *Room) tick(now time.Time) {
	if r.state == RoomDestroyed {
		return
	}
	dt := now.Sub(r.lastTick)
	r.lastTick = now

	if r.state == RoomNotStarted && len(r.connections) == 0 &&
		now.Sub(r.createdAt) >= r.worker.cfg.Rooms.CreateTimeout {
		r.destroy()
		return
	}

	if !r.startReadyDeadline.IsZero() && now.After(r.startReadyDeadline) {
		r.finishStart(true)
	}

	r.graph.FixedUpdate(dt)

	w := protocol.GetWriter()
	r.graph.ForEachDirty(func(c object.Component) {
		mark := w.Len()
		if object.AppendData(w, c) {
			msg := make([]byte, w.Len()-mark)
			copy(msg, w.Bytes()[mark:])
			r.outbound = append(r.outbound, msg)
		}
	})
	w.Put()

	r.drainIntents()
	if r.state == RoomDestroyed {
		return
	}

	ev := &RoomFixedUpdateEvent{Room: r, Delta: dt}
	r.worker.hub.EmitSerial(ev)
	if !ev.Canceled() && len(r.outbound) > 0 {
		r.broadcastGameData(r.outbound, nil, protocol.ClientIDNil, true)
	}
	r.outbound = r.outbound[:0]

	r.refreshSummary()
}

// QueueEndGameIntent records a named reason to end the game; intents
// are judged on the next tick. Safe from any goroutine.
func (r *Room) QueueEndGameIntent(name string, reason GameOverReason) {
	r.post(func() {
		r.intents = append(r.intents, endGameIntent{name: name, reason: reason})
	})
}

func (r *Room) queueIntent(name string, reason GameOverReason) {
	r.intents = append(r.intents, endGameIntent{name: name, reason: reason})
}

func (r *Room) drainIntents() {
	if len(r.intents) == 0 {
		return
	}
	intents := r.intents
	r.intents = nil
	for _, in := range intents {
		ev := &RoomEndGameIntentEvent{Room: r, Intent: in.name, Reason: in.reason}
		r.worker.hub.EmitSerial(ev)
		if ev.Canceled() {
			continue
		}
		r.endGame(ev.Reason)
		return
	}
}

// destroy tears the room down, subject to the before-destroy veto.
func (r *Room) destroy() {
	if r.state == RoomDestroyed {
		return
	}
	ev := &RoomBeforeDestroyEvent{Room: r}
	r.worker.hub.EmitSerial(ev)
	if ev.Canceled() {
		return
	}
	r.destroyForced(protocol.ReasonDestroy)
}

// destroyForced tears the room down unconditionally: shutdown, panic
// recovery, and admin destroy come through here.
func (r *Room) destroyForced(reason protocol.DisconnectReason) {
	if r.state == RoomDestroyed {
		return
	}
	r.state = RoomDestroyed

	for _, c := range r.connections {
		c.clearRoom()
		c.Disconnect(reason, "")
	}
	r.connections = make(map[uint32]*Connection)
	r.players = make(map[uint32]*Player)
	r.waitingForHost = make(map[uint32]*Connection)

	r.flushInfractions(r.infractions.Drain())
	if id := r.gameID; id != "" {
		metrics := r.worker.metrics
		go func() {
			if err := metrics.CloseGame(context.Background(), id); err != nil {
				slog.Warn("closing game session failed", "gameId", id, "error", err)
			}
		}()
	}

	r.worker.removeRoom(r.code)
	close(r.done)
	r.refreshSummary()
	r.worker.hub.Emit(&RoomDestroyEvent{Room: r})
	slog.Info("room destroyed", "room", r.code, "reason", reason)
}

// flushInfractions hands a batch to the metrics sink off the room
// goroutine; tick work must not block on the database.
func (r *Room) flushInfractions(batch []anticheat.Infraction) {
	if len(batch) == 0 {
		return
	}
	metrics := r.worker.metrics
	go func() {
		if err := metrics.FlushInfractions(context.Background(), batch); err != nil {
			slog.Error("flushing infractions failed", "count", len(batch), "error", err)
		}
	}()
}

func (r *Room) recordInfraction(c *Connection, v *anticheat.Violation) {
	inf := anticheat.NewInfraction(c.UserID(), r.gameID, v.Name, v.Details, v.Severity, c.Ping())
	slog.Log(context.Background(), infractionLogLevel(v.Severity), "infraction",
		"room", r.code,
		"client", c.ClientID,
		"user", inf.UserID,
		"name", v.Name,
		"severity", v.Severity,
		"details", v.Details)
	if batch := r.infractions.Append(inf); batch != nil {
		r.flushInfractions(batch)
	}
}

func infractionLogLevel(s anticheat.Severity) slog.Level {
	if s >= anticheat.SeverityHigh {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func (r *Room) player(clientID uint32) *Player {
	return r.players[clientID]
}

// gameData resolves the room-owned roster component, nil before it is
// spawned.
func (r *Room) gameData() *object.GameData {
	if c, ok := r.graph.FindKind(object.KindGameData); ok {
		return c.(*object.GameData)
	}
	return nil
}

func (r *Room) meetingHud() *object.MeetingHud {
	if c, ok := r.graph.FindKind(object.KindMeetingHud); ok {
		return c.(*object.MeetingHud)
	}
	return nil
}

// playerControl resolves a client's PlayerControl component.
func (r *Room) playerControl(clientID uint32) *object.PlayerControl {
	if c, ok := r.graph.Find(int32(clientID), object.KindPlayerControl); ok {
		return c.(*object.PlayerControl)
	}
	return nil
}

func (r *Room) refreshSummary() {
	s := &Summary{
		Code:       r.code.String(),
		Players:    len(r.players),
		MaxPlayers: int(r.settings.MaxPlayers),
		State:      r.state.String(),
		Public:     r.privacy == PrivacyPublic,
		Map:        r.settings.Map.String(),
		MapID:      byte(r.settings.Map),
		Impostors:  int(r.settings.NumImpostors),
		CreatedAt:  r.createdAt,
	}
	if host, ok := r.connections[r.hostID]; ok {
		s.HostName = host.Username()
	} else if r.actingHostsEnabled {
		for id := range r.actingHosts {
			if c, ok := r.connections[id]; ok {
				s.HostName = c.Username()
				break
			}
		}
	}
	r.summary.Store(s)
}

// formatFields renders the configured room log-field list.
func (r *Room) formatFields(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "code":
			parts = append(parts, "code="+r.code.String())
		case "players":
			parts = append(parts, fmt.Sprintf("players=%d", len(r.players)))
		case "state":
			parts = append(parts, "state="+r.state.String())
		case "host":
			if r.actingHostsEnabled {
				parts = append(parts, "host=server")
			} else {
				parts = append(parts, fmt.Sprintf("host=%d", r.hostID))
			}
		}
	}
	return strings.Join(parts, " ")
}
