package server

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// GameOverReason travels in the EndGame root message. Values are fixed
// by the client.
type GameOverReason byte

const (
	GameOverHumansByVote       GameOverReason = 0
	GameOverHumansByTask       GameOverReason = 1
	GameOverImpostorByVote     GameOverReason = 2
	GameOverImpostorByKill     GameOverReason = 3
	GameOverImpostorBySabotage GameOverReason = 4
	GameOverImpostorDisconnect GameOverReason = 5
	GameOverHumansDisconnect   GameOverReason = 6
)

func (g GameOverReason) String() string {
	switch g {
	case GameOverHumansByVote:
		return "HumansByVote"
	case GameOverHumansByTask:
		return "HumansByTask"
	case GameOverImpostorByVote:
		return "ImpostorByVote"
	case GameOverImpostorByKill:
		return "ImpostorByKill"
	case GameOverImpostorBySabotage:
		return "ImpostorBySabotage"
	case GameOverImpostorDisconnect:
		return "ImpostorDisconnect"
	case GameOverHumansDisconnect:
		return "HumansDisconnect"
	default:
		return fmt.Sprintf("GameOver(%d)", byte(g))
	}
}

// handleStartGame runs when the host declares start. The StartGame root
// is echoed to everyone; with the server hosting, the room then waits
// up to three seconds for Ready messages before finishing the start
// itself.
func (r *Room) handleStartGame(sender *Connection) {
	if r.state != RoomNotStarted {
		slog.Warn("start in wrong state ignored", "room", r.code, "state", r.state)
		return
	}
	if !r.isActingHost(sender) {
		slog.Warn("start from non-host ignored", "room", r.code, "client", sender.ClientID)
		return
	}

	r.state = RoomStarted
	msg := startGameMessage(r.code)
	for _, c := range r.connections {
		if _, waiting := r.waitingForHost[c.ClientID]; waiting {
			continue
		}
		_ = c.SendReliable(msg)
	}
	slog.Info("game starting", "room", r.code, "players", len(r.players))

	if r.actingHostsEnabled {
		for _, p := range r.players {
			p.Ready = false
		}
		r.startReadyDeadline = time.Now().Add(startReadyWindow)
	}
	r.refreshSummary()
}

// markReady records a Ready message; the start completes early once
// every player has reported in.
func (r *Room) markReady(c *Connection) {
	p := r.players[c.ClientID]
	if p == nil {
		return
	}
	p.Ready = true
	if r.startReadyDeadline.IsZero() {
		return
	}
	for _, p := range r.players {
		if !p.Ready {
			return
		}
	}
	r.finishStart(false)
}

// finishStart completes the server-hosted start: stragglers out, lobby
// down, ship up, roles and tasks dealt.
func (r *Room) finishStart(force bool) {
	if r.state != RoomStarted || r.startReadyDeadline.IsZero() {
		return
	}
	r.startReadyDeadline = time.Time{}

	if force {
		for _, p := range r.players {
			if p.Ready {
				continue
			}
			c := r.connections[p.ClientID]
			if c == nil {
				continue
			}
			slog.Warn("removing player that never readied", "room", r.code, "client", c.ClientID)
			r.handleLeave(c, protocol.ReasonError)
			r.worker.closeConnection(c, protocol.ReasonError, "")
		}
		if r.state == RoomDestroyed {
			return
		}
	}

	if lobby, ok := r.graph.FindKind(object.KindLobbyBehaviour); ok {
		netID := lobby.Base().NetID()
		if c, ok := r.graph.Despawn(netID); ok {
			r.untrackComponent(c)
			r.queueDespawn(netID)
		}
	}

	shipType := r.settings.Map.ShipStatusSpawnType()
	if _, ok := r.graph.FindKind(object.KindShipStatus); !ok {
		if comps, err := r.graph.Spawn(shipType, object.OwnerRoom, 0); err == nil {
			r.trackSpawn(comps)
			r.queueSpawn(comps)
		} else {
			slog.Error("spawning ship failed", "room", r.code, "map", r.settings.Map, "error", err)
		}
	}

	r.assignImpostors()
	r.assignTasks()

	r.worker.hub.Emit(&RoomGameStartEvent{Room: r})
	slog.Info("game started", "room", r.code, "map", r.settings.Map, "players", len(r.players))
}

// assignImpostors deals the configured number of impostor roles at
// random and replicates them through a SetInfected RPC.
func (r *Room) assignImpostors() {
	gd := r.gameData()
	if gd == nil || len(r.players) == 0 {
		return
	}
	slots := make([]uint8, 0, len(r.players))
	for _, p := range r.players {
		slots = append(slots, p.PlayerID)
	}
	rand.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })

	n := int(r.settings.NumImpostors)
	if n < 1 {
		n = 1
	}
	if n > len(slots) {
		n = len(slots)
	}
	impostors := slots[:n]
	for _, slot := range impostors {
		if info, ok := gd.Player(slot); ok {
			info.Impostor = true
			gd.MarkPlayerDirty(slot)
		}
	}

	// SetInfected rides on any PlayerControl; pick the lowest slot so
	// the choice is stable.
	pc := r.lowestPlayerControl()
	if pc == nil {
		return
	}
	r.queueRPC(pc.NetID(), protocol.RPCSetInfected, func(w *protocol.Writer) {
		w.WritePackedUint32(uint32(len(impostors)))
		for _, slot := range impostors {
			w.WriteByte(slot)
		}
	})
}

// assignTasks deals every player a task list sized by the lobby
// settings, replicated through SetTasks RPCs on GameData.
func (r *Room) assignTasks() {
	gd := r.gameData()
	if gd == nil {
		return
	}
	total := int(r.settings.NumCommonTasks) + int(r.settings.NumLongTasks) + int(r.settings.NumShortTasks)
	if total == 0 {
		return
	}
	for _, p := range r.players {
		tasks := make([]object.TaskState, 0, total)
		for i := 0; i < total; i++ {
			tasks = append(tasks, object.TaskState{ID: uint32(rand.IntN(maxTaskID))})
		}
		if info, ok := gd.Player(p.PlayerID); ok {
			info.Tasks = tasks
			gd.MarkPlayerDirty(p.PlayerID)
		}
		slot := p.PlayerID
		r.queueRPC(gd.NetID(), protocol.RPCSetTasks, func(w *protocol.Writer) {
			w.WriteByte(slot)
			w.WritePackedUint32(uint32(len(tasks)))
			for _, t := range tasks {
				w.WriteByte(byte(t.ID))
			}
		})
	}
}

// maxTaskID bounds the task identifiers the client maps to stations.
const maxTaskID = 32

func (r *Room) lowestPlayerControl() *object.PlayerControl {
	var best *object.PlayerControl
	for _, p := range r.players {
		pc := r.playerControl(p.ClientID)
		if pc == nil {
			continue
		}
		if best == nil || pc.PlayerID < best.PlayerID {
			best = pc
		}
	}
	return best
}

// endGame broadcasts EndGame and returns the room to the rejoin flow:
// connections stay, the replicated state does not.
func (r *Room) endGame(reason GameOverReason) {
	if r.state != RoomStarted {
		return
	}
	r.state = RoomEnded
	r.startReadyDeadline = time.Time{}

	msg := endGameMessage(r.code, reason)
	for _, c := range r.connections {
		_ = c.SendReliable(msg)
	}

	r.flushInfractions(r.infractions.Drain())

	r.players = make(map[uint32]*Player)
	r.graph = object.NewGraph(r.currentUnknownPolicy())
	r.spawnGroups = nil
	r.outbound = r.outbound[:0]
	r.actingHostWaiting = nil
	r.movementCounters = make(map[uint32]int)

	r.refreshSummary()
	r.worker.hub.Emit(&RoomGameEndEvent{Room: r, Reason: reason})
	slog.Info("game ended", "room", r.code, "reason", reason)
}

func (r *Room) currentUnknownPolicy() object.UnknownPolicy {
	policy, err := object.ParseUnknownPolicy(r.worker.cfg.Rooms.Advanced.UnknownObjects)
	if err != nil {
		return object.RejectUnknown()
	}
	return policy
}
