package server

import (
	"log/slog"

	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// visibleHost is the host identifier connection c must believe in:
// acting hosts see themselves once no settings exchange is pending,
// everyone else sees the server (SaaH) or the real host (classic).
func (r *Room) visibleHost(c *Connection) uint32 {
	if r.actingHostsEnabled {
		if _, acting := r.actingHosts[c.ClientID]; acting && len(r.actingHostWaiting) == 0 {
			return c.ClientID
		}
		return protocol.ClientIDServer
	}
	return r.hostID
}

// isActingHost reports whether c holds host authority: the classic host
// or a SaaH acting host.
func (r *Room) isActingHost(c *Connection) bool {
	if r.actingHostsEnabled {
		_, ok := r.actingHosts[c.ClientID]
		return ok
	}
	return r.hostID == c.ClientID
}

// sendHostUpdate reconciles one connection's host view. The paired
// temporary JoinGame/RemovePlayer forces the client to re-read the host
// field without a rejoin.
func (r *Room) sendHostUpdate(c *Connection) {
	host := r.visibleHost(c)
	if err := c.SendReliable(
		joinGameMessage(r.code, protocol.ClientIDTemp, host),
		removePlayerMessage(r.code, protocol.ClientIDTemp, host, protocol.ReasonExitGame),
	); err != nil {
		slog.Debug("host update send failed", "room", r.code, "client", c.ClientID, "error", err)
	}
}

func (r *Room) broadcastHostUpdates() {
	for _, c := range r.connections {
		if _, waiting := r.waitingForHost[c.ClientID]; waiting {
			continue
		}
		r.sendHostUpdate(c)
	}
}

// selectHost grants host authority to candidate, subject to the
// RoomSelectHostEvent veto. In SaaH mode the candidate becomes an
// acting host; in classic mode it becomes the host proper.
func (r *Room) selectHost(candidate *Connection) {
	ev := &RoomSelectHostEvent{Room: r, Candidate: candidate}
	r.worker.hub.EmitSerial(ev)
	if ev.Canceled() || ev.Candidate == nil {
		return
	}
	candidate = ev.Candidate

	if r.actingHostsEnabled {
		r.actingHosts[candidate.ClientID] = struct{}{}
		slog.Info("acting host granted", "room", r.code, "client", candidate.ClientID)
	} else {
		r.hostID = candidate.ClientID
		slog.Info("host selected", "room", r.code, "client", candidate.ClientID)
	}
	r.broadcastHostUpdates()
	r.refreshSummary()
}

// EnableServerAsHost switches the room to SaaH: the previous host keeps
// authority as an acting host. Safe from any goroutine.
func (r *Room) EnableServerAsHost() {
	r.post(r.enableServerAsHost)
}

func (r *Room) enableServerAsHost() {
	if r.actingHostsEnabled {
		return
	}
	prev := r.hostID
	r.hostID = protocol.ClientIDServer
	r.actingHostsEnabled = true
	if c, ok := r.connections[prev]; ok {
		r.actingHosts[c.ClientID] = struct{}{}
	}
	r.ensureRoomObjects()
	r.broadcastHostUpdates()
	r.refreshSummary()
	slog.Info("server-as-host enabled", "room", r.code)
}

// DisableServerAsHost returns the room to classic hosting: the first
// acting host, else the first connection, becomes host. Safe from any
// goroutine.
func (r *Room) DisableServerAsHost() {
	r.post(r.disableServerAsHost)
}

func (r *Room) disableServerAsHost() {
	if !r.actingHostsEnabled {
		return
	}
	r.actingHostsEnabled = false
	r.actingHostWaiting = nil
	var next *Connection
	for id := range r.actingHosts {
		if c, ok := r.connections[id]; ok {
			next = c
			break
		}
	}
	if next == nil {
		next = r.anyConnection()
	}
	r.actingHosts = make(map[uint32]struct{})
	if next != nil {
		r.hostID = next.ClientID
	} else {
		r.hostID = protocol.ClientIDNil
	}
	r.broadcastHostUpdates()
	r.refreshSummary()
	slog.Info("server-as-host disabled", "room", r.code, "host", r.hostID)
}

func (r *Room) anyConnection() *Connection {
	for _, c := range r.connections {
		if _, waiting := r.waitingForHost[c.ClientID]; waiting {
			continue
		}
		return c
	}
	return nil
}

// ensureRoomObjects spawns the room-owned LobbyBehaviour and GameData
// prefabs once the server is hosting, and queues the spawns for
// broadcast.
func (r *Room) ensureRoomObjects() {
	if _, ok := r.graph.FindKind(object.KindLobbyBehaviour); !ok {
		if comps, err := r.graph.Spawn(protocol.SpawnLobbyBehaviour, object.OwnerRoom, 0); err == nil {
			r.trackSpawn(comps)
			r.queueSpawn(comps)
		}
	}
	if _, ok := r.graph.FindKind(object.KindGameData); !ok {
		if comps, err := r.graph.Spawn(protocol.SpawnGameData, object.OwnerRoom, 0); err == nil {
			r.trackSpawn(comps)
			r.queueSpawn(comps)
		}
	}
}

// beginActingHostHandshake parks a fresh joiner behind the settings
// exchange. While the list is non-empty every host view collapses to
// the server; the caller broadcasts the updated views.
func (r *Room) beginActingHostHandshake(clientID uint32) {
	r.actingHostWaiting = append(r.actingHostWaiting, clientID)
	r.finishedActingHostTransaction = false
}

// completeActingHostHandshake runs when the head waiter's CheckName
// arrives: each acting host gets the temporary join plus a scene change
// exactly once, then host views are restored.
func (r *Room) completeActingHostHandshake(clientID uint32) {
	if len(r.actingHostWaiting) == 0 || r.actingHostWaiting[0] != clientID {
		return
	}
	if !r.finishedActingHostTransaction {
		for id := range r.actingHosts {
			host, ok := r.connections[id]
			if !ok {
				continue
			}
			_ = host.SendReliable(
				joinGameMessage(r.code, protocol.ClientIDTemp, protocol.ClientIDServer),
				gameDataToMessage(r.code, host.ClientID, [][]byte{sceneChangeMessage(protocol.ClientIDTemp, "OnlineGame")}),
			)
		}
		r.finishedActingHostTransaction = true
	}
	r.actingHostWaiting = r.actingHostWaiting[1:]
	if len(r.actingHostWaiting) == 0 {
		r.broadcastHostUpdates()
	}
}

// dropActingHost removes a leaver from the host bookkeeping and
// promotes a replacement when the last acting host is gone.
func (r *Room) dropActingHost(clientID uint32) {
	delete(r.actingHosts, clientID)
	for i, id := range r.actingHostWaiting {
		if id == clientID {
			r.actingHostWaiting = append(r.actingHostWaiting[:i:i], r.actingHostWaiting[i+1:]...)
			break
		}
	}
	if len(r.actingHosts) == 0 {
		if next := r.anyConnection(); next != nil {
			r.selectHost(next)
		}
	}
}
