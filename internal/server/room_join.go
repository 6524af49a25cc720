package server

import (
	"fmt"
	"log/slog"

	"github.com/skeldware/dropship/internal/protocol"
)

// handleJoin admits a connection into the room, or turns it away with
// the reason the client understands.
func (r *Room) handleJoin(c *Connection) {
	if r.state == RoomDestroyed {
		c.Disconnect(protocol.ReasonGameNotFound, "")
		return
	}
	if _, banned := r.banned[c.RemoteIP()]; banned {
		c.Disconnect(protocol.ReasonBanned, "")
		return
	}
	if r.state == RoomStarted {
		c.Disconnect(protocol.ReasonGameStarted, "")
		return
	}
	if r.settings.MaxPlayers > 0 && len(r.players) >= int(r.settings.MaxPlayers) {
		c.Disconnect(protocol.ReasonGameFull, "")
		return
	}

	if r.state == RoomEnded {
		r.handleEndedJoin(c)
		return
	}
	r.admit(c)
}

// handleEndedJoin implements the rejoin flow after a game ends: the
// returning host reopens the lobby and releases everyone parked in
// waitingForHost; everyone else waits.
func (r *Room) handleEndedJoin(c *Connection) {
	isHost := !r.actingHostsEnabled && c.ClientID == r.hostID
	if r.actingHostsEnabled {
		_, isHost = r.actingHosts[c.ClientID]
	}
	if !isHost {
		r.connections[c.ClientID] = c
		r.waitingForHost[c.ClientID] = c
		c.setRoom(r)
		_ = c.SendReliable(waitForHostMessage(r.code, c.ClientID))
		slog.Info("client waiting for host", "room", r.code, "client", c.ClientID)
		return
	}

	r.state = RoomNotStarted
	r.admit(c)
	waiters := make([]*Connection, 0, len(r.waitingForHost))
	for _, wc := range r.waitingForHost {
		waiters = append(waiters, wc)
	}
	r.waitingForHost = make(map[uint32]*Connection)
	for _, wc := range waiters {
		r.admit(wc)
	}
}

func (r *Room) admit(c *Connection) {
	if _, ok := r.players[c.ClientID]; ok {
		return
	}
	p := &Player{
		ClientID: c.ClientID,
		PlayerID: r.allocPlayerID(),
		Name:     c.Username(),
	}
	r.connections[c.ClientID] = c
	delete(r.waitingForHost, c.ClientID)
	r.players[c.ClientID] = p
	c.setRoom(r)

	if r.actingHostsEnabled {
		if len(r.actingHosts) == 0 {
			r.selectHost(c)
		}
		// Park the joiner behind the settings exchange before any host
		// field goes out: everyone, the joiner included, sees the server
		// until the joiner's CheckName arrives.
		r.beginActingHostHandshake(c.ClientID)
	} else if r.hostID == protocol.ClientIDNil {
		r.selectHost(c)
	}

	others := make([]uint32, 0, len(r.players)-1)
	for id := range r.players {
		if id != c.ClientID {
			others = append(others, id)
		}
	}
	_ = c.SendReliable(
		joinedGameMessage(r.code, c.ClientID, r.visibleHost(c), others),
		alterGameMessage(r.code, r.privacy),
	)
	for _, o := range r.connections {
		if o.ClientID == c.ClientID {
			continue
		}
		if _, waiting := r.waitingForHost[o.ClientID]; waiting {
			continue
		}
		_ = o.SendReliable(joinGameMessage(r.code, c.ClientID, r.visibleHost(o)))
	}

	if r.actingHostsEnabled {
		r.ensureRoomObjects()
		r.broadcastHostUpdates()
	}

	r.refreshSummary()
	r.worker.hub.Emit(&PlayerJoinEvent{Room: r, Conn: c, Player: p})
	slog.Info("player joined",
		"room", r.formatFields(r.worker.cfg.Logging.Rooms.Format),
		"player", p.formatFields(r.worker.cfg.Logging.Players.Format, c.Ping().String()))
}

// allocPlayerID hands out the smallest free in-game slot.
func (r *Room) allocPlayerID() uint8 {
	used := make(map[uint8]struct{}, len(r.players))
	for _, p := range r.players {
		used[p.PlayerID] = struct{}{}
	}
	for id := uint8(0); ; id++ {
		if _, taken := used[id]; !taken {
			return id
		}
	}
}

// handleLeave removes a connection from the room and runs host
// succession. reason travels in the RemovePlayer broadcast.
func (r *Room) handleLeave(c *Connection, reason protocol.DisconnectReason) {
	if _, ok := r.connections[c.ClientID]; !ok {
		return
	}
	wasHost := !r.actingHostsEnabled && r.hostID == c.ClientID

	delete(r.connections, c.ClientID)
	delete(r.waitingForHost, c.ClientID)
	p := r.players[c.ClientID]
	delete(r.players, c.ClientID)
	delete(r.movementCounters, c.ClientID)
	c.clearRoom()

	r.worker.hub.Emit(&ClientLeaveEvent{Room: r, Conn: c})

	for _, removed := range r.graph.DespawnOwned(int32(c.ClientID)) {
		r.untrackComponent(removed)
		r.queueDespawn(removed.Base().NetID())
	}
	if p != nil {
		if gd := r.gameData(); gd != nil {
			if info, ok := gd.Player(p.PlayerID); ok {
				info.Disconnected = true
				gd.MarkPlayerDirty(p.PlayerID)
			}
		}
	}

	if len(r.connections) == 0 {
		r.destroy()
		return
	}

	if r.actingHostsEnabled {
		r.dropActingHost(c.ClientID)
	} else if wasHost {
		if next := r.anyConnection(); next != nil {
			r.selectHost(next)
			if r.state == RoomEnded {
				// The replacement host may be parked; reopen the lobby for
				// everyone who waited out the ended game.
				if _, waiting := r.waitingForHost[r.hostID]; waiting {
					r.state = RoomNotStarted
					r.handleEndedRelease()
				}
			}
		}
	}

	for _, o := range r.connections {
		if _, waiting := r.waitingForHost[o.ClientID]; waiting {
			continue
		}
		_ = o.SendReliable(removePlayerMessage(r.code, c.ClientID, r.visibleHost(o), reason))
	}
	r.refreshSummary()
	slog.Info("player left", "room", r.code, "client", c.ClientID, "reason", reason)
}

func (r *Room) handleEndedRelease() {
	waiters := make([]*Connection, 0, len(r.waitingForHost))
	for _, wc := range r.waitingForHost {
		waiters = append(waiters, wc)
	}
	r.waitingForHost = make(map[uint32]*Connection)
	for _, wc := range waiters {
		r.admit(wc)
	}
}

// handleKick ejects a player on the host's say-so, optionally banning
// the remote address.
func (r *Room) handleKick(sender *Connection, target uint32, ban bool) {
	if !r.isActingHost(sender) {
		slog.Warn("kick from non-host ignored", "room", r.code, "client", sender.ClientID, "target", target)
		return
	}
	t, ok := r.connections[target]
	if !ok {
		return
	}
	if ban {
		r.banned[t.RemoteIP()] = struct{}{}
	}
	r.logEjection(t, ban, "")

	msg := kickPlayerMessage(r.code, target, ban)
	for _, o := range r.connections {
		_ = o.SendReliable(msg)
	}

	reason := protocol.ReasonKicked
	if ban {
		reason = protocol.ReasonBanned
	}
	r.handleLeave(t, reason)
	r.worker.closeConnection(t, reason, "")
}

// logEjection includes the host's message only when one was supplied.
func (r *Room) logEjection(t *Connection, ban bool, message string) {
	action := "kicked"
	if ban {
		action = "banned"
	}
	detail := action + " by host"
	if message != "" {
		detail = fmt.Sprintf("%s by host (%s)", action, message)
	}
	slog.Info("player ejected", "room", r.code, "client", t.ClientID, "detail", detail)
}

// handleAlterGame applies a host privacy toggle and relays it.
func (r *Room) handleAlterGame(sender *Connection, flag byte, value bool) {
	if flag != alterGamePrivacy {
		return
	}
	if !r.isActingHost(sender) {
		slog.Warn("alter game from non-host ignored", "room", r.code, "client", sender.ClientID)
		return
	}
	if value {
		r.privacy = PrivacyPublic
	} else {
		r.privacy = PrivacyPrivate
	}
	msg := alterGameMessage(r.code, r.privacy)
	for _, o := range r.connections {
		if o.ClientID == sender.ClientID {
			continue
		}
		_ = o.SendReliable(msg)
	}
	r.refreshSummary()
	slog.Info("room privacy changed", "room", r.code, "privacy", r.privacy)
}
