package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/skeldware/dropship/internal/anticheat"
	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// handleGameData demultiplexes the inner messages of a GameData or
// GameDataTo root. Untargeted traffic is applied to the graph and
// relayed to the rest of the room; traffic targeted at the server is
// applied only; traffic targeted at another client is gate-checked and
// relayed to just that client.
func (r *Room) handleGameData(sender *Connection, body []byte, target uint32, targeted, reliable bool) {
	if r.state == RoomDestroyed {
		return
	}
	if _, ok := r.connections[sender.ClientID]; !ok {
		return
	}

	serverTarget := targeted && target == protocol.ClientIDServer
	relayOnly := targeted && !serverTarget

	rd := protocol.NewReader(body)
	var relayed [][]byte
	for rd.Remaining() > 0 {
		start := rd.Position()
		tag, inner, err := rd.ReadMessage()
		if err != nil {
			slog.Debug("malformed game data", "room", r.code, "client", sender.ClientID, "error", err)
			r.worker.reportMalformed(sender)
			return
		}
		raw := body[start:rd.Position()]

		var relay bool
		if relayOnly {
			relay = r.inspectForRelay(sender, protocol.GameDataTag(tag), inner)
		} else {
			relay = r.applyGameDataMessage(sender, protocol.GameDataTag(tag), inner, raw)
		}
		if relay && !serverTarget {
			relayed = append(relayed, raw)
		}
	}
	if len(relayed) == 0 {
		return
	}

	if relayOnly {
		if tc, ok := r.connections[target]; ok {
			r.sendGameDataTo(tc, relayed, nil, true, reliable)
		}
		return
	}
	r.broadcastGameData(relayed, nil, sender.ClientID, reliable)
}

// inspectForRelay runs the anti-cheat gate over targeted traffic the
// server does not apply. Everything except a suppressed RPC passes.
func (r *Room) inspectForRelay(sender *Connection, tag protocol.GameDataTag, inner *protocol.Reader) bool {
	if tag != protocol.GameDataRPC {
		return true
	}
	netID, err := inner.ReadPackedUint32()
	if err != nil {
		return false
	}
	rpcByte, err := inner.ReadByte()
	if err != nil {
		return false
	}
	v := r.gateCheck(sender, netID, protocol.RPCTag(rpcByte), inner.RemainingBytes())
	if v != nil {
		r.recordInfraction(sender, v)
		if v.Suppresses() {
			return false
		}
	}
	return true
}

func (r *Room) applyGameDataMessage(sender *Connection, tag protocol.GameDataTag, inner *protocol.Reader, raw []byte) bool {
	switch tag {
	case protocol.GameDataData:
		return r.applyData(sender, inner, raw)
	case protocol.GameDataRPC:
		return r.applyRPC(sender, inner)
	case protocol.GameDataSpawn:
		return r.applySpawn(sender, inner)
	case protocol.GameDataDespawn:
		return r.applyDespawn(sender, inner)
	case protocol.GameDataSceneChange:
		return r.applySceneChange(sender, inner)
	case protocol.GameDataReady:
		r.markReady(sender)
		// With the server hosting, Ready is consumed here; a client host
		// runs its own readiness count.
		return !r.actingHostsEnabled
	case protocol.GameDataChangeSettings:
		return r.applyChangeSettings(sender, inner)
	default:
		slog.Debug("unknown game data tag", "room", r.code, "client", sender.ClientID, "tag", byte(tag))
		return true
	}
}

// applyData ingests a component state delta. Movement deltas take the
// fast path and are fanned out unreliably from there.
func (r *Room) applyData(sender *Connection, inner *protocol.Reader, raw []byte) bool {
	netID, err := inner.ReadPackedUint32()
	if err != nil {
		slog.Debug("malformed data message", "room", r.code, "client", sender.ClientID, "error", err)
		return false
	}
	comp, ok := r.graph.Get(netID)
	if !ok {
		// Unknown objects may be passthrough; relay and let clients judge.
		return true
	}
	owner := comp.Base().OwnerID()
	if owner >= 0 && uint32(owner) != sender.ClientID && !r.isActingHost(sender) {
		slog.Debug("data on foreign object dropped", "room", r.code, "client", sender.ClientID, "netId", netID)
		return false
	}

	if nt, isTransform := comp.(*object.NetworkTransform); isTransform && uint32(owner) == sender.ClientID {
		if err := nt.Deserialize(inner, false); err != nil {
			slog.Debug("malformed movement", "room", r.code, "client", sender.ClientID, "error", err)
			return false
		}
		nt.Base().ClearDirty()
		r.forwardMovement(sender, nt, raw)
		return false
	}

	if err := comp.Deserialize(inner, false); err != nil {
		slog.Debug("component deserialize failed",
			"room", r.code, "client", sender.ClientID, "netId", netID, "kind", comp.Kind(), "error", err)
		return false
	}
	comp.Base().ClearDirty()
	return true
}

// gateCheck assembles the RPC context and consults the gate. The
// payload handed over is the gate's own cursor.
func (r *Room) gateCheck(sender *Connection, netID uint32, tag protocol.RPCTag, payload []byte) *anticheat.Violation {
	comp, _ := r.graph.Get(netID)
	ctx := &anticheat.RPCContext{
		SenderID:     sender.ClientID,
		ActingHost:   r.isActingHost(sender),
		ServerAsHost: r.actingHostsEnabled,
		Map:          r.settings.Map,
		Component:    comp,
		Tag:          tag,
		NetID:        netID,
		Payload:      protocol.NewReader(payload),
	}
	if u := sender.User(); u != nil {
		ctx.AuthName = u.DisplayName
		ctx.OwnsCosmetic = u.OwnsCosmetic
	}
	gd := r.gameData()
	if p := r.players[sender.ClientID]; p != nil {
		ctx.SenderPlayerID = p.PlayerID
		if gd != nil {
			if info, ok := gd.Player(p.PlayerID); ok && info.Impostor {
				ctx.Role = anticheat.RoleImpostor
			}
		}
	}
	if hud := r.meetingHud(); hud != nil {
		ctx.HasVoted = hud.HasVoted
	}
	if gd != nil {
		ctx.PlayerAlive = func(playerID uint8) (bool, bool) {
			info, ok := gd.Player(playerID)
			if !ok {
				return false, false
			}
			return !info.Dead && !info.Disconnected, true
		}
	}
	return r.worker.gate.Check(ctx)
}

// applyRPC routes one remote procedure call: gate first, then the
// server-handled tags, then the owning component's state tracking.
func (r *Room) applyRPC(sender *Connection, inner *protocol.Reader) bool {
	netID, err := inner.ReadPackedUint32()
	if err != nil {
		slog.Debug("malformed rpc header", "room", r.code, "client", sender.ClientID, "error", err)
		return false
	}
	rpcByte, err := inner.ReadByte()
	if err != nil {
		slog.Debug("malformed rpc header", "room", r.code, "client", sender.ClientID, "error", err)
		return false
	}
	tag := protocol.RPCTag(rpcByte)
	payload := inner.RemainingBytes()

	if v := r.gateCheck(sender, netID, tag, payload); v != nil {
		r.recordInfraction(sender, v)
		if v.Suppresses() {
			return false
		}
	}

	comp, ok := r.graph.Get(netID)
	if !ok {
		return true
	}

	switch tag {
	case protocol.RPCCheckName:
		if r.actingHostsEnabled {
			r.handleCheckName(sender, comp, protocol.NewReader(payload))
			return false
		}
	case protocol.RPCCheckColor:
		if r.actingHostsEnabled {
			r.handleCheckColor(sender, comp, protocol.NewReader(payload))
			return false
		}
	case protocol.RPCSyncSettings:
		r.handleSyncSettings(sender, protocol.NewReader(payload))
	case protocol.RPCSendChat:
		return r.handleSendChat(sender, protocol.NewReader(payload))
	case protocol.RPCSetName, protocol.RPCSetColor, protocol.RPCSetHat, protocol.RPCSetPet, protocol.RPCSetSkin:
		r.syncRosterCosmetic(comp, tag, protocol.NewReader(payload))
	case protocol.RPCMurderPlayer:
		r.markVictimDead(protocol.NewReader(payload))
	case protocol.RPCExiled:
		if pc, isPC := comp.(*object.PlayerControl); isPC {
			r.markPlayerDead(pc.PlayerID)
		}
	case protocol.RPCCompleteTask:
		r.markTaskComplete(sender, protocol.NewReader(payload))
	}

	if err := comp.HandleRPC(tag, protocol.NewReader(payload)); err != nil {
		slog.Debug("rpc apply failed",
			"room", r.code, "client", sender.ClientID, "netId", netID, "rpc", tag, "error", err)
		return false
	}
	return true
}

// handleCheckName answers a CheckName when the server is host: claim a
// unique display name, replicate SetName, and advance the acting-host
// handshake if this joiner was holding it up.
func (r *Room) handleCheckName(sender *Connection, comp object.Component, payload *protocol.Reader) {
	name, err := payload.ReadString()
	if err != nil {
		slog.Debug("malformed CheckName", "room", r.code, "client", sender.ClientID, "error", err)
		return
	}
	p := r.players[sender.ClientID]
	gd := r.gameData()
	if p == nil || gd == nil {
		return
	}

	final := name
	for i := 1; r.nameTaken(final, p.PlayerID); i++ {
		final = fmt.Sprintf("%s %d", name, i)
	}
	p.Name = final

	info, ok := gd.Player(p.PlayerID)
	if !ok {
		info = gd.Upsert(object.PlayerInfo{PlayerID: p.PlayerID})
	}
	info.Name = final
	gd.MarkPlayerDirty(p.PlayerID)

	r.queueRPC(comp.Base().NetID(), protocol.RPCSetName, func(w *protocol.Writer) {
		w.WriteString(final)
	})
	r.completeActingHostHandshake(sender.ClientID)
}

func (r *Room) nameTaken(name string, except uint8) bool {
	gd := r.gameData()
	if gd == nil {
		return false
	}
	for _, info := range gd.Players() {
		if info.PlayerID != except && !info.Disconnected && info.Name == name {
			return true
		}
	}
	return false
}

// handleCheckColor answers a CheckColor when the server is host: bump
// to the next free color when the requested one is worn.
func (r *Room) handleCheckColor(sender *Connection, comp object.Component, payload *protocol.Reader) {
	color, err := payload.ReadByte()
	if err != nil {
		slog.Debug("malformed CheckColor", "room", r.code, "client", sender.ClientID, "error", err)
		return
	}
	p := r.players[sender.ClientID]
	gd := r.gameData()
	if p == nil || gd == nil {
		return
	}

	final := color
	for tries := uint32(0); tries <= anticheat.MaxVanillaColor && r.colorTaken(final, p.PlayerID); tries++ {
		final = byte((uint32(final) + 1) % (anticheat.MaxVanillaColor + 1))
	}

	info, ok := gd.Player(p.PlayerID)
	if !ok {
		info = gd.Upsert(object.PlayerInfo{PlayerID: p.PlayerID})
	}
	info.Color = final
	gd.MarkPlayerDirty(p.PlayerID)

	r.queueRPC(comp.Base().NetID(), protocol.RPCSetColor, func(w *protocol.Writer) {
		w.WriteByte(final)
	})
}

func (r *Room) colorTaken(color byte, except uint8) bool {
	gd := r.gameData()
	if gd == nil {
		return false
	}
	for _, info := range gd.Players() {
		if info.PlayerID != except && !info.Disconnected && info.Color == color {
			return true
		}
	}
	return false
}

// handleSyncSettings adopts the host's ruleset, with the configured
// enforcement overrides winning.
func (r *Room) handleSyncSettings(sender *Connection, payload *protocol.Reader) {
	if !r.isActingHost(sender) {
		return
	}
	settings, err := protocol.DecodeGameSettings(payload)
	if err != nil {
		slog.Debug("malformed SyncSettings", "room", r.code, "client", sender.ClientID, "error", err)
		return
	}
	r.settings = enforceSettings(settings, r.worker.cfg.Rooms.Enforce)
	r.refreshSummary()
	slog.Debug("settings adopted", "room", r.code,
		"map", r.settings.Map, "impostors", r.settings.NumImpostors, "maxPlayers", r.settings.MaxPlayers)
}

// syncRosterCosmetic mirrors host-authored cosmetic RPCs into the
// roster so the server's snapshot stays truthful. No dirty mark: the
// relayed RPC already informs every client.
func (r *Room) syncRosterCosmetic(comp object.Component, tag protocol.RPCTag, payload *protocol.Reader) {
	pc, ok := comp.(*object.PlayerControl)
	if !ok {
		return
	}
	gd := r.gameData()
	if gd == nil {
		return
	}
	info, ok := gd.Player(pc.PlayerID)
	if !ok {
		return
	}
	switch tag {
	case protocol.RPCSetName:
		if name, err := payload.ReadString(); err == nil {
			info.Name = name
		}
	case protocol.RPCSetColor:
		if color, err := payload.ReadByte(); err == nil {
			info.Color = color
		}
	case protocol.RPCSetHat:
		if hat, err := payload.ReadPackedUint32(); err == nil {
			info.Hat = hat
		}
	case protocol.RPCSetPet:
		if pet, err := payload.ReadPackedUint32(); err == nil {
			info.Pet = pet
		}
	case protocol.RPCSetSkin:
		if skin, err := payload.ReadPackedUint32(); err == nil {
			info.Skin = skin
		}
	}
}

// markVictimDead follows a MurderPlayer: the payload names the victim's
// PlayerControl net id.
func (r *Room) markVictimDead(payload *protocol.Reader) {
	victimNetID, err := payload.ReadPackedUint32()
	if err != nil {
		return
	}
	if comp, ok := r.graph.Get(victimNetID); ok {
		if pc, isPC := comp.(*object.PlayerControl); isPC {
			r.markPlayerDead(pc.PlayerID)
		}
	}
}

func (r *Room) markPlayerDead(playerID uint8) {
	if gd := r.gameData(); gd != nil {
		if info, ok := gd.Player(playerID); ok {
			info.Dead = true
		}
	}
}

func (r *Room) markTaskComplete(sender *Connection, payload *protocol.Reader) {
	idx, err := payload.ReadPackedUint32()
	if err != nil {
		return
	}
	p := r.players[sender.ClientID]
	gd := r.gameData()
	if p == nil || gd == nil {
		return
	}
	if info, ok := gd.Player(p.PlayerID); ok && int(idx) < len(info.Tasks) {
		info.Tasks[idx].Complete = true
	}
}

// applySpawn ingests a host-authored spawn into the graph.
func (r *Room) applySpawn(sender *Connection, inner *protocol.Reader) bool {
	if !r.isActingHost(sender) {
		r.recordInfraction(sender, &anticheat.Violation{
			Name:     anticheat.NameForbiddenSpawn,
			Details:  fmt.Sprintf("spawn from non-host client %d", sender.ClientID),
			Severity: anticheat.SeverityCritical,
		})
		return false
	}
	comps, err := r.graph.ApplySpawn(inner)
	if err != nil {
		slog.Debug("spawn rejected", "room", r.code, "client", sender.ClientID, "error", err)
		return false
	}
	r.trackSpawn(comps)
	r.bindPlayerControls(comps)
	return true
}

// bindPlayerControls links freshly spawned player prefabs to the room's
// Player records and seeds roster entries.
func (r *Room) bindPlayerControls(comps []object.Component) {
	gd := r.gameData()
	for _, comp := range comps {
		pc, ok := comp.(*object.PlayerControl)
		if !ok {
			continue
		}
		owner := pc.Base().OwnerID()
		if owner < 0 {
			continue
		}
		p := r.players[uint32(owner)]
		if p == nil {
			continue
		}
		p.PlayerID = pc.PlayerID
		if gd != nil {
			if _, exists := gd.Player(pc.PlayerID); !exists {
				gd.Upsert(object.PlayerInfo{PlayerID: pc.PlayerID, Name: p.Name})
			}
		}
	}
}

// applyDespawn removes an object the sender is allowed to remove.
func (r *Room) applyDespawn(sender *Connection, inner *protocol.Reader) bool {
	netID, err := inner.ReadPackedUint32()
	if err != nil {
		return false
	}
	comp, ok := r.graph.Get(netID)
	if !ok {
		return true
	}
	owner := comp.Base().OwnerID()
	if owner >= 0 && uint32(owner) != sender.ClientID && !r.isActingHost(sender) {
		slog.Debug("despawn of foreign object dropped", "room", r.code, "client", sender.ClientID, "netId", netID)
		return false
	}
	if removed, ok := r.graph.Despawn(netID); ok {
		r.untrackComponent(removed)
	}
	return true
}

// applySceneChange marks the sender in-scene and, when the server is
// hosting, plays catch-up: full graph snapshot, then the sender's own
// player prefab.
func (r *Room) applySceneChange(sender *Connection, inner *protocol.Reader) bool {
	clientID, err := inner.ReadPackedUint32()
	if err != nil {
		return false
	}
	scene, err := inner.ReadString()
	if err != nil {
		return false
	}
	if clientID != sender.ClientID {
		slog.Debug("scene change for someone else dropped",
			"room", r.code, "client", sender.ClientID, "subject", clientID)
		return false
	}
	p := r.players[sender.ClientID]
	if p == nil {
		return false
	}
	p.InScene = true
	slog.Debug("scene change", "room", r.code, "client", sender.ClientID, "scene", scene)

	if !r.actingHostsEnabled {
		return true
	}

	if snapshot := r.snapshotMessages(); len(snapshot) > 0 {
		r.sendGameData(sender, snapshot)
	}

	if _, ok := r.graph.Find(int32(sender.ClientID), object.KindPlayerControl); !ok {
		comps, err := r.graph.Spawn(protocol.SpawnPlayer, int32(sender.ClientID), object.SpawnFlagClientCharacter)
		if err != nil {
			slog.Error("spawning player prefab failed", "room", r.code, "client", sender.ClientID, "error", err)
			return true
		}
		if pc, ok := comps[0].(*object.PlayerControl); ok {
			pc.PlayerID = p.PlayerID
		}
		r.trackSpawn(comps)
		r.queueSpawn(comps)
		if gd := r.gameData(); gd != nil {
			if _, exists := gd.Player(p.PlayerID); !exists {
				gd.Upsert(object.PlayerInfo{PlayerID: p.PlayerID, Name: p.Name})
			}
		}
	}
	return true
}

// applyChangeSettings handles the lobby-side settings message, which
// carries the same block as SyncSettings.
func (r *Room) applyChangeSettings(sender *Connection, inner *protocol.Reader) bool {
	if !r.isActingHost(sender) {
		slog.Debug("settings change from non-host dropped", "room", r.code, "client", sender.ClientID)
		return false
	}
	settings, err := protocol.DecodeGameSettings(inner)
	if err != nil {
		slog.Debug("malformed settings change", "room", r.code, "client", sender.ClientID, "error", err)
		return false
	}
	r.settings = enforceSettings(settings, r.worker.cfg.Rooms.Enforce)
	r.refreshSummary()
	return true
}

// trimmedPrefix reports whether message is a chat command and returns
// the remainder.
func (r *Room) trimmedPrefix(message string) (string, bool) {
	cc := r.worker.cfg.Rooms.ChatCommands
	if !cc.Enabled || cc.Prefix == "" {
		return "", false
	}
	if !strings.HasPrefix(message, cc.Prefix) {
		return "", false
	}
	return strings.TrimPrefix(message, cc.Prefix), true
}
