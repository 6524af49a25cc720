package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/skeldware/dropship/internal/protocol"
)

// handleSendChat processes a chat line: command interception first,
// then the chat event, then relay. Reports whether the message should
// reach the rest of the room.
func (r *Room) handleSendChat(sender *Connection, payload *protocol.Reader) bool {
	message, err := payload.ReadString()
	if err != nil {
		slog.Debug("malformed chat", "room", r.code, "client", sender.ClientID, "error", err)
		return false
	}

	if cmd, ok := r.trimmedPrefix(message); ok {
		r.handleChatCommand(sender, cmd)
		return false
	}

	ev := &PlayerChatEvent{Room: r, Conn: sender, Message: message}
	r.worker.hub.EmitSerial(ev)
	return !ev.Canceled()
}

func (r *Room) handleChatCommand(sender *Connection, cmd string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		r.sendServerChat(sender, "Empty command. Try "+r.worker.cfg.Rooms.ChatCommands.Prefix+"help")
		return
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	slog.Debug("chat command", "room", r.code, "client", sender.ClientID, "command", name)

	switch name {
	case "help":
		prefix := r.worker.cfg.Rooms.ChatCommands.Prefix
		r.sendServerChat(sender, fmt.Sprintf(
			"Commands: %shelp, %sping, %ssethost <player>, %sdestroy",
			prefix, prefix, prefix, prefix))
	case "ping":
		r.sendServerChat(sender, fmt.Sprintf("Your ping is %d ms", sender.Ping().Milliseconds()))
	case "sethost":
		r.commandSetHost(sender, args)
	case "destroy":
		if !r.isActingHost(sender) {
			r.sendServerChat(sender, "Only the host can destroy the room")
			return
		}
		r.destroy()
	default:
		r.sendServerChat(sender, fmt.Sprintf("Unknown command %q. Try %shelp",
			name, r.worker.cfg.Rooms.ChatCommands.Prefix))
	}
}

func (r *Room) commandSetHost(sender *Connection, args []string) {
	if !r.isActingHost(sender) {
		r.sendServerChat(sender, "Only the host can transfer host")
		return
	}
	if len(args) == 0 {
		r.sendServerChat(sender, "Usage: sethost <player>")
		return
	}
	wanted := strings.Join(args, " ")
	for _, p := range r.players {
		if !strings.EqualFold(p.Name, wanted) {
			continue
		}
		c, ok := r.connections[p.ClientID]
		if !ok {
			break
		}
		r.selectHost(c)
		r.sendServerChat(sender, fmt.Sprintf("%s is now a host", p.Name))
		return
	}
	r.sendServerChat(sender, fmt.Sprintf("No player named %q", wanted))
}

// sendServerChat speaks as the server to one recipient. The client has
// no notion of a server participant, so the line is delivered by
// briefly dressing the recipient's own character as the configured
// server player, chatting, and restoring — all inside one targeted
// packet, invisible to everyone else.
func (r *Room) sendServerChat(c *Connection, text string) {
	pc := r.playerControl(c.ClientID)
	p := r.players[c.ClientID]
	if pc == nil || p == nil {
		slog.Info("server chat (no character)", "room", r.code, "client", c.ClientID, "text", text)
		return
	}

	origName := p.Name
	origColor := byte(0)
	if gd := r.gameData(); gd != nil {
		if info, ok := gd.Player(p.PlayerID); ok {
			origName = info.Name
			origColor = info.Color
		}
	}

	sp := r.worker.cfg.Rooms.ServerPlayer
	netID := pc.NetID()
	msgs := [][]byte{
		rpcMessage(netID, protocol.RPCSetName, func(w *protocol.Writer) { w.WriteString(sp.Name) }),
		rpcMessage(netID, protocol.RPCSetColor, func(w *protocol.Writer) { w.WriteByte(sp.Color) }),
		rpcMessage(netID, protocol.RPCSendChat, func(w *protocol.Writer) { w.WriteString(text) }),
		rpcMessage(netID, protocol.RPCSetName, func(w *protocol.Writer) { w.WriteString(origName) }),
		rpcMessage(netID, protocol.RPCSetColor, func(w *protocol.Writer) { w.WriteByte(origColor) }),
	}
	r.sendGameData(c, msgs)
}
