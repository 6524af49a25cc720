package server

import (
	"log/slog"

	"github.com/skeldware/dropship/internal/protocol"
)

// broadcastGameData fans framed game-data messages out to the room.
// Each recipient gets its own ClientBroadcastEvent so listeners can
// rewrite or drop the payload per connection. exclude names a client id
// to skip (the sender of a relay); ClientIDNil skips nobody.
func (r *Room) broadcastGameData(gameData [][]byte, payloads [][]byte, exclude uint32, reliable bool) {
	for _, c := range r.connections {
		if c.ClientID == exclude {
			continue
		}
		if _, waiting := r.waitingForHost[c.ClientID]; waiting {
			continue
		}
		r.sendGameDataTo(c, gameData, payloads, false, reliable)
	}
}

// sendGameData delivers framed game-data messages to one connection,
// wrapped in GameDataTo so other clients ignore a retransmit leak.
func (r *Room) sendGameData(c *Connection, gameData [][]byte) {
	r.sendGameDataTo(c, gameData, nil, true, true)
}

func (r *Room) sendGameDataTo(c *Connection, gameData, payloads [][]byte, targeted, reliable bool) {
	ev := &ClientBroadcastEvent{Room: r, Conn: c, GameData: gameData}
	if r.worker.hub.ListenerCount(EventClientBroadcast) > 0 {
		// Give listeners their own slice; mutation must not leak into
		// other recipients' views.
		ev.GameData = append([][]byte(nil), gameData...)
		r.worker.hub.EmitSerial(ev)
		if ev.Canceled() {
			return
		}
	}

	w := protocol.GetWriter()
	defer w.Put()
	if len(ev.GameData) > 0 {
		if targeted {
			w.BeginMessage(byte(protocol.RootGameDataTo))
			w.WriteInt32(int32(r.code))
			w.WritePackedUint32(c.ClientID)
		} else {
			w.BeginMessage(byte(protocol.RootGameData))
			w.WriteInt32(int32(r.code))
		}
		for _, m := range ev.GameData {
			w.WriteBytes(m)
		}
		w.EndMessage()
	}
	for _, p := range payloads {
		w.WriteBytes(p)
	}
	if w.Len() == 0 {
		return
	}

	var err error
	if reliable {
		err = c.link.SendReliable(w.Bytes())
	} else {
		err = c.link.SendUnreliable(w.Bytes())
	}
	if err != nil {
		slog.Debug("broadcast send failed", "room", r.code, "client", c.ClientID, "error", err)
	}
}
