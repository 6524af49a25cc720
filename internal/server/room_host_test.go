package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

func saahConfig() config.Config {
	cfg := config.Default()
	cfg.Rooms.ServerAsHost = true
	return cfg
}

// buildGameData frames inner game-data messages the way a client packs
// them inside a GameData root.
func buildGameData(build func(w *protocol.Writer)) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	build(w)
	return w.Take()
}

func sendSceneChange(r *Room, c *Connection) {
	body := buildGameData(func(w *protocol.Writer) {
		w.BeginMessage(byte(protocol.GameDataSceneChange))
		w.WritePackedUint32(c.ClientID)
		w.WriteString("OnlineGame")
		w.EndMessage()
	})
	r.handleGameData(c, body, 0, false, true)
}

func sendRPC(r *Room, c *Connection, netID uint32, tag protocol.RPCTag, target uint32, targeted bool, payload func(w *protocol.Writer)) {
	body := buildGameData(func(w *protocol.Writer) {
		w.BeginMessage(byte(protocol.GameDataRPC))
		w.WritePackedUint32(netID)
		w.WriteByte(byte(tag))
		if payload != nil {
			payload(w)
		}
		w.EndMessage()
	})
	r.handleGameData(c, body, target, targeted, true)
}

func sendCheckName(t *testing.T, r *Room, c *Connection, name string) {
	t.Helper()
	pc := r.playerControl(c.ClientID)
	require.NotNil(t, pc, "player prefab must exist before CheckName")
	sendRPC(r, c, pc.NetID(), protocol.RPCCheckName, protocol.ClientIDServer, true, func(w *protocol.Writer) {
		w.WriteString(name)
	})
}

// countSceneChangeHandshakes counts targeted scene-change deliveries a
// host received during the acting-host handshake.
func countSceneChangeHandshakes(t *testing.T, link *fakeLink) int {
	t.Helper()
	n := 0
	for _, m := range rootMessages(t, link) {
		if m.tag != byte(protocol.RootGameDataTo) {
			continue
		}
		rd := protocol.NewReader(m.body)
		_, err := rd.ReadInt32()
		require.NoError(t, err)
		_, err = rd.ReadPackedUint32()
		require.NoError(t, err)
		for rd.Remaining() > 0 {
			tag, inner, err := rd.ReadMessage()
			require.NoError(t, err)
			if tag != byte(protocol.GameDataSceneChange) {
				continue
			}
			subject, err := inner.ReadPackedUint32()
			require.NoError(t, err)
			if subject == protocol.ClientIDTemp {
				n++
			}
		}
	}
	return n
}

func TestServerAsHostJoinShowsServerHost(t *testing.T) {
	w := newTestWorker(saahConfig())
	r := newTestRoom(w)

	a, linkA := joinClient(r, 1001, "Alice")

	clientID, hostID, ok := lastJoinedGame(t, linkA)
	require.True(t, ok)
	assert.Equal(t, a.ClientID, clientID)
	assert.Equal(t, protocol.ClientIDServer, hostID)
	assert.Contains(t, r.actingHosts, a.ClientID)
	assert.Equal(t, []uint32{a.ClientID}, r.actingHostWaiting)

	// The server hosts, so the lobby objects exist without a client
	// spawning them.
	_, hasLobby := r.graph.FindKind(object.KindLobbyBehaviour)
	_, hasRoster := r.graph.FindKind(object.KindGameData)
	assert.True(t, hasLobby)
	assert.True(t, hasRoster)
}

func TestActingHostHandshake(t *testing.T) {
	w := newTestWorker(saahConfig())
	r := newTestRoom(w)

	a, linkA := joinClient(r, 1001, "Alice")
	sendSceneChange(r, a)
	require.NotNil(t, r.playerControl(a.ClientID))

	sendCheckName(t, r, a, "Alice")

	assert.Empty(t, r.actingHostWaiting)
	assert.Equal(t, 1, countSceneChangeHandshakes(t, linkA), "handshake scene change delivered exactly once")

	host, ok := lastHostView(t, linkA)
	require.True(t, ok)
	assert.Equal(t, a.ClientID, host, "host view restored to the acting host")

	// The claimed name landed in the roster and a SetName reply is
	// queued for the next tick.
	gd := r.gameData()
	require.NotNil(t, gd)
	info, ok := gd.Player(r.players[a.ClientID].PlayerID)
	require.True(t, ok)
	assert.Equal(t, "Alice", info.Name)
	assert.NotEmpty(t, r.outbound)
}

func TestSecondJoinerSuppressesActingHostView(t *testing.T) {
	w := newTestWorker(saahConfig())
	r := newTestRoom(w)

	a, linkA := joinClient(r, 1001, "Alice")
	sendSceneChange(r, a)
	sendCheckName(t, r, a, "Alice")

	b, _ := joinClient(r, 1002, "Bob")
	host, ok := lastHostView(t, linkA)
	require.True(t, ok)
	assert.Equal(t, protocol.ClientIDServer, host, "pending handshake collapses every view to the server")

	sendSceneChange(r, b)
	sendCheckName(t, r, b, "Bob")

	host, ok = lastHostView(t, linkA)
	require.True(t, ok)
	assert.Equal(t, a.ClientID, host)
	assert.Equal(t, 2, countSceneChangeHandshakes(t, linkA), "one handshake per joiner")
}

func TestCheckNameDeduplicates(t *testing.T) {
	w := newTestWorker(saahConfig())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	sendSceneChange(r, a)
	sendCheckName(t, r, a, "Crewmate")

	b, _ := joinClient(r, 1002, "Bob")
	sendSceneChange(r, b)
	sendCheckName(t, r, b, "Crewmate")

	gd := r.gameData()
	require.NotNil(t, gd)
	infoB, ok := gd.Player(r.players[b.ClientID].PlayerID)
	require.True(t, ok)
	assert.Equal(t, "Crewmate 1", infoB.Name)
}

func TestCheckColorBumpsTakenColor(t *testing.T) {
	w := newTestWorker(saahConfig())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	sendSceneChange(r, a)
	sendCheckName(t, r, a, "Alice")
	pcA := r.playerControl(a.ClientID)
	sendRPC(r, a, pcA.NetID(), protocol.RPCCheckColor, protocol.ClientIDServer, true, func(w *protocol.Writer) {
		w.WriteByte(3)
	})

	b, _ := joinClient(r, 1002, "Bob")
	sendSceneChange(r, b)
	sendCheckName(t, r, b, "Bob")
	pcB := r.playerControl(b.ClientID)
	sendRPC(r, b, pcB.NetID(), protocol.RPCCheckColor, protocol.ClientIDServer, true, func(w *protocol.Writer) {
		w.WriteByte(3)
	})

	gd := r.gameData()
	infoA, _ := gd.Player(r.players[a.ClientID].PlayerID)
	infoB, _ := gd.Player(r.players[b.ClientID].PlayerID)
	assert.Equal(t, byte(3), infoA.Color)
	assert.Equal(t, byte(4), infoB.Color, "requested color worn, bumped to next free")
}

func TestEnableDisableServerAsHost(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	b, linkB := joinClient(r, 1002, "Bob")
	require.Equal(t, a.ClientID, r.hostID)

	r.enableServerAsHost()
	assert.True(t, r.actingHostsEnabled)
	assert.Equal(t, protocol.ClientIDServer, r.hostID)
	assert.Contains(t, r.actingHosts, a.ClientID)

	host, ok := lastHostView(t, linkB)
	require.True(t, ok)
	assert.Equal(t, protocol.ClientIDServer, host)

	r.disableServerAsHost()
	assert.False(t, r.actingHostsEnabled)
	assert.Equal(t, a.ClientID, r.hostID)
	_ = b
}

func TestActingHostLeavePromotesReplacement(t *testing.T) {
	w := newTestWorker(saahConfig())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	sendSceneChange(r, a)
	sendCheckName(t, r, a, "Alice")
	b, _ := joinClient(r, 1002, "Bob")
	sendSceneChange(r, b)
	sendCheckName(t, r, b, "Bob")
	require.NotContains(t, r.actingHosts, b.ClientID)

	r.handleLeave(a, protocol.ReasonExitGame)
	assert.Contains(t, r.actingHosts, b.ClientID, "replacement acting host promoted")
}
