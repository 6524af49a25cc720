package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/events"
	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

func playerPhysics(t *testing.T, r *Room, clientID uint32) *object.PlayerPhysics {
	t.Helper()
	c, ok := r.graph.Find(int32(clientID), object.KindPlayerPhysics)
	require.True(t, ok, "player prefab carries a PlayerPhysics")
	return c.(*object.PlayerPhysics)
}

// chatLines collects SendChat payloads delivered to a link, whichever
// root carried them.
func chatLines(t *testing.T, link *fakeLink) []string {
	t.Helper()
	var out []string
	for _, m := range rootMessages(t, link) {
		if m.tag != byte(protocol.RootGameData) && m.tag != byte(protocol.RootGameDataTo) {
			continue
		}
		rd := protocol.NewReader(m.body)
		_, err := rd.ReadInt32()
		require.NoError(t, err)
		if m.tag == byte(protocol.RootGameDataTo) {
			_, err = rd.ReadPackedUint32()
			require.NoError(t, err)
		}
		for rd.Remaining() > 0 {
			tag, inner, err := rd.ReadMessage()
			require.NoError(t, err)
			if tag != byte(protocol.GameDataRPC) {
				continue
			}
			if _, err := inner.ReadPackedUint32(); err != nil {
				continue
			}
			rpcTag, err := inner.ReadByte()
			if err != nil || rpcTag != byte(protocol.RPCSendChat) {
				continue
			}
			if text, err := inner.ReadString(); err == nil {
				out = append(out, text)
			}
		}
	}
	return out
}

func TestRPCOnForeignObjectSuppressed(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	pcA := r.playerControl(conns[0].ClientID)
	require.NotNil(t, pcA)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[1], pcA.NetID(), protocol.RPCSetName, 0, false, func(w *protocol.Writer) {
		w.WriteString("Mallory")
	})

	assert.Equal(t, 1, r.infractions.Len())
	assert.Zero(t, countRoot(t, links[0], protocol.RootGameData), "suppressed call never relayed")

	info, ok := r.gameData().Player(r.players[conns[0].ClientID].PlayerID)
	require.True(t, ok)
	assert.Equal(t, "Alice", info.Name)
}

func TestVentAllowedForImpostor(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	gd := r.gameData()
	require.NotNil(t, gd)
	info, ok := gd.Player(r.players[conns[1].ClientID].PlayerID)
	require.True(t, ok)
	info.Impostor = true

	ph := playerPhysics(t, r, conns[1].ClientID)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[1], ph.NetID(), protocol.RPCEnterVent, 0, false, func(w *protocol.Writer) {
		w.WritePackedUint32(2)
	})

	assert.Zero(t, r.infractions.Len(), "impostor vent is in the exception table")
	assert.True(t, ph.InVent)
	assert.Equal(t, 1, countRoot(t, links[0], protocol.RootGameData), "clean call relayed")
}

func TestVentFromCrewmateSuppressed(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	ph := playerPhysics(t, r, conns[1].ClientID)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[1], ph.NetID(), protocol.RPCEnterVent, 0, false, func(w *protocol.Writer) {
		w.WritePackedUint32(2)
	})

	assert.Equal(t, 1, r.infractions.Len())
	assert.False(t, ph.InVent)
	assert.Zero(t, countRoot(t, links[0], protocol.RootGameData))
}

func TestTargetedRelayGateChecked(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	pcA := r.playerControl(conns[0].ClientID)
	require.NotNil(t, pcA)
	for _, l := range links {
		l.reset()
	}

	// Host snapshots targeted at another client relay without the graph
	// applying them, but RPCs inside still face the gate.
	sendRPC(r, conns[1], pcA.NetID(), protocol.RPCSetName, conns[0].ClientID, true, func(w *protocol.Writer) {
		w.WriteString("Mallory")
	})

	assert.Equal(t, 1, r.infractions.Len())
	assert.Zero(t, countRoot(t, links[0], protocol.RootGameDataTo))
}

func TestSyncSettingsEnforcedOverrides(t *testing.T) {
	cfg := saahConfig()
	two := uint8(2)
	kill := 30
	cfg.Rooms.Enforce = &config.EnforceSettingsConfig{NumImpostors: &two, KillCooldown: &kill}
	w := newTestWorker(cfg)
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	sendSceneChange(r, a)
	sendCheckName(t, r, a, "Alice")

	wanted := protocol.DefaultGameSettings()
	wanted.NumImpostors = 3
	wanted.MaxPlayers = 8
	pc := r.playerControl(a.ClientID)
	sendRPC(r, a, pc.NetID(), protocol.RPCSyncSettings, protocol.ClientIDServer, true, wanted.Encode)

	assert.Equal(t, uint8(8), r.settings.MaxPlayers, "host choice adopted")
	assert.Equal(t, uint8(2), r.settings.NumImpostors, "enforced override wins")
	assert.Equal(t, float32(30), r.settings.KillCooldown)
}

func TestChangeSettingsFromNonHostDropped(t *testing.T) {
	_, r, conns, _ := lobbyWithPlayers(t, 2)
	before := r.settings

	wanted := protocol.DefaultGameSettings()
	wanted.MaxPlayers = 4
	body := buildGameData(func(w *protocol.Writer) {
		w.BeginMessage(byte(protocol.GameDataChangeSettings))
		wanted.Encode(w)
		w.EndMessage()
	})
	r.handleGameData(conns[1], body, 0, false, true)

	assert.Equal(t, before.MaxPlayers, r.settings.MaxPlayers)
}

func TestSpawnFromNonHostRecorded(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	count := r.graph.Count()
	for _, l := range links {
		l.reset()
	}

	body := buildGameData(func(w *protocol.Writer) {
		w.BeginMessage(byte(protocol.GameDataSpawn))
		w.WritePackedUint32(uint32(protocol.SpawnPlayer))
		w.WritePackedInt32(int32(conns[1].ClientID))
		w.WriteByte(0)
		w.WritePackedUint32(0)
		w.EndMessage()
	})
	r.handleGameData(conns[1], body, 0, false, true)

	assert.Equal(t, 1, r.infractions.Len())
	assert.Equal(t, count, r.graph.Count(), "nothing entered the graph")
	assert.Zero(t, countRoot(t, links[0], protocol.RootGameData))
}

func TestDataOnForeignObjectDropped(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	ntA, ok := r.graph.Find(int32(conns[0].ClientID), object.KindNetworkTransform)
	require.True(t, ok)
	for _, l := range links {
		l.reset()
	}

	body := buildGameData(func(w *protocol.Writer) {
		w.BeginMessage(byte(protocol.GameDataData))
		w.WritePackedUint32(ntA.Base().NetID())
		w.WriteUint16(99)
		w.WriteVector2(protocol.Vector2{X: 40, Y: 40})
		w.WriteVector2(protocol.Vector2{})
		w.EndMessage()
	})
	r.handleGameData(conns[1], body, 0, false, false)

	nt := ntA.(*object.NetworkTransform)
	assert.NotEqual(t, uint16(99), nt.Seq, "foreign movement never applied")
	assert.Zero(t, countRoot(t, links[0], protocol.RootGameData))
}

func TestChatRelayed(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	pcA := r.playerControl(conns[0].ClientID)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[0], pcA.NetID(), protocol.RPCSendChat, 0, false, func(w *protocol.Writer) {
		w.WriteString("hello there")
	})

	assert.Equal(t, []string{"hello there"}, chatLines(t, links[1]))
	assert.Empty(t, chatLines(t, links[0]), "sender excluded from the relay")
}

func TestChatEventCancelBlocksRelay(t *testing.T) {
	w, r, conns, links := lobbyWithPlayers(t, 2)
	unsub := w.hub.Subscribe(EventPlayerChat, func(ev events.Event) {
		ev.(*PlayerChatEvent).Cancel.Cancel()
	})
	defer unsub()
	pcA := r.playerControl(conns[0].ClientID)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[0], pcA.NetID(), protocol.RPCSendChat, 0, false, func(w *protocol.Writer) {
		w.WriteString("filtered")
	})

	assert.Empty(t, chatLines(t, links[1]))
}

func TestChatCommandPing(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	pcA := r.playerControl(conns[0].ClientID)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[0], pcA.NetID(), protocol.RPCSendChat, 0, false, func(w *protocol.Writer) {
		w.WriteString("/ping")
	})

	lines := chatLines(t, links[0])
	require.Len(t, lines, 1)
	assert.Equal(t, "Your ping is 42 ms", lines[0])
	assert.Empty(t, chatLines(t, links[1]), "command replies are private")
}

func TestChatCommandSetHost(t *testing.T) {
	_, r, conns, _ := lobbyWithPlayers(t, 2)
	pcA := r.playerControl(conns[0].ClientID)

	sendRPC(r, conns[0], pcA.NetID(), protocol.RPCSendChat, 0, false, func(w *protocol.Writer) {
		w.WriteString("/sethost Bob")
	})

	assert.Contains(t, r.actingHosts, conns[1].ClientID)
}

func TestChatCommandFromNonHostRefused(t *testing.T) {
	_, r, conns, links := lobbyWithPlayers(t, 2)
	pcB := r.playerControl(conns[1].ClientID)
	for _, l := range links {
		l.reset()
	}

	sendRPC(r, conns[1], pcB.NetID(), protocol.RPCSendChat, 0, false, func(w *protocol.Writer) {
		w.WriteString("/destroy")
	})

	assert.NotEqual(t, RoomDestroyed, r.state)
	lines := chatLines(t, links[1])
	require.Len(t, lines, 1)
	assert.Equal(t, "Only the host can destroy the room", lines[0])
}

func TestMurderUpdatesRoster(t *testing.T) {
	_, r, conns, _ := lobbyWithPlayers(t, 2)
	gd := r.gameData()
	require.NotNil(t, gd)
	info, ok := gd.Player(r.players[conns[0].ClientID].PlayerID)
	require.True(t, ok)
	info.Impostor = true

	pcA := r.playerControl(conns[0].ClientID)
	pcB := r.playerControl(conns[1].ClientID)

	// Acting hosts hold the murder privilege under server hosting.
	sendRPC(r, conns[0], pcA.NetID(), protocol.RPCMurderPlayer, 0, false, func(w *protocol.Writer) {
		w.WritePackedUint32(pcB.NetID())
	})

	victim, ok := gd.Player(r.players[conns[1].ClientID].PlayerID)
	require.True(t, ok)
	assert.True(t, victim.Dead)
}

func TestMalformedGameDataCountsAgainstSender(t *testing.T) {
	_, r, conns, _ := lobbyWithPlayers(t, 2)

	// Truncated inner message header.
	r.handleGameData(conns[1], []byte{0xFF, 0xFF}, 0, false, true)

	// With no limiter wired the connection survives; the handler just
	// stops parsing.
	assert.Contains(t, r.connections, conns[1].ClientID)
}
