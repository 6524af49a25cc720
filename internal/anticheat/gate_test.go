package anticheat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// spawnFor builds a graph holding one player prefab owned by ownerID
// and returns its components.
func spawnFor(t *testing.T, g *object.Graph, ownerID int32) []object.Component {
	t.Helper()
	comps, err := g.Spawn(protocol.SpawnPlayer, ownerID, 0)
	require.NoError(t, err)
	return comps
}

func payload(build func(w *protocol.Writer)) *protocol.Reader {
	w := protocol.NewWriter(32)
	if build != nil {
		build(w)
	}
	return protocol.NewReader(w.Take())
}

func TestGateUnknownTarget(t *testing.T) {
	gate := NewGate()
	v := gate.Check(&RPCContext{
		SenderID: 1001,
		Tag:      protocol.RPCSetHat,
		NetID:    99,
		Payload:  payload(nil),
	})
	require.NotNil(t, v)
	assert.Equal(t, NameUnknownRpcInnernetObject, v.Name)
	assert.Equal(t, SeverityMedium, v.Severity)
	assert.False(t, v.Suppresses())
}

func TestGateOwnershipIsCritical(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	comps := spawnFor(t, g, 1001)

	gate := NewGate()
	v := gate.Check(&RPCContext{
		SenderID:  1002,
		Tag:       protocol.RPCPlayAnimation,
		Component: comps[0],
		NetID:     comps[0].Base().NetID(),
		Payload:   payload(nil),
	})
	require.NotNil(t, v)
	assert.Equal(t, NameForbiddenRpcOwnership, v.Name)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.True(t, v.Suppresses())
}

func TestGateRoomOwnedComponentsSkipOwnership(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	comps, err := g.Spawn(protocol.SpawnMeetingHud, object.OwnerRoom, 0)
	require.NoError(t, err)

	gate := NewGate()
	v := gate.Check(&RPCContext{
		SenderID:       1001,
		SenderPlayerID: 0,
		Tag:            protocol.RPCCastVote,
		Component:      comps[0],
		Payload: payload(func(w *protocol.Writer) {
			w.WriteByte(0)
			w.WriteByte(object.SuspectSkip)
		}),
	})
	assert.Nil(t, v)
}

func TestGateComponentClassMismatch(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	comps := spawnFor(t, g, 1001)

	// EnterVent belongs on PlayerPhysics, not PlayerControl.
	gate := NewGate()
	v := gate.Check(&RPCContext{
		SenderID:  1001,
		Role:      RoleImpostor,
		Tag:       protocol.RPCEnterVent,
		Component: comps[0],
		Payload:   payload(func(w *protocol.Writer) { w.WritePackedUint32(0) }),
	})
	require.NotNil(t, v)
	assert.Equal(t, NameForbiddenRpcComponent, v.Name)
	assert.Equal(t, SeverityCritical, v.Severity)
}

func TestGateVentRule(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	physics := spawnFor(t, g, 1002)[1]

	ctx := func(role Role) *RPCContext {
		return &RPCContext{
			SenderID:  1002,
			Role:      role,
			Tag:       protocol.RPCEnterVent,
			Component: physics,
			Payload:   payload(func(w *protocol.Writer) { w.WritePackedUint32(0) }),
		}
	}

	gate := NewGate()
	v := gate.Check(ctx(RoleCrewmate))
	require.NotNil(t, v)
	assert.Equal(t, NameForbiddenRpcVent, v.Name)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.True(t, v.Suppresses())

	assert.Nil(t, gate.Check(ctx(RoleImpostor)), "impostors may vent")
}

func TestGateHostOnlyInServerAsHost(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	control := spawnFor(t, g, 1001)[0]

	ctx := func(acting bool) *RPCContext {
		return &RPCContext{
			SenderID:     1001,
			ServerAsHost: true,
			ActingHost:   acting,
			Tag:          protocol.RPCSyncSettings,
			Component:    control,
			Payload:      payload(nil),
		}
	}

	gate := NewGate()
	v := gate.Check(ctx(false))
	require.NotNil(t, v)
	assert.Equal(t, NameForbiddenRpcHostOnly, v.Name)
	assert.Equal(t, SeverityCritical, v.Severity)

	assert.Nil(t, gate.Check(ctx(true)), "acting hosts keep host privileges")
}

func TestGateCastVoteRules(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	comps, err := g.Spawn(protocol.SpawnMeetingHud, object.OwnerRoom, 0)
	require.NoError(t, err)
	hud := comps[0]

	alive := map[uint8]bool{0: true, 1: true, 2: false}
	voted := map[uint8]bool{}
	base := func(voter, suspect uint8) *RPCContext {
		return &RPCContext{
			SenderID:       1001,
			SenderPlayerID: 0,
			Tag:            protocol.RPCCastVote,
			Component:      hud,
			Payload: payload(func(w *protocol.Writer) {
				w.WriteByte(voter)
				w.WriteByte(suspect)
			}),
			HasVoted: func(id uint8) bool { return voted[id] },
			PlayerAlive: func(id uint8) (bool, bool) {
				a, ok := alive[id]
				return a, ok
			},
		}
	}

	gate := NewGate()

	assert.Nil(t, gate.Check(base(0, 1)), "clean vote")
	assert.Nil(t, gate.Check(base(0, object.SuspectSkip)), "skip is always valid")

	v := gate.Check(base(1, 0))
	require.NotNil(t, v, "voting as another player")
	assert.Equal(t, NameInvalidRpcVote, v.Name)

	v = gate.Check(base(0, 2))
	require.NotNil(t, v, "voting for a dead player")
	assert.Equal(t, SeverityHigh, v.Severity)

	v = gate.Check(base(0, 7))
	require.NotNil(t, v, "voting for a missing player")

	voted[0] = true
	v = gate.Check(base(0, 1))
	require.NotNil(t, v, "double vote")
	assert.Equal(t, NameInvalidRpcVote, v.Name)
}

func TestGateCosmeticRules(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	control := spawnFor(t, g, 1001)[0]

	owned := map[string]uint32{"hat": 200}
	ctx := func(tag protocol.RPCTag, id uint32) *RPCContext {
		return &RPCContext{
			SenderID:  1001,
			Tag:       tag,
			Component: control,
			Payload: payload(func(w *protocol.Writer) {
				if tag == protocol.RPCCheckColor {
					w.WriteByte(byte(id))
				} else {
					w.WritePackedUint32(id)
				}
			}),
			OwnsCosmetic: func(kind string, id uint32) bool { return owned[kind] == id },
		}
	}

	gate := NewGate()

	assert.Nil(t, gate.Check(ctx(protocol.RPCSetHat, 12)), "vanilla hat")
	assert.Nil(t, gate.Check(ctx(protocol.RPCSetHat, 200)), "owned hat")

	v := gate.Check(ctx(protocol.RPCSetHat, 201))
	require.NotNil(t, v, "unowned modded hat")
	assert.Equal(t, NameInvalidRpcCosmetic, v.Name)
	assert.Equal(t, SeverityCritical, v.Severity)

	assert.Nil(t, gate.Check(ctx(protocol.RPCCheckColor, MaxVanillaColor)))
	v = gate.Check(ctx(protocol.RPCCheckColor, MaxVanillaColor+1))
	require.NotNil(t, v, "color past the palette")

	v = gate.Check(ctx(protocol.RPCSetPet, 50))
	require.NotNil(t, v)
	v = gate.Check(ctx(protocol.RPCSetSkin, 50))
	require.NotNil(t, v)
}

func TestGateCheckNameAgainstAccount(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	control := spawnFor(t, g, 1001)[0]

	ctx := func(name, auth string) *RPCContext {
		return &RPCContext{
			SenderID:  1001,
			AuthName:  auth,
			Tag:       protocol.RPCCheckName,
			Component: control,
			Payload:   payload(func(w *protocol.Writer) { w.WriteString(name) }),
		}
	}

	gate := NewGate()
	assert.Nil(t, gate.Check(ctx("Alice", "Alice")))
	assert.Nil(t, gate.Check(ctx("Whoever", "")), "anonymous connections pick any name")

	v := gate.Check(ctx("NotAlice", "Alice"))
	require.NotNil(t, v)
	assert.Equal(t, NameInvalidRpcName, v.Name)
	assert.Equal(t, SeverityCritical, v.Severity)
}

func TestGateSnapToOnlyOnAirship(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	nt := spawnFor(t, g, 1001)[2]

	ctx := func(m protocol.MapID) *RPCContext {
		return &RPCContext{
			SenderID:  1001,
			Map:       m,
			Tag:       protocol.RPCSnapTo,
			Component: nt,
			Payload: payload(func(w *protocol.Writer) {
				w.WriteVector2(protocol.Vector2{X: 1, Y: 1})
				w.WriteUint16(5)
			}),
		}
	}

	gate := NewGate()
	assert.Nil(t, gate.Check(ctx(protocol.MapAirship)))

	v := gate.Check(ctx(protocol.MapTheSkeld))
	require.NotNil(t, v)
	assert.Equal(t, NameInvalidRpcSnapTo, v.Name)
}

func TestGateStartCounterNeedsActingHost(t *testing.T) {
	g := object.NewGraph(object.RejectUnknown())
	control := spawnFor(t, g, 1001)[0]

	gate := NewGate()
	v := gate.Check(&RPCContext{
		SenderID:  1001,
		Tag:       protocol.RPCSetStartCounter,
		Component: control,
		Payload:   payload(func(w *protocol.Writer) { w.WritePackedUint32(1); w.WriteByte(5) }),
	})
	require.NotNil(t, v)
	assert.Equal(t, NameForbiddenRpcStartCounter, v.Name)

	assert.Nil(t, gate.Check(&RPCContext{
		SenderID:   1001,
		ActingHost: true,
		Tag:        protocol.RPCSetStartCounter,
		Component:  control,
		Payload:    payload(func(w *protocol.Writer) { w.WritePackedUint32(1); w.WriteByte(5) }),
	}))
}

func TestBufferThresholdFlush(t *testing.T) {
	var b Buffer
	for i := 0; i < FlushThreshold; i++ {
		batch := b.Append(NewInfraction("u", "g", NameForbiddenRpcVent, "", SeverityHigh, 40*time.Millisecond))
		assert.Nil(t, batch)
	}
	batch := b.Append(NewInfraction("u", "g", NameForbiddenRpcVent, "", SeverityHigh, 0))
	assert.Len(t, batch, FlushThreshold+1)
	assert.Zero(t, b.Len())
	assert.Nil(t, b.Drain(), "empty buffer drains to nil")
}

func TestInfractionStamping(t *testing.T) {
	inf := NewInfraction("user-1", "game-1", NameInvalidRpcVote, "details", SeverityHigh, 80*time.Millisecond)
	assert.NotEqual(t, [16]byte{}, [16]byte(inf.ID))
	assert.WithinDuration(t, time.Now(), inf.CreatedAt, time.Second)
	assert.Equal(t, "high", inf.Severity.String())
}
