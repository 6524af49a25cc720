// Package object implements a room's replicated object graph: networked
// components grouped into prefabs, spawn/despawn bookkeeping, net-id
// allocation, and the serialize/deserialize dispatch that keeps late
// joiners and running clients in sync.
package object

import (
	"fmt"
	"time"

	"github.com/skeldware/dropship/internal/protocol"
)

// OwnerRoom is the ownerId of components that belong to the room itself
// rather than to a player.
const OwnerRoom int32 = -2

// Kind tags a component implementation. Anti-cheat rules and RPC routing
// key on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlayerControl
	KindPlayerPhysics
	KindNetworkTransform
	KindLobbyBehaviour
	KindGameData
	KindVoteBanSystem
	KindMeetingHud
	KindShipStatus
)

func (k Kind) String() string {
	switch k {
	case KindPlayerControl:
		return "PlayerControl"
	case KindPlayerPhysics:
		return "PlayerPhysics"
	case KindNetworkTransform:
		return "CustomNetworkTransform"
	case KindLobbyBehaviour:
		return "LobbyBehaviour"
	case KindGameData:
		return "GameData"
	case KindVoteBanSystem:
		return "VoteBanSystem"
	case KindMeetingHud:
		return "MeetingHud"
	case KindShipStatus:
		return "ShipStatus"
	default:
		return "Unknown"
	}
}

// BaseComponent carries the identity every networked component shares.
// The graph fills it in at spawn time.
type BaseComponent struct {
	netID     uint32
	ownerID   int32
	spawnType protocol.SpawnType
	flags     byte
	dirty     uint32
}

func (b *BaseComponent) init(netID uint32, ownerID int32, spawnType protocol.SpawnType, flags byte) {
	b.netID = netID
	b.ownerID = ownerID
	b.spawnType = spawnType
	b.flags = flags
}

// Base exposes the shared state to code holding the interface. Promoted
// through embedding, so component types do not implement it themselves.
func (b *BaseComponent) Base() *BaseComponent { return b }

// NetID returns the room-unique object id.
func (b *BaseComponent) NetID() uint32 { return b.netID }

// OwnerID returns the owning clientId, or OwnerRoom.
func (b *BaseComponent) OwnerID() int32 { return b.ownerID }

// SpawnType returns the prefab this component was spawned from.
func (b *BaseComponent) SpawnType() protocol.SpawnType { return b.spawnType }

// SpawnFlags returns the flags byte carried by the spawn message.
func (b *BaseComponent) SpawnFlags() byte { return b.flags }

// Dirty returns the pending per-field replication mask.
func (b *BaseComponent) Dirty() uint32 { return b.dirty }

// MarkDirty queues the masked fields for the next tick's Data message.
func (b *BaseComponent) MarkDirty(mask uint32) { b.dirty |= mask }

// ClearDirty resets the mask once the state has been serialized.
func (b *BaseComponent) ClearDirty() { b.dirty = 0 }

// Component is one networked object in the graph.
type Component interface {
	// Base exposes the shared identity and dirty mask.
	Base() *BaseComponent
	Kind() Kind
	// Serialize writes component state: the full spawn layout when spawn
	// is true, otherwise only the dirty subset. Reports whether anything
	// was written.
	Serialize(w *protocol.Writer, spawn bool) bool
	// Deserialize applies remote state in the matching layout.
	Deserialize(r *protocol.Reader, spawn bool) error
	// HandleRPC applies state-bearing calls the server must track. Tags
	// a component does not track are ignored and forwarded as-is.
	HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error
}

// Optional component hooks, checked by the graph via type assertion.
type (
	// Awaker runs once right after the component is indexed.
	Awaker interface{ Awake() }
	// FixedUpdater runs every room tick.
	FixedUpdater interface{ FixedUpdate(dt time.Duration) }
	// PreSerializer runs right before a dirty serialize.
	PreSerializer interface{ PreSerialize() }
)

// SeqGreater reports whether sequence a supersedes b under u16 wrapping,
// the same serial arithmetic reliable nonces use.
func SeqGreater(a, b uint16) bool {
	return a != b && a-b < 0x8000
}

// AppendSpawn writes a complete Spawn game-data message for components
// created together by Graph.Spawn.
func AppendSpawn(w *protocol.Writer, comps []Component) {
	if len(comps) == 0 {
		return
	}
	base := comps[0].Base()
	w.BeginMessage(byte(protocol.GameDataSpawn))
	w.WritePackedUint32(uint32(base.SpawnType()))
	w.WritePackedInt32(base.OwnerID())
	w.WriteByte(base.SpawnFlags())
	w.WritePackedUint32(uint32(len(comps)))
	for _, c := range comps {
		w.WritePackedUint32(c.Base().NetID())
		w.BeginMessage(componentMessageTag)
		c.Serialize(w, true)
		w.EndMessage()
	}
	w.EndMessage()
}

// AppendDespawn writes a Despawn game-data message.
func AppendDespawn(w *protocol.Writer, netID uint32) {
	w.BeginMessage(byte(protocol.GameDataDespawn))
	w.WritePackedUint32(netID)
	w.EndMessage()
}

// AppendData writes a Data game-data message for a dirty component and
// clears its mask. Reports whether a message was written; a component
// that turned out to have nothing to say is rolled back cleanly.
func AppendData(w *protocol.Writer, c Component) bool {
	if c.Base().Dirty() == 0 {
		return false
	}
	if ps, ok := c.(PreSerializer); ok {
		ps.PreSerialize()
	}
	mark := w.Len()
	w.BeginMessage(byte(protocol.GameDataData))
	w.WritePackedUint32(c.Base().NetID())
	if !c.Serialize(w, false) {
		w.Truncate(mark)
		c.Base().ClearDirty()
		return false
	}
	w.EndMessage()
	c.Base().ClearDirty()
	return true
}

// componentMessageTag frames each component payload inside a Spawn
// message. The value is fixed by the client.
const componentMessageTag byte = 1

func malformed(what string, err error) error {
	return fmt.Errorf("%s: %w", what, err)
}
