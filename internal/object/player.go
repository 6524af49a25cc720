package object

import "github.com/skeldware/dropship/internal/protocol"

// PlayerControl heads the Player prefab. It replicates the in-game slot;
// cosmetics and roles live in GameData's player records.
type PlayerControl struct {
	BaseComponent
	IsNew    bool
	PlayerID uint8
}

func newPlayerControl() Component { return &PlayerControl{IsNew: true} }

func (p *PlayerControl) Kind() Kind { return KindPlayerControl }

func (p *PlayerControl) Serialize(w *protocol.Writer, spawn bool) bool {
	if spawn {
		w.WriteBool(p.IsNew)
	}
	w.WriteByte(p.PlayerID)
	return true
}

func (p *PlayerControl) Deserialize(r *protocol.Reader, spawn bool) error {
	var err error
	if spawn {
		if p.IsNew, err = r.ReadBool(); err != nil {
			return malformed("reading isNew", err)
		}
	}
	if p.PlayerID, err = r.ReadByte(); err != nil {
		return malformed("reading player id", err)
	}
	return nil
}

func (p *PlayerControl) HandleRPC(protocol.RPCTag, *protocol.Reader) error {
	// Cosmetic and role calls mutate GameData records; the room routes
	// them there after the gate clears them.
	return nil
}

// PlayerPhysics replicates no fields; the server only remembers vent
// state so movement checks can tell climbers from walkers.
type PlayerPhysics struct {
	BaseComponent
	InVent bool
	VentID uint32
}

func newPlayerPhysics() Component { return &PlayerPhysics{} }

func (p *PlayerPhysics) Kind() Kind { return KindPlayerPhysics }

func (p *PlayerPhysics) Serialize(*protocol.Writer, bool) bool { return false }

func (p *PlayerPhysics) Deserialize(*protocol.Reader, bool) error { return nil }

func (p *PlayerPhysics) HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error {
	switch tag {
	case protocol.RPCEnterVent:
		id, err := r.ReadPackedUint32()
		if err != nil {
			return malformed("reading vent id", err)
		}
		p.InVent = true
		p.VentID = id
	case protocol.RPCExitVent:
		id, err := r.ReadPackedUint32()
		if err != nil {
			return malformed("reading vent id", err)
		}
		p.InVent = false
		p.VentID = id
	}
	return nil
}

// NetworkTransform replicates quantized position and velocity. The
// sequence counter resolves reordered snapshots: stale ones are parsed
// but never applied.
type NetworkTransform struct {
	BaseComponent
	Seq      uint16
	Position protocol.Vector2
	Velocity protocol.Vector2
}

func newNetworkTransform() Component { return &NetworkTransform{} }

func (t *NetworkTransform) Kind() Kind { return KindNetworkTransform }

func (t *NetworkTransform) Serialize(w *protocol.Writer, spawn bool) bool {
	w.WriteUint16(t.Seq)
	w.WriteVector2(t.Position)
	w.WriteVector2(t.Velocity)
	return true
}

func (t *NetworkTransform) Deserialize(r *protocol.Reader, spawn bool) error {
	seq, err := r.ReadUint16()
	if err != nil {
		return malformed("reading sequence", err)
	}
	pos, err := r.ReadVector2()
	if err != nil {
		return malformed("reading position", err)
	}
	vel, err := r.ReadVector2()
	if err != nil {
		return malformed("reading velocity", err)
	}
	if spawn || SeqGreater(seq, t.Seq) {
		t.Seq, t.Position, t.Velocity = seq, pos, vel
	}
	return nil
}

func (t *NetworkTransform) HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error {
	if tag != protocol.RPCSnapTo {
		return nil
	}
	pos, err := r.ReadVector2()
	if err != nil {
		return malformed("reading snap position", err)
	}
	seq, err := r.ReadUint16()
	if err != nil {
		return malformed("reading snap sequence", err)
	}
	if SeqGreater(seq, t.Seq) {
		t.Seq = seq
		t.Position = pos
		t.Velocity = protocol.Vector2{}
	}
	return nil
}
