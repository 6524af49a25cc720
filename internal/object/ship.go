package object

import "github.com/skeldware/dropship/internal/protocol"

// LobbyBehaviour anchors the pre-game lobby scene. It replicates no
// fields; its presence tells clients to show the lobby.
type LobbyBehaviour struct {
	BaseComponent
}

func newLobbyBehaviour() Component { return &LobbyBehaviour{} }

func (l *LobbyBehaviour) Kind() Kind { return KindLobbyBehaviour }

func (l *LobbyBehaviour) Serialize(*protocol.Writer, bool) bool { return false }

func (l *LobbyBehaviour) Deserialize(*protocol.Reader, bool) error { return nil }

func (l *LobbyBehaviour) HandleRPC(protocol.RPCTag, *protocol.Reader) error { return nil }

// ShipStatus is the map object: doors, sabotage systems, vents. The
// server does not simulate systems; it retains the replicated payload
// verbatim so late joiners receive exactly what the host last sent,
// and tracks door closes for the record.
type ShipStatus struct {
	BaseComponent
	payload     []byte
	DoorsClosed map[uint32]int
}

func newShipStatus() Component {
	return &ShipStatus{DoorsClosed: make(map[uint32]int)}
}

func (s *ShipStatus) Kind() Kind { return KindShipStatus }

func (s *ShipStatus) Serialize(w *protocol.Writer, spawn bool) bool {
	if len(s.payload) == 0 {
		return false
	}
	w.WriteBytes(s.payload)
	return true
}

func (s *ShipStatus) Deserialize(r *protocol.Reader, spawn bool) error {
	raw := r.RemainingBytes()
	s.payload = append(s.payload[:0], raw...)
	return nil
}

func (s *ShipStatus) HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error {
	switch tag {
	case protocol.RPCCloseDoorsOfType:
		system, err := r.ReadPackedUint32()
		if err != nil {
			return malformed("reading door system", err)
		}
		s.DoorsClosed[system]++
	case protocol.RPCRepairSystem:
		// system u8, player netId packed, amount u8: parsed for validity,
		// the authoritative outcome comes back through Deserialize.
		if _, err := r.ReadByte(); err != nil {
			return malformed("reading repaired system", err)
		}
	}
	return nil
}

// MeetingHud exists while a meeting runs. The server tracks who voted
// so the gate can reject double votes; the vote-state bytes themselves
// are retained verbatim like ShipStatus systems.
type MeetingHud struct {
	BaseComponent
	payload []byte
	voted   map[uint8]uint8 // voter playerId -> suspect playerId
}

// SuspectSkip is the suspect value for a skip vote.
const SuspectSkip uint8 = 255

func newMeetingHud() Component {
	return &MeetingHud{voted: make(map[uint8]uint8)}
}

func (m *MeetingHud) Kind() Kind { return KindMeetingHud }

// HasVoted reports whether the slot already cast a vote this meeting.
func (m *MeetingHud) HasVoted(playerID uint8) bool {
	_, ok := m.voted[playerID]
	return ok
}

// RecordVote stores a cleared vote.
func (m *MeetingHud) RecordVote(voter, suspect uint8) {
	m.voted[voter] = suspect
}

// ClearVote removes a vote, following a host ClearVote RPC.
func (m *MeetingHud) ClearVote(voter uint8) {
	delete(m.voted, voter)
}

func (m *MeetingHud) Serialize(w *protocol.Writer, spawn bool) bool {
	if len(m.payload) == 0 {
		return false
	}
	w.WriteBytes(m.payload)
	return true
}

func (m *MeetingHud) Deserialize(r *protocol.Reader, spawn bool) error {
	raw := r.RemainingBytes()
	m.payload = append(m.payload[:0], raw...)
	return nil
}

func (m *MeetingHud) HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error {
	switch tag {
	case protocol.RPCCastVote:
		voter, err := r.ReadByte()
		if err != nil {
			return malformed("reading voter", err)
		}
		suspect, err := r.ReadByte()
		if err != nil {
			return malformed("reading suspect", err)
		}
		m.RecordVote(voter, suspect)
	case protocol.RPCClearVote:
		// Host-directed: the payload names no slot, the host resends
		// state afterwards. Nothing to track.
	case protocol.RPCClose:
		m.voted = make(map[uint8]uint8)
	}
	return nil
}

// UnknownComponent carries a spawn type the server has no prefab for.
// The payload is opaque and forwarded verbatim, which keeps modded
// clients working without the server understanding their objects.
type UnknownComponent struct {
	BaseComponent
	payload []byte
}

func newUnknownComponent() Component { return &UnknownComponent{} }

func (u *UnknownComponent) Kind() Kind { return KindUnknown }

func (u *UnknownComponent) Serialize(w *protocol.Writer, spawn bool) bool {
	if len(u.payload) == 0 {
		return false
	}
	w.WriteBytes(u.payload)
	return true
}

func (u *UnknownComponent) Deserialize(r *protocol.Reader, spawn bool) error {
	raw := r.RemainingBytes()
	u.payload = append(u.payload[:0], raw...)
	return nil
}

func (u *UnknownComponent) HandleRPC(protocol.RPCTag, *protocol.Reader) error { return nil }
