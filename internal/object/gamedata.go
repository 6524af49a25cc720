package object

import (
	"sort"

	"github.com/skeldware/dropship/internal/protocol"
)

// TaskState is one assigned task inside a player record.
type TaskState struct {
	ID       uint32
	Complete bool
}

const (
	infoFlagDisconnected byte = 1 << 0
	infoFlagImpostor     byte = 1 << 1
	infoFlagDead         byte = 1 << 2
)

// PlayerInfo is the replicated record GameData keeps per in-game slot.
type PlayerInfo struct {
	PlayerID     uint8
	Name         string
	Color        uint8
	Hat          uint32
	Pet          uint32
	Skin         uint32
	Disconnected bool
	Impostor     bool
	Dead         bool
	Tasks        []TaskState
}

func (pi *PlayerInfo) flags() byte {
	var f byte
	if pi.Disconnected {
		f |= infoFlagDisconnected
	}
	if pi.Impostor {
		f |= infoFlagImpostor
	}
	if pi.Dead {
		f |= infoFlagDead
	}
	return f
}

func (pi *PlayerInfo) setFlags(f byte) {
	pi.Disconnected = f&infoFlagDisconnected != 0
	pi.Impostor = f&infoFlagImpostor != 0
	pi.Dead = f&infoFlagDead != 0
}

func (pi *PlayerInfo) serialize(w *protocol.Writer) {
	w.WriteString(pi.Name)
	w.WriteByte(pi.Color)
	w.WritePackedUint32(pi.Hat)
	w.WritePackedUint32(pi.Pet)
	w.WritePackedUint32(pi.Skin)
	w.WriteByte(pi.flags())
	w.WriteByte(byte(len(pi.Tasks)))
	for _, task := range pi.Tasks {
		w.WritePackedUint32(task.ID)
		w.WriteBool(task.Complete)
	}
}

func (pi *PlayerInfo) deserialize(r *protocol.Reader) error {
	var err error
	if pi.Name, err = r.ReadString(); err != nil {
		return malformed("reading player name", err)
	}
	if pi.Color, err = r.ReadByte(); err != nil {
		return malformed("reading color", err)
	}
	if pi.Hat, err = r.ReadPackedUint32(); err != nil {
		return malformed("reading hat", err)
	}
	if pi.Pet, err = r.ReadPackedUint32(); err != nil {
		return malformed("reading pet", err)
	}
	if pi.Skin, err = r.ReadPackedUint32(); err != nil {
		return malformed("reading skin", err)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return malformed("reading player flags", err)
	}
	pi.setFlags(flags)
	taskCount, err := r.ReadByte()
	if err != nil {
		return malformed("reading task count", err)
	}
	pi.Tasks = make([]TaskState, 0, taskCount)
	for i := byte(0); i < taskCount; i++ {
		var task TaskState
		if task.ID, err = r.ReadPackedUint32(); err != nil {
			return malformed("reading task id", err)
		}
		if task.Complete, err = r.ReadBool(); err != nil {
			return malformed("reading task state", err)
		}
		pi.Tasks = append(pi.Tasks, task)
	}
	return nil
}

// GameData is the room-owned roster of player records. Records are kept
// in ascending slot order so serialization is deterministic; the dirty
// mask carries one bit per slot.
type GameData struct {
	BaseComponent
	players []*PlayerInfo
}

func newGameData() Component { return &GameData{} }

func (gd *GameData) Kind() Kind { return KindGameData }

// Player resolves an in-game slot.
func (gd *GameData) Player(playerID uint8) (*PlayerInfo, bool) {
	for _, pi := range gd.players {
		if pi.PlayerID == playerID {
			return pi, true
		}
	}
	return nil, false
}

// Players returns the roster in slot order.
func (gd *GameData) Players() []*PlayerInfo {
	return gd.players
}

// Upsert inserts or replaces a record and marks its slot dirty.
func (gd *GameData) Upsert(info PlayerInfo) *PlayerInfo {
	if existing, ok := gd.Player(info.PlayerID); ok {
		*existing = info
		gd.MarkDirty(1 << info.PlayerID)
		return existing
	}
	record := &info
	gd.players = append(gd.players, record)
	sort.Slice(gd.players, func(i, j int) bool {
		return gd.players[i].PlayerID < gd.players[j].PlayerID
	})
	gd.MarkDirty(1 << info.PlayerID)
	return record
}

// Remove drops a record without replicating it; despawn of the player
// prefab tells clients the slot is gone.
func (gd *GameData) Remove(playerID uint8) bool {
	for i, pi := range gd.players {
		if pi.PlayerID == playerID {
			gd.players = append(gd.players[:i:i], gd.players[i+1:]...)
			return true
		}
	}
	return false
}

// MarkPlayerDirty queues one slot for the next Data message.
func (gd *GameData) MarkPlayerDirty(playerID uint8) {
	gd.MarkDirty(1 << playerID)
}

func (gd *GameData) Serialize(w *protocol.Writer, spawn bool) bool {
	if spawn {
		w.WritePackedUint32(uint32(len(gd.players)))
		for _, pi := range gd.players {
			w.WriteByte(pi.PlayerID)
			pi.serialize(w)
		}
		return true
	}
	dirty := gd.Dirty()
	wrote := false
	for _, pi := range gd.players {
		if dirty&(1<<pi.PlayerID) == 0 {
			continue
		}
		w.BeginMessage(pi.PlayerID)
		pi.serialize(w)
		w.EndMessage()
		wrote = true
	}
	return wrote
}

func (gd *GameData) Deserialize(r *protocol.Reader, spawn bool) error {
	if spawn {
		count, err := r.ReadPackedUint32()
		if err != nil {
			return malformed("reading roster size", err)
		}
		players := make([]*PlayerInfo, 0, count)
		for i := uint32(0); i < count; i++ {
			pi := &PlayerInfo{}
			if pi.PlayerID, err = r.ReadByte(); err != nil {
				return malformed("reading roster slot", err)
			}
			if err := pi.deserialize(r); err != nil {
				return err
			}
			players = append(players, pi)
		}
		gd.players = players
		return nil
	}
	for r.Remaining() > 0 {
		playerID, body, err := r.ReadMessage()
		if err != nil {
			return malformed("reading roster update", err)
		}
		pi, ok := gd.Player(playerID)
		if !ok {
			pi = &PlayerInfo{PlayerID: playerID}
			gd.players = append(gd.players, pi)
			sort.Slice(gd.players, func(i, j int) bool {
				return gd.players[i].PlayerID < gd.players[j].PlayerID
			})
		}
		if err := pi.deserialize(body); err != nil {
			return err
		}
	}
	return nil
}

func (gd *GameData) HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error {
	switch tag {
	case protocol.RPCSetTasks:
		playerID, err := r.ReadByte()
		if err != nil {
			return malformed("reading tasks slot", err)
		}
		count, err := r.ReadPackedUint32()
		if err != nil {
			return malformed("reading tasks length", err)
		}
		tasks := make([]TaskState, 0, count)
		for i := uint32(0); i < count; i++ {
			id, err := r.ReadByte()
			if err != nil {
				return malformed("reading task type", err)
			}
			tasks = append(tasks, TaskState{ID: uint32(id)})
		}
		if pi, ok := gd.Player(playerID); ok {
			pi.Tasks = tasks
			gd.MarkPlayerDirty(playerID)
		}
	case protocol.RPCUpdateGameData:
		return gd.Deserialize(r, false)
	}
	return nil
}

// VoteBanSystem tallies kick votes per target client. Three votes kick.
type VoteBanSystem struct {
	BaseComponent
	votes map[int32][]int32
}

// VotesToKick is the tally at which clients boot the target.
const VotesToKick = 3

func newVoteBanSystem() Component {
	return &VoteBanSystem{votes: make(map[int32][]int32)}
}

func (v *VoteBanSystem) Kind() Kind { return KindVoteBanSystem }

// AddVote registers one kick vote and reports whether the target reached
// the kick threshold.
func (v *VoteBanSystem) AddVote(voter, target int32) bool {
	voters := v.votes[target]
	for _, existing := range voters {
		if existing == voter {
			return len(voters) >= VotesToKick
		}
	}
	if len(voters) < VotesToKick {
		v.votes[target] = append(voters, voter)
		v.MarkDirty(1)
	}
	return len(v.votes[target]) >= VotesToKick
}

// ClearVotes drops the tally for a target, typically after a kick or the
// target leaving.
func (v *VoteBanSystem) ClearVotes(target int32) {
	if _, ok := v.votes[target]; ok {
		delete(v.votes, target)
		v.MarkDirty(1)
	}
}

func (v *VoteBanSystem) Serialize(w *protocol.Writer, spawn bool) bool {
	targets := make([]int32, 0, len(v.votes))
	for target := range v.votes {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	w.WriteByte(byte(len(targets)))
	for _, target := range targets {
		w.WriteInt32(target)
		voters := v.votes[target]
		for i := 0; i < VotesToKick; i++ {
			if i < len(voters) {
				w.WritePackedInt32(voters[i])
			} else {
				w.WritePackedInt32(0)
			}
		}
	}
	return true
}

func (v *VoteBanSystem) Deserialize(r *protocol.Reader, spawn bool) error {
	count, err := r.ReadByte()
	if err != nil {
		return malformed("reading vote entry count", err)
	}
	votes := make(map[int32][]int32, count)
	for i := byte(0); i < count; i++ {
		target, err := r.ReadInt32()
		if err != nil {
			return malformed("reading vote target", err)
		}
		var voters []int32
		for j := 0; j < VotesToKick; j++ {
			voter, err := r.ReadPackedInt32()
			if err != nil {
				return malformed("reading voter", err)
			}
			if voter != 0 {
				voters = append(voters, voter)
			}
		}
		votes[target] = voters
	}
	v.votes = votes
	return nil
}

func (v *VoteBanSystem) HandleRPC(tag protocol.RPCTag, r *protocol.Reader) error {
	if tag != protocol.RPCAddVote {
		return nil
	}
	voter, err := r.ReadInt32()
	if err != nil {
		return malformed("reading voting client", err)
	}
	target, err := r.ReadInt32()
	if err != nil {
		return malformed("reading vote target", err)
	}
	v.AddVote(voter, target)
	return nil
}
