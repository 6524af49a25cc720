package server

import (
	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// trackSpawn remembers a prefab's components as one group so late
// joiners can be sent whole spawns.
func (r *Room) trackSpawn(comps []object.Component) {
	if len(comps) == 0 {
		return
	}
	r.spawnGroups = append(r.spawnGroups, comps)
}

// untrackComponent prunes a despawned component from its group; empty
// groups disappear.
func (r *Room) untrackComponent(c object.Component) {
	for gi, group := range r.spawnGroups {
		for ci, gc := range group {
			if gc != c {
				continue
			}
			group = append(group[:ci:ci], group[ci+1:]...)
			if len(group) == 0 {
				r.spawnGroups = append(r.spawnGroups[:gi:gi], r.spawnGroups[gi+1:]...)
			} else {
				r.spawnGroups[gi] = group
			}
			return
		}
	}
}

// queueSpawn appends a Spawn game-data message to the tick's outbound
// stream.
func (r *Room) queueSpawn(comps []object.Component) {
	w := protocol.GetWriter()
	defer w.Put()
	object.AppendSpawn(w, comps)
	r.outbound = append(r.outbound, w.Take())
}

// queueDespawn appends a Despawn game-data message to the outbound
// stream.
func (r *Room) queueDespawn(netID uint32) {
	w := protocol.GetWriter()
	defer w.Put()
	object.AppendDespawn(w, netID)
	r.outbound = append(r.outbound, w.Take())
}

// queueRPC appends a server-authored RPC to the outbound stream.
func (r *Room) queueRPC(netID uint32, tag protocol.RPCTag, body func(*protocol.Writer)) {
	r.outbound = append(r.outbound, rpcMessage(netID, tag, body))
}

// snapshotMessages serializes every live spawn group, plus the current
// roster, for a client entering the scene.
func (r *Room) snapshotMessages() [][]byte {
	msgs := make([][]byte, 0, len(r.spawnGroups))
	for _, group := range r.spawnGroups {
		w := protocol.GetWriter()
		object.AppendSpawn(w, group)
		msgs = append(msgs, w.Take())
		w.Put()
	}
	return msgs
}
