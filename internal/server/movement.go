package server

import (
	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

const (
	// movingThreshold is the velocity magnitude, in player units, below
	// which a transform delta does not count against the update rate.
	movingThreshold = 0.5
	// visionRange is the Euclidean distance past which movement is
	// invisible to a recipient.
	visionRange = 7.0
)

// forwardMovement fans a transform delta out unreliably, with the
// configured thinning: every Nth packet while the sender keeps moving,
// recipients within vision range only, and no ghost movement shown to
// the living.
func (r *Room) forwardMovement(sender *Connection, nt *object.NetworkTransform, raw []byte) {
	opts := r.worker.cfg.Rooms.Optimizations.Movement

	if opts.UpdateRate > 1 && nt.Velocity.Magnitude() > movingThreshold {
		r.movementCounters[sender.ClientID]++
		if r.movementCounters[sender.ClientID]%opts.UpdateRate != 0 {
			return
		}
	}

	senderDead := r.playerDead(sender.ClientID)

	var shared []byte
	if opts.ReuseBuffer {
		shared = gameDataMessage(r.code, [][]byte{raw})
	}
	for _, c := range r.connections {
		if c.ClientID == sender.ClientID {
			continue
		}
		if _, waiting := r.waitingForHost[c.ClientID]; waiting {
			continue
		}
		if opts.DeadChecks && senderDead && !r.playerDead(c.ClientID) {
			continue
		}
		if opts.VisionChecks && !r.withinVision(nt.Position, c.ClientID) {
			continue
		}
		msg := shared
		if msg == nil {
			msg = gameDataMessage(r.code, [][]byte{raw})
		}
		_ = c.SendUnreliable(msg)
	}
}

func (r *Room) playerDead(clientID uint32) bool {
	p := r.players[clientID]
	gd := r.gameData()
	if p == nil || gd == nil {
		return false
	}
	info, ok := gd.Player(p.PlayerID)
	return ok && info.Dead
}

// withinVision reports whether the recipient's last known position is
// close enough to see movement at pos. Recipients without a transform
// yet always qualify.
func (r *Room) withinVision(pos protocol.Vector2, clientID uint32) bool {
	comp, ok := r.graph.Find(int32(clientID), object.KindNetworkTransform)
	if !ok {
		return true
	}
	other := comp.(*object.NetworkTransform)
	return pos.Distance(other.Position) <= visionRange
}
