package anticheat

import (
	"fmt"

	"github.com/skeldware/dropship/internal/object"
	"github.com/skeldware/dropship/internal/protocol"
)

// Role is the sender's in-game role, used by the exception table.
type Role int

const (
	RoleCrewmate Role = iota
	RoleImpostor
)

func (r Role) String() string {
	if r == RoleImpostor {
		return "impostor"
	}
	return "crewmate"
}

// Vanilla cosmetic id ranges. Ids past these must come from the user's
// owned-cosmetics inventory.
const (
	MaxVanillaColor uint32 = 11
	MaxVanillaHat   uint32 = 94
	MaxVanillaPet   uint32 = 10
	MaxVanillaSkin  uint32 = 15
)

// hostOnlyTags may only be sent by the authoritative host. With the
// server as host, acting hosts keep the privilege; everyone else is
// cheating.
var hostOnlyTags = map[protocol.RPCTag]struct{}{
	protocol.RPCClose:          {},
	protocol.RPCExiled:         {},
	protocol.RPCMurderPlayer:   {},
	protocol.RPCSetInfected:    {},
	protocol.RPCSetTasks:       {},
	protocol.RPCStartMeeting:   {},
	protocol.RPCSyncSettings:   {},
	protocol.RPCVotingComplete: {},
	protocol.RPCBootFromVent:   {},
	protocol.RPCClearVote:      {},
	protocol.RPCSetName:        {},
	protocol.RPCSetColor:       {},
}

// rpcComponentKinds maps each tag to the component kind that carries
// it. Tags absent from the table may ride on any component.
var rpcComponentKinds = map[protocol.RPCTag]object.Kind{
	protocol.RPCPlayAnimation:    object.KindPlayerControl,
	protocol.RPCCompleteTask:     object.KindPlayerControl,
	protocol.RPCSyncSettings:     object.KindPlayerControl,
	protocol.RPCSetInfected:      object.KindPlayerControl,
	protocol.RPCExiled:           object.KindPlayerControl,
	protocol.RPCCheckName:        object.KindPlayerControl,
	protocol.RPCSetName:          object.KindPlayerControl,
	protocol.RPCCheckColor:       object.KindPlayerControl,
	protocol.RPCSetColor:         object.KindPlayerControl,
	protocol.RPCSetHat:           object.KindPlayerControl,
	protocol.RPCSetSkin:          object.KindPlayerControl,
	protocol.RPCSetPet:           object.KindPlayerControl,
	protocol.RPCReportDeadBody:   object.KindPlayerControl,
	protocol.RPCMurderPlayer:     object.KindPlayerControl,
	protocol.RPCSendChat:         object.KindPlayerControl,
	protocol.RPCSendChatNote:     object.KindPlayerControl,
	protocol.RPCStartMeeting:     object.KindPlayerControl,
	protocol.RPCSetScanner:       object.KindPlayerControl,
	protocol.RPCSetStartCounter:  object.KindPlayerControl,
	protocol.RPCUsePlatform:      object.KindPlayerControl,
	protocol.RPCEnterVent:        object.KindPlayerPhysics,
	protocol.RPCExitVent:         object.KindPlayerPhysics,
	protocol.RPCClimbLadder:      object.KindPlayerPhysics,
	protocol.RPCBootFromVent:     object.KindPlayerPhysics,
	protocol.RPCSnapTo:           object.KindNetworkTransform,
	protocol.RPCClose:            object.KindMeetingHud,
	protocol.RPCVotingComplete:   object.KindMeetingHud,
	protocol.RPCCastVote:         object.KindMeetingHud,
	protocol.RPCClearVote:        object.KindMeetingHud,
	protocol.RPCAddVote:          object.KindVoteBanSystem,
	protocol.RPCCloseDoorsOfType: object.KindShipStatus,
	protocol.RPCRepairSystem:     object.KindShipStatus,
	protocol.RPCSetTasks:         object.KindGameData,
	protocol.RPCUpdateGameData:   object.KindGameData,
}

// Violation is the gate's verdict on one RPC. Nil means the call is
// clean.
type Violation struct {
	Name     string
	Details  string
	Severity Severity
}

// Suppresses reports whether the room must swallow the RPC instead of
// applying it.
func (v *Violation) Suppresses() bool {
	return v.Severity >= SeverityHigh
}

// RPCContext carries everything the gate needs to judge one call. The
// Payload reader is the gate's own cursor; consuming it does not affect
// the room's copy.
type RPCContext struct {
	SenderID       uint32
	SenderPlayerID uint8
	// AuthName is the authenticated display name, empty when the
	// connection is anonymous.
	AuthName string
	Role     Role
	// ActingHost is true for the classic host and for SaaH acting hosts.
	ActingHost   bool
	ServerAsHost bool
	Map          protocol.MapID

	// Component is the RPC target, nil when the net id resolved to
	// nothing.
	Component object.Component
	Tag       protocol.RPCTag
	NetID     uint32
	Payload   *protocol.Reader

	// HasVoted and PlayerAlive consult meeting and roster state for the
	// vote rules. Nil funcs skip those rules.
	HasVoted    func(playerID uint8) bool
	PlayerAlive func(playerID uint8) (alive, known bool)
	// OwnsCosmetic consults the user's inventory for ids past the
	// vanilla range. Nil means no inventory.
	OwnsCosmetic func(kind string, id uint32) bool
}

// Gate applies the rule table. Safe for use by many rooms at once; the
// exception table is fixed after construction.
type Gate struct {
	exceptions map[Role]map[string]struct{}
}

// NewGate builds a gate with the stock exception table: impostors may
// vent.
func NewGate() *Gate {
	g := &Gate{exceptions: make(map[Role]map[string]struct{})}
	g.AllowFor(RoleImpostor, NameForbiddenRpcVent)
	return g
}

// AllowFor suppresses one infraction name for a role.
func (g *Gate) AllowFor(role Role, name string) {
	if g.exceptions[role] == nil {
		g.exceptions[role] = make(map[string]struct{})
	}
	g.exceptions[role][name] = struct{}{}
}

// Check runs the rule table and returns the first violation, already
// filtered through the role exception table.
func (g *Gate) Check(ctx *RPCContext) *Violation {
	v := g.check(ctx)
	if v == nil {
		return nil
	}
	if _, ok := g.exceptions[ctx.Role][v.Name]; ok {
		return nil
	}
	return v
}

func (g *Gate) check(ctx *RPCContext) *Violation {
	if ctx.Component == nil {
		return &Violation{
			Name:     NameUnknownRpcInnernetObject,
			Details:  fmt.Sprintf("rpc %s on unknown net id %d", ctx.Tag, ctx.NetID),
			Severity: SeverityMedium,
		}
	}

	owner := ctx.Component.Base().OwnerID()
	if owner >= 0 && uint32(owner) != ctx.SenderID {
		return &Violation{
			Name:     NameForbiddenRpcOwnership,
			Details:  fmt.Sprintf("rpc %s on net id %d owned by %d", ctx.Tag, ctx.NetID, owner),
			Severity: SeverityCritical,
		}
	}

	if want, ok := rpcComponentKinds[ctx.Tag]; ok && ctx.Component.Kind() != want {
		return &Violation{
			Name:     NameForbiddenRpcComponent,
			Details:  fmt.Sprintf("rpc %s on %s, belongs on %s", ctx.Tag, ctx.Component.Kind(), want),
			Severity: SeverityCritical,
		}
	}

	if _, hostOnly := hostOnlyTags[ctx.Tag]; hostOnly && ctx.ServerAsHost && !ctx.ActingHost {
		return &Violation{
			Name:     NameForbiddenRpcHostOnly,
			Details:  fmt.Sprintf("host-only rpc %s from client %d", ctx.Tag, ctx.SenderID),
			Severity: SeverityCritical,
		}
	}

	switch ctx.Tag {
	case protocol.RPCEnterVent, protocol.RPCExitVent:
		return &Violation{
			Name:     NameForbiddenRpcVent,
			Details:  fmt.Sprintf("%s from %s", ctx.Tag, ctx.Role),
			Severity: SeverityHigh,
		}
	case protocol.RPCCastVote:
		return g.checkCastVote(ctx)
	case protocol.RPCCheckName:
		return g.checkName(ctx)
	case protocol.RPCCheckColor:
		return g.checkCosmetic(ctx, "color", MaxVanillaColor, true)
	case protocol.RPCSetHat:
		return g.checkCosmetic(ctx, "hat", MaxVanillaHat, false)
	case protocol.RPCSetPet:
		return g.checkCosmetic(ctx, "pet", MaxVanillaPet, false)
	case protocol.RPCSetSkin:
		return g.checkCosmetic(ctx, "skin", MaxVanillaSkin, false)
	case protocol.RPCSnapTo:
		if ctx.Map != protocol.MapAirship {
			return &Violation{
				Name:     NameInvalidRpcSnapTo,
				Details:  fmt.Sprintf("SnapTo on %s", ctx.Map),
				Severity: SeverityCritical,
			}
		}
	case protocol.RPCSetStartCounter:
		if !ctx.ActingHost {
			return &Violation{
				Name:     NameForbiddenRpcStartCounter,
				Details:  fmt.Sprintf("SetStartCounter from client %d", ctx.SenderID),
				Severity: SeverityCritical,
			}
		}
	}
	return nil
}

func (g *Gate) checkCastVote(ctx *RPCContext) *Violation {
	voter, err := ctx.Payload.ReadByte()
	if err != nil {
		return malformedRPC(ctx, err)
	}
	suspect, err := ctx.Payload.ReadByte()
	if err != nil {
		return malformedRPC(ctx, err)
	}
	if voter != ctx.SenderPlayerID {
		return &Violation{
			Name:     NameInvalidRpcVote,
			Details:  fmt.Sprintf("vote as player %d from player %d", voter, ctx.SenderPlayerID),
			Severity: SeverityHigh,
		}
	}
	if ctx.HasVoted != nil && ctx.HasVoted(voter) {
		return &Violation{
			Name:     NameInvalidRpcVote,
			Details:  fmt.Sprintf("player %d voted twice", voter),
			Severity: SeverityHigh,
		}
	}
	if suspect != object.SuspectSkip && ctx.PlayerAlive != nil {
		if alive, known := ctx.PlayerAlive(suspect); !known || !alive {
			return &Violation{
				Name:     NameInvalidRpcVote,
				Details:  fmt.Sprintf("vote for dead or missing player %d", suspect),
				Severity: SeverityHigh,
			}
		}
	}
	return nil
}

func (g *Gate) checkName(ctx *RPCContext) *Violation {
	name, err := ctx.Payload.ReadString()
	if err != nil {
		return malformedRPC(ctx, err)
	}
	if ctx.AuthName != "" && name != ctx.AuthName {
		return &Violation{
			Name:     NameInvalidRpcName,
			Details:  fmt.Sprintf("name %q does not match account %q", name, ctx.AuthName),
			Severity: SeverityCritical,
		}
	}
	return nil
}

// checkCosmetic admits vanilla ids and anything the user's inventory
// covers. CheckColor carries a single byte; the Set* family packs the
// id.
func (g *Gate) checkCosmetic(ctx *RPCContext, kind string, maxVanilla uint32, singleByte bool) *Violation {
	var id uint32
	if singleByte {
		b, err := ctx.Payload.ReadByte()
		if err != nil {
			return malformedRPC(ctx, err)
		}
		id = uint32(b)
	} else {
		v, err := ctx.Payload.ReadPackedUint32()
		if err != nil {
			return malformedRPC(ctx, err)
		}
		id = v
	}
	if id <= maxVanilla {
		return nil
	}
	if ctx.OwnsCosmetic != nil && ctx.OwnsCosmetic(kind, id) {
		return nil
	}
	return &Violation{
		Name:     NameInvalidRpcCosmetic,
		Details:  fmt.Sprintf("%s id %d not in enumeration or inventory", kind, id),
		Severity: SeverityCritical,
	}
}

func malformedRPC(ctx *RPCContext, err error) *Violation {
	return &Violation{
		Name:     NameMalformedRpc,
		Details:  fmt.Sprintf("rpc %s: %v", ctx.Tag, err),
		Severity: SeverityMedium,
	}
}
