package object

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skeldware/dropship/internal/protocol"
)

var (
	// ErrUnknownSpawnType reports a spawn type with no prefab that the
	// unknown-objects policy does not admit.
	ErrUnknownSpawnType = errors.New("object: unknown spawn type")
	// ErrNetIDTaken reports a remote spawn reusing a live net id.
	ErrNetIDTaken = errors.New("object: net id already in graph")
)

// UnknownPolicy decides whether spawn types without a prefab enter the
// graph as opaque components or are rejected.
type UnknownPolicy struct {
	allowAll bool
	ids      map[uint32]struct{}
	names    map[string]struct{}
}

// RejectUnknown admits nothing without a prefab.
func RejectUnknown() UnknownPolicy {
	return UnknownPolicy{}
}

// AllowAllUnknown admits every spawn type.
func AllowAllUnknown() UnknownPolicy {
	return UnknownPolicy{allowAll: true}
}

// AllowUnknownList admits only the listed spawn types, by numeric id or
// by name.
func AllowUnknownList(entries []string) UnknownPolicy {
	p := UnknownPolicy{
		ids:   make(map[uint32]struct{}),
		names: make(map[string]struct{}),
	}
	for _, e := range entries {
		if id, err := strconv.ParseUint(strings.TrimSpace(e), 10, 32); err == nil {
			p.ids[uint32(id)] = struct{}{}
			continue
		}
		p.names[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return p
}

// ParseUnknownPolicy interprets the config value: false, true, "all", or
// a list of spawn type ids and names.
func ParseUnknownPolicy(v any) (UnknownPolicy, error) {
	switch val := v.(type) {
	case nil:
		return RejectUnknown(), nil
	case bool:
		if val {
			return AllowAllUnknown(), nil
		}
		return RejectUnknown(), nil
	case string:
		if strings.EqualFold(val, "all") {
			return AllowAllUnknown(), nil
		}
		return UnknownPolicy{}, fmt.Errorf("unknown objects policy %q: want false, true, \"all\", or a list", val)
	case []any:
		entries := make([]string, 0, len(val))
		for _, item := range val {
			switch iv := item.(type) {
			case string:
				entries = append(entries, iv)
			case int:
				entries = append(entries, strconv.Itoa(iv))
			case float64:
				entries = append(entries, strconv.Itoa(int(iv)))
			default:
				return UnknownPolicy{}, fmt.Errorf("unknown objects policy entry %v: want id or name", item)
			}
		}
		return AllowUnknownList(entries), nil
	default:
		return UnknownPolicy{}, fmt.Errorf("unknown objects policy %T: want false, true, \"all\", or a list", v)
	}
}

func (p UnknownPolicy) allows(st protocol.SpawnType) bool {
	if p.allowAll {
		return true
	}
	if _, ok := p.ids[uint32(st)]; ok {
		return true
	}
	_, ok := p.names[strings.ToLower(st.String())]
	return ok
}

// Graph is a room's registry of networked components. It is owned by the
// room goroutine and is not safe for concurrent use.
type Graph struct {
	objects   []Component
	byNetID   map[uint32]Component
	byOwner   map[int32][]Component
	nextNetID uint32
	policy    UnknownPolicy
}

// NewGraph creates an empty graph with the given unknown-objects policy.
func NewGraph(policy UnknownPolicy) *Graph {
	return &Graph{
		byNetID: make(map[uint32]Component),
		byOwner: make(map[int32][]Component),
		policy:  policy,
	}
}

// NextNetID returns the high-water mark of the allocator.
func (g *Graph) NextNetID() uint32 {
	return g.nextNetID
}

func (g *Graph) allocNetID() uint32 {
	g.nextNetID++
	return g.nextNetID
}

// observeNetID advances the allocator past ids chosen by a remote host so
// later local spawns cannot collide.
func (g *Graph) observeNetID(id uint32) {
	if id > g.nextNetID {
		g.nextNetID = id
	}
}

// Count returns the number of live components.
func (g *Graph) Count() int {
	return len(g.objects)
}

// Get resolves a net id.
func (g *Graph) Get(netID uint32) (Component, bool) {
	c, ok := g.byNetID[netID]
	return c, ok
}

// Owned returns the components owned by a client, in spawn order.
func (g *Graph) Owned(ownerID int32) []Component {
	return g.byOwner[ownerID]
}

// Find returns the first component of the given kind owned by ownerID.
func (g *Graph) Find(ownerID int32, kind Kind) (Component, bool) {
	for _, c := range g.byOwner[ownerID] {
		if c.Kind() == kind {
			return c, true
		}
	}
	return nil, false
}

// FindKind returns the first component of the given kind regardless of
// owner. Room singletons (GameData, LobbyBehaviour, MeetingHud) resolve
// this way.
func (g *Graph) FindKind(kind Kind) (Component, bool) {
	for _, c := range g.objects {
		if c.Kind() == kind {
			return c, true
		}
	}
	return nil, false
}

// Spawn materializes a prefab with server-allocated net ids and indexes
// its components. The caller serializes the result with AppendSpawn.
func (g *Graph) Spawn(spawnType protocol.SpawnType, ownerID int32, flags byte) ([]Component, error) {
	pf, ok := prefabs[spawnType]
	if !ok {
		return nil, fmt.Errorf("spawn type %s: %w", spawnType, ErrUnknownSpawnType)
	}
	comps := make([]Component, 0, len(pf))
	for _, construct := range pf {
		c := construct()
		c.Base().init(g.allocNetID(), ownerID, spawnType, flags)
		g.index(c)
		comps = append(comps, c)
	}
	for _, c := range comps {
		if a, ok := c.(Awaker); ok {
			a.Awake()
		}
	}
	return comps, nil
}

// ApplySpawn decodes a Spawn message body sent by a remote host and
// indexes its components, enforcing the unknown-objects policy.
func (g *Graph) ApplySpawn(r *protocol.Reader) ([]Component, error) {
	rawType, err := r.ReadPackedUint32()
	if err != nil {
		return nil, malformed("reading spawn type", err)
	}
	spawnType := protocol.SpawnType(rawType)
	ownerID, err := r.ReadPackedInt32()
	if err != nil {
		return nil, malformed("reading spawn owner", err)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, malformed("reading spawn flags", err)
	}
	count, err := r.ReadPackedUint32()
	if err != nil {
		return nil, malformed("reading component count", err)
	}

	pf, known := prefabs[spawnType]
	if !known && !g.policy.allows(spawnType) {
		return nil, fmt.Errorf("spawn type %d: %w", rawType, ErrUnknownSpawnType)
	}
	if known && int(count) != len(pf) {
		return nil, fmt.Errorf("spawn type %s declares %d components, prefab has %d: %w",
			spawnType, count, len(pf), protocol.ErrMalformed)
	}

	comps := make([]Component, 0, count)
	for i := uint32(0); i < count; i++ {
		netID, err := r.ReadPackedUint32()
		if err != nil {
			return nil, malformed("reading component net id", err)
		}
		if _, taken := g.byNetID[netID]; taken {
			return nil, fmt.Errorf("net id %d: %w", netID, ErrNetIDTaken)
		}
		_, body, err := r.ReadMessage()
		if err != nil {
			return nil, malformed("reading component body", err)
		}

		var c Component
		if known {
			c = pf[i]()
		} else {
			c = newUnknownComponent()
		}
		c.Base().init(netID, ownerID, spawnType, flags)
		if err := c.Deserialize(body, true); err != nil {
			return nil, fmt.Errorf("deserializing %s component %d: %w", spawnType, i, err)
		}
		g.observeNetID(netID)
		g.index(c)
		comps = append(comps, c)
	}
	for _, c := range comps {
		if a, ok := c.(Awaker); ok {
			a.Awake()
		}
	}
	return comps, nil
}

func (g *Graph) index(c Component) {
	base := c.Base()
	g.objects = append(g.objects, c)
	g.byNetID[base.NetID()] = c
	g.byOwner[base.OwnerID()] = append(g.byOwner[base.OwnerID()], c)
}

// Despawn removes one component from every index.
func (g *Graph) Despawn(netID uint32) (Component, bool) {
	c, ok := g.byNetID[netID]
	if !ok {
		return nil, false
	}
	delete(g.byNetID, netID)
	g.objects = removeComponent(g.objects, c)

	ownerID := c.Base().OwnerID()
	owned := removeComponent(g.byOwner[ownerID], c)
	if len(owned) == 0 {
		delete(g.byOwner, ownerID)
	} else {
		g.byOwner[ownerID] = owned
	}
	return c, true
}

// DespawnOwned removes every component owned by a leaving client and
// returns them so the room can broadcast the despawns.
func (g *Graph) DespawnOwned(ownerID int32) []Component {
	owned := g.byOwner[ownerID]
	if len(owned) == 0 {
		return nil
	}
	removed := make([]Component, len(owned))
	copy(removed, owned)
	for _, c := range removed {
		g.Despawn(c.Base().NetID())
	}
	return removed
}

// ForEachDirty visits components with pending replication state in spawn
// order.
func (g *Graph) ForEachDirty(fn func(Component)) {
	for _, c := range g.objects {
		if c.Base().Dirty() != 0 {
			fn(c)
		}
	}
}

// FixedUpdate runs the per-tick hooks.
func (g *Graph) FixedUpdate(dt time.Duration) {
	for _, c := range g.objects {
		if fu, ok := c.(FixedUpdater); ok {
			fu.FixedUpdate(dt)
		}
	}
}

// DeserializeInto applies a Data message payload to the addressed
// component.
func (g *Graph) DeserializeInto(netID uint32, r *protocol.Reader) error {
	c, ok := g.byNetID[netID]
	if !ok {
		return fmt.Errorf("data for net id %d: no such component", netID)
	}
	return c.Deserialize(r, false)
}

func removeComponent(s []Component, c Component) []Component {
	for i, v := range s {
		if v == c {
			return append(s[:i:i], s[i+1:]...)
		}
	}
	return s
}
