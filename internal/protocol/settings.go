package protocol

import "fmt"

// TaskBarUpdates controls when clients refresh the task bar.
type TaskBarUpdates byte

const (
	TaskBarAlways TaskBarUpdates = iota
	TaskBarMeetings
	TaskBarNever
)

// KillDistance presets.
type KillDistance byte

const (
	KillDistanceShort KillDistance = iota
	KillDistanceMedium
	KillDistanceLong
)

// GameSettings is the lobby ruleset, synced by the host and echoed to
// every client. The wire layout is versioned: each version appends
// fields after the previous version's.
//
//	v1: base fields below through IsDefaults
//	v2: ConfirmEjects, VisualTasks
//	v3: EmergencyCooldown
//	v4: AnonymousVotes, TaskBarUpdates
type GameSettings struct {
	Version byte

	MaxPlayers       byte
	Keywords         Language
	Map              MapID
	PlayerSpeedMod   float32
	CrewLightMod     float32
	ImpostorLightMod float32
	KillCooldown     float32
	NumCommonTasks   byte
	NumLongTasks     byte
	NumShortTasks    byte
	NumEmergencies   int32
	NumImpostors     byte
	KillDistance     KillDistance
	DiscussionTime   int32
	VotingTime       int32
	IsDefaults       bool

	// v2
	ConfirmEjects bool
	VisualTasks   bool
	// v3
	EmergencyCooldown byte
	// v4
	AnonymousVotes bool
	TaskBarUpdates TaskBarUpdates
}

// DefaultGameSettings returns the stock public-lobby ruleset.
func DefaultGameSettings() GameSettings {
	return GameSettings{
		Version:           4,
		MaxPlayers:        10,
		Keywords:          LanguageEnglish,
		Map:               MapTheSkeld,
		PlayerSpeedMod:    1.0,
		CrewLightMod:      1.0,
		ImpostorLightMod:  1.5,
		KillCooldown:      45.0,
		NumCommonTasks:    1,
		NumLongTasks:      1,
		NumShortTasks:     2,
		NumEmergencies:    1,
		NumImpostors:      1,
		KillDistance:      KillDistanceMedium,
		DiscussionTime:    15,
		VotingTime:        120,
		IsDefaults:        true,
		ConfirmEjects:     true,
		VisualTasks:       true,
		EmergencyCooldown: 15,
		AnonymousVotes:    false,
		TaskBarUpdates:    TaskBarAlways,
	}
}

// Encode writes the settings block: packed length, version byte, then
// the version's fields.
func (g GameSettings) Encode(w *Writer) {
	body := GetWriter()
	defer body.Put()

	body.WriteByte(g.Version)
	body.WriteByte(g.MaxPlayers)
	body.WriteUint32(uint32(g.Keywords))
	body.WriteByte(byte(g.Map))
	body.WriteFloat32(g.PlayerSpeedMod)
	body.WriteFloat32(g.CrewLightMod)
	body.WriteFloat32(g.ImpostorLightMod)
	body.WriteFloat32(g.KillCooldown)
	body.WriteByte(g.NumCommonTasks)
	body.WriteByte(g.NumLongTasks)
	body.WriteByte(g.NumShortTasks)
	body.WriteInt32(g.NumEmergencies)
	body.WriteByte(g.NumImpostors)
	body.WriteByte(byte(g.KillDistance))
	body.WriteInt32(g.DiscussionTime)
	body.WriteInt32(g.VotingTime)
	body.WriteBool(g.IsDefaults)
	if g.Version >= 2 {
		body.WriteBool(g.ConfirmEjects)
		body.WriteBool(g.VisualTasks)
	}
	if g.Version >= 3 {
		body.WriteByte(g.EmergencyCooldown)
	}
	if g.Version >= 4 {
		body.WriteBool(g.AnonymousVotes)
		body.WriteByte(byte(g.TaskBarUpdates))
	}

	w.WritePackedUint32(uint32(body.Len()))
	w.WriteBytes(body.Bytes())
}

// DecodeGameSettings reads a settings block from r.
func DecodeGameSettings(r *Reader) (GameSettings, error) {
	length, err := r.ReadPackedUint32()
	if err != nil {
		return GameSettings{}, fmt.Errorf("settings length: %w", err)
	}
	raw, err := r.ReadBytes(int(length))
	if err != nil {
		return GameSettings{}, fmt.Errorf("settings body: %w", err)
	}
	br := NewReader(raw)

	var g GameSettings
	if g.Version, err = br.ReadByte(); err != nil {
		return g, err
	}
	if g.Version < 1 || g.Version > 4 {
		return g, fmt.Errorf("settings version %d: %w", g.Version, ErrMalformed)
	}
	if g.MaxPlayers, err = br.ReadByte(); err != nil {
		return g, err
	}
	kw, err := br.ReadUint32()
	if err != nil {
		return g, err
	}
	g.Keywords = Language(kw)
	m, err := br.ReadByte()
	if err != nil {
		return g, err
	}
	g.Map = MapID(m)
	if g.PlayerSpeedMod, err = br.ReadFloat32(); err != nil {
		return g, err
	}
	if g.CrewLightMod, err = br.ReadFloat32(); err != nil {
		return g, err
	}
	if g.ImpostorLightMod, err = br.ReadFloat32(); err != nil {
		return g, err
	}
	if g.KillCooldown, err = br.ReadFloat32(); err != nil {
		return g, err
	}
	if g.NumCommonTasks, err = br.ReadByte(); err != nil {
		return g, err
	}
	if g.NumLongTasks, err = br.ReadByte(); err != nil {
		return g, err
	}
	if g.NumShortTasks, err = br.ReadByte(); err != nil {
		return g, err
	}
	if g.NumEmergencies, err = br.ReadInt32(); err != nil {
		return g, err
	}
	if g.NumImpostors, err = br.ReadByte(); err != nil {
		return g, err
	}
	kd, err := br.ReadByte()
	if err != nil {
		return g, err
	}
	g.KillDistance = KillDistance(kd)
	if g.DiscussionTime, err = br.ReadInt32(); err != nil {
		return g, err
	}
	if g.VotingTime, err = br.ReadInt32(); err != nil {
		return g, err
	}
	if g.IsDefaults, err = br.ReadBool(); err != nil {
		return g, err
	}
	if g.Version >= 2 {
		if g.ConfirmEjects, err = br.ReadBool(); err != nil {
			return g, err
		}
		if g.VisualTasks, err = br.ReadBool(); err != nil {
			return g, err
		}
	}
	if g.Version >= 3 {
		if g.EmergencyCooldown, err = br.ReadByte(); err != nil {
			return g, err
		}
	}
	if g.Version >= 4 {
		if g.AnonymousVotes, err = br.ReadBool(); err != nil {
			return g, err
		}
		tb, err := br.ReadByte()
		if err != nil {
			return g, err
		}
		g.TaskBarUpdates = TaskBarUpdates(tb)
	}
	return g, nil
}
