package server

import (
	"fmt"
	"strings"
)

// Player is a room's record of one in-game participant. Replicated
// cosmetics and role flags live in the GameData component; this struct
// tracks the session-side state the room itself needs.
type Player struct {
	ClientID uint32
	PlayerID uint8
	Name     string
	Ready    bool
	InScene  bool
}

// formatFields renders the configured log-field list for diagnostics.
func (p *Player) formatFields(fields []string, ping string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "id":
			parts = append(parts, fmt.Sprintf("id=%d", p.ClientID))
		case "playerId":
			parts = append(parts, fmt.Sprintf("playerId=%d", p.PlayerID))
		case "name":
			parts = append(parts, "name="+p.Name)
		case "ping":
			parts = append(parts, "ping="+ping)
		}
	}
	return strings.Join(parts, " ")
}
