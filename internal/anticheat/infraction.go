// Package anticheat gates inbound RPCs. Every call is checked for
// target existence, ownership, and tag-specific policy before the room
// applies it; violations become infraction records that are buffered
// per room and flushed to the metrics sink in batches.
package anticheat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity ranks an infraction. Critical and High suppress the RPC;
// Medium and Low are observational.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Infraction rule names. Stable strings: they key the metrics sink and
// the per-role exception table.
const (
	NameUnknownRpcInnernetObject = "UnknownRpcInnernetObject"
	NameForbiddenRpcOwnership    = "ForbiddenRpcInnernetObjectOwnership"
	NameForbiddenRpcComponent    = "ForbiddenRpcComponent"
	NameForbiddenRpcHostOnly     = "ForbiddenRpcHostOnly"
	NameForbiddenRpcVent         = "ForbiddenRpcVent"
	NameForbiddenRpcStartCounter = "ForbiddenRpcStartCounter"
	NameInvalidRpcVote           = "InvalidRpcVote"
	NameInvalidRpcCosmetic       = "InvalidRpcCosmetic"
	NameInvalidRpcName           = "InvalidRpcName"
	NameInvalidRpcSnapTo         = "InvalidRpcSnapTo"
	NameMalformedRpc             = "MalformedRpc"
	NameForbiddenSpawn           = "ForbiddenSpawn"
)

// Infraction is one observed rule violation.
type Infraction struct {
	ID         uuid.UUID
	UserID     string
	GameID     string
	Name       string
	Details    string
	Severity   Severity
	PlayerPing time.Duration
	CreatedAt  time.Time
}

// NewInfraction stamps a violation with identity and time.
func NewInfraction(userID, gameID, name, details string, sev Severity, ping time.Duration) Infraction {
	return Infraction{
		ID:         uuid.New(),
		UserID:     userID,
		GameID:     gameID,
		Name:       name,
		Details:    details,
		Severity:   sev,
		PlayerPing: ping,
		CreatedAt:  time.Now(),
	}
}

// FlushThreshold is the buffer size at which a batch is handed back for
// flushing without waiting for game end.
const FlushThreshold = 100

// Buffer accumulates a room's infractions. Owned by the room goroutine,
// not safe for concurrent use.
type Buffer struct {
	items []Infraction
}

// Append stores one infraction. When the buffer crosses FlushThreshold
// it returns the accumulated batch for flushing and starts over;
// otherwise it returns nil.
func (b *Buffer) Append(inf Infraction) []Infraction {
	b.items = append(b.items, inf)
	if len(b.items) > FlushThreshold {
		return b.Drain()
	}
	return nil
}

// Drain returns everything buffered and resets.
func (b *Buffer) Drain() []Infraction {
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = nil
	return out
}

// Len reports the number of buffered infractions.
func (b *Buffer) Len() int {
	return len(b.items)
}
