// Package server is the game-session core: the Worker owns the UDP
// transport and the room registry, Connections bind transport peers to
// protocol identities, and Rooms hold the authoritative replicated
// state for one game each. Every room runs single-writer on its own
// goroutine; the worker routes decoded packets into the owning room.
package server

import (
	"context"
	"log/slog"

	"github.com/skeldware/dropship/internal/anticheat"
)

// Metrics is the persistence collaborator: the game registry and the
// infraction sink. Implemented by the db package; NullMetrics stands in
// when persistence is disabled.
type Metrics interface {
	// OpenGame records a new game session for a room code and returns
	// its id.
	OpenGame(ctx context.Context, roomCode string) (string, error)
	// CloseGame marks a game session ended.
	CloseGame(ctx context.Context, gameID string) error
	// CurrentGameID returns the open session for a room code, "" when
	// none.
	CurrentGameID(ctx context.Context, roomCode string) (string, error)
	// FlushInfractions persists a batch. Must be idempotent on the
	// infraction id.
	FlushInfractions(ctx context.Context, batch []anticheat.Infraction) error
}

// NullMetrics logs infraction batches and registers no games.
type NullMetrics struct{}

func (NullMetrics) OpenGame(context.Context, string) (string, error) { return "", nil }

func (NullMetrics) CloseGame(context.Context, string) error { return nil }

func (NullMetrics) CurrentGameID(context.Context, string) (string, error) { return "", nil }

func (NullMetrics) FlushInfractions(_ context.Context, batch []anticheat.Infraction) error {
	for _, inf := range batch {
		slog.Info("infraction dropped (no sink configured)",
			"user", inf.UserID,
			"name", inf.Name,
			"severity", inf.Severity,
			"details", inf.Details)
	}
	return nil
}
