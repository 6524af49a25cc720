package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/skeldware/dropship/internal/anticheat"
)

// OpenGame records a fresh game session for a room code and returns its
// id. Any previous open session for the code is closed first; a room
// code only ever has one running game.
func (d *DB) OpenGame(ctx context.Context, roomCode string) (string, error) {
	id := uuid.New()
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning game insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE games SET ended_at = now() WHERE room_code = $1 AND ended_at IS NULL`,
		roomCode,
	); err != nil {
		return "", fmt.Errorf("closing stale games for %s: %w", roomCode, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO games (id, room_code) VALUES ($1, $2)`,
		id, roomCode,
	); err != nil {
		return "", fmt.Errorf("inserting game for %s: %w", roomCode, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing game insert: %w", err)
	}
	return id.String(), nil
}

// CloseGame marks a game session ended.
func (d *DB) CloseGame(ctx context.Context, gameID string) error {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return fmt.Errorf("parsing game id %q: %w", gameID, err)
	}
	_, err = d.pool.Exec(ctx,
		`UPDATE games SET ended_at = now() WHERE id = $1 AND ended_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("closing game %s: %w", gameID, err)
	}
	return nil
}

// CurrentGameID returns the open game session for a room code, or ""
// when none exists.
func (d *DB) CurrentGameID(ctx context.Context, roomCode string) (string, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx,
		`SELECT id FROM games WHERE room_code = $1 AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, roomCode,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("querying current game for %s: %w", roomCode, err)
	}
	return id.String(), nil
}

// FlushInfractions batch-inserts infraction records. Idempotent on the
// infraction id: a retried batch inserts nothing twice.
func (d *DB) FlushInfractions(ctx context.Context, batch []anticheat.Infraction) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, inf := range batch {
		var gameID any
		if id, err := uuid.Parse(inf.GameID); err == nil {
			gameID = id
		}
		b.Queue(
			`INSERT INTO infractions (id, user_id, game_id, name, details, severity, player_ping_ms, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			inf.ID, inf.UserID, gameID, inf.Name, inf.Details,
			inf.Severity.String(), inf.PlayerPing.Milliseconds(), inf.CreatedAt,
		)
	}

	start := time.Now()
	results := d.pool.SendBatch(ctx, b)
	defer results.Close()
	for range batch {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting infraction batch of %d: %w", len(batch), err)
		}
	}
	slog.Debug("infractions flushed", "count", len(batch), "took", time.Since(start))
	return nil
}

// InfractionCount reports how many infractions a user has accumulated.
// Used by the ops API.
func (d *DB) InfractionCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx,
		`SELECT count(*) FROM infractions WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting infractions for %s: %w", userID, err)
	}
	return n, nil
}
