package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HeartbeatRepository persists liveness marks. It implements
// registry.HeartbeatReader and registry.HeartbeatStore.
type HeartbeatRepository struct {
	client *Client
}

// NewHeartbeatRepository creates a new heartbeat repository.
func NewHeartbeatRepository(client *Client) *HeartbeatRepository {
	return &HeartbeatRepository{client: client}
}

// Insert records one liveness mark.
func (r *HeartbeatRepository) Insert(ctx context.Context, agent common.Address, at time.Time) error {
	_, err := r.client.ExecContext(ctx,
		`INSERT INTO heartbeats (agent, beat_at) VALUES ($1, $2)`,
		addrParam(agent), at)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat: %w", err)
	}
	return nil
}

// LastHeartbeat returns the agent's most recent heartbeat, if any.
func (r *HeartbeatRepository) LastHeartbeat(ctx context.Context, agent common.Address) (time.Time, bool, error) {
	var at time.Time
	err := r.client.QueryRowContext(ctx,
		`SELECT beat_at FROM heartbeats WHERE agent = $1 ORDER BY beat_at DESC LIMIT 1`,
		addrParam(agent)).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last heartbeat: %w", err)
	}
	return at, true, nil
}

// Prune deletes heartbeats older than cutoff while always keeping the most
// recent row per agent, so fallen detection never loses its only signal.
func (r *HeartbeatRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.client.ExecContext(ctx, `
		DELETE FROM heartbeats h
		WHERE h.beat_at < $1
		  AND h.id <> (
			SELECT id FROM heartbeats
			WHERE agent = h.agent
			ORDER BY beat_at DESC, id DESC
			LIMIT 1
		  )`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune heartbeats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}
	return int(n), nil
}
