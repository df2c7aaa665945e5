package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/suebtwist/sanctuary-sub000/internal/snapshotstore"
)

// SnapshotRepository persists snapshot metadata. It implements
// snapshotstore.Store.
type SnapshotRepository struct {
	client *Client
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(client *Client) *SnapshotRepository {
	return &SnapshotRepository{client: client}
}

const snapshotColumns = `id, agent, seq, storage_handle, size_bytes,
	client_timestamp, received_at, manifest_hash, prev_backup_hash, snapshot_meta`

// NextSeqAndInsert allocates max(seq)+1 and inserts the row inside one
// transaction. The (agent, seq) uniqueness constraint together with the
// max+1 read serialises concurrent uploads for the same agent: the loser of
// a race hits the constraint and the transaction rolls back.
func (r *SnapshotRepository) NextSeqAndInsert(ctx context.Context, s *snapshotstore.Snapshot) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots WHERE agent = $1`,
		addrParam(s.Agent)).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}
	s.Seq = next

	var meta interface{}
	if len(s.SnapshotMeta) > 0 {
		meta = []byte(s.SnapshotMeta)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (
			id, agent, seq, storage_handle, size_bytes,
			client_timestamp, received_at, manifest_hash, prev_backup_hash, snapshot_meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, addrParam(s.Agent), s.Seq, s.StorageHandle, s.SizeBytes,
		s.ClientTimestamp, s.ReceivedAt, s.ManifestHash, s.PrevBackupHash, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return tx.Commit()
}

// HasAny reports whether the agent has any snapshot at all, driving the
// genesis-flag coercion.
func (r *SnapshotRepository) HasAny(ctx context.Context, agent common.Address) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM snapshots WHERE agent = $1)`,
		addrParam(agent)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return exists, nil
}

// MostRecentUploadTime returns the server receive time of the agent's most
// recent snapshot, for the daily rate limit.
func (r *SnapshotRepository) MostRecentUploadTime(ctx context.Context, agent common.Address) (time.Time, bool, error) {
	var received time.Time
	err := r.client.QueryRowContext(ctx,
		`SELECT received_at FROM snapshots WHERE agent = $1 ORDER BY seq DESC LIMIT 1`,
		addrParam(agent)).Scan(&received)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read most recent upload time: %w", err)
	}
	return received, true, nil
}

// ListNewestFirst returns snapshots ordered by seq descending. limit<=0
// means unlimited.
func (r *SnapshotRepository) ListNewestFirst(ctx context.Context, agent common.Address, limit int) ([]snapshotstore.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshots WHERE agent = $1 ORDER BY seq DESC`
	args := []interface{}{addrParam(agent)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []snapshotstore.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *s)
	}
	return snaps, rows.Err()
}

// Latest returns the agent's most recent snapshot.
func (r *SnapshotRepository) Latest(ctx context.Context, agent common.Address) (*snapshotstore.Snapshot, error) {
	row := r.client.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+`
		FROM snapshots WHERE agent = $1 ORDER BY seq DESC LIMIT 1`,
		addrParam(agent))
	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(sc rowScanner) (*snapshotstore.Snapshot, error) {
	var (
		s       snapshotstore.Snapshot
		address string
		meta    sql.NullString
	)
	err := sc.Scan(
		&s.ID, &address, &s.Seq, &s.StorageHandle, &s.SizeBytes,
		&s.ClientTimestamp, &s.ReceivedAt, &s.ManifestHash, &s.PrevBackupHash, &meta,
	)
	if err != nil {
		return nil, err
	}
	s.Agent = scanAddr(address)
	if meta.Valid {
		s.SnapshotMeta = []byte(meta.String)
	}
	return &s, nil
}
