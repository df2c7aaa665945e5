package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/suebtwist/sanctuary-sub000/internal/trust"
)

// AttestationRepository persists attestations and their hash-addressed
// notes. It implements trust.AttestationStore.
type AttestationRepository struct {
	client *Client
}

// NewAttestationRepository creates a new attestation repository.
func NewAttestationRepository(client *Client) *AttestationRepository {
	return &AttestationRepository{client: client}
}

// Insert creates a new attestation row.
func (r *AttestationRepository) Insert(ctx context.Context, a *trust.Attestation) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO attestations (
			id, from_agent, about_agent, note_hash, tx_handle, simulated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), addrParam(a.From), addrParam(a.About), a.NoteHash[:],
		a.TxHandle, a.Simulated, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

// ExistsWithinCooldown reports whether (from, about) already has an
// attestation created at or after since. The predicate runs against the
// same table the insert targets, so it serves as the predicate-on-read the
// cooldown contract requires.
func (r *AttestationRepository) ExistsWithinCooldown(ctx context.Context, from, about common.Address, since time.Time) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attestations
			WHERE from_agent = $1 AND about_agent = $2 AND created_at >= $3
		)`,
		addrParam(from), addrParam(about), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check attestation cooldown: %w", err)
	}
	return exists, nil
}

// InsertNoteIfAbsent stores note content under its hash; many attestations
// may reference one note.
func (r *AttestationRepository) InsertNoteIfAbsent(ctx context.Context, hash [32]byte, note string) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO attestation_notes (note_hash, note) VALUES ($1, $2)
		ON CONFLICT (note_hash) DO NOTHING`,
		hash[:], note)
	if err != nil {
		return fmt.Errorf("failed to insert attestation note: %w", err)
	}
	return nil
}

// AllEdges returns every distinct (from, about) attestation relationship,
// the graph the propagation pass walks.
func (r *AttestationRepository) AllEdges(ctx context.Context) ([]trust.Edge, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT DISTINCT from_agent, about_agent FROM attestations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attestation edges: %w", err)
	}
	defer rows.Close()

	var edges []trust.Edge
	for rows.Next() {
		var from, about string
		if err := rows.Scan(&from, &about); err != nil {
			return nil, fmt.Errorf("failed to scan attestation edge: %w", err)
		}
		edges = append(edges, trust.Edge{From: scanAddr(from), About: scanAddr(about)})
	}
	return edges, rows.Err()
}

// CountAttestationsAbout counts attestations received by about.
func (r *AttestationRepository) CountAttestationsAbout(ctx context.Context, about common.Address) (int, error) {
	var count int
	err := r.client.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attestations WHERE about_agent = $1`,
		addrParam(about)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attestations: %w", err)
	}
	return count, nil
}

// CountUniqueAttestersAbout counts distinct from-agents attesting about
// about.
func (r *AttestationRepository) CountUniqueAttestersAbout(ctx context.Context, about common.Address) (int, error) {
	var count int
	err := r.client.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT from_agent) FROM attestations WHERE about_agent = $1`,
		addrParam(about)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unique attesters: %w", err)
	}
	return count, nil
}
