package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/suebtwist/sanctuary-sub000/internal/authproto"
)

// challengeOpTimeout bounds every challenge operation; the authproto
// interface is context-free because its in-memory test fake has no I/O.
const challengeOpTimeout = 5 * time.Second

// ChallengeRepository persists single-use auth challenges. It implements
// authproto.Store.
type ChallengeRepository struct {
	client *Client
}

// NewChallengeRepository creates a new challenge repository.
func NewChallengeRepository(client *Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

// Insert stores a freshly issued challenge.
func (r *ChallengeRepository) Insert(c *authproto.Challenge) error {
	ctx, cancel := context.WithTimeout(context.Background(), challengeOpTimeout)
	defer cancel()

	_, err := r.client.ExecContext(ctx,
		`INSERT INTO auth_challenges (nonce, agent, expiry, consumed) VALUES ($1, $2, $3, $4)`,
		c.Nonce[:], addrParam(c.Agent), c.Expiry, c.Consumed)
	if err != nil {
		return fmt.Errorf("failed to insert challenge: %w", err)
	}
	return nil
}

// Load retrieves a challenge by nonce.
func (r *ChallengeRepository) Load(nonce [16]byte) (*authproto.Challenge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), challengeOpTimeout)
	defer cancel()

	var (
		c       authproto.Challenge
		rawNonce []byte
		address string
	)
	err := r.client.QueryRowContext(ctx,
		`SELECT nonce, agent, expiry, consumed FROM auth_challenges WHERE nonce = $1`,
		nonce[:]).Scan(&rawNonce, &address, &c.Expiry, &c.Consumed)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	copy(c.Nonce[:], rawNonce)
	c.Agent = scanAddr(address)
	return &c, nil
}

// MarkConsumed flips the consumed flag exactly once: a second call for the
// same nonce finds no unconsumed row and fails, which is what makes the
// challenge single-use even under concurrent verification attempts.
func (r *ChallengeRepository) MarkConsumed(nonce [16]byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), challengeOpTimeout)
	defer cancel()

	res, err := r.client.ExecContext(ctx,
		`UPDATE auth_challenges SET consumed = TRUE WHERE nonce = $1 AND consumed = FALSE`,
		nonce[:])
	if err != nil {
		return fmt.Errorf("failed to mark challenge consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read consumed row count: %w", err)
	}
	if n == 0 {
		return ErrChallengeConsumed
	}
	return nil
}

// DeleteExpired removes challenges whose expiry has passed; idempotent, run
// by the 15-minute scheduler job.
func (r *ChallengeRepository) DeleteExpired(before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), challengeOpTimeout)
	defer cancel()

	res, err := r.client.ExecContext(ctx,
		`DELETE FROM auth_challenges WHERE expiry < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}
	return int(n), nil
}
