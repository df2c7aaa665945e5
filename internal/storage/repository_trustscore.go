package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/suebtwist/sanctuary-sub000/internal/trust"
)

// TrustScoreRepository caches computed trust scores. It implements
// trust.ScoreStore.
type TrustScoreRepository struct {
	client *Client
}

// NewTrustScoreRepository creates a new trust score repository.
func NewTrustScoreRepository(client *Client) *TrustScoreRepository {
	return &TrustScoreRepository{client: client}
}

// signalsRow is the JSONB shape of the six-field signal breakdown.
type signalsRow struct {
	Age                 float64 `json:"age"`
	BackupConsistency   float64 `json:"backup_consistency"`
	Attestations        float64 `json:"attestations"`
	ModelStability      float64 `json:"model_stability"`
	GenesisCompleteness float64 `json:"genesis_completeness"`
	RecoveryResilience  float64 `json:"recovery_resilience"`
}

// Save upserts the cached score; concurrent recomputes are last-writer-wins
// because the stored value is advisory.
func (r *TrustScoreRepository) Save(ctx context.Context, s *trust.TrustScore) error {
	signals, err := json.Marshal(signalsRow{
		Age:                 s.Signals.Age,
		BackupConsistency:   s.Signals.BackupConsistency,
		Attestations:        s.Signals.Attestations,
		ModelStability:      s.Signals.ModelStability,
		GenesisCompleteness: s.Signals.GenesisCompleteness,
		RecoveryResilience:  s.Signals.RecoveryResilience,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal trust signals: %w", err)
	}

	_, err = r.client.ExecContext(ctx, `
		INSERT INTO trust_scores (agent, score, level, unique_attesters, computed_at, signals)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent) DO UPDATE SET
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			unique_attesters = EXCLUDED.unique_attesters,
			computed_at = EXCLUDED.computed_at,
			signals = EXCLUDED.signals`,
		addrParam(s.Agent), s.Score, s.Level, s.UniqueAttesters, s.ComputedAt, signals)
	if err != nil {
		return fmt.Errorf("failed to save trust score: %w", err)
	}
	return nil
}

// Get reads the cached score for agent.
func (r *TrustScoreRepository) Get(ctx context.Context, agent common.Address) (*trust.TrustScore, error) {
	var (
		s       trust.TrustScore
		address string
		signals []byte
	)
	err := r.client.QueryRowContext(ctx, `
		SELECT agent, score, level, unique_attesters, computed_at, signals
		FROM trust_scores WHERE agent = $1`,
		addrParam(agent)).Scan(&address, &s.Score, &s.Level, &s.UniqueAttesters, &s.ComputedAt, &signals)
	if err == sql.ErrNoRows {
		return nil, ErrTrustScoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust score: %w", err)
	}
	s.Agent = scanAddr(address)

	var row signalsRow
	if err := json.Unmarshal(signals, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trust signals: %w", err)
	}
	s.Signals = trust.Signals{
		Age:                 row.Age,
		BackupConsistency:   row.BackupConsistency,
		Attestations:        row.Attestations,
		ModelStability:      row.ModelStability,
		GenesisCompleteness: row.GenesisCompleteness,
		RecoveryResilience:  row.RecoveryResilience,
	}
	return &s, nil
}
