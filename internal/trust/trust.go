// Package trust implements attestation recording and the six-signal trust
// score: age, backup consistency, peer attestation
// propagation, model stability, genesis completeness, and recovery
// resilience, bucketed into four discrete levels.
package trust

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Signal weights, the raw-score cap, and the discrete level names.
const (
	WeightAge                 = 0.20
	WeightBackupConsistency   = 0.25
	WeightAttestations        = 0.30
	WeightModelStability      = 0.10
	WeightGenesisCompleteness = 0.05
	WeightRecoveryResilience  = 0.10

	RawScoreCap = 150.0

	LevelUnverified  = "UNVERIFIED"
	LevelVerified    = "VERIFIED"
	LevelEstablished = "ESTABLISHED"
	LevelPillar      = "PILLAR"
)

// Level buckets a raw (post-cap) score into the four discrete levels.
func Level(raw float64) string {
	switch {
	case raw < 20:
		return LevelUnverified
	case raw < 50:
		return LevelVerified
	case raw < 100:
		return LevelEstablished
	default:
		return LevelPillar
	}
}

// Signals is the six-field breakdown carried alongside every computed
// score.
type Signals struct {
	Age                 float64
	BackupConsistency   float64
	Attestations        float64
	ModelStability      float64
	GenesisCompleteness float64
	RecoveryResilience  float64
}

// Raw combines the six signals into the capped raw score: a weighted sum
// of six normalised signals multiplied by the fixed raw-score cap.
func (s Signals) Raw() float64 {
	weighted := s.Age*WeightAge +
		s.BackupConsistency*WeightBackupConsistency +
		s.Attestations*WeightAttestations +
		s.ModelStability*WeightModelStability +
		s.GenesisCompleteness*WeightGenesisCompleteness +
		s.RecoveryResilience*WeightRecoveryResilience
	return weighted * RawScoreCap
}

// TrustScore is the derived, cached score entity.
type TrustScore struct {
	Agent           common.Address
	Score           float64
	Level           string
	UniqueAttesters int
	ComputedAt      time.Time
	Signals         Signals
}

// AgentFacts are the registry-owned facts the trust engine needs per agent,
// expressed as a plain struct so this package never imports internal/registry
// directly.
type AgentFacts struct {
	Address               common.Address
	RegisteredAt          time.Time
	HasGenesisDeclaration bool
}

// SnapshotRecord is the minimal per-snapshot fact the trust engine needs:
// when it landed, its manifest hash (for consistency), and its reported
// model (for stability), if any.
type SnapshotRecord struct {
	Timestamp    time.Time
	ManifestHash string
	Model        string
}

// Facts supplies the registry/snapshot-store facts driving signal
// computation. A storage-backed implementation lives in internal/storage.
type Facts interface {
	ListAgents(ctx context.Context) ([]AgentFacts, error)
	SnapshotsFor(ctx context.Context, agent common.Address) ([]SnapshotRecord, error)
	ResurrectionCounts(ctx context.Context, agent common.Address) (total int, recent30d int, err error)
}

// ScoreStore persists the trust-score cache.
type ScoreStore interface {
	Save(ctx context.Context, score *TrustScore) error
	Get(ctx context.Context, agent common.Address) (*TrustScore, error)
}

// Engine computes and caches trust scores and records attestations.
type Engine struct {
	facts        Facts
	attestations AttestationStore
	scores       ScoreStore
	ledger       Ledger
	cooldown     time.Duration
}

func NewEngine(facts Facts, attestations AttestationStore, scores ScoreStore, ledger Ledger, cooldown time.Duration) *Engine {
	return &Engine{facts: facts, attestations: attestations, scores: scores, ledger: ledger, cooldown: cooldown}
}

// ScoreAndLevel satisfies registry.TrustReader: it reads the cached score,
// defaulting to an unscored UNVERIFIED agent rather than erroring, since the
// cache is advisory and eventually-consistent.
func (e *Engine) ScoreAndLevel(ctx context.Context, agent common.Address) (float64, string, error) {
	cached, err := e.scores.Get(ctx, agent)
	if err != nil || cached == nil {
		return 0, LevelUnverified, nil
	}
	return cached.Score, cached.Level, nil
}

// AttestationCount satisfies registry.TrustReader.
func (e *Engine) AttestationCount(ctx context.Context, agent common.Address) (int, error) {
	return e.attestations.CountAttestationsAbout(ctx, agent)
}
