package trust

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
)

// RecomputeAll runs a full trust-score pass over every registered agent:
// the attestation-propagation signal needs the whole graph at once, so the
// other five signals are computed in the same sweep rather than
// per-agent. Recomputation is
// eventually-consistent and advisory; a failure anywhere in the pass is
// returned so the caller (the scheduler) can log and retry on its next
// tick, never surfaced to an upload caller.
func (e *Engine) RecomputeAll(ctx context.Context) error {
	agentFacts, err := e.facts.ListAgents(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "trust_list_agents_failed", "failed to list agents for trust recompute", err)
	}

	now := time.Now()

	type perAgent struct {
		facts   AgentFacts
		snaps   []SnapshotRecord
		total   int
		recent  int
	}
	byAddr := make(map[string]*perAgent, len(agentFacts))
	order := make([]common.Address, 0, len(agentFacts))

	for _, af := range agentFacts {
		snaps, err := e.facts.SnapshotsFor(ctx, af.Address)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "trust_snapshots_failed", "failed to load snapshots for trust recompute", err)
		}
		total, recent, err := e.facts.ResurrectionCounts(ctx, af.Address)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "trust_resurrections_failed", "failed to load resurrection counts for trust recompute", err)
		}
		byAddr[af.Address.Hex()] = &perAgent{facts: af, snaps: snaps, total: total, recent: recent}
		order = append(order, af.Address)
	}

	edges, err := e.attestations.AllEdges(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "trust_edges_failed", "failed to load attestation graph for trust recompute", err)
	}

	seeds := make(map[common.Address]float64, len(order))
	ages := make(map[common.Address]float64, len(order))
	for _, addr := range order {
		pa := byAddr[addr.Hex()]
		age := ageSignal(pa.facts.RegisteredAt, now)
		ages[addr] = age
		seeds[addr] = seedScore(age, len(pa.snaps))
	}
	propagated := propagate(order, seeds, edges)

	for _, addr := range order {
		pa := byAddr[addr.Hex()]

		attCount, err := e.attestations.CountAttestationsAbout(ctx, addr)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "trust_attestation_count_failed", "failed to count attestations for trust recompute", err)
		}
		uniqueAttesters, err := e.attestations.CountUniqueAttestersAbout(ctx, addr)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "trust_unique_attesters_failed", "failed to count unique attesters for trust recompute", err)
		}

		sig := Signals{
			Age:                 ages[addr],
			BackupConsistency:   backupConsistencySignal(pa.facts.RegisteredAt, now, pa.snaps),
			Attestations:        attestationSignal(propagated[addr]),
			ModelStability:      modelStabilitySignal(pa.snaps),
			GenesisCompleteness: genesisCompletenessSignal(pa.facts.HasGenesisDeclaration, len(pa.snaps) > 0, attCount > 0),
			RecoveryResilience:  recoveryResilienceSignal(pa.total, pa.recent),
		}
		raw := sig.Raw()

		score := &TrustScore{
			Agent:           addr,
			Score:           raw,
			Level:           Level(raw),
			UniqueAttesters: uniqueAttesters,
			ComputedAt:      now,
			Signals:         sig,
		}
		if err := e.scores.Save(ctx, score); err != nil {
			return apperr.Wrap(apperr.Internal, "trust_save_failed", "failed to cache trust score", err)
		}
	}
	return nil
}
