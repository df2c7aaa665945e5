package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/suebtwist/sanctuary-sub000/internal/trust"
)

// TrustFacts supplies the registry and snapshot facts the trust engine's
// sweep consumes. It implements trust.Facts with queries shaped for the
// sweep rather than reusing the per-entity repositories: the sweep reads
// every agent, and the model/manifest columns it needs are a projection
// the entity repositories don't expose.
type TrustFacts struct {
	client *Client
}

// NewTrustFacts creates a new trust facts reader.
func NewTrustFacts(client *Client) *TrustFacts {
	return &TrustFacts{client: client}
}

// ListAgents returns the per-agent facts for every registered agent.
func (f *TrustFacts) ListAgents(ctx context.Context) ([]trust.AgentFacts, error) {
	rows, err := f.client.QueryContext(ctx,
		`SELECT address, registered_at, genesis_declaration <> '' FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents for trust facts: %w", err)
	}
	defer rows.Close()

	var facts []trust.AgentFacts
	for rows.Next() {
		var (
			af      trust.AgentFacts
			address string
		)
		if err := rows.Scan(&address, &af.RegisteredAt, &af.HasGenesisDeclaration); err != nil {
			return nil, fmt.Errorf("failed to scan agent facts: %w", err)
		}
		af.Address = scanAddr(address)
		facts = append(facts, af)
	}
	return facts, rows.Err()
}

// SnapshotsFor returns the (received time, manifest hash, reported model)
// projection of the agent's snapshots, oldest first.
func (f *TrustFacts) SnapshotsFor(ctx context.Context, agent common.Address) ([]trust.SnapshotRecord, error) {
	rows, err := f.client.QueryContext(ctx, `
		SELECT received_at, manifest_hash, COALESCE(snapshot_meta->>'model', '')
		FROM snapshots WHERE agent = $1 ORDER BY seq ASC`,
		addrParam(agent))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for trust facts: %w", err)
	}
	defer rows.Close()

	var records []trust.SnapshotRecord
	for rows.Next() {
		var rec trust.SnapshotRecord
		if err := rows.Scan(&rec.Timestamp, &rec.ManifestHash, &rec.Model); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ResurrectionCounts returns the agent's lifetime and trailing-30-day
// resurrection counts in one query.
func (f *TrustFacts) ResurrectionCounts(ctx context.Context, agent common.Address) (int, int, error) {
	var total, recent int
	err := f.client.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE occurred_at >= $2)
		FROM resurrection_log WHERE agent = $1`,
		addrParam(agent), time.Now().Add(-30*24*time.Hour)).Scan(&total, &recent)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count resurrections for trust facts: %w", err)
	}
	return total, recent, nil
}
