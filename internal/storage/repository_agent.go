package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/suebtwist/sanctuary-sub000/internal/registry"
)

// AgentRepository persists agents and their resurrection log. It implements
// registry.Store.
type AgentRepository struct {
	client *Client
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(client *Client) *AgentRepository {
	return &AgentRepository{client: client}
}

// Insert creates a new agent row. The address primary key enforces one-shot
// registration at the database level.
func (r *AgentRepository) Insert(ctx context.Context, a *registry.Agent) error {
	query := `
		INSERT INTO agents (
			address, recovery_pubkey, recall_pubkey, manifest_hash,
			manifest_version, registered_at, status, genesis_declaration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.client.ExecContext(ctx, query,
		addrParam(a.Address), a.RecoveryPubKey, a.RecallPubKey, a.ManifestHash,
		a.ManifestVersion, a.RegisteredAt, string(a.Status), a.GenesisDeclaration,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by address.
func (r *AgentRepository) Get(ctx context.Context, addr common.Address) (*registry.Agent, error) {
	query := `
		SELECT address, recovery_pubkey, recall_pubkey, manifest_hash,
			manifest_version, registered_at, status, genesis_declaration
		FROM agents
		WHERE address = $1`

	var (
		a       registry.Agent
		address string
		status  string
	)
	err := r.client.QueryRowContext(ctx, query, addrParam(addr)).Scan(
		&address, &a.RecoveryPubKey, &a.RecallPubKey, &a.ManifestHash,
		&a.ManifestVersion, &a.RegisteredAt, &status, &a.GenesisDeclaration,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	a.Address = scanAddr(address)
	a.Status = registry.Status(status)
	return &a, nil
}

// Exists reports whether an agent is already registered.
func (r *AgentRepository) Exists(ctx context.Context, addr common.Address) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE address = $1)`,
		addrParam(addr)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check agent existence: %w", err)
	}
	return exists, nil
}

// SetStatus updates the lifecycle status, the only agent field mutated
// after the genesis write.
func (r *AgentRepository) SetStatus(ctx context.Context, addr common.Address, status registry.Status) error {
	res, err := r.client.ExecContext(ctx,
		`UPDATE agents SET status = $1 WHERE address = $2`,
		string(status), addrParam(addr))
	if err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ListLiving returns the addresses of every LIVING agent, for the fallen
// detection sweep.
func (r *AgentRepository) ListLiving(ctx context.Context) ([]common.Address, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT address FROM agents WHERE status = $1`,
		string(registry.StatusLiving))
	if err != nil {
		return nil, fmt.Errorf("failed to list living agents: %w", err)
	}
	defer rows.Close()

	var addrs []common.Address
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan agent address: %w", err)
		}
		addrs = append(addrs, scanAddr(address))
	}
	return addrs, rows.Err()
}

// InsertResurrection appends one FALLEN -> RETURNED transition to the log.
func (r *AgentRepository) InsertResurrection(ctx context.Context, e *registry.ResurrectionEvent) error {
	_, err := r.client.ExecContext(ctx,
		`INSERT INTO resurrection_log (agent, occurred_at, prior_status) VALUES ($1, $2, $3)`,
		addrParam(e.Agent), e.OccurredAt, string(e.PriorStatus))
	if err != nil {
		return fmt.Errorf("failed to insert resurrection event: %w", err)
	}
	return nil
}

// CountResurrectionsSince counts resurrection events for addr at or after
// since. A zero since counts the full history.
func (r *AgentRepository) CountResurrectionsSince(ctx context.Context, addr common.Address, since time.Time) (int, error) {
	var count int
	err := r.client.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resurrection_log WHERE agent = $1 AND occurred_at >= $2`,
		addrParam(addr), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count resurrections: %w", err)
	}
	return count, nil
}
