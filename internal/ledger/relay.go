package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SimulatedRelay is the stub relay used when no chain endpoint is
// configured. Every submission succeeds immediately with a simulated
// handle; callers see simulated=true and record it on the attestation row.
type SimulatedRelay struct {
	txs *TxStore
}

// NewSimulatedRelay creates a stub relay tracking state in txs.
func NewSimulatedRelay(txs *TxStore) *SimulatedRelay {
	return &SimulatedRelay{txs: txs}
}

// Submit implements the trust engine's Ledger contract.
func (r *SimulatedRelay) Submit(ctx context.Context, signedPayload []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	handle := "sim-" + uuid.NewString()
	if err := r.txs.MarkSubmitted(handle, TxSimulated, time.Now()); err != nil {
		return "", false, err
	}
	return handle, true, nil
}

// submitTimeout bounds every outbound relay call.
const submitTimeout = 5 * time.Second

// HTTPRelay submits signed payloads to a remote relay endpoint. The
// returned handle is recorded as pending; it moves to confirmed or failed
// only when TxStore.MarkConfirmed or MarkFailed is called, and this relay
// calls neither.
type HTTPRelay struct {
	endpoint string
	client   *http.Client
	txs      *TxStore
}

// NewHTTPRelay creates a relay posting to endpoint.
func NewHTTPRelay(endpoint string, txs *TxStore) *HTTPRelay {
	return &HTTPRelay{
		endpoint: endpoint,
		client:   &http.Client{Timeout: submitTimeout},
		txs:      txs,
	}
}

type submitRequest struct {
	Payload []byte `json:"payload"`
}

type submitResponse struct {
	TxHandle string `json:"tx_handle"`
}

// Submit posts the payload and records the returned handle as pending.
func (r *HTTPRelay) Submit(ctx context.Context, signedPayload []byte) (string, bool, error) {
	body, err := json.Marshal(submitRequest{Payload: signedPayload})
	if err != nil {
		return "", false, fmt.Errorf("ledger: failed to marshal submit request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("ledger: failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("ledger: submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", false, fmt.Errorf("ledger: relay returned status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", false, fmt.Errorf("ledger: failed to decode submit response: %w", err)
	}
	if sr.TxHandle == "" {
		return "", false, fmt.Errorf("ledger: relay returned empty tx handle")
	}

	if err := r.txs.MarkSubmitted(sr.TxHandle, TxPending, time.Now()); err != nil {
		return "", false, err
	}
	return sr.TxHandle, false, nil
}
