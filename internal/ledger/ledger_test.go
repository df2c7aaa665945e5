package ledger

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTxLifecyclePendingToConfirmed(t *testing.T) {
	txs := NewTxStore(NewMemoryKV())
	now := time.Now()

	if err := txs.MarkSubmitted("tx-1", TxPending, now); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	rec, err := txs.LoadTx("tx-1")
	if err != nil {
		t.Fatalf("LoadTx: %v", err)
	}
	if rec.Status != TxPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}

	if err := txs.MarkConfirmed("tx-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkConfirmed: %v", err)
	}
	rec, _ = txs.LoadTx("tx-1")
	if rec.Status != TxConfirmed {
		t.Errorf("status = %s, want confirmed", rec.Status)
	}

	// Terminal states cannot transition again.
	if err := txs.MarkFailed("tx-1", "late failure", now); err == nil {
		t.Error("confirmed tx must not transition to failed")
	}
}

func TestTxLifecyclePendingToFailed(t *testing.T) {
	txs := NewTxStore(NewMemoryKV())
	now := time.Now()

	txs.MarkSubmitted("tx-2", TxPending, now)
	if err := txs.MarkFailed("tx-2", "relay rejected", now); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	rec, _ := txs.LoadTx("tx-2")
	if rec.Status != TxFailed || rec.FailureNote != "relay rejected" {
		t.Errorf("got (%s, %q), want (failed, relay rejected)", rec.Status, rec.FailureNote)
	}
}

func TestLoadUnknownTx(t *testing.T) {
	txs := NewTxStore(NewMemoryKV())
	if _, err := txs.LoadTx("nope"); err != ErrTxNotFound {
		t.Errorf("LoadTx(unknown) = %v, want ErrTxNotFound", err)
	}
}

func TestSimulatedRelay(t *testing.T) {
	txs := NewTxStore(NewMemoryKV())
	relay := NewSimulatedRelay(txs)

	handle, simulated, err := relay.Submit(context.Background(), []byte("signed payload"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !simulated {
		t.Error("simulated relay must report simulated=true")
	}
	if !strings.HasPrefix(handle, "sim-") {
		t.Errorf("handle = %q, want sim- prefix", handle)
	}

	rec, err := txs.LoadTx(handle)
	if err != nil {
		t.Fatalf("LoadTx: %v", err)
	}
	if rec.Status != TxSimulated {
		t.Errorf("status = %s, want simulated", rec.Status)
	}
}
