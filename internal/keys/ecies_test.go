package keys

import (
	"bytes"
	"testing"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	ks, err := Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	var dek [KeySize]byte
	copy(dek[:], bytes.Repeat([]byte{0x5a}, KeySize))

	wrapped, err := WrapKey(&ks.RecoverySecret.PublicKey, dek)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}

	got, err := UnwrapKey(ks.RecoverySecret, wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if got != dek {
		t.Fatalf("unwrapped key does not match original dek")
	}
}

func TestUnwrapFailsWithWrongKey(t *testing.T) {
	ks, err := Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	var dek [KeySize]byte
	copy(dek[:], bytes.Repeat([]byte{0x01}, KeySize))

	wrapped, err := WrapKey(&ks.RecoverySecret.PublicKey, dek)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}

	// The recall key must not be able to unwrap a blob wrapped to the
	// recovery key — they are independent paths.
	if _, err := UnwrapKey(ks.RecallSecret, wrapped); err == nil {
		t.Fatalf("expected recall key to fail unwrapping a blob wrapped to the recovery key")
	}
}

func TestWrapKeyProducesDistinctEnvelopes(t *testing.T) {
	ks, err := Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	var dek [KeySize]byte
	copy(dek[:], bytes.Repeat([]byte{0x02}, KeySize))

	a, err := WrapKey(&ks.RecoverySecret.PublicKey, dek)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	b, err := WrapKey(&ks.RecoverySecret.PublicKey, dek)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	if bytes.Equal(a.EphemeralPub[:], b.EphemeralPub[:]) {
		t.Fatalf("two WrapKey calls reused the same ephemeral keypair")
	}
}

func TestWrapKeyRecoveryAndRecallAreIndependentPaths(t *testing.T) {
	ks, err := Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	var dek [KeySize]byte
	copy(dek[:], bytes.Repeat([]byte{0x03}, KeySize))

	toRecovery, err := WrapKey(&ks.RecoverySecret.PublicKey, dek)
	if err != nil {
		t.Fatalf("WrapKey(recovery): %v", err)
	}
	toRecall, err := WrapKey(&ks.RecallSecret.PublicKey, dek)
	if err != nil {
		t.Fatalf("WrapKey(recall): %v", err)
	}

	gotFromRecovery, err := UnwrapKey(ks.RecoverySecret, toRecovery)
	if err != nil {
		t.Fatalf("UnwrapKey(recovery): %v", err)
	}
	gotFromRecall, err := UnwrapKey(ks.RecallSecret, toRecall)
	if err != nil {
		t.Fatalf("UnwrapKey(recall): %v", err)
	}
	if gotFromRecovery != dek || gotFromRecall != dek {
		t.Fatalf("both independent unwrap paths must recover the same dek")
	}
}
