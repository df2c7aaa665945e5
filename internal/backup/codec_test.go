package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testDEK(b byte) [keys.KeySize]byte {
	var dek [keys.KeySize]byte
	copy(dek[:], bytes.Repeat([]byte{b}, keys.KeySize))
	return dek
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ks, err := keys.Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	dek := testDEK(0x01)

	h := &Header{
		Version:      1,
		Agent:        ks.Address.Hex(),
		BackupID:     "backup-1",
		Seq:          1,
		Timestamp:    1700000000,
		ManifestHash: "0xdeadbeef",
	}
	aad := AADFields{BackupID: h.BackupID, Timestamp: h.Timestamp, Agent: h.Agent, ManifestHash: h.ManifestHash}
	files := []File{{Name: "soul.md", Data: []byte("# I am.")}}

	filesMap := map[string][]byte{"soul.md": []byte("# I am.")}
	if err := Sign(h, filesMap, ks.AgentSecret); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	blob, err := Encode(h, files, dek, aad)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	gotHeader, blobs, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotHeader.BackupID != h.BackupID {
		t.Fatalf("backup id mismatch")
	}

	ok, err := VerifySignature(gotHeader, filesMap, ks.Address)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatalf("signature did not recover the agent address")
	}

	plain, err := DecryptFile(blobs["soul.md"], dek, "soul.md", aad)
	if err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	if string(plain) != "# I am." {
		t.Fatalf("decrypted content mismatch: got %q", plain)
	}
}

func TestSnapshotMetaExcludedFromSignature(t *testing.T) {
	ks, err := keys.Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	h := &Header{Agent: ks.Address.Hex(), BackupID: "b2", Seq: 1, Timestamp: 1, ManifestHash: "0x01"}
	filesMap := map[string][]byte{"a.txt": []byte("x")}
	if err := Sign(h, filesMap, ks.AgentSecret); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Attach snapshotMeta after signing; the signature excludes it, so a
	// header whose meta was attached after signing still verifies.
	h.SnapshotMeta = []byte(`{"genesis":true}`)

	ok, err := VerifySignature(h, filesMap, ks.Address)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatalf("signature must still verify after snapshotMeta is attached post-signing")
	}
}

func TestVerifySignatureFailsOnFileSubstitution(t *testing.T) {
	ks, err := keys.Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	h := &Header{Agent: ks.Address.Hex(), BackupID: "b3", Seq: 1, Timestamp: 1, ManifestHash: "0x01"}
	filesMap := map[string][]byte{"a.txt": []byte("original")}
	if err := Sign(h, filesMap, ks.AgentSecret); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := map[string][]byte{"a.txt": []byte("substituted")}
	ok, err := VerifySignature(h, tampered, ks.Address)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if ok {
		t.Fatalf("signature verified over substituted file contents, should not happen")
	}
}

func TestDecryptFileFailsOnCrossBackupAADReuse(t *testing.T) {
	dek := testDEK(0x03)
	aadA := AADFields{BackupID: "backup-A", Timestamp: 1, Agent: "0xagent", ManifestHash: "0xhash"}
	aadB := AADFields{BackupID: "backup-B", Timestamp: 1, Agent: "0xagent", ManifestHash: "0xhash"}

	files := []File{{Name: "soul.md", Data: []byte("secret")}}
	h := &Header{BackupID: "backup-A"}
	blob, err := Encode(h, files, dek, aadA)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, blobs, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if _, err := DecryptFile(blobs["soul.md"], dek, "soul.md", aadB); err == nil {
		t.Fatalf("expected decryption to fail when AAD backupId is reused across backups")
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	if _, _, err := Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected ErrBackupCorrupted on truncated stream")
	}
}

func TestDecodeRejectsOverLengthHeaderField(t *testing.T) {
	var buf bytes.Buffer
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], 0xFFFFFFFF)
	buf.Write(lenBytes[:])
	buf.Write([]byte("short"))

	if _, _, err := Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected ErrBackupCorrupted when headerLen exceeds remaining buffer")
	}
}

func TestDecodeRejectsFileCountAboveSanityCap(t *testing.T) {
	h := &Header{}
	headerJSON, _ := json.Marshal(h)

	var buf bytes.Buffer
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(headerJSON)))
	buf.Write(l[:])
	buf.Write(headerJSON)
	binary.LittleEndian.PutUint32(l[:], 10001)
	buf.Write(l[:])

	if _, _, err := Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected ErrBackupCorrupted when file count exceeds the 10,000 sanity cap")
	}
}

func TestEncodeRejectsOverLimitFileSlice(t *testing.T) {
	files := make([]File, maxFileCount+1)
	for i := range files {
		files[i] = File{Name: "f", Data: []byte("x")}
	}
	h := &Header{}
	if _, err := Encode(h, files, testDEK(0x04), AADFields{}); err == nil {
		t.Fatalf("expected Encode to reject more than the sanity-capped file count")
	}
}
