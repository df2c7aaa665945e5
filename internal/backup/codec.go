package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

// File is one plaintext file to be sealed into a backup.
type File struct {
	Name string
	Data []byte
}

// AADFields are the values bound into every per-file AEAD, in fixed
// order: tag || backupId || timestamp || agent || manifestHash ||
// fileName. Substituting a file across backups or agents changes the AAD
// and fails the tag check.
type AADFields struct {
	BackupID     string
	Timestamp    int64
	Agent        string
	ManifestHash string
}

func (f AADFields) bytesFor(fileName string) []byte {
	var buf bytes.Buffer
	buf.WriteString(HeaderTag)
	buf.WriteString(f.BackupID)
	fmt.Fprintf(&buf, "%d", f.Timestamp)
	buf.WriteString(f.Agent)
	buf.WriteString(f.ManifestHash)
	buf.WriteString(fileName)
	return buf.Bytes()
}

// Encode seals files under per-file keys derived from dek and writes the
// full self-describing byte stream: [headerLen][headerJSON][fileCount]
// followed by [nameLen][name][dataLen][nonce||ciphertext||tag] per file.
func Encode(h *Header, files []File, dek [keys.KeySize]byte, aad AADFields) ([]byte, error) {
	if len(files) > maxFileCount {
		return nil, fmt.Errorf("backup: %d files exceeds sanity cap of %d", len(files), maxFileCount)
	}

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	writeU32(&out, uint32(len(headerJSON)))
	out.Write(headerJSON)
	writeU32(&out, uint32(len(files)))

	for _, f := range files {
		fileKey, err := keys.PerFileKey(dek, f.Name)
		if err != nil {
			return nil, err
		}
		sealed, err := keys.Seal(fileKey, f.Data, aad.bytesFor(f.Name))
		if err != nil {
			return nil, err
		}

		nameBytes := []byte(f.Name)
		writeU32(&out, uint32(len(nameBytes)))
		out.Write(nameBytes)
		writeU32(&out, uint32(len(sealed)))
		out.Write(sealed)
	}

	return out.Bytes(), nil
}

// Decode parses a byte stream produced by Encode, returning the header and
// the raw (still-encrypted) per-file blobs keyed by file name. It performs
// no decryption; use DecryptFile for that, selectively.
func Decode(data []byte) (*Header, map[string][]byte, error) {
	r := &reader{buf: data}

	headerLen, err := r.readU32()
	if err != nil {
		return nil, nil, err
	}
	headerJSON, err := r.readN(int(headerLen))
	if err != nil {
		return nil, nil, err
	}

	var h Header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid header json: %v", ErrBackupCorrupted, err)
	}

	fileCount, err := r.readU32()
	if err != nil {
		return nil, nil, err
	}
	if fileCount > maxFileCount {
		return nil, nil, fmt.Errorf("%w: file count %d exceeds sanity cap", ErrBackupCorrupted, fileCount)
	}

	blobs := make(map[string][]byte, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		nameLen, err := r.readU32()
		if err != nil {
			return nil, nil, err
		}
		name, err := r.readN(int(nameLen))
		if err != nil {
			return nil, nil, err
		}
		dataLen, err := r.readU32()
		if err != nil {
			return nil, nil, err
		}
		blob, err := r.readN(int(dataLen))
		if err != nil {
			return nil, nil, err
		}
		blobs[string(name)] = blob
	}

	if !r.atEnd() {
		return nil, nil, fmt.Errorf("%w: trailing bytes after last file", ErrBackupCorrupted)
	}

	return &h, blobs, nil
}

// DecryptFile decrypts exactly one file's blob from a decoded backup,
// without touching any other file.
func DecryptFile(blob []byte, dek [keys.KeySize]byte, fileName string, aad AADFields) ([]byte, error) {
	fileKey, err := keys.PerFileKey(dek, fileName)
	if err != nil {
		return nil, err
	}
	plain, err := keys.Open(fileKey, blob, aad.bytesFor(fileName))
	if err != nil {
		return nil, fmt.Errorf("%w: file %q failed to decrypt: %v", ErrBackupCorrupted, fileName, err)
	}
	return plain, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// reader is a bounds-checked cursor over a backup byte stream. Every read
// validates its length against the bytes actually remaining before
// allocating or slicing, so a malicious length field can never force an
// over-large allocation or a read past the end of buf.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) readU32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated length field", ErrBackupCorrupted)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: length field %d exceeds remaining %d bytes", ErrBackupCorrupted, n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) atEnd() bool {
	return r.pos == len(r.buf)
}
