package cipherfile

import (
	"encoding/binary"
	"fmt"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
)

// headerVersion is bumped if the on-disk header shape ever changes.
const headerVersion = 1

// Header carries the per-file random IV used to derive every block's
// effective IV (externalIV ^ fileIV ^ blockNumber). It is present iff the
// volume was created with per-file IVs enabled. The header stores a random
// AEAD nonce alongside the encrypted fileIV -- a volume-wide nonce derived
// only from the volume UUID would be reused across every file sharing a
// data key, which is unsound for GCM; storing the nonce costs a few bytes
// per file and avoids that reuse entirely.
type Header struct {
	FileIV uint64
}

// Length returns the on-disk byte length of an encoded header for the
// given AEAD, so cipherfile can compute block offsets without decoding.
func Length(aead cryptoengine.AEAD) int {
	return 1 + aead.NonceSize() + 8 + aead.Overhead()
}

// Encode encrypts h under aead with a fresh random nonce and returns the
// on-disk header bytes.
func Encode(aead cryptoengine.AEAD, h Header) ([]byte, error) {
	nonce, err := cryptoengine.RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("cipherfile: header nonce: %w", err)
	}

	plain := make([]byte, 8)
	binary.BigEndian.PutUint64(plain, h.FileIV)

	ct, err := aead.Encrypt(nonce, plain)
	if err != nil {
		return nil, fmt.Errorf("cipherfile: encrypt header: %w", err)
	}

	out := make([]byte, 0, Length(aead))
	out = append(out, headerVersion)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Decode reverses Encode.
func Decode(aead cryptoengine.AEAD, buf []byte) (Header, error) {
	want := Length(aead)
	if len(buf) != want {
		return Header{}, fmt.Errorf("cipherfile: header wrong size: got %d want %d", len(buf), want)
	}
	if buf[0] != headerVersion {
		return Header{}, fmt.Errorf("cipherfile: unsupported header version %d", buf[0])
	}
	rest := buf[1:]
	nonce := rest[:aead.NonceSize()]
	ct := rest[aead.NonceSize():]

	plain, err := aead.Decrypt(nonce, ct)
	if err != nil {
		return Header{}, fmt.Errorf("cipherfile: decrypt header: %w", err)
	}
	return Header{FileIV: binary.BigEndian.Uint64(plain)}, nil
}
