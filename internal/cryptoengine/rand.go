package cryptoengine

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes returns n cryptographically random bytes, used by cipherfile
// for the per-file IV and for the per-block rand prefix.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}
