package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RandomBytes returns n bytes from the operating system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("random size must be positive, got %d", n)
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Fingerprint returns the hex encoded SHA-256 of value. It is a one-way,
// deterministic digest used to store single-use codes without keeping the
// plaintext around.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
