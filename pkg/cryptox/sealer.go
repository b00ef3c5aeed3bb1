package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// sealedPrefix tags the format so that a later key or cipher change can be
// told apart from corrupt data.
const sealedPrefix = "v1."

// hkdfInfo binds derived keys to this use so the master key can be shared
// with other subsystems without key reuse.
const hkdfInfo = "twofactor/secret-sealing/v1"

var ErrMalformedSealed = errors.New("cryptox: malformed sealed value")

// Sealer encrypts short secrets for storage with AES-256-GCM.
// Output format: "v1." + base64url([12-byte nonce][ciphertext][16-byte tag]).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte AES key from masterKey with HKDF-SHA256.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// GCM provides authentication, so tampered rows fail to open
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext with a fresh random nonce. aad is authenticated
// but not stored, so Open only succeeds with the same value.
func (s *Sealer) Seal(plaintext, aad string) (string, error) {
	nonce, err := RandomBytes(s.aead.NonceSize())
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(aad))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. A different aad fails like a tampered value.
func (s *Sealer) Open(sealed, aad string) (string, error) {
	body, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrMalformedSealed
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSealed, err)
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize+s.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedSealed)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(aad))
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed format prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
