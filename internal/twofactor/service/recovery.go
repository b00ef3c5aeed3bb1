package service

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/aussiebroadwan/twofactor/pkg/cryptox"
)

const (
	DefaultRecoveryCodes = 8
	MinRecoveryCodes     = 8
	MaxRecoveryCodes     = 10

	recoveryCodeBytes = 4 // 8 hex characters, shown as XXXX-XXXX
)

// RecoveryCodeManager mints single-use fallback codes and checks them
// against stored hashes. Plaintext codes are returned once and never stored.
type RecoveryCodeManager struct{}

// Generate returns count fresh codes formatted as XXXX-XXXX.
func (RecoveryCodeManager) Generate(count int) ([]string, error) {
	if count < MinRecoveryCodes || count > MaxRecoveryCodes {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRecoveryCodeCount, count)
	}

	codes := make([]string, count)
	for i := range count {
		raw, err := cryptox.RandomBytes(recoveryCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		code := strings.ToUpper(hex.EncodeToString(raw))
		codes[i] = code[:4] + "-" + code[4:]
	}
	return codes, nil
}

// Hash maps each code to the fingerprint of its normalised form.
func (RecoveryCodeManager) Hash(codes []string) []string {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = HashRecoveryCode(code)
	}
	return hashes
}

// Verify reports the index of the stored hash matching input. Every entry is
// compared in constant time, and the scan does not stop at the first match.
func (RecoveryCodeManager) Verify(input string, hashes []string) (int, bool) {
	normalized := NormalizeRecoveryCode(input)
	if normalized == "" {
		return -1, false
	}

	candidate := []byte(cryptox.Fingerprint(normalized))
	index := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare(candidate, []byte(h)) == 1 && index < 0 {
			index = i
		}
	}
	return index, index >= 0
}

// NormalizeRecoveryCode strips separators and whitespace and upper-cases,
// so "ab12-cd34", "AB12 CD34" and "AB12CD34" are the same code.
func NormalizeRecoveryCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// HashRecoveryCode is the storage form of a single code.
func HashRecoveryCode(code string) string {
	return cryptox.Fingerprint(NormalizeRecoveryCode(code))
}
