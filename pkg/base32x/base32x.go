// Package base32x encodes TOTP secrets in the RFC 4648 Base32 alphabet
// (A-Z, 2-7) that authenticator apps expect.
//
// Encoding never emits '=' padding. Decoding is deliberately forgiving since
// secrets are often retyped by hand: input is upper-cased, whitespace and any
// character outside the alphabet is skipped, and trailing bits that do not
// fill a whole byte are dropped. Decode therefore never fails.
package base32x

import (
	"encoding/base32"
	"strings"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

var encoding = base32.NewEncoding(alphabet).WithPadding(base32.NoPadding)

// decodeMap maps an upper-case symbol to its 5-bit value, 0xFF marks a symbol
// outside the alphabet.
var decodeMap = func() [256]byte {
	var m [256]byte
	for i := range m {
		m[i] = 0xFF
	}
	for i := range len(alphabet) {
		m[alphabet[i]] = byte(i)
	}
	return m
}()

// Encode returns ceil(len(b)*8/5) symbols, the final quantum padded with
// zero bits.
func Encode(b []byte) string {
	return encoding.EncodeToString(b)
}

// EncodedLen reports how many symbols Encode produces for n bytes.
func EncodedLen(n int) int {
	return encoding.EncodedLen(n)
}

// Decode maps s back to bytes. It never fails: unknown characters are
// skipped and incomplete trailing bits are discarded.
func Decode(s string) []byte {
	s = strings.ToUpper(s)

	out := make([]byte, 0, len(s)*5/8)
	var (
		buffer uint32
		bits   uint
	)
	for i := range len(s) {
		v := decodeMap[s[i]]
		if v == 0xFF {
			continue
		}

		buffer = buffer<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buffer>>bits))
			buffer &= (1 << bits) - 1
		}
	}

	return out
}

// Canonical re-encodes s in its canonical form: upper-case, no separators,
// no padding. Useful before comparing two user-supplied secrets.
func Canonical(s string) string {
	return Encode(Decode(s))
}
