// Package otpx implements HOTP (RFC 4226) and its time-stepped TOTP variant
// (RFC 6238).
//
// An Engine is stateless and safe for concurrent use. It is configured once
// with Options (hash algorithm, digit count, step period and verification
// window) and then evaluated over a Base32 secret and a point in time:
//
//	engine := otpx.New(otpx.DefaultOptions())
//
//	code, err := engine.Generate(secret, time.Now())
//	ok := engine.Verify(code, secret, time.Now())
//
// Verify is a predicate, not an error-raising API. A malformed code (wrong
// length or non-digit) or an empty secret simply yields false, and malformed
// codes are rejected before any HMAC is computed. Candidate codes are
// compared in constant time.
//
// Secrets are decoded with the tolerant base32x decoder and re-encoded in
// canonical form before HMAC truncation, which is delegated to pquerna/otp's
// hotp package. The window walk stays here so the matched counter is known.
//
// Match is the same check but also reports which counter matched, which
// callers use to reject replays of an already accepted step.
package otpx
