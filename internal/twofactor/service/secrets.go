package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/twofactor/pkg/base32x"
	"github.com/aussiebroadwan/twofactor/pkg/cryptox"
	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultSecretBytes = 20 // 160 bits, the RFC 4226 recommendation
	minSecretBytes     = 20
)

// SecretManager mints shared secrets and renders them as otpauth:// URIs.
// Options must match the Engine that later verifies the codes, otherwise
// the authenticator app computes different codes.
type SecretManager struct {
	Options otpx.Options
}

// GenerateSecret returns byteLength random bytes as unpadded Base32.
// Zero selects DefaultSecretBytes.
func (m *SecretManager) GenerateSecret(byteLength int) (string, error) {
	if byteLength == 0 {
		byteLength = DefaultSecretBytes
	}
	if byteLength < minSecretBytes {
		return "", fmt.Errorf("%w: got %d", ErrSecretTooShort, byteLength)
	}

	raw, err := cryptox.RandomBytes(byteLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base32x.Encode(raw), nil
}

// BuildProvisioningURI renders the Key URI consumed by authenticator apps:
//
//	otpauth://totp/<issuer>:<account>?algorithm=SHA1&digits=6&issuer=<issuer>&period=30&secret=<secret>
//
// A ':' inside issuer or account is percent-encoded so the label separator
// stays unique. The result contains the plaintext secret; show it once and
// never log it.
func (m *SecretManager) BuildProvisioningURI(secret, account, issuer string) (string, error) {
	raw := base32x.Decode(secret)
	if len(raw) == 0 {
		// An empty Secret would make totp.Generate mint a fresh one
		return "", otpx.ErrInvalidSecret
	}
	opts := otpx.New(m.Options).Options()

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      uint(opts.Period / time.Second),
		Secret:      raw,
		Digits:      otp.Digits(opts.Digits),
		Algorithm:   opts.Algorithm.OTP(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning uri: %w", err)
	}

	u, err := url.Parse(key.String())
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning uri: %w", err)
	}
	u.RawPath = "/" + escapeLabel(issuer) + ":" + escapeLabel(account)
	return u.String(), nil
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}
