package otpx

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/aussiebroadwan/twofactor/pkg/base32x"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	DefaultDigits = 6
	DefaultPeriod = 30 * time.Second
	DefaultWindow = 1

	minDigits = 6
	maxDigits = 8
	maxWindow = 10
)

// Options configures an Engine. Zero values fall back to the RFC 6238
// defaults (SHA1, 6 digits, 30s period, window 1).
type Options struct {
	Algorithm Algorithm
	Digits    int
	Period    time.Duration
	Window    int // steps tolerated either side of the current one
}

// DefaultOptions returns the settings consumed by common authenticator apps.
func DefaultOptions() Options {
	return Options{
		Algorithm: AlgorithmSHA1,
		Digits:    DefaultDigits,
		Period:    DefaultPeriod,
		Window:    DefaultWindow,
	}
}

// withDefaults fills zero-valued fields. Window is left alone because zero is
// a meaningful "current step only" setting.
func (o Options) withDefaults() Options {
	if o.Algorithm == "" {
		o.Algorithm = AlgorithmSHA1
	}
	if o.Digits == 0 {
		o.Digits = DefaultDigits
	}
	if o.Period == 0 {
		o.Period = DefaultPeriod
	}
	return o
}

// Validate reports whether the options describe a usable engine.
func (o Options) Validate() error {
	o = o.withDefaults()

	if _, err := ParseAlgorithm(string(o.Algorithm)); err != nil {
		return err
	}
	if o.Digits < minDigits || o.Digits > maxDigits {
		return fmt.Errorf("%w: digits must be between %d and %d, got %d", ErrInvalidOptions, minDigits, maxDigits, o.Digits)
	}
	if o.Period < time.Second || o.Period%time.Second != 0 {
		return fmt.Errorf("%w: period must be a whole number of seconds, got %s", ErrInvalidOptions, o.Period)
	}
	if o.Window < 0 || o.Window > maxWindow {
		return fmt.Errorf("%w: window must be between 0 and %d, got %d", ErrInvalidOptions, maxWindow, o.Window)
	}
	return nil
}

// Engine computes and checks one-time codes. It holds no mutable state.
type Engine struct {
	opts Options
}

// New builds an Engine. Options should have been validated by the caller;
// zero values are replaced with defaults.
func New(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// NewValidated is New with Validate applied first.
func NewValidated(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return New(opts), nil
}

// Options returns the effective configuration.
func (e *Engine) Options() Options { return e.opts }

// HOTP computes the RFC 4226 code for counter, zero-padded to the configured
// number of digits.
func (e *Engine) HOTP(secret []byte, counter uint64) (string, error) {
	if len(secret) == 0 {
		return "", ErrInvalidSecret
	}
	return e.code(base32x.Encode(secret), counter)
}

// code runs HMAC truncation through pquerna/otp. secret must already be in
// canonical Base32, the hotp package decodes with the strict RFC alphabet.
func (e *Engine) code(secret string, counter uint64) (string, error) {
	code, err := hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    otp.Digits(e.opts.Digits),
		Algorithm: e.opts.Algorithm.OTP(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}
	return code, nil
}

// Counter returns floor(unix(t) / period). Instants before the epoch map to 0.
func (e *Engine) Counter(t time.Time) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs) / uint64(e.opts.Period/time.Second)
}

// Generate returns the code for the step containing t.
func (e *Engine) Generate(secret string, t time.Time) (string, error) {
	key := base32x.Decode(secret)
	if len(key) == 0 {
		return "", ErrInvalidSecret
	}
	return e.code(base32x.Encode(key), e.Counter(t))
}

// Verify checks code against the steps within the configured window of t.
func (e *Engine) Verify(code, secret string, t time.Time) bool {
	_, ok := e.Match(code, secret, t)
	return ok
}

// VerifyWindow is Verify with an explicit window.
func (e *Engine) VerifyWindow(code, secret string, t time.Time, window int) bool {
	_, ok := e.match(code, secret, t, window)
	return ok
}

// Match is Verify that also reports the counter of the matching step.
func (e *Engine) Match(code, secret string, t time.Time) (uint64, bool) {
	return e.match(code, secret, t, e.opts.Window)
}

func (e *Engine) match(code, secret string, t time.Time, window int) (uint64, bool) {
	if !e.wellFormed(code) || window < 0 {
		return 0, false
	}

	key := base32x.Decode(secret)
	if len(key) == 0 {
		return 0, false
	}
	canonical := base32x.Encode(key)

	current := e.Counter(t)
	start := uint64(0)
	if current > uint64(window) {
		start = current - uint64(window)
	}
	end := current + uint64(window)

	for counter := start; counter <= end; counter++ {
		candidate, err := e.code(canonical, counter)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

// wellFormed is the fail-fast check run before any HMAC work.
func (e *Engine) wellFormed(code string) bool {
	if len(code) != e.opts.Digits {
		return false
	}
	for i := range len(code) {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
