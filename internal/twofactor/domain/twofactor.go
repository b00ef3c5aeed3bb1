package domain

import (
	"log/slog"
	"time"

	"github.com/aussiebroadwan/twofactor/pkg/slogx"
)

// PendingSetup is a minted but unconfirmed secret. There is at most one per
// user; a new setup overwrites the previous one.
type PendingSetup struct {
	ID                  string    // ULID, timestamp matches CreatedAt
	Secret              string    // Base32 secret, sealed when a master key is configured
	HashedRecoveryCodes []string  // hex SHA-256 of normalised recovery codes
	CreatedAt           time.Time // UTC
}

// Expired reports whether the setup is older than ttl at now.
func (p PendingSetup) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}

// LogValue keeps the secret and hashes out of logs.
func (p PendingSetup) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", p.ID),
		slog.String("secret", slogx.Redacted),
		slog.Int("recovery_codes", len(p.HashedRecoveryCodes)),
		slog.Time("created_at", p.CreatedAt),
	)
}

// TwoFactorRecord is the durable state of an activated user.
type TwoFactorRecord struct {
	Secret              string   // Base32 secret, sealed when a master key is configured
	HashedRecoveryCodes []string // remaining unused recovery codes, order is significant
	Enabled             bool
	EnabledAt           time.Time // UTC
	LastCounter         uint64    // last accepted TOTP step, only maintained with replay protection
}

// LogValue keeps the secret and hashes out of logs.
func (r TwoFactorRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("secret", slogx.Redacted),
		slog.Int("recovery_codes", len(r.HashedRecoveryCodes)),
		slog.Bool("enabled", r.Enabled),
		slog.Time("enabled_at", r.EnabledAt),
	)
}

// State is the lifecycle position of a user.
type State string

const (
	StateDisabled State = "disabled"
	StatePending  State = "pending"
	StateEnabled  State = "enabled"
)
