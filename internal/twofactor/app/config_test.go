package app

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func loadFrom(vars map[string]string) (Config, error) {
	return loadConfig(env.Options{Environment: vars})
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadFrom(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, "bartab", cfg.Issuer)
	require.Equal(t, 6, cfg.Digits)
	require.Equal(t, 30*time.Second, cfg.Period)
	require.Equal(t, 1, cfg.Window)
	require.Equal(t, 20, cfg.SecretBytes)
	require.Equal(t, 8, cfg.RecoveryCodes)
	require.Equal(t, 15*time.Minute, cfg.PendingTTL)
	require.False(t, cfg.RejectReplay)
	require.Equal(t, []string{"admin"}, cfg.EnforcedRoles)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, "twofactor.db", cfg.DatabaseFile)
	require.Equal(t, 3*time.Second, cfg.StoreTimeout)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Empty(t, cfg.PGConnURL)
	require.Equal(t, int32(10), cfg.PGMaxConns)
	require.Empty(t, cfg.MetricsFile)
	require.Equal(t, "dev", cfg.Env)

	opts, err := cfg.OTPOptions()
	require.NoError(t, err)
	require.Equal(t, otpx.DefaultOptions(), opts)
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := loadFrom(map[string]string{
		"TWOFACTOR_ISSUER":         "Acme",
		"TWOFACTOR_ALGORITHM":      "SHA-256",
		"TWOFACTOR_DIGITS":         "8",
		"TWOFACTOR_PERIOD":         "60s",
		"TWOFACTOR_WINDOW":         "2",
		"TWOFACTOR_RECOVERY_CODES": "10",
		"TWOFACTOR_REJECT_REPLAY":  "true",
		"TWOFACTOR_ENFORCED_ROLES": "admin,owner",
		"TWOFACTOR_STORE":          "redis",
		"REDIS_URL":                "redis://cache:6379/1",
	})
	require.NoError(t, err)

	require.Equal(t, "Acme", cfg.Issuer)
	require.True(t, cfg.RejectReplay)
	require.Equal(t, []string{"admin", "owner"}, cfg.EnforcedRoles)
	require.Equal(t, StoreRedis, cfg.Store)
	require.Equal(t, 10, cfg.RecoveryCodes)

	opts, err := cfg.OTPOptions()
	require.NoError(t, err)
	require.Equal(t, otpx.Options{
		Algorithm: otpx.AlgorithmSHA256,
		Digits:    8,
		Period:    time.Minute,
		Window:    2,
	}, opts)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"unknown algorithm", map[string]string{"TWOFACTOR_ALGORITHM": "md5"}},
		{"too few digits", map[string]string{"TWOFACTOR_DIGITS": "4"}},
		{"sub second period", map[string]string{"TWOFACTOR_PERIOD": "500ms"}},
		{"short secret", map[string]string{"TWOFACTOR_SECRET_BYTES": "16"}},
		{"too many recovery codes", map[string]string{"TWOFACTOR_RECOVERY_CODES": "12"}},
		{"too few recovery codes", map[string]string{"TWOFACTOR_RECOVERY_CODES": "4"}},
		{"zero pending ttl", map[string]string{"TWOFACTOR_PENDING_TTL": "0s"}},
		{"unknown store", map[string]string{"TWOFACTOR_STORE": "mongo"}},
		{"postgres without url", map[string]string{"TWOFACTOR_STORE": "postgres"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(tt.vars)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_ParseError(t *testing.T) {
	_, err := loadFrom(map[string]string{"TWOFACTOR_DIGITS": "six"})
	require.Error(t, err)
}
