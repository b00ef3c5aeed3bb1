package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg, err := loadFrom(map[string]string{
		"TWOFACTOR_DATABASE_FILE": filepath.Join(t.TempDir(), "twofactor.db"),
		"LOG_FORMAT":              "text",
	})
	require.NoError(t, err)
	return cfg
}

func TestNew_SQLiteLifecycle(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig(t)
	cfg.LogOutput = &logs
	ctx := context.Background()

	application, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	setup, err := application.Lifecycle().Setup(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	require.True(t, setup.Success)

	code, err := application.Engine().Generate(setup.Secret, time.Now())
	require.NoError(t, err)

	out, err := application.Lifecycle().Confirm(ctx, "u1", code)
	require.NoError(t, err)
	require.True(t, out.Success)

	state, err := application.Lifecycle().Status(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.StateEnabled, state)

	require.True(t, application.Policy().Enforced("admin"))
	require.Contains(t, logs.String(), "unsealed")
	require.NotContains(t, logs.String(), setup.Secret)
}

func TestNew_WithMasterKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogOutput = &bytes.Buffer{}
	cfg.MasterKeyPath = filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(cfg.MasterKeyPath, []byte("a-master-key\n"), 0600))

	application, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.NotNil(t, application.Lifecycle().Sealer)
}

func TestNew_MissingMasterKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogOutput = &bytes.Buffer{}
	cfg.MasterKeyPath = filepath.Join(t.TempDir(), "missing.key")

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RecoveryCodes = 3

	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClose_WritesMetricsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogOutput = &bytes.Buffer{}
	cfg.MetricsFile = filepath.Join(t.TempDir(), "twofactor.prom")
	ctx := context.Background()

	application, err := New(ctx, cfg)
	require.NoError(t, err)

	res, err := application.Lifecycle().Verify(ctx, "nobody", "123456")
	require.NoError(t, err)
	require.Equal(t, domain.ReasonNotEnabled, res.Reason)

	require.NoError(t, application.Close())

	data, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	require.Contains(t, string(data), `twofactor_operations_total{operation="verify",outcome="not_enabled"} 1`)
	require.Contains(t, string(data), "go_goroutines")
}
