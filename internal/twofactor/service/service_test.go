package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/store/drivers/sqlite"
	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/aussiebroadwan/twofactor/pkg/slogx"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source shared by a test and the services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func newLifecycle(t *testing.T) (*LifecycleService, *clock) {
	t.Helper()

	c := newClock()
	opts := otpx.DefaultOptions()
	return &LifecycleService{
		Store:   newSQLiteStore(t),
		Secrets: &SecretManager{Options: opts},
		Engine:  otpx.New(opts),
		Logger:  slogx.Discard(),
		Issuer:  "bartab",
		Now:     c.Now,
	}, c
}

func codeAt(t *testing.T, s *LifecycleService, secret string, at time.Time) string {
	t.Helper()

	code, err := s.Engine.Generate(secret, at)
	require.NoError(t, err)
	return code
}

// enable runs setup and confirm for userID and returns the setup material.
func enable(t *testing.T, s *LifecycleService, userID string) (secret string, recoveryCodes []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := s.Setup(ctx, userID, userID+"@example.com")
	require.NoError(t, err)
	require.True(t, setup.Success)

	out, err := s.Confirm(ctx, userID, codeAt(t, s, setup.Secret, s.now()))
	require.NoError(t, err)
	require.True(t, out.Success)

	return setup.Secret, setup.RecoveryCodes
}
