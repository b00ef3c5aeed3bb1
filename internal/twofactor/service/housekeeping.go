package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
	"github.com/aussiebroadwan/twofactor/pkg/slogx"
)

// HousekeepingService removes pending setups that can no longer be
// confirmed. It runs once per call; scheduling is left to the operator
// (cron, a systemd timer, ...).
type HousekeepingService struct {
	Store      store.Store
	Logger     *slog.Logger // falls back to the context logger
	Metrics    *Metrics
	PendingTTL time.Duration    // default DefaultPendingTTL
	Now        func() time.Time // defaults to time.Now
}

// Cleanup deletes pending setups older than PendingTTL and reports how many
// were removed.
func (s *HousekeepingService) Cleanup(ctx context.Context) (int64, error) {
	ttl := s.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	logger := s.Logger
	if logger == nil {
		logger = slogx.FromContext(ctx)
	}

	cutoff := now().UTC().Add(-ttl)
	logger.Info("starting housekeeping cleanup", "cutoff", cutoff)

	deleted, err := s.Store.DeleteExpiredPendingSetups(ctx, cutoff)
	if err != nil {
		logger.Error("failed to delete expired pending setups", "error", err)
		return 0, fmt.Errorf("failed to delete expired pending setups: %w", err)
	}

	s.Metrics.purged(deleted)
	logger.Info("housekeeping cleanup completed", "deleted_pending_setups", deleted)
	return deleted, nil
}
