package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
)

const upsertPendingSetup = `
INSERT INTO twofactor_pending_setups (user_id, id, secret, recovery_codes, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
    id = EXCLUDED.id,
    secret = EXCLUDED.secret,
    recovery_codes = EXCLUDED.recovery_codes,
    created_at = EXCLUDED.created_at`

func (s *Store) SavePendingSetup(ctx context.Context, userID string, p domain.PendingSetup) error {
	_, err := s.pool.Exec(ctx, upsertPendingSetup,
		userID,
		p.ID,
		p.Secret,
		hashes(p.HashedRecoveryCodes),
		p.CreatedAt.UTC(),
	)
	return err
}

func (s *Store) LoadPendingSetup(ctx context.Context, userID string) (domain.PendingSetup, error) {
	var p domain.PendingSetup

	err := s.pool.QueryRow(ctx,
		`SELECT id, secret, recovery_codes, created_at FROM twofactor_pending_setups WHERE user_id = $1`,
		userID,
	).Scan(&p.ID, &p.Secret, &p.HashedRecoveryCodes, &p.CreatedAt)
	if err != nil {
		return domain.PendingSetup{}, mapNotFound(err)
	}

	p.HashedRecoveryCodes = loaded(p.HashedRecoveryCodes)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) DeletePendingSetup(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM twofactor_pending_setups WHERE user_id = $1`, userID)
	return err
}

func (s *Store) DeleteExpiredPendingSetups(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM twofactor_pending_setups WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
