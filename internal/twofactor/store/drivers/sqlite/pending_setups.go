package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
)

const upsertPendingSetup = `
INSERT INTO pending_setups (user_id, id, secret, recovery_codes, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    id = excluded.id,
    secret = excluded.secret,
    recovery_codes = excluded.recovery_codes,
    created_at = excluded.created_at`

func (s *Store) SavePendingSetup(ctx context.Context, userID string, p domain.PendingSetup) error {
	_, err := s.db.ExecContext(ctx, upsertPendingSetup,
		userID,
		p.ID,
		p.Secret,
		joinHashes(p.HashedRecoveryCodes),
		toUnixNano(p.CreatedAt),
	)
	return err
}

func (s *Store) LoadPendingSetup(ctx context.Context, userID string) (domain.PendingSetup, error) {
	var (
		p         domain.PendingSetup
		codes     string
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, secret, recovery_codes, created_at FROM pending_setups WHERE user_id = ?`,
		userID,
	).Scan(&p.ID, &p.Secret, &codes, &createdAt)
	if err != nil {
		return domain.PendingSetup{}, mapNotFound(err)
	}

	p.HashedRecoveryCodes = splitHashes(codes)
	p.CreatedAt = fromUnixNano(createdAt)
	return p, nil
}

func (s *Store) DeletePendingSetup(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_setups WHERE user_id = ?`, userID)
	return err
}

func (s *Store) DeleteExpiredPendingSetups(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_setups WHERE created_at < ?`, toUnixNano(cutoff))
	if err != nil {
		return 0, err
	}
	return affected(res)
}
