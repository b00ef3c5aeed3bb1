package postgres

import (
	"context"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
)

const upsertRecord = `
INSERT INTO twofactor_records (user_id, secret, recovery_codes, enabled, enabled_at, last_counter)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
    secret = EXCLUDED.secret,
    recovery_codes = EXCLUDED.recovery_codes,
    enabled = EXCLUDED.enabled,
    enabled_at = EXCLUDED.enabled_at,
    last_counter = EXCLUDED.last_counter`

// removeRecoveryCode drops the element at the zero based index $2 only while
// it still equals $3. Concurrent updates of the row re-check the WHERE
// clause against the committed array, so one spend wins.
const removeRecoveryCode = `
UPDATE twofactor_records
SET recovery_codes = recovery_codes[1:$2::int]
    || recovery_codes[$2::int + 2:cardinality(recovery_codes)]
WHERE user_id = $1 AND recovery_codes[$2::int + 1] = $3`

func (s *Store) Activate(ctx context.Context, userID string, r domain.TwoFactorRecord) error {
	return s.withTx(ctx, func(q querier) error {
		tag, err := q.Exec(ctx,
			`DELETE FROM twofactor_pending_setups WHERE user_id = $1 AND secret = $2`,
			userID, r.Secret,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}

		_, err = q.Exec(ctx, upsertRecord,
			userID,
			r.Secret,
			hashes(r.HashedRecoveryCodes),
			r.Enabled,
			r.EnabledAt.UTC(),
			int64(r.LastCounter),
		)
		return err
	})
}

func (s *Store) LoadRecord(ctx context.Context, userID string) (domain.TwoFactorRecord, error) {
	return loadRecord(ctx, s.pool, userID)
}

func loadRecord(ctx context.Context, q querier, userID string) (domain.TwoFactorRecord, error) {
	var (
		r           domain.TwoFactorRecord
		lastCounter int64
	)

	err := q.QueryRow(ctx,
		`SELECT secret, recovery_codes, enabled, enabled_at, last_counter
		 FROM twofactor_records WHERE user_id = $1`,
		userID,
	).Scan(&r.Secret, &r.HashedRecoveryCodes, &r.Enabled, &r.EnabledAt, &lastCounter)
	if err != nil {
		return domain.TwoFactorRecord{}, mapNotFound(err)
	}

	r.HashedRecoveryCodes = loaded(r.HashedRecoveryCodes)
	r.EnabledAt = r.EnabledAt.UTC()
	r.LastCounter = uint64(lastCounter)
	return r, nil
}

func (s *Store) Deactivate(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM twofactor_records WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `DELETE FROM twofactor_pending_setups WHERE user_id = $1`, userID)
		return err
	})
}

func (s *Store) RemoveRecoveryCodeAt(ctx context.Context, userID string, index int, codeHash string) error {
	if index < 0 {
		return store.ErrNotFound
	}

	tag, err := s.pool.Exec(ctx, removeRecoveryCode, userID, index, codeHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, codes []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE twofactor_records SET recovery_codes = $2 WHERE user_id = $1`,
		userID, hashes(codes),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkCounterUsed(ctx context.Context, userID string, counter uint64) error {
	return s.withTx(ctx, func(q querier) error {
		tag, err := q.Exec(ctx,
			`UPDATE twofactor_records SET last_counter = $2 WHERE user_id = $1 AND last_counter < $2`,
			userID, int64(counter),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		// Nothing updated: either no record or the counter is not newer
		if _, err := loadRecord(ctx, q, userID); err != nil {
			return err
		}
		return store.ErrStale
	})
}
