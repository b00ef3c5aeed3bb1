package sqlite

import (
	"context"
	"slices"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
)

const upsertRecord = `
INSERT INTO twofactor_records (user_id, secret, recovery_codes, enabled, enabled_at, last_counter)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    secret = excluded.secret,
    recovery_codes = excluded.recovery_codes,
    enabled = excluded.enabled,
    enabled_at = excluded.enabled_at,
    last_counter = excluded.last_counter`

func (s *Store) Activate(ctx context.Context, userID string, r domain.TwoFactorRecord) error {
	return s.withTx(ctx, func(q querier) error {
		// Consuming the pending row is the guard: a racing confirmation
		// finds nothing to delete and loses.
		res, err := q.ExecContext(ctx,
			`DELETE FROM pending_setups WHERE user_id = ? AND secret = ?`,
			userID, r.Secret,
		)
		if err != nil {
			return err
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}

		_, err = q.ExecContext(ctx, upsertRecord,
			userID,
			r.Secret,
			joinHashes(r.HashedRecoveryCodes),
			boolToInt(r.Enabled),
			toUnixNano(r.EnabledAt),
			int64(r.LastCounter),
		)
		return err
	})
}

func (s *Store) LoadRecord(ctx context.Context, userID string) (domain.TwoFactorRecord, error) {
	return loadRecord(ctx, s.db, userID)
}

func loadRecord(ctx context.Context, q querier, userID string) (domain.TwoFactorRecord, error) {
	var (
		r           domain.TwoFactorRecord
		codes       string
		enabledAt   int64
		lastCounter int64
	)

	err := q.QueryRowContext(ctx,
		`SELECT secret, recovery_codes, enabled, enabled_at, last_counter
		 FROM twofactor_records WHERE user_id = ?`,
		userID,
	).Scan(&r.Secret, &codes, &r.Enabled, &enabledAt, &lastCounter)
	if err != nil {
		return domain.TwoFactorRecord{}, mapNotFound(err)
	}

	r.HashedRecoveryCodes = splitHashes(codes)
	r.EnabledAt = fromUnixNano(enabledAt)
	r.LastCounter = uint64(lastCounter)
	return r, nil
}

func (s *Store) Deactivate(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM twofactor_records WHERE user_id = ?`, userID); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `DELETE FROM pending_setups WHERE user_id = ?`, userID)
		return err
	})
}

func (s *Store) RemoveRecoveryCodeAt(ctx context.Context, userID string, index int, codeHash string) error {
	return s.withTx(ctx, func(q querier) error {
		var current string
		err := q.QueryRowContext(ctx,
			`SELECT recovery_codes FROM twofactor_records WHERE user_id = ?`,
			userID,
		).Scan(&current)
		if err != nil {
			return mapNotFound(err)
		}

		hashes := splitHashes(current)
		if index < 0 || index >= len(hashes) || hashes[index] != codeHash {
			return store.ErrNotFound
		}
		remaining := slices.Delete(slices.Clone(hashes), index, index+1)

		// Compare-and-swap on the previous value so the removal cannot be
		// applied twice even by another process sharing the file.
		res, err := q.ExecContext(ctx,
			`UPDATE twofactor_records SET recovery_codes = ? WHERE user_id = ? AND recovery_codes = ?`,
			joinHashes(remaining), userID, current,
		)
		if err != nil {
			return err
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE twofactor_records SET recovery_codes = ? WHERE user_id = ?`,
		joinHashes(hashes), userID,
	)
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkCounterUsed(ctx context.Context, userID string, counter uint64) error {
	return s.withTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx,
			`UPDATE twofactor_records SET last_counter = ? WHERE user_id = ? AND last_counter < ?`,
			int64(counter), userID, int64(counter),
		)
		if err != nil {
			return err
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		// Nothing updated: either no record or the counter is not newer
		if _, err := loadRecord(ctx, q, userID); err != nil {
			return err
		}
		return store.ErrStale
	})
}
