package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrStale is returned by MarkCounterUsed when the counter is not newer
	// than the last one accepted.
	ErrStale = errors.New("store: stale counter")
)

// Store is the persistence boundary of the two-factor lifecycle. Drivers
// (sqlite, redis) must implement every method; there are no optional
// capabilities.
//
// Methods return ErrNotFound for absent rows. Anything else is an
// infrastructure failure and is surfaced to the caller unchanged.
type Store interface {
	// SavePendingSetup stores p for userID, replacing any previous pending
	// setup outright.
	SavePendingSetup(ctx context.Context, userID string, p domain.PendingSetup) error

	// LoadPendingSetup returns the pending setup or ErrNotFound.
	LoadPendingSetup(ctx context.Context, userID string) (domain.PendingSetup, error)

	// DeletePendingSetup abandons a pending setup. Deleting nothing is not an error.
	DeletePendingSetup(ctx context.Context, userID string) error

	// Activate promotes the pending setup whose secret equals r.Secret into
	// the durable record and deletes the pending setup, as one atomic step.
	// If no such pending setup exists (including because a concurrent
	// Activate already consumed it) ErrNotFound is returned and nothing
	// changes.
	Activate(ctx context.Context, userID string, r domain.TwoFactorRecord) error

	// LoadRecord returns the durable record or ErrNotFound.
	LoadRecord(ctx context.Context, userID string) (domain.TwoFactorRecord, error)

	// Deactivate deletes the record and any pending setup. Deleting nothing
	// is not an error.
	Deactivate(ctx context.Context, userID string) error

	// RemoveRecoveryCodeAt removes the hash at index, but only if it still
	// equals codeHash. A mismatch (the code was consumed concurrently or the
	// set was regenerated) returns ErrNotFound. Check and removal are atomic.
	RemoveRecoveryCodeAt(ctx context.Context, userID string, index int, codeHash string) error

	// ReplaceRecoveryCodes swaps the whole hash set. ErrNotFound if the user
	// has no record.
	ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string) error

	// MarkCounterUsed records counter as the last accepted TOTP step if it is
	// strictly greater than the stored one, otherwise ErrStale.
	MarkCounterUsed(ctx context.Context, userID string, counter uint64) error

	// DeleteExpiredPendingSetups removes pending setups created before cutoff
	// and reports how many were removed (housekeeping).
	DeleteExpiredPendingSetups(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
