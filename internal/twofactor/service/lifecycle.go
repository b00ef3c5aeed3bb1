package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
	"github.com/aussiebroadwan/twofactor/pkg/cryptox"
	"github.com/aussiebroadwan/twofactor/pkg/idx"
	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/aussiebroadwan/twofactor/pkg/slogx"
)

const (
	DefaultPendingTTL   = 15 * time.Minute
	DefaultStoreTimeout = 3 * time.Second
	DefaultIssuer       = "bartab"
)

// Sealer protects secrets at rest. The user id is passed as additional
// data so a sealed secret only opens for the user it was sealed for.
// *cryptox.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext, userID string) (string, error)
	Open(sealed, userID string) (string, error)
}

// LifecycleService drives a user through
// disabled -> pending -> enabled -> disabled.
//
// Expected outcomes (bad code, expired setup, not enabled, ...) come back as
// results tagged with a domain.Reason. A non-nil error always means the store
// failed or stored data could not be read.
type LifecycleService struct {
	Store    store.Store
	Secrets  *SecretManager
	Recovery RecoveryCodeManager
	Engine   *otpx.Engine
	Sealer   Sealer // nil stores secrets as plain Base32
	Logger   *slog.Logger
	Metrics  *Metrics // nil disables instrumentation

	Issuer        string        // default DefaultIssuer
	SecretBytes   int           // default DefaultSecretBytes
	RecoveryCodes int           // default DefaultRecoveryCodes
	PendingTTL    time.Duration // default DefaultPendingTTL
	StoreTimeout  time.Duration // per operation, default DefaultStoreTimeout
	RejectReplay  bool          // refuse a TOTP step that was already accepted

	Now func() time.Time // defaults to time.Now
}

// Setup mints a secret and recovery codes and parks them as the user's
// pending setup, replacing any previous one. The returned secret, URI and
// codes are the only plaintext copies that will ever exist.
func (s *LifecycleService) Setup(ctx context.Context, userID, accountLabel string) (res domain.SetupResult, err error) {
	defer func(start time.Time) { s.Metrics.observe("setup", start, res.Success, res.Reason, err) }(time.Now())

	if userID == "" {
		return domain.SetupResult{Reason: domain.ReasonInvalidRequest}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := s.logger(ctx, userID)

	rec, err := s.Store.LoadRecord(ctx, userID)
	switch {
	case err == nil && rec.Enabled:
		return domain.SetupResult{Reason: domain.ReasonAlreadyEnabled}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return domain.SetupResult{}, fmt.Errorf("failed to load two-factor record: %w", err)
	}

	secret, err := s.Secrets.GenerateSecret(s.SecretBytes)
	if err != nil {
		return domain.SetupResult{}, err
	}

	codes, err := s.Recovery.Generate(s.recoveryCodes())
	if err != nil {
		return domain.SetupResult{}, err
	}

	stored, err := s.seal(userID, secret)
	if err != nil {
		return domain.SetupResult{}, err
	}

	now := s.now()
	pending := domain.PendingSetup{
		ID:                  idx.NewAt(now).String(),
		Secret:              stored,
		HashedRecoveryCodes: s.Recovery.Hash(codes),
		CreatedAt:           now,
	}
	if err := s.Store.SavePendingSetup(ctx, userID, pending); err != nil {
		return domain.SetupResult{}, fmt.Errorf("failed to save pending setup: %w", err)
	}

	if accountLabel == "" {
		accountLabel = userID
	}
	uri, err := s.Secrets.BuildProvisioningURI(secret, accountLabel, s.issuer())
	if err != nil {
		return domain.SetupResult{}, err
	}

	logger.Info("two-factor setup started", "pending", pending)

	return domain.SetupResult{
		Success:       true,
		Secret:        secret,
		OTPAuthURI:    uri,
		RecoveryCodes: codes,
	}, nil
}

// Confirm activates the pending setup when code is valid for its secret.
// Age is checked before the code. A failed code leaves the pending setup in
// place so the user can retry until it expires.
func (s *LifecycleService) Confirm(ctx context.Context, userID, code string) (res domain.Outcome, err error) {
	defer func(start time.Time) { s.Metrics.observe("confirm", start, res.Success, res.Reason, err) }(time.Now())

	if userID == "" {
		return domain.Outcome{Reason: domain.ReasonInvalidRequest}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := s.logger(ctx, userID)

	pending, err := s.Store.LoadPendingSetup(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Outcome{Reason: domain.ReasonSetupNotFound}, nil
	}
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to load pending setup: %w", err)
	}

	now := s.now()
	if pending.Expired(now, s.pendingTTL()) {
		if err := s.Store.DeletePendingSetup(ctx, userID); err != nil {
			logger.Warn("failed to delete expired pending setup", "error", err)
		}
		return domain.Outcome{Reason: domain.ReasonSetupExpired}, nil
	}

	secret, err := s.open(userID, pending.Secret)
	if err != nil {
		return domain.Outcome{}, err
	}

	counter, ok := s.Engine.Match(code, secret, now)
	if !ok {
		return domain.Outcome{Reason: domain.ReasonInvalidCode}, nil
	}

	err = s.Store.Activate(ctx, userID, domain.TwoFactorRecord{
		Secret:              pending.Secret,
		HashedRecoveryCodes: pending.HashedRecoveryCodes,
		Enabled:             true,
		EnabledAt:           now,
		LastCounter:         counter,
	})
	if errors.Is(err, store.ErrNotFound) {
		// A concurrent confirm or a new setup got there first
		return domain.Outcome{Reason: domain.ReasonSetupNotFound}, nil
	}
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to activate two-factor: %w", err)
	}

	logger.Info("two-factor enabled")
	return domain.Outcome{Success: true}, nil
}

// Verify accepts a TOTP code first and falls back to a recovery code. A
// matched recovery code is consumed.
func (s *LifecycleService) Verify(ctx context.Context, userID, code string) (res domain.VerifyResult, err error) {
	defer func(start time.Time) { s.Metrics.observe("verify", start, res.Valid, res.Reason, err) }(time.Now())

	if userID == "" {
		return domain.VerifyResult{Reason: domain.ReasonInvalidRequest}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.verify(ctx, s.logger(ctx, userID), userID, code)
}

func (s *LifecycleService) verify(ctx context.Context, logger *slog.Logger, userID, code string) (domain.VerifyResult, error) {
	rec, err := s.Store.LoadRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.VerifyResult{Reason: domain.ReasonNotEnabled}, nil
	}
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("failed to load two-factor record: %w", err)
	}
	if !rec.Enabled {
		return domain.VerifyResult{Reason: domain.ReasonNotEnabled}, nil
	}

	secret, err := s.open(userID, rec.Secret)
	if err != nil {
		return domain.VerifyResult{}, err
	}

	if counter, ok := s.Engine.Match(code, secret, s.now()); ok {
		if s.RejectReplay {
			err := s.Store.MarkCounterUsed(ctx, userID, counter)
			switch {
			case errors.Is(err, store.ErrStale):
				logger.Warn("rejected replayed two-factor code", "counter", counter)
				return domain.VerifyResult{Reason: domain.ReasonCodeAlreadyUsed}, nil
			case errors.Is(err, store.ErrNotFound):
				return domain.VerifyResult{Reason: domain.ReasonNotEnabled}, nil
			case err != nil:
				return domain.VerifyResult{}, fmt.Errorf("failed to record used counter: %w", err)
			}
		}
		return domain.VerifyResult{Valid: true, RemainingRecoveryCodes: len(rec.HashedRecoveryCodes)}, nil
	}

	index, ok := s.Recovery.Verify(code, rec.HashedRecoveryCodes)
	if !ok {
		return domain.VerifyResult{Reason: domain.ReasonInvalidCode}, nil
	}

	err = s.Store.RemoveRecoveryCodeAt(ctx, userID, index, rec.HashedRecoveryCodes[index])
	if errors.Is(err, store.ErrNotFound) {
		// Spent by a concurrent request, or the set was regenerated
		return domain.VerifyResult{Reason: domain.ReasonInvalidCode}, nil
	}
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("failed to consume recovery code: %w", err)
	}

	s.Metrics.recoveryCodeUsed()
	remaining := len(rec.HashedRecoveryCodes) - 1
	logger.Warn("recovery code used", "remaining_recovery_codes", remaining)

	return domain.VerifyResult{
		Valid:                  true,
		IsRecoveryCode:         true,
		RemainingRecoveryCodes: remaining,
	}, nil
}

// Disable removes two-factor after the user proves possession with a TOTP or
// recovery code.
func (s *LifecycleService) Disable(ctx context.Context, userID, code string) (out domain.Outcome, err error) {
	defer func(start time.Time) { s.Metrics.observe("disable", start, out.Success, out.Reason, err) }(time.Now())

	if userID == "" {
		return domain.Outcome{Reason: domain.ReasonInvalidRequest}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := s.logger(ctx, userID)

	res, err := s.verify(ctx, logger, userID, code)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !res.Valid {
		return domain.Outcome{Reason: res.Reason}, nil
	}

	if err := s.Store.Deactivate(ctx, userID); err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to disable two-factor: %w", err)
	}

	logger.Info("two-factor disabled")
	return domain.Outcome{Success: true}, nil
}

// RegenerateRecoveryCodes replaces the whole recovery code set after the user
// proves possession. Codes left over from the old set stop working at once.
func (s *LifecycleService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) (out domain.RegenerateResult, err error) {
	defer func(start time.Time) { s.Metrics.observe("regenerate", start, out.Success, out.Reason, err) }(time.Now())

	if userID == "" {
		return domain.RegenerateResult{Reason: domain.ReasonInvalidRequest}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := s.logger(ctx, userID)

	res, err := s.verify(ctx, logger, userID, code)
	if err != nil {
		return domain.RegenerateResult{}, err
	}
	if !res.Valid {
		return domain.RegenerateResult{Reason: res.Reason}, nil
	}

	codes, err := s.Recovery.Generate(s.recoveryCodes())
	if err != nil {
		return domain.RegenerateResult{}, err
	}

	err = s.Store.ReplaceRecoveryCodes(ctx, userID, s.Recovery.Hash(codes))
	if errors.Is(err, store.ErrNotFound) {
		return domain.RegenerateResult{Reason: domain.ReasonNotEnabled}, nil
	}
	if err != nil {
		return domain.RegenerateResult{}, fmt.Errorf("failed to replace recovery codes: %w", err)
	}

	logger.Info("recovery codes regenerated", "count", len(codes))
	return domain.RegenerateResult{Success: true, RecoveryCodes: codes}, nil
}

// IsTwoFactorEnabled is the precondition check callers run before Setup.
func (s *LifecycleService) IsTwoFactorEnabled(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.Store.LoadRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load two-factor record: %w", err)
	}
	return rec.Enabled, nil
}

// Status reports where the user is in the lifecycle. An expired pending
// setup counts as disabled.
func (s *LifecycleService) Status(ctx context.Context, userID string) (domain.State, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.Store.LoadRecord(ctx, userID)
	switch {
	case err == nil && rec.Enabled:
		return domain.StateEnabled, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("failed to load two-factor record: %w", err)
	}

	pending, err := s.Store.LoadPendingSetup(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.StateDisabled, nil
	case err != nil:
		return "", fmt.Errorf("failed to load pending setup: %w", err)
	case pending.Expired(s.now(), s.pendingTTL()):
		return domain.StateDisabled, nil
	default:
		return domain.StatePending, nil
	}
}

// AbandonSetup drops the pending setup, if any.
func (s *LifecycleService) AbandonSetup(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.Store.DeletePendingSetup(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete pending setup: %w", err)
	}
	s.logger(ctx, userID).Info("two-factor setup abandoned")
	return nil
}

// RemainingRecoveryCodes counts unused recovery codes, zero when disabled.
func (s *LifecycleService) RemainingRecoveryCodes(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.Store.LoadRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load two-factor record: %w", err)
	}
	return len(rec.HashedRecoveryCodes), nil
}

func (s *LifecycleService) seal(userID, secret string) (string, error) {
	if s.Sealer == nil {
		return secret, nil
	}
	sealed, err := s.Sealer.Seal(secret, userID)
	if err != nil {
		return "", fmt.Errorf("failed to seal secret: %w", err)
	}
	return sealed, nil
}

// open accepts plain Base32 too, so secrets stored before a master key was
// configured keep working.
func (s *LifecycleService) open(userID, stored string) (string, error) {
	if !cryptox.IsSealed(stored) {
		return stored, nil
	}
	if s.Sealer == nil {
		return "", ErrSealedSecretWithoutKey
	}
	secret, err := s.Sealer.Open(stored, userID)
	if err != nil {
		return "", fmt.Errorf("failed to open stored secret: %w", err)
	}
	return secret, nil
}

func (s *LifecycleService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// logger scopes Logger, or the context logger when unset, to userID.
func (s *LifecycleService) logger(ctx context.Context, userID string) *slog.Logger {
	if s.Logger != nil {
		ctx = slogx.WithContext(ctx, s.Logger)
	}
	return slogx.FromContext(slogx.WithUser(ctx, userID))
}

func (s *LifecycleService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *LifecycleService) issuer() string {
	if s.Issuer != "" {
		return s.Issuer
	}
	return DefaultIssuer
}

func (s *LifecycleService) pendingTTL() time.Duration {
	if s.PendingTTL > 0 {
		return s.PendingTTL
	}
	return DefaultPendingTTL
}

func (s *LifecycleService) recoveryCodes() int {
	if s.RecoveryCodes > 0 {
		return s.RecoveryCodes
	}
	return DefaultRecoveryCodes
}
