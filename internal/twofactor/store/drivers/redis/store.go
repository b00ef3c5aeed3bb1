package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "twofactor"

	scanBatch = 100
)

type Options struct {
	// Prefix namespaces every key, defaults to DefaultPrefix.
	Prefix string

	// PendingRetention is the redis TTL put on pending setups. It should be
	// longer than the lifecycle TTL so an overdue setup is still reported as
	// expired rather than missing. Zero keeps pending setups until purged.
	PendingRetention time.Duration
}

// Store keeps two-factor state in redis:
//
//	<prefix>:{<user>}:pending  hash  id, secret, codes, created_at (unix ms)
//	<prefix>:{<user>}:record   hash  secret, enabled, enabled_at, last_counter
//	<prefix>:{<user>}:codes    list  recovery code hashes in order
type Store struct {
	client redis.UniversalClient
	opts   Options
}

var _ store.Store = (*Store)(nil)

func NewStore(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Store{client: client, opts: opts}
}

func (s *Store) key(userID, kind string) string {
	return s.opts.Prefix + ":{" + userID + "}:" + kind
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) SavePendingSetup(ctx context.Context, userID string, p domain.PendingSetup) error {
	key := s.key(userID, "pending")

	// DEL first so a previous setup never leaks fields into this one
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"id", p.ID,
			"secret", p.Secret,
			"codes", strings.Join(p.HashedRecoveryCodes, " "),
			"created_at", p.CreatedAt.UTC().UnixMilli(),
		)
		if s.opts.PendingRetention > 0 {
			pipe.PExpire(ctx, key, s.opts.PendingRetention)
		}
		return nil
	})
	return err
}

func (s *Store) LoadPendingSetup(ctx context.Context, userID string) (domain.PendingSetup, error) {
	fields, err := s.client.HGetAll(ctx, s.key(userID, "pending")).Result()
	if err != nil {
		return domain.PendingSetup{}, err
	}
	if len(fields) == 0 {
		return domain.PendingSetup{}, store.ErrNotFound
	}

	createdAt, err := parseMilli(fields["created_at"])
	if err != nil {
		return domain.PendingSetup{}, fmt.Errorf("malformed pending setup for %s: %w", userID, err)
	}

	return domain.PendingSetup{
		ID:                  fields["id"],
		Secret:              fields["secret"],
		HashedRecoveryCodes: splitHashes(fields["codes"]),
		CreatedAt:           createdAt,
	}, nil
}

func (s *Store) DeletePendingSetup(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID, "pending")).Err()
}

func (s *Store) Activate(ctx context.Context, userID string, r domain.TwoFactorRecord) error {
	args := make([]any, 0, 4+len(r.HashedRecoveryCodes))
	args = append(args, r.Secret, boolFlag(r.Enabled), r.EnabledAt.UTC().UnixNano(), r.LastCounter)
	for _, h := range r.HashedRecoveryCodes {
		args = append(args, h)
	}

	keys := []string{s.key(userID, "pending"), s.key(userID, "record"), s.key(userID, "codes")}
	return expectOne(activateScript.Run(ctx, s.client, keys, args...).Int64())
}

func (s *Store) LoadRecord(ctx context.Context, userID string) (domain.TwoFactorRecord, error) {
	var (
		fieldsCmd *redis.MapStringStringCmd
		codesCmd  *redis.StringSliceCmd
	)

	// MULTI/EXEC so the hash and the list come from the same instant
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, s.key(userID, "record"))
		codesCmd = pipe.LRange(ctx, s.key(userID, "codes"), 0, -1)
		return nil
	})
	if err != nil {
		return domain.TwoFactorRecord{}, err
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return domain.TwoFactorRecord{}, store.ErrNotFound
	}

	enabledAt, err := parseNano(fields["enabled_at"])
	if err != nil {
		return domain.TwoFactorRecord{}, fmt.Errorf("malformed record for %s: %w", userID, err)
	}
	lastCounter, err := strconv.ParseUint(fields["last_counter"], 10, 64)
	if err != nil {
		return domain.TwoFactorRecord{}, fmt.Errorf("malformed record for %s: %w", userID, err)
	}

	codes := codesCmd.Val()
	if len(codes) == 0 {
		codes = nil
	}

	return domain.TwoFactorRecord{
		Secret:              fields["secret"],
		HashedRecoveryCodes: codes,
		Enabled:             fields["enabled"] == "1",
		EnabledAt:           enabledAt,
		LastCounter:         lastCounter,
	}, nil
}

func (s *Store) Deactivate(ctx context.Context, userID string) error {
	return s.client.Del(ctx,
		s.key(userID, "record"),
		s.key(userID, "codes"),
		s.key(userID, "pending"),
	).Err()
}

func (s *Store) RemoveRecoveryCodeAt(ctx context.Context, userID string, index int, codeHash string) error {
	// LINDEX treats negative indexes as offsets from the tail
	if index < 0 {
		return store.ErrNotFound
	}

	keys := []string{s.key(userID, "record"), s.key(userID, "codes")}
	return expectOne(removeCodeScript.Run(ctx, s.client, keys, index, codeHash).Int64())
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string) error {
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}

	keys := []string{s.key(userID, "record"), s.key(userID, "codes")}
	return expectOne(replaceCodesScript.Run(ctx, s.client, keys, args...).Int64())
}

func (s *Store) MarkCounterUsed(ctx context.Context, userID string, counter uint64) error {
	res, err := markCounterScript.Run(ctx, s.client, []string{s.key(userID, "record")}, counter).Int64()
	if err != nil {
		return err
	}

	switch res {
	case 1:
		return nil
	case 0:
		return store.ErrStale
	default:
		return store.ErrNotFound
	}
}

func (s *Store) DeleteExpiredPendingSetups(ctx context.Context, cutoff time.Time) (int64, error) {
	pattern := s.opts.Prefix + ":{*}:pending"

	var deleted int64
	sweep := func(ctx context.Context, node redis.UniversalClient) error {
		iter := node.Scan(ctx, 0, pattern, scanBatch).Iterator()
		for iter.Next(ctx) {
			n, err := purgePendingScript.Run(ctx, node, []string{iter.Val()}, cutoff.UTC().UnixMilli()).Int64()
			if err != nil {
				return err
			}
			deleted += n
		}
		return iter.Err()
	}

	// SCAN only walks one node, so a cluster has to be swept master by master
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return sweep(ctx, node)
		})
		return deleted, err
	}

	err := sweep(ctx, s.client)
	return deleted, err
}

func expectOne(n int64, err error) error {
	if err != nil {
		return err
	}
	if n != 1 {
		return store.ErrNotFound
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseMilli(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}

func parseNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func splitHashes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
