package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vaultpass/identity-go/internal/config"
)

// ErrStoreUnavailable wraps every failure reported by the backing store.
var ErrStoreUnavailable = errors.New("store unavailable")

// NewRedis creates a Redis client with the given settings and checks that the
// server answers. A failed ping is logged, not fatal: the client reconnects on
// demand and requests fail with ErrStoreUnavailable meanwhile.
func NewRedis(ctx context.Context, logger *zerolog.Logger, cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.DialTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis ping failed, continuing")
	}

	return rdb
}

// Keys renders the key layout. Existing data written under it stays readable.
type Keys struct {
	prefix string
}

func (k Keys) CreatedIndex() string  { return k.prefix + "idx:users" }
func (k Keys) UpdatedIndex() string  { return k.prefix + "idx:upd:users" }
func (k Keys) EmailIndex() string    { return k.prefix + "idx:primary:email:users" }
func (k Keys) UsernameIndex() string { return k.prefix + "idx:primary:username:users" }
func (k Keys) TokenIndex() string    { return k.prefix + "idx:token:users" }
func (k Keys) User(id string) string { return k.prefix + "users:" + id }

func (k Keys) UserToken(id string) string { return k.prefix + "token:users:" + id }

// Store is the key-value adapter: it owns the client, the key layout, and the
// two batching primitives every repository goes through.
type Store struct {
	rdb  redis.UniversalClient
	keys Keys
}

// NewStore creates a Store. Every key is prefixed with prefix.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, keys: Keys{prefix: prefix}}
}

// Keys returns the key layout.
func (s *Store) Keys() Keys { return s.keys }

// Ping checks that the store answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Pipeline sends the commands queued by fn in one round trip. There is no
// atomicity across keys. Missing values (redis.Nil) are not errors; callers
// inspect the individual command results.
func (s *Store) Pipeline(ctx context.Context, op string, fn func(redis.Pipeliner) error) error {
	_, err := s.rdb.Pipelined(ctx, fn)
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(op, err)
	}
	return nil
}

// Batch sends the commands queued by fn in one MULTI/EXEC round trip, so
// either all of them are applied or none are.
func (s *Store) Batch(ctx context.Context, op string, fn func(redis.Pipeliner) error) error {
	_, err := s.rdb.TxPipelined(ctx, fn)
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(op, err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// stringOrEmpty returns the reply of cmd, or "" when the value was absent.
func stringOrEmpty(op string, cmd *redis.StringCmd) (string, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", unavailable(op, err)
	}
	return v, nil
}
