package repository

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/vaultpass/identity-go/internal/crypto"
)

var ErrTokenNotFound = errors.New("token not found")

const fieldToken = "token"

// TokenStore persists one opaque bearer token per user id, plus a reverse
// index from token to id used to authenticate requests.
type TokenStore struct {
	store *Store
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(store *Store) *TokenStore {
	return &TokenStore{store: store}
}

// issueScript swaps the user's token record and its reverse entry in one step,
// so concurrent issues for the same user leave exactly one reverse entry.
var issueScript = redis.NewScript(`
local previous = redis.call('HGET', KEYS[1], ARGV[3])
if previous then
	redis.call('HDEL', KEYS[2], previous)
end
redis.call('HSET', KEYS[1], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// Issue generates a fresh token for id, replacing any previous one. The
// previous token stops authenticating once this returns.
func (t *TokenStore) Issue(ctx context.Context, id string) (string, error) {
	keys := t.store.Keys()

	token := crypto.NewOpaqueToken()
	err := issueScript.Run(ctx, t.store.rdb,
		[]string{keys.UserToken(id), keys.TokenIndex()},
		token, id, fieldToken,
	).Err()
	if err != nil {
		return "", unavailable("issue token", err)
	}

	return token, nil
}

// Current returns the live token for id, or "" when none was issued.
func (t *TokenStore) Current(ctx context.Context, id string) (string, error) {
	return stringOrEmpty("read token", t.store.rdb.HGet(ctx, t.store.Keys().UserToken(id), fieldToken))
}

// Resolve returns the id owning token. The reverse index entry must agree with
// the user's live token record, so superseded tokens are rejected.
func (t *TokenStore) Resolve(ctx context.Context, token string) (string, error) {
	keys := t.store.Keys()

	id, err := stringOrEmpty("resolve token", t.store.rdb.HGet(ctx, keys.TokenIndex(), token))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrTokenNotFound
	}

	live, err := t.Current(ctx, id)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(live), []byte(token)) != 1 {
		return "", ErrTokenNotFound
	}

	return id, nil
}

// Discard queues the removal of id's token record and its reverse entry onto pipe.
func (t *TokenStore) Discard(ctx context.Context, pipe redis.Pipeliner, id, token string) {
	keys := t.store.Keys()
	pipe.Del(ctx, keys.UserToken(id))
	if token != "" {
		pipe.HDel(ctx, keys.TokenIndex(), token)
	}
}
