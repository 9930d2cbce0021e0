package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vaultpass/identity-go/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// Profile hash fields. "password" holds the hash, never the raw password.
const (
	fieldEmail     = "email"
	fieldUsername  = "username"
	fieldPassword  = "password"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// PasswordVerifier checks a candidate password against a stored hash.
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
}

// CredentialStore handles the per-user profile hash.
type CredentialStore struct {
	store    *Store
	verifier PasswordVerifier
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(store *Store, verifier PasswordVerifier) *CredentialStore {
	return &CredentialStore{store: store, verifier: verifier}
}

// WriteProfile queues the profile hash write for user onto pipe.
func (c *CredentialStore) WriteProfile(ctx context.Context, pipe redis.Pipeliner, user *model.User) {
	pipe.HSet(ctx, c.store.Keys().User(user.ID), map[string]any{
		fieldEmail:     user.Email,
		fieldUsername:  user.Username,
		fieldPassword:  user.PasswordHash,
		fieldCreatedAt: user.CreatedAt,
		fieldUpdatedAt: user.UpdatedAt,
	})
}

// DeleteProfile queues the removal of the profile hash for id onto pipe.
func (c *CredentialStore) DeleteProfile(ctx context.Context, pipe redis.Pipeliner, id string) {
	pipe.Del(ctx, c.store.Keys().User(id))
}

// ReadProfile fetches all fields of the profile hash. An empty hash means the
// id does not exist and yields ErrUserNotFound.
func (c *CredentialStore) ReadProfile(ctx context.Context, id string) (*model.User, error) {
	fields, err := c.store.rdb.HGetAll(ctx, c.store.Keys().User(id)).Result()
	if err != nil {
		return nil, unavailable("read profile", err)
	}
	if len(fields) == 0 {
		return nil, ErrUserNotFound
	}

	user := &model.User{
		ID:           id,
		Email:        fields[fieldEmail],
		Username:     fields[fieldUsername],
		PasswordHash: fields[fieldPassword],
	}
	if user.CreatedAt, err = parseEpoch(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("read profile %s: created_at: %w", id, err)
	}
	if user.UpdatedAt, err = parseEpoch(fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("read profile %s: updated_at: %w", id, err)
	}

	return user, nil
}

// VerifyPassword compares candidate with the stored hash for id. A wrong
// password is (false, nil). A missing hash yields ErrUserNotFound and a store
// failure ErrStoreUnavailable, both distinct from a wrong password.
func (c *CredentialStore) VerifyPassword(ctx context.Context, id, candidate string) (bool, error) {
	encoded, err := c.store.rdb.HGet(ctx, c.store.Keys().User(id), fieldPassword).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, unavailable("read password", err)
	}

	ok, err := c.verifier.Verify(candidate, encoded)
	if err != nil {
		return false, fmt.Errorf("verify password for %s: %w", id, err)
	}

	return ok, nil
}

func parseEpoch(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
