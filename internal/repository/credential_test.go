package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpass/identity-go/internal/crypto"
	"github.com/vaultpass/identity-go/internal/model"
)

func newTestCredentialStore(t *testing.T) (*CredentialStore, *Store, *crypto.Hasher) {
	t.Helper()
	store, _ := newTestStore(t)
	hasher := crypto.NewHasher(crypto.HashParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1})
	return NewCredentialStore(store, hasher), store, hasher
}

func writeUser(t *testing.T, store *Store, creds *CredentialStore, user *model.User) {
	t.Helper()
	ctx := context.Background()
	err := store.Batch(ctx, "write profile", func(pipe redis.Pipeliner) error {
		creds.WriteProfile(ctx, pipe, user)
		return nil
	})
	require.NoError(t, err)
}

func TestCredentialStoreProfileRoundTrip(t *testing.T) {
	creds, store, hasher := newTestCredentialStore(t)

	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)

	want := &model.User{
		ID:           "id-1",
		Email:        "a@x.com",
		Username:     "alice",
		PasswordHash: hash,
		CreatedAt:    1700000000,
		UpdatedAt:    1700000000,
	}
	writeUser(t, store, creds, want)

	got, err := creds.ReadProfile(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCredentialStoreReadProfileNotFound(t *testing.T) {
	creds, _, _ := newTestCredentialStore(t)

	_, err := creds.ReadProfile(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCredentialStoreReadProfileMalformedTimestamp(t *testing.T) {
	creds, store, _ := newTestCredentialStore(t)
	writeUser(t, store, creds, &model.User{ID: "id-1", Email: "a@x.com", Username: "alice"})

	rdb := store.rdb
	require.NoError(t, rdb.HSet(context.Background(), "users:id-1", "created_at", "yesterday").Err())

	_, err := creds.ReadProfile(context.Background(), "id-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUserNotFound))
}

func TestCredentialStoreVerifyPassword(t *testing.T) {
	creds, store, hasher := newTestCredentialStore(t)
	ctx := context.Background()

	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)
	writeUser(t, store, creds, &model.User{ID: "id-1", Email: "a@x.com", Username: "alice", PasswordHash: hash})

	for i := 0; i < 3; i++ {
		ok, err := creds.VerifyPassword(ctx, "id-1", "secret1")
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i+1)
	}

	ok, err := creds.VerifyPassword(ctx, "id-1", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = creds.VerifyPassword(ctx, "missing", "secret1")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCredentialStoreVerifyPasswordStoreFailure(t *testing.T) {
	store, mr := newTestStore(t)
	creds := NewCredentialStore(store, crypto.NewHasher(crypto.DefaultHashParams()))
	mr.SetError("ERR simulated outage")

	ok, err := creds.VerifyPassword(context.Background(), "id-1", "secret1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, ok)

	_, err = creds.ReadProfile(context.Background(), "id-1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestCredentialStoreDeleteProfile(t *testing.T) {
	creds, store, _ := newTestCredentialStore(t)
	ctx := context.Background()
	writeUser(t, store, creds, &model.User{ID: "id-1", Email: "a@x.com", Username: "alice"})

	err := store.Batch(ctx, "delete profile", func(pipe redis.Pipeliner) error {
		creds.DeleteProfile(ctx, pipe, "id-1")
		return nil
	})
	require.NoError(t, err)

	_, err = creds.ReadProfile(ctx, "id-1")
	require.ErrorIs(t, err, ErrUserNotFound)
}
