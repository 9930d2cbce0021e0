package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Establish the pooled connection before a test injects errors.
	require.NoError(t, rdb.Ping(context.Background()).Err())

	return NewStore(rdb, ""), mr
}

func TestKeysLayout(t *testing.T) {
	k := Keys{}
	assert.Equal(t, "idx:users", k.CreatedIndex())
	assert.Equal(t, "idx:upd:users", k.UpdatedIndex())
	assert.Equal(t, "idx:primary:email:users", k.EmailIndex())
	assert.Equal(t, "idx:primary:username:users", k.UsernameIndex())
	assert.Equal(t, "idx:token:users", k.TokenIndex())
	assert.Equal(t, "users:42", k.User("42"))
	assert.Equal(t, "token:users:42", k.UserToken("42"))

	prefixed := Keys{prefix: "identity:"}
	assert.Equal(t, "identity:users:42", prefixed.User("42"))
	assert.Equal(t, "identity:idx:primary:email:users", prefixed.EmailIndex())
}

func TestStorePing(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	mr.SetError("ERR simulated outage")
	err := store.Ping(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestStorePipelineTreatsMissingAsAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var cmd *redis.StringCmd
	err := store.Pipeline(ctx, "probe", func(pipe redis.Pipeliner) error {
		cmd = pipe.HGet(ctx, "missing", "field")
		return nil
	})
	require.NoError(t, err)

	v, err := stringOrEmpty("probe", cmd)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestStoreBatchAppliesAllCommands(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	err := store.Batch(ctx, "write", func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, "h", "a", "1")
		pipe.HSet(ctx, "h", "b", "2")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet("h", "a"))
	assert.Equal(t, "2", mr.HGet("h", "b"))
}

func TestStoreBatchReportsFailure(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.SetError("ERR simulated outage")

	err := store.Batch(ctx, "write", func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, "h", "a", "1")
		return nil
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "write")
}
