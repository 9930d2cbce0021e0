package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpass/identity-go/internal/model"
	"github.com/vaultpass/identity-go/internal/repository"
)

func newTestReconciler(env *testEnv, now time.Time) *Reconciler {
	logger := zerolog.Nop()
	r := NewReconciler(env.store, env.identities, env.credentials, env.tokens, &logger, 5*time.Minute)
	r.now = func() time.Time { return now }
	return r
}

// writeOrphan stores a profile and its time index entries without reserving
// the identity, as a registration interrupted before its reservation does.
func writeOrphan(t *testing.T, env *testEnv, id string, created int64) {
	t.Helper()
	ctx := context.Background()
	user := &model.User{ID: id, Email: id + "@x.com", Username: id, CreatedAt: created, UpdatedAt: created}
	err := env.store.Batch(ctx, "orphan", func(pipe redis.Pipeliner) error {
		env.credentials.WriteProfile(ctx, pipe, user)
		env.identities.Track(ctx, pipe, id, created)
		return nil
	})
	require.NoError(t, err)
}

func TestReconcilerSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	healthy, err := env.svc.Register(ctx, registration("a@x.com", "alice", "secret1"))
	require.NoError(t, err)

	writeOrphan(t, env, "old-orphan", start.Unix())
	env.mr.HSet("token:users:old-orphan", "token", "orphan-token")
	env.mr.HSet("idx:token:users", "orphan-token", "old-orphan")

	writeOrphan(t, env, "fresh-orphan", start.Add(9*time.Minute).Unix())

	_, err = env.mr.ZAdd("idx:users", float64(start.Unix()), "no-profile")
	require.NoError(t, err)
	_, err = env.mr.ZAdd("idx:upd:users", float64(start.Unix()), "no-profile")
	require.NoError(t, err)

	writeOrphan(t, env, "partial", start.Unix())
	env.mr.HSet("idx:primary:email:users", "partial@x.com", "partial")

	stats, err := newTestReconciler(env, start.Add(10*time.Minute)).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepStats{Checked: 4, Orphans: 1, Dangling: 1, Partial: 1}, stats)

	assert.False(t, env.mr.Exists("users:old-orphan"))
	assert.False(t, env.mr.Exists("token:users:old-orphan"))
	assert.Empty(t, env.mr.HGet("idx:token:users", "orphan-token"))

	created, err := env.mr.ZMembers("idx:users")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{healthy.User.ID, "fresh-orphan", "partial"}, created)

	updated, err := env.mr.ZMembers("idx:upd:users")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{healthy.User.ID, "fresh-orphan", "partial"}, updated)

	assert.True(t, env.mr.Exists("users:"+healthy.User.ID))
	assert.True(t, env.mr.Exists("users:fresh-orphan"))
	assert.True(t, env.mr.Exists("users:partial"))

	// A healthy account is untouched and can still log in.
	_, err = env.svc.Login(ctx, model.LoginRequest{Email: "alice", Password: "secret1"})
	require.NoError(t, err)
}

func TestReconcilerSweepPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	for i := 0; i < sweepPageSize+20; i++ {
		writeOrphan(t, env, fmt.Sprintf("orphan-%03d", i), start.Unix())
	}

	stats, err := newTestReconciler(env, start.Add(time.Hour)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweepPageSize+20, stats.Orphans)

	// Removing the last member deletes the sorted set itself.
	assert.False(t, env.mr.Exists("idx:users"))
	assert.False(t, env.mr.Exists("idx:upd:users"))
}

// sweepingIdentities runs a sweep right before each reservation, the window
// between a registration's profile write and its index entries.
type sweepingIdentities struct {
	*repository.IdentityIndex
	beforeReserve func()
}

func (x sweepingIdentities) Reserve(ctx context.Context, email, username, id string) error {
	x.beforeReserve()
	return x.IdentityIndex.Reserve(ctx, email, username, id)
}

func TestReconcilerSweepDuringRegistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reconciler := newTestReconciler(env, time.Unix(1700000000, 0).Add(10*time.Minute))

	var (
		stats    SweepStats
		sweepErr error
	)
	identities := sweepingIdentities{env.identities, func() {
		stats, sweepErr = reconciler.Sweep(ctx)
	}}
	svc := NewAuthService(env.store, identities, env.credentials, env.tokens, env.hasher)
	svc.now = env.svc.now

	_, err := svc.Register(ctx, registration("a@x.com", "alice", "secret1"))
	require.ErrorIs(t, err, repository.ErrProfileGone)
	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, CodeRegisterCreate, opErr.Code)

	require.NoError(t, sweepErr)
	assert.Equal(t, 1, stats.Orphans)

	// Nothing points at the removed profile, so the identity stays free.
	assert.False(t, env.mr.Exists("idx:primary:email:users"))
	assert.False(t, env.mr.Exists("idx:primary:username:users"))

	_, err = env.svc.Register(ctx, registration("a@x.com", "alice", "secret1"))
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)
}

func TestReconcilerSweepStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mr.SetError("ERR simulated outage")

	_, err := newTestReconciler(env, time.Now()).Sweep(context.Background())
	require.Error(t, err)
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		newTestReconciler(env, time.Now()).Run(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
