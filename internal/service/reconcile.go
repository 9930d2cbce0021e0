package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vaultpass/identity-go/internal/repository"
)

const sweepPageSize = 100

// SweepStats summarizes one reconciliation pass.
type SweepStats struct {
	Checked  int
	Orphans  int
	Dangling int
	Partial  int
}

// Reconciler removes profiles that no identity index entry points at, which
// registration leaves behind when it fails between the profile write and the
// reservation, or loses a reservation race.
type Reconciler struct {
	store       *repository.Store
	identities  *repository.IdentityIndex
	credentials *repository.CredentialStore
	tokens      *repository.TokenStore
	logger      *zerolog.Logger
	grace       time.Duration
	now         func() time.Time
}

// NewReconciler creates a Reconciler. Profiles younger than grace are skipped
// because their registration may still be in flight.
func NewReconciler(
	store *repository.Store,
	identities *repository.IdentityIndex,
	credentials *repository.CredentialStore,
	tokens *repository.TokenStore,
	logger *zerolog.Logger,
	grace time.Duration,
) *Reconciler {
	return &Reconciler{
		store:       store,
		identities:  identities,
		credentials: credentials,
		tokens:      tokens,
		logger:      logger,
		grace:       grace,
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("reconcile sweep failed")
				continue
			}
			r.logger.Info().
				Int("checked", stats.Checked).
				Int("orphans", stats.Orphans).
				Int("dangling", stats.Dangling).
				Int("partial", stats.Partial).
				Msg("reconcile sweep finished")
		}
	}
}

// Sweep makes one pass over the creation index.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	cutoff := r.now().Add(-r.grace).Unix()

	var offset int64
	for {
		ids, err := r.identities.CreatedBefore(ctx, cutoff, offset, sweepPageSize)
		if err != nil {
			return stats, err
		}

		for _, id := range ids {
			removed, err := r.check(ctx, id, &stats)
			if err != nil {
				return stats, err
			}
			// Removed members shift the remaining ones down.
			if !removed {
				offset++
			}
		}

		if len(ids) < sweepPageSize {
			return stats, nil
		}
	}
}

func (r *Reconciler) check(ctx context.Context, id string, stats *SweepStats) (bool, error) {
	stats.Checked++

	user, err := r.credentials.ReadProfile(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		stats.Dangling++
		return true, r.remove(ctx, id, false)
	}
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return false, err
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", id).Msg("skipping unreadable profile")
		return false, nil
	}

	owners, err := r.identities.Lookup(ctx, user.Email, user.Username)
	if err != nil {
		return false, err
	}

	switch {
	case owners.Email == id && owners.Username == id:
		return false, nil
	case owners.Email != id && owners.Username != id:
		stats.Orphans++
		r.logger.Info().Str("user_id", id).Msg("removing orphaned profile")
		return true, r.remove(ctx, id, true)
	default:
		stats.Partial++
		r.logger.Warn().
			Str("user_id", id).
			Bool("email_indexed", owners.Email == id).
			Bool("username_indexed", owners.Username == id).
			Msg("profile is only partially indexed")
		return false, nil
	}
}

func (r *Reconciler) remove(ctx context.Context, id string, withProfile bool) error {
	token, err := r.tokens.Current(ctx, id)
	if err != nil {
		return err
	}

	return r.store.Batch(ctx, "remove orphan", func(pipe redis.Pipeliner) error {
		if withProfile {
			r.credentials.DeleteProfile(ctx, pipe, id)
		}
		r.identities.Untrack(ctx, pipe, id)
		r.tokens.Discard(ctx, pipe, id, token)
		return nil
	})
}
