package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmailTaken    = errors.New("email already reserved")
	ErrUsernameTaken = errors.New("username already reserved")
	ErrProfileGone   = errors.New("profile missing at reservation")
)

// Owners holds the ids the email and username indices resolve to. An empty
// string means the entry is absent.
type Owners struct {
	Email    string
	Username string
}

// reserveScript sets both index entries only when neither value is claimed in
// either index and the profile they point at still exists. It returns 1 when
// the email is taken, 2 when the username is taken, 3 when the profile is
// gone, 0 on success. Redis runs the script atomically, so two registrations
// racing for the same identity cannot both succeed, and a sweep that removed
// the profile cannot leave entries pointing at nothing.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
	return 3
end
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 or redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
	return 1
end
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 1 or redis.call('HEXISTS', KEYS[1], ARGV[2]) == 1 then
	return 2
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 0
`)

// IdentityIndex maintains the email and username reverse lookups and the
// creation and update time indices.
type IdentityIndex struct {
	store *Store
}

// NewIdentityIndex creates a new IdentityIndex.
func NewIdentityIndex(store *Store) *IdentityIndex {
	return &IdentityIndex{store: store}
}

// Lookup resolves both probes in a single round trip. The two results are
// independent of each other.
func (x *IdentityIndex) Lookup(ctx context.Context, email, username string) (Owners, error) {
	keys := x.store.Keys()

	var emailCmd, usernameCmd *redis.StringCmd
	err := x.store.Pipeline(ctx, "lookup identity", func(pipe redis.Pipeliner) error {
		emailCmd = pipe.HGet(ctx, keys.EmailIndex(), email)
		usernameCmd = pipe.HGet(ctx, keys.UsernameIndex(), username)
		return nil
	})
	if err != nil {
		return Owners{}, err
	}

	var owners Owners
	if owners.Email, err = stringOrEmpty("lookup email", emailCmd); err != nil {
		return Owners{}, err
	}
	if owners.Username, err = stringOrEmpty("lookup username", usernameCmd); err != nil {
		return Owners{}, err
	}

	return owners, nil
}

// Claims reports who already holds email or username in either index, so a
// value can never be an email for one account and a username for another.
// Owners.Email is the holder of email, Owners.Username the holder of username.
func (x *IdentityIndex) Claims(ctx context.Context, email, username string) (Owners, error) {
	keys := x.store.Keys()

	var cmds [4]*redis.StringCmd
	err := x.store.Pipeline(ctx, "check identity claims", func(pipe redis.Pipeliner) error {
		cmds[0] = pipe.HGet(ctx, keys.EmailIndex(), email)
		cmds[1] = pipe.HGet(ctx, keys.UsernameIndex(), email)
		cmds[2] = pipe.HGet(ctx, keys.UsernameIndex(), username)
		cmds[3] = pipe.HGet(ctx, keys.EmailIndex(), username)
		return nil
	})
	if err != nil {
		return Owners{}, err
	}

	var ids [4]string
	for i, cmd := range cmds {
		if ids[i], err = stringOrEmpty("check identity claims", cmd); err != nil {
			return Owners{}, err
		}
	}

	return Owners{Email: firstNonEmpty(ids[0], ids[1]), Username: firstNonEmpty(ids[2], ids[3])}, nil
}

// Reserve points both index entries at id, or neither. It returns
// ErrEmailTaken or ErrUsernameTaken (email first) when a value is already
// claimed in either index, and ErrProfileGone when users:<id> no longer exists.
func (x *IdentityIndex) Reserve(ctx context.Context, email, username, id string) error {
	keys := x.store.Keys()

	res, err := reserveScript.Run(ctx, x.store.rdb,
		[]string{keys.EmailIndex(), keys.UsernameIndex(), keys.User(id)},
		email, username, id,
	).Int()
	if err != nil {
		return unavailable("reserve identity", err)
	}

	switch res {
	case 1:
		return ErrEmailTaken
	case 2:
		return ErrUsernameTaken
	case 3:
		return ErrProfileGone
	default:
		return nil
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Track queues the creation and update index appends for id onto pipe.
func (x *IdentityIndex) Track(ctx context.Context, pipe redis.Pipeliner, id string, ts int64) {
	keys := x.store.Keys()
	pipe.ZAdd(ctx, keys.CreatedIndex(), redis.Z{Score: float64(ts), Member: id})
	pipe.ZAdd(ctx, keys.UpdatedIndex(), redis.Z{Score: float64(ts), Member: id})
}

// Untrack queues the removal of id from both time indices onto pipe.
func (x *IdentityIndex) Untrack(ctx context.Context, pipe redis.Pipeliner, id string) {
	keys := x.store.Keys()
	pipe.ZRem(ctx, keys.CreatedIndex(), id)
	pipe.ZRem(ctx, keys.UpdatedIndex(), id)
}

// CreatedBefore lists ids created strictly before ts, oldest first.
func (x *IdentityIndex) CreatedBefore(ctx context.Context, ts int64, offset, count int64) ([]string, error) {
	ids, err := x.store.rdb.ZRangeByScore(ctx, x.store.Keys().CreatedIndex(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "(" + strconv.FormatInt(ts, 10),
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, unavailable("list created", err)
	}
	return ids, nil
}
