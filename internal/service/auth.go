package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultpass/identity-go/internal/crypto"
	"github.com/vaultpass/identity-go/internal/model"
	"github.com/vaultpass/identity-go/internal/repository"
)

// Batcher sends queued store commands as one atomic round trip.
type Batcher interface {
	Batch(ctx context.Context, op string, fn func(redis.Pipeliner) error) error
}

// Identities is the email/username index the flows resolve and reserve against.
type Identities interface {
	Claims(ctx context.Context, email, username string) (repository.Owners, error)
	Lookup(ctx context.Context, email, username string) (repository.Owners, error)
	Reserve(ctx context.Context, email, username, id string) error
	Track(ctx context.Context, pipe redis.Pipeliner, id string, ts int64)
}

// Credentials is the per-user profile and password hash store.
type Credentials interface {
	WriteProfile(ctx context.Context, pipe redis.Pipeliner, user *model.User)
	ReadProfile(ctx context.Context, id string) (*model.User, error)
	VerifyPassword(ctx context.Context, id, candidate string) (bool, error)
}

// Tokens issues opaque bearer tokens.
type Tokens interface {
	Issue(ctx context.Context, id string) (string, error)
}

// PasswordHasher produces the one-way hash stored with a new profile.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// AuthService handles registration, login, and profile reads.
type AuthService struct {
	store       Batcher
	identities  Identities
	credentials Credentials
	tokens      Tokens
	hasher      PasswordHasher
	now         func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	store Batcher,
	identities Identities,
	credentials Credentials,
	tokens Tokens,
	hasher PasswordHasher,
) *AuthService {
	return &AuthService{
		store:       store,
		identities:  identities,
		credentials: credentials,
		tokens:      tokens,
		hasher:      hasher,
		now:         time.Now,
	}
}

// Register creates a new account and returns it with a freshly issued token.
// The request must already be validated.
//
// The profile is written before the identity is reserved, so a failure
// between the two leaves an unreachable profile for the reconciler rather than
// an index entry pointing at nothing.
func (s *AuthService) Register(ctx context.Context, req model.CreateUserRequest) (model.AuthResponse, error) {
	owners, err := s.identities.Claims(ctx, req.Email, req.Username)
	if err != nil {
		return model.AuthResponse{}, opError("check email/username", CodeRegisterLookup, err)
	}
	if owners.Email != "" {
		return model.AuthResponse{}, ErrEmailExists
	}
	if owners.Username != "" {
		return model.AuthResponse{}, ErrUsernameExists
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.AuthResponse{}, opError("hash password", CodeRegisterCreate, err)
	}

	now := s.now().Unix()
	user := &model.User{
		ID:           crypto.NewID(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.Batch(ctx, "create user", func(pipe redis.Pipeliner) error {
		s.credentials.WriteProfile(ctx, pipe, user)
		s.identities.Track(ctx, pipe, user.ID, now)
		return nil
	})
	if err != nil {
		return model.AuthResponse{}, opError("create user", CodeRegisterCreate, err)
	}

	// The conditional reservation, not the check above, decides ownership. It
	// fails with ErrProfileGone when a sweep removed the profile meanwhile.
	if err := s.identities.Reserve(ctx, user.Email, user.Username, user.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return model.AuthResponse{}, ErrEmailExists
		case errors.Is(err, repository.ErrUsernameTaken):
			return model.AuthResponse{}, ErrUsernameExists
		default:
			return model.AuthResponse{}, opError("reserve email/username", CodeRegisterCreate, err)
		}
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return model.AuthResponse{}, err
	}

	return model.AuthResponse{
		Token: token,
		User:  user.Response(),
	}, nil
}

// Login authenticates by email or username and returns a new token,
// replacing any previously issued one.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error) {
	owners, err := s.identities.Lookup(ctx, req.Email, req.Email)
	if err != nil {
		return model.AuthResponse{}, opError("check email/username", CodeLoginLookup, err)
	}

	id := owners.Email
	if id == "" {
		id = owners.Username
	}
	if id == "" {
		return model.AuthResponse{}, ErrIdentifierNotFound
	}

	ok, err := s.credentials.VerifyPassword(ctx, id, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.AuthResponse{}, ErrIdentifierNotFound
		}
		return model.AuthResponse{}, opError("verify password", CodeLoginPassword, err)
	}
	if !ok {
		return model.AuthResponse{}, ErrBadCredentials
	}

	user, err := s.credentials.ReadProfile(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.AuthResponse{}, ErrIdentifierNotFound
		}
		return model.AuthResponse{}, opError("get user", CodeLoginReadUser, err)
	}

	token, err := s.issueToken(ctx, id)
	if err != nil {
		return model.AuthResponse{}, err
	}

	return model.AuthResponse{
		Token: token,
		User:  user.Response(),
	}, nil
}

// GetUser retrieves a user by ID and returns safe user data.
func (s *AuthService) GetUser(ctx context.Context, id string) (model.UserResponse, error) {
	user, err := s.credentials.ReadProfile(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrUserNotFound
		}
		return model.UserResponse{}, opError("get user", CodeProfileRead, err)
	}

	return user.Response(), nil
}

// issueToken does not undo the steps that preceded it: an account whose token
// could not be issued still exists and can log in.
func (s *AuthService) issueToken(ctx context.Context, id string) (string, error) {
	token, err := s.tokens.Issue(ctx, id)
	if err != nil {
		return "", opError("issue auth token", CodeTokenIssue, fmt.Errorf("%w: %w", ErrTokenIssuanceFailed, err))
	}
	return token, nil
}
