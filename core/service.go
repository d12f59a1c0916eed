package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// VerifierConfig tunes the credential verifier.
type VerifierConfig struct {
	StoreTimeout     time.Duration // bound for a single user lookup
	HashConcurrency  int           // max bcrypt comparisons in flight
	MaxPasswordBytes int           // longer passwords are rejected unhashed
	BcryptCost       int           // cost of the dummy hash used for unknown users
}

// RepositoryAuthService verifies credentials against a UserRepository using bcrypt.
// It is read-only and holds no per-call state.
type RepositoryAuthService struct {
	users       UserRepository
	timeout     time.Duration
	maxPassword int
	hashSlots   *semaphore.Weighted
	dummyHash   []byte
}

// NewRepositoryAuthService builds a verifier over users.
func NewRepositoryAuthService(users UserRepository, cfg VerifierConfig) (*RepositoryAuthService, error) {
	if users == nil {
		return nil, errors.New("user repository is required")
	}
	if cfg.StoreTimeout <= 0 {
		return nil, errors.New("store timeout must be > 0")
	}
	if cfg.HashConcurrency <= 0 {
		cfg.HashConcurrency = 1
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = 72
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	// Unknown usernames are compared against this hash so they cost as much as a wrong password.
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	dummy, err := bcrypt.GenerateFromPassword(seed, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("build dummy hash: %w", err)
	}

	return &RepositoryAuthService{
		users:       users,
		timeout:     cfg.StoreTimeout,
		maxPassword: cfg.MaxPasswordBytes,
		hashSlots:   semaphore.NewWeighted(int64(cfg.HashConcurrency)),
		dummyHash:   dummy,
	}, nil
}

// Verify checks username/password and returns the matching identity.
// Failures are ErrInvalidUsername, ErrInvalidPassword or ErrStoreUnavailable.
func (s *RepositoryAuthService) Verify(ctx context.Context, username, password string) (Identity, error) {
	if username == "" {
		return Identity{}, ErrInvalidUsername
	}
	if password == "" || len(password) > s.maxPassword {
		return Identity{}, ErrInvalidPassword
	}

	u, err := s.lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			if _, cmpErr := s.compare(ctx, s.dummyHash, password); cmpErr != nil {
				return Identity{}, cmpErr
			}
			return Identity{}, ErrInvalidUsername
		}
		return Identity{}, fmt.Errorf("%w: user lookup: %w", ErrStoreUnavailable, err)
	}

	ok, err := s.compare(ctx, []byte(u.PasswordHash), password)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, ErrInvalidPassword
	}
	return u.Identity(), nil
}

func (s *RepositoryAuthService) lookup(ctx context.Context, username string) (*UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// compare runs bcrypt inside the hashing pool. The error is non-nil only when
// ctx ends while waiting for a slot.
func (s *RepositoryAuthService) compare(ctx context.Context, hash []byte, password string) (bool, error) {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.hashSlots.Release(1)
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

// HashPassword hashes password with the given bcrypt cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
