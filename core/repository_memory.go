package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryUserRepository keeps users in process memory. It backs tests and the
// memory:// development mode; records do not survive a restart.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]UserRecord
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]UserRecord)}
}

func (r *MemoryUserRepository) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, username, passwordHash string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[username]; exists {
		return 0, fmt.Errorf("duplicate username %q", username)
	}
	r.nextID++
	r.users[username] = UserRecord{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	return r.nextID, nil
}

func (r *MemoryUserRepository) HasAny(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users) > 0, nil
}

func (r *MemoryUserRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}
