package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// maxTokenAttempts bounds regeneration when SET NX reports an existing key.
const maxTokenAttempts = 3

// errTokenCollision is returned when every generated token already existed.
var errTokenCollision = errors.New("session token collision")

// Session is the server-side record bound to a token. Token is the store key
// and is not part of the stored JSON.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	CSRFToken string    `json:"csrf_token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity returns the principal the session was created for.
func (s Session) Identity() Identity {
	return Identity{ID: s.UserID, Username: s.Username}
}

// SessionManagerConfig tunes session lifetime and store access.
type SessionManagerConfig struct {
	TTL             time.Duration
	StoreTimeout    time.Duration
	KeyPrefix       string
	RefreshOnAccess bool
}

// SessionManager creates, resolves and invalidates sessions in a SessionStore.
// It keeps no session state of its own.
type SessionManager struct {
	store    SessionStore
	ttl      time.Duration
	timeout  time.Duration
	prefix   string
	refresh  bool
	now      func() time.Time
	newToken func() (string, error)
}

func NewSessionManager(store SessionStore, cfg SessionManagerConfig) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	if cfg.StoreTimeout <= 0 {
		return nil, errors.New("store timeout must be > 0")
	}
	return &SessionManager{
		store:    store,
		ttl:      cfg.TTL,
		timeout:  cfg.StoreTimeout,
		prefix:   cfg.KeyPrefix,
		refresh:  cfg.RefreshOnAccess,
		now:      time.Now,
		newToken: NewSessionToken,
	}, nil
}

// TTL is the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// KeyPrefix is the store namespace for session records.
func (m *SessionManager) KeyPrefix() string {
	return m.prefix
}

func (m *SessionManager) key(token string) string {
	return m.prefix + token
}

// Create stores a new session for id and returns it with its token.
// A store failure yields ErrStoreUnavailable and nothing is written.
func (m *SessionManager) Create(ctx context.Context, id Identity) (Session, error) {
	csrf, err := randomToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("generate csrf token: %w", err)
	}
	now := m.now().UTC()
	sess := Session{
		UserID:    id.ID,
		Username:  id.Username,
		CSRFToken: csrf,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := m.newToken()
		if err != nil {
			return Session{}, fmt.Errorf("generate session token: %w", err)
		}
		created, err := m.setNX(ctx, m.key(token), data)
		if err != nil {
			return Session{}, storeError("create", err)
		}
		if created {
			sess.Token = token
			return sess, nil
		}
	}
	return Session{}, errTokenCollision
}

// Resolve returns the live session for token. Missing, malformed, expired or
// corrupt sessions yield ErrUnauthenticated.
func (m *SessionManager) Resolve(ctx context.Context, token string) (Session, error) {
	if !wellFormedToken(token) {
		return Session{}, ErrUnauthenticated
	}
	data, err := m.get(ctx, m.key(token))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrUnauthenticated
		}
		return Session{}, storeError("resolve", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, ErrUnauthenticated
	}
	now := m.now().UTC()
	if !now.Before(sess.ExpiresAt) {
		return Session{}, ErrUnauthenticated
	}
	sess.Token = token

	if m.refresh {
		sess.ExpiresAt = now.Add(m.ttl)
		data, err := json.Marshal(sess)
		if err != nil {
			return Session{}, fmt.Errorf("encode session: %w", err)
		}
		ok, err := m.setXX(ctx, m.key(token), data)
		if err != nil {
			return Session{}, storeError("refresh", err)
		}
		if !ok {
			// invalidated or expired between GET and SET XX
			return Session{}, ErrUnauthenticated
		}
	}
	return sess, nil
}

// Invalidate deletes the session. Unknown tokens are not an error.
func (m *SessionManager) Invalidate(ctx context.Context, token string) error {
	if !wellFormedToken(token) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.store.Delete(ctx, m.key(token)); err != nil {
		return storeError("invalidate", err)
	}
	return nil
}

func (m *SessionManager) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store.Get(ctx, key)
}

func (m *SessionManager) setNX(ctx context.Context, key string, data []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store.SetNX(ctx, key, data, m.ttl)
}

func (m *SessionManager) setXX(ctx context.Context, key string, data []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store.SetXX(ctx, key, data, m.ttl)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: session %s: %w", ErrStoreUnavailable, op, err)
}
