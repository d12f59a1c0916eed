package core

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionTokenEntropyAndUniqueness(t *testing.T) {
	const samples = 20000
	seen := make(map[string]struct{}, samples)
	for i := 0; i < samples; i++ {
		tok, err := NewSessionToken()
		require.NoError(t, err)
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(raw)*8, 128)
		require.True(t, wellFormedToken(tok))
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token after %d samples", i)
		seen[tok] = struct{}{}
	}
}

func TestSessionCreateThenResolve(t *testing.T) {
	cfg := testConfig()
	mgr, mr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	id := Identity{ID: 1, Username: "admin"}
	sess, err := mgr.Create(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.NotEmpty(t, sess.CSRFToken)
	assert.Equal(t, cfg.SessionTTL, sess.ExpiresAt.Sub(sess.CreatedAt))
	assert.NotContains(t, sess.Token, "admin")

	key := cfg.SessionKeyPrefix + sess.Token
	require.True(t, mr.Exists(key))
	assert.Equal(t, cfg.SessionTTL, mr.TTL(key))

	got, err := mgr.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, id, got.Identity())
	assert.Equal(t, sess.Token, got.Token)
	assert.Equal(t, sess.CSRFToken, got.CSRFToken)
}

func TestSessionCreateNeverRepeatsTokens(t *testing.T) {
	mgr, _, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	seen := map[string]struct{}{}
	for i := 0; i < 500; i++ {
		sess, err := mgr.Create(ctx, Identity{ID: 7, Username: "same-user"})
		require.NoError(t, err)
		_, dup := seen[sess.Token]
		require.False(t, dup)
		seen[sess.Token] = struct{}{}
	}
}

func TestSessionConcurrentCreatesForSameUserAreIndependent(t *testing.T) {
	mgr, _, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
			if err == nil {
				tokens[i] = sess.Token
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]struct{}{}
	for _, tok := range tokens {
		require.NotEmpty(t, tok)
		_, err := mgr.Resolve(ctx, tok)
		require.NoError(t, err)
		seen[tok] = struct{}{}
	}
	assert.Len(t, seen, len(tokens))
}

func TestSessionInvalidate(t *testing.T) {
	mgr, _, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)

	require.NoError(t, mgr.Invalidate(ctx, sess.Token))
	_, err = mgr.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// second invalidate is a no-op
	require.NoError(t, mgr.Invalidate(ctx, sess.Token))
	require.NoError(t, mgr.Invalidate(ctx, "not-a-token"))
}

func TestSessionExpiresWithStoreTTL(t *testing.T) {
	cfg := testConfig()
	mgr, mr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)

	mr.FastForward(cfg.SessionTTL - time.Second)
	_, err = mgr.Resolve(ctx, sess.Token)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = mgr.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionRecordPastExpiryIsRejected(t *testing.T) {
	mgr, _, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)

	// The key is still in the store but the clock says the session is over.
	mgr.now = func() time.Time { return sess.ExpiresAt.Add(time.Second) }
	_, err = mgr.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionResolveRejectsUnknownAndMalformedTokens(t *testing.T) {
	cfg := testConfig()
	mgr, mr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	never, err := NewSessionToken()
	require.NoError(t, err)

	for _, tok := range []string{"", "abc", strings.Repeat("!", 43), never} {
		_, err := mgr.Resolve(ctx, tok)
		assert.ErrorIs(t, err, ErrUnauthenticated, "token %q", tok)
	}

	// corrupt record
	bad, err := NewSessionToken()
	require.NoError(t, err)
	require.NoError(t, mr.Set(cfg.SessionKeyPrefix+bad, "{not json"))
	_, err = mgr.Resolve(ctx, bad)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionCreateStoreOutageLeavesNothingBehind(t *testing.T) {
	mgr, mr, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	mr.SetError("LOADING redis is loading the dataset in memory")
	_, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	mr.SetError("")
	assert.Empty(t, mr.Keys())
}

func TestSessionResolveStoreOutage(t *testing.T) {
	mgr, mr, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)

	mr.SetError("ERR server down")
	_, err = mgr.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrUnauthenticated)

	err = mgr.Invalidate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSessionStoreTimeout(t *testing.T) {
	mgr, err := NewSessionManager(blockingStore{}, SessionManagerConfig{
		TTL:          time.Hour,
		StoreTimeout: 20 * time.Millisecond,
		KeyPrefix:    "sess:",
	})
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Now()
	_, err = mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	tok, err := NewSessionToken()
	require.NoError(t, err)
	_, err = mgr.Resolve(ctx, tok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSessionCreateRegeneratesOnCollision(t *testing.T) {
	cfg := testConfig()
	mgr, mr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	taken, err := NewSessionToken()
	require.NoError(t, err)
	fresh, err := NewSessionToken()
	require.NoError(t, err)
	require.NoError(t, mr.Set(cfg.SessionKeyPrefix+taken, "existing"))

	queue := []string{taken, fresh}
	mgr.newToken = func() (string, error) {
		tok := queue[0]
		queue = queue[1:]
		return tok, nil
	}

	sess, err := mgr.Create(ctx, Identity{ID: 2, Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, fresh, sess.Token)

	existing, err := mr.Get(cfg.SessionKeyPrefix + taken)
	require.NoError(t, err)
	assert.Equal(t, "existing", existing, "existing record must not be overwritten")
}

func TestSessionCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	cfg := testConfig()
	mgr, mr, _ := newTestManager(t, cfg)

	taken, err := NewSessionToken()
	require.NoError(t, err)
	require.NoError(t, mr.Set(cfg.SessionKeyPrefix+taken, "existing"))
	mgr.newToken = func() (string, error) { return taken, nil }

	_, err = mgr.Create(context.Background(), Identity{ID: 2, Username: "bob"})
	assert.True(t, errors.Is(err, errTokenCollision))
}

func TestSessionRefreshOnAccessSlidesExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.SessionRefreshOnAccess = true
	mgr, mr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)

	mr.FastForward(40 * time.Minute)
	_, err = mgr.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, cfg.SessionTTL, mr.TTL(cfg.SessionKeyPrefix+sess.Token))

	mr.FastForward(40 * time.Minute)
	_, err = mgr.Resolve(ctx, sess.Token)
	require.NoError(t, err, "refreshed session should outlive the original ttl")
}

func TestSessionRefreshDoesNotResurrectInvalidated(t *testing.T) {
	cfg := testConfig()
	cfg.SessionRefreshOnAccess = true
	mgr, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)
	require.NoError(t, mgr.Invalidate(ctx, sess.Token))

	_, err = mgr.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionWithoutRefreshKeepsOriginalTTL(t *testing.T) {
	cfg := testConfig()
	mgr, mr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, Identity{ID: 1, Username: "admin"})
	require.NoError(t, err)

	mr.FastForward(40 * time.Minute)
	_, err = mgr.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, mr.TTL(cfg.SessionKeyPrefix+sess.Token))

	mr.FastForward(21 * time.Minute)
	_, err = mgr.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewSessionManagerValidation(t *testing.T) {
	_, err := NewSessionManager(nil, SessionManagerConfig{TTL: time.Hour, StoreTimeout: time.Second})
	assert.Error(t, err)
	_, err = NewSessionManager(blockingStore{}, SessionManagerConfig{TTL: 0, StoreTimeout: time.Second})
	assert.Error(t, err)
	_, err = NewSessionManager(blockingStore{}, SessionManagerConfig{TTL: time.Hour})
	assert.Error(t, err)
}
