package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := Defaults()
	cfg.SessionKey = "test-session-key-0123456789abcdef"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.HashConcurrency = 2
	cfg.StoreTimeout = 500 * time.Millisecond
	cfg.BootstrapAdminEnabled = false
	return cfg
}

func newTestManager(t *testing.T, cfg Config) (*SessionManager, *miniredis.Miniredis, *RedisSessionStore) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb)
	mgr, err := NewSessionManager(store, SessionManagerConfig{
		TTL:             cfg.SessionTTL,
		StoreTimeout:    cfg.StoreTimeout,
		KeyPrefix:       cfg.SessionKeyPrefix,
		RefreshOnAccess: cfg.SessionRefreshOnAccess,
	})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return mgr, mr, store
}

// seedUser stores username/password hashed at cost.
func seedUser(t *testing.T, repo UserRepository, username, password string, cost int) int64 {
	t.Helper()
	hash, err := HashPassword(password, cost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	id, err := repo.Create(context.Background(), username, hash)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

// failingUsers is a UserRepository whose every call fails with err.
type failingUsers struct {
	err error
}

func (f failingUsers) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	return nil, f.err
}
func (f failingUsers) Create(ctx context.Context, username, passwordHash string) (int64, error) {
	return 0, f.err
}
func (f failingUsers) HasAny(ctx context.Context) (bool, error) { return false, f.err }
func (f failingUsers) Ping(ctx context.Context) error          { return f.err }

// blockingUsers blocks lookups until ctx is done.
type blockingUsers struct {
	MemoryUserRepository
}

func (b *blockingUsers) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// blockingStore is a SessionStore that never answers before ctx ends.
type blockingStore struct{}

func (blockingStore) Get(ctx context.Context, key string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}
func (blockingStore) SetXX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}
func (blockingStore) Delete(ctx context.Context, key string) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingStore) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
