package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storewatch-api/core"
)

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	users, closeUsers, err := core.OpenUserRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open user store: %v", err)
	}
	defer closeUsers()

	// Redis must answer PING before we serve.
	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	if err := core.BootstrapAdmin(ctx, users, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	authService, err := core.NewRepositoryAuthService(users, core.VerifierConfig{
		StoreTimeout:     cfg.StoreTimeout,
		HashConcurrency:  cfg.HashConcurrency,
		MaxPasswordBytes: cfg.MaxPasswordBytes,
		BcryptCost:       cfg.BcryptCost,
	})
	if err != nil {
		log.Fatalf("failed to build credential verifier: %v", err)
	}

	sessionStore := core.NewRedisSessionStore(redisClient)
	sessions, err := core.NewSessionManager(sessionStore, core.SessionManagerConfig{
		TTL:             cfg.SessionTTL,
		StoreTimeout:    cfg.StoreTimeout,
		KeyPrefix:       cfg.SessionKeyPrefix,
		RefreshOnAccess: cfg.SessionRefreshOnAccess,
	})
	if err != nil {
		log.Fatalf("failed to build session manager: %v", err)
	}

	router := core.NewRouter(cfg, core.Dependencies{
		Auth:     authService,
		Sessions: sessions,
		Cookie:   core.NewSessionCookie(cfg),
		Status:   core.NewStatusCollector(sessionStore, users, cfg.SessionKeyPrefix, cfg.StoreTimeout),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("starting api server on %s (session ttl=%s refresh_on_access=%t)", srv.Addr, cfg.SessionTTL, cfg.SessionRefreshOnAccess)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
	log.Printf("api server stopped")
}
