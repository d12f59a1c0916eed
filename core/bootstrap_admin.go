package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"os"
)

// BootstrapAdmin creates an initial admin user when the user store is empty.
// It is idempotent: if any user already exists, it does nothing.
func BootstrapAdmin(ctx context.Context, repo UserRepository, cfg Config) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}

	has, err := repo.HasAny(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	username := firstNonEmpty(cfg.BootstrapAdminUsername, "admin")
	password := cfg.BootstrapAdminPassword
	generated := password == ""
	if generated {
		password, err = generatePassword(32)
		if err != nil {
			return err
		}
	}

	hash, err := HashPassword(password, cfg.BcryptCost)
	if err != nil {
		return err
	}

	if _, err := repo.Create(ctx, username, hash); err != nil {
		return err
	}

	switch {
	case !generated:
		log.Printf("initial user %s created with configured password", username)
	case cfg.InitialAdminPasswordPath != "":
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		log.Printf("initial user %s created; credentials written to %s", username, cfg.InitialAdminPasswordPath)
	default:
		log.Printf("initial user created username=%s password=%s", username, password)
	}

	return nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	// base64 encoding: need 3/4 overhead; ensure enough bytes
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
