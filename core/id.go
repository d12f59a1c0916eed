package core

import (
	"crypto/rand"
	"encoding/base64"
)

// sessionTokenBytes is the raw entropy of a session token (256 bits).
const sessionTokenBytes = 32

// NewSessionToken returns an unguessable base64url token drawn from crypto/rand.
func NewSessionToken() (string, error) {
	return randomToken(sessionTokenBytes)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// wellFormedToken reports whether token could have been produced by NewSessionToken.
func wellFormedToken(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(sessionTokenBytes) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == sessionTokenBytes
}
