package core

import (
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

// SessionCookie binds session tokens to a signed cookie.
type SessionCookie struct {
	name    string
	codec   *securecookie.SecureCookie
	options sessions.Options
}

// NewSessionCookie builds the cookie codec from cfg. The token is HMAC-signed with
// cfg.SessionKey so tampered or foreign cookies are rejected before any store lookup.
func NewSessionCookie(cfg Config) *SessionCookie {
	maxAge := int(cfg.SessionTTL.Seconds())
	codec := securecookie.New([]byte(cfg.SessionKey), nil)
	codec.MaxAge(maxAge)
	return &SessionCookie{
		name:  cfg.SessionCookieName,
		codec: codec,
		options: sessions.Options{
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: cfg.CookieHTTPOnly,
			Secure:   cfg.CookieSecure,
			SameSite: sameSiteFromString(cfg.CookieSameSite),
		},
	}
}

// Name is the cookie name.
func (c *SessionCookie) Name() string {
	return c.name
}

// Set writes the signed token cookie to w.
func (c *SessionCookie) Set(w http.ResponseWriter, token string) error {
	encoded, err := c.codec.Encode(c.name, token)
	if err != nil {
		return err
	}
	opts := c.options
	http.SetCookie(w, sessions.NewCookie(c.name, encoded, &opts))
	return nil
}

// Clear expires the cookie on the client.
func (c *SessionCookie) Clear(w http.ResponseWriter) {
	opts := c.options
	opts.MaxAge = -1
	http.SetCookie(w, sessions.NewCookie(c.name, "", &opts))
}

// Token extracts and verifies the token from r. A missing, unsigned or
// stale cookie is ErrUnauthenticated.
func (c *SessionCookie) Token(r *http.Request) (string, error) {
	ck, err := r.Cookie(c.name)
	if err != nil {
		return "", ErrUnauthenticated
	}
	var token string
	if err := c.codec.Decode(c.name, ck.Value, &token); err != nil {
		return "", ErrUnauthenticated
	}
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
