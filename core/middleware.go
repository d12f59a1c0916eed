package core

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	sessionContextKey   = "session"
	requestIDContextKey = "request_id"
	requestIDHeader     = "X-Request-ID"
	csrfHeader          = "X-CSRF-Token"
)

// RequestIDMiddleware tags each request with an id for log correlation.
// Client-supplied ids are kept only when they parse as UUIDs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequireSession is the gate in front of protected routes. It resolves the
// session cookie and attaches the identity to the gin and request contexts.
// A missing cookie is treated exactly like an invalid token.
func RequireSession(cookie *SessionCookie, sessions SessionService, reissue bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := cookie.Token(c.Request)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}

		sess, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnauthenticated):
				cookie.Clear(c.Writer)
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			case errors.Is(err, ErrStoreUnavailable):
				logRequest(c, "session resolve failed: %v", err)
				respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "session store unavailable")
			default:
				logRequest(c, "session resolve error: %v", err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
			}
			c.Abort()
			return
		}

		// Sliding sessions need a fresh cookie so browser max-age tracks the store TTL.
		if reissue {
			if err := cookie.Set(c.Writer, sess.Token); err != nil {
				logRequest(c, "reissue session cookie: %v", err)
			}
		}

		c.Set(sessionContextKey, sess)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), sess.Identity()))
		// Expose token so frontend can read and reuse.
		c.Header(csrfHeader, sess.CSRFToken)
		c.Next()
	}
}

// CSRFMiddleware validates the per-session CSRF token on unsafe methods.
// It must run after RequireSession.
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		sess, ok := currentSession(c)
		if !ok {
			abortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		header := c.GetHeader(csrfHeader)
		if header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(sess.CSRFToken)) != 1 {
			abortError(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
			return
		}
		c.Next()
	}
}

// OriginRefererMiddleware validates Origin/Referer against allowed list and sets CORS headers.
// The request's own host is always accepted; cross-origin callers must be listed in ALLOWED_ORIGINS.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	isAllowed := func(origin, host string) bool {
		if origin == "" {
			// Same-origin navigation (no Origin header) is allowed.
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" && strings.EqualFold(u.Host, host) {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
		}

		// Preflight handling
		if c.Request.Method == http.MethodOptions && origin != "" {
			if !isAllowed(origin, c.Request.Host) {
				abortError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				return
			}
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		if !isAllowed(origin, c.Request.Host) {
			abortError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token, X-Request-ID")
	c.Header("Access-Control-Expose-Headers", "X-CSRF-Token, X-Request-ID")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

func currentSession(c *gin.Context) (Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return Session{}, false
	}
	sess, ok := v.(Session)
	return sess, ok
}
