package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators NewRouter wires into handlers.
type Dependencies struct {
	Auth     AuthService
	Sessions SessionService
	Cookie   *SessionCookie
	Status   *StatusCollector // optional; readiness reports ready when nil
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps Dependencies) *gin.Engine {
	r := gin.Default()

	// Global middleware: request id -> origin/CORS
	r.Use(RequestIDMiddleware())
	r.Use(OriginRefererMiddleware(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		if deps.Status == nil {
			c.JSON(http.StatusOK, gin.H{"ready": true})
			return
		}
		st := deps.Status.Collect(c.Request.Context(), false)
		status := http.StatusOK
		if !st.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, st)
	})

	r.POST("/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
			return
		}

		ctx := c.Request.Context()
		id, err := deps.Auth.Verify(ctx, req.Username, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidCredentials):
				// The reason stays in the log; the client sees one message for both cases.
				logRequest(c, "login rejected: %v", err)
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
			case errors.Is(err, ErrStoreUnavailable):
				logRequest(c, "login failed: %v", err)
				respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "authentication backend unavailable")
			default:
				logRequest(c, "login error: %v", err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "login failed")
			}
			return
		}

		sess, err := deps.Sessions.Create(ctx, id)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				logRequest(c, "session create failed for user %d: %v", id.ID, err)
				respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "session store unavailable")
				return
			}
			logRequest(c, "session create error for user %d: %v", id.ID, err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create session")
			return
		}

		if err := deps.Cookie.Set(c.Writer, sess.Token); err != nil {
			if invErr := deps.Sessions.Invalidate(ctx, sess.Token); invErr != nil {
				logRequest(c, "rollback session after cookie failure: %v", invErr)
			}
			logRequest(c, "set session cookie: %v", err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
			return
		}

		// The presented session is dropped only once its replacement is in place.
		if old, err := deps.Cookie.Token(c.Request); err == nil && old != sess.Token {
			if err := deps.Sessions.Invalidate(ctx, old); err != nil {
				logRequest(c, "invalidate previous session: %v", err)
			}
		}

		logRequest(c, "login ok user=%d", id.ID)
		c.Header(csrfHeader, sess.CSRFToken)
		c.JSON(http.StatusOK, gin.H{"message": "Login successful"})
	})

	authed := r.Group("/")
	authed.Use(RequireSession(deps.Cookie, deps.Sessions, cfg.SessionRefreshOnAccess))
	authed.Use(CSRFMiddleware())
	{
		authed.POST("/auth/logout", func(c *gin.Context) {
			sess, _ := currentSession(c)
			if err := deps.Sessions.Invalidate(c.Request.Context(), sess.Token); err != nil {
				logRequest(c, "logout failed: %v", err)
				respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "session store unavailable")
				return
			}
			// A sliding gate may have reissued the cookie on the way in.
			c.Writer.Header().Del("Set-Cookie")
			deps.Cookie.Clear(c.Writer)
			c.Status(http.StatusNoContent)
		})

		authed.GET("/auth/session", func(c *gin.Context) {
			sess, _ := currentSession(c)
			c.JSON(http.StatusOK, gin.H{
				"user":       sess.Identity(),
				"created_at": sess.CreatedAt,
				"expires_at": sess.ExpiresAt,
			})
		})

		authed.GET("/dashboard", func(c *gin.Context) {
			id, ok := IdentityFromContext(c.Request.Context())
			if !ok {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Welcome, %s", id.Username)})
		})

		authed.GET("/status", func(c *gin.Context) {
			if deps.Status == nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "status not available")
				return
			}
			c.JSON(http.StatusOK, deps.Status.Collect(c.Request.Context(), true))
		})
	}

	return r
}
