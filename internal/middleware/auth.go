package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"animevault/api/internal/security"
	"animevault/api/internal/service"
	"animevault/api/internal/session"
)

// Context keys set by the guards for downstream handlers.
const (
	ContextUser          = "current_user"
	ContextAccessClaims  = "access_claims"
	ContextSession       = "current_session"
	ContextSessionHandle = "session_handle"
)

// SessionCookie is the name of the cookie carrying the opaque session
// handle in the browser-facing flow.
const SessionCookie = "animevault_session"

// RequireToken guards a route with a bearer access token. Every failure
// mode collapses into the same 401 body so a probing client learns
// nothing about which check tripped; detail goes to the log only.
func RequireToken(issuer *security.TokenIssuer, users service.UserStore, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(c, log, "missing bearer token")
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := issuer.Parse(tokenStr, security.TokenKindAccess)
		if err != nil {
			unauthorized(c, log, err.Error())
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			unauthorized(c, log, "non-numeric subject")
			return
		}

		// A valid token for a since-deleted user is still unauthorized.
		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil {
			unauthorized(c, log, "subject not found")
			return
		}

		c.Set(ContextAccessClaims, claims)
		c.Set(ContextUser, user)

		c.Next()
	}
}

// RequireSession guards a route with an authenticated server-side
// session, resolving the cookie handle and refreshing the expiry clock
// per the manager's policy.
func RequireSession(sessions *session.Manager, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle, err := c.Cookie(SessionCookie)
		if err != nil || handle == "" {
			unauthenticated(c)
			return
		}

		rec, err := sessions.Get(c.Request.Context(), handle)
		if err != nil || !rec.Authenticated {
			unauthenticated(c)
			return
		}

		if err := sessions.Touch(c.Request.Context(), handle, rec); err != nil {
			log.Warn().Err(err).Msg("session touch failed")
		}

		c.Set(ContextSession, rec)
		c.Set(ContextSessionHandle, handle)

		c.Next()
	}
}

func unauthorized(c *gin.Context, log zerolog.Logger, reason string) {
	log.Debug().
		Str("path", c.Request.URL.Path).
		Str("reason", reason).
		Msg("token rejected")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func unauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
}
