package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"animevault/api/internal/middleware"
	"animevault/api/internal/service"
	"animevault/api/internal/session"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	summary, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		var vErr service.ValidationError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Reason})
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		default:
			h.log.Error().Err(err).Msg("register failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       summary.ID,
		"username": summary.Username,
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

// Login verifies credentials and establishes the server-side session.
// No tokens are minted here: the client asks for them separately via
// the token endpoint once its session is live.
func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	handle, err := h.sessions.Establish(c.Request.Context(), user, req.Remember)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", user.ID).Msg("establish session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.setSessionCookie(c, handle, req.Remember)

	c.JSON(http.StatusOK, gin.H{
		"user":          user.Summary(),
		"authenticated": true,
	})
}

// Logout clears the session. Tokens issued from it are stateless and
// cannot be revoked early; the payload tells the client to discard any
// it still holds.
func (h HandlerSet) Logout(c *gin.Context) {
	handle := c.GetString(middleware.ContextSessionHandle)
	if err := h.sessions.Clear(c.Request.Context(), handle); err != nil {
		h.log.Error().Err(err).Msg("clear session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}

	h.clearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{
		"logged_out":     true,
		"discard_tokens": true,
	})
}

// AutoLogout is the page-unload variant: best effort, succeeds whether
// or not a session was live.
func (h HandlerSet) AutoLogout(c *gin.Context) {
	handle, err := c.Cookie(middleware.SessionCookie)
	if err != nil || handle == "" {
		c.JSON(http.StatusOK, gin.H{"logged_out": false})
		return
	}

	if _, err := h.sessions.Get(c.Request.Context(), handle); errors.Is(err, session.ErrNoSession) {
		c.JSON(http.StatusOK, gin.H{"logged_out": false})
		return
	}

	if err := h.sessions.Clear(c.Request.Context(), handle); err != nil {
		h.log.Warn().Err(err).Msg("auto-logout clear failed")
	}
	h.clearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{"logged_out": true, "discard_tokens": true})
}

func (h HandlerSet) setSessionCookie(c *gin.Context, handle string, remember bool) {
	// A non-remember session rides a browser-lifetime cookie; the
	// server-side record still expires on its default TTL.
	maxAge := 0
	if remember {
		maxAge = int(h.cfg.Session.RememberTTL.Seconds())
	}
	c.SetCookie(middleware.SessionCookie, handle, maxAge, "/", "", h.cfg.Environment == "production", true)
}

func (h HandlerSet) clearSessionCookie(c *gin.Context) {
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.cfg.Environment == "production", true)
}
