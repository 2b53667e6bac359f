package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"animevault/api/internal/middleware"
	"animevault/api/internal/models"
	"animevault/api/internal/security"
	"animevault/api/internal/session"
)

// IssueToken mints a fresh access+refresh pair for the session's user.
// Each call produces an independent pair; earlier pairs stay valid
// until their own expiry.
func (h HandlerSet) IssueToken(c *gin.Context) {
	rec, ok := c.MustGet(middleware.ContextSession).(session.Record)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}

	pair, err := h.auth.IssueToken(c.Request.Context(), rec.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", rec.UserID).Msg("issue token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":     pair.AccessToken,
		"refresh_token":    pair.RefreshToken,
		"expires_in":       pair.ExpiresIn,
		"token_created_at": pair.CreatedAt.Format(time.RFC3339),
		"user": gin.H{
			"id":       rec.UserID,
			"username": rec.Username,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh trades a valid refresh token for a new access token. The
// refresh token itself is not rotated.
func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	grant, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": grant.AccessToken,
		"expires_in":   grant.ExpiresIn,
	})
}

// TokenStatus reports the subject and expiry of the presented access
// token. Reaching here at all means the guard accepted it.
func (h HandlerSet) TokenStatus(c *gin.Context) {
	claims, ok := c.MustGet(middleware.ContextAccessClaims).(security.TokenClaims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := claims.UserID()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"expires_at":  claims.ExpiresAt.Unix(),
		"token_valid": true,
	})
}

// Protected is the probe endpoint the frontend uses to check whether a
// token is still good.
func (h HandlerSet) Protected(c *gin.Context) {
	user, ok := c.MustGet(middleware.ContextUser).(models.User)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user_id":       user.ID,
		"username":      user.Username,
	})
}
