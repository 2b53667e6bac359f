package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"animevault/api/internal/middleware"
	"animevault/api/internal/models"
	"animevault/api/internal/service"
)

func (h HandlerSet) ListUsers(c *gin.Context) {
	summaries, err := h.auth.ListUsers(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list users failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}

	c.JSON(http.StatusOK, summaries)
}

func (h HandlerSet) Profile(c *gin.Context) {
	user, ok := c.MustGet(middleware.ContextUser).(models.User)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	summary, err := h.auth.Profile(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Error().Err(err).Msg("load profile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}

	c.JSON(http.StatusOK, summary)
}
