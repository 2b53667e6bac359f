package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"animevault/api/internal/config"
	"animevault/api/internal/middleware"
	"animevault/api/internal/security"
	"animevault/api/internal/service"
	"animevault/api/internal/session"
)

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	auth     *service.AuthService
	sessions *session.Manager
	issuer   *security.TokenIssuer
	users    service.UserStore
	db       *pgxpool.Pool
	cache    *redis.Client
}

func NewHandlerSet(
	log zerolog.Logger,
	cfg *config.AppConfig,
	auth *service.AuthService,
	sessions *session.Manager,
	issuer *security.TokenIssuer,
	users service.UserStore,
	db *pgxpool.Pool,
	cache *redis.Client,
) HandlerSet {
	return HandlerSet{
		log:      log,
		cfg:      cfg,
		auth:     auth,
		sessions: sessions,
		issuer:   issuer,
		users:    users,
		db:       db,
		cache:    cache,
	}
}

func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		users := v1.Group("/users")
		users.POST("/register", h.Register)
		users.POST("/login", h.Login)
		users.POST("/refresh", h.Refresh)
		users.POST("/auto-logout", h.AutoLogout)

		// Session-guarded: token issuance is reachable only from an
		// already-authenticated session, never directly from login.
		withSession := v1.Group("/users")
		withSession.Use(middleware.RequireSession(h.sessions, h.log))
		withSession.POST("/token", h.IssueToken)
		withSession.POST("/logout", h.Logout)

		// Token-guarded reads.
		withToken := v1.Group("/users")
		withToken.Use(middleware.RequireToken(h.issuer, h.users, h.log))
		withToken.GET("", h.ListUsers)
		withToken.GET("/token-status", h.TokenStatus)
		withToken.GET("/profile", h.Profile)
		withToken.GET("/protected", h.Protected)
	}
}
