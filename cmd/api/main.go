package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"animevault/api/internal/cache"
	"animevault/api/internal/config"
	"animevault/api/internal/database"
	"animevault/api/internal/handlers"
	"animevault/api/internal/jobs"
	"animevault/api/internal/log"
	"animevault/api/internal/repository"
	"animevault/api/internal/security"
	"animevault/api/internal/server"
	"animevault/api/internal/service"
	"animevault/api/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	users := repository.NewUserRepository(dbPool)
	sessions := session.NewManager(
		session.NewRedisStore(redisClient),
		cfg.Session.DefaultTTL,
		cfg.Session.RememberTTL,
		cfg.Session.RefreshOnAccess,
	)
	issuer := security.NewTokenIssuer(
		cfg.Security.JWTSecret,
		cfg.Security.JWTAccessTTL,
		cfg.Security.JWTRefreshTTL,
	)
	auth := service.NewAuthService(users, issuer, logger)

	handlerSet := handlers.NewHandlerSet(logger, cfg, auth, sessions, issuer, users, dbPool, redisClient)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(sessions, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler stop timed out")
	}

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
