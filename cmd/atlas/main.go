package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-lms/atlas-lms/internal/app"
	"github.com/atlas-lms/atlas-lms/internal/auth"
	"github.com/atlas-lms/atlas-lms/internal/authz"
	"github.com/atlas-lms/atlas-lms/internal/department"
	"github.com/atlas-lms/atlas-lms/internal/escalation"
	"github.com/atlas-lms/atlas-lms/internal/membership"
	"github.com/atlas-lms/atlas-lms/internal/platform/cache"
	"github.com/atlas-lms/atlas-lms/internal/platform/db"
	"github.com/atlas-lms/atlas-lms/internal/rights"
	"github.com/atlas-lms/atlas-lms/internal/shared"
	"github.com/atlas-lms/atlas-lms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool, logger)
	tokens := shared.NewTokenStore(redisClient, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, logger)

	catalogRepo := rights.NewRepository(pool)
	rightsCache := rights.NewRedisCache(redisClient, logger)
	resolver := rights.NewResolver(catalogRepo, rightsCache, cfg.RightsCacheTTL, logger)

	departmentRepo := department.NewRepository(pool)
	membershipRepo := membership.NewRepository(pool)
	index := membership.NewIndex(membershipRepo, departmentRepo, resolver)
	switcher := membership.NewSwitcher(membershipRepo, departmentRepo, resolver)

	adminRepo := escalation.NewAdminRepository(pool)
	escalationStore := escalation.NewStore(redisClient, logger)
	escalations := escalation.NewManager(adminRepo, escalationStore, cfg.AdminSessionTTL, logger)

	gate := &authz.Gate{
		Logger:      logger,
		Sessions:    tokens,
		Memberships: index,
		Resolver:    resolver,
		Escalations: escalations,
		Audit:       auditLogger,
	}

	authService := auth.NewService(auth.NewRepository(pool), tokens, index, switcher, escalations, logger)
	authHandler := auth.NewHandler(logger, authService, gate.Authenticate)
	escalationHandler := escalation.NewHandler(logger, escalations)
	rightsHandler := rights.NewHandler(logger, catalogRepo, resolver, auditLogger,
		gate.RequireEscalation,
		gate.RequireAdminRole("system-admin"),
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("build jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobsClient, logger,
		gate.RequireEscalation,
		gate.RequireAdminRole("system-admin"),
	)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Gate:              gate,
		AuthHandler:       authHandler,
		EscalationHandler: escalationHandler,
		RightsHandler:     rightsHandler,
		Memberships:       index,
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
