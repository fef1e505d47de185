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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerkeep/ledgerkeep/internal/app"
	"github.com/ledgerkeep/ledgerkeep/internal/auth"
	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/businesses"
	"github.com/ledgerkeep/ledgerkeep/internal/invitations"
	"github.com/ledgerkeep/ledgerkeep/internal/observability"
	"github.com/ledgerkeep/ledgerkeep/internal/organizations"
	"github.com/ledgerkeep/ledgerkeep/internal/platform/db"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
	"github.com/ledgerkeep/ledgerkeep/internal/users"
	"github.com/ledgerkeep/ledgerkeep/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessions := shared.NewSessionManager(redisClient, "ledgerkeep_session", cfg.SessionTTL)
	metrics := observability.NewMetrics()

	userRepo := users.NewRepository(pool)
	authService := auth.NewService(userRepo, sessions)
	authHandler := auth.NewHandler(logger, authService)

	authzRepo := authz.NewRepository(pool)
	planResolver := authz.NewPlanResolver(authzRepo)
	gate := authz.NewGate(authzRepo, planResolver, metrics)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	webhookHandler := billing.NewHandler(logger, billingService, cfg.StripeWebhookSecret, jobClient, metrics)

	var payments organizations.PaymentClient
	if cfg.StripeSecretKey != "" {
		payments = billing.NewClient(cfg.StripeSecretKey)
	}

	orgRepo := organizations.NewRepository(pool)
	orgService := organizations.NewService(orgRepo, billingRepo, payments, organizations.CheckoutConfig{
		MonthlyPriceID: cfg.StripePriceMonthly,
		YearlyPriceID:  cfg.StripePriceYearly,
		AppBaseURL:     cfg.AppBaseURL,
	})
	orgHandler := organizations.NewHandler(logger, orgService)

	businessRepo := businesses.NewRepository(pool)
	businessService := businesses.NewService(businessRepo, orgService, billingRepo, gate)
	businessHandler := businesses.NewHandler(logger, businessService)

	auditLogger := shared.NewAuditLogger(pool)

	invitationRepo := invitations.NewRepository(pool)
	mailer := jobs.NewInvitationMailer(jobClient, cfg.AppBaseURL)
	invitationService := invitations.NewService(invitationRepo, userRepo, gate, mailer, auditLogger, logger)
	guard := authz.Middleware{Gate: gate, Logger: logger}
	invitationHandler := invitations.NewHandler(logger, invitationService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		AuthService:         authService,
		AuthHandler:         authHandler,
		OrganizationHandler: orgHandler,
		BusinessHandler:     businessHandler,
		InvitationHandler:   invitationHandler,
		WebhookHandler:      webhookHandler,
		JobHandler:          jobHandler,
		Metrics:             metrics,
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
