package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/storefront-booking/cmd/mainconfig"
	"github.com/wolfman30/storefront-booking/internal/api/router"
	"github.com/wolfman30/storefront-booking/internal/app/bootstrap"
	"github.com/wolfman30/storefront-booking/internal/booking"
	"github.com/wolfman30/storefront-booking/internal/catalog"
	appconfig "github.com/wolfman30/storefront-booking/internal/config"
	"github.com/wolfman30/storefront-booking/internal/dispatch"
	"github.com/wolfman30/storefront-booking/internal/events"
	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/internal/progress"
	"github.com/wolfman30/storefront-booking/internal/reconcile"
	"github.com/wolfman30/storefront-booking/internal/sessions"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

func main() {
	// Local development reads .env; deployed environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting storefront-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"payment_gateway", cfg.PaymentGateway,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := bootstrap.BuildPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	rdb := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	defer rdb.Close()

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	metricsHandler, registry, reconcileMetrics := setupMetrics()

	catalogRepo := catalog.NewRepository(pg.DB)
	outbox := events.NewOutboxStore(pg.Pool)
	processed := events.NewProcessedStore(pg.Pool)

	gateway, fakeGateway := buildGateways(cfg, catalogRepo, logger)
	orderService := orders.NewService(orders.NewRepository(pg.Pool), outbox, gateway, logger)
	owner := selectOrderBackend(cfg, orderService, logger)
	reconciler := reconcile.New(owner.backend, reconcileOptions(cfg), logger, reconcileMetrics)

	callbackURLs := payments.CallbackURLs{BaseURL: cfg.PublicBaseURL}
	hub := progress.NewHub(logger)
	flow := booking.NewFlow(booking.Deps{
		Sessions:   sessions.NewStore(rdb, cfg.SessionTTL),
		Catalog:    catalogRepo,
		Orders:     owner.backend,
		Gateway:    gateway,
		Reconciler: reconciler,
		Dispatcher: dispatch.New(logger),
		Registry:   payments.NewRegistry(cfg.SessionTTL),
		Limiter:    payments.NewAttemptLimiter(rdb, cfg.PaymentAttemptsPerHour, time.Hour, logger),
		Progress:   hub,
		Metrics:    reconcileMetrics,
		URLs:       callbackURLs,
		Logger:     logger,
	})

	var fakeHandler *payments.FakePaymentsHandler
	var stripeWebhook *payments.StripeWebhookHandler
	var paymentsAPI *orders.Handler
	if owner.local != nil {
		if fakeGateway != nil {
			fakeHandler = payments.NewFakePaymentsHandler(fakeGateway, owner.local, callbackURLs, logger)
		}
		if cfg.StripeWebhookSecret != "" {
			stripeWebhook = payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, owner.local, processed, reconcileMetrics, logger)
		} else {
			logger.Warn("STRIPE_WEBHOOK_SECRET not set; stripe webhooks disabled")
		}
		paymentsAPI = orders.NewHandler(owner.local, logger)
	} else if fakeGateway != nil {
		// The demo page only redirects; the callback confirms with the remote backend.
		fakeHandler = payments.NewFakePaymentsHandler(fakeGateway, nil, callbackURLs, logger)
	}

	deliverer := events.NewDeliverer(outbox, buildOutboxHandler(cfg, awsCfg, catalogRepo, logger), logger).
		WithInterval(cfg.OutboxInterval)
	go deliverer.Start(ctx)
	go purgeProcessed(ctx, processed, time.Hour, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		Booking:        booking.NewHandler(flow, hub, logger),
		PaymentsAPI:    paymentsAPI,
		StripeWebhook:  stripeWebhook,
		FakePayments:   fakeHandler,
		MetricsHandler: metricsHandler,
		StatsGatherer:  registry,
		HealthChecks: map[string]router.HealthCheck{
			"postgres": pg.Ping,
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
		CustomerJWTSecret:  cfg.CustomerJWTSecret,
		AdminJWTSecret:     cfg.AdminJWTSecret,
		PaymentsAPIKey:     cfg.StorefrontAPIKey,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	// WriteTimeout covers the full reconciliation window on the callback route.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
