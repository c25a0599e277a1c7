package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/aroma/internal"
	"github.com/dukerupert/aroma/internal/billing"
	"github.com/dukerupert/aroma/internal/cache"
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/handler/api"
	"github.com/dukerupert/aroma/internal/handler/webhook"
	"github.com/dukerupert/aroma/internal/memory"
	"github.com/dukerupert/aroma/internal/middleware"
	"github.com/dukerupert/aroma/internal/postgres"
	"github.com/dukerupert/aroma/internal/router"
	"github.com/dukerupert/aroma/internal/routes"
	"github.com/dukerupert/aroma/internal/service"
	"github.com/dukerupert/aroma/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// store is everything the HTTP services read and write. Both the Postgres
// store and the in-memory store satisfy it.
type store interface {
	domain.CartStore
	domain.PromoStore
	domain.Catalog
	domain.PaymentSessionStore
	domain.OrderStore
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		SampleRate:  cfg.Sentry.SampleRate,
	}, logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	healthChecks := map[string]api.HealthCheck{}

	// ==========================================================================
	// Storage
	// ==========================================================================

	var db store
	if cfg.DatabaseUrl == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store with seed catalog")
		mem := memory.NewStore()
		memory.Seed(mem, time.Now())
		db = mem
	} else {
		logger.Info("Connecting to database...")
		pool, err := postgres.Connect(ctx, cfg.DatabaseUrl)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("Database connection established")

		logger.Info("Running database migrations...")
		if err := internal.MigratePool(pool); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")

		pg := postgres.New(pool)
		healthChecks["database"] = pg.Ping
		db = pg
	}

	var cartCache cache.CartCache = cache.Nop{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		healthChecks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		cartCache = cache.NewRedisCache(client)
		logger.Info("Cart cache enabled", "addr", opts.Addr)
	}

	// ==========================================================================
	// Metrics
	// ==========================================================================

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics("aroma", registry)
	businessMetrics := telemetry.NewBusinessMetrics("aroma", registry)

	// ==========================================================================
	// Payment provider
	// ==========================================================================

	provider, err := billing.NewProvider(billing.ProviderConfig{
		Name:                cfg.PaymentProvider,
		PaystackSecretKey:   cfg.Paystack.SecretKey,
		PaystackBaseURL:     cfg.Paystack.BaseURL,
		StripeSecretKey:     cfg.Stripe.SecretKey,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:             cfg.Paystack.Timeout,
		Transport:           telemetry.NewHTTPTransport(http.DefaultTransport),
	})
	if err != nil {
		return err
	}
	logger.Info("Payment provider initialized", "provider", provider.Name(), "test_mode", billing.TestMode(provider))
	if cfg.ProviderSecret() == "" {
		logger.Warn("Payment provider secret not set; checkout will be rejected", "provider", provider.Name())
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	cartService := service.NewCartService(db, db, db, service.CartServiceConfig{
		TTL:     cfg.CartTTL,
		Cache:   cartCache,
		Metrics: businessMetrics,
		Logger:  logger,
	})

	settlementService := service.NewSettlementService(db, db, db, provider, service.SettlementConfig{
		Currency:        cfg.Currency,
		CallbackURL:     cfg.AppURL + "/success",
		ProviderTimeout: cfg.Paystack.Timeout,
		Metrics:         businessMetrics,
		Logger:          logger,
	})

	// ==========================================================================
	// Middleware
	// ==========================================================================

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0
	}

	rateLimitConfig := middleware.DefaultRateLimiterConfig()
	rateLimitConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	rateLimitConfig.BurstSize = cfg.RateLimit.Burst
	defaultRateLimit, defaultLimiter := middleware.RateLimit(rateLimitConfig)
	defer defaultLimiter.Stop()

	initializeRateLimit, initializeLimiter := middleware.RateLimit(middleware.StrictRateLimiterConfig())
	defer initializeLimiter.Stop()

	// ==========================================================================
	// Routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(cfg.Env == "prod"),
		middleware.WithRequestLogger(logger),
		telemetry.SentryMiddleware(),
		httpMetrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		middleware.Timeout(middleware.DefaultTimeout),
		defaultRateLimit,
		router.Logger(logger),
	)

	routes.RegisterCartRoutes(r, routes.CartDeps{
		Handler: api.NewCartHandler(cartService),
	})
	routes.RegisterCheckoutRoutes(r, routes.CheckoutDeps{
		Handler:         api.NewCheckoutHandler(settlementService),
		InitializeLimit: initializeRateLimit,
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		Provider: provider.Name(),
		Handler:  webhook.NewPaymentHandler(settlementService, provider.SignatureHeader()),
	})
	routes.RegisterSystemRoutes(r, routes.SystemDeps{
		Health:  api.NewHealthHandler(healthChecks, 2*time.Second),
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	logger.Debug("Routes registered", "count", len(r.Routes()), "routes", r.Routes())

	var h http.Handler = r
	if len(cfg.CORS.AllowedOrigins) > 0 {
		h = router.CORS(cfg.CORS.AllowedOrigins)(r)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
