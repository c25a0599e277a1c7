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
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/email"
	"github.com/dukerupert/aroma/internal/events"
	"github.com/dukerupert/aroma/internal/jobs"
	"github.com/dukerupert/aroma/internal/postgres"
	"github.com/dukerupert/aroma/internal/telemetry"
	"github.com/dukerupert/aroma/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel).With("process", "worker")
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

	if cfg.DatabaseUrl == "" {
		return errors.New("DATABASE_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseUrl)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := internal.MigratePool(pool); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	store := postgres.New(pool)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewBusinessMetrics("aroma", registry)

	w := worker.NewWorker(worker.Config{}, metrics, logger)

	w.Register(worker.Task{
		JobType:  jobs.JobTypeCleanupExpiredCarts,
		Interval: cfg.Worker.CleanupInterval,
		Timeout:  5 * time.Minute,
		Run: func(ctx context.Context) error {
			result, err := jobs.CleanupExpiredCarts(ctx, store, time.Now())
			if err != nil {
				return err
			}
			if result.CartsDeleted > 0 {
				logger.Info("expired carts deleted", "count", result.CartsDeleted)
			}
			return nil
		},
	})

	if cfg.NatsURL == "" {
		logger.Warn("NATS_URL not set; outbox relay and confirmation emails are disabled")
	} else {
		bus, err := events.Connect(cfg.NatsURL, "aroma-worker", logger)
		if err != nil {
			return err
		}
		defer bus.Close()

		w.Register(worker.Task{
			JobType:  jobs.JobTypeRelayOutbox,
			Interval: cfg.Worker.RelayInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				result, err := jobs.RelayOutbox(ctx, store, bus, cfg.Worker.BatchSize)
				if result != nil {
					for topic, n := range result.ByTopic {
						metrics.EventsRelayed.WithLabelValues(topic).Add(float64(n))
					}
				}
				return err
			},
		})

		mailer, err := newMailer(cfg.Email, logger)
		if err != nil {
			return err
		}
		if _, err := bus.Subscribe(domain.TopicOrderSettled, "aroma-email", func(ctx context.Context, msg events.Message) error {
			if err := jobs.ProcessOrderConfirmation(ctx, msg, store, mailer); err != nil {
				metrics.EmailFailed.WithLabelValues("order_confirmation").Inc()
				return err
			}
			metrics.EmailSent.WithLabelValues("order_confirmation").Inc()
			return nil
		}); err != nil {
			return err
		}
		logger.Info("Subscribed to order events", "topic", domain.TopicOrderSettled)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Worker stopped")
	return nil
}

// newMailer sends over SMTP when a host is configured and logs otherwise.
func newMailer(cfg internal.EmailConfig, logger *slog.Logger) (*email.Service, error) {
	var sender email.Sender = email.LogSender{Logger: logger}
	if cfg.Host != "" {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Host,
			Port:     int(cfg.Port),
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		}, logger)
	}
	return email.NewService(sender, cfg.From, cfg.FromName)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
