// Package main provides the outbox relay service entry point.
// It drains the transactional outbox into Redpanda and runs the
// associated maintenance loops.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medcycle/go-dose-engine/internal/config"
	"github.com/medcycle/go-dose-engine/internal/infrastructure/postgres"
	"github.com/medcycle/go-dose-engine/internal/infrastructure/redpanda"
	"github.com/medcycle/go-dose-engine/internal/observability/metrics"
	"github.com/medcycle/go-dose-engine/internal/observability/tracing"
)

const (
	maintenanceInterval = time.Minute
	processedRetention  = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName:    "outbox-relay",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	// Connect to database
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	// Ensure topics exist before relaying into them
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(context.Background()); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	m := metrics.New()

	outboxCfg := postgres.DefaultOutboxConfig()
	if cfg.OutboxBatchSize > 0 {
		outboxCfg.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxPollInterval > 0 {
		outboxCfg.PollInterval = cfg.OutboxPollInterval
	}
	outbox := postgres.NewOutbox(pool, &producerAdapter{producer, m}, outboxCfg, logger)

	outbox.Start()
	logger.Info("outbox relay started",
		zap.Int("batch_size", outboxCfg.BatchSize),
		zap.Duration("poll_interval", outboxCfg.PollInterval),
		zap.Strings("brokers", cfg.KafkaBrokers))

	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	go maintenanceLoop(maintenanceCtx, outbox, m, logger)

	// Health and metrics server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(outbox))
	mux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopMaintenance()
	outbox.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	healthServer.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

// maintenanceLoop periodically moves exhausted entries to the dead
// letter topic, prunes processed entries, and refreshes the pending
// gauge.
func maintenanceLoop(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := outbox.MoveToDeadLetter(ctx); err != nil {
				logger.Error("dead letter move failed", zap.Error(err))
			} else if n > 0 {
				logger.Warn("entries moved to dead letter", zap.Int64("count", n))
			}
			if n, err := outbox.CleanupProcessed(ctx, processedRetention); err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("processed entries pruned", zap.Int64("count", n))
			}
			if stats, err := outbox.GetStats(ctx); err == nil {
				m.OutboxPending.Set(float64(stats.Pending))
			}
		}
	}
}

func healthHandler(outbox *postgres.Outbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"service": "outbox-relay",
		}
		if stats, err := outbox.GetStats(r.Context()); err == nil {
			body["outbox"] = stats
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

// producerAdapter adapts the Redpanda producer to the OutboxPublisher
// interface and counts relayed messages.
type producerAdapter struct {
	producer *redpanda.Producer
	metrics  *metrics.Metrics
}

func (a *producerAdapter) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := a.producer.ProduceMessage(ctx, topic, key, value); err != nil {
		return err
	}
	a.metrics.KafkaMessagesProduced.Inc()
	return nil
}
