// Package main provides the adherence worker entry point.
// It consumes dose events and maintains the daily adherence read model.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medcycle/go-dose-engine/internal/config"
	"github.com/medcycle/go-dose-engine/internal/domain/adherence"
	"github.com/medcycle/go-dose-engine/internal/domain/medication"
	"github.com/medcycle/go-dose-engine/internal/infrastructure/redpanda"
	"github.com/medcycle/go-dose-engine/internal/observability/metrics"
	"github.com/medcycle/go-dose-engine/internal/observability/tracing"
	"github.com/medcycle/go-dose-engine/pkg/circuitbreaker"
	"github.com/medcycle/go-dose-engine/pkg/idempotency"
	"github.com/medcycle/go-dose-engine/pkg/workerpool"
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
		ServiceName:    "adherence-worker",
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

	m := metrics.New()

	// Ensure topics exist before consuming
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(context.Background()); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}
	admin.Close()

	// Producer for adherence reports
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	// Inbox guards every consumed message. Stale entries from a prior
	// crash become recoverable before consumption begins.
	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	if n, err := inbox.RecoverStaleEntries(context.Background()); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	proc := &processor{
		reports:  adherence.NewStore(pool, logger),
		inbox:    inbox,
		producer: producer,
		breakers: circuitbreaker.NewManager(logger),
		metrics:  m,
		logger:   logger,
	}

	// Worker pool fans out rebuilds
	poolCfg := workerpool.DefaultConfig()
	if cfg.WorkerCount > 0 {
		poolCfg.Workers = cfg.WorkerCount
	}
	workerPool, err := workerpool.New(poolCfg, proc.process, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workerPool.Start()
	defer workerPool.Stop()

	// Consume dose events
	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.ConsumerGroup
	consumerCfg.Topics = []string{redpanda.TopicDoseLogs}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		m.KafkaMessagesConsumed.Inc()
		return workerPool.Submit(&workerpool.Task{
			ID:      fmt.Sprintf("%s:%d", msg.Key, msg.Offset),
			Payload: msg.Value,
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	// Health and metrics server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(workerPool, proc.breakers, inbox))
	mux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	logger.Info("adherence worker started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", cfg.ConsumerGroup),
		zap.Int("workers", poolCfg.Workers))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	healthServer.Shutdown(shutdownCtx)
	logger.Info("adherence worker stopped")
}

// processor rebuilds adherence reports from consumed dose events.
type processor struct {
	reports  *adherence.Store
	inbox    *idempotency.Inbox
	producer *redpanda.Producer
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func (p *processor) process(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	raw, ok := task.Payload.([]byte)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false,
			Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
	}

	var event medication.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false,
			Error: fmt.Errorf("unmarshal event: %w", err)}
	}
	if event.EventType != medication.EventDoseRecorded {
		// Rejection audits carry no dose log, nothing to rebuild.
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	var data medication.DoseRecordedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false,
			Error: fmt.Errorf("unmarshal dose event: %w", err)}
	}

	key := data.IdempotencyKey
	if key == "" {
		key = idempotency.GenerateKey(data.MedicationID, data.PatientID,
			string(event.EventType), data.ScheduledTime)
	}

	_, err := p.inbox.Process(ctx, key, "adherence-rebuild", event.EventData,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return p.rebuild(ctx, &data)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrMessageInProgress) || errors.Is(err, idempotency.ErrDuplicateMessage) {
			p.logger.Debug("dose event already handled", zap.String("key", key))
			return &workerpool.Result{TaskID: task.ID, Success: true}
		}
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

// rebuild recomputes the daily report for the event's effective day
// and publishes it, the publish guarded by a per-topic breaker.
func (p *processor) rebuild(ctx context.Context, data *medication.DoseRecordedData) (json.RawMessage, error) {
	medicationID, err := uuid.Parse(data.MedicationID)
	if err != nil {
		return nil, fmt.Errorf("parse medication id: %w", err)
	}
	day := data.ScheduledTime
	if data.ActualTime != nil {
		day = *data.ActualTime
	}

	report, err := p.reports.Rebuild(ctx, medicationID, day)
	if err != nil {
		return nil, err
	}
	p.metrics.AdherenceRebuilds.Inc()

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	cb, err := p.breakers.GetOrCreate(redpanda.TopicAdherenceReports,
		circuitbreaker.DefaultConfig(redpanda.TopicAdherenceReports))
	if err != nil {
		return nil, err
	}
	if _, err := cb.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.ProduceMessage(ctx, redpanda.TopicAdherenceReports, data.MedicationID, payload)
	}); err != nil {
		return nil, fmt.Errorf("publish adherence report: %w", err)
	}
	p.metrics.KafkaMessagesProduced.Inc()

	p.logger.Info("adherence report rebuilt",
		zap.String("medication_id", data.MedicationID),
		zap.String("day", medication.DateOf(day).Format("2006-01-02")),
		zap.Float64("adherence_pct", report.AdherencePct))
	return payload, nil
}

func healthHandler(pool *workerpool.Pool, breakers *circuitbreaker.Manager, inbox *idempotency.Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if !pool.IsHealthy() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		body := map[string]interface{}{
			"status":   status,
			"service":  "adherence-worker",
			"pool":     pool.Stats(),
			"breakers": breakers.GetHealthStatus(),
		}
		if stats, err := inbox.GetStats(r.Context()); err == nil {
			body["inbox"] = stats
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	}
}
