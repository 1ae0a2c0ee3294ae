package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/filipmarinca/api-monitor/internal/alert"
	"github.com/filipmarinca/api-monitor/internal/config"
	"github.com/filipmarinca/api-monitor/internal/dispatch"
	"github.com/filipmarinca/api-monitor/internal/engine"
	"github.com/filipmarinca/api-monitor/internal/fanout"
	"github.com/filipmarinca/api-monitor/internal/incident"
	"github.com/filipmarinca/api-monitor/internal/metrics"
	"github.com/filipmarinca/api-monitor/internal/probe"
	"github.com/filipmarinca/api-monitor/internal/queue"
	"github.com/filipmarinca/api-monitor/internal/schedule"
	"github.com/filipmarinca/api-monitor/internal/sender/email"
	"github.com/filipmarinca/api-monitor/internal/sender/sms"
	"github.com/filipmarinca/api-monitor/internal/sender/webhook"
	"github.com/filipmarinca/api-monitor/internal/store"
)

func main() {
	// Parse command-line flags
	cfg := &config.Config{}
	flag.StringVar(&cfg.DatabaseURL, "database-url", "postgres://localhost:5432/apimonitor?sslmode=disable", "Postgres connection string")
	flag.StringVar(&cfg.QueueBackend, "queue-backend", config.QueueKafka, "Task queue backend (kafka or memory)")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", "localhost:9092", "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", "engine-group", "Kafka consumer group ID")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis server address (empty disables fanout and metrics)")
	flag.IntVar(&cfg.ProbeConcurrency, "probe-concurrency", queue.DefaultProbeConcurrency, "Concurrent probe task workers")
	flag.IntVar(&cfg.AlertConcurrency, "alert-concurrency", queue.DefaultAlertConcurrency, "Concurrent alert task workers")
	flag.IntVar(&cfg.IncidentConcurrency, "incident-concurrency", queue.DefaultIncidentConcurrency, "Concurrent incident task workers")
	flag.DurationVar(&cfg.SyncInterval, "sync-interval", 30*time.Second, "Interval for reloading monitors into the scheduler")
	flag.Parse()

	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting monitoring engine",
		"queue_backend", cfg.QueueBackend,
		"kafka_brokers", cfg.KafkaBrokers,
		"consumer_group_id", cfg.ConsumerGroupID,
		"redis_addr", cfg.RedisAddr,
		"probe_concurrency", cfg.ProbeConcurrency,
		"alert_concurrency", cfg.AlertConcurrency,
		"incident_concurrency", cfg.IncidentConcurrency,
		"sync_interval", cfg.SyncInterval,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// Connect to Postgres
	slog.Info("Connecting to Postgres")
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		slog.Info("Tip: Start Postgres with 'docker compose up -d postgres' and apply migrations/schema.sql")
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Successfully connected to Postgres")

	// Redis backs the real-time fanout and the metrics sink. Without it the
	// engine still runs, just without either.
	var pub fanout.Publisher = fanout.Nop{}
	var rec metrics.Recorder = metrics.NoOp{}
	if cfg.RedisAddr != "" {
		slog.Info("Connecting to Redis", "addr", cfg.RedisAddr)
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			slog.Info("Tip: Start Redis with 'docker compose up -d redis' or pass -redis-addr=''")
			os.Exit(1)
		}
		slog.Info("Successfully connected to Redis")

		pub = fanout.NewRedis(redisClient, "")
		collector := metrics.NewCollector(redisClient)
		collector.Start(ctx)
		defer collector.Stop()
		rec = collector
	}

	// Initialize the task queue
	var tasks queue.TaskQueue
	switch cfg.QueueBackend {
	case config.QueueKafka:
		slog.Info("Connecting to Kafka", "brokers", cfg.KafkaBrokers)
		kq, err := queue.NewKafka(cfg.KafkaBrokers, cfg.ConsumerGroupID)
		if err != nil {
			slog.Error("Failed to create Kafka queue", "error", err)
			slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
			os.Exit(1)
		}
		tasks = kq
	case config.QueueMemory:
		slog.Info("Using in-memory task queue")
		tasks = queue.NewMemory()
	}
	defer tasks.Close()

	// Wire the pipeline
	checker := probe.NewChecker()
	incidents := incident.NewManager(db, tasks, pub, rec)
	alerts := alert.NewEvaluator(tasks)
	senders := dispatch.Senders{
		Email:   email.NewSender(),
		Webhook: webhook.NewSender(),
		SMS:     sms.NewSender(),
	}
	dispatcher := dispatch.NewDispatcher(db, senders, rec)

	eng := engine.New(engine.Config{
		ProbeConcurrency:    cfg.ProbeConcurrency,
		AlertConcurrency:    cfg.AlertConcurrency,
		IncidentConcurrency: cfg.IncidentConcurrency,
	}, db, tasks, checker, incidents, alerts, dispatcher, pub, rec)

	if err := eng.Run(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	// Start the probe scheduler and keep it in sync with the monitor table
	sched := schedule.New(tasks, rec)
	if err := syncScheduler(ctx, sched, db); err != nil {
		slog.Error("Failed to load monitors", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("Engine running", "monitors", sched.Len())

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine stopped")
			return
		case <-ticker.C:
			if err := syncScheduler(ctx, sched, db); err != nil {
				slog.Error("Failed to refresh monitors", "error", err)
			}
		}
	}
}

// syncScheduler reconciles the scheduler against the enabled monitors.
func syncScheduler(ctx context.Context, sched *schedule.Scheduler, db *store.DB) error {
	monitors, err := db.ListEnabledMonitors(ctx)
	if err != nil {
		return err
	}
	sched.Sync(monitors)
	return nil
}
