package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/kafka"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/queue"
	rediscache "github.com/NeilDarrenLtd/zarzoom-core/internal/redis"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
	"github.com/NeilDarrenLtd/zarzoom-core/services/scheduler"
	"github.com/NeilDarrenLtd/zarzoom-core/services/scheduler/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables the lifecycle stream")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("metrics-addr", ":9093", "Prometheus metrics server address")
	serveCmd.Flags().String("queue-secret", "changeme", "shared secret for signed job messages")
	serveCmd.Flags().String("queue-push-url", "", "worker push endpoint; empty disables push delivery")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("queue_secret", serveCmd.Flags(), "queue-secret")
	bindFlag("queue_push_url", serveCmd.Flags(), "queue-push-url")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("queue_secret", "QUEUE_SECRET")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "scheduler")
	instanceID := "scheduler-" + uuid.New().String()[:8]

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "scheduler", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	var events kafka.Producer
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		events = kafka.NewProducer(brokers)
		defer func() { _ = events.Close() }()
	}

	redisClient := rediscache.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepository(pool)
	scheduleRepo := postgres.NewScheduleRepository(pool)

	var pusher queue.Pusher
	if cfg.QueuePushURL != "" {
		pusher = queue.NewHTTPPusher(cfg.QueuePushURL)
	}
	resolver := queue.NewResolver(queue.DefaultPolicies, queue.DefaultPolicy)
	producer := queue.NewProducer(jobRepo, resolver, cfg.QueueSecret, pusher, events, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	sched := scheduler.NewScheduler(jobRepo, scheduleRepo, producer, redisClient, instanceID, logger)
	logger.Info("scheduler starting",
		slog.String("instance_id", instanceID),
		slog.Duration("check_interval", 15*time.Second),
	)
	sched.Run(runCtx)
	logger.Info("stopped")
	return nil
}
