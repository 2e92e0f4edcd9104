package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/billing"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/kafka"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/queue"
	rediscache "github.com/NeilDarrenLtd/zarzoom-core/internal/redis"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
	"github.com/NeilDarrenLtd/zarzoom-core/services/api/config"
	"github.com/NeilDarrenLtd/zarzoom-core/services/api/handler"
	"github.com/NeilDarrenLtd/zarzoom-core/services/api/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables the lifecycle stream")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("queue-secret", "changeme", "shared secret for signed job messages")
	serveCmd.Flags().String("queue-push-url", "", "worker push endpoint; empty disables push delivery")
	serveCmd.Flags().String("billing-webhook-secret", "", "payment provider webhook signing secret")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("queue_secret", serveCmd.Flags(), "queue-secret")
	bindFlag("queue_push_url", serveCmd.Flags(), "queue-push-url")
	bindFlag("billing_webhook_secret", serveCmd.Flags(), "billing-webhook-secret")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("queue_secret", "QUEUE_SECRET")
	_ = viper.BindEnv("billing_webhook_secret", "BILLING_WEBHOOK_SECRET")
}

// planJobLimits is the per-month job quota by plan. Zero means unlimited.
var planJobLimits = map[string]int64{
	"free":    20,
	"starter": 200,
	"pro":     2000,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "api")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "api", cfg.OTelEndpoint)
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
	entitlements := rediscache.NewEntitlementsCache(redisClient)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepository(pool)
	billingRepo := postgres.NewBillingRepository(pool)

	quota := rediscache.NewQuotaEnforcer(redisClient, planLimits(billingRepo))

	var pusher queue.Pusher
	if cfg.QueuePushURL != "" {
		pusher = queue.NewHTTPPusher(cfg.QueuePushURL)
	}
	resolver := queue.NewResolver(queue.DefaultPolicies, queue.DefaultPolicy)
	producer := queue.NewProducer(jobRepo, resolver, cfg.QueueSecret, pusher, events, logger)
	notifier := queue.NewCallbackNotifier(logger)
	results := queue.NewResults(jobRepo, resolver, notifier, logger)

	reconciler := billing.NewReconciler(billingRepo, entitlements, logger)
	gate := billing.NewGate(billingRepo, reconciler, cfg.WebhookSecret, logger)

	restHandler := handler.NewREST(producer, results, jobRepo, quota, logger)
	webhookHandler := handler.NewWebhook(gate, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Get("/healthz", restHandler.Healthz)
	r.Get("/readyz", restHandler.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", restHandler.Enqueue)
		r.Post("/jobs/claim", restHandler.Claim)
		r.Get("/jobs/{id}", restHandler.GetJob)
		r.Post("/jobs/{id}/result", restHandler.Result)
	})
	r.Post("/webhooks/billing", webhookHandler.Receive)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	go func() {
		logger.Info("api HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}

// planLimits resolves a tenant's monthly job quota from its subscription.
// Tenants without a row get the free plan's limit.
func planLimits(repo postgres.BillingRepository) rediscache.LimitFunc {
	return func(ctx context.Context, tenantID, _ string) (int64, error) {
		sub, err := repo.GetSubscriptionByTenantID(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		plan := "free"
		if sub != nil && sub.PlanID != "" {
			plan = sub.PlanID
		}
		return planJobLimits[plan], nil
	}
}
