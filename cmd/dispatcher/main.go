package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/notification-hub/internal/api"
	"github.com/sapliy/notification-hub/internal/config"
	"github.com/sapliy/notification-hub/internal/event"
	"github.com/sapliy/notification-hub/internal/gateway"
	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/ledger"
	"github.com/sapliy/notification-hub/internal/provider"
	"github.com/sapliy/notification-hub/internal/ratelimit"
	"github.com/sapliy/notification-hub/internal/template"
	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/internal/worker"
	"github.com/sapliy/notification-hub/pkg/database"
	"github.com/sapliy/notification-hub/pkg/messaging"
	"github.com/sapliy/notification-hub/pkg/observability"
)

func main() {
	logger := observability.NewLogger("dispatcher")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: "notification-dispatcher",
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
	})
	if err != nil {
		logger.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	queue, err := messaging.NewClient(messaging.DefaultConfig(cfg.RabbitURL))
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	for _, ch := range []job.Channel{job.ChannelEmail, job.ChannelInApp} {
		if _, err := queue.DeclareWorkQueue(ch.Queue()); err != nil {
			logger.Error("failed to declare queue", "queue", ch.Queue(), "error", err)
			os.Exit(1)
		}
	}

	var outcomes worker.OutcomePublisher
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		producer := messaging.NewKafkaProducer(brokers, cfg.KafkaOutcomeTopic)
		defer producer.Close()
		outcomes = producer
		logger.Info("outcome stream enabled", "topic", cfg.KafkaOutcomeTopic)
	}

	tenants := tenant.NewRepository(db)
	templates := template.NewResolver(template.NewRepository(db))
	jobs := job.NewStore(rdb)

	ledgerSvc := ledger.NewService(ledger.NewRepository(db), logger.Named("ledger"))

	systemMailer := systemDefaultMailer(cfg, logger)
	providers := provider.NewResolver(tenants, cfg.FallbackTenantID, systemMailer, cfg.SMTPFrom, logger.Named("provider"))

	limits := worker.Limiters{
		Global: ratelimit.NewGlobalLimiter(rdb, cfg.RateGlobalPoints, cfg.RateGlobalDuration, logger.Named("ratelimit")),
		Tenant: ratelimit.NewTenantLimiter(rdb, cfg.RateTenantLimit, cfg.RateTenantWindow, logger.Named("ratelimit")),
	}

	emailWorker := worker.NewEmailWorker(
		tenants, templates, providers, ledgerSvc, jobs, queue, limits, outcomes,
		cfg.BackoffBase, cfg.SendTimeout, logger.Named("worker.email"),
	)
	inAppWorker := worker.NewInAppWorker(
		tenants, templates, ledgerSvc, jobs, queue, outcomes,
		cfg.BackoffBase, logger.Named("worker.inapp"),
	)

	go func() {
		if err := queue.Consume(ctx, job.ChannelEmail.Queue(), emailWorker.Process); err != nil {
			logger.Error("email consumer stopped", "error", err)
			stop()
		}
	}()
	go func() {
		if err := queue.Consume(ctx, job.ChannelInApp.Queue(), inAppWorker.Process); err != nil {
			logger.Error("in-app consumer stopped", "error", err)
			stop()
		}
	}()

	hub := gateway.NewHub(logger.Named("gateway"))
	go hub.Run(ctx, ledgerSvc.Created())

	router := event.NewRouter(tenants, queue, jobs, cfg.MaxAttempts, logger.Named("router"))
	server := api.NewServer(cfg.HTTPAddr, router, ledgerSvc, jobs, hub, queue, logger.Named("http"))

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

// systemDefaultMailer picks the last tier of the transport chain: configured
// SMTP first, then Resend, then the console transport so development setups
// still observe sends.
func systemDefaultMailer(cfg *config.Config, logger *observability.Logger) provider.Mailer {
	if cfg.SMTPHost != "" {
		return provider.NewSystemSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPSecure, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	if cfg.ResendAPIKey != "" {
		return provider.NewResendTransport(cfg.ResendAPIKey)
	}
	return provider.NewConsoleTransport(logger.Named("mailer.console"))
}
