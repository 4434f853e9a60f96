package main

import (
	"context"
	"net/http"
	"time"

	"github.com/agendapro/agendapro/libs/config"
	"github.com/agendapro/agendapro/libs/db"
	"github.com/agendapro/agendapro/libs/httpx"
	"github.com/agendapro/agendapro/libs/inbox"
	"github.com/agendapro/agendapro/libs/kafkax"
	"github.com/agendapro/agendapro/libs/metrics"
	otelx "github.com/agendapro/agendapro/libs/otel"
	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/libs/runtime"
	"github.com/agendapro/agendapro/services/notification-service/internal/consumer"
	"github.com/agendapro/agendapro/services/notification-service/internal/conversation"
	"github.com/agendapro/agendapro/services/notification-service/internal/dispatch"
	"github.com/agendapro/agendapro/services/notification-service/internal/email"
	"github.com/agendapro/agendapro/services/notification-service/internal/handlers"
	"github.com/agendapro/agendapro/services/notification-service/internal/storage"
	"github.com/agendapro/agendapro/services/notification-service/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{ApplicationName: "notification-service", MaxConns: int32(maxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mailer, err := email.New(email.Config{
		Provider:       config.String("EMAIL_PROVIDER", "noop"),
		From:           config.String("EMAIL_FROM", "no-reply@agendapro.local"),
		FromName:       config.String("EMAIL_FROM_NAME", "Agenda"),
		ResendAPIKey:   config.String("RESEND_API_KEY", ""),
		ResendBaseURL:  config.String("RESEND_BASE_URL", ""),
		SendGridAPIKey: config.String("SENDGRID_API_KEY", ""),
		SMTPHost:       config.String("SMTP_HOST", "mailpit"),
		SMTPPort:       config.String("SMTP_PORT", "1025"),
	}, logger)
	if err != nil {
		logger.Error("email sender setup failed", "err", err)
		panic(err)
	}

	gatewayTimeout, err := config.Duration("WHATSAPP_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	window, err := config.Duration("DISPATCH_DEDUP_WINDOW", dispatch.DefaultWindow)
	if err != nil {
		panic(err)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	var guard dispatch.Guard
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()
		guard = dispatch.NewRedisGuard(rdb)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		logger.Warn("REDIS_ADDR not set, duplicate dispatch suppression disabled")
	}

	repo := storage.NewRepository(pool, logger)
	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Store:    repo,
		Resolver: conversation.NewResolver(repo, logger),
		WhatsApp: whatsapp.NewClient(gatewayTimeout),
		Email:    mailer,
		Guard:    guard,
		Metrics:  metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
		Logger:   logger,
	}, dispatch.Config{
		Window:        window,
		PublicBaseURL: config.String("PUBLIC_BASE_URL", ""),
	})

	eventHandler := consumer.New(dispatcher, repo, logger)
	eventConsumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool), kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  config.List("KAFKA_CONSUME_TOPICS", consumer.Topics()),
	}, eventHandler.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	handlers.NewDispatchHandler(dispatcher, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(16<<10),
		httpx.WithTimeout(30*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	_ = runtime.Serve(ctx, srv, logger, 10*time.Second)
}
