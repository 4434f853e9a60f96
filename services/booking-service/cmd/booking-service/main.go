package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/agendapro/agendapro/libs/config"
	"github.com/agendapro/agendapro/libs/db"
	"github.com/agendapro/agendapro/libs/httpx"
	"github.com/agendapro/agendapro/libs/kafkax"
	"github.com/agendapro/agendapro/libs/metrics"
	otelx "github.com/agendapro/agendapro/libs/otel"
	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/libs/runtime"
	"github.com/agendapro/agendapro/services/booking-service/internal/booking"
	"github.com/agendapro/agendapro/services/booking-service/internal/handlers"
	"github.com/agendapro/agendapro/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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
	pool, err := db.Open(ctx, dbURL, db.Options{ApplicationName: "booking-service", MaxConns: int32(maxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	pollEvery, err := config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		panic(err)
	}
	outboxPublisher := outbox.NewPublisher(pool, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: pollEvery,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	repo := storage.NewBookingRepository(pool, logger)
	bookingService := booking.NewService(repo, logger, booking.Config{
		PublicBaseURL: config.String("PUBLIC_BASE_URL", ""),
	})
	bookingHandler := handlers.NewBookingHandler(bookingService, logger, metrics.NewBookingMetrics(prometheus.DefaultRegisterer))

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	limiter, rdb := publicLimiter(logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	bookingHandler.Register(mux, limiter)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", nil),
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", handlers.TenantHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	_ = runtime.Serve(ctx, srv, logger, 10*time.Second)
}

// publicLimiter rate limits the public booking routes, shared through Redis
// when REDIS_ADDR is set and per process otherwise.
func publicLimiter(logger *slog.Logger) (httpx.Middleware, *redis.Client) {
	limit, err := config.Int("PUBLIC_RATE_LIMIT", 30)
	if err != nil {
		panic(err)
	}
	window, err := config.Duration("PUBLIC_RATE_WINDOW", time.Minute)
	if err != nil {
		panic(err)
	}
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewRateLimiter(limit, window).Middleware(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	rl := httpx.NewRedisRateLimiter(rdb, limit, window, "book")
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)), rdb
}
