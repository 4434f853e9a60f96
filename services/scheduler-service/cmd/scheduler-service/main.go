package main

import (
	"context"
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
	"github.com/agendapro/agendapro/services/scheduler-service/internal/jobs"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
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
	pool, err := db.Open(ctx, dbURL, db.Options{ApplicationName: "scheduler-service", MaxConns: int32(maxConns)})
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

	interval, err := config.Duration("SCHEDULER_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		panic(err)
	}
	batchSize, err := config.Int("SCHEDULER_BATCH_SIZE", 50)
	if err != nil {
		panic(err)
	}
	backoff, err := config.Duration("SCHEDULER_BACKOFF", time.Minute)
	if err != nil {
		panic(err)
	}
	maxLateness, err := config.Duration("MAX_LATENESS", 2*time.Hour)
	if err != nil {
		panic(err)
	}

	schedulerMetrics := metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer)
	worker := jobs.NewWorker(pool, logger, schedulerMetrics, jobs.WorkerConfig{
		Interval:  interval,
		BatchSize: batchSize,
		Backoff:   backoff,
	})
	go worker.Run(ctx)

	sweeper := jobs.NewSweeper(pool, logger, schedulerMetrics, jobs.SweeperConfig{
		Spec:        config.String("SWEEP_SCHEDULE", "@every 10m"),
		MaxLateness: maxLateness,
	})
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.Error("sweeper stopped", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	_ = runtime.Serve(ctx, srv, logger, 10*time.Second)
}
