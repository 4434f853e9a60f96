package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agendapro/agendapro/libs/metrics"
	otelx "github.com/agendapro/agendapro/libs/otel"
	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/jackc/pgx/v5"
)

type Worker struct {
	pool      outbox.TxBeginner
	logger    *slog.Logger
	metrics   *metrics.SchedulerMetrics
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool outbox.TxBeginner, logger *slog.Logger, m *metrics.SchedulerMetrics, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{
		pool:      pool,
		logger:    logger,
		metrics:   m,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("scheduler batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch turns due messages into notification due events and returns
// how many were queued.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, tx.Commit(ctx)
	}

	var queued []string
	var failed []Message
	for _, m := range due {
		msgCtx := otelx.TraceContext{Parent: m.Traceparent, State: m.Tracestate}.Resume(ctx)
		if err := w.enqueue(msgCtx, tx, m); err != nil {
			w.logger.Warn("due event enqueue failed", "err", err, "scheduled_message_id", m.ID)
			failed = append(failed, m)
			continue
		}
		queued = append(queued, m.ID)
	}

	if err := MarkQueued(ctx, tx, queued); err != nil {
		return 0, err
	}

	var exhausted int
	for _, m := range failed {
		attempts := m.Attempts + 1
		nextRunAt := w.now().UTC().Add(w.backoff * time.Duration(attempts))
		if err := MarkRetry(ctx, tx, m.ID, attempts, m.MaxAttempts, nextRunAt, "outbox enqueue failed"); err != nil {
			return 0, err
		}
		if attempts >= m.MaxAttempts {
			exhausted++
			msgCtx := otelx.TraceContext{Parent: m.Traceparent, State: m.Tracestate}.Resume(ctx)
			if err := w.insertEvent(msgCtx, tx, outbox.TopicNotificationDLQ, m, attempts, "max attempts reached"); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	w.metrics.Observe("queued", len(queued))
	w.metrics.Observe("retry", len(failed)-exhausted)
	w.metrics.Observe("dlq", exhausted)
	return len(queued), nil
}

// enqueue writes the due event under a savepoint so a failed insert does not
// abort the batch transaction.
func (w *Worker) enqueue(ctx context.Context, tx pgx.Tx, m Message) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := w.insertEvent(ctx, sp, outbox.TopicNotificationDue, m, m.Attempts, ""); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (w *Worker) insertEvent(ctx context.Context, tx pgx.Tx, topic string, m Message, attempts int, reason string) error {
	payload, err := json.Marshal(outbox.DuePayload{
		ScheduledMessageID: m.ID,
		TenantID:           m.TenantID,
		AppointmentID:      m.AppointmentID,
		Type:               m.Type,
		Channel:            m.Channel,
		ScheduledAt:        m.ScheduledAt.UTC().Format(time.RFC3339),
		Attempts:           attempts,
		Error:              reason,
	})
	if err != nil {
		return err
	}
	return outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "scheduled_message",
		AggregateID:   m.ID,
		EventType:     topic,
		Payload:       payload,
	})
}
