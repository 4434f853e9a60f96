package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Message is a scheduled message row the worker hands off to notification.
type Message struct {
	ID            string
	TenantID      string
	AppointmentID string
	Type          string
	Channel       string
	ScheduledAt   time.Time
	Traceparent   string
	Tracestate    string
	Attempts      int
	MaxAttempts   int
}

func FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, tenant_id::text, appointment_id::text, type, channel, scheduled_at,
			traceparent, tracestate, attempts, max_attempts
		FROM scheduled_messages
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.AppointmentID, &m.Type, &m.Channel, &m.ScheduledAt,
			&m.Traceparent, &m.Tracestate, &m.Attempts, &m.MaxAttempts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func MarkQueued(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'queued', updated_at = now()
		WHERE id = ANY($1::uuid[])
	`, ids)
	return err
}

// MarkRetry records a failed hand-off. Once attempts reaches maxAttempts the
// row is failed and never picked up again.
func MarkRetry(ctx context.Context, tx pgx.Tx, id string, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduled_messages
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ExpireStale fails messages still open maxLateness after their scheduled
// time. Queued rows are included so a lost due event cannot leave a row
// queued forever.
func ExpireStale(ctx context.Context, db Execer, maxLateness time.Duration) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed', last_error = 'expired', updated_at = now()
		WHERE status IN ('pending', 'queued') AND scheduled_at < now() - make_interval(secs => $1)
	`, maxLateness.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
