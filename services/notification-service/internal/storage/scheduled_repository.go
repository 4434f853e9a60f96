package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agendapro/agendapro/libs/db"
	"github.com/agendapro/agendapro/libs/outbox"
)

// CompleteScheduledMessage closes a queued scheduled message as sent or
// failed and emits the matching notification event in the same transaction.
// Rows that are no longer queued (cancelled meanwhile, or already closed by a
// redelivery) are left alone.
func (r *Repository) CompleteScheduledMessage(ctx context.Context, id string, delivered bool, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status, topic := "sent", outbox.TopicNotificationSent
	if !delivered {
		status, topic = "failed", outbox.TopicNotificationFailed
	}

	var tenantID, appointmentID, kind string
	err = tx.QueryRow(ctx, `
		UPDATE scheduled_messages
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1 AND status = 'queued'
		RETURNING tenant_id::text, appointment_id::text, type
	`, id, status, reason).Scan(&tenantID, &appointmentID, &kind)
	if err != nil {
		if db.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("complete scheduled message: %w", err)
	}

	body := map[string]any{
		"scheduled_message_id": id,
		"tenant_id":            tenantID,
		"appointment_id":       appointmentID,
		"type":                 kind,
		"status":               status,
		"at":                   time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		body["error_reason"] = reason
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if err := outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "scheduled_message",
		AggregateID:   id,
		EventType:     topic,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
