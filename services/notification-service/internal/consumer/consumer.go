// Package consumer turns bus events into notification dispatches.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/services/notification-service/internal/dispatch"
	"github.com/segmentio/kafka-go"
)

type Dispatcher interface {
	DispatchRequest(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Completer closes the scheduled message behind a due event.
type Completer interface {
	CompleteScheduledMessage(ctx context.Context, id string, delivered bool, reason string) error
}

var appointmentTopics = map[string]string{
	outbox.TopicAppointmentCreated:   "created",
	outbox.TopicAppointmentUpdated:   "updated",
	outbox.TopicAppointmentCancelled: "cancelled",
	outbox.TopicAppointmentNoShow:    "no_show",
}

// Topics lists every topic Handle understands.
func Topics() []string {
	return []string{
		outbox.TopicAppointmentCreated,
		outbox.TopicAppointmentUpdated,
		outbox.TopicAppointmentCancelled,
		outbox.TopicAppointmentNoShow,
		outbox.TopicNotificationDue,
	}
}

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
}

type Handler struct {
	dispatcher Dispatcher
	completer  Completer
	logger     *slog.Logger
}

func New(d Dispatcher, c Completer, logger *slog.Logger) *Handler {
	return &Handler{dispatcher: d, completer: c, logger: logger}
}

// Handle is a kafkax.Handler. Malformed payloads are logged and dropped;
// only infrastructure errors are returned.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	if msg.Topic == outbox.TopicNotificationDue {
		return h.handleDue(ctx, msg)
	}
	event, ok := appointmentTopics[msg.Topic]
	if !ok {
		h.logger.WarnContext(ctx, "unexpected topic", "topic", msg.Topic)
		return nil
	}
	var p appointmentPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		h.logger.ErrorContext(ctx, "invalid appointment payload", "err", err, "topic", msg.Topic)
		return nil
	}
	_, err := h.dispatcher.DispatchRequest(ctx, dispatch.Request{AppointmentID: p.AppointmentID, EventType: event})
	if isPermanent(err) {
		h.logger.WarnContext(ctx, "appointment event skipped", "err", err, "appointment_id", p.AppointmentID)
		return nil
	}
	return err
}

func (h *Handler) handleDue(ctx context.Context, msg kafka.Message) error {
	var p outbox.DuePayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		h.logger.ErrorContext(ctx, "invalid due payload", "err", err)
		return nil
	}
	if p.ScheduledMessageID == "" {
		h.logger.ErrorContext(ctx, "due payload without scheduled_message_id", "appointment_id", p.AppointmentID)
		return nil
	}

	res, err := h.dispatcher.DispatchRequest(ctx, dispatch.Request{
		AppointmentID:      p.AppointmentID,
		EventType:          p.Type,
		ScheduledMessageID: p.ScheduledMessageID,
	})
	switch {
	case isPermanent(err):
		return h.completer.CompleteScheduledMessage(ctx, p.ScheduledMessageID, false, err.Error())
	case err != nil:
		return err
	case res.Duplicate:
		// A redelivery of this same row; the dispatch holding the guard closes it.
		return nil
	}

	delivered, reason := outcome(res)
	if err := h.completer.CompleteScheduledMessage(ctx, p.ScheduledMessageID, delivered, reason); err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "scheduled message processed",
		"scheduled_message_id", p.ScheduledMessageID,
		"appointment_id", p.AppointmentID,
		"type", p.Type,
		"delivered", delivered,
	)
	return nil
}

// outcome treats a due message as delivered when any client channel went out.
func outcome(res dispatch.Result) (bool, string) {
	if res.WhatsApp.Sent || res.Email.Sent {
		return true, ""
	}
	for _, c := range []dispatch.ChannelResult{res.WhatsApp, res.Email} {
		if c.Error != nil {
			return false, *c.Error
		}
	}
	return false, "no channel enabled"
}

func isPermanent(err error) bool {
	return errors.Is(err, dispatch.ErrAppointmentNotFound) ||
		errors.Is(err, dispatch.ErrInvalidEventType) ||
		errors.Is(err, dispatch.ErrAppointmentInactive) ||
		errors.Is(err, dispatch.ErrMissingAppointmentID)
}
