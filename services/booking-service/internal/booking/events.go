package booking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

// EventKind is the lifecycle change carried by an appointment event.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventCancelled EventKind = "cancelled"
	EventNoShow    EventKind = "no_show"
)

var eventTopics = map[EventKind]string{
	EventCreated:   outbox.TopicAppointmentCreated,
	EventUpdated:   outbox.TopicAppointmentUpdated,
	EventCancelled: outbox.TopicAppointmentCancelled,
	EventNoShow:    outbox.TopicAppointmentNoShow,
}

// AppointmentEvent is the payload published for every lifecycle change.
type AppointmentEvent struct {
	AppointmentID  string    `json:"appointment_id"`
	TenantID       string    `json:"tenant_id"`
	EventType      EventKind `json:"event_type"`
	ServiceID      string    `json:"service_id"`
	ProfessionalID string    `json:"professional_id"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     string    `json:"occurred_at"`
}

func appointmentEvent(kind EventKind, appt model.Appointment, reason string, at time.Time) (outbox.Event, error) {
	topic, ok := eventTopics[kind]
	if !ok {
		return outbox.Event{}, fmt.Errorf("unknown appointment event %q", kind)
	}
	payload, err := json.Marshal(AppointmentEvent{
		AppointmentID:  appt.ID,
		TenantID:       appt.TenantID,
		EventType:      kind,
		ServiceID:      appt.ServiceID,
		ProfessionalID: appt.ProfessionalID,
		Source:         string(appt.Source),
		Status:         string(appt.Status),
		StartTime:      appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:        appt.EndTime.UTC().Format(time.RFC3339),
		Reason:         reason,
		OccurredAt:     at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return outbox.Event{}, fmt.Errorf("marshal %s event: %w", kind, err)
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     topic,
		Payload:       payload,
	}, nil
}
