package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType, one topic per event.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics published by the platform.
const (
	TopicAppointmentCreated   = "agenda.appointment.created.v1"
	TopicAppointmentUpdated   = "agenda.appointment.updated.v1"
	TopicAppointmentCancelled = "agenda.appointment.cancelled.v1"
	TopicAppointmentNoShow    = "agenda.appointment.no_show.v1"
	TopicNotificationDue      = "agenda.notification.due.v1"
	TopicNotificationDLQ      = "agenda.notification.dlq.v1"
	TopicNotificationSent     = "agenda.notification.sent.v1"
	TopicNotificationFailed   = "agenda.notification.failed.v1"
)

// DuePayload is carried by TopicNotificationDue and TopicNotificationDLQ.
type DuePayload struct {
	ScheduledMessageID string `json:"scheduled_message_id"`
	TenantID           string `json:"tenant_id"`
	AppointmentID      string `json:"appointment_id"`
	Type               string `json:"type"`
	Channel            string `json:"channel"`
	ScheduledAt        string `json:"scheduled_at"`
	Attempts           int    `json:"attempts,omitempty"`
	Error              string `json:"error,omitempty"`
}
