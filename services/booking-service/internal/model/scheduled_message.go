package model

import "time"

type MessageKind string

const (
	KindReminder       MessageKind = "reminder"
	KindSecondReminder MessageKind = "reminder_2"
	KindPreMessage     MessageKind = "pre_message"
)

const ChannelWhatsApp = "whatsapp"

// ScheduledMessage is a future notification tied to an appointment.
type ScheduledMessage struct {
	ID            string
	TenantID      string
	AppointmentID string
	Kind          MessageKind
	Content       string
	Channel       string
	ScheduledAt   time.Time
}
