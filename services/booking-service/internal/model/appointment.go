package model

import "time"

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Active reports whether the appointment still occupies its time range.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Source records where a booking came from.
type Source string

const (
	SourcePublicBooking Source = "public_booking"
	SourceOnline        Source = "online"
	SourceManual        Source = "manual"
	SourceWhatsApp      Source = "whatsapp"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePublicBooking, SourceOnline, SourceManual, SourceWhatsApp:
		return true
	}
	return false
}

type Appointment struct {
	ID                string
	TenantID          string
	ServiceID         string
	ProfessionalID    string
	ClientID          string
	ClientName        string
	ClientPhone       string
	ClientEmail       string
	Notes             string
	StartTime         time.Time
	EndTime           time.Time
	Status            AppointmentStatus
	ConfirmationToken string
	Source            Source
	CancelledAt       *time.Time
	CancelReason      string
	CreatedAt         time.Time
}
