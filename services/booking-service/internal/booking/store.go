package booking

import (
	"context"
	"time"

	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/availability"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

// Store is the persistence the booking service reads outside a transaction.
// Implementations return ErrNotFound for missing rows.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (tenant.Tenant, error)
	GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	ListEligibleProfessionals(ctx context.Context, tenantID, serviceID string) ([]model.Professional, error)
	GetWorkingHours(ctx context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error)
	ListBusy(ctx context.Context, professionalID string, from, to time.Time) ([]availability.Interval, error)
	ListAppointments(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]model.Appointment, error)
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the unit of work a booking or lifecycle change runs in. Everything
// written through one Tx commits or rolls back together.
type Tx interface {
	LockIdempotencyKey(ctx context.Context, tenantID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tenantID, key, appointmentID string, payload []byte) error

	// LockProfessional serializes writers of one professional's calendar until commit.
	LockProfessional(ctx context.Context, professionalID string) error
	GetWorkingHours(ctx context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error)
	// ListBusy returns active appointments of the professional intersecting
	// [from, to), skipping excludeID.
	ListBusy(ctx context.Context, professionalID string, from, to time.Time, excludeID string) ([]availability.Interval, error)

	FindOrCreateClient(ctx context.Context, tenantID string, c Client) (string, error)
	// InsertAppointment fills ID and CreatedAt. An overlapping active
	// appointment yields ErrSlotUnavailable.
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	GetAppointmentByTokenForUpdate(ctx context.Context, token string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, appointmentID string, status model.AppointmentStatus, reason string) (time.Time, error)
	MoveAppointment(ctx context.Context, appointmentID string, start, end time.Time) error

	InsertScheduledMessages(ctx context.Context, msgs []model.ScheduledMessage) error
	CancelPendingMessages(ctx context.Context, appointmentID string) (int, error)

	InsertEvent(ctx context.Context, evt outbox.Event) error
}

type IdempotencyRecord struct {
	AppointmentID string
	Payload       []byte
}
