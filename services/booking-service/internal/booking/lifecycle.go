package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

// Cancel frees the slot, drops pending scheduled messages and publishes a
// cancelled event. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, tenantID, appointmentID, reason string) (model.Appointment, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, tenantID, appointmentID, model.StatusCancelled, reason, EventCancelled)
}

// MarkNoShow records that the client did not attend.
func (s *Service) MarkNoShow(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	return s.transition(ctx, tenantID, appointmentID, model.StatusNoShow, "", EventNoShow)
}

// Complete closes an attended appointment. No notification is sent.
func (s *Service) Complete(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	return s.transition(ctx, tenantID, appointmentID, model.StatusCompleted, "", "")
}

func (s *Service) transition(ctx context.Context, tenantID, appointmentID string, to model.AppointmentStatus, reason string, kind EventKind) (model.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return model.Appointment{}, invalid("appointment_id", "is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return model.Appointment{}, invalid("tenant_id", "is required")
	}

	var out model.Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, tenantID, appointmentID)
		if errors.Is(err, ErrNotFound) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status == to {
			out = appt
			return nil
		}
		if !appt.Status.Active() {
			return ErrInvalidTransition
		}

		at, err := tx.UpdateStatus(ctx, appt.ID, to, reason)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		appt.Status = to
		if to == model.StatusCancelled {
			appt.CancelledAt = &at
			appt.CancelReason = reason
		}
		if _, err := tx.CancelPendingMessages(ctx, appt.ID); err != nil {
			return fmt.Errorf("cancel scheduled messages: %w", err)
		}
		if kind != "" {
			evt, err := appointmentEvent(kind, appt, reason, s.now())
			if err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, evt); err != nil {
				return fmt.Errorf("insert outbox event: %w", err)
			}
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment status changed", "tenant_id", tenantID, "appointment_id", out.ID, "status", string(out.Status))
	return out, nil
}

const maxListLimit = 500

// ListAppointments returns the tenant's agenda for one local day.
func (s *Service) ListAppointments(ctx context.Context, tenantID, date string, limit int) ([]model.Appointment, error) {
	t, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	loc := t.Settings.Location()
	day := s.now().In(loc)
	if date = strings.TrimSpace(date); date != "" {
		day, err = time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, invalid("date", "must be YYYY-MM-DD")
		}
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	from, to := localDay(day, loc)
	appts, err := s.store.ListAppointments(ctx, tenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// Confirm marks a scheduled appointment as confirmed by the client through
// the token sent in the confirmation link.
func (s *Service) Confirm(ctx context.Context, token string) (model.Appointment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Appointment{}, invalid("token", "is required")
	}
	var out model.Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentByTokenForUpdate(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		switch appt.Status {
		case model.StatusConfirmed:
		case model.StatusScheduled:
			if _, err := tx.UpdateStatus(ctx, appt.ID, model.StatusConfirmed, ""); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			appt.Status = model.StatusConfirmed
		default:
			return ErrInvalidTransition
		}
		out = appt
		return nil
	})
	return out, err
}

// Reschedule moves an active appointment to newStart with the same
// professional, re-checking availability and replacing pending messages.
func (s *Service) Reschedule(ctx context.Context, tenantID, appointmentID string, newStart time.Time) (model.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return model.Appointment{}, invalid("appointment_id", "is required")
	}
	if newStart.IsZero() {
		return model.Appointment{}, invalid("start_time", "is required")
	}
	t, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return model.Appointment{}, err
	}
	loc := t.Settings.Location()
	now := s.now()

	var out model.Appointment
	err = s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, tenantID, appointmentID)
		if errors.Is(err, ErrNotFound) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !appt.Status.Active() {
			return ErrInvalidTransition
		}
		svc, err := s.store.GetService(ctx, tenantID, appt.ServiceID)
		if err != nil {
			return fmt.Errorf("load service: %w", err)
		}
		if err := tx.LockProfessional(ctx, appt.ProfessionalID); err != nil {
			return fmt.Errorf("lock professional: %w", err)
		}

		start := newStart.In(loc)
		why, err := s.fits(ctx, tx, appt.ProfessionalID, svc.Duration, start, loc, t.Settings.MinNotice, now, appt.ID)
		if err != nil {
			return err
		}
		if why != nil {
			return slotError(why)
		}

		appt.StartTime = start.UTC()
		appt.EndTime = start.Add(svc.Duration).UTC()
		if err := tx.MoveAppointment(ctx, appt.ID, appt.StartTime, appt.EndTime); err != nil {
			return err
		}
		appt.Status = model.StatusScheduled
		if _, err := tx.CancelPendingMessages(ctx, appt.ID); err != nil {
			return fmt.Errorf("cancel scheduled messages: %w", err)
		}
		if err := tx.InsertScheduledMessages(ctx, PlanScheduledMessages(appt, svc, t.Settings, now)); err != nil {
			return fmt.Errorf("insert scheduled messages: %w", err)
		}
		evt, err := appointmentEvent(EventUpdated, appt, "", now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled", "tenant_id", tenantID, "appointment_id", out.ID, "start_time", out.StartTime)
	return out, nil
}
