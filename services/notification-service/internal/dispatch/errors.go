package dispatch

import "errors"

var (
	ErrMissingAppointmentID = errors.New("dispatch: appointment_id is required")
	ErrInvalidEventType     = errors.New("dispatch: invalid event type")
	ErrAppointmentNotFound  = errors.New("dispatch: appointment not found")
	// ErrAppointmentInactive rejects client notices that only make sense for
	// an appointment that is still going to happen.
	ErrAppointmentInactive = errors.New("dispatch: appointment is no longer active")
)
