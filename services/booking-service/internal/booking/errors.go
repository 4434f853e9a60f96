package booking

import "errors"

var (
	ErrServiceNotFound                   = errors.New("service not found")
	ErrServiceHasNoEligibleProfessionals = errors.New("service has no eligible professionals")
	ErrSlotUnavailable                   = errors.New("slot unavailable")
	ErrTenantNotFound                    = errors.New("tenant not found")
	ErrAppointmentNotFound               = errors.New("appointment not found")
	ErrInvalidTransition                 = errors.New("appointment status does not allow this change")

	// ErrNotFound is returned by Store implementations for missing rows.
	ErrNotFound = errors.New("not found")
)

// ValidationError rejects a request before any side effect happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
