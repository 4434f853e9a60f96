package booking

import (
	"net/mail"
	"strings"
	"time"

	"github.com/agendapro/agendapro/libs/phone"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

type Client struct {
	Name  string
	Phone string
	Email string
}

type BookRequest struct {
	ServiceID string
	// ProfessionalID is empty when the client has no preference.
	ProfessionalID string
	StartTime      time.Time
	Client         Client
	Notes          string
	Source         model.Source
	IdempotencyKey string
}

const maxNotesLen = 2000

func (r BookRequest) normalized() BookRequest {
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.ProfessionalID = strings.TrimSpace(r.ProfessionalID)
	r.Client.Name = strings.Join(strings.Fields(r.Client.Name), " ")
	r.Client.Phone = phone.Normalize(r.Client.Phone)
	r.Client.Email = strings.ToLower(strings.TrimSpace(r.Client.Email))
	r.Notes = strings.TrimSpace(r.Notes)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.Source == "" {
		r.Source = model.SourceManual
	}
	return r
}

// Validate checks the booking contract. It expects a normalized request.
func (r BookRequest) Validate() error {
	if r.ServiceID == "" {
		return invalid("service_id", "is required")
	}
	if r.StartTime.IsZero() {
		return invalid("start_time", "is required")
	}
	if r.Client.Name == "" {
		return invalid("client_name", "is required")
	}
	if len(r.Client.Phone) < 10 {
		return invalid("client_phone", "must have at least 10 digits")
	}
	if r.Client.Email != "" && !validEmail(r.Client.Email) {
		return invalid("client_email", "is not a valid address")
	}
	if len(r.Notes) > maxNotesLen {
		return invalid("notes", "is too long")
	}
	if !r.Source.Valid() {
		return invalid("source", "is not supported")
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// Confirmation is returned to the client after a successful booking.
type Confirmation struct {
	AppointmentID     string    `json:"appointment_id"`
	ConfirmationToken string    `json:"confirmation_token"`
	ConfirmURL        string    `json:"confirm_url,omitempty"`
	ServiceName       string    `json:"service_name"`
	ProfessionalID    string    `json:"professional_id"`
	ProfessionalName  string    `json:"professional_name"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Status            string    `json:"status"`
	Replayed          bool      `json:"-"`
}

// SlotsQuery selects one day of the slot grid. Date is YYYY-MM-DD in the tenant time zone.
type SlotsQuery struct {
	Date           string
	ServiceID      string
	ProfessionalID string
}
