package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agendapro/agendapro/libs/httpx"
	"github.com/agendapro/agendapro/libs/metrics"
	"github.com/agendapro/agendapro/services/booking-service/internal/availability"
	"github.com/agendapro/agendapro/services/booking-service/internal/booking"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

// BookingService is the part of booking.Service the HTTP layer drives.
type BookingService interface {
	Book(ctx context.Context, tenantID string, req booking.BookRequest) (booking.Confirmation, error)
	Slots(ctx context.Context, tenantID string, q booking.SlotsQuery) ([]availability.TimeSlot, error)
	Confirm(ctx context.Context, token string) (model.Appointment, error)
	Cancel(ctx context.Context, tenantID, appointmentID, reason string) (model.Appointment, error)
	MarkNoShow(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	Complete(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	Reschedule(ctx context.Context, tenantID, appointmentID string, newStart time.Time) (model.Appointment, error)
	ListAppointments(ctx context.Context, tenantID, date string, limit int) ([]model.Appointment, error)
}

const TenantHeader = "X-Tenant-Id"

type BookingHandler struct {
	svc     BookingService
	logger  *slog.Logger
	metrics *metrics.BookingMetrics
}

func NewBookingHandler(svc BookingService, logger *slog.Logger, m *metrics.BookingMetrics) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger, metrics: m}
}

// Register mounts operator routes on mux and public routes behind public.
func (h *BookingHandler) Register(mux *http.ServeMux, public httpx.Middleware) {
	if public == nil {
		public = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/api/v1/public/slots", public(http.HandlerFunc(h.Slots)))
	mux.Handle("/api/v1/public/book", public(http.HandlerFunc(h.Create)))
	mux.Handle("/api/v1/public/confirm", public(http.HandlerFunc(h.Confirm)))
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/no-show", h.NoShow)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
}

type createBookingRequest struct {
	TenantID       string `json:"tenant_id"`
	ServiceID      string `json:"service_id"`
	ProfessionalID string `json:"professional_id"`
	StartTime      string `json:"start_time"`
	ClientName     string `json:"client_name"`
	ClientPhone    string `json:"client_phone"`
	ClientEmail    string `json:"client_email"`
	Notes          string `json:"notes"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type appointmentItem struct {
	AppointmentID  string `json:"appointment_id"`
	ServiceID      string `json:"service_id"`
	ProfessionalID string `json:"professional_id"`
	ClientName     string `json:"client_name"`
	ClientPhone    string `json:"client_phone"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	CancelledAt    string `json:"cancelled_at,omitempty"`
	CancelReason   string `json:"cancellation_reason,omitempty"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	StartTime     string `json:"start_time"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var start time.Time
	if raw := strings.TrimSpace(req.StartTime); raw != "" {
		var err error
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "start_time must be RFC3339")
			return
		}
	}

	conf, err := h.svc.Book(r.Context(), strings.TrimSpace(req.TenantID), booking.BookRequest{
		ServiceID:      req.ServiceID,
		ProfessionalID: req.ProfessionalID,
		StartTime:      start,
		Client:         booking.Client{Name: req.ClientName, Phone: req.ClientPhone, Email: req.ClientEmail},
		Notes:          req.Notes,
		Source:         model.SourcePublicBooking,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.metrics.ObserveBooking(outcome(err), string(model.SourcePublicBooking))
		h.writeError(w, r, err)
		return
	}
	h.metrics.ObserveBooking("booked", string(model.SourcePublicBooking))
	status := http.StatusCreated
	if conf.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, conf)
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	q := r.URL.Query()
	slots, err := h.svc.Slots(r.Context(), strings.TrimSpace(q.Get("tenant_id")), booking.SlotsQuery{
		Date:           q.Get("date"),
		ServiceID:      q.Get("service_id"),
		ProfessionalID: q.Get("professional_id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.ObserveSlotQuery()

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
			Available: s.Available,
			Reason:    string(s.Reason),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": items})
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	appt, err := h.svc.Confirm(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.ObserveTransition(string(appt.Status))
	httpx.WriteJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	appts, err := h.svc.ListAppointments(r.Context(), tenantFrom(r), r.URL.Query().Get("date"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentItem(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tenantID string, req transitionRequest) (model.Appointment, error) {
		return h.svc.Cancel(ctx, tenantID, req.AppointmentID, req.Reason)
	})
}

func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tenantID string, req transitionRequest) (model.Appointment, error) {
		return h.svc.MarkNoShow(ctx, tenantID, req.AppointmentID)
	})
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tenantID string, req transitionRequest) (model.Appointment, error) {
		return h.svc.Complete(ctx, tenantID, req.AppointmentID)
	})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tenantID string, req transitionRequest) (model.Appointment, error) {
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
		if err != nil {
			return model.Appointment{}, &booking.ValidationError{Field: "start_time", Reason: "must be RFC3339"}
		}
		return h.svc.Reschedule(ctx, tenantID, req.AppointmentID, start)
	})
}

type transitionFunc func(ctx context.Context, tenantID string, req transitionRequest) (model.Appointment, error)

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	appt, err := fn(r.Context(), tenantFrom(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.ObserveTransition(string(appt.Status))
	httpx.WriteJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", vErr.Error())
	case errors.Is(err, booking.ErrServiceNotFound):
		httpx.WriteError(w, http.StatusNotFound, "service_not_found", "service not found")
	case errors.Is(err, booking.ErrTenantNotFound):
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", "tenant not found")
	case errors.Is(err, booking.ErrAppointmentNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, booking.ErrServiceHasNoEligibleProfessionals):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "no_eligible_professionals", "no professional performs this service")
	case errors.Is(err, booking.ErrSlotUnavailable):
		httpx.WriteError(w, http.StatusConflict, "slot_unavailable", "the selected time is no longer available")
	case errors.Is(err, booking.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "booking request failed", "err", err, "path", r.URL.Path)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func outcome(err error) string {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		return "invalid"
	case errors.Is(err, booking.ErrSlotUnavailable):
		return "conflict"
	case errors.Is(err, booking.ErrServiceNotFound), errors.Is(err, booking.ErrTenantNotFound):
		return "not_found"
	case errors.Is(err, booking.ErrServiceHasNoEligibleProfessionals):
		return "no_professional"
	default:
		return "error"
	}
}

func tenantFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}

func toAppointmentItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:  a.ID,
		ServiceID:      a.ServiceID,
		ProfessionalID: a.ProfessionalID,
		ClientName:     a.ClientName,
		ClientPhone:    a.ClientPhone,
		StartTime:      a.StartTime.UTC().Format(time.RFC3339),
		EndTime:        a.EndTime.UTC().Format(time.RFC3339),
		Status:         string(a.Status),
		Source:         string(a.Source),
		CancelReason:   a.CancelReason,
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}
