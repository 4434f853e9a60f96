package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agendapro/agendapro/libs/httpx"
	"github.com/agendapro/agendapro/services/notification-service/internal/dispatch"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, appointmentID, eventType string) (dispatch.Result, error)
}

type DispatchHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewDispatchHandler(d Dispatcher, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{dispatcher: d, logger: logger}
}

func (h *DispatchHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/notifications/dispatch", h.Dispatch)
}

type dispatchRequest struct {
	AppointmentID string `json:"appointment_id"`
	EventType     string `json:"event_type"`
}

func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var req dispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), req.AppointmentID, req.EventType)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, dispatch.ErrMissingAppointmentID), errors.Is(err, dispatch.ErrInvalidEventType):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, dispatch.ErrAppointmentNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, dispatch.ErrAppointmentInactive):
		httpx.WriteError(w, http.StatusConflict, "appointment_inactive", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "dispatch failed", "err", err, "appointment_id", req.AppointmentID)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
