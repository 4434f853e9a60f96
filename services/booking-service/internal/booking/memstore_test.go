package booking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/availability"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

// memStore is an in-memory Store whose transactions are fully serialized.
type memStore struct {
	mu sync.Mutex

	tenants       map[string]tenant.Tenant
	services      map[string]model.Service
	eligible      map[string][]model.Professional
	hours         map[string]model.WorkingHours
	appointments  []model.Appointment
	messages      []memMessage
	events        []outbox.Event
	clients       map[string]string
	idempotency   map[string]IdempotencyRecord
	lockedPros    []string
	failInsertMsg error
	seq           int
}

type memMessage struct {
	model.ScheduledMessage
	Status string
}

func newMemStore() *memStore {
	return &memStore{
		tenants:     map[string]tenant.Tenant{},
		services:    map[string]model.Service{},
		eligible:    map[string][]model.Professional{},
		hours:       map[string]model.WorkingHours{},
		clients:     map[string]string{},
		idempotency: map[string]IdempotencyRecord{},
	}
}

func hoursKey(professionalID string, weekday time.Weekday) string {
	return fmt.Sprintf("%s/%d", professionalID, weekday)
}

func (m *memStore) GetTenant(_ context.Context, tenantID string) (tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return tenant.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetService(_ context.Context, tenantID, serviceID string) (model.Service, error) {
	svc, ok := m.services[serviceID]
	if !ok || svc.TenantID != tenantID {
		return model.Service{}, ErrNotFound
	}
	return svc, nil
}

func (m *memStore) ListEligibleProfessionals(_ context.Context, _, serviceID string) ([]model.Professional, error) {
	return slices.Clone(m.eligible[serviceID]), nil
}

func (m *memStore) GetWorkingHours(_ context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	wh, ok := m.hours[hoursKey(professionalID, weekday)]
	return wh, ok, nil
}

func (m *memStore) ListBusy(_ context.Context, professionalID string, from, to time.Time) ([]availability.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy(professionalID, from, to, ""), nil
}

func (m *memStore) busy(professionalID string, from, to time.Time, excludeID string) []availability.Interval {
	var out []availability.Interval
	for _, a := range m.appointments {
		if a.ProfessionalID != professionalID || a.ID == excludeID || !a.Status.Active() {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, availability.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return out
}

func (m *memStore) ListAppointments(_ context.Context, tenantID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.TenantID == tenantID && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.StartTime.Compare(b.StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	appts := slices.Clone(m.appointments)
	msgs := slices.Clone(m.messages)
	events := slices.Clone(m.events)
	clients := maps.Clone(m.clients)
	idem := maps.Clone(m.idempotency)
	seq := m.seq

	if err := fn(memTx{m}); err != nil {
		m.appointments, m.messages, m.events, m.clients, m.idempotency, m.seq = appts, msgs, events, clients, idem, seq
		return err
	}
	return nil
}

type memTx struct{ m *memStore }

func (t memTx) LockIdempotencyKey(_ context.Context, tenantID, key string) (IdempotencyRecord, bool, error) {
	rec, ok := t.m.idempotency[tenantID+"/"+key]
	if !ok {
		t.m.idempotency[tenantID+"/"+key] = IdempotencyRecord{}
	}
	return rec, ok, nil
}

func (t memTx) FinalizeIdempotency(_ context.Context, tenantID, key, appointmentID string, payload []byte) error {
	t.m.idempotency[tenantID+"/"+key] = IdempotencyRecord{AppointmentID: appointmentID, Payload: payload}
	return nil
}

func (t memTx) LockProfessional(_ context.Context, professionalID string) error {
	t.m.lockedPros = append(t.m.lockedPros, professionalID)
	return nil
}

func (t memTx) GetWorkingHours(ctx context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	return t.m.GetWorkingHours(ctx, professionalID, weekday)
}

func (t memTx) ListBusy(_ context.Context, professionalID string, from, to time.Time, excludeID string) ([]availability.Interval, error) {
	return t.m.busy(professionalID, from, to, excludeID), nil
}

func (t memTx) FindOrCreateClient(_ context.Context, tenantID string, c Client) (string, error) {
	key := tenantID + "/" + c.Phone
	if id, ok := t.m.clients[key]; ok {
		return id, nil
	}
	t.m.seq++
	id := fmt.Sprintf("client-%d", t.m.seq)
	t.m.clients[key] = id
	return id, nil
}

func (t memTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	for _, b := range t.m.busy(appt.ProfessionalID, appt.StartTime, appt.EndTime, "") {
		if availability.Overlaps(b, availability.Interval{Start: appt.StartTime, End: appt.EndTime}) {
			return ErrSlotUnavailable
		}
	}
	t.m.seq++
	appt.ID = fmt.Sprintf("appt-%d", t.m.seq)
	appt.CreatedAt = time.Now()
	t.m.appointments = append(t.m.appointments, *appt)
	return nil
}

func (t memTx) find(match func(model.Appointment) bool) (model.Appointment, error) {
	for _, a := range t.m.appointments {
		if match(a) {
			return a, nil
		}
	}
	return model.Appointment{}, ErrNotFound
}

func (t memTx) GetAppointmentForUpdate(_ context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	return t.find(func(a model.Appointment) bool { return a.ID == appointmentID && a.TenantID == tenantID })
}

func (t memTx) GetAppointmentByTokenForUpdate(_ context.Context, token string) (model.Appointment, error) {
	return t.find(func(a model.Appointment) bool { return a.ConfirmationToken == token })
}

func (t memTx) UpdateStatus(_ context.Context, appointmentID string, status model.AppointmentStatus, reason string) (time.Time, error) {
	now := time.Now()
	for i := range t.m.appointments {
		if t.m.appointments[i].ID == appointmentID {
			t.m.appointments[i].Status = status
			if status == model.StatusCancelled {
				t.m.appointments[i].CancelledAt = &now
				t.m.appointments[i].CancelReason = reason
			}
			return now, nil
		}
	}
	return time.Time{}, ErrNotFound
}

func (t memTx) MoveAppointment(_ context.Context, appointmentID string, start, end time.Time) error {
	for i := range t.m.appointments {
		if t.m.appointments[i].ID == appointmentID {
			t.m.appointments[i].StartTime = start
			t.m.appointments[i].EndTime = end
			t.m.appointments[i].Status = model.StatusScheduled
			return nil
		}
	}
	return ErrNotFound
}

func (t memTx) InsertScheduledMessages(_ context.Context, msgs []model.ScheduledMessage) error {
	if t.m.failInsertMsg != nil {
		return t.m.failInsertMsg
	}
	for _, msg := range msgs {
		t.m.messages = append(t.m.messages, memMessage{ScheduledMessage: msg, Status: "pending"})
	}
	return nil
}

func (t memTx) CancelPendingMessages(_ context.Context, appointmentID string) (int, error) {
	n := 0
	for i := range t.m.messages {
		if t.m.messages[i].AppointmentID == appointmentID && t.m.messages[i].Status == "pending" {
			t.m.messages[i].Status = "cancelled"
			n++
		}
	}
	return n, nil
}

func (t memTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.m.events = append(t.m.events, evt)
	return nil
}

func (m *memStore) pendingMessages(appointmentID string) []memMessage {
	var out []memMessage
	for _, msg := range m.messages {
		if msg.AppointmentID == appointmentID && msg.Status == "pending" {
			out = append(out, msg)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
