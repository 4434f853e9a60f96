package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agendapro/agendapro/libs/db"
	otelx "github.com/agendapro/agendapro/libs/otel"
	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/libs/phone"
	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/availability"
	"github.com/agendapro/agendapro/services/booking-service/internal/booking"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *db.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is the read surface shared by the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BookingRepository struct {
	db     DB
	logger *slog.Logger
}

func NewBookingRepository(db DB, logger *slog.Logger) *BookingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingRepository{db: db, logger: logger}
}

var _ booking.Store = (*BookingRepository)(nil)

func (r *BookingRepository) GetTenant(ctx context.Context, tenantID string) (tenant.Tenant, error) {
	var (
		t   tenant.Tenant
		raw []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id::text, name, settings
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &raw)
	if err != nil {
		return tenant.Tenant{}, notFound(err)
	}
	settings, err := tenant.ParseSettings(raw)
	if err != nil {
		r.logger.WarnContext(ctx, "tenant settings partly invalid", "err", err, "tenant_id", t.ID)
	}
	t.Settings = settings
	return t, nil
}

func (r *BookingRepository) GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	var (
		svc          model.Service
		minutes      int
		visibility   string
		preHours     int
		preMsgText   string
		preMsgEnable bool
	)
	err := r.db.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, duration_minutes, price_cents, active, visibility,
			pre_message_enabled, pre_message_hours, pre_message_text
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, serviceID, tenantID).Scan(
		&svc.ID,
		&svc.TenantID,
		&svc.Name,
		&minutes,
		&svc.PriceCents,
		&svc.Active,
		&visibility,
		&preMsgEnable,
		&preHours,
		&preMsgText,
	)
	if err != nil {
		return model.Service{}, notFound(err)
	}
	svc.Duration = time.Duration(minutes) * time.Minute
	svc.Public = visibility == "public"
	svc.PreMessage = model.PreMessage{
		Enabled:  preMsgEnable,
		LeadTime: time.Duration(preHours) * time.Hour,
		Text:     preMsgText,
	}
	return svc, nil
}

func (r *BookingRepository) ListEligibleProfessionals(ctx context.Context, tenantID, serviceID string) ([]model.Professional, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id::text, p.tenant_id::text, p.name, p.specialty, p.phone, p.email, p.notify_enabled, p.active
		FROM professionals p
		JOIN service_professionals sp ON sp.professional_id = p.id
		WHERE sp.service_id = $1 AND p.tenant_id = $2
		ORDER BY p.id
	`, serviceID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pros []model.Professional
	for rows.Next() {
		var p model.Professional
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Specialty, &p.Phone, &p.Email, &p.NotifyEnabled, &p.Active); err != nil {
			return nil, err
		}
		pros = append(pros, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pros, nil
}

func (r *BookingRepository) GetWorkingHours(ctx context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	return workingHours(ctx, r.db, professionalID, weekday)
}

func (r *BookingRepository) ListBusy(ctx context.Context, professionalID string, from, to time.Time) ([]availability.Interval, error) {
	return listBusy(ctx, r.db, professionalID, from, to, "")
}

// ListAppointments returns the tenant's appointments starting in [from, to).
func (r *BookingRepository) ListAppointments(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// InTx runs fn in one transaction, committing only when fn returns nil.
func (r *BookingRepository) InTx(ctx context.Context, fn func(booking.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&bookingTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if db.IsExclusionViolation(err) {
			return booking.ErrSlotUnavailable
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type bookingTx struct {
	tx pgx.Tx
}

func (t *bookingTx) LockIdempotencyKey(ctx context.Context, tenantID, key string) (booking.IdempotencyRecord, bool, error) {
	rec, err := selectIdempotencyForUpdate(ctx, t.tx, tenantID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return booking.IdempotencyRecord{}, false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key)
	if err != nil {
		return booking.IdempotencyRecord{}, false, err
	}

	// Re-select so a concurrent request holding the same key blocks here.
	rec, err = selectIdempotencyForUpdate(ctx, t.tx, tenantID, key)
	if err != nil {
		return booking.IdempotencyRecord{}, false, err
	}
	return rec, rec.AppointmentID != "", nil
}

func (t *bookingTx) FinalizeIdempotency(ctx context.Context, tenantID, key, appointmentID string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			response_payload = $4,
			updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, appointmentID, payload)
	return err
}

func (t *bookingTx) LockProfessional(ctx context.Context, professionalID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "professional:"+professionalID)
	return err
}

func (t *bookingTx) GetWorkingHours(ctx context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	return workingHours(ctx, t.tx, professionalID, weekday)
}

func (t *bookingTx) ListBusy(ctx context.Context, professionalID string, from, to time.Time, excludeID string) ([]availability.Interval, error) {
	return listBusy(ctx, t.tx, professionalID, from, to, excludeID)
}

// FindOrCreateClient matches an existing client on the last digits of the
// phone, preferring an exact match, and creates one otherwise.
func (t *bookingTx) FindOrCreateClient(ctx context.Context, tenantID string, c booking.Client) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT id::text
		FROM clients
		WHERE tenant_id = $1 AND right(regexp_replace(phone, '\D', '', 'g'), 8) = $2
		ORDER BY (regexp_replace(phone, '\D', '', 'g') = $3) DESC, created_at ASC
		LIMIT 1
	`, tenantID, phone.Suffix(c.Phone), c.Phone).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO clients (tenant_id, name, phone, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text
	`, tenantID, c.Name, c.Phone, c.Email).Scan(&id)
	return id, err
}

func (t *bookingTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	var clientID any
	if appt.ClientID != "" {
		clientID = appt.ClientID
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(tenant_id, service_id, professional_id, client_id, client_name, client_phone, client_email, notes,
			 start_time, end_time, status, confirmation_token, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id::text, created_at
	`, appt.TenantID, appt.ServiceID, appt.ProfessionalID, clientID, appt.ClientName, appt.ClientPhone, appt.ClientEmail,
		appt.Notes, appt.StartTime, appt.EndTime, string(appt.Status), appt.ConfirmationToken, string(appt.Source),
	).Scan(&appt.ID, &appt.CreatedAt)
	if db.IsExclusionViolation(err) {
		return booking.ErrSlotUnavailable
	}
	return err
}

func (t *bookingTx) GetAppointmentForUpdate(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, appointmentID, tenantID))
	return appt, notFound(err)
}

func (t *bookingTx) GetAppointmentByTokenForUpdate(ctx context.Context, token string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE confirmation_token = $1
		FOR UPDATE
	`, token))
	return appt, notFound(err)
}

func (t *bookingTx) UpdateStatus(ctx context.Context, appointmentID string, status model.AppointmentStatus, reason string) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END,
			cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancellation_reason END,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, appointmentID, string(status), reason).Scan(&at)
	return at, notFound(err)
}

func (t *bookingTx) MoveAppointment(ctx context.Context, appointmentID string, start, end time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $2, end_time = $3, status = 'scheduled', updated_at = now()
		WHERE id = $1
	`, appointmentID, start, end)
	if db.IsExclusionViolation(err) {
		return booking.ErrSlotUnavailable
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// InsertScheduledMessages stores the rows the scheduler will pick up once
// next_run_at passes. The caller's trace context travels with each row.
func (t *bookingTx) InsertScheduledMessages(ctx context.Context, msgs []model.ScheduledMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tc := otelx.Capture(ctx)
	for _, m := range msgs {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO scheduled_messages
				(tenant_id, appointment_id, type, content, channel, scheduled_at, next_run_at, traceparent, tracestate)
			VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8)
		`, m.TenantID, m.AppointmentID, string(m.Kind), m.Content, m.Channel, m.ScheduledAt, tc.Parent, tc.State)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *bookingTx) CancelPendingMessages(ctx context.Context, appointmentID string) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1 AND status IN ('pending', 'queued')
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *bookingTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, t.tx, evt)
}

const appointmentColumns = `id::text, tenant_id::text, service_id::text, professional_id::text, COALESCE(client_id::text, ''),
			client_name, client_phone, client_email, notes, start_time, end_time, status, confirmation_token, source,
			cancelled_at, cancellation_reason, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt        model.Appointment
		status      string
		source      string
		cancelledAt *time.Time
	)
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.ServiceID,
		&appt.ProfessionalID,
		&appt.ClientID,
		&appt.ClientName,
		&appt.ClientPhone,
		&appt.ClientEmail,
		&appt.Notes,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.ConfirmationToken,
		&source,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.AppointmentStatus(status)
	appt.Source = model.Source(source)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func workingHours(ctx context.Context, q querier, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	wh := model.WorkingHours{ProfessionalID: professionalID, Weekday: weekday}
	err := q.QueryRow(ctx, `
		SELECT is_working, start_minute, end_minute
		FROM professional_working_hours
		WHERE professional_id = $1 AND weekday = $2
	`, professionalID, int(weekday)).Scan(&wh.IsWorking, &wh.StartMinute, &wh.EndMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkingHours{}, false, nil
	}
	if err != nil {
		return model.WorkingHours{}, false, err
	}
	return wh, true, nil
}

func listBusy(ctx context.Context, q querier, professionalID string, from, to time.Time, excludeID string) ([]availability.Interval, error) {
	rows, err := q.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE professional_id = $1
			AND status IN ('scheduled', 'confirmed')
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time ASC
	`, professionalID, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return busy, nil
}

func selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, tenantID, key string) (booking.IdempotencyRecord, error) {
	var (
		rec          booking.IdempotencyRecord
		responseText string
	)
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, ''), COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(&rec.AppointmentID, &responseText)
	if err != nil {
		return booking.IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.Payload = []byte(responseText)
	}
	return rec, nil
}

func notFound(err error) error {
	if db.IsNotFound(err) {
		return booking.ErrNotFound
	}
	return err
}
