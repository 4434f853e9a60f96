package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agendapro/agendapro/libs/db"
	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/notification-service/internal/dispatch"
	"github.com/agendapro/agendapro/services/notification-service/internal/whatsapp"
	"github.com/google/uuid"
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

type Repository struct {
	db     DB
	logger *slog.Logger
}

func NewRepository(db DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

var _ dispatch.Store = (*Repository)(nil)

func (r *Repository) LoadSnapshot(ctx context.Context, appointmentID string) (dispatch.Snapshot, error) {
	if _, err := uuid.Parse(appointmentID); err != nil {
		return dispatch.Snapshot{}, dispatch.ErrAppointmentNotFound
	}

	var (
		s           dispatch.Snapshot
		rawSettings []byte
		inst        whatsapp.Instance
	)
	err := r.db.QueryRow(ctx, `
		SELECT a.id::text, a.status, a.source, a.start_time, a.confirmation_token,
			COALESCE(a.client_id::text, ''), a.client_name, a.client_phone, a.client_email,
			t.id::text, t.name, t.settings,
			s.id::text, s.name, CASE WHEN s.pre_message_enabled THEN s.pre_message_text ELSE '' END,
			p.name, p.phone, p.email, p.notify_enabled,
			COALESCE(i.id::text, ''), COALESCE(i.gateway_type, ''), COALESCE(i.base_url, ''),
			COALESCE(i.api_key, ''), COALESCE(i.instance_name, '')
		FROM appointments a
		JOIN tenants t ON t.id = a.tenant_id
		JOIN services s ON s.id = a.service_id
		JOIN professionals p ON p.id = a.professional_id
		LEFT JOIN LATERAL (
			SELECT id, gateway_type, base_url, api_key, instance_name
			FROM messaging_instances
			WHERE tenant_id = a.tenant_id AND active
			ORDER BY created_at
			LIMIT 1
		) i ON true
		WHERE a.id = $1
	`, appointmentID).Scan(
		&s.AppointmentID, &s.Status, &s.Source, &s.Start, &s.ConfirmationToken,
		&s.ClientID, &s.ClientName, &s.ClientPhone, &s.ClientEmail,
		&s.Tenant.ID, &s.Tenant.Name, &rawSettings,
		&s.ServiceID, &s.ServiceName, &s.PreMessage,
		&s.ProfessionalName, &s.ProfessionalPhone, &s.ProfessionalEmail, &s.ProfessionalNotify,
		&inst.ID, &inst.GatewayType, &inst.BaseURL, &inst.APIKey, &inst.InstanceName,
	)
	if err != nil {
		if db.IsNotFound(err) {
			return dispatch.Snapshot{}, dispatch.ErrAppointmentNotFound
		}
		return dispatch.Snapshot{}, err
	}

	settings, err := tenant.ParseSettings(rawSettings)
	if err != nil {
		r.logger.WarnContext(ctx, "tenant settings partly invalid", "err", err, "tenant_id", s.Tenant.ID)
	}
	s.Tenant.Settings = settings
	if inst.ID != "" {
		s.Instance = &inst
	}
	return s, nil
}

func (r *Repository) LogAttempt(ctx context.Context, a dispatch.Attempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_log (tenant_id, appointment_id, event_type, channel, recipient, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.TenantID, a.AppointmentID, a.EventType, a.Channel, a.Recipient, a.Status, a.Error)
	if err != nil {
		return fmt.Errorf("notification log: %w", err)
	}
	return nil
}

func notFoundAsFalse(err error) (bool, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}
