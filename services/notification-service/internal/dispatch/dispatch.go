// Package dispatch sends appointment notifications over WhatsApp and email.
//
// Channels are independent: a failure on one is reported in the Result and
// never aborts the others. Dispatch returns an error only for bad input or a
// missing appointment.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agendapro/agendapro/libs/metrics"
	otelx "github.com/agendapro/agendapro/libs/otel"
	"github.com/agendapro/agendapro/libs/phone"
	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/notification-service/internal/compose"
	"github.com/agendapro/agendapro/services/notification-service/internal/conversation"
	"github.com/agendapro/agendapro/services/notification-service/internal/email"
	"github.com/agendapro/agendapro/services/notification-service/internal/whatsapp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ChannelWhatsApp     = "whatsapp"
	ChannelEmail        = "email"
	ChannelProfessional = "professional_whatsapp"
	ChannelAdminEmail   = "admin_email"

	DefaultWindow = 15 * time.Minute
)

var errNoInstance = errors.New("no active whatsapp instance")

// ChannelResult is the outcome of one channel. Error is nil when the channel
// succeeded or was not attempted.
type ChannelResult struct {
	Sent  bool    `json:"sent"`
	Error *string `json:"error"`
}

func sentResult() ChannelResult { return ChannelResult{Sent: true} }

func failedResult(err error) ChannelResult {
	msg := err.Error()
	return ChannelResult{Error: &msg}
}

type Result struct {
	WhatsApp       ChannelResult `json:"whatsapp"`
	Email          ChannelResult `json:"email"`
	Professional   ChannelResult `json:"professional"`
	AdminEmail     ChannelResult `json:"admin_email"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Duplicate      bool          `json:"duplicate"`
}

// Snapshot is everything a dispatch reads about one appointment.
type Snapshot struct {
	AppointmentID     string
	Tenant            tenant.Tenant
	Status            string
	Source            string
	Start             time.Time
	ConfirmationToken string

	ServiceID   string
	ServiceName string
	PreMessage  string

	ProfessionalName   string
	ProfessionalPhone  string
	ProfessionalEmail  string
	ProfessionalNotify bool

	ClientID    string
	ClientName  string
	ClientPhone string
	ClientEmail string

	// Instance is nil when the tenant has no active WhatsApp instance.
	Instance *whatsapp.Instance
}

type Attempt struct {
	TenantID      string
	AppointmentID string
	EventType     string
	Channel       string
	Recipient     string
	Status        string
	Error         string
}

type Store interface {
	// LoadSnapshot returns ErrAppointmentNotFound when the id is unknown.
	LoadSnapshot(ctx context.Context, appointmentID string) (Snapshot, error)
	LogAttempt(ctx context.Context, a Attempt) error
}

type WhatsAppSender interface {
	SendText(ctx context.Context, inst whatsapp.Instance, number, text string) error
}

type ConversationResolver interface {
	Resolve(ctx context.Context, c conversation.Contact) (conversation.Ref, bool, error)
	AppendSystemMessage(ctx context.Context, tenantID, conversationID, content string) error
}

type Deps struct {
	Store    Store
	Resolver ConversationResolver
	WhatsApp WhatsAppSender
	Email    email.Sender
	// Guard may be nil, which disables duplicate suppression.
	Guard   Guard
	Metrics *metrics.NotificationMetrics
	Logger  *slog.Logger
}

type Config struct {
	Window        time.Duration
	PublicBaseURL string
}

type Dispatcher struct {
	store    Store
	resolver ConversationResolver
	wa       WhatsAppSender
	mail     email.Sender
	guard    Guard
	metrics  *metrics.NotificationMetrics
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewDispatcher(deps Deps, cfg Config) *Dispatcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mail := deps.Email
	if mail == nil {
		mail = email.NewNoopSender(logger)
	}
	return &Dispatcher{
		store:    deps.Store,
		resolver: deps.Resolver,
		wa:       deps.WhatsApp,
		mail:     mail,
		guard:    deps.Guard,
		metrics:  deps.Metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Request is one dispatch. ScheduledMessageID is set for due scheduled
// messages and scopes the duplicate guard to that row.
type Request struct {
	AppointmentID      string
	EventType          string
	ScheduledMessageID string
}

// Dispatch sends the notification for eventType about appointmentID.
func (d *Dispatcher) Dispatch(ctx context.Context, appointmentID, eventType string) (Result, error) {
	return d.DispatchRequest(ctx, Request{AppointmentID: appointmentID, EventType: eventType})
}

func (d *Dispatcher) DispatchRequest(ctx context.Context, req Request) (Result, error) {
	appointmentID := strings.TrimSpace(req.AppointmentID)
	if appointmentID == "" {
		return Result{}, ErrMissingAppointmentID
	}
	event, ok := compose.ParseEvent(req.EventType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidEventType, req.EventType)
	}
	ctx, span := otelx.Tracer().Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID),
		attribute.String("notification.event", string(event)),
	))
	defer span.End()
	started := d.now()
	defer func() { d.metrics.ObserveDispatch(string(event), d.now().Sub(started)) }()

	var key string
	if id := strings.TrimSpace(req.ScheduledMessageID); id != "" {
		key = scheduledGuardKey(id)
	} else {
		// The raw type keeps reminder_2 apart from the first reminder.
		key = guardKey(appointmentID, strings.ToLower(strings.TrimSpace(req.EventType)), started, d.cfg.Window)
	}
	held := false
	if d.guard != nil {
		acquired, err := d.guard.Acquire(ctx, key, d.cfg.Window)
		switch {
		case err != nil:
			d.logger.WarnContext(ctx, "dispatch guard unavailable, continuing", "err", err, "appointment_id", appointmentID)
		case !acquired:
			d.metrics.ObserveDuplicate(string(event))
			d.logger.InfoContext(ctx, "duplicate dispatch suppressed", "appointment_id", appointmentID, "event_type", event)
			return Result{Duplicate: true}, nil
		default:
			held = true
		}
	}

	// Nothing was sent on the early returns below, so a retry must not be
	// mistaken for a duplicate.
	release := func() {
		if !held {
			return
		}
		if rerr := d.guard.Release(ctx, key); rerr != nil {
			d.logger.WarnContext(ctx, "dispatch guard release failed", "err", rerr)
		}
	}

	snap, err := d.store.LoadSnapshot(ctx, appointmentID)
	if err != nil {
		release()
		if errors.Is(err, ErrAppointmentNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("dispatch: load appointment: %w", err)
	}
	if !deliverable(event, snap.Status) {
		release()
		d.logger.InfoContext(ctx, "notification skipped for inactive appointment",
			"appointment_id", appointmentID, "event_type", event, "status", snap.Status)
		return Result{}, fmt.Errorf("%w: %s on %s appointment", ErrAppointmentInactive, event, snap.Status)
	}

	settings := snap.Tenant.Settings
	data := compose.Data{
		TenantName:       snap.Tenant.Name,
		ClientName:       snap.ClientName,
		ServiceName:      snap.ServiceName,
		ProfessionalName: snap.ProfessionalName,
		Start:            snap.Start,
		Location:         settings.Location(),
		ConfirmURL:       settings.ConfirmURL(d.cfg.PublicBaseURL, snap.ConfirmationToken),
		BookingURL:       bookingURL(settings.BaseURL, d.cfg.PublicBaseURL),
		PreMessage:       snap.PreMessage,
	}
	msg, err := compose.Client(event, data)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: compose: %w", err)
	}

	var res Result
	whatsAppOn, emailOn := channelsFor(event, settings)

	if whatsAppOn && strings.TrimSpace(snap.ClientPhone) != "" {
		res.WhatsApp, res.ConversationID = d.sendWhatsApp(ctx, snap, event, ChannelWhatsApp, conversation.Contact{
			TenantID:   snap.Tenant.ID,
			Name:       snap.ClientName,
			Phone:      snap.ClientPhone,
			ClientID:   snap.ClientID,
			LinkClient: true,
			Origin: conversation.Origin{
				Source:        "agenda",
				AppointmentID: snap.AppointmentID,
				ServiceID:     snap.ServiceID,
			},
		}, msg.WhatsApp)
	}
	if emailOn && strings.TrimSpace(snap.ClientEmail) != "" {
		res.Email = d.sendEmail(ctx, snap, event, ChannelEmail, email.Message{
			To:      snap.ClientEmail,
			ToName:  snap.ClientName,
			Subject: msg.Subject,
			Text:    msg.Text,
			HTML:    msg.HTML,
		})
	}

	if event == compose.EventCreated && isOnlineSource(snap.Source) {
		d.notifyStaff(ctx, snap, data, &res)
	}

	d.logger.InfoContext(ctx, "dispatch finished",
		"appointment_id", appointmentID,
		"event_type", event,
		"whatsapp_sent", res.WhatsApp.Sent,
		"email_sent", res.Email.Sent,
	)
	return res, nil
}

// deliverable reports whether event still makes sense for an appointment in
// status. Cancellation and no-show notices go out regardless; everything
// else needs an appointment that is still going to happen.
func deliverable(event compose.Event, status string) bool {
	switch event {
	case compose.EventCancelled, compose.EventNoShow:
		return true
	}
	switch status {
	case "scheduled", "confirmed":
		return true
	}
	return false
}

func (d *Dispatcher) notifyStaff(ctx context.Context, snap Snapshot, data compose.Data, res *Result) {
	settings := snap.Tenant.Settings
	msg, err := compose.Professional(data)
	if err != nil {
		d.logger.ErrorContext(ctx, "compose professional copy failed", "err", err)
		return
	}
	if settings.NotifyProfessional && snap.ProfessionalNotify && strings.TrimSpace(snap.ProfessionalPhone) != "" {
		res.Professional, _ = d.sendWhatsApp(ctx, snap, compose.EventCreated, ChannelProfessional, conversation.Contact{
			TenantID: snap.Tenant.ID,
			Name:     snap.ProfessionalName,
			Phone:    snap.ProfessionalPhone,
			Origin:   conversation.Origin{Source: "agenda", AppointmentID: snap.AppointmentID, ServiceID: snap.ServiceID},
		}, msg.WhatsApp)
	}
	if settings.NotifyAdminByEmail && strings.TrimSpace(settings.AdminEmail) != "" {
		res.AdminEmail = d.sendEmail(ctx, snap, compose.EventCreated, ChannelAdminEmail, email.Message{
			To:      settings.AdminEmail,
			Subject: msg.Subject,
			Text:    msg.Text,
			HTML:    msg.HTML,
		})
	}
}

func (d *Dispatcher) sendWhatsApp(ctx context.Context, snap Snapshot, event compose.Event, channel string, contact conversation.Contact, text string) (ChannelResult, string) {
	number := phone.Normalize(contact.Phone)
	var sendErr error
	switch {
	case snap.Instance == nil:
		sendErr = errNoInstance
	case !phone.Valid(number):
		sendErr = fmt.Errorf("invalid phone %s", phone.Mask(contact.Phone))
	case d.wa == nil:
		sendErr = whatsapp.ErrNotConfigured
	}
	if sendErr != nil {
		d.record(ctx, snap, event, channel, phone.Mask(number), sendErr)
		return failedResult(sendErr), ""
	}

	contact.InstanceID = snap.Instance.ID
	var conversationID string
	if d.resolver != nil {
		ref, created, err := d.resolver.Resolve(ctx, contact)
		if err != nil {
			d.logger.WarnContext(ctx, "conversation resolve failed", "err", err, "appointment_id", snap.AppointmentID)
		} else {
			conversationID = ref.ID
			if created {
				d.logger.InfoContext(ctx, "conversation opened for notification", "conversation_id", ref.ID, "channel", channel)
			}
		}
	}

	if err := d.wa.SendText(ctx, *snap.Instance, number, text); err != nil {
		d.logger.ErrorContext(ctx, "whatsapp send failed", "err", err, "appointment_id", snap.AppointmentID, "channel", channel)
		d.record(ctx, snap, event, channel, phone.Mask(number), err)
		return failedResult(err), conversationID
	}
	d.record(ctx, snap, event, channel, phone.Mask(number), nil)

	if conversationID != "" {
		if err := d.resolver.AppendSystemMessage(ctx, snap.Tenant.ID, conversationID, text); err != nil {
			d.logger.WarnContext(ctx, "append conversation message failed", "err", err, "conversation_id", conversationID)
		}
	}
	return sentResult(), conversationID
}

func (d *Dispatcher) sendEmail(ctx context.Context, snap Snapshot, event compose.Event, channel string, m email.Message) ChannelResult {
	if err := d.mail.Send(ctx, m); err != nil {
		d.logger.ErrorContext(ctx, "email send failed", "err", err, "appointment_id", snap.AppointmentID, "channel", channel)
		d.record(ctx, snap, event, channel, m.To, err)
		return failedResult(err)
	}
	d.record(ctx, snap, event, channel, m.To, nil)
	return sentResult()
}

func (d *Dispatcher) record(ctx context.Context, snap Snapshot, event compose.Event, channel, recipient string, sendErr error) {
	a := Attempt{
		TenantID:      snap.Tenant.ID,
		AppointmentID: snap.AppointmentID,
		EventType:     string(event),
		Channel:       channel,
		Recipient:     recipient,
		Status:        "sent",
	}
	if sendErr != nil {
		a.Status = "failed"
		a.Error = sendErr.Error()
	}
	d.metrics.ObserveSend(channel, string(event), sendErr == nil)
	if err := d.store.LogAttempt(ctx, a); err != nil {
		d.logger.WarnContext(ctx, "notification log write failed", "err", err, "appointment_id", snap.AppointmentID)
	}
}

// channelsFor reports which client channels the tenant enabled for event.
func channelsFor(event compose.Event, s tenant.Settings) (whatsAppOn, emailOn bool) {
	if event.IsReminder() {
		return s.WhatsAppReminder, s.EmailReminder
	}
	return s.WhatsAppConfirmation, s.EmailConfirmation
}

func isOnlineSource(source string) bool {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "public_booking", "online":
		return true
	}
	return false
}

func bookingURL(tenantBase, fallback string) string {
	base := tenantBase
	if base == "" {
		base = strings.TrimRight(fallback, "/")
	}
	if base == "" {
		return ""
	}
	return base + "/agendar"
}
