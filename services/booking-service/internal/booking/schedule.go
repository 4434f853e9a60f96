package booking

import (
	"time"

	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

// PlanScheduledMessages derives the reminder and pre-message rows for appt.
// Offsets already in the past relative to now are skipped.
func PlanScheduledMessages(appt model.Appointment, svc model.Service, settings tenant.Settings, now time.Time) []model.ScheduledMessage {
	type plan struct {
		kind    model.MessageKind
		lead    time.Duration
		content string
	}
	var plans []plan
	if settings.ReminderHours > 0 {
		plans = append(plans, plan{kind: model.KindReminder, lead: time.Duration(settings.ReminderHours) * time.Hour})
	}
	if settings.SecondReminderMinutes > 0 {
		plans = append(plans, plan{kind: model.KindSecondReminder, lead: time.Duration(settings.SecondReminderMinutes) * time.Minute})
	}
	if svc.PreMessage.Enabled && svc.PreMessage.LeadTime > 0 {
		plans = append(plans, plan{kind: model.KindPreMessage, lead: svc.PreMessage.LeadTime, content: svc.PreMessage.Text})
	}

	var out []model.ScheduledMessage
	for _, p := range plans {
		at := appt.StartTime.Add(-p.lead)
		if !at.After(now) {
			continue
		}
		out = append(out, model.ScheduledMessage{
			TenantID:      appt.TenantID,
			AppointmentID: appt.ID,
			Kind:          p.kind,
			Content:       p.content,
			Channel:       model.ChannelWhatsApp,
			ScheduledAt:   at.UTC(),
		})
	}
	return out
}
