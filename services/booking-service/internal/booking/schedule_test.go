package booking

import (
	"testing"
	"time"

	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

func TestPlanScheduledMessages(t *testing.T) {
	start := local(10, 15, 0)
	appt := model.Appointment{ID: "appt-1", TenantID: "t1", StartTime: start}
	svc := model.Service{PreMessage: model.PreMessage{Enabled: true, LeadTime: 3 * time.Hour, Text: "Venha sem maquiagem."}}
	settings := tenant.Defaults()
	settings.SecondReminderMinutes = 55

	got := PlanScheduledMessages(appt, svc, settings, local(8, 12, 0))
	want := map[model.MessageKind]time.Time{
		model.KindReminder:       local(9, 15, 0),
		model.KindSecondReminder: local(10, 14, 5),
		model.KindPreMessage:     local(10, 12, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), got)
	}
	for _, m := range got {
		if !m.ScheduledAt.Equal(want[m.Kind]) {
			t.Fatalf("%s scheduled at %s, want %s", m.Kind, m.ScheduledAt, want[m.Kind])
		}
		if m.AppointmentID != "appt-1" || m.Channel != model.ChannelWhatsApp {
			t.Fatalf("unexpected message: %+v", m)
		}
	}
	for _, m := range got {
		if m.Kind == model.KindPreMessage && m.Content != "Venha sem maquiagem." {
			t.Fatalf("pre-message content lost: %q", m.Content)
		}
	}
}

func TestPlanScheduledMessagesSkipsPastOffsets(t *testing.T) {
	appt := model.Appointment{StartTime: local(10, 10, 0)}
	settings := tenant.Defaults()
	settings.SecondReminderMinutes = 55

	if got := PlanScheduledMessages(appt, model.Service{}, settings, local(10, 9, 30)); len(got) != 0 {
		t.Fatalf("expected none, got %+v", got)
	}
	// Exactly at the offset counts as past.
	if got := PlanScheduledMessages(appt, model.Service{}, settings, local(10, 9, 5)); len(got) != 0 {
		t.Fatalf("expected none, got %+v", got)
	}
	if got := PlanScheduledMessages(appt, model.Service{}, settings, local(10, 9, 4)); len(got) != 1 || got[0].Kind != model.KindSecondReminder {
		t.Fatalf("expected only reminder_2, got %+v", got)
	}
}
