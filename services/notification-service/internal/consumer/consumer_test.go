package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/services/notification-service/internal/dispatch"
	"github.com/segmentio/kafka-go"
)

type call struct {
	appointmentID string
	eventType     string
	scheduledID   string
}

type fakeDispatcher struct {
	calls []call
	res   dispatch.Result
	err   error
}

func (f *fakeDispatcher) DispatchRequest(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	f.calls = append(f.calls, call{req.AppointmentID, req.EventType, req.ScheduledMessageID})
	return f.res, f.err
}

type completion struct {
	id        string
	delivered bool
	reason    string
}

type fakeCompleter struct {
	done []completion
}

func (f *fakeCompleter) CompleteScheduledMessage(_ context.Context, id string, delivered bool, reason string) error {
	f.done = append(f.done, completion{id, delivered, reason})
	return nil
}

func newHandler(d *fakeDispatcher, c *fakeCompleter) *Handler {
	return New(d, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAppointmentTopicsMapToEvents(t *testing.T) {
	d := &fakeDispatcher{}
	h := newHandler(d, &fakeCompleter{})
	for topic, want := range appointmentTopics {
		d.calls = nil
		err := h.Handle(context.Background(), kafka.Message{Topic: topic, Value: []byte(`{"appointment_id":"appt-1"}`)})
		if err != nil {
			t.Fatalf("%s: %v", topic, err)
		}
		if len(d.calls) != 1 || d.calls[0] != (call{"appt-1", want, ""}) {
			t.Fatalf("%s: unexpected calls %+v", topic, d.calls)
		}
	}
}

func TestMissingAppointmentIsDropped(t *testing.T) {
	d := &fakeDispatcher{err: dispatch.ErrAppointmentNotFound}
	h := newHandler(d, &fakeCompleter{})
	err := h.Handle(context.Background(), kafka.Message{Topic: outbox.TopicAppointmentCreated, Value: []byte(`{"appointment_id":"gone"}`)})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDueMessageMarkedSent(t *testing.T) {
	d := &fakeDispatcher{res: dispatch.Result{WhatsApp: dispatch.ChannelResult{Sent: true}}}
	c := &fakeCompleter{}
	h := newHandler(d, c)

	value := []byte(`{"scheduled_message_id":"sm-1","appointment_id":"appt-1","type":"reminder_2"}`)
	if err := h.Handle(context.Background(), kafka.Message{Topic: outbox.TopicNotificationDue, Value: value}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if d.calls[0] != (call{"appt-1", "reminder_2", "sm-1"}) {
		t.Fatalf("type and row must be passed through, got %+v", d.calls[0])
	}
	if len(c.done) != 1 || c.done[0] != (completion{"sm-1", true, ""}) {
		t.Fatalf("unexpected completion: %+v", c.done)
	}
}

func TestDueMessageMarkedFailed(t *testing.T) {
	msg := "whatsapp gateway returned 502"
	d := &fakeDispatcher{res: dispatch.Result{WhatsApp: dispatch.ChannelResult{Error: &msg}}}
	c := &fakeCompleter{}
	h := newHandler(d, c)

	value := []byte(`{"scheduled_message_id":"sm-1","appointment_id":"appt-1","type":"reminder"}`)
	if err := h.Handle(context.Background(), kafka.Message{Topic: outbox.TopicNotificationDue, Value: value}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(c.done) != 1 || c.done[0] != (completion{"sm-1", false, msg}) {
		t.Fatalf("unexpected completion: %+v", c.done)
	}
}

func TestDueForInactiveAppointmentClosesRow(t *testing.T) {
	c := &fakeCompleter{}
	inactive := fmt.Errorf("%w: reminder on cancelled appointment", dispatch.ErrAppointmentInactive)
	h := newHandler(&fakeDispatcher{err: inactive}, c)
	value := []byte(`{"scheduled_message_id":"sm-9","appointment_id":"appt-1","type":"reminder"}`)
	if err := h.Handle(context.Background(), kafka.Message{Topic: outbox.TopicNotificationDue, Value: value}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(c.done) != 1 || c.done[0].id != "sm-9" || c.done[0].delivered {
		t.Fatalf("expected row closed as failed, got %+v", c.done)
	}
}

func TestDueDuplicateLeavesRow(t *testing.T) {
	c := &fakeCompleter{}
	h := newHandler(&fakeDispatcher{res: dispatch.Result{Duplicate: true}}, c)
	value := []byte(`{"scheduled_message_id":"sm-1","appointment_id":"appt-1","type":"reminder"}`)
	if err := h.Handle(context.Background(), kafka.Message{Topic: outbox.TopicNotificationDue, Value: value}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(c.done) != 0 {
		t.Fatalf("duplicate must not close the row")
	}
}

func TestDueTransientErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	c := &fakeCompleter{}
	h := newHandler(&fakeDispatcher{err: boom}, c)
	value := []byte(`{"scheduled_message_id":"sm-1","appointment_id":"appt-1","type":"reminder"}`)
	if err := h.Handle(context.Background(), kafka.Message{Topic: outbox.TopicNotificationDue, Value: value}); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if len(c.done) != 0 {
		t.Fatalf("transient errors must not close the row")
	}
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	d := &fakeDispatcher{}
	h := newHandler(d, &fakeCompleter{})
	for _, topic := range Topics() {
		if err := h.Handle(context.Background(), kafka.Message{Topic: topic, Value: []byte(`{`)}); err != nil {
			t.Fatalf("%s: %v", topic, err)
		}
	}
	if len(d.calls) != 0 {
		t.Fatalf("malformed payloads must not dispatch")
	}
}
