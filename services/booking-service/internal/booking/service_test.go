package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agendapro/agendapro/libs/outbox"
	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/availability"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Tuesday 2026-03-10 in Sao Paulo.
func local(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, saoPaulo)
}

type fixture struct {
	store *memStore
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	settings := tenant.Defaults()
	settings.BaseURL = "https://clinica.example.com"
	st.tenants["t1"] = tenant.Tenant{ID: "t1", Name: "Clinica Bela", Settings: settings}
	st.services["svc-cut"] = model.Service{ID: "svc-cut", TenantID: "t1", Name: "Corte", Duration: 30 * time.Minute, Active: true, Public: true}
	st.services["svc-internal"] = model.Service{ID: "svc-internal", TenantID: "t1", Name: "Avaliacao", Duration: time.Hour, Active: true, Public: false}
	st.services["svc-off"] = model.Service{ID: "svc-off", TenantID: "t1", Name: "Antigo", Duration: time.Hour, Active: false, Public: true}
	st.services["svc-empty"] = model.Service{ID: "svc-empty", TenantID: "t1", Name: "Novo", Duration: time.Hour, Active: true, Public: true}
	pros := []model.Professional{
		{ID: "pro-b", TenantID: "t1", Name: "Bruno", Active: true},
		{ID: "pro-a", TenantID: "t1", Name: "Ana", Active: true},
	}
	st.eligible["svc-cut"] = pros
	st.eligible["svc-internal"] = pros

	f := &fixture{store: st, now: local(8, 12, 0)}
	f.svc = NewService(st, discardLogger(), Config{
		PublicBaseURL: "https://app.example.com",
		Now:           func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) request(professionalID string, start time.Time) BookRequest {
	return BookRequest{
		ServiceID:      "svc-cut",
		ProfessionalID: professionalID,
		StartTime:      start,
		Client:         Client{Name: "  Maria   Silva ", Phone: "(11) 98888-7777", Email: "Maria@Example.com"},
		Source:         model.SourcePublicBooking,
	}
}

func TestBookCommitsAppointmentMessagesAndEvent(t *testing.T) {
	f := newFixture(t)
	conf, err := f.svc.Book(context.Background(), "t1", f.request("pro-a", local(10, 10, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if conf.AppointmentID == "" || conf.ProfessionalName != "Ana" || conf.ServiceName != "Corte" {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}
	if len(conf.ConfirmationToken) != 64 {
		t.Fatalf("expected 32 random bytes hex encoded, got %q", conf.ConfirmationToken)
	}
	if conf.ConfirmURL != "https://clinica.example.com/confirmar?token="+conf.ConfirmationToken {
		t.Fatalf("unexpected confirm url %q", conf.ConfirmURL)
	}
	if !conf.EndTime.Equal(local(10, 10, 30)) {
		t.Fatalf("end time must be start plus duration, got %s", conf.EndTime)
	}

	appt := f.store.appointments[0]
	if appt.ClientName != "Maria Silva" || appt.ClientPhone != "5511988887777" || appt.ClientEmail != "maria@example.com" {
		t.Fatalf("client fields not normalized: %+v", appt)
	}
	if appt.Status != model.StatusScheduled || appt.Source != model.SourcePublicBooking {
		t.Fatalf("unexpected status/source: %s %s", appt.Status, appt.Source)
	}
	if len(f.store.events) != 1 || f.store.events[0].EventType != outbox.TopicAppointmentCreated {
		t.Fatalf("expected one created event, got %+v", f.store.events)
	}
	msgs := f.store.pendingMessages(appt.ID)
	if len(msgs) != 1 || msgs[0].Kind != model.KindReminder || !msgs[0].ScheduledAt.Equal(local(9, 10, 0)) {
		t.Fatalf("expected 24h reminder, got %+v", msgs)
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*BookRequest){
		"client_name":     func(r *BookRequest) { r.Client.Name = "   " },
		"client_phone":    func(r *BookRequest) { r.Client.Phone = "8888-77" },
		"client_email":    func(r *BookRequest) { r.Client.Email = "maria@local" },
		"source":          func(r *BookRequest) { r.Source = "fax" },
		"start_time":      func(r *BookRequest) { r.StartTime = time.Time{} },
		"service_id":      func(r *BookRequest) { r.ServiceID = "" },
		"professional_id": func(r *BookRequest) { r.ProfessionalID = "pro-z" },
	}
	for field, mutate := range cases {
		req := f.request("pro-a", local(10, 10, 0))
		mutate(&req)
		_, err := f.svc.Book(context.Background(), "t1", req)
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.Field != field {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
	}
	if len(f.store.appointments) != 0 || len(f.store.events) != 0 {
		t.Fatalf("validation failures must not write anything")
	}
}

func TestBookServiceErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"svc-missing", "svc-off", "svc-internal"} {
		req := f.request("", local(10, 10, 0))
		req.ServiceID = id
		if _, err := f.svc.Book(ctx, "t1", req); !errors.Is(err, ErrServiceNotFound) {
			t.Fatalf("%s: expected ErrServiceNotFound, got %v", id, err)
		}
	}

	req := f.request("", local(10, 10, 0))
	req.ServiceID = "svc-internal"
	req.Source = model.SourceManual
	if _, err := f.svc.Book(ctx, "t1", req); err != nil {
		t.Fatalf("operators may book internal services: %v", err)
	}

	req = f.request("", local(10, 10, 0))
	req.ServiceID = "svc-empty"
	if _, err := f.svc.Book(ctx, "t1", req); !errors.Is(err, ErrServiceHasNoEligibleProfessionals) {
		t.Fatalf("expected ErrServiceHasNoEligibleProfessionals, got %v", err)
	}

	if _, err := f.svc.Book(ctx, "nope", f.request("", local(10, 10, 0))); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestBookRejectsOverlapAndOutOfGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, "t1", f.request("pro-a", local(10, 10, 0))); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	for _, start := range []time.Time{local(10, 10, 0), local(10, 10, 15), local(10, 9, 45)} {
		if _, err := f.svc.Book(ctx, "t1", f.request("pro-a", start)); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("start %s: expected ErrSlotUnavailable, got %v", start.Format("02 15:04"), err)
		}
	}
	// Off grid, after hours and inside the notice period are fixable input.
	for _, tc := range []struct {
		start time.Time
		want  error
	}{
		{local(10, 10, 5), availability.ErrOffGrid},
		{local(10, 18, 0), availability.ErrOutsideWindow},
		{local(10, 17, 45), availability.ErrOutsideWindow},
		{local(8, 13, 0), availability.ErrTooSoon},
	} {
		_, err := f.svc.Book(ctx, "t1", f.request("pro-a", tc.start))
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "start_time" || ve.Reason != tc.want.Error() {
			t.Fatalf("start %s: expected start_time validation error %q, got %v", tc.start.Format("02 15:04"), tc.want, err)
		}
		if errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("start %s: must not look like a taken slot", tc.start.Format("02 15:04"))
		}
	}
	if _, err := f.svc.Book(ctx, "t1", f.request("pro-a", local(10, 10, 30))); err != nil {
		t.Fatalf("back to back booking should succeed: %v", err)
	}
}

func TestUnavailableSlotsCannotBeBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, "t1", f.request("pro-a", local(10, 11, 0))); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	f.now = local(10, 8, 30)

	slots, err := f.svc.Slots(ctx, "t1", SlotsQuery{Date: "2026-03-10", ServiceID: "svc-cut", ProfessionalID: "pro-a"})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("expected a slot grid")
	}
	var booked bool
	for _, s := range slots {
		if s.Available {
			continue
		}
		_, err := f.svc.Book(ctx, "t1", f.request("pro-a", s.Start))
		var ve *ValidationError
		switch s.Reason {
		case availability.ReasonBusy:
			if !errors.Is(err, ErrSlotUnavailable) {
				t.Fatalf("busy slot %s: expected ErrSlotUnavailable, got %v", s.Start.Format("15:04"), err)
			}
		default:
			if !errors.As(err, &ve) || ve.Field != "start_time" {
				t.Fatalf("unavailable slot %s (%s) was not rejected: %v", s.Start.Format("15:04"), s.Reason, err)
			}
		}
	}
	for _, s := range slots {
		if s.Available && !booked {
			if _, err := f.svc.Book(ctx, "t1", f.request("pro-a", s.Start)); err != nil {
				t.Fatalf("available slot %s rejected: %v", s.Start.Format("15:04"), err)
			}
			booked = true
		}
	}
}

func TestBookNoPreferencePicksLeastLoadedThenName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conf, err := f.svc.Book(ctx, "t1", f.request("", local(10, 9, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if conf.ProfessionalID != "pro-a" {
		t.Fatalf("tie should go to Ana by name, got %s", conf.ProfessionalName)
	}

	conf, err = f.svc.Book(ctx, "t1", f.request("", local(10, 14, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if conf.ProfessionalID != "pro-b" {
		t.Fatalf("Bruno has fewer appointments that day, got %s", conf.ProfessionalName)
	}

	conf, err = f.svc.Book(ctx, "t1", f.request("", local(10, 14, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if conf.ProfessionalID != "pro-a" {
		t.Fatalf("Bruno is busy at 14:00, expected Ana, got %s", conf.ProfessionalName)
	}

	if _, err := f.svc.Book(ctx, "t1", f.request("", local(10, 14, 0))); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("both professionals busy, got %v", err)
	}
	var ve *ValidationError
	if _, err := f.svc.Book(ctx, "t1", f.request("", local(10, 14, 5))); !errors.As(err, &ve) || ve.Field != "start_time" {
		t.Fatalf("off grid start with no preference: expected start_time validation error, got %v", err)
	}
	if got := f.store.lockedPros[:2]; got[0] != "pro-a" || got[1] != "pro-b" {
		t.Fatalf("professionals must be locked in id order, got %v", got)
	}
}

func TestBookIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request("pro-a", local(10, 10, 0))
	req.IdempotencyKey = "key-1"

	first, err := f.svc.Book(ctx, "t1", req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.Book(ctx, "t1", req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.AppointmentID != first.AppointmentID || second.ConfirmationToken != first.ConfirmationToken {
		t.Fatalf("replay mismatch: %+v vs %+v", second, first)
	}
	if len(f.store.appointments) != 1 || len(f.store.events) != 1 {
		t.Fatalf("replay must not write again")
	}
}

func TestConcurrentBookingsOfSameSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(ctx, "t1", f.request("pro-b", local(10, 15, 0)))
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one winner, got %d", ok)
	}
}

func TestBookSkipsPastDueReminders(t *testing.T) {
	f := newFixture(t)
	tn := f.store.tenants["t1"]
	tn.Settings.MinNotice = 0
	tn.Settings.SecondReminderMinutes = 55
	f.store.tenants["t1"] = tn
	f.now = local(10, 9, 30)

	conf, err := f.svc.Book(context.Background(), "t1", f.request("pro-a", local(10, 10, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if got := f.store.pendingMessages(conf.AppointmentID); len(got) != 0 {
		t.Fatalf("expected no scheduled messages 30 minutes before start, got %+v", got)
	}
}

func TestBookRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failInsertMsg = errors.New("disk full")

	if _, err := f.svc.Book(context.Background(), "t1", f.request("pro-a", local(10, 10, 0))); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.store.appointments) != 0 || len(f.store.events) != 0 || len(f.store.clients) != 0 {
		t.Fatalf("partial writes leaked: appts=%d events=%d", len(f.store.appointments), len(f.store.events))
	}
}

func TestSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.hours[hoursKey("pro-a", time.Tuesday)] = model.WorkingHours{ProfessionalID: "pro-a", Weekday: time.Tuesday, IsWorking: false}

	if got, err := f.svc.Slots(ctx, "t1", SlotsQuery{Date: "2026-03-10", ServiceID: "svc-cut", ProfessionalID: "pro-a"}); err != nil || len(got) != 0 {
		t.Fatalf("closed day should be empty, got %d (%v)", len(got), err)
	}
	got, err := f.svc.Slots(ctx, "t1", SlotsQuery{Date: "2026-03-10", ServiceID: "svc-cut"})
	if err != nil || len(got) != 36 {
		t.Fatalf("default window for Bruno expected 36 starts, got %d (%v)", len(got), err)
	}
	if got, err := f.svc.Slots(ctx, "t1", SlotsQuery{Date: "", ServiceID: "svc-cut"}); err != nil || got != nil {
		t.Fatalf("missing date must be a no-op")
	}
	if got, err := f.svc.Slots(ctx, "t1", SlotsQuery{Date: "2026-03-10", ServiceID: "svc-empty"}); err != nil || got != nil {
		t.Fatalf("service without professionals yields no slots, got %v", err)
	}
	var vErr *ValidationError
	if _, err := f.svc.Slots(ctx, "t1", SlotsQuery{Date: "10/03/2026", ServiceID: "svc-cut"}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}
