package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/agendapro/agendapro/libs/tenant"
	"github.com/agendapro/agendapro/services/booking-service/internal/availability"
	"github.com/agendapro/agendapro/services/booking-service/internal/model"
)

type Config struct {
	// PublicBaseURL is used for confirmation links when a tenant has no base_url.
	PublicBaseURL string
	Now           func() time.Time
}

type Service struct {
	store   Store
	logger  *slog.Logger
	baseURL string
	now     func() time.Time
}

func NewService(store Store, logger *slog.Logger, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   store,
		logger:  logger,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:     now,
	}
}

// Book validates req, picks a professional, and commits the appointment with
// its scheduled messages and created event in one transaction.
func (s *Service) Book(ctx context.Context, tenantID string, req BookRequest) (Confirmation, error) {
	req = req.normalized()
	if err := req.Validate(); err != nil {
		return Confirmation{}, err
	}

	t, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return Confirmation{}, err
	}
	svc, err := s.loadService(ctx, tenantID, req.ServiceID, req.Source)
	if err != nil {
		return Confirmation{}, err
	}
	candidates, err := s.eligible(ctx, tenantID, svc.ID, req.ProfessionalID)
	if err != nil {
		return Confirmation{}, err
	}

	loc := t.Settings.Location()
	start := req.StartTime.In(loc)
	dayStart, dayEnd := localDay(start, loc)
	now := s.now()

	var conf Confirmation
	err = s.store.InTx(ctx, func(tx Tx) error {
		if req.IdempotencyKey != "" {
			rec, exists, err := tx.LockIdempotencyKey(ctx, tenantID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if exists && rec.AppointmentID != "" && len(rec.Payload) > 0 {
				if err := json.Unmarshal(rec.Payload, &conf); err != nil {
					return fmt.Errorf("decode stored confirmation: %w", err)
				}
				conf.Replayed = true
				return nil
			}
		}

		// Lock in id order so concurrent bookings over the same pool never deadlock.
		locked := slices.Clone(candidates)
		slices.SortFunc(locked, func(a, b model.Professional) int { return strings.Compare(a.ID, b.ID) })
		for _, p := range locked {
			if err := tx.LockProfessional(ctx, p.ID); err != nil {
				return fmt.Errorf("lock professional: %w", err)
			}
		}

		ordered, err := s.orderCandidates(ctx, tx, candidates, dayStart, dayEnd)
		if err != nil {
			return err
		}

		var (
			chosen *model.Professional
			reject error
		)
		for i := range ordered {
			why, err := s.fits(ctx, tx, ordered[i].ID, svc.Duration, start, loc, t.Settings.MinNotice, now, "")
			if err != nil {
				return err
			}
			if why == nil {
				chosen = &ordered[i]
				break
			}
			// A taken slot outranks input problems: some candidate works then.
			if reject == nil || errors.Is(why, availability.ErrOverlap) {
				reject = why
			}
		}
		if chosen == nil {
			return slotError(reject)
		}

		clientID, err := tx.FindOrCreateClient(ctx, tenantID, req.Client)
		if err != nil {
			return fmt.Errorf("resolve client: %w", err)
		}
		token, err := newConfirmationToken()
		if err != nil {
			return err
		}
		appt := &model.Appointment{
			TenantID:          tenantID,
			ServiceID:         svc.ID,
			ProfessionalID:    chosen.ID,
			ClientID:          clientID,
			ClientName:        req.Client.Name,
			ClientPhone:       req.Client.Phone,
			ClientEmail:       req.Client.Email,
			Notes:             req.Notes,
			StartTime:         start.UTC(),
			EndTime:           start.Add(svc.Duration).UTC(),
			Status:            model.StatusScheduled,
			ConfirmationToken: token,
			Source:            req.Source,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		msgs := PlanScheduledMessages(*appt, svc, t.Settings, now)
		if err := tx.InsertScheduledMessages(ctx, msgs); err != nil {
			return fmt.Errorf("insert scheduled messages: %w", err)
		}

		evt, err := appointmentEvent(EventCreated, *appt, "", now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}

		conf = Confirmation{
			AppointmentID:     appt.ID,
			ConfirmationToken: token,
			ConfirmURL:        t.Settings.ConfirmURL(s.baseURL, token),
			ServiceName:       svc.Name,
			ProfessionalID:    chosen.ID,
			ProfessionalName:  chosen.Name,
			StartTime:         appt.StartTime,
			EndTime:           appt.EndTime,
			Status:            string(appt.Status),
		}
		if req.IdempotencyKey != "" {
			payload, err := json.Marshal(conf)
			if err != nil {
				return err
			}
			if err := tx.FinalizeIdempotency(ctx, tenantID, req.IdempotencyKey, appt.ID, payload); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Confirmation{}, err
	}

	s.logger.Info("appointment booked",
		"tenant_id", tenantID,
		"appointment_id", conf.AppointmentID,
		"professional_id", conf.ProfessionalID,
		"source", string(req.Source),
		"replayed", conf.Replayed,
	)
	return conf, nil
}

// Slots lays out the day's grid. With no professional selected, a start is
// available when any eligible professional can take it.
func (s *Service) Slots(ctx context.Context, tenantID string, q SlotsQuery) ([]availability.TimeSlot, error) {
	q.ServiceID = strings.TrimSpace(q.ServiceID)
	q.Date = strings.TrimSpace(q.Date)
	if q.ServiceID == "" || q.Date == "" {
		return nil, nil
	}

	t, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	loc := t.Settings.Location()
	date, err := time.ParseInLocation("2006-01-02", q.Date, loc)
	if err != nil {
		return nil, invalid("date", "must be YYYY-MM-DD")
	}

	svc, err := s.loadService(ctx, tenantID, q.ServiceID, model.SourcePublicBooking)
	if err != nil {
		return nil, err
	}
	candidates, err := s.eligible(ctx, tenantID, svc.ID, q.ProfessionalID)
	if errors.Is(err, ErrServiceHasNoEligibleProfessionals) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dayStart, dayEnd := localDay(date, loc)
	now := s.now()
	grids := make([][]availability.TimeSlot, 0, len(candidates))
	for _, p := range candidates {
		window, open, err := s.window(ctx, s.store, p.ID, date.Weekday())
		if err != nil {
			return nil, err
		}
		if !open {
			continue
		}
		busy, err := s.store.ListBusy(ctx, p.ID, dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("list busy intervals: %w", err)
		}
		grids = append(grids, availability.ComputeSlots(availability.SlotRequest{
			Date:      date,
			Duration:  svc.Duration,
			Window:    window,
			Busy:      busy,
			MinNotice: t.Settings.MinNotice,
			Now:       now,
			Location:  loc,
		}))
	}
	if len(grids) == 1 {
		return grids[0], nil
	}
	return availability.MergeAny(grids...), nil
}

func (s *Service) loadTenant(ctx context.Context, tenantID string) (tenant.Tenant, error) {
	if strings.TrimSpace(tenantID) == "" {
		return tenant.Tenant{}, invalid("tenant_id", "is required")
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return tenant.Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	return t, nil
}

func (s *Service) loadService(ctx context.Context, tenantID, serviceID string, source model.Source) (model.Service, error) {
	svc, err := s.store.GetService(ctx, tenantID, serviceID)
	if errors.Is(err, ErrNotFound) {
		return model.Service{}, ErrServiceNotFound
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active || svc.Duration <= 0 {
		return model.Service{}, ErrServiceNotFound
	}
	if !svc.Public && (source == model.SourcePublicBooking || source == model.SourceOnline) {
		return model.Service{}, ErrServiceNotFound
	}
	return svc, nil
}

func (s *Service) eligible(ctx context.Context, tenantID, serviceID, professionalID string) ([]model.Professional, error) {
	pros, err := s.store.ListEligibleProfessionals(ctx, tenantID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list eligible professionals: %w", err)
	}
	active := make([]model.Professional, 0, len(pros))
	for _, p := range pros {
		if p.Active {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil, ErrServiceHasNoEligibleProfessionals
	}
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return active, nil
	}
	for _, p := range active {
		if p.ID == professionalID {
			return []model.Professional{p}, nil
		}
	}
	return nil, invalid("professional_id", "does not perform this service")
}

// orderCandidates sorts the no preference pool: fewest active appointments
// that day first, then name, then id.
func (s *Service) orderCandidates(ctx context.Context, tx Tx, pros []model.Professional, dayStart, dayEnd time.Time) ([]model.Professional, error) {
	if len(pros) == 1 {
		return pros, nil
	}
	load := make(map[string]int, len(pros))
	for _, p := range pros {
		busy, err := tx.ListBusy(ctx, p.ID, dayStart, dayEnd, "")
		if err != nil {
			return nil, fmt.Errorf("list busy intervals: %w", err)
		}
		load[p.ID] = len(busy)
	}
	out := slices.Clone(pros)
	slices.SortStableFunc(out, func(a, b model.Professional) int {
		if d := load[a.ID] - load[b.ID]; d != 0 {
			return d
		}
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

type hoursReader interface {
	GetWorkingHours(ctx context.Context, professionalID string, weekday time.Weekday) (model.WorkingHours, bool, error)
}

// window resolves the working window for weekday. No configured row means
// the default window; a row with is_working=false means closed.
func (s *Service) window(ctx context.Context, r hoursReader, professionalID string, weekday time.Weekday) (availability.Window, bool, error) {
	wh, found, err := r.GetWorkingHours(ctx, professionalID, weekday)
	if err != nil {
		return availability.Window{}, false, fmt.Errorf("load working hours: %w", err)
	}
	if !found {
		return availability.DefaultWindow, true, nil
	}
	if !wh.IsWorking {
		return availability.Window{}, false, nil
	}
	return availability.Window{StartMinute: wh.StartMinute, EndMinute: wh.EndMinute}, true, nil
}

// fits re-evaluates one start for one professional inside tx using the
// same predicate that produced the slot grid. why is nil when the start is
// bookable and an availability error otherwise; err is a storage failure.
func (s *Service) fits(ctx context.Context, tx Tx, professionalID string, duration time.Duration, start time.Time, loc *time.Location, minNotice time.Duration, now time.Time, excludeID string) (why error, err error) {
	window, open, err := s.window(ctx, tx, professionalID, start.Weekday())
	if err != nil {
		return nil, err
	}
	if !open {
		return availability.ErrOutsideWindow, nil
	}
	dayStart, dayEnd := localDay(start, loc)
	busy, err := tx.ListBusy(ctx, professionalID, dayStart, dayEnd, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list busy intervals: %w", err)
	}
	return availability.CheckSlot(availability.SlotRequest{
		Date:      start,
		Duration:  duration,
		Window:    window,
		Busy:      busy,
		MinNotice: minNotice,
		Now:       now,
		Location:  loc,
	}, start), nil
}

// slotError separates a slot that is taken from a start the caller can fix.
func slotError(why error) error {
	if why == nil || errors.Is(why, availability.ErrOverlap) {
		return ErrSlotUnavailable
	}
	return invalid("start_time", why.Error())
}

func localDay(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func newConfirmationToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate confirmation token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
