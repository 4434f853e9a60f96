// Package tenant parses the per-tenant settings blob into typed values.
package tenant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DefaultTimezone         = "America/Sao_Paulo"
	DefaultMinNotice        = 2 * time.Hour
	DefaultReminderHours    = 24
	DefaultSecondReminder   = 55
	maxReminderHours        = 24 * 7
	maxSecondReminderMinute = 24 * 60
)

// Tenant is the account context every booking and dispatch runs under.
type Tenant struct {
	ID       string
	Name     string
	Settings Settings
}

// Settings holds the typed, defaulted view of tenant configuration.
type Settings struct {
	Timezone   string
	BaseURL    string
	AdminEmail string
	MinNotice  time.Duration

	WhatsAppConfirmation bool
	EmailConfirmation    bool
	WhatsAppReminder     bool
	EmailReminder        bool

	// ReminderHours is the lead time of the first reminder; zero disables it.
	ReminderHours int
	// SecondReminderMinutes is the lead time of the second reminder; zero disables it.
	SecondReminderMinutes int

	NotifyProfessional bool
	NotifyAdminByEmail bool
}

// Defaults returns the settings used when a tenant has configured nothing.
func Defaults() Settings {
	return Settings{
		Timezone:              DefaultTimezone,
		MinNotice:             DefaultMinNotice,
		WhatsAppConfirmation:  true,
		EmailConfirmation:     false,
		WhatsAppReminder:      true,
		EmailReminder:         false,
		ReminderHours:         DefaultReminderHours,
		SecondReminderMinutes: 0,
		NotifyProfessional:    true,
		NotifyAdminByEmail:    true,
	}
}

type rawSettings struct {
	Timezone              *string `json:"timezone"`
	BaseURL               *string `json:"base_url"`
	AdminEmail            *string `json:"admin_email"`
	MinNoticeMinutes      *int    `json:"min_notice_minutes"`
	WhatsAppConfirmation  *bool   `json:"whatsapp_confirmation_enabled"`
	EmailConfirmation     *bool   `json:"email_confirmation_enabled"`
	WhatsAppReminder      *bool   `json:"whatsapp_reminder_enabled"`
	EmailReminder         *bool   `json:"email_reminder_enabled"`
	ReminderHours         *int    `json:"reminder_hours"`
	SecondReminderEnabled *bool   `json:"second_reminder_enabled"`
	SecondReminderMinutes *int    `json:"second_reminder_minutes"`
	NotifyProfessional    *bool   `json:"notify_professional"`
	NotifyAdminByEmail    *bool   `json:"notify_admin_email"`
}

// ErrUnknownKey marks settings keys this version does not read.
var ErrUnknownKey = errors.New("tenant settings: unknown key")

// ParseSettings decodes raw into Settings. Absent keys take their defaults
// and an empty blob is valid. An unknown key or an out of range value does
// not discard the rest: that key keeps its default and the problem is
// reported in the returned error, so callers can warn and carry on with the
// returned Settings. Only a blob that is not a JSON object yields Defaults.
func ParseSettings(raw []byte) (Settings, error) {
	s := Defaults()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return s, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Defaults(), fmt.Errorf("tenant settings: %w", err)
	}

	var (
		in   rawSettings
		errs []error
	)
	for key, val := range fields {
		dst, ok := in.field(key)
		if !ok {
			errs = append(errs, fmt.Errorf("%w %q", ErrUnknownKey, key))
			continue
		}
		if err := json.Unmarshal(val, dst); err != nil {
			// A type mismatch can leave a zero value allocated behind the pointer.
			reflect.ValueOf(dst).Elem().SetZero()
			errs = append(errs, fmt.Errorf("tenant settings: %s: %w", key, err))
		}
	}

	if in.Timezone != nil && strings.TrimSpace(*in.Timezone) != "" {
		tz := strings.TrimSpace(*in.Timezone)
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("tenant settings: timezone %q: %w", tz, err))
		} else {
			s.Timezone = tz
		}
	}
	if in.BaseURL != nil {
		s.BaseURL = strings.TrimRight(strings.TrimSpace(*in.BaseURL), "/")
	}
	if in.AdminEmail != nil {
		s.AdminEmail = strings.TrimSpace(*in.AdminEmail)
	}
	if in.MinNoticeMinutes != nil {
		if *in.MinNoticeMinutes < 0 {
			errs = append(errs, errors.New("tenant settings: min_notice_minutes must be >= 0"))
		} else {
			s.MinNotice = time.Duration(*in.MinNoticeMinutes) * time.Minute
		}
	}
	setBool(&s.WhatsAppConfirmation, in.WhatsAppConfirmation)
	setBool(&s.EmailConfirmation, in.EmailConfirmation)
	setBool(&s.WhatsAppReminder, in.WhatsAppReminder)
	setBool(&s.EmailReminder, in.EmailReminder)
	setBool(&s.NotifyProfessional, in.NotifyProfessional)
	setBool(&s.NotifyAdminByEmail, in.NotifyAdminByEmail)

	if in.ReminderHours != nil {
		if *in.ReminderHours < 0 || *in.ReminderHours > maxReminderHours {
			errs = append(errs, fmt.Errorf("tenant settings: reminder_hours out of range (%d)", *in.ReminderHours))
		} else {
			s.ReminderHours = *in.ReminderHours
		}
	}
	if in.SecondReminderEnabled != nil && *in.SecondReminderEnabled {
		s.SecondReminderMinutes = DefaultSecondReminder
	}
	if in.SecondReminderMinutes != nil {
		switch {
		case *in.SecondReminderMinutes < 0 || *in.SecondReminderMinutes > maxSecondReminderMinute:
			errs = append(errs, fmt.Errorf("tenant settings: second_reminder_minutes out of range (%d)", *in.SecondReminderMinutes))
		case in.SecondReminderEnabled == nil || *in.SecondReminderEnabled:
			s.SecondReminderMinutes = *in.SecondReminderMinutes
		}
	}
	return s, errors.Join(errs...)
}

func (in *rawSettings) field(key string) (any, bool) {
	switch key {
	case "timezone":
		return &in.Timezone, true
	case "base_url":
		return &in.BaseURL, true
	case "admin_email":
		return &in.AdminEmail, true
	case "min_notice_minutes":
		return &in.MinNoticeMinutes, true
	case "whatsapp_confirmation_enabled":
		return &in.WhatsAppConfirmation, true
	case "email_confirmation_enabled":
		return &in.EmailConfirmation, true
	case "whatsapp_reminder_enabled":
		return &in.WhatsAppReminder, true
	case "email_reminder_enabled":
		return &in.EmailReminder, true
	case "reminder_hours":
		return &in.ReminderHours, true
	case "second_reminder_enabled":
		return &in.SecondReminderEnabled, true
	case "second_reminder_minutes":
		return &in.SecondReminderMinutes, true
	case "notify_professional":
		return &in.NotifyProfessional, true
	case "notify_admin_email":
		return &in.NotifyAdminByEmail, true
	default:
		return nil, false
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Location returns the tenant time zone, falling back to America/Sao_Paulo.
func (s Settings) Location() *time.Location {
	if loc, err := time.LoadLocation(s.Timezone); err == nil && s.Timezone != "" {
		return loc
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConfirmURL builds the public confirmation link for token. An empty base
// URL falls back to fallbackBase.
func (s Settings) ConfirmURL(fallbackBase, token string) string {
	base := s.BaseURL
	if base == "" {
		base = strings.TrimRight(fallbackBase, "/")
	}
	if base == "" || token == "" {
		return ""
	}
	return base + "/confirmar?token=" + token
}
