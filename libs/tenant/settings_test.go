package tenant

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseSettingsDefaults(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		s, err := ParseSettings([]byte(raw))
		if err != nil {
			t.Fatalf("ParseSettings(%q): %v", raw, err)
		}
		if !s.WhatsAppConfirmation || s.EmailConfirmation {
			t.Fatalf("unexpected confirmation defaults: %+v", s)
		}
		if s.Timezone != DefaultTimezone || s.MinNotice != 2*time.Hour || s.ReminderHours != 24 {
			t.Fatalf("unexpected defaults: %+v", s)
		}
	}
}

func TestParseSettingsOverrides(t *testing.T) {
	s, err := ParseSettings([]byte(`{
		"timezone": "America/Manaus",
		"base_url": "https://agenda.example.com/",
		"email_confirmation_enabled": true,
		"min_notice_minutes": 30,
		"second_reminder_enabled": true
	}`))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.Timezone != "America/Manaus" || s.BaseURL != "https://agenda.example.com" {
		t.Fatalf("unexpected overrides: %+v", s)
	}
	if !s.EmailConfirmation || s.MinNotice != 30*time.Minute || s.SecondReminderMinutes != DefaultSecondReminder {
		t.Fatalf("unexpected overrides: %+v", s)
	}
	if s.Location().String() != "America/Manaus" {
		t.Fatalf("location = %s", s.Location())
	}
}

func TestParseSettingsMalformedBlobYieldsDefaults(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `{"timezone":`, `"hello"`} {
		s, err := ParseSettings([]byte(raw))
		if err == nil {
			t.Fatalf("expected error for %s", raw)
		}
		if s != Defaults() {
			t.Fatalf("malformed blob must yield defaults, got %+v", s)
		}
	}
}

func TestParseSettingsUnknownKeyKeepsKnownFields(t *testing.T) {
	s, err := ParseSettings([]byte(`{"whatsapp_enabled": true, "email_confirmation_enabled": true, "reminder_hours": 6}`))
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "whatsapp_enabled") {
		t.Fatalf("error must name the key: %v", err)
	}
	if !s.EmailConfirmation || s.ReminderHours != 6 {
		t.Fatalf("known fields were dropped: %+v", s)
	}
	if !s.WhatsAppConfirmation || s.Timezone != DefaultTimezone {
		t.Fatalf("untouched fields must keep defaults: %+v", s)
	}
}

func TestParseSettingsInvalidValueFallsBackPerField(t *testing.T) {
	cases := []struct {
		raw   string
		check func(Settings) bool
	}{
		{`{"timezone": "Mars/Olympus", "email_reminder_enabled": true}`, func(s Settings) bool {
			return s.Timezone == DefaultTimezone && s.EmailReminder
		}},
		{`{"reminder_hours": -1, "min_notice_minutes": 15}`, func(s Settings) bool {
			return s.ReminderHours == DefaultReminderHours && s.MinNotice == 15*time.Minute
		}},
		{`{"min_notice_minutes": -5, "base_url": "https://a.example.com/"}`, func(s Settings) bool {
			return s.MinNotice == DefaultMinNotice && s.BaseURL == "https://a.example.com"
		}},
		{`{"reminder_hours": "six", "notify_professional": false}`, func(s Settings) bool {
			return s.ReminderHours == DefaultReminderHours && !s.NotifyProfessional
		}},
		{`{"second_reminder_enabled": true, "second_reminder_minutes": 100000}`, func(s Settings) bool {
			return s.SecondReminderMinutes == DefaultSecondReminder
		}},
	}
	for _, tc := range cases {
		s, err := ParseSettings([]byte(tc.raw))
		if err == nil {
			t.Fatalf("expected error for %s", tc.raw)
		}
		if errors.Is(err, ErrUnknownKey) {
			t.Fatalf("%s: value errors are not unknown keys: %v", tc.raw, err)
		}
		if !tc.check(s) {
			t.Fatalf("%s: unexpected settings %+v", tc.raw, s)
		}
	}
}

func TestSecondReminderDisabledWins(t *testing.T) {
	s, err := ParseSettings([]byte(`{"second_reminder_enabled": false, "second_reminder_minutes": 30}`))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.SecondReminderMinutes != 0 {
		t.Fatalf("expected disabled second reminder, got %d", s.SecondReminderMinutes)
	}
}

func TestConfirmURL(t *testing.T) {
	s := Defaults()
	if got := s.ConfirmURL("https://app.example.com/", "abc"); got != "https://app.example.com/confirmar?token=abc" {
		t.Fatalf("ConfirmURL = %q", got)
	}
	s.BaseURL = "https://clinica.example.com"
	if got := s.ConfirmURL("https://app.example.com", "abc"); got != "https://clinica.example.com/confirmar?token=abc" {
		t.Fatalf("ConfirmURL = %q", got)
	}
	if got := s.ConfirmURL("", "abc"); got != "https://clinica.example.com/confirmar?token=abc" {
		t.Fatalf("ConfirmURL = %q", got)
	}
}
