package email

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
)

func TestResendSender(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"em_1"}`))
	}))
	defer srv.Close()

	s := NewResendSender(srv.URL, "re_test", "agenda@example.com", "Clinica Bela")
	err := s.Send(context.Background(), Message{To: "maria@example.com", Subject: "Agendamento confirmado", HTML: "<p>ok</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.From != "Clinica Bela <agenda@example.com>" || len(got.To) != 1 || got.To[0] != "maria@example.com" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestResendSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid from"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewResendSender(srv.URL, "k", "a@example.com", "").Send(context.Background(), Message{To: "b@example.com"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSMTPSenderBuildsMultipart(t *testing.T) {
	s := NewSMTPSender("localhost", "2525", "agenda@example.com")
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	err := s.Send(context.Background(), Message{To: "maria@example.com", Subject: "Lembrete de horário", Text: "texto", HTML: "<b>html</b>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "localhost:2525" || len(gotTo) != 1 {
		t.Fatalf("unexpected envelope %s %v", gotAddr, gotTo)
	}
	for _, want := range []string{"multipart/alternative", "text/plain", "text/html", "<b>html</b>", "=?utf-8?q?"} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestNewSelectsProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := map[string]string{"": "noop", "noop": "noop", "smtp": "smtp", "SendGrid": "sendgrid", "resend": "resend"}
	for provider, want := range cases {
		s, err := New(Config{Provider: provider, ResendAPIKey: "k", SendGridAPIKey: "k"}, logger)
		if err != nil {
			t.Fatalf("%q: %v", provider, err)
		}
		if s.ProviderID() != want {
			t.Fatalf("%q: expected %s, got %s", provider, want, s.ProviderID())
		}
	}
	if _, err := New(Config{Provider: "resend"}, logger); err == nil {
		t.Fatalf("resend without key should fail")
	}
	if _, err := New(Config{Provider: "pigeon"}, logger); err == nil {
		t.Fatalf("unknown provider should fail")
	}
}
