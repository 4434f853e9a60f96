package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultResendBaseURL = "https://api.resend.com"

// ResendSender posts to the Resend HTTP API.
type ResendSender struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

func NewResendSender(baseURL, apiKey, from, fromName string) *ResendSender {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultResendBaseURL
	}
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, from)
	}
	return &ResendSender{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		from:    from,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ResendSender) ProviderID() string { return "resend" }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
