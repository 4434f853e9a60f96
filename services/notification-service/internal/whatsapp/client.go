package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gateway types understood by the client. Anything else uses the Evolution contract.
const (
	GatewayUazapi    = "uazapi"
	GatewayEvolution = "evolution"
)

// Instance is a tenant's connection to a WhatsApp gateway.
type Instance struct {
	ID           string
	GatewayType  string
	BaseURL      string
	APIKey       string
	InstanceName string
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("whatsapp gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("whatsapp gateway returned status %d: %s", e.StatusCode, e.Body)
}

var ErrNotConfigured = errors.New("whatsapp instance not configured")

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText delivers text to number through inst.
func (c *Client) SendText(ctx context.Context, inst Instance, number, text string) error {
	base := strings.TrimRight(strings.TrimSpace(inst.BaseURL), "/")
	if base == "" || inst.APIKey == "" {
		return ErrNotConfigured
	}

	var endpoint string
	header := http.Header{}
	switch strings.ToLower(inst.GatewayType) {
	case GatewayUazapi:
		endpoint = base + "/send/text"
		header.Set("token", inst.APIKey)
	default:
		if inst.InstanceName == "" {
			return ErrNotConfigured
		}
		endpoint = base + "/message/sendText/" + url.PathEscape(inst.InstanceName)
		header.Set("apikey", inst.APIKey)
	}

	raw, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header = header
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
