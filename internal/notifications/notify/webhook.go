package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Mailer delivers a rendered report to one mail recipient.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Texter delivers a short rendered report to one SMS recipient.
type Texter interface {
	SendSMS(ctx context.Context, to, body string) error
}

type webhookPayload struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// WebhookChannel posts deliveries to a mail/SMS gateway webhook.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// SendMail posts a mail delivery to the gateway.
func (w *WebhookChannel) SendMail(ctx context.Context, to, subject, body string) error {
	return w.post(ctx, webhookPayload{Channel: "mail", To: to, Subject: subject, Body: body})
}

// SendSMS posts an SMS delivery to the gateway.
func (w *WebhookChannel) SendSMS(ctx context.Context, to, body string) error {
	return w.post(ctx, webhookPayload{Channel: "sms", To: to, Body: body})
}

func (w *WebhookChannel) post(ctx context.Context, payload webhookPayload) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	if payload.To == "" {
		return errors.New("webhook channel: empty recipient")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
