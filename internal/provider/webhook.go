package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outpostmsg/outpost/internal/models"
)

// WebhookAdapter delivers a message by POSTing a JSON envelope to a fixed
// URL. It backs both ChannelSMS and ChannelWhatsApp: no SMS/WhatsApp SDK
// appeared anywhere in the reference pack, so a plain webhook POST is the
// adapter shape, same as the push-notification gateways those providers
// expose in practice.
type WebhookAdapter struct {
	url    string
	client *http.Client
}

func NewWebhookAdapter(url string) *WebhookAdapter {
	return &WebhookAdapter{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type webhookPayload struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Body    string `json:"body"`
	Channel string `json:"channel"`
}

func (a *WebhookAdapter) Send(ctx context.Context, msg *models.Message) (Verdict, error) {
	if a.url == "" {
		return Verdict{Success: false, Retryable: true, ErrorMessage: fmt.Sprintf("no webhook url configured for channel %s", msg.Type)}, nil
	}

	body, err := json.Marshal(webhookPayload{
		To:      msg.ToAddress,
		From:    msg.FromAddress,
		Body:    msg.Body,
		Channel: string(msg.Type),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Verdict{Success: false, Retryable: true, ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Verdict{Success: true, ProviderResponse: json.RawMessage(rawOrQuoted(respBody))}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Verdict{Success: false, Retryable: true, ErrorMessage: fmt.Sprintf("webhook status %d: %s", resp.StatusCode, respBody)}, nil
	default:
		return Verdict{Success: false, Retryable: false, ErrorMessage: fmt.Sprintf("webhook status %d: %s", resp.StatusCode, respBody)}, nil
	}
}

// rawOrQuoted returns b unchanged if it is valid JSON, otherwise it quotes
// it as a JSON string so ProviderResponse is always well-formed JSON.
func rawOrQuoted(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	var js json.RawMessage
	if json.Unmarshal(b, &js) == nil {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
