package social

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Webhook hands messages to an operator-run relay that owns the platform
// session. The relay answers {"message_id": "..."}.
type Webhook struct {
	platform model.Platform
	url      string
	token    string
	http     *http.Client
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.http = hc
	}
}

// NewWebhook creates a relay sender for one platform.
func NewWebhook(platform model.Platform, url, token string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		platform: platform,
		url:      url,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type relayResponse struct {
	MessageID string `json:"message_id"`
}

// Send implements Sender.
func (w *Webhook) Send(ctx context.Context, msg Message) (string, error) {
	provider := ProviderFor(w.platform)
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", resilience.Permanent(provider, eris.Wrap(err, "social: marshal message"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return "", resilience.Permanent(provider, eris.Wrap(err, "social: create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "social: post to %s relay", w.platform)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", eris.Wrap(err, "social: read relay response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resilience.FromResponse(provider, resp, string(body))
	}
	var out relayResponse
	if err := json.Unmarshal(body, &out); err != nil || out.MessageID == "" {
		return "", resilience.Permanent(provider, eris.Errorf("social: relay answered without message id: %s", body))
	}
	return out.MessageID, nil
}
