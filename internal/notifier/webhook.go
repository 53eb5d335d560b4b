package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/pkg/config"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// target has a secret.
const SignatureHeader = "X-BrokerWatch-Signature"

// WebhookNotifier posts a batch as JSON to one tenant endpoint.
type WebhookNotifier struct {
	target     models.WebhookTarget
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier for a single webhook target.
func NewWebhookNotifier(target models.WebhookTarget, client *http.Client) (*WebhookNotifier, error) {
	u, err := url.Parse(target.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", target.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook URL must use http or https")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookNotifier{target: target, httpClient: client}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// webhookPayload is the JSON body delivered to webhook targets.
type webhookPayload struct {
	Event       string         `json:"event"`
	TenantID    string         `json:"tenant_id"`
	ServerID    string         `json:"server_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     models.Summary `json:"summary"`
	Alerts      []models.Alert `json:"alerts"`
}

// Send posts the batch to the target.
func (w *WebhookNotifier) Send(ctx context.Context, batch *Batch) error {
	payload := webhookPayload{
		Event:       "alerts.notify",
		TenantID:    batch.TenantID,
		ServerID:    batch.ServerID,
		GeneratedAt: batch.GeneratedAt.UTC(),
		Summary:     batch.Summary,
		Alerts:      batch.Alerts,
	}
	var headers map[string]string
	if w.target.Secret != "" {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		headers = map[string]string{SignatureHeader: "sha256=" + Sign(w.target.Secret, body)}
		return postBody(ctx, w.httpClient, w.target.URL, body, headers)
	}
	return postJSON(ctx, w.httpClient, w.target.URL, payload, nil)
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookFanout delivers a batch to every webhook target of a tenant.
type WebhookFanout struct {
	httpClient  *http.Client
	concurrency int
	logger      *zap.Logger
}

// NewWebhookFanout creates a fanout sharing one HTTP client.
func NewWebhookFanout(client *http.Client, logger *zap.Logger) *WebhookFanout {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookFanout{httpClient: client, concurrency: 4, logger: logger}
}

// SendWebhooks sends to all targets concurrently. Results keep target order;
// one target failing does not affect the others.
func (f *WebhookFanout) SendWebhooks(ctx context.Context, targets []models.WebhookTarget, batch *Batch) []Delivery {
	out := make([]Delivery, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			out[i] = Delivery{ID: target.ID, Result: resultOf(f.send(ctx, target, batch))}
			if !out[i].Result.Success {
				f.logger.Warn("webhook delivery failed",
					zap.String("tenant", batch.TenantID),
					zap.String("target", target.ID),
					zap.String("error", out[i].Result.Error))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (f *WebhookFanout) send(ctx context.Context, target models.WebhookTarget, batch *Batch) error {
	n, err := NewWebhookNotifier(target, f.httpClient)
	if err != nil {
		return err
	}
	return n.Send(ctx, batch)
}

// postJSON marshals payload and POSTs it.
func postJSON(ctx context.Context, client *http.Client, target string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return postBody(ctx, client, target, body, headers)
}

// postBody POSTs a JSON body and treats any non-2xx status as failure.
func postBody(ctx context.Context, client *http.Client, target string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}
