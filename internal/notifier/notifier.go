// Package notifier provides notification dispatching for alerts.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// Batch is the set of notifiable alerts of one pass for one server.
type Batch struct {
	TenantID    string         `json:"tenant_id"`
	ServerID    string         `json:"server_id"`
	Alerts      []models.Alert `json:"alerts"`
	Summary     models.Summary `json:"summary"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// NewBatch builds a batch and its severity summary.
func NewBatch(tenantID, serverID string, alerts []models.Alert, now time.Time) *Batch {
	s := models.Summary{Total: len(alerts)}
	for i := range alerts {
		switch alerts[i].Severity {
		case models.SeverityCritical:
			s.Critical++
		case models.SeverityWarning:
			s.Warning++
		case models.SeverityInfo:
			s.Info++
		}
	}
	return &Batch{
		TenantID:    tenantID,
		ServerID:    serverID,
		Alerts:      alerts,
		Summary:     s,
		GeneratedAt: now,
	}
}

// HighestSeverity returns the most severe alert severity in the batch.
func (b *Batch) HighestSeverity() models.Severity {
	best := models.SeverityInfo
	for i := range b.Alerts {
		if b.Alerts[i].Severity.Rank() > best.Rank() {
			best = b.Alerts[i].Severity
		}
	}
	return best
}

// Headline is a one-line description used as subject and chat header.
func (b *Batch) Headline() string {
	if len(b.Alerts) == 1 {
		return fmt.Sprintf("BrokerWatch: %s on %s", b.Alerts[0].Title, b.ServerID)
	}
	return fmt.Sprintf("BrokerWatch: %d alerts on %s", len(b.Alerts), b.ServerID)
}

// Fingerprints returns the distinct fingerprints in the batch, in order.
func (b *Batch) Fingerprints() []string {
	seen := make(map[string]struct{}, len(b.Alerts))
	out := make([]string, 0, len(b.Alerts))
	for i := range b.Alerts {
		fp := b.Alerts[i].Fingerprint
		if _, ok := seen[fp]; ok || fp == "" {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	return out
}

// Notifier is the interface for a single chat or webhook destination.
type Notifier interface {
	// Name returns the notifier name (e.g., "slack", "webhook").
	Name() string
	// Send delivers a batch.
	Send(ctx context.Context, batch *Batch) error
	// Close releases any resources.
	Close() error
}

// DeliveryResult is the outcome of one delivery attempt.
type DeliveryResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func resultOf(err error) DeliveryResult {
	if err != nil {
		return DeliveryResult{Success: false, Error: err.Error()}
	}
	return DeliveryResult{Success: true}
}

// Delivery is the outcome for one configured target.
type Delivery struct {
	ID     string         `json:"id"`
	Result DeliveryResult `json:"result"`
}

// EmailSender delivers a batch by email.
type EmailSender interface {
	SendEmail(ctx context.Context, to []string, batch *Batch) DeliveryResult
}

// WebhookSender delivers a batch to every webhook target.
type WebhookSender interface {
	SendWebhooks(ctx context.Context, targets []models.WebhookTarget, batch *Batch) []Delivery
}

// ChatSender delivers a batch to every chat target.
type ChatSender interface {
	SendChat(ctx context.Context, targets []models.ChatTarget, batch *Batch) []Delivery
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityWarning:
		return "\U0001F7E0" // orange circle
	case models.SeverityInfo:
		return "\U0001F535" // blue circle
	default:
		return "⚪" // white circle
	}
}

// formatValue renders a metric value without trailing zeros.
func formatValue(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// sourceLabel renders "queue orders (vhost /)" style source descriptions.
func sourceLabel(a *models.Alert) string {
	if a.VHost != "" {
		return fmt.Sprintf("%s %s (vhost %s)", a.Source.Type, a.Source.Name, a.VHost)
	}
	return fmt.Sprintf("%s %s", a.Source.Type, a.Source.Name)
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
