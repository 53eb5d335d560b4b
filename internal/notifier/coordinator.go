package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/brokerwatch/internal/metrics"
	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// Reasons a dispatch was skipped before any channel was tried.
const (
	SkipEmpty          = "empty"
	SkipNoPreferences  = "no_preferences"
	SkipServerExcluded = "server_excluded"
	SkipNoChannel      = "no_channel"
	SkipCancelled      = "cancelled"
)

// NotifiedRecorder stamps the last-notified time of delivered fingerprints.
type NotifiedRecorder interface {
	MarkNotified(ctx context.Context, tenantID, serverID string, fingerprints []string, at time.Time) (int64, error)
}

// Report summarises one dispatch.
type Report struct {
	Skipped  string          `json:"skipped,omitempty"`
	Email    *DeliveryResult `json:"email,omitempty"`
	Webhooks []Delivery      `json:"webhooks,omitempty"`
	Chats    []Delivery      `json:"chats,omitempty"`
	Notified int64           `json:"notified"`
}

// CoordinatorOptions configures a Coordinator. Nil senders disable their
// channel regardless of tenant preferences.
type CoordinatorOptions struct {
	Email     EmailSender
	Webhooks  WebhookSender
	Chat      ChatSender
	Recorder  NotifiedRecorder
	RateLimit RateLimitConfig
	Logger    *zap.Logger
	Now       func() time.Time
}

// Coordinator fans a batch out to a tenant's enabled channels.
type Coordinator struct {
	email    EmailSender
	webhooks WebhookSender
	chat     ChatSender
	recorder NotifiedRecorder
	limiter  *RateLimiter
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator creates a dispatch coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		email:    opts.Email,
		webhooks: opts.Webhooks,
		chat:     opts.Chat,
		recorder: opts.Recorder,
		limiter:  NewRateLimiter(opts.RateLimit),
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// RateLimitStats exposes the per-tenant limiter statistics.
func (c *Coordinator) RateLimitStats() RateLimitStats {
	return c.limiter.Stats()
}

// Dispatch delivers alerts on every ready channel. Channels run
// concurrently and fail independently. Only a successful email updates the
// last-notified time of the delivered fingerprints.
func (c *Coordinator) Dispatch(ctx context.Context, prefs *models.NotificationPreferences, serverID string, alerts []models.Alert) Report {
	if reason := c.skipReason(prefs, serverID, alerts); reason != "" {
		metrics.NotificationsSkipped.WithLabelValues(reason).Inc()
		return Report{Skipped: reason}
	}

	log := c.logger.With(zap.String("tenant", prefs.TenantID), zap.String("server", serverID))

	if err := c.limiter.Wait(ctx, prefs.TenantID); err != nil {
		log.Warn("dispatch abandoned while rate limited", zap.Error(err))
		metrics.NotificationsSkipped.WithLabelValues(SkipCancelled).Inc()
		return Report{Skipped: SkipCancelled}
	}

	batch := NewBatch(prefs.TenantID, serverID, alerts, c.now())
	var report Report
	var g errgroup.Group

	if prefs.EmailReady() && c.email != nil {
		g.Go(func() error {
			res := c.email.SendEmail(ctx, prefs.EmailRecipients, batch)
			record("email", res)
			if !res.Success {
				log.Warn("email delivery failed", zap.String("error", res.Error))
			}
			report.Email = &res
			return nil
		})
	}
	if prefs.WebhookReady() && c.webhooks != nil {
		g.Go(func() error {
			report.Webhooks = c.webhooks.SendWebhooks(ctx, prefs.Webhooks, batch)
			for _, d := range report.Webhooks {
				record("webhook", d.Result)
			}
			return nil
		})
	}
	if prefs.ChatReady() && c.chat != nil {
		g.Go(func() error {
			report.Chats = c.chat.SendChat(ctx, prefs.Chats, batch)
			for _, d := range report.Chats {
				record("chat", d.Result)
			}
			return nil
		})
	}
	_ = g.Wait()

	if report.Email != nil && report.Email.Success && c.recorder != nil {
		n, err := c.recorder.MarkNotified(ctx, prefs.TenantID, serverID, batch.Fingerprints(), c.now())
		if err != nil {
			log.Error("record notification failed", zap.Error(err))
		}
		report.Notified = n
	}

	log.Info("alerts dispatched",
		zap.Int("alerts", len(alerts)),
		zap.Bool("email", report.Email != nil && report.Email.Success),
		zap.Int("webhooks", len(report.Webhooks)),
		zap.Int("chats", len(report.Chats)),
	)
	return report
}

func (c *Coordinator) skipReason(prefs *models.NotificationPreferences, serverID string, alerts []models.Alert) string {
	switch {
	case len(alerts) == 0:
		return SkipEmpty
	case prefs == nil:
		return SkipNoPreferences
	case !prefs.Servers.Includes(serverID):
		return SkipServerExcluded
	case !c.deliverable(prefs):
		return SkipNoChannel
	default:
		return ""
	}
}

// deliverable reports whether some ready channel has a sender.
func (c *Coordinator) deliverable(prefs *models.NotificationPreferences) bool {
	return (prefs.EmailReady() && c.email != nil) ||
		(prefs.WebhookReady() && c.webhooks != nil) ||
		(prefs.ChatReady() && c.chat != nil)
}

func record(channel string, res DeliveryResult) {
	result := "success"
	if !res.Success {
		result = "failure"
	}
	metrics.NotificationsTotal.WithLabelValues(channel, result).Inc()
}
