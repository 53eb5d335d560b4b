package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// maxChatAlerts caps how many alerts a chat message lists individually.
const maxChatAlerts = 20

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends alert batches to Slack via webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier. A nil client gets a
// default one with a 30s timeout.
func NewSlackNotifier(config SlackConfig, client *http.Client) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &SlackNotifier{
		config:     config,
		httpClient: client,
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends a batch to Slack.
func (s *SlackNotifier) Send(ctx context.Context, batch *Batch) error {
	if err := postJSON(ctx, s.httpClient, s.config.WebhookURL, s.buildPayload(batch), nil); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Slack Block Kit message payload.
func (s *SlackNotifier) buildPayload(batch *Batch) slackMessage {
	top := batch.HighestSeverity()
	emoji := severityEmoji(top)
	headline := batch.Headline()

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  truncate(fmt.Sprintf("%s %s", emoji, headline), 150),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Server:*\n%s", batch.ServerID),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Summary:*\n%d critical, %d warning, %d info",
						batch.Summary.Critical, batch.Summary.Warning, batch.Summary.Info),
				},
			},
		},
		{Type: "divider"},
	}

	for i := range batch.Alerts {
		if i == maxChatAlerts {
			break
		}
		a := &batch.Alerts[i]
		text := fmt.Sprintf("%s *%s* (%s)\n%s\n`%s` current: %s",
			severityEmoji(a.Severity), a.Title, strings.ToUpper(string(a.Severity)),
			truncate(a.Description, 500), sourceLabel(a), formatValue(a.Details.Current))
		if a.Details.Threshold != nil {
			text += fmt.Sprintf(", threshold: %s", formatValue(*a.Details.Threshold))
		}
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: text},
		})
	}

	footer := fmt.Sprintf("Generated %s", batch.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if extra := len(batch.Alerts) - maxChatAlerts; extra > 0 {
		footer = fmt.Sprintf("%d more alert(s) not shown. %s", extra, footer)
	}
	blocks = append(blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{{Type: "mrkdwn", Text: footer}},
	})

	return slackMessage{Text: headline, Blocks: blocks}
}
