package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	WebhookURL string // Teams incoming webhook URL
}

// Validate validates the Teams configuration.
func (c *TeamsConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// TeamsNotifier sends alert batches to Microsoft Teams via webhook.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(config TeamsConfig, client *http.Client) (*TeamsNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid teams config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &TeamsNotifier{
		config:     config,
		httpClient: client,
	}, nil
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send sends a batch to Microsoft Teams.
func (t *TeamsNotifier) Send(ctx context.Context, batch *Batch) error {
	if err := postJSON(ctx, t.httpClient, t.config.WebhookURL, t.buildPayload(batch), nil); err != nil {
		return fmt.Errorf("teams: %w", err)
	}
	return nil
}

// Close is a no-op for Teams notifier.
func (t *TeamsNotifier) Close() error {
	return nil
}

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// teamsAttachment represents an attachment in the Teams message.
type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

// adaptiveCard represents a Microsoft Adaptive Card.
type adaptiveCard struct {
	Schema  string        `json:"$schema"`
	Type    string        `json:"type"`
	Version string        `json:"version"`
	Body    []interface{} `json:"body"`
}

// Adaptive Card element types
type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string        `json:"type"`
	Style string        `json:"style,omitempty"`
	Items []interface{} `json:"items"`
}

// buildPayload builds the Teams Adaptive Card message payload.
func (t *TeamsNotifier) buildPayload(batch *Batch) teamsMessage {
	top := batch.HighestSeverity()

	body := []interface{}{
		container{
			Type:  "Container",
			Style: teamsSeverityStyle(top),
			Items: []interface{}{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s %s", severityEmoji(top), batch.Headline()),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
		factSet{
			Type: "FactSet",
			Facts: []fact{
				{Title: "Server", Value: batch.ServerID},
				{Title: "Critical", Value: fmt.Sprint(batch.Summary.Critical)},
				{Title: "Warning", Value: fmt.Sprint(batch.Summary.Warning)},
				{Title: "Info", Value: fmt.Sprint(batch.Summary.Info)},
				{Title: "Time", Value: batch.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST")},
			},
		},
	}

	for i := range batch.Alerts {
		if i == maxChatAlerts {
			body = append(body, textBlock{
				Type:  "TextBlock",
				Text:  fmt.Sprintf("_%d more alert(s) not shown_", len(batch.Alerts)-maxChatAlerts),
				Wrap:  true,
				Color: "light",
			})
			break
		}
		a := &batch.Alerts[i]
		value := formatValue(a.Details.Current)
		if a.Details.Threshold != nil {
			value += " / " + formatValue(*a.Details.Threshold)
		}
		body = append(body, container{
			Type:  "Container",
			Style: teamsSeverityStyle(a.Severity),
			Items: []interface{}{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s %s", severityEmoji(a.Severity), a.Title),
					Weight: "Bolder",
					Wrap:   true,
				},
				textBlock{
					Type: "TextBlock",
					Text: truncate(a.Description, 500),
					Wrap: true,
				},
				factSet{
					Type: "FactSet",
					Facts: []fact{
						{Title: "Source", Value: sourceLabel(a)},
						{Title: "Value", Value: value},
					},
				},
			},
		})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				ContentURL:  nil,
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsSeverityStyle returns an Adaptive Card container style for the severity level.
func teamsSeverityStyle(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "attention" // red
	case models.SeverityWarning:
		return "warning" // orange/yellow
	case models.SeverityInfo:
		return "accent" // blue
	default:
		return "default"
	}
}
