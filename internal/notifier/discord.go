package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// DiscordAPI is the part of a discordgo session used for delivery.
type DiscordAPI interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NewDiscordSession creates a REST-only bot session. No gateway connection
// is opened; sending embeds needs only the bot token.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return session, nil
}

// DiscordNotifier posts alert batches as embeds to one Discord channel.
type DiscordNotifier struct {
	api       DiscordAPI
	channelID string
}

// NewDiscordNotifier creates a notifier for one channel.
func NewDiscordNotifier(api DiscordAPI, channelID string) (*DiscordNotifier, error) {
	if api == nil {
		return nil, fmt.Errorf("discord bot not configured")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel ID is required")
	}
	return &DiscordNotifier{api: api, channelID: channelID}, nil
}

// Name returns "discord".
func (d *DiscordNotifier) Name() string {
	return "discord"
}

// Send posts the batch embed.
func (d *DiscordNotifier) Send(ctx context.Context, batch *Batch) error {
	if _, err := d.api.ChannelMessageSendEmbed(d.channelID, buildDiscordEmbed(batch), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	return nil
}

// Close is a no-op; the session is shared and owned by the caller.
func (d *DiscordNotifier) Close() error {
	return nil
}

// Discord limits embeds to 25 fields and field values to 1024 characters.
const (
	discordMaxFields     = 25
	discordMaxFieldValue = 1024
)

func buildDiscordEmbed(batch *Batch) *discordgo.MessageEmbed {
	top := batch.HighestSeverity()
	fields := make([]*discordgo.MessageEmbedField, 0, len(batch.Alerts))
	for i := range batch.Alerts {
		if len(fields) == discordMaxFields-1 && len(batch.Alerts) > discordMaxFields {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:  "More",
				Value: fmt.Sprintf("%d more alert(s) not shown", len(batch.Alerts)-i),
			})
			break
		}
		a := &batch.Alerts[i]
		value := fmt.Sprintf("%s\n`%s` current: %s", a.Description, sourceLabel(a), formatValue(a.Details.Current))
		if a.Details.Threshold != nil {
			value += fmt.Sprintf(", threshold: %s", formatValue(*a.Details.Threshold))
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  truncate(fmt.Sprintf("%s %s [%s]", severityEmoji(a.Severity), a.Title, strings.ToUpper(string(a.Severity))), 256),
			Value: truncate(value, discordMaxFieldValue),
		})
	}

	return &discordgo.MessageEmbed{
		Title: truncate(batch.Headline(), 256),
		Description: fmt.Sprintf("Server **%s**: %d critical, %d warning, %d info",
			batch.ServerID, batch.Summary.Critical, batch.Summary.Warning, batch.Summary.Info),
		Color:  discordColor(top),
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("BrokerWatch · tenant %s", batch.TenantID),
		},
		Timestamp: batch.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// discordColor returns the embed colour for a severity.
func discordColor(severity models.Severity) int {
	switch severity {
	case models.SeverityCritical:
		return 0xd32f2f
	case models.SeverityWarning:
		return 0xf57c00
	case models.SeverityInfo:
		return 0x1976d2
	default:
		return 0x757575
	}
}
