package preferences

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// ValidateTenantID checks the tenant path parameter.
func ValidateTenantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("tenant id is required")
	}
	if len(id) > 128 {
		return errors.New("tenant id must be 128 characters or less")
	}
	return nil
}

// ValidateChannels normalises channel names, rejecting unknown ones.
func ValidateChannels(names []string) ([]models.Channel, error) {
	out := make([]models.Channel, 0, len(names))
	seen := make(map[models.Channel]bool, len(names))
	for _, n := range names {
		c := models.Channel(strings.ToLower(strings.TrimSpace(n)))
		switch c {
		case models.ChannelEmail, models.ChannelWebhook, models.ChannelChat:
		default:
			return nil, fmt.Errorf("unknown channel %q", n)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// ValidateSeverities rejects unknown names. An omitted list means all.
func ValidateSeverities(names []string) (models.SeveritySet, error) {
	if names == nil {
		return models.AllSeveritySet(), nil
	}
	set := models.NewSeveritySet()
	for _, n := range names {
		s, ok := models.ParseSeverity(n)
		if !ok {
			return nil, fmt.Errorf("unknown severity %q", n)
		}
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return nil, errors.New("severities must not be empty; omit the field for all severities")
	}
	return set, nil
}

// ValidateRecipients parses each address and returns the bare addresses.
func ValidateRecipients(addrs []string) ([]string, error) {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("invalid email recipient %q", a)
		}
		out = append(out, parsed.Address)
	}
	return out, nil
}

// ValidateWebhooks requires unique ids and absolute http(s) URLs.
func ValidateWebhooks(targets []models.WebhookTarget) error {
	ids := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.ID == "" {
			return errors.New("webhook id is required")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate webhook id %q", t.ID)
		}
		ids[t.ID] = true
		u, err := url.Parse(t.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook %q: url must be an absolute http or https URL", t.ID)
		}
	}
	return nil
}

// ValidateChats checks each chat target against its kind.
func ValidateChats(targets []models.ChatTarget) error {
	ids := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.ID == "" {
			return errors.New("chat id is required")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate chat id %q", t.ID)
		}
		ids[t.ID] = true
		switch t.Kind {
		case models.ChatSlack, models.ChatTeams:
			if !strings.HasPrefix(t.WebhookURL, "https://") {
				return fmt.Errorf("chat %q: %s webhook_url must use https", t.ID, t.Kind)
			}
		case models.ChatDiscord:
			if t.ChannelID == "" {
				return fmt.Errorf("chat %q: discord channel_id is required", t.ID)
			}
		default:
			return fmt.Errorf("chat %q: unknown kind %q", t.ID, t.Kind)
		}
	}
	return nil
}
