package models

import (
	"sort"
	"strings"
	"time"
)

// Channel is a notification delivery channel kind.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelChat    Channel = "chat"
)

// SeveritySet is the set of severities a tenant wants to be notified about.
type SeveritySet map[Severity]struct{}

// NewSeveritySet builds a set from the given severities.
func NewSeveritySet(sevs ...Severity) SeveritySet {
	set := make(SeveritySet, len(sevs))
	for _, s := range sevs {
		set[s] = struct{}{}
	}
	return set
}

// AllSeveritySet returns a set containing info, warning and critical.
func AllSeveritySet() SeveritySet {
	return NewSeveritySet(AllSeverities...)
}

// ParseSeveritySet parses stored severity names. Absent or empty input
// yields all severities; unknown names are ignored.
func ParseSeveritySet(names []string) SeveritySet {
	if len(names) == 0 {
		return AllSeveritySet()
	}
	set := make(SeveritySet, len(names))
	for _, n := range names {
		if s, ok := ParseSeverity(n); ok {
			set[s] = struct{}{}
		}
	}
	if len(set) == 0 {
		return AllSeveritySet()
	}
	return set
}

// Allows reports whether s is in the set.
func (ss SeveritySet) Allows(s Severity) bool {
	_, ok := ss[s]
	return ok
}

// Names returns the set members ordered most severe first.
func (ss SeveritySet) Names() []string {
	out := make([]string, 0, len(ss))
	for _, s := range AllSeverities {
		if ss.Allows(s) {
			out = append(out, string(s))
		}
	}
	return out
}

// ServerScope restricts notifications to a set of servers.
// The zero value means all servers.
type ServerScope struct {
	subset map[string]struct{}
}

// AllServers returns a scope matching every server.
func AllServers() ServerScope {
	return ServerScope{}
}

// ServerSubset returns a scope matching only the given servers.
// An empty subset matches nothing.
func ServerSubset(ids ...string) ServerScope {
	subset := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		subset[id] = struct{}{}
	}
	return ServerScope{subset: subset}
}

// IsAll reports whether the scope is unrestricted.
func (sc ServerScope) IsAll() bool {
	return sc.subset == nil
}

// Includes reports whether serverID is in scope.
func (sc ServerScope) Includes(serverID string) bool {
	if sc.subset == nil {
		return true
	}
	_, ok := sc.subset[serverID]
	return ok
}

// IDs returns the sorted subset, or nil for an unrestricted scope.
func (sc ServerScope) IDs() []string {
	if sc.subset == nil {
		return nil
	}
	ids := make([]string, 0, len(sc.subset))
	for id := range sc.subset {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WebhookTarget is a tenant-configured HTTP endpoint.
type WebhookTarget struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// ChatKind is the chat product a ChatTarget posts to.
type ChatKind string

const (
	ChatSlack   ChatKind = "slack"
	ChatTeams   ChatKind = "teams"
	ChatDiscord ChatKind = "discord"
)

// ChatTarget is a tenant-configured chat destination. Slack and Teams use
// WebhookURL; Discord uses ChannelID through the bot session.
type ChatTarget struct {
	ID         string   `json:"id"`
	Kind       ChatKind `json:"kind"`
	WebhookURL string   `json:"webhook_url,omitempty"`
	ChannelID  string   `json:"channel_id,omitempty"`
}

// NotificationPreferences are a tenant's delivery settings.
type NotificationPreferences struct {
	TenantID        string          `json:"tenant_id"`
	Channels        []Channel       `json:"channels"`
	Severities      SeveritySet     `json:"-"`
	Servers         ServerScope     `json:"-"`
	EmailRecipients []string        `json:"email_recipients,omitempty"`
	Webhooks        []WebhookTarget `json:"webhooks,omitempty"`
	Chats           []ChatTarget    `json:"chats,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DefaultPreferences returns preferences with no channels enabled.
func DefaultPreferences(tenantID string) *NotificationPreferences {
	return &NotificationPreferences{
		TenantID:   tenantID,
		Severities: AllSeveritySet(),
		Servers:    AllServers(),
	}
}

// ChannelEnabled reports whether c is in the enabled channel list.
func (p *NotificationPreferences) ChannelEnabled(c Channel) bool {
	for _, ch := range p.Channels {
		if strings.EqualFold(string(ch), string(c)) {
			return true
		}
	}
	return false
}

// EmailReady reports whether email is enabled and has recipients.
func (p *NotificationPreferences) EmailReady() bool {
	return p.ChannelEnabled(ChannelEmail) && len(p.EmailRecipients) > 0
}

// WebhookReady reports whether webhooks are enabled and configured.
func (p *NotificationPreferences) WebhookReady() bool {
	return p.ChannelEnabled(ChannelWebhook) && len(p.Webhooks) > 0
}

// ChatReady reports whether chat is enabled and configured.
func (p *NotificationPreferences) ChatReady() bool {
	return p.ChannelEnabled(ChannelChat) && len(p.Chats) > 0
}

// HasDeliverableChannel reports whether at least one channel can deliver.
func (p *NotificationPreferences) HasDeliverableChannel() bool {
	return p.EmailReady() || p.WebhookReady() || p.ChatReady()
}
