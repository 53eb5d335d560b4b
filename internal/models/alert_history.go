// Package models defines domain models for BrokerWatch.
package models

import "time"

// SeenAlert is the persisted lifecycle record of one fingerprint for a
// tenant's server. Rows are never deleted.
type SeenAlert struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ServerID       string     `json:"server_id"`
	Fingerprint    string     `json:"fingerprint"`
	Severity       Severity   `json:"severity"`
	Category       Category   `json:"category"`
	SourceType     SourceType `json:"source_type"`
	SourceName     string     `json:"source_name"`
	VHost          string     `json:"vhost,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
}

// IsActive reports whether the condition is currently unresolved.
func (s *SeenAlert) IsActive() bool {
	return s.ResolvedAt == nil
}

// SeenUpdate is applied to an existing SeenAlert each pass its condition
// is still present. ResolvedAt is always cleared.
type SeenUpdate struct {
	Severity    Severity
	Title       string
	Description string
	LastSeenAt  time.Time
}

// ResolvedAlert is an append-only snapshot written when a SeenAlert
// transitions to resolved. Used for reporting only.
type ResolvedAlert struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	ServerID    string        `json:"server_id"`
	Fingerprint string        `json:"fingerprint"`
	Severity    Severity      `json:"severity"`
	Category    Category      `json:"category"`
	SourceType  SourceType    `json:"source_type"`
	SourceName  string        `json:"source_name"`
	VHost       string        `json:"vhost,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	FirstSeenAt time.Time     `json:"first_seen_at"`
	ResolvedAt  time.Time     `json:"resolved_at"`
	Duration    time.Duration `json:"duration"`
}

// DurationMillis returns the open duration in milliseconds.
func (r *ResolvedAlert) DurationMillis() int64 {
	return r.Duration.Milliseconds()
}
