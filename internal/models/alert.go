package models

import (
	"strings"
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AllSeverities lists every severity, most severe first.
var AllSeverities = []Severity{SeverityCritical, SeverityWarning, SeverityInfo}

// ParseSeverity converts a string to Severity.
// The second return value is false for unknown input.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, true
	case "warning":
		return SeverityWarning, true
	case "critical":
		return SeverityCritical, true
	default:
		return "", false
	}
}

// Rank orders severities: critical > warning > info > unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Category groups alerts by the resource they concern.
type Category string

const (
	CategoryNode        Category = "node"
	CategoryMemory      Category = "memory"
	CategoryDisk        Category = "disk"
	CategoryConnection  Category = "connection"
	CategoryQueue       Category = "queue"
	CategoryPerformance Category = "performance"
)

// SourceType identifies what kind of broker object raised an alert.
type SourceType string

const (
	SourceNode    SourceType = "node"
	SourceQueue   SourceType = "queue"
	SourceCluster SourceType = "cluster"
)

// DefaultVHost is used for queue alerts whose snapshot carries no vhost.
const DefaultVHost = "/"

// Source names the broker object an alert is about.
type Source struct {
	Type SourceType `json:"type"`
	Name string     `json:"name"`
}

// Details carries the measured value behind an alert.
type Details struct {
	Current     float64  `json:"current"`
	Threshold   *float64 `json:"threshold,omitempty"`
	Recommended string   `json:"recommended"`
	Affected    []string `json:"affected,omitempty"`
}

// Alert is one detected condition from a single analysis pass.
// ID differs between passes; Fingerprint does not.
type Alert struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Severity    Severity  `json:"severity"`
	Category    Category  `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      Source    `json:"source"`
	VHost       string    `json:"vhost,omitempty"`
	Details     Details   `json:"details"`
	Timestamp   time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
}

// Summary counts alerts by severity.
type Summary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// AlertsResult is what callers of an analysis pass receive.
type AlertsResult struct {
	Alerts  []Alert `json:"alerts"`
	Summary Summary `json:"summary"`
}
