// Package alerting turns broker metric snapshots into alerts, gives them a
// stable identity across polling cycles, and tracks their notification
// lifecycle.
package alerting

import (
	"fmt"
	"math"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// Analyzer evaluates snapshots against one immutable threshold set.
// It has no side effects; Now is fixed for the whole pass.
type Analyzer struct {
	ServerID   string
	Thresholds models.MetricThresholds
	Now        time.Time
}

// NewAnalyzer creates an analyzer for one pass over one server.
func NewAnalyzer(serverID string, thresholds models.MetricThresholds, now time.Time) *Analyzer {
	return &Analyzer{ServerID: serverID, Thresholds: thresholds, Now: now}
}

// AnalyzeNode evaluates every node rule independently. A single snapshot may
// yield several alerts.
func (a *Analyzer) AnalyzeNode(n *models.NodeSnapshot) []models.Alert {
	var alerts []models.Alert
	src := models.Source{Type: models.SourceNode, Name: n.Name}
	th := a.Thresholds

	if !n.Running {
		alerts = append(alerts, a.newAlert(models.SeverityCritical, models.CategoryNode, src, "",
			"Node Down",
			fmt.Sprintf("Node %s is not running", n.Name),
			models.Details{
				Current:     0,
				Recommended: "Check the node process and its logs, then restart the node",
				Affected:    []string{n.Name},
			}))
	}

	if n.MemAlarm {
		alerts = append(alerts, a.newAlert(models.SeverityCritical, models.CategoryMemory, src, "",
			"Memory Alarm Triggered",
			fmt.Sprintf("Node %s raised a memory alarm; publishers are being blocked", n.Name),
			models.Details{
				Current:     roundPct(ratioPct(n.MemUsed, n.MemLimit)),
				Recommended: "Drain large queues or raise vm_memory_high_watermark",
				Affected:    []string{n.Name},
			}))
	}

	if n.DiskFreeAlarm {
		alerts = append(alerts, a.newAlert(models.SeverityCritical, models.CategoryDisk, src, "",
			"Disk Alarm Triggered",
			fmt.Sprintf("Node %s raised a disk free space alarm; publishers are being blocked", n.Name),
			models.Details{
				Current:     float64(n.DiskFree),
				Threshold:   ptr(float64(n.DiskFreeLimit)),
				Recommended: "Free disk space on the node or lower disk_free_limit",
				Affected:    []string{n.Name},
			}))
	}

	if len(n.Partitions) > 0 {
		affected := append([]string{n.Name}, n.Partitions...)
		alerts = append(alerts, a.newAlert(models.SeverityCritical, models.CategoryNode, src, "",
			"Network Partition Detected",
			fmt.Sprintf("Node %s is partitioned from %d peer(s)", n.Name, len(n.Partitions)),
			models.Details{
				Current:     float64(len(n.Partitions)),
				Recommended: "Restore connectivity between nodes and follow the partition handling strategy",
				Affected:    affected,
			}))
	}

	if n.MemLimit > 0 {
		pct := ratioPct(n.MemUsed, n.MemLimit)
		if sev, bound, ok := above(pct, th.Memory); ok {
			alerts = append(alerts, a.newAlert(sev, models.CategoryMemory, src, "",
				titleFor(sev, "Critical Memory Usage", "High Memory Usage"),
				fmt.Sprintf("Node %s is using %.0f%% of its memory limit", n.Name, roundPct(pct)),
				models.Details{
					Current:     roundPct(pct),
					Threshold:   ptr(bound),
					Recommended: "Investigate memory-heavy queues and connections",
					Affected:    []string{n.Name},
				}))
		}
	}

	// free/(free+(limit-free)) reduces to free/limit.
	if n.DiskFreeLimit > 0 && n.DiskFree > 0 {
		pct := ratioPct(n.DiskFree, n.DiskFreeLimit)
		if sev, bound, ok := below(pct, th.Disk); ok {
			alerts = append(alerts, a.newAlert(sev, models.CategoryDisk, src, "",
				titleFor(sev, "Critical Disk Space", "Low Disk Space"),
				fmt.Sprintf("Node %s has %.0f%% disk space free relative to its limit", n.Name, roundPct(pct)),
				models.Details{
					Current:     roundPct(pct),
					Threshold:   ptr(bound),
					Recommended: "Free disk space or move the node data directory to a larger volume",
					Affected:    []string{n.Name},
				}))
		}
	}

	if n.FDTotal > 0 {
		pct := ratioPct(n.FDUsed, n.FDTotal)
		if sev, bound, ok := above(pct, th.FileDescriptors); ok {
			alerts = append(alerts, a.newAlert(sev, models.CategoryConnection, src, "",
				titleFor(sev, "Critical File Descriptor Usage", "High File Descriptor Usage"),
				fmt.Sprintf("Node %s is using %.0f%% of available file descriptors", n.Name, roundPct(pct)),
				models.Details{
					Current:     roundPct(pct),
					Threshold:   ptr(bound),
					Recommended: "Raise the open file limit or reduce the number of connections",
					Affected:    []string{n.Name},
				}))
		}
	}

	if n.SocketsTotal > 0 {
		pct := ratioPct(n.SocketsUsed, n.SocketsTotal)
		if sev, bound, ok := above(pct, th.Sockets); ok {
			alerts = append(alerts, a.newAlert(sev, models.CategoryConnection, src, "",
				titleFor(sev, "Critical Socket Usage", "High Socket Usage"),
				fmt.Sprintf("Node %s is using %.0f%% of available sockets", n.Name, roundPct(pct)),
				models.Details{
					Current:     roundPct(pct),
					Threshold:   ptr(bound),
					Recommended: "Check for connection leaks in client applications",
					Affected:    []string{n.Name},
				}))
		}
	}

	if n.ProcTotal > 0 {
		pct := ratioPct(n.ProcUsed, n.ProcTotal)
		if sev, bound, ok := above(pct, th.Processes); ok {
			alerts = append(alerts, a.newAlert(sev, models.CategoryPerformance, src, "",
				titleFor(sev, "Critical Process Usage", "High Process Usage"),
				fmt.Sprintf("Node %s is using %.0f%% of its Erlang process limit", n.Name, roundPct(pct)),
				models.Details{
					Current:     roundPct(pct),
					Threshold:   ptr(bound),
					Recommended: "Reduce channel and connection counts or raise the process limit",
					Affected:    []string{n.Name},
				}))
		}
	}

	// A zero run queue is a reading; only a missing one is skipped.
	if n.RunQueue != nil {
		depth := float64(*n.RunQueue)
		if sev, bound, ok := above(depth, th.RunQueue); ok {
			alerts = append(alerts, a.newAlert(sev, models.CategoryPerformance, src, "",
				titleFor(sev, "Critical Run Queue", "High Run Queue"),
				fmt.Sprintf("Node %s has %d processes waiting for a scheduler", n.Name, *n.RunQueue),
				models.Details{
					Current:     depth,
					Threshold:   ptr(bound),
					Recommended: "Check CPU saturation on the host",
					Affected:    []string{n.Name},
				}))
		}
	}

	return alerts
}

func (a *Analyzer) newAlert(sev models.Severity, cat models.Category, src models.Source, vhost, title, desc string, details models.Details) models.Alert {
	key := FingerprintKey{
		ServerID:   a.ServerID,
		Category:   cat,
		SourceType: src.Type,
		SourceName: src.Name,
		VHost:      vhost,
	}
	return models.Alert{
		ID:          AlertID(a.ServerID, cat, src.Name, a.Now),
		Fingerprint: key.String(),
		Severity:    sev,
		Category:    cat,
		Title:       title,
		Description: desc,
		Source:      src,
		VHost:       vhost,
		Details:     details,
		Timestamp:   a.Now,
		Resolved:    false,
	}
}

// above fires when v >= critical, else when v >= warning.
func above(v float64, t models.Threshold) (models.Severity, float64, bool) {
	switch {
	case v >= t.Critical:
		return models.SeverityCritical, t.Critical, true
	case v >= t.Warning:
		return models.SeverityWarning, t.Warning, true
	default:
		return "", 0, false
	}
}

// below fires when v <= critical, else when v <= warning.
func below(v float64, t models.Threshold) (models.Severity, float64, bool) {
	switch {
	case v <= t.Critical:
		return models.SeverityCritical, t.Critical, true
	case v <= t.Warning:
		return models.SeverityWarning, t.Warning, true
	default:
		return "", 0, false
	}
}

func titleFor(sev models.Severity, critical, warning string) string {
	if sev == models.SeverityCritical {
		return critical
	}
	return warning
}

func ratioPct(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

func roundPct(v float64) float64 {
	return math.Round(v)
}

func ptr(v float64) *float64 {
	return &v
}
