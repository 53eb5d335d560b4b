package alerting

import (
	"sort"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// SortAlerts orders alerts by severity (critical first), then by timestamp
// with the most recent first.
func SortAlerts(alerts []models.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}

// Summarize counts alerts by severity.
func Summarize(alerts []models.Alert) models.Summary {
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
	return s
}

// NewResult sorts alerts in place and wraps them with their summary.
func NewResult(alerts []models.Alert) *models.AlertsResult {
	if alerts == nil {
		alerts = []models.Alert{}
	}
	SortAlerts(alerts)
	return &models.AlertsResult{Alerts: alerts, Summary: Summarize(alerts)}
}
