package alerting

import (
	"fmt"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

const (
	staleReadyMinimum       = 100
	accumulationRatio       = 0.5
	accumulationMinMessages = 1000
	inactiveAfterHours      = 24
)

// AnalyzeQueue evaluates every queue rule independently.
func (a *Analyzer) AnalyzeQueue(q *models.QueueSnapshot) []models.Alert {
	var alerts []models.Alert
	src := models.Source{Type: models.SourceQueue, Name: q.Name}
	vhost := q.EffectiveVHost()
	th := a.Thresholds
	affected := []string{q.Name}

	if sev, bound, ok := above(float64(q.Messages), th.QueueMessages); ok {
		alerts = append(alerts, a.newAlert(sev, models.CategoryQueue, src, vhost,
			titleFor(sev, "Critical Queue Backlog", "High Queue Backlog"),
			fmt.Sprintf("Queue %s in vhost %s holds %d messages", q.Name, vhost, q.Messages),
			models.Details{
				Current:     float64(q.Messages),
				Threshold:   ptr(bound),
				Recommended: "Add consumers or increase consumer throughput",
				Affected:    affected,
			}))
	}

	if q.Messages > 0 && q.Consumers == 0 {
		alerts = append(alerts, a.newAlert(models.SeverityWarning, models.CategoryConnection, src, vhost,
			"Queue Without Consumers",
			fmt.Sprintf("Queue %s in vhost %s has %d messages and no consumers", q.Name, vhost, q.Messages),
			models.Details{
				Current:     float64(q.Messages),
				Recommended: "Start a consumer for this queue or remove it if unused",
				Affected:    affected,
			}))
	}

	if sev, bound, ok := above(float64(q.MessagesUnacknowledged), th.UnackedMessages); ok {
		alerts = append(alerts, a.newAlert(sev, models.CategoryPerformance, src, vhost,
			titleFor(sev, "Critical Unacknowledged Messages", "High Unacknowledged Messages"),
			fmt.Sprintf("Queue %s in vhost %s has %d unacknowledged messages", q.Name, vhost, q.MessagesUnacknowledged),
			models.Details{
				Current:     float64(q.MessagesUnacknowledged),
				Threshold:   ptr(bound),
				Recommended: "Check consumers for stuck processing and tune prefetch",
				Affected:    affected,
			}))
	}

	if q.Consumers > 0 {
		// With nothing published, consumers are keeping up by definition.
		utilization := 100.0
		if q.PublishRate > 0 {
			utilization = q.DeliverRate / q.PublishRate * 100
		}
		if utilization < th.ConsumerUtilization.Warning {
			alerts = append(alerts, a.newAlert(models.SeverityWarning, models.CategoryPerformance, src, vhost,
				"Low Consumer Utilization",
				fmt.Sprintf("Consumers of queue %s in vhost %s deliver %.0f%% of the publish rate", q.Name, vhost, roundPct(utilization)),
				models.Details{
					Current:     roundPct(utilization),
					Threshold:   ptr(th.ConsumerUtilization.Warning),
					Recommended: "Scale out consumers or raise prefetch",
					Affected:    affected,
				}))
		}
	}

	if q.MessagesReady > 0 && q.Consumers > 0 && q.DeliverRate == 0 && q.MessagesReady > staleReadyMinimum {
		alerts = append(alerts, a.newAlert(models.SeverityWarning, models.CategoryPerformance, src, vhost,
			"Stale Messages Detected",
			fmt.Sprintf("Queue %s in vhost %s has %d ready messages but nothing is being delivered", q.Name, vhost, q.MessagesReady),
			models.Details{
				Current:     float64(q.MessagesReady),
				Threshold:   ptr(staleReadyMinimum),
				Recommended: "Check whether consumers are blocked or have stopped acknowledging",
				Affected:    affected,
			}))
	}

	if q.PublishRate > 0 && q.DeliverRate > 0 {
		ratio := (q.PublishRate - q.DeliverRate) / q.PublishRate
		if ratio > accumulationRatio && q.Messages > accumulationMinMessages {
			alerts = append(alerts, a.newAlert(models.SeverityWarning, models.CategoryPerformance, src, vhost,
				"Message Accumulation",
				fmt.Sprintf("Queue %s in vhost %s is accumulating messages: %.0f%% of published messages are not delivered", q.Name, vhost, roundPct(ratio*100)),
				models.Details{
					Current:     roundPct(ratio * 100),
					Threshold:   ptr(accumulationRatio * 100),
					Recommended: "Increase consumer capacity before the backlog grows",
					Affected:    affected,
				}))
		}
	}

	if q.Messages == 0 && q.Consumers == 0 && q.IdleSince != nil {
		idleHours := a.Now.Sub(*q.IdleSince).Hours()
		if idleHours > inactiveAfterHours {
			alerts = append(alerts, a.newAlert(models.SeverityInfo, models.CategoryQueue, src, vhost,
				"Inactive Queue",
				fmt.Sprintf("Queue %s in vhost %s has been idle for %.0f hours", q.Name, vhost, idleHours),
				models.Details{
					Current:     idleHours,
					Threshold:   ptr(inactiveAfterHours),
					Recommended: "Delete the queue if it is no longer used",
					Affected:    affected,
				}))
		}
	}

	return alerts
}
