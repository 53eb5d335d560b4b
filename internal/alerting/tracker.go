package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/metrics"
	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
)

// DefaultCooldown is the minimum time between repeated notifications for a
// condition that stays active.
const DefaultCooldown = 7 * 24 * time.Hour

// TrackScope limits which previously active fingerprints a pass may resolve.
type TrackScope struct {
	// VHost restricts resolution of queue fingerprints to one vhost.
	// Empty means every vhost. Node and cluster fingerprints are always
	// in scope.
	VHost string
	// NodesObserved and QueuesObserved report whether the pass actually
	// read that source. Fingerprints of an unobserved source are left alone.
	NodesObserved  bool
	QueuesObserved bool
}

// FullScope returns a scope covering every fingerprint of the server.
func FullScope() TrackScope {
	return TrackScope{NodesObserved: true, QueuesObserved: true}
}

func (s TrackScope) covers(rec *models.SeenAlert) bool {
	switch rec.SourceType {
	case models.SourceQueue:
		if !s.QueuesObserved {
			return false
		}
		return s.VHost == "" || rec.VHost == s.VHost
	default:
		return s.NodesObserved
	}
}

// TrackRequest is the full set of current alerts for one server.
type TrackRequest struct {
	TenantID   string
	ServerID   string
	Alerts     []models.Alert
	Severities models.SeveritySet
	Scope      TrackScope
	Now        time.Time
}

// TrackResult reports what a pass changed.
type TrackResult struct {
	// Notifiable holds every current alert whose condition should be sent.
	Notifiable  []models.Alert
	Created     int
	Reactivated int
	Refreshed   int
	Resolved    int
	Errors      int
}

// Tracker reconciles the alerts of a pass against persisted SeenAlert rows.
type Tracker struct {
	seen     storage.SeenAlertRepository
	resolved storage.ResolvedAlertRepository
	cooldown time.Duration
	logger   *zap.Logger
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// Cooldown defaults to DefaultCooldown.
	Cooldown time.Duration
	Logger   *zap.Logger
}

// NewTracker creates a tracker over the given repositories.
func NewTracker(seen storage.SeenAlertRepository, resolved storage.ResolvedAlertRepository, opts TrackerOptions) *Tracker {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tracker{
		seen:     seen,
		resolved: resolved,
		cooldown: opts.Cooldown,
		logger:   opts.Logger,
	}
}

// Cooldown returns the configured re-notification interval.
func (t *Tracker) Cooldown() time.Duration {
	return t.cooldown
}

// condition groups the alerts of one pass that share a fingerprint.
type condition struct {
	fingerprint string
	lead        models.Alert
	alerts      []models.Alert
}

func groupByFingerprint(alerts []models.Alert) ([]*condition, map[string]*condition) {
	order := make([]*condition, 0, len(alerts))
	byFP := make(map[string]*condition, len(alerts))
	for _, a := range alerts {
		c, ok := byFP[a.Fingerprint]
		if !ok {
			c = &condition{fingerprint: a.Fingerprint, lead: a}
			byFP[a.Fingerprint] = c
			order = append(order, c)
		} else if a.Severity.Rank() > c.lead.Severity.Rank() {
			c.lead = a
		}
		c.alerts = append(c.alerts, a)
	}
	return order, byFP
}

// Track records every current condition, decides which are notifiable and
// resolves conditions that disappeared. Storage failures are logged per
// fingerprint and never abort the pass.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) TrackResult {
	var res TrackResult
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	severities := req.Severities
	if severities == nil {
		severities = models.AllSeveritySet()
	}
	log := t.logger.With(zap.String("tenant", req.TenantID), zap.String("server", req.ServerID))

	rows, err := t.seen.ListByServer(ctx, req.TenantID, req.ServerID)
	if err != nil {
		log.Error("list seen alerts failed", zap.Error(err))
		metrics.StorageErrors.WithLabelValues("list_seen").Inc()
		res.Errors++
		return res
	}
	existing := make(map[string]*models.SeenAlert, len(rows))
	for _, r := range rows {
		existing[r.Fingerprint] = r
	}

	conditions, active := groupByFingerprint(req.Alerts)

	for _, c := range conditions {
		flog := log.With(zap.String("fingerprint", c.fingerprint))
		allowed := severities.Allows(c.lead.Severity)
		notify := false

		rec, seen := existing[c.fingerprint]
		switch {
		case !seen:
			created, err := t.seen.Create(ctx, t.newSeenAlert(req, c, now))
			if err != nil {
				flog.Error("create seen alert failed", zap.Error(err))
				metrics.StorageErrors.WithLabelValues("create_seen").Inc()
				res.Errors++
				continue
			}
			if !created {
				// A concurrent pass inserted it first and owns the notification.
				if err := t.seen.Touch(ctx, req.TenantID, req.ServerID, c.fingerprint, seenUpdate(c, now)); err != nil {
					flog.Warn("refresh seen alert failed", zap.Error(err))
					metrics.StorageErrors.WithLabelValues("touch_seen").Inc()
					res.Errors++
				}
				res.Refreshed++
				metrics.LifecycleTransitions.WithLabelValues("refreshed").Inc()
				continue
			}
			res.Created++
			metrics.LifecycleTransitions.WithLabelValues("created").Inc()
			notify = allowed

		case !rec.IsActive():
			if err := t.seen.Touch(ctx, req.TenantID, req.ServerID, c.fingerprint, seenUpdate(c, now)); err != nil {
				flog.Error("reactivate seen alert failed", zap.Error(err))
				metrics.StorageErrors.WithLabelValues("touch_seen").Inc()
				res.Errors++
				continue
			}
			res.Reactivated++
			metrics.LifecycleTransitions.WithLabelValues("reactivated").Inc()
			notify = allowed

		default:
			if err := t.seen.Touch(ctx, req.TenantID, req.ServerID, c.fingerprint, seenUpdate(c, now)); err != nil {
				flog.Warn("refresh seen alert failed", zap.Error(err))
				metrics.StorageErrors.WithLabelValues("touch_seen").Inc()
				res.Errors++
			}
			res.Refreshed++
			metrics.LifecycleTransitions.WithLabelValues("refreshed").Inc()
			notify = allowed && t.cooldownElapsed(rec, now)
		}

		if notify {
			res.Notifiable = append(res.Notifiable, c.alerts...)
		}
	}

	for _, rec := range rows {
		if !rec.IsActive() {
			continue
		}
		if _, present := active[rec.Fingerprint]; present {
			continue
		}
		if !req.Scope.covers(rec) {
			continue
		}
		if t.resolve(ctx, log, req, rec, now) {
			res.Resolved++
		} else {
			res.Errors++
		}
	}

	return res
}

// cooldownElapsed measures from the last notification, or from first-seen
// when no notification was ever recorded.
func (t *Tracker) cooldownElapsed(rec *models.SeenAlert, now time.Time) bool {
	ref := rec.FirstSeenAt
	if rec.LastNotifiedAt != nil {
		ref = *rec.LastNotifiedAt
	}
	return now.Sub(ref) > t.cooldown
}

// resolve reports false only on a storage failure of the transition itself.
func (t *Tracker) resolve(ctx context.Context, log *zap.Logger, req TrackRequest, rec *models.SeenAlert, now time.Time) bool {
	flog := log.With(zap.String("fingerprint", rec.Fingerprint))

	ok, err := t.seen.Resolve(ctx, req.TenantID, req.ServerID, rec.Fingerprint, now)
	if err != nil {
		flog.Error("resolve seen alert failed", zap.Error(err))
		metrics.StorageErrors.WithLabelValues("resolve_seen").Inc()
		return false
	}
	if !ok {
		// Already resolved by a concurrent pass.
		return true
	}
	metrics.LifecycleTransitions.WithLabelValues("resolved").Inc()

	if t.resolved == nil {
		return true
	}
	snapshot := &models.ResolvedAlert{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		ServerID:    req.ServerID,
		Fingerprint: rec.Fingerprint,
		Severity:    rec.Severity,
		Category:    rec.Category,
		SourceType:  rec.SourceType,
		SourceName:  rec.SourceName,
		VHost:       rec.VHost,
		Title:       rec.Title,
		Description: rec.Description,
		FirstSeenAt: rec.FirstSeenAt,
		ResolvedAt:  now,
		Duration:    now.Sub(rec.FirstSeenAt),
	}
	if err := t.resolved.Create(ctx, snapshot); err != nil {
		flog.Warn("write resolved alert failed", zap.Error(err))
		metrics.StorageErrors.WithLabelValues("create_resolved").Inc()
	} else {
		flog.Info("alert resolved", zap.Duration("duration", snapshot.Duration))
	}
	return true
}

func (t *Tracker) newSeenAlert(req TrackRequest, c *condition, now time.Time) *models.SeenAlert {
	vhost := ""
	if c.lead.Source.Type == models.SourceQueue {
		vhost = c.lead.VHost
	}
	return &models.SeenAlert{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		ServerID:    req.ServerID,
		Fingerprint: c.fingerprint,
		Severity:    c.lead.Severity,
		Category:    c.lead.Category,
		SourceType:  c.lead.Source.Type,
		SourceName:  c.lead.Source.Name,
		VHost:       vhost,
		Title:       c.lead.Title,
		Description: c.lead.Description,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
}

func seenUpdate(c *condition, now time.Time) models.SeenUpdate {
	return models.SeenUpdate{
		Severity:    c.lead.Severity,
		Title:       c.lead.Title,
		Description: c.lead.Description,
		LastSeenAt:  now,
	}
}
