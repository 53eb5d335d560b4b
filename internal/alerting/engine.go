package alerting

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/brokerwatch/internal/broker"
	"github.com/good-yellow-bee/brokerwatch/internal/metrics"
	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/notifier"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
)

// ErrSourceUnreachable is returned when neither nodes nor queues could be
// read because the broker could not be reached at all.
var ErrSourceUnreachable = errors.New("metric source unreachable")

// MetricSource reads snapshots from one broker.
type MetricSource interface {
	Nodes(ctx context.Context) ([]models.NodeSnapshot, error)
	// Queues lists queues of one vhost, or of every vhost when vhost is empty.
	Queues(ctx context.Context, vhost string) ([]models.QueueSnapshot, error)
}

// ThresholdProvider resolves the thresholds of a tenant.
type ThresholdProvider interface {
	Thresholds(ctx context.Context, tenantID string) (models.MetricThresholds, error)
}

// PreferencesSource loads tenant notification preferences.
type PreferencesSource interface {
	Get(ctx context.Context, tenantID string) (*models.NotificationPreferences, error)
}

// Dispatcher delivers notifiable alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, prefs *models.NotificationPreferences, serverID string, alerts []models.Alert) notifier.Report
}

// PassRequest identifies one analysis pass.
type PassRequest struct {
	TenantID string
	ServerID string
	// VHost limits queue analysis and queue resolution to one vhost.
	VHost  string
	Source MetricSource
}

// TrackOutcome is the result of a full tracking pass.
type TrackOutcome struct {
	Result      *models.AlertsResult
	Tracking    TrackResult
	Delivery    notifier.Report
	Unreachable bool
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	Passes         atomic.Int64
	AlertsDetected atomic.Int64
	SourceFailures atomic.Int64
	Notified       atomic.Int64
}

// EngineOptions configures the engine.
type EngineOptions struct {
	Logger *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine runs analysis passes. It holds no per-pass state; the seen-alert
// store is the only shared mutable resource.
type Engine struct {
	thresholds ThresholdProvider
	tracker    *Tracker
	prefs      PreferencesSource
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time

	stats *EngineStats
}

// NewEngine wires the engine collaborators. tracker, prefs and dispatcher
// may be nil for analysis-only use.
func NewEngine(thresholds ThresholdProvider, tracker *Tracker, prefs PreferencesSource, dispatcher Dispatcher, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		thresholds: thresholds,
		tracker:    tracker,
		prefs:      prefs,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		now:        opts.Now,
		stats:      &EngineStats{},
	}
}

// Stats returns the engine statistics.
func (e *Engine) Stats() *EngineStats {
	return e.stats
}

type pass struct {
	result         *models.AlertsResult
	nodesObserved  bool
	queuesObserved bool
	unreachable    bool
	now            time.Time
}

// Analyze runs one read-only pass and returns the sorted alerts with their
// summary. A failed source contributes no alerts; ErrSourceUnreachable is
// returned only when the broker could not be reached for either source.
func (e *Engine) Analyze(ctx context.Context, req PassRequest) (*models.AlertsResult, error) {
	start := time.Now()
	p := e.analyze(ctx, req)
	metrics.PassDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	if p.unreachable {
		metrics.PassesTotal.WithLabelValues("analyze", "unreachable").Inc()
		return p.result, ErrSourceUnreachable
	}
	metrics.PassesTotal.WithLabelValues("analyze", "ok").Inc()
	return p.result, nil
}

// Track runs a pass, reconciles it with the seen-alert store and dispatches
// notifiable alerts. It never returns an error; failures are logged.
func (e *Engine) Track(ctx context.Context, req PassRequest) *TrackOutcome {
	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues("track").Observe(time.Since(start).Seconds())
	}()
	log := e.logger.With(zap.String("tenant", req.TenantID), zap.String("server", req.ServerID))

	p := e.analyze(ctx, req)
	out := &TrackOutcome{Result: p.result, Unreachable: p.unreachable}
	if p.unreachable {
		// Nothing was observed, so nothing may be resolved.
		log.Warn("broker unreachable, skipping tracking")
		metrics.PassesTotal.WithLabelValues("track", "unreachable").Inc()
		return out
	}
	metrics.PassesTotal.WithLabelValues("track", "ok").Inc()

	if e.tracker == nil {
		return out
	}

	prefs := e.preferences(ctx, log, req.TenantID)
	out.Tracking = e.tracker.Track(ctx, TrackRequest{
		TenantID:   req.TenantID,
		ServerID:   req.ServerID,
		Alerts:     p.result.Alerts,
		Severities: prefs.Severities,
		Scope: TrackScope{
			VHost:          req.VHost,
			NodesObserved:  p.nodesObserved,
			QueuesObserved: p.queuesObserved,
		},
		Now: p.now,
	})

	if len(out.Tracking.Notifiable) > 0 && e.dispatcher != nil {
		out.Delivery = e.dispatcher.Dispatch(ctx, prefs, req.ServerID, out.Tracking.Notifiable)
		e.stats.Notified.Add(int64(len(out.Tracking.Notifiable)))
	}

	log.Debug("tracking pass complete",
		zap.Int("alerts", len(p.result.Alerts)),
		zap.Int("created", out.Tracking.Created),
		zap.Int("reactivated", out.Tracking.Reactivated),
		zap.Int("resolved", out.Tracking.Resolved),
		zap.Int("notifiable", len(out.Tracking.Notifiable)),
	)
	return out
}

func (e *Engine) analyze(ctx context.Context, req PassRequest) *pass {
	e.stats.Passes.Add(1)
	now := e.now()
	log := e.logger.With(zap.String("tenant", req.TenantID), zap.String("server", req.ServerID))

	thresholds := models.DefaultThresholds()
	if e.thresholds != nil {
		th, err := e.thresholds.Thresholds(ctx, req.TenantID)
		if err != nil {
			log.Warn("thresholds unavailable, using defaults", zap.Error(err))
			metrics.SourceErrors.WithLabelValues("thresholds").Inc()
		} else {
			thresholds = th
		}
	}

	var (
		nodes               []models.NodeSnapshot
		queues              []models.QueueSnapshot
		nodesErr, queuesErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		nodes, nodesErr = req.Source.Nodes(ctx)
		return nil
	})
	g.Go(func() error {
		queues, queuesErr = req.Source.Queues(ctx, req.VHost)
		return nil
	})
	_ = g.Wait()

	if nodesErr != nil {
		log.Warn("fetch nodes failed", zap.Error(nodesErr))
		metrics.SourceErrors.WithLabelValues("nodes").Inc()
		e.stats.SourceFailures.Add(1)
	}
	if queuesErr != nil {
		log.Warn("fetch queues failed", zap.Error(queuesErr), zap.String("vhost", req.VHost))
		metrics.SourceErrors.WithLabelValues("queues").Inc()
		e.stats.SourceFailures.Add(1)
	}

	analyzer := NewAnalyzer(req.ServerID, thresholds, now)
	var alerts []models.Alert
	if nodesErr == nil {
		for i := range nodes {
			alerts = append(alerts, analyzer.AnalyzeNode(&nodes[i])...)
		}
	}
	if queuesErr == nil {
		for i := range queues {
			alerts = append(alerts, analyzer.AnalyzeQueue(&queues[i])...)
		}
	}

	for i := range alerts {
		metrics.AlertsDetected.WithLabelValues(string(alerts[i].Severity), string(alerts[i].Category)).Inc()
	}
	e.stats.AlertsDetected.Add(int64(len(alerts)))

	return &pass{
		result:         NewResult(alerts),
		nodesObserved:  nodesErr == nil,
		queuesObserved: queuesErr == nil,
		unreachable:    errors.Is(nodesErr, broker.ErrUnreachable) && errors.Is(queuesErr, broker.ErrUnreachable),
		now:            now,
	}
}

// preferences falls back to defaults, which enable no channel, when the
// tenant has none stored or the store fails.
func (e *Engine) preferences(ctx context.Context, log *zap.Logger, tenantID string) *models.NotificationPreferences {
	if e.prefs == nil {
		return models.DefaultPreferences(tenantID)
	}
	prefs, err := e.prefs.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error("load notification preferences failed", zap.Error(err))
			metrics.StorageErrors.WithLabelValues("get_preferences").Inc()
		}
		return models.DefaultPreferences(tenantID)
	}
	return prefs
}
