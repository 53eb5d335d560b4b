package alerting

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PassRunner runs one tracking pass.
type PassRunner interface {
	Track(ctx context.Context, req PassRequest) *TrackOutcome
}

// Poller runs tracking passes for one broker at a fixed interval.
// Passes never overlap: the next tick is only read after the current pass
// has returned.
type Poller struct {
	runner   PassRunner
	req      PassRequest
	interval time.Duration
	logger   *zap.Logger
}

// NewPoller creates a poller for one broker.
func NewPoller(runner PassRunner, req PassRequest, interval time.Duration, logger *zap.Logger) (*Poller, error) {
	if interval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if req.Source == nil {
		return nil, errors.New("poller requires a metric source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		runner:   runner,
		req:      req,
		interval: interval,
		logger:   logger.With(zap.String("tenant", req.TenantID), zap.String("server", req.ServerID)),
	}, nil
}

// Run performs a pass immediately and then once per interval until ctx is
// cancelled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			// Prefer cancellation when both are ready.
			if ctx.Err() != nil {
				p.logger.Info("poller stopped")
				return nil
			}
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	out := p.runner.Track(ctx, p.req)
	if out == nil {
		return
	}
	if out.Unreachable {
		p.logger.Warn("poll pass could not reach broker")
		return
	}
	if out.Tracking.Created+out.Tracking.Reactivated+out.Tracking.Resolved > 0 {
		p.logger.Info("poll pass changed alert state",
			zap.Int("created", out.Tracking.Created),
			zap.Int("reactivated", out.Tracking.Reactivated),
			zap.Int("resolved", out.Tracking.Resolved),
			zap.Int("active", out.Result.Summary.Total),
		)
	}
}
