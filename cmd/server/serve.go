package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/brokerwatch/internal/alerting"
	"github.com/good-yellow-bee/brokerwatch/internal/api"
	"github.com/good-yellow-bee/brokerwatch/internal/api/health"
	"github.com/good-yellow-bee/brokerwatch/internal/metrics"
	"github.com/good-yellow-bee/brokerwatch/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, metrics endpoint and broker pollers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	defer func() { _ = a.logger.Sync() }()

	cfg := a.cfg
	logger := a.logger
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	healthHandler := health.NewHandler()
	a.registerHealth(healthHandler)

	apiServer, err := api.New(&api.Config{
		Address:         cfg.Server.HTTPAddress,
		HTTPTLSEnabled:  cfg.Server.HTTPTLS.Enabled,
		HTTPTLSCertFile: cfg.Server.HTTPTLS.CertFile,
		HTTPTLSKeyFile:  cfg.Server.HTTPTLS.KeyFile,
		RateLimitPerIP:  cfg.Server.RateLimitPerIP,
		PassTimeout:     duration(cfg.Server.PassTimeout),
		Verbose:         cfg.Verbose,
	}, api.Deps{
		Engine:      a.engine,
		Servers:     a.servers,
		Resolved:    a.resolved,
		Preferences: a.store.Preferences(),
		Health:      healthHandler,
		Logger:      logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	pollers, err := a.pollers()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting brokerwatch-server",
		zap.String("version", config.Version),
		zap.Int("brokers", len(cfg.Brokers)),
		zap.String("history", cfg.History.Backend),
	)

	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress, logger.Named("metrics"))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(metricsServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return apiServer.Run(gctx)
	})
	if cfg.Thresholds.Watch {
		g.Go(func() error {
			return a.thresholds.Watch(gctx)
		})
	}
	for _, p := range pollers {
		g.Go(func() error {
			return p.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// pollers creates one poller per configured broker. A broker poll interval
// overrides the global one.
func (a *app) pollers() ([]*alerting.Poller, error) {
	out := make([]*alerting.Poller, 0, len(a.cfg.Brokers))
	for _, b := range a.cfg.Brokers {
		interval := a.cfg.Alerting.PollInterval
		if b.PollInterval != "" {
			interval = b.PollInterval
		}
		req, err := a.passRequest(b.ID, b.VHost)
		if err != nil {
			return nil, err
		}
		p, err := alerting.NewPoller(a.engine, req, duration(interval), a.logger.Named("poller"))
		if err != nil {
			return nil, fmt.Errorf("broker %s: %w", b.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}
