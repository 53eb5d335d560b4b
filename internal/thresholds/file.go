// Package thresholds resolves per-tenant metric thresholds.
package thresholds

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// Provider resolves the thresholds that apply to a tenant.
type Provider interface {
	Thresholds(ctx context.Context, tenantID string) (models.MetricThresholds, error)
}

const defaultVersion = "default"

// bound overrides one side of a threshold.
type bound struct {
	Warning  *float64 `yaml:"warning"`
	Critical *float64 `yaml:"critical"`
}

// overrides is a partial MetricThresholds; absent categories and bounds keep
// the base value.
type overrides struct {
	Memory              *bound `yaml:"memory"`
	Disk                *bound `yaml:"disk"`
	FileDescriptors     *bound `yaml:"file_descriptors"`
	Sockets             *bound `yaml:"sockets"`
	Processes           *bound `yaml:"processes"`
	QueueMessages       *bound `yaml:"queue_messages"`
	UnackedMessages     *bound `yaml:"unacked_messages"`
	ConsumerUtilization *bound `yaml:"consumer_utilization"`
	RunQueue            *bound `yaml:"run_queue"`
}

type fileFormat struct {
	Defaults overrides            `yaml:"defaults"`
	Tenants  map[string]overrides `yaml:"tenants"`
}

func (b *bound) apply(t models.Threshold) models.Threshold {
	if b == nil {
		return t
	}
	if b.Warning != nil {
		t.Warning = *b.Warning
	}
	if b.Critical != nil {
		t.Critical = *b.Critical
	}
	return t
}

func (o *overrides) apply(base models.MetricThresholds) models.MetricThresholds {
	base.Memory = o.Memory.apply(base.Memory)
	base.Disk = o.Disk.apply(base.Disk)
	base.FileDescriptors = o.FileDescriptors.apply(base.FileDescriptors)
	base.Sockets = o.Sockets.apply(base.Sockets)
	base.Processes = o.Processes.apply(base.Processes)
	base.QueueMessages = o.QueueMessages.apply(base.QueueMessages)
	base.UnackedMessages = o.UnackedMessages.apply(base.UnackedMessages)
	base.ConsumerUtilization = o.ConsumerUtilization.apply(base.ConsumerUtilization)
	base.RunQueue = o.RunQueue.apply(base.RunQueue)
	return base
}

func validate(scope string, t models.MetricThresholds) error {
	checks := map[string]models.Threshold{
		"memory":               t.Memory,
		"disk":                 t.Disk,
		"file_descriptors":     t.FileDescriptors,
		"sockets":              t.Sockets,
		"processes":            t.Processes,
		"queue_messages":       t.QueueMessages,
		"unacked_messages":     t.UnackedMessages,
		"consumer_utilization": t.ConsumerUtilization,
		"run_queue":            t.RunQueue,
	}
	for name, th := range checks {
		if th.Warning < 0 || th.Critical < 0 {
			return fmt.Errorf("%s: %s thresholds must not be negative", scope, name)
		}
	}
	return nil
}

// FileStore serves thresholds from a YAML file with a defaults section and
// per-tenant partial overrides. A missing or unreadable file yields the
// built-in defaults.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	defaults models.MetricThresholds
	tenants  map[string]models.MetricThresholds
	version  string
}

// NewFileStore creates a store and performs the initial load. Load errors
// are logged and leave the built-in defaults in place.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	s := &FileStore{
		path:     path,
		logger:   logger,
		defaults: models.DefaultThresholds(),
		version:  defaultVersion,
	}
	if err := s.Load(); err != nil {
		logger.Warn("load thresholds failed, using defaults", zap.String("path", path), zap.Error(err))
	}
	return s
}

// Load re-reads the file. On a missing file the store holds the built-in
// defaults and nil is returned; on any other failure it holds the built-in
// defaults and the error is returned.
func (s *FileStore) Load() error {
	defaults := models.DefaultThresholds()
	tenants := map[string]models.MetricThresholds{}
	version := defaultVersion

	err := func() error {
		if s.path == "" {
			return nil
		}
		data, err := os.ReadFile(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("read thresholds file: %w", err)
		}

		var ff fileFormat
		if err := yaml.Unmarshal(data, &ff); err != nil {
			return fmt.Errorf("parse thresholds file: %w", err)
		}
		merged := ff.Defaults.apply(models.DefaultThresholds())
		if err := validate("defaults", merged); err != nil {
			return err
		}
		parsed := make(map[string]models.MetricThresholds, len(ff.Tenants))
		for id, o := range ff.Tenants {
			t := o.apply(merged)
			if err := validate("tenant "+id, t); err != nil {
				return err
			}
			parsed[id] = t
		}

		sum := sha256.Sum256(data)
		defaults, tenants, version = merged, parsed, hex.EncodeToString(sum[:6])
		return nil
	}()
	if err != nil {
		defaults = models.DefaultThresholds()
		tenants = map[string]models.MetricThresholds{}
		version = defaultVersion
	}

	s.mu.Lock()
	s.defaults = defaults
	s.tenants = tenants
	s.version = version
	s.mu.Unlock()
	return err
}

// Thresholds returns the tenant's thresholds, or the file defaults when the
// tenant has no overrides. It never fails.
func (s *FileStore) Thresholds(_ context.Context, tenantID string) (models.MetricThresholds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tenants[tenantID]; ok {
		return t, nil
	}
	return s.defaults, nil
}

// Version identifies the loaded file content. It is stable across processes
// reading the same bytes.
func (s *FileStore) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Watch reloads the file whenever it is written or recreated, until ctx is
// cancelled. The parent directory is watched so atomic-rename saves are seen.
func (s *FileStore) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := s.Load(); err != nil {
					s.logger.Warn("reload thresholds failed, using defaults", zap.Error(err))
				} else {
					s.logger.Info("thresholds reloaded", zap.String("version", s.Version()))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("thresholds watcher error", zap.Error(err))
		}
	}
}
