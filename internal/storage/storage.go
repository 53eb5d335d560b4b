// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	SeenAlerts() SeenAlertRepository
	ResolvedAlerts() ResolvedAlertRepository
	Preferences() PreferencesRepository
}

// SeenAlertRepository persists alert lifecycle records. Every method is
// scoped to one tenant and server; fingerprints are unique within that scope.
type SeenAlertRepository interface {
	// ListByServer returns active and resolved records.
	ListByServer(ctx context.Context, tenantID, serverID string) ([]*models.SeenAlert, error)
	// ListActive returns records with no resolved_at.
	ListActive(ctx context.Context, tenantID, serverID string) ([]*models.SeenAlert, error)
	// Create inserts a new record. It returns false without error when the
	// fingerprint already exists.
	Create(ctx context.Context, alert *models.SeenAlert) (bool, error)
	// Touch refreshes a present condition and clears resolved_at.
	Touch(ctx context.Context, tenantID, serverID, fingerprint string, upd models.SeenUpdate) error
	// Resolve sets resolved_at on an active record. It returns false when the
	// record was already resolved or missing.
	Resolve(ctx context.Context, tenantID, serverID, fingerprint string, at time.Time) (bool, error)
	// MarkNotified records a successful notification for the fingerprints.
	MarkNotified(ctx context.Context, tenantID, serverID string, fingerprints []string, at time.Time) (int64, error)
}

// ResolvedAlertRepository is the append-only resolution history.
type ResolvedAlertRepository interface {
	Create(ctx context.Context, resolved *models.ResolvedAlert) error
	ListByServer(ctx context.Context, tenantID, serverID string, limit, offset int) ([]*models.ResolvedAlert, int64, error)
}

// PreferencesRepository stores tenant notification preferences.
type PreferencesRepository interface {
	// Get returns ErrNotFound when the tenant has no stored preferences.
	Get(ctx context.Context, tenantID string) (*models.NotificationPreferences, error)
	Upsert(ctx context.Context, prefs *models.NotificationPreferences) error
}
