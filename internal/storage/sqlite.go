package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/brokerwatch/internal/metrics"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path      string
	masterKey []byte
	db        *sql.DB

	seen        *sqliteSeenAlertRepo
	resolved    *sqliteResolvedAlertRepo
	preferences *sqlitePreferencesRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// WithMasterKey seals tenant delivery targets at rest with key. It must be
// called before Open.
func (s *SQLiteStorage) WithMasterKey(key []byte) *SQLiteStorage {
	s.masterKey = key
	return s
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.seen = &sqliteSeenAlertRepo{db: db}
	s.resolved = &sqliteResolvedAlertRepo{db: db}
	s.preferences = &sqlitePreferencesRepo{db: db, masterKey: s.masterKey}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// SeenAlerts returns the seen-alert repository.
func (s *SQLiteStorage) SeenAlerts() SeenAlertRepository {
	return s.seen
}

// ResolvedAlerts returns the resolved-alert repository.
func (s *SQLiteStorage) ResolvedAlerts() ResolvedAlertRepository {
	return s.resolved
}

// Preferences returns the notification preferences repository.
func (s *SQLiteStorage) Preferences() PreferencesRepository {
	return s.preferences
}

// Times are stored as unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func observe(op, backend string, start time.Time) {
	metrics.StorageQueryDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}
