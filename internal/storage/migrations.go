package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- One row per logical condition; never deleted
			CREATE TABLE IF NOT EXISTS seen_alerts (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				server_id TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				severity TEXT NOT NULL,
				category TEXT NOT NULL,
				source_type TEXT NOT NULL,
				source_name TEXT NOT NULL,
				vhost TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				first_seen_at INTEGER NOT NULL,
				last_seen_at INTEGER NOT NULL,
				resolved_at INTEGER,
				last_notified_at INTEGER,
				UNIQUE (tenant_id, server_id, fingerprint)
			);

			-- Append-only resolution history
			CREATE TABLE IF NOT EXISTS resolved_alerts (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				server_id TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				severity TEXT NOT NULL,
				category TEXT NOT NULL,
				source_type TEXT NOT NULL,
				source_name TEXT NOT NULL,
				vhost TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				first_seen_at INTEGER NOT NULL,
				resolved_at INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_seen_alerts_active ON seen_alerts(tenant_id, server_id, resolved_at);
			CREATE INDEX IF NOT EXISTS idx_resolved_alerts_server ON resolved_alerts(tenant_id, server_id, resolved_at DESC);
		`,
	},
	{
		Version: 2,
		Name:    "notification_preferences",
		Up: `
			-- NULL severities means all; NULL server_ids means all servers
			CREATE TABLE IF NOT EXISTS notification_preferences (
				tenant_id TEXT PRIMARY KEY,
				channels_json TEXT NOT NULL DEFAULT '[]',
				severities_json TEXT,
				server_ids_json TEXT,
				email_recipients_json TEXT NOT NULL DEFAULT '[]',
				webhooks_json TEXT NOT NULL DEFAULT '[]',
				chats_json TEXT NOT NULL DEFAULT '[]',
				updated_at INTEGER NOT NULL
			);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, toMillis(time.Now()),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
