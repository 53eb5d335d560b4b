package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for resolved alert history.
	RetentionDays int
}

// ClickHouseArchive is a ResolvedAlertRepository backed by ClickHouse, for
// deployments that keep long resolution history.
type ClickHouseArchive struct {
	config *ClickHouseConfig
	db     *sql.DB
}

// NewClickHouseArchive creates a new ClickHouse archive.
func NewClickHouseArchive(config *ClickHouseConfig) *ClickHouseArchive {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 365
	}

	return &ClickHouseArchive{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseArchive) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *ClickHouseArchive) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the resolved_alerts table if it doesn't exist.
func (s *ClickHouseArchive) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS resolved_alerts (
			id UUID,
			tenant_id LowCardinality(String),
			server_id LowCardinality(String),
			fingerprint String,
			severity LowCardinality(String),
			category LowCardinality(String),
			source_type LowCardinality(String),
			source_name String,
			vhost String,
			title String,
			description String,
			first_seen_at DateTime64(3, 'UTC'),
			resolved_at DateTime64(3, 'UTC'),
			duration_ms Int64,
			_date Date DEFAULT toDate(resolved_at)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (tenant_id, server_id, resolved_at, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create resolved_alerts table: %w", err)
	}
	return nil
}

// Ping checks the connection health.
func (s *ClickHouseArchive) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create appends one resolution snapshot.
func (s *ClickHouseArchive) Create(ctx context.Context, h *models.ResolvedAlert) error {
	defer observe("create_resolved", "clickhouse", time.Now())
	id := h.ID
	if id == "" {
		id = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolved_alerts (
			id, tenant_id, server_id, fingerprint, severity, category,
			source_type, source_name, vhost, title, description,
			first_seen_at, resolved_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id, h.TenantID, h.ServerID, h.Fingerprint, string(h.Severity), string(h.Category),
		string(h.SourceType), h.SourceName, h.VHost, h.Title, h.Description,
		h.FirstSeenAt.UTC(), h.ResolvedAt.UTC(), h.DurationMillis(),
	)
	if err != nil {
		return fmt.Errorf("insert resolved alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByServer returns resolution history, most recent first.
func (s *ClickHouseArchive) ListByServer(ctx context.Context, tenantID, serverID string, limit, offset int) ([]*models.ResolvedAlert, int64, error) {
	defer observe("list_resolved", "clickhouse", time.Now())
	var total uint64
	err := s.db.QueryRowContext(ctx,
		"SELECT count() FROM resolved_alerts WHERE tenant_id = ? AND server_id = ?",
		tenantID, serverID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count resolved alerts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT toString(id), tenant_id, server_id, fingerprint, severity, category,
			source_type, source_name, vhost, title, description,
			first_seen_at, resolved_at, duration_ms
		FROM resolved_alerts WHERE tenant_id = ? AND server_id = ?
		ORDER BY resolved_at DESC, id LIMIT ? OFFSET ?
	`, tenantID, serverID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query resolved alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.ResolvedAlert
	for rows.Next() {
		h := &models.ResolvedAlert{}
		var (
			severity, category, sourceType string
			duration                       int64
		)
		err := rows.Scan(&h.ID, &h.TenantID, &h.ServerID, &h.Fingerprint, &severity, &category,
			&sourceType, &h.SourceName, &h.VHost, &h.Title, &h.Description,
			&h.FirstSeenAt, &h.ResolvedAt, &duration)
		if err != nil {
			return nil, 0, fmt.Errorf("scan resolved alert: %w", err)
		}
		h.Severity = models.Severity(severity)
		h.Category = models.Category(category)
		h.SourceType = models.SourceType(sourceType)
		h.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, h)
	}
	return out, int64(total), rows.Err()
}
