package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

type sqliteResolvedAlertRepo struct {
	db *sql.DB
}

func (r *sqliteResolvedAlertRepo) Create(ctx context.Context, h *models.ResolvedAlert) error {
	defer observe("create_resolved", "sqlite", time.Now())
	query := `
		INSERT INTO resolved_alerts (id, tenant_id, server_id, fingerprint, severity, category,
			source_type, source_name, vhost, title, description,
			first_seen_at, resolved_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		h.ID, h.TenantID, h.ServerID, h.Fingerprint, string(h.Severity), string(h.Category),
		string(h.SourceType), h.SourceName, h.VHost, h.Title, h.Description,
		toMillis(h.FirstSeenAt), toMillis(h.ResolvedAt), h.DurationMillis(),
	)
	if err != nil {
		return fmt.Errorf("create resolved alert: %w", err)
	}
	return nil
}

func (r *sqliteResolvedAlertRepo) ListByServer(ctx context.Context, tenantID, serverID string, limit, offset int) ([]*models.ResolvedAlert, int64, error) {
	defer observe("list_resolved", "sqlite", time.Now())
	var total int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM resolved_alerts WHERE tenant_id = ? AND server_id = ?",
		tenantID, serverID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count resolved alerts: %w", err)
	}

	query := `
		SELECT id, tenant_id, server_id, fingerprint, severity, category,
			source_type, source_name, vhost, title, description,
			first_seen_at, resolved_at, duration_ms
		FROM resolved_alerts WHERE tenant_id = ? AND server_id = ?
		ORDER BY resolved_at DESC, id LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, serverID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query resolved alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.ResolvedAlert
	for rows.Next() {
		h := &models.ResolvedAlert{}
		var (
			severity, category, sourceType  string
			firstSeen, resolvedAt, duration int64
		)
		err := rows.Scan(&h.ID, &h.TenantID, &h.ServerID, &h.Fingerprint, &severity, &category,
			&sourceType, &h.SourceName, &h.VHost, &h.Title, &h.Description,
			&firstSeen, &resolvedAt, &duration)
		if err != nil {
			return nil, 0, fmt.Errorf("scan resolved alert: %w", err)
		}
		h.Severity = models.Severity(severity)
		h.Category = models.Category(category)
		h.SourceType = models.SourceType(sourceType)
		h.FirstSeenAt = fromMillis(firstSeen)
		h.ResolvedAt = fromMillis(resolvedAt)
		h.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, h)
	}
	return out, total, rows.Err()
}
