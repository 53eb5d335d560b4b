package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

type sqliteSeenAlertRepo struct {
	db *sql.DB
}

const seenAlertColumns = `id, tenant_id, server_id, fingerprint, severity, category,
	source_type, source_name, vhost, title, description,
	first_seen_at, last_seen_at, resolved_at, last_notified_at`

func (r *sqliteSeenAlertRepo) ListByServer(ctx context.Context, tenantID, serverID string) ([]*models.SeenAlert, error) {
	defer observe("list_seen", "sqlite", time.Now())
	query := `SELECT ` + seenAlertColumns + `
		FROM seen_alerts WHERE tenant_id = ? AND server_id = ?
		ORDER BY first_seen_at, fingerprint`
	rows, err := r.db.QueryContext(ctx, query, tenantID, serverID)
	if err != nil {
		return nil, fmt.Errorf("query seen alerts: %w", err)
	}
	defer rows.Close()
	return r.scanAlerts(rows)
}

func (r *sqliteSeenAlertRepo) ListActive(ctx context.Context, tenantID, serverID string) ([]*models.SeenAlert, error) {
	defer observe("list_active_seen", "sqlite", time.Now())
	query := `SELECT ` + seenAlertColumns + `
		FROM seen_alerts WHERE tenant_id = ? AND server_id = ? AND resolved_at IS NULL
		ORDER BY first_seen_at, fingerprint`
	rows, err := r.db.QueryContext(ctx, query, tenantID, serverID)
	if err != nil {
		return nil, fmt.Errorf("query active seen alerts: %w", err)
	}
	defer rows.Close()
	return r.scanAlerts(rows)
}

func (r *sqliteSeenAlertRepo) Create(ctx context.Context, a *models.SeenAlert) (bool, error) {
	defer observe("create_seen", "sqlite", time.Now())
	query := `
		INSERT INTO seen_alerts (` + seenAlertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, server_id, fingerprint) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		a.ID, a.TenantID, a.ServerID, a.Fingerprint, string(a.Severity), string(a.Category),
		string(a.SourceType), a.SourceName, a.VHost, a.Title, a.Description,
		toMillis(a.FirstSeenAt), toMillis(a.LastSeenAt), nullMillis(a.ResolvedAt), nullMillis(a.LastNotifiedAt),
	)
	if err != nil {
		return false, fmt.Errorf("create seen alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create seen alert: %w", err)
	}
	return n == 1, nil
}

func (r *sqliteSeenAlertRepo) Touch(ctx context.Context, tenantID, serverID, fingerprint string, upd models.SeenUpdate) error {
	defer observe("touch_seen", "sqlite", time.Now())
	query := `
		UPDATE seen_alerts
		SET severity = ?, title = ?, description = ?, last_seen_at = ?, resolved_at = NULL
		WHERE tenant_id = ? AND server_id = ? AND fingerprint = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(upd.Severity), upd.Title, upd.Description, toMillis(upd.LastSeenAt),
		tenantID, serverID, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("touch seen alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch seen alert: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteSeenAlertRepo) Resolve(ctx context.Context, tenantID, serverID, fingerprint string, at time.Time) (bool, error) {
	defer observe("resolve_seen", "sqlite", time.Now())
	query := `
		UPDATE seen_alerts SET resolved_at = ?
		WHERE tenant_id = ? AND server_id = ? AND fingerprint = ? AND resolved_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, toMillis(at), tenantID, serverID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("resolve seen alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve seen alert: %w", err)
	}
	return n == 1, nil
}

func (r *sqliteSeenAlertRepo) MarkNotified(ctx context.Context, tenantID, serverID string, fingerprints []string, at time.Time) (int64, error) {
	if len(fingerprints) == 0 {
		return 0, nil
	}
	defer observe("mark_notified", "sqlite", time.Now())

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fingerprints)), ", ")
	query := `UPDATE seen_alerts SET last_notified_at = ?
		WHERE tenant_id = ? AND server_id = ? AND fingerprint IN (` + placeholders + `)`

	args := make([]any, 0, len(fingerprints)+3)
	args = append(args, toMillis(at), tenantID, serverID)
	for _, fp := range fingerprints {
		args = append(args, fp)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark seen alerts notified: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteSeenAlertRepo) scanAlerts(rows *sql.Rows) ([]*models.SeenAlert, error) {
	var alerts []*models.SeenAlert
	for rows.Next() {
		a := &models.SeenAlert{}
		var (
			severity, category, sourceType string
			firstSeen, lastSeen            int64
			resolvedAt, lastNotified       sql.NullInt64
		)
		err := rows.Scan(&a.ID, &a.TenantID, &a.ServerID, &a.Fingerprint, &severity, &category,
			&sourceType, &a.SourceName, &a.VHost, &a.Title, &a.Description,
			&firstSeen, &lastSeen, &resolvedAt, &lastNotified)
		if err != nil {
			return nil, fmt.Errorf("scan seen alert: %w", err)
		}
		a.Severity = models.Severity(severity)
		a.Category = models.Category(category)
		a.SourceType = models.SourceType(sourceType)
		a.FirstSeenAt = fromMillis(firstSeen)
		a.LastSeenAt = fromMillis(lastSeen)
		a.ResolvedAt = timePtr(resolvedAt)
		a.LastNotifiedAt = timePtr(lastNotified)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
