package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/security"
)

// sqlitePreferencesRepo seals the webhook and chat columns when a master
// key is set; those carry signing secrets and chat webhook URLs.
type sqlitePreferencesRepo struct {
	db        *sql.DB
	masterKey []byte
}

func (r *sqlitePreferencesRepo) Get(ctx context.Context, tenantID string) (*models.NotificationPreferences, error) {
	defer observe("get_preferences", "sqlite", time.Now())
	query := `
		SELECT tenant_id, channels_json, severities_json, server_ids_json,
			email_recipients_json, webhooks_json, chats_json, updated_at
		FROM notification_preferences WHERE tenant_id = ?
	`
	var (
		p                                 models.NotificationPreferences
		channels, recipients, hooks, chat string
		severities, servers               sql.NullString
		updatedAt                         int64
	)
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&p.TenantID, &channels, &severities, &servers,
		&recipients, &hooks, &chat, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	if err := json.Unmarshal([]byte(channels), &p.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if err := json.Unmarshal([]byte(recipients), &p.EmailRecipients); err != nil {
		return nil, fmt.Errorf("unmarshal email recipients: %w", err)
	}
	if hooks, err = security.Unseal(hooks, r.masterKey); err != nil {
		return nil, fmt.Errorf("unseal webhooks: %w", err)
	}
	if err := json.Unmarshal([]byte(hooks), &p.Webhooks); err != nil {
		return nil, fmt.Errorf("unmarshal webhooks: %w", err)
	}
	if chat, err = security.Unseal(chat, r.masterKey); err != nil {
		return nil, fmt.Errorf("unseal chats: %w", err)
	}
	if err := json.Unmarshal([]byte(chat), &p.Chats); err != nil {
		return nil, fmt.Errorf("unmarshal chats: %w", err)
	}

	// Absent severities means every severity.
	var sevNames []string
	if severities.Valid {
		if err := json.Unmarshal([]byte(severities.String), &sevNames); err != nil {
			return nil, fmt.Errorf("unmarshal severities: %w", err)
		}
	}
	p.Severities = models.ParseSeveritySet(sevNames)

	// Absent server ids means every server.
	p.Servers = models.AllServers()
	if servers.Valid {
		var ids []string
		if err := json.Unmarshal([]byte(servers.String), &ids); err != nil {
			return nil, fmt.Errorf("unmarshal server ids: %w", err)
		}
		if ids != nil {
			p.Servers = models.ServerSubset(ids...)
		}
	}

	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (r *sqlitePreferencesRepo) Upsert(ctx context.Context, p *models.NotificationPreferences) error {
	defer observe("upsert_preferences", "sqlite", time.Now())

	channels, err := jsonArray(p.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	recipients, err := jsonArray(p.EmailRecipients)
	if err != nil {
		return fmt.Errorf("marshal email recipients: %w", err)
	}
	hooks, err := jsonArray(p.Webhooks)
	if err != nil {
		return fmt.Errorf("marshal webhooks: %w", err)
	}
	chat, err := jsonArray(p.Chats)
	if err != nil {
		return fmt.Errorf("marshal chats: %w", err)
	}
	if len(r.masterKey) > 0 {
		if hooks, err = security.Seal(hooks, r.masterKey); err != nil {
			return fmt.Errorf("seal webhooks: %w", err)
		}
		if chat, err = security.Seal(chat, r.masterKey); err != nil {
			return fmt.Errorf("seal chats: %w", err)
		}
	}

	var severities sql.NullString
	if p.Severities != nil {
		b, _ := json.Marshal(p.Severities.Names())
		severities = sql.NullString{String: string(b), Valid: true}
	}
	var servers sql.NullString
	if !p.Servers.IsAll() {
		ids := p.Servers.IDs()
		if ids == nil {
			ids = []string{}
		}
		b, _ := json.Marshal(ids)
		servers = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO notification_preferences (tenant_id, channels_json, severities_json, server_ids_json,
			email_recipients_json, webhooks_json, chats_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			channels_json = excluded.channels_json,
			severities_json = excluded.severities_json,
			server_ids_json = excluded.server_ids_json,
			email_recipients_json = excluded.email_recipients_json,
			webhooks_json = excluded.webhooks_json,
			chats_json = excluded.chats_json,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		p.TenantID, channels, severities, servers,
		recipients, hooks, chat, toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// jsonArray marshals a slice, writing "[]" for nil.
func jsonArray[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
