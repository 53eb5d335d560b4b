package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// FingerprintKey is the typed identity of one logical condition.
// The string form is derived only where it is persisted.
type FingerprintKey struct {
	ServerID   string
	Category   models.Category
	SourceType models.SourceType
	SourceName string
	// VHost is embedded only for queue sources.
	VHost string
}

// String renders the storage form of the key.
//
//	serverId-category-sourceType-sourceName          (node, cluster, queue without vhost)
//	serverId-category-sourceType-vhost-sourceName    (queue with vhost)
func (k FingerprintKey) String() string {
	parts := []string{k.ServerID, string(k.Category), string(k.SourceType)}
	if k.SourceType == models.SourceQueue && k.VHost != "" {
		parts = append(parts, k.VHost)
	}
	parts = append(parts, k.SourceName)
	return strings.Join(parts, "-")
}

// Fingerprint returns the stable identity string for a condition.
// vhost is ignored unless sourceType is queue.
func Fingerprint(serverID string, category models.Category, sourceType models.SourceType, sourceName, vhost string) string {
	return FingerprintKey{
		ServerID:   serverID,
		Category:   category,
		SourceType: sourceType,
		SourceName: sourceName,
		VHost:      vhost,
	}.String()
}

// KeyOf returns the fingerprint key of an alert.
func KeyOf(serverID string, a *models.Alert) FingerprintKey {
	return FingerprintKey{
		ServerID:   serverID,
		Category:   a.Category,
		SourceType: a.Source.Type,
		SourceName: a.Source.Name,
		VHost:      a.VHost,
	}
}

// AlertID returns a display key that is unique per call. It must never be
// used for persistence.
func AlertID(serverID string, category models.Category, sourceName string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%d-%s", serverID, category, sourceName, now.UnixMilli(), uuid.NewString()[:8])
}
