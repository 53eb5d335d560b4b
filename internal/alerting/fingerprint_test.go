package alerting

import (
	"testing"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name       string
		category   models.Category
		sourceType models.SourceType
		source     string
		vhost      string
		want       string
	}{
		{"node", models.CategoryMemory, models.SourceNode, "rabbit@n1", "", "srv-1-memory-node-rabbit@n1"},
		{"node ignores vhost", models.CategoryMemory, models.SourceNode, "rabbit@n1", "/prod", "srv-1-memory-node-rabbit@n1"},
		{"cluster ignores vhost", models.CategoryNode, models.SourceCluster, "main", "/prod", "srv-1-node-cluster-main"},
		{"queue without vhost", models.CategoryQueue, models.SourceQueue, "orders", "", "srv-1-queue-queue-orders"},
		{"queue with vhost", models.CategoryQueue, models.SourceQueue, "orders", "/", "srv-1-queue-queue-/-orders"},
		{"queue with named vhost", models.CategoryPerformance, models.SourceQueue, "orders", "prod", "srv-1-performance-queue-prod-orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint("srv-1", tt.category, tt.sourceType, tt.source, tt.vhost)
			if got != tt.want {
				t.Errorf("Fingerprint() = %q, want %q", got, tt.want)
			}
			if again := Fingerprint("srv-1", tt.category, tt.sourceType, tt.source, tt.vhost); again != got {
				t.Errorf("Fingerprint() not deterministic: %q vs %q", got, again)
			}
		})
	}
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	base := Fingerprint("srv-1", models.CategoryQueue, models.SourceQueue, "orders", "a")

	variants := map[string]string{
		"server":   Fingerprint("srv-2", models.CategoryQueue, models.SourceQueue, "orders", "a"),
		"category": Fingerprint("srv-1", models.CategoryPerformance, models.SourceQueue, "orders", "a"),
		"source":   Fingerprint("srv-1", models.CategoryQueue, models.SourceQueue, "payments", "a"),
		"vhost":    Fingerprint("srv-1", models.CategoryQueue, models.SourceQueue, "orders", "ab"),
	}
	for name, fp := range variants {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint (%q)", name, fp)
		}
	}
}

func TestFingerprintKeyMatchesAlert(t *testing.T) {
	a := &models.Alert{
		Category: models.CategoryQueue,
		Source:   models.Source{Type: models.SourceQueue, Name: "orders"},
		VHost:    "prod",
	}
	key := KeyOf("srv-1", a)
	if got, want := key.String(), Fingerprint("srv-1", models.CategoryQueue, models.SourceQueue, "orders", "prod"); got != want {
		t.Errorf("KeyOf().String() = %q, want %q", got, want)
	}
}

func TestAlertIDUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := AlertID("srv-1", models.CategoryMemory, "rabbit@n1", now)
		if seen[id] {
			t.Fatalf("duplicate alert id %q", id)
		}
		seen[id] = true
	}
}
