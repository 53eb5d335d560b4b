package storage

import (
	"testing"
	"time"
)

// Unit tests (no ClickHouse required)

func TestNewClickHouseArchive_Defaults(t *testing.T) {
	a := NewClickHouseArchive(&ClickHouseConfig{Addresses: []string{"localhost:9000"}})

	if a.config.MaxOpenConns != 5 {
		t.Errorf("expected MaxOpenConns 5, got %d", a.config.MaxOpenConns)
	}
	if a.config.MaxIdleConns != 5 {
		t.Errorf("expected MaxIdleConns 5, got %d", a.config.MaxIdleConns)
	}
	if a.config.DialTimeout != 5*time.Second {
		t.Errorf("expected DialTimeout 5s, got %v", a.config.DialTimeout)
	}
	if a.config.RetentionDays != 365 {
		t.Errorf("expected RetentionDays 365, got %d", a.config.RetentionDays)
	}
}

func TestNewClickHouseArchive_KeepsExplicitValues(t *testing.T) {
	a := NewClickHouseArchive(&ClickHouseConfig{MaxOpenConns: 2, RetentionDays: 30})

	if a.config.MaxOpenConns != 2 {
		t.Errorf("expected MaxOpenConns 2, got %d", a.config.MaxOpenConns)
	}
	if a.config.RetentionDays != 30 {
		t.Errorf("expected RetentionDays 30, got %d", a.config.RetentionDays)
	}
}

func TestClickHouseArchive_CloseUnopened(t *testing.T) {
	a := NewClickHouseArchive(&ClickHouseConfig{})
	if err := a.Close(); err != nil {
		t.Errorf("close unopened archive: %v", err)
	}
}

var _ ResolvedAlertRepository = (*ClickHouseArchive)(nil)
