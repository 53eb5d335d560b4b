package alerting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
)

// memSeenRepo is an in-memory SeenAlertRepository with error injection.
type memSeenRepo struct {
	mu         sync.Mutex
	rows       map[string]*models.SeenAlert
	listErr    error
	createErr  error
	touchErr   error
	resolveErr error
	// createLoses makes Create report a concurrent insert.
	createLoses bool
	touches     int
}

func newMemSeenRepo() *memSeenRepo {
	return &memSeenRepo{rows: make(map[string]*models.SeenAlert)}
}

func (m *memSeenRepo) ListByServer(_ context.Context, tenantID, serverID string) ([]*models.SeenAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.SeenAlert
	for _, r := range m.rows {
		if r.TenantID == tenantID && r.ServerID == serverID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSeenRepo) ListActive(ctx context.Context, tenantID, serverID string) ([]*models.SeenAlert, error) {
	all, err := m.ListByServer(ctx, tenantID, serverID)
	if err != nil {
		return nil, err
	}
	var out []*models.SeenAlert
	for _, r := range all {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSeenRepo) Create(_ context.Context, a *models.SeenAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return false, m.createErr
	}
	if m.createLoses {
		return false, nil
	}
	if _, ok := m.rows[a.Fingerprint]; ok {
		return false, nil
	}
	cp := *a
	m.rows[a.Fingerprint] = &cp
	return true, nil
}

func (m *memSeenRepo) Touch(_ context.Context, _, _, fp string, upd models.SeenUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if m.touchErr != nil {
		return m.touchErr
	}
	r, ok := m.rows[fp]
	if !ok {
		return storage.ErrNotFound
	}
	r.Severity = upd.Severity
	r.Title = upd.Title
	r.Description = upd.Description
	r.LastSeenAt = upd.LastSeenAt
	r.ResolvedAt = nil
	return nil
}

func (m *memSeenRepo) Resolve(_ context.Context, _, _, fp string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return false, m.resolveErr
	}
	r, ok := m.rows[fp]
	if !ok || r.ResolvedAt != nil {
		return false, nil
	}
	r.ResolvedAt = &at
	return true, nil
}

func (m *memSeenRepo) MarkNotified(_ context.Context, _, _ string, fps []string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, fp := range fps {
		if r, ok := m.rows[fp]; ok {
			r.LastNotifiedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memSeenRepo) get(fp string) *models.SeenAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[fp]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// memResolvedRepo records resolution snapshots.
type memResolvedRepo struct {
	mu   sync.Mutex
	rows []*models.ResolvedAlert
	err  error
}

func (m *memResolvedRepo) Create(_ context.Context, r *models.ResolvedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *memResolvedRepo) ListByServer(_ context.Context, _, _ string, _, _ int) ([]*models.ResolvedAlert, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows, int64(len(m.rows)), nil
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func nodeAlert(name string, sev models.Severity, cat models.Category) models.Alert {
	return models.Alert{
		Fingerprint: Fingerprint("srv-1", cat, models.SourceNode, name, ""),
		Severity:    sev,
		Category:    cat,
		Title:       "node " + string(cat),
		Source:      models.Source{Type: models.SourceNode, Name: name},
	}
}

func queueAlert(name, vhost string, sev models.Severity) models.Alert {
	return models.Alert{
		Fingerprint: Fingerprint("srv-1", models.CategoryQueue, models.SourceQueue, name, vhost),
		Severity:    sev,
		Category:    models.CategoryQueue,
		Title:       "queue backlog",
		Source:      models.Source{Type: models.SourceQueue, Name: name},
		VHost:       vhost,
	}
}

func trackAt(tr *Tracker, now time.Time, alerts ...models.Alert) TrackResult {
	return tr.Track(context.Background(), TrackRequest{
		TenantID: "acme",
		ServerID: "srv-1",
		Alerts:   alerts,
		Scope:    FullScope(),
		Now:      now,
	})
}

func TestTrackerNewConditionNotifies(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityCritical, models.CategoryMemory)

	res := trackAt(tr, t0, a)

	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Notifiable, 1)
	assert.Equal(t, a.Fingerprint, res.Notifiable[0].Fingerprint)

	rec := seen.get(a.Fingerprint)
	require.NotNil(t, rec)
	assert.Equal(t, t0, rec.FirstSeenAt)
	assert.Equal(t, t0, rec.LastSeenAt)
	assert.Nil(t, rec.ResolvedAt)
	assert.Empty(t, rec.VHost)
}

func TestTrackerActiveWithinCooldownDoesNotRenotify(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityWarning, models.CategoryMemory)

	trackAt(tr, t0, a)
	_, _ = seen.MarkNotified(context.Background(), "acme", "srv-1", []string{a.Fingerprint}, t0)

	res := trackAt(tr, t0.Add(6*24*time.Hour), a)
	assert.Equal(t, 1, res.Refreshed)
	assert.Empty(t, res.Notifiable)
	assert.Equal(t, t0.Add(6*24*time.Hour), seen.get(a.Fingerprint).LastSeenAt)
}

func TestTrackerCooldownElapsedFromLastNotified(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityWarning, models.CategoryMemory)

	trackAt(tr, t0, a)
	notifiedAt := t0.Add(2 * 24 * time.Hour)
	_, _ = seen.MarkNotified(context.Background(), "acme", "srv-1", []string{a.Fingerprint}, notifiedAt)

	// Eight days after first seen but only six after the last notification.
	res := trackAt(tr, t0.Add(8*24*time.Hour), a)
	assert.Empty(t, res.Notifiable)

	res = trackAt(tr, notifiedAt.Add(7*24*time.Hour+time.Second), a)
	assert.Len(t, res.Notifiable, 1)
}

func TestTrackerCooldownBoundaryIsExclusive(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityWarning, models.CategoryMemory)

	trackAt(tr, t0, a)
	_, _ = seen.MarkNotified(context.Background(), "acme", "srv-1", []string{a.Fingerprint}, t0)

	res := trackAt(tr, t0.Add(DefaultCooldown), a)
	assert.Empty(t, res.Notifiable)
}

func TestTrackerNeverNotifiedMeasuresFromFirstSeen(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityCritical, models.CategoryDisk)

	// Created at T0 but the notification never went out.
	trackAt(tr, t0, a)
	trackAt(tr, t0.Add(24*time.Hour), a)

	res := trackAt(tr, t0.Add(8*24*time.Hour), a)
	require.Len(t, res.Notifiable, 1)
	assert.Equal(t, 1, res.Refreshed)
}

func TestTrackerResolveAndReactivate(t *testing.T) {
	seen := newMemSeenRepo()
	resolved := &memResolvedRepo{}
	tr := NewTracker(seen, resolved, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityCritical, models.CategoryNode)

	trackAt(tr, t0, a)
	_, _ = seen.MarkNotified(context.Background(), "acme", "srv-1", []string{a.Fingerprint}, t0)

	res := trackAt(tr, t0.Add(90*time.Minute))
	assert.Equal(t, 1, res.Resolved)
	require.Len(t, resolved.rows, 1)
	snap := resolved.rows[0]
	assert.Equal(t, a.Fingerprint, snap.Fingerprint)
	assert.Equal(t, 90*time.Minute, snap.Duration)
	assert.Equal(t, t0, snap.FirstSeenAt)
	assert.NotEmpty(t, snap.ID)
	require.NotNil(t, seen.get(a.Fingerprint).ResolvedAt)

	// A second empty pass does not resolve again.
	res = trackAt(tr, t0.Add(2*time.Hour))
	assert.Zero(t, res.Resolved)
	assert.Len(t, resolved.rows, 1)

	// Reactivation within the cooldown still notifies.
	res = trackAt(tr, t0.Add(3*time.Hour), a)
	assert.Equal(t, 1, res.Reactivated)
	assert.Len(t, res.Notifiable, 1)
	assert.Nil(t, seen.get(a.Fingerprint).ResolvedAt)
}

func TestTrackerSeverityGatesNotifyOnly(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	info := queueAlert("old", "/", models.SeverityInfo)

	res := tr.Track(context.Background(), TrackRequest{
		TenantID:   "acme",
		ServerID:   "srv-1",
		Alerts:     []models.Alert{info},
		Severities: models.NewSeveritySet(models.SeverityCritical),
		Scope:      FullScope(),
		Now:        t0,
	})

	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Notifiable)
	rec := seen.get(info.Fingerprint)
	require.NotNil(t, rec)
	assert.Equal(t, "/", rec.VHost)
}

func TestTrackerCollapsesSharedFingerprint(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})

	warn := queueAlert("orders", "/", models.SeverityWarning)
	crit := queueAlert("orders", "/", models.SeverityCritical)
	crit.Title = "critical backlog"

	res := trackAt(tr, t0, warn, crit)

	assert.Equal(t, 1, res.Created)
	assert.Len(t, res.Notifiable, 2)
	rec := seen.get(warn.Fingerprint)
	require.NotNil(t, rec)
	assert.Equal(t, models.SeverityCritical, rec.Severity)
	assert.Equal(t, "critical backlog", rec.Title)
}

func TestTrackerSeverityRefreshed(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})
	a := nodeAlert("rabbit@n1", models.SeverityWarning, models.CategoryMemory)

	trackAt(tr, t0, a)
	a.Severity = models.SeverityCritical
	trackAt(tr, t0.Add(time.Minute), a)

	assert.Equal(t, models.SeverityCritical, seen.get(a.Fingerprint).Severity)
}

func TestTrackerVHostScopedResolution(t *testing.T) {
	seen := newMemSeenRepo()
	resolved := &memResolvedRepo{}
	tr := NewTracker(seen, resolved, TrackerOptions{})

	node := nodeAlert("rabbit@n1", models.SeverityCritical, models.CategoryMemory)
	qa := queueAlert("orders", "a", models.SeverityWarning)
	qab := queueAlert("orders", "ab", models.SeverityWarning)
	trackAt(tr, t0, node, qa, qab)

	// Pass scoped to vhost "a" sees none of its queues and no node issue.
	res := tr.Track(context.Background(), TrackRequest{
		TenantID: "acme",
		ServerID: "srv-1",
		Scope:    TrackScope{VHost: "a", NodesObserved: true, QueuesObserved: true},
		Now:      t0.Add(time.Hour),
	})

	assert.Equal(t, 2, res.Resolved)
	assert.NotNil(t, seen.get(node.Fingerprint).ResolvedAt, "node conditions resolve in a vhost-scoped pass")
	assert.NotNil(t, seen.get(qa.Fingerprint).ResolvedAt)
	assert.Nil(t, seen.get(qab.Fingerprint).ResolvedAt, "vhost ab is outside the scope")
}

func TestTrackerUnobservedSourceNotResolved(t *testing.T) {
	seen := newMemSeenRepo()
	tr := NewTracker(seen, &memResolvedRepo{}, TrackerOptions{})

	node := nodeAlert("rabbit@n1", models.SeverityCritical, models.CategoryMemory)
	q := queueAlert("orders", "/", models.SeverityWarning)
	trackAt(tr, t0, node, q)

	// Queue fetch failed this pass.
	res := tr.Track(context.Background(), TrackRequest{
		TenantID: "acme",
		ServerID: "srv-1",
		Scope:    TrackScope{NodesObserved: true},
		Now:      t0.Add(time.Hour),
	})

	assert.Equal(t, 1, res.Resolved)
	assert.NotNil(t, seen.get(node.Fingerprint).ResolvedAt)
	assert.Nil(t, seen.get(q.Fingerprint).ResolvedAt)
}

func TestTrackerStorageFailures(t *testing.T) {
	t.Run("list failure aborts pass", func(t *testing.T) {
		seen := newMemSeenRepo()
		seen.listErr = errors.New("disk I/O error")
		res := trackAt(NewTracker(seen, nil, TrackerOptions{}), t0, nodeAlert("n", models.SeverityCritical, models.CategoryNode))

		assert.Equal(t, 1, res.Errors)
		assert.Empty(t, res.Notifiable)
	})

	t.Run("create failure skips notify and continues", func(t *testing.T) {
		seen := newMemSeenRepo()
		seen.createErr = errors.New("constraint failed")
		tr := NewTracker(seen, nil, TrackerOptions{})

		res := trackAt(tr, t0,
			nodeAlert("n1", models.SeverityCritical, models.CategoryNode),
			nodeAlert("n2", models.SeverityCritical, models.CategoryNode))
		assert.Equal(t, 2, res.Errors)
		assert.Empty(t, res.Notifiable)
	})

	t.Run("lost create race refreshes without notifying", func(t *testing.T) {
		seen := newMemSeenRepo()
		seen.createLoses = true
		res := trackAt(NewTracker(seen, nil, TrackerOptions{}), t0, nodeAlert("n", models.SeverityCritical, models.CategoryNode))

		assert.Zero(t, res.Created)
		assert.Equal(t, 1, res.Refreshed)
		assert.Empty(t, res.Notifiable)
		assert.Equal(t, 1, seen.touches)
	})

	t.Run("reactivation failure skips notify", func(t *testing.T) {
		seen := newMemSeenRepo()
		tr := NewTracker(seen, nil, TrackerOptions{})
		a := nodeAlert("n", models.SeverityCritical, models.CategoryNode)
		trackAt(tr, t0, a)
		trackAt(tr, t0.Add(time.Hour))

		seen.touchErr = errors.New("database is locked")
		res := trackAt(tr, t0.Add(2*time.Hour), a)
		assert.Equal(t, 1, res.Errors)
		assert.Empty(t, res.Notifiable)
	})

	t.Run("refresh failure still evaluates cooldown", func(t *testing.T) {
		seen := newMemSeenRepo()
		tr := NewTracker(seen, nil, TrackerOptions{})
		a := nodeAlert("n", models.SeverityCritical, models.CategoryNode)
		trackAt(tr, t0, a)

		seen.touchErr = errors.New("database is locked")
		res := trackAt(tr, t0.Add(8*24*time.Hour), a)
		assert.Equal(t, 1, res.Errors)
		assert.Len(t, res.Notifiable, 1)
	})

	t.Run("resolved snapshot failure does not block resolution", func(t *testing.T) {
		seen := newMemSeenRepo()
		resolved := &memResolvedRepo{err: errors.New("clickhouse unavailable")}
		tr := NewTracker(seen, resolved, TrackerOptions{})
		a := nodeAlert("n", models.SeverityCritical, models.CategoryNode)
		trackAt(tr, t0, a)

		res := trackAt(tr, t0.Add(time.Hour))
		assert.Equal(t, 1, res.Resolved)
		assert.Zero(t, res.Errors)
		assert.NotNil(t, seen.get(a.Fingerprint).ResolvedAt)
	})

	t.Run("resolve failure counted", func(t *testing.T) {
		seen := newMemSeenRepo()
		tr := NewTracker(seen, nil, TrackerOptions{})
		trackAt(tr, t0, nodeAlert("n", models.SeverityCritical, models.CategoryNode))

		seen.resolveErr = errors.New("database is locked")
		res := trackAt(tr, t0.Add(time.Hour))
		assert.Equal(t, 1, res.Errors)
		assert.Zero(t, res.Resolved)
	})
}

func TestTrackerCustomCooldown(t *testing.T) {
	tr := NewTracker(newMemSeenRepo(), nil, TrackerOptions{Cooldown: time.Hour})
	assert.Equal(t, time.Hour, tr.Cooldown())
	assert.Equal(t, DefaultCooldown, NewTracker(newMemSeenRepo(), nil, TrackerOptions{}).Cooldown())
}

// TestTrackerWithSQLite runs the cooldown scenario against the real store.
func TestTrackerWithSQLite(t *testing.T) {
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "brokerwatch.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	tr := NewTracker(store.SeenAlerts(), store.ResolvedAlerts(), TrackerOptions{})
	a := queueAlert("orders", "/", models.SeverityWarning)

	res := trackAt(tr, t0, a)
	require.Len(t, res.Notifiable, 1)

	res = trackAt(tr, t0.Add(24*time.Hour), a)
	assert.Empty(t, res.Notifiable)

	res = trackAt(tr, t0.Add(8*24*time.Hour), a)
	assert.Len(t, res.Notifiable, 1)

	res = trackAt(tr, t0.Add(9*24*time.Hour))
	assert.Equal(t, 1, res.Resolved)

	history, total, err := store.ResolvedAlerts().ListByServer(context.Background(), "acme", "srv-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, history, 1)
	assert.Equal(t, 9*24*time.Hour, history[0].Duration)
	assert.Equal(t, "/", history[0].VHost)
}
