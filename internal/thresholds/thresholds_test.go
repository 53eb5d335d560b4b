package thresholds

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

const sampleFile = `
defaults:
  memory:
    warning: 70
  queue_messages:
    warning: 500
    critical: 2000
tenants:
  acme:
    memory:
      critical: 90
  globex:
    disk:
      warning: 30
      critical: 15
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileStore_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, sampleFile)

	s := NewFileStore(path, nil)
	ctx := context.Background()

	def, err := s.Thresholds(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, models.Threshold{Warning: 70, Critical: 95}, def.Memory)
	assert.Equal(t, models.Threshold{Warning: 500, Critical: 2000}, def.QueueMessages)
	assert.Equal(t, models.DefaultThresholds().Disk, def.Disk)

	acme, err := s.Thresholds(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.Threshold{Warning: 70, Critical: 90}, acme.Memory)
	assert.Equal(t, models.Threshold{Warning: 500, Critical: 2000}, acme.QueueMessages)

	globex, err := s.Thresholds(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, models.Threshold{Warning: 30, Critical: 15}, globex.Disk)
	assert.Equal(t, models.Threshold{Warning: 70, Critical: 95}, globex.Memory)

	assert.NotEqual(t, defaultVersion, s.Version())
}

func TestFileStore_Fallbacks(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
		wantErr bool
	}{
		{name: "missing file", content: nil},
		{name: "invalid yaml", content: strPtr("defaults: [not a map"), wantErr: true},
		{name: "negative threshold", content: strPtr("defaults:\n  memory:\n    warning: -1\n"), wantErr: true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if tt.content != nil {
				writeFile(t, path, *tt.content)
			}
			s := NewFileStore(path, nil)
			err := s.Load()
			if tt.wantErr {
				assert.Error(t, err, "case %d", i)
			} else {
				assert.NoError(t, err, "case %d", i)
			}
			got, err := s.Thresholds(context.Background(), "acme")
			require.NoError(t, err)
			assert.Equal(t, models.DefaultThresholds(), got)
			assert.Equal(t, defaultVersion, s.Version())
		})
	}
}

func TestFileStore_ParseFailureResetsToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, sampleFile)
	s := NewFileStore(path, nil)

	writeFile(t, path, "tenants: [")
	require.Error(t, s.Load())

	got, _ := s.Thresholds(context.Background(), "acme")
	assert.Equal(t, models.DefaultThresholds(), got)
}

func TestFileStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, "defaults:\n  run_queue:\n    warning: 5\n")
	s := NewFileStore(path, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Rewrite until the watcher has picked the change up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		writeFile(t, path, "defaults:\n  run_queue:\n    warning: 7\n")
		got, _ := s.Thresholds(context.Background(), "any")
		if got.RunQueue.Warning == 7 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not reload thresholds")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

// fakeRedis implements redisClient in memory.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
	sets    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

type countingProvider struct {
	calls   int
	version string
	t       models.MetricThresholds
}

func (p *countingProvider) Thresholds(context.Context, string) (models.MetricThresholds, error) {
	p.calls++
	return p.t, nil
}

func (p *countingProvider) Version() string { return p.version }

func TestRedisCache_ReadThrough(t *testing.T) {
	rc := newFakeRedis()
	th := models.DefaultThresholds()
	th.Memory.Warning = 60
	next := &countingProvider{version: "abc", t: th}
	cache := NewRedisCache(rc, next, RedisOptions{TTL: time.Minute}, nil)
	ctx := context.Background()

	got, err := cache.Thresholds(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, th, got)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, rc.sets)
	assert.Equal(t, time.Minute, rc.ttls["brokerwatch:thresholds:abc:acme"])

	got, err = cache.Thresholds(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, th, got)
	assert.Equal(t, 1, next.calls, "second read should hit the cache")

	var cached models.MetricThresholds
	require.NoError(t, json.Unmarshal([]byte(rc.data["brokerwatch:thresholds:abc:acme"]), &cached))
	assert.Equal(t, th, cached)
}

func TestRedisCache_VersionChangeMisses(t *testing.T) {
	rc := newFakeRedis()
	next := &countingProvider{version: "v1", t: models.DefaultThresholds()}
	cache := NewRedisCache(rc, next, RedisOptions{}, nil)
	ctx := context.Background()

	cache.Thresholds(ctx, "acme")
	next.version = "v2"
	cache.Thresholds(ctx, "acme")
	assert.Equal(t, 2, next.calls)
}

func TestRedisCache_ErrorFallsThrough(t *testing.T) {
	rc := newFakeRedis()
	rc.failGet = errors.New("connection refused")
	next := &countingProvider{t: models.DefaultThresholds()}
	cache := NewRedisCache(rc, next, RedisOptions{}, nil)

	got, err := cache.Thresholds(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultThresholds(), got)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 0, rc.sets, "no write after a failed read")
}

func TestRedisCache_CorruptEntryRefreshed(t *testing.T) {
	rc := newFakeRedis()
	rc.data["brokerwatch:thresholds:v1:acme"] = "{not json"
	next := &countingProvider{version: "v1", t: models.DefaultThresholds()}
	cache := NewRedisCache(rc, next, RedisOptions{}, nil)

	_, err := cache.Thresholds(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, rc.sets)
}

func strPtr(s string) *string { return &s }
