package alerting

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	calls  atomic.Int32
	cancel context.CancelFunc
	stopAt int32
}

func (r *countingRunner) Track(ctx context.Context, req PassRequest) *TrackOutcome {
	if n := r.calls.Add(1); n >= r.stopAt && r.cancel != nil {
		r.cancel()
	}
	return &TrackOutcome{Result: NewResult(nil)}
}

func TestNewPollerValidation(t *testing.T) {
	src := &fakeSource{}
	tests := []struct {
		name     string
		req      PassRequest
		interval time.Duration
		wantErr  bool
	}{
		{"valid", PassRequest{Source: src}, time.Second, false},
		{"zero interval", PassRequest{Source: src}, 0, true},
		{"negative interval", PassRequest{Source: src}, -time.Second, true},
		{"no source", PassRequest{}, time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoller(&countingRunner{}, tt.req, tt.interval, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPoller() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPollerRunsImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner := &countingRunner{cancel: cancel, stopAt: 3}
	p, err := NewPoller(runner, PassRequest{Source: &fakeSource{}}, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := runner.calls.Load(); got != 3 {
		t.Errorf("passes = %d, want 3", got)
	}
}

func TestPollerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &countingRunner{}
	p, err := NewPoller(runner, PassRequest{Source: &fakeSource{}}, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := runner.calls.Load(); got != 1 {
		t.Errorf("passes = %d, want 1 initial pass", got)
	}
}
