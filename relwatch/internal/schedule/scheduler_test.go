package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_ImmediateThenTicks(t *testing.T) {
	// WHAT: The scheduler runs once on start, then on every tick until cancelled.
	// WHY: A freshly started daemon must not wait a full interval.
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	s := New(func(context.Context) {
		if calls.Add(1) >= 3 {
			cancel()
		}
	}, Config{Interval: time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if calls.Load() < 3 {
		t.Errorf("calls: got %d, want >= 3", calls.Load())
	}
}

func TestRun_SkipInitial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var calls atomic.Int32
	New(func(context.Context) { calls.Add(1) }, Config{Interval: time.Hour, SkipInitial: true}, nil).Run(ctx)
	if calls.Load() != 0 {
		t.Errorf("calls: got %d, want 0", calls.Load())
	}
}

func TestDefaults(t *testing.T) {
	s := New(func(context.Context) {}, Config{}, nil)
	if s.config.Interval != 24*time.Hour {
		t.Errorf("interval: got %v", s.config.Interval)
	}
}
