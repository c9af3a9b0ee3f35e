package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		perSecond int
		jitterMax time.Duration
	}{
		{name: "zero rate falls back to default", perSecond: 0, jitterMax: time.Millisecond},
		{name: "negative rate falls back to default", perSecond: -5, jitterMax: time.Millisecond},
		{name: "zero jitter falls back to default", perSecond: 10, jitterMax: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.perSecond, tt.jitterMax)
			if l.bucket == nil {
				t.Fatal("bucket not initialized")
			}
			if l.jitterMax <= 0 {
				t.Errorf("jitterMax = %v, want > 0", l.jitterMax)
			}
		})
	}
}

func TestLimiter_AdmitsBurst(t *testing.T) {
	l := New(100, time.Nanosecond)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("50 acquisitions at 100/s took %v, want well under 1s", elapsed)
	}
}

// Under sustained concurrent demand exceeding the configured rate, the
// long-run admission rate must not exceed it, and every caller must
// eventually be admitted.
func TestLimiter_RateCeilingUnderConcurrentDemand(t *testing.T) {
	const (
		perSecond = 50
		callers   = 120
	)
	l := New(perSecond, time.Nanosecond)

	ctx := context.Background()
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// 120 callers at 50/s with a burst of 50: the last 70 admissions need
	// at least 70/50 seconds of refill.
	minElapsed := time.Duration(float64(time.Second) * float64(callers-perSecond) / float64(perSecond) * 0.8)
	if elapsed < minElapsed {
		t.Errorf("%d acquisitions finished in %v, want at least %v (rate ceiling violated)", callers, elapsed, minElapsed)
	}
}

func TestLimiter_AcquireCancelledContext(t *testing.T) {
	l := New(1, time.Nanosecond)

	// Drain the burst so the next caller has to wait.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("Acquire() with cancelled context returned nil, want error")
	}
}
