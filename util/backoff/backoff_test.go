package backoff

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Next(t *testing.T) {
	t.Run("exponential growth", func(t *testing.T) {
		b := New(100*time.Millisecond, time.Second, 2.0)
		want := []time.Duration{100, 200, 400, 800, 1000, 1000}
		for i, w := range want {
			if got := b.Next(); got != w*time.Millisecond {
				t.Errorf("attempt %d: expected %v, got %v", i, w*time.Millisecond, got)
			}
		}
		if b.Attempts() != len(want) {
			t.Errorf("Expected %d attempts, got %d", len(want), b.Attempts())
		}
	})

	t.Run("multiplier below one is treated as constant", func(t *testing.T) {
		b := New(50*time.Millisecond, time.Second, 0.5)
		b.Next()
		if b.CurrentDelay() != 50*time.Millisecond {
			t.Errorf("Expected constant delay, got %v", b.CurrentDelay())
		}
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		b := New(time.Second, time.Second, 1).WithJitter(0.2)
		for i := 0; i < 200; i++ {
			d := b.Next()
			if d < 800*time.Millisecond || d > 1200*time.Millisecond {
				t.Fatalf("jittered delay %v out of range", d)
			}
		}
	})

	t.Run("jitter fraction is clamped", func(t *testing.T) {
		b := New(time.Second, time.Second, 1).WithJitter(5)
		for i := 0; i < 50; i++ {
			if d := b.Next(); d < 0 || d > 2*time.Second {
				t.Fatalf("delay %v out of range", d)
			}
		}
	})
}

func TestBackoff_Reset(t *testing.T) {
	b := New(10*time.Millisecond, time.Second, 3.0)
	b.Next()
	b.Next()
	b.Reset()
	if b.CurrentDelay() != 10*time.Millisecond {
		t.Errorf("Expected initial delay after reset, got %v", b.CurrentDelay())
	}
	if b.Attempts() != 0 {
		t.Errorf("Expected attempts reset, got %d", b.Attempts())
	}
}

func TestBackoff_Wait(t *testing.T) {
	t.Run("waits for the current delay", func(t *testing.T) {
		b := New(50*time.Millisecond, time.Second, 2.0)
		start := time.Now()
		if err := b.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
			t.Errorf("Expected to wait about 50ms, got %v", elapsed)
		}
		if b.CurrentDelay() != 100*time.Millisecond {
			t.Errorf("Expected delay 100ms after wait, got %v", b.CurrentDelay())
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		b := New(time.Hour, time.Hour, 2.0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := b.Wait(ctx); err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}
