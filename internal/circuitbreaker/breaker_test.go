package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.Timeout = 50 * time.Millisecond

	b := New("test", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func() error { return errors.New("remote down") }); err == nil {
			t.Fatal("expected error")
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	if err := b.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("half-open probe failed: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after recovery, got %s", b.State())
	}
}

func TestBreakerHalfOpenLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.MaxRequests = 1
	cfg.SuccessThreshold = 5
	cfg.Timeout = 20 * time.Millisecond

	b := New("test", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errors.New("fail") })
	time.Sleep(40 * time.Millisecond)

	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func() error { <-release; return nil })
	}()
	time.Sleep(10 * time.Millisecond)

	if err := b.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}
	close(release)
}

func TestBreakerCounts(t *testing.T) {
	b := New("test", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return nil })
	_ = b.Execute(ctx, func() error { return errors.New("fail") })
	_ = b.Execute(ctx, func() error { return nil })

	c := b.Counts()
	if c.Requests != 3 || c.TotalSuccesses != 2 || c.TotalFailures != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}
}
