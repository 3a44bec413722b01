package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterSpacesSameClass(t *testing.T) {
	l := NewLimiter(50*time.Millisecond, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, ClassListing); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}

	// First grant is immediate, the next two wait a full interval each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("three grants took %v, want at least ~100ms", elapsed)
	}
}

func TestLimiterClassesIndependent(t *testing.T) {
	l := NewLimiter(time.Hour, 0)
	ctx := context.Background()

	if err := l.Wait(ctx, ClassListing); err != nil {
		t.Fatalf("listing wait: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, ClassDetail); err != nil {
		t.Fatalf("detail wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("detail wait blocked %v behind listing slot", elapsed)
	}
}

func TestLimiterDetailKeepsMinimumSpacing(t *testing.T) {
	l := NewLimiter(0, 30*time.Millisecond)
	ctx := context.Background()

	if err := l.Wait(ctx, ClassDetail); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, ClassDetail); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("second grant after %v, want at least the interval", elapsed)
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	l := NewLimiter(time.Hour, 0)

	if err := l.Wait(context.Background(), ClassListing); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx, ClassListing)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}
}
