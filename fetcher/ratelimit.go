package fetcher

import (
	"context"
	"sync"
	"time"
)

// Class separates the two request families the API throttles
// differently.
type Class string

const (
	ClassListing Class = "listing"
	ClassDetail  Class = "detail"
)

// Limiter enforces a minimum spacing between consecutive requests of the
// same class. Classes do not affect each other. Callers are granted
// slots in the order they ask for them; the wait itself happens outside
// the lock so a sleeping caller never blocks the next reservation.
type Limiter struct {
	mu   sync.Mutex
	next map[Class]time.Time

	interval map[Class]time.Duration
	jitter   map[Class]time.Duration
}

// NewLimiter builds a limiter with per-class minimum delays. The detail
// class additionally gets a random jitter of up to 10% of its interval
// (at least 10ms) on every slot, so detail traffic never settles into a
// fixed cadence.
func NewLimiter(listing, detail time.Duration) *Limiter {
	detailJitter := detail / 10
	if detailJitter < 10*time.Millisecond {
		detailJitter = 10 * time.Millisecond
	}
	if detail <= 0 {
		detailJitter = 0
	}
	return &Limiter{
		next: make(map[Class]time.Time),
		interval: map[Class]time.Duration{
			ClassListing: listing,
			ClassDetail:  detail,
		},
		jitter: map[Class]time.Duration{
			ClassListing: 0,
			ClassDetail:  detailJitter,
		},
	}
}

// Wait blocks until the caller's slot for class arrives or ctx is done.
// A zero-interval class returns immediately.
func (l *Limiter) Wait(ctx context.Context, class Class) error {
	interval := l.interval[class]
	jitter := l.jitter[class]
	if interval <= 0 && jitter <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	grant := l.next[class]
	if grant.Before(now) {
		grant = now
	}
	step := interval
	if jitter > 0 {
		step += time.Duration(randInt63n(int64(jitter)))
	}
	l.next[class] = grant.Add(step)
	l.mu.Unlock()

	wait := grant.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
