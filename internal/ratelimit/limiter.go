// Package ratelimit throttles run submissions per client.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

// Local keeps one token bucket per subject in process memory. It is used
// when the API runs without Redis.
type Local struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	capacity int
	every    rate.Limit
	now      func() time.Time
}

var _ Limiter = (*Local)(nil)

// NewLocal allows capacity requests per window for each subject.
func NewLocal(capacity int, window time.Duration) (*Local, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	return &Local{
		buckets:  make(map[string]*rate.Limiter),
		capacity: capacity,
		every:    rate.Limit(float64(capacity) / window.Seconds()),
		now:      time.Now,
	}, nil
}

func (l *Local) Allow(_ context.Context, subject string) (Decision, error) {
	subject = normalizeSubject(subject)

	l.mu.Lock()
	bucket, ok := l.buckets[subject]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.capacity)
		l.buckets[subject] = bucket
	}
	l.mu.Unlock()

	now := l.now()
	r := bucket.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int64(bucket.TokensAt(now))}, nil
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}
