package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/n-car/rpckit"
)

// AnonymousKey is the rate limit key of callers with neither a user id nor a
// remote address.
const AnonymousKey = "anonymous"

// Limiter admits or rejects one call for a key.
type Limiter interface {
	// Admit records a call for key, or returns a RateLimitExceeded error.
	Admit(key string) error
}

// KeyFunc derives the rate limit key of a call.
type KeyFunc func(rc *rpckit.RequestContext) string

// DefaultKey uses the user id, else the remote address, else AnonymousKey.
func DefaultKey(rc *rpckit.RequestContext) string {
	switch {
	case rc == nil:
		return AnonymousKey
	case rc.UserID != "":
		return "user:" + rc.UserID
	case rc.RemoteAddr != "":
		return "addr:" + rc.RemoteAddr
	default:
		return AnonymousKey
	}
}

// RateLimit returns a before hook admitting calls through limiter. A nil key
// function means DefaultKey.
func RateLimit(limiter Limiter, key KeyFunc) rpckit.BeforeHook {
	if key == nil {
		key = DefaultKey
	}
	return rpckit.BeforeFunc(func(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext) error {
		return limiter.Admit(key(rc))
	})
}

// SlidingWindow admits at most max calls per key within any window of the given
// length. Timestamps of admitted calls are kept per key.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:    max,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Admit prunes expired timestamps for key, compares the remainder against the
// limit and records the call when admitted. The three steps run under one lock.
func (s *SlidingWindow) Admit(key string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.prune(key, now)
	if len(live) >= s.max {
		retryAfter := s.window
		if len(live) > 0 {
			retryAfter -= now.Sub(live[0])
		}
		return rpckit.NewRateLimitExceeded("").WithData(map[string]any{
			"limit":      s.max,
			"window":     s.window.String(),
			"retryAfter": retryAfter.String(),
		})
	}
	s.hits[key] = append(live, now)
	return nil
}

// Remaining returns how many calls key may still make in the current window.
func (s *SlidingWindow) Remaining(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	left := s.max - len(s.prune(key, s.now()))
	if left < 0 {
		return 0
	}
	return left
}

// Reset forgets all calls recorded for key.
func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
}

// Cleanup drops keys without calls in the current window and returns how many
// were removed. Run it periodically on long-lived limiters.
func (s *SlidingWindow) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.hits {
		if len(s.prune(key, now)) == 0 {
			delete(s.hits, key)
			removed++
		}
	}
	return removed
}

// prune must be called with mu held.
func (s *SlidingWindow) prune(key string, now time.Time) []time.Time {
	ts := s.hits[key]
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= s.window {
		i++
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
		s.hits[key] = ts
	}
	return ts
}

// TokenBucket admits calls through a per-key token bucket: rate r with burst.
type TokenBucket struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewTokenBucket(r rate.Limit, burst int) *TokenBucket {
	return &TokenBucket{
		limit:    r,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Admit takes one token from the bucket of key.
func (b *TokenBucket) Admit(key string) error {
	if b.limiterFor(key).AllowN(b.now(), 1) {
		return nil
	}
	return rpckit.NewRateLimitExceeded("").WithData(map[string]any{
		"limit": float64(b.limit),
		"burst": b.burst,
	})
}

// Reset forgets the bucket of key.
func (b *TokenBucket) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.limiters, key)
}

func (b *TokenBucket) limiterFor(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(b.limit, b.burst)
		b.limiters[key] = l
	}
	return l
}
