package middleware

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/n-car/rpckit"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func withClock(s *SlidingWindow, c *fakeClock) *SlidingWindow {
	s.now = c.now
	return s
}

func TestSlidingWindow_TwoPerMinute(t *testing.T) {
	clock := newFakeClock()
	limiter := withClock(NewSlidingWindow(2, 60*time.Second), clock)

	require.NoError(t, limiter.Admit("alice"))
	clock.advance(10 * time.Second)
	require.NoError(t, limiter.Admit("alice"))
	clock.advance(10 * time.Second)

	err := limiter.Admit("alice")
	require.Error(t, err)
	assert.True(t, rpckit.HasCode(err, rpckit.CodeRateLimitExceeded))

	// other keys are independent
	assert.NoError(t, limiter.Admit("bob"))

	// the first call leaves the window 60s after it was made
	clock.advance(40 * time.Second)
	assert.NoError(t, limiter.Admit("alice"))
	assert.Error(t, limiter.Admit("alice"))
}

func TestSlidingWindow_RejectionsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	limiter := withClock(NewSlidingWindow(1, time.Second), clock)

	require.NoError(t, limiter.Admit("k"))
	for i := 0; i < 5; i++ {
		assert.Error(t, limiter.Admit("k"))
	}
	clock.advance(time.Second)
	assert.NoError(t, limiter.Admit("k"))
}

func TestSlidingWindow_RemainingResetCleanup(t *testing.T) {
	clock := newFakeClock()
	limiter := withClock(NewSlidingWindow(3, time.Minute), clock)

	assert.Equal(t, 3, limiter.Remaining("k"))
	require.NoError(t, limiter.Admit("k"))
	require.NoError(t, limiter.Admit("other"))
	assert.Equal(t, 2, limiter.Remaining("k"))

	limiter.Reset("k")
	assert.Equal(t, 3, limiter.Remaining("k"))

	clock.advance(2 * time.Minute)
	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 0, limiter.Cleanup())
}

func TestSlidingWindow_ZeroLimitRejects(t *testing.T) {
	limiter := NewSlidingWindow(0, time.Minute)
	assert.Error(t, limiter.Admit("k"))
}

func TestSlidingWindow_ConcurrentAdmission(t *testing.T) {
	limiter := NewSlidingWindow(50, time.Hour)

	var admitted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 200; i++ {
		g.Go(func() error {
			if limiter.Admit("shared") == nil {
				admitted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(50), admitted.Load())
}

func TestTokenBucket(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(rate.Every(time.Second), 2)
	bucket.now = clock.now

	require.NoError(t, bucket.Admit("k"))
	require.NoError(t, bucket.Admit("k"))
	err := bucket.Admit("k")
	assert.True(t, rpckit.HasCode(err, rpckit.CodeRateLimitExceeded))

	clock.advance(time.Second)
	assert.NoError(t, bucket.Admit("k"))

	bucket.Reset("k")
	assert.NoError(t, bucket.Admit("k"))
}

func TestDefaultKey(t *testing.T) {
	tests := []struct {
		name     string
		rc       *rpckit.RequestContext
		expected string
	}{
		{name: "nil", rc: nil, expected: AnonymousKey},
		{name: "anonymous", rc: &rpckit.RequestContext{}, expected: AnonymousKey},
		{name: "remote address", rc: &rpckit.RequestContext{RemoteAddr: "10.0.0.1"}, expected: "addr:10.0.0.1"},
		{name: "user wins", rc: &rpckit.RequestContext{RemoteAddr: "10.0.0.1", UserID: "u1"}, expected: "user:u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultKey(tt.rc))
		})
	}
}

func TestRateLimit_ThroughEngine(t *testing.T) {
	e, err := rpckit.New(rpckit.WithLogger(nil))
	require.NoError(t, err)
	require.NoError(t, e.Register("ping", func(ctx context.Context, params rpckit.Params, rc *rpckit.RequestContext) (any, error) {
		return "pong", nil
	}))
	e.AddBefore(RateLimit(NewSlidingWindow(2, 60*time.Second), nil))

	call := func() []byte {
		rc := rpckit.NewRequestContext()
		rc.RemoteAddr = "192.0.2.1"
		return e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`), rc)
	}

	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"pong","id":1}`, string(call()))
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"pong","id":1}`, string(call()))

	var resp rpckit.Response
	require.NoError(t, json.Unmarshal(call(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpckit.CodeRateLimitExceeded, resp.Error.Code)
	assert.Equal(t, "Rate limit exceeded", resp.Error.Message)
}
