package middleware

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/observability"
)

func TestTiming_RecordsDuration(t *testing.T) {
	clock := newFakeClock()
	var buf bytes.Buffer
	timing := NewTiming(100*time.Millisecond, observability.NewWriterLogger(&buf))
	timing.now = clock.now

	req := &rpckit.Request{Method: "fast"}
	rc := rpckit.NewRequestContext()

	require.NoError(t, timing.Before(context.Background(), req, rc))
	clock.advance(20 * time.Millisecond)
	result, err := timing.After(context.Background(), req, rc, "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	d, ok := DurationOf(rc)
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, d)
	assert.Empty(t, buf.String())
}

func TestTiming_WarnsOnSlowCalls(t *testing.T) {
	clock := newFakeClock()
	var buf bytes.Buffer
	timing := NewTiming(100*time.Millisecond, observability.NewWriterLogger(&buf))
	timing.now = clock.now

	req := &rpckit.Request{Method: "slow"}
	rc := rpckit.NewRequestContext()

	require.NoError(t, timing.Before(context.Background(), req, rc))
	clock.advance(250 * time.Millisecond)
	timing.OnError(context.Background(), req, rc, rpckit.NewServerError("late"))

	d, ok := DurationOf(rc)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)
	assert.Contains(t, buf.String(), "[WARN] Slow RPC call")
	assert.Contains(t, buf.String(), "method=slow")
}

func TestTiming_ErrorBeforeStart(t *testing.T) {
	timing := NewTiming(0, nil)
	rc := rpckit.NewRequestContext()
	timing.OnError(context.Background(), &rpckit.Request{Method: "m"}, rc, rpckit.NewAuthenticationError(""))
	_, ok := DurationOf(rc)
	assert.False(t, ok)
}

func TestLogging_ThroughEngine(t *testing.T) {
	var buf bytes.Buffer
	e, err := rpckit.New(rpckit.WithLogger(nil))
	require.NoError(t, err)
	e.Use(NewLogging(observability.NewWriterLogger(&buf)))

	require.NoError(t, e.Register("ok", func(ctx context.Context, params rpckit.Params, rc *rpckit.RequestContext) (any, error) {
		return true, nil
	}))

	e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ok","id":1}`), nil)
	e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"missing","id":2}`), nil)

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] RPC call received")
	assert.Contains(t, out, "[INFO] RPC call completed")
	assert.Contains(t, out, "[WARN] RPC call failed")
	assert.Contains(t, out, "code=-32601")
}
