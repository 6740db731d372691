package middleware

import (
	"context"
	"time"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/observability"
)

// RequestContext value keys written by Timing.
const (
	StartKey    = "timing.start"
	DurationKey = "timing.duration"
)

// Timing measures every call and warns about calls slower than a threshold. It
// records the time.Duration of each call under DurationKey.
type Timing struct {
	threshold time.Duration
	logger    observability.Logger
	now       func() time.Time
}

// NewTiming creates the middleware. A zero threshold disables slow call warnings.
func NewTiming(threshold time.Duration, logger observability.Logger) *Timing {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Timing{threshold: threshold, logger: logger, now: time.Now}
}

func (t *Timing) Before(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext) error {
	rc.Set(StartKey, t.now())
	return nil
}

func (t *Timing) After(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext, result any) (any, error) {
	t.record(ctx, req, rc)
	return result, nil
}

func (t *Timing) OnError(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext, err *rpckit.Error) {
	t.record(ctx, req, rc)
}

func (t *Timing) record(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext) {
	v, ok := rc.Get(StartKey)
	if !ok {
		// failures before our Before hook ran
		return
	}
	start, _ := v.(time.Time)
	d := t.now().Sub(start)
	rc.Set(DurationKey, d)

	if t.threshold > 0 && d > t.threshold {
		t.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"method":        req.Method,
			"correlationID": rc.CorrelationID,
			"duration":      d.String(),
			"threshold":     t.threshold.String(),
		}).Warn("Slow RPC call")
	}
}

// DurationOf returns the duration Timing recorded on rc.
func DurationOf(rc *rpckit.RequestContext) (time.Duration, bool) {
	v, ok := rc.Get(DurationKey)
	if !ok {
		return 0, false
	}
	d, ok := v.(time.Duration)
	return d, ok
}
