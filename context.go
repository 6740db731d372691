package rpckit

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known RequestContext value keys.
const (
	// MetricsKey holds the *BatchMetrics of the last batch handled with this context.
	MetricsKey = "rpckit.batch.metrics"
)

// RequestContext carries the caller facts a transport knows about a call, plus the
// facts middleware establishes along the way. Handlers and middleware read these
// fields directly instead of probing an opaque object.
type RequestContext struct {
	// CorrelationID identifies the call in logs. It is generated when empty.
	CorrelationID string
	// Method and ID mirror the request being dispatched.
	Method string
	ID     json.RawMessage

	RemoteAddr string
	Headers    http.Header
	// Token is the raw credential presented by the caller, e.g. a bearer token.
	Token string
	// UserID and Principal are set by authentication middleware.
	UserID    string
	Principal any

	ReceivedAt time.Time

	mu     sync.RWMutex
	values map[string]any
}

// NewRequestContext returns an empty context stamped with a fresh correlation id.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		CorrelationID: uuid.NewString(),
		Headers:       make(http.Header),
		ReceivedAt:    time.Now(),
		values:        make(map[string]any),
	}
}

// Set stores a middleware-defined value.
func (rc *RequestContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.values == nil {
		rc.values = make(map[string]any)
	}
	rc.values[key] = value
}

// Get loads a middleware-defined value.
func (rc *RequestContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// Clone returns an independent copy for one batch element. Each clone gets its own
// correlation id so batch elements can be told apart in logs.
func (rc *RequestContext) Clone() *RequestContext {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	values := make(map[string]any, len(rc.values))
	for k, v := range rc.values {
		values[k] = v
	}
	return &RequestContext{
		CorrelationID: uuid.NewString(),
		Method:        rc.Method,
		ID:            rc.ID,
		RemoteAddr:    rc.RemoteAddr,
		Headers:       rc.Headers.Clone(),
		Token:         rc.Token,
		UserID:        rc.UserID,
		Principal:     rc.Principal,
		ReceivedAt:    rc.ReceivedAt,
		values:        values,
	}
}

type requestContextKey struct{}

// ContextWithRequest attaches rc to ctx.
func ContextWithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext returns the RequestContext attached by the dispatcher.
func RequestFromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}
