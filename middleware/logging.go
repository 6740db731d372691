package middleware

import (
	"context"
	"time"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/observability"
)

const loggingStartKey = "logging.start"

// Logging logs each call as it arrives, completes or fails.
type Logging struct {
	logger observability.Logger
}

func NewLogging(logger observability.Logger) *Logging {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Logging{logger: logger}
}

func (l *Logging) fields(req *rpckit.Request, rc *rpckit.RequestContext) map[string]interface{} {
	f := map[string]interface{}{
		"method":        req.Method,
		"correlationID": rc.CorrelationID,
	}
	if req.HasID() {
		f["id"] = string(req.ID)
	}
	if rc.RemoteAddr != "" {
		f["remoteAddr"] = rc.RemoteAddr
	}
	if rc.UserID != "" {
		f["userID"] = rc.UserID
	}
	if v, ok := rc.Get(loggingStartKey); ok {
		if start, ok := v.(time.Time); ok {
			f["duration"] = time.Since(start).String()
		}
	}
	return f
}

func (l *Logging) Before(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext) error {
	l.logger.WithContext(ctx).WithFields(l.fields(req, rc)).Debug("RPC call received")
	rc.Set(loggingStartKey, time.Now())
	return nil
}

func (l *Logging) After(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext, result any) (any, error) {
	l.logger.WithContext(ctx).WithFields(l.fields(req, rc)).Info("RPC call completed")
	return result, nil
}

func (l *Logging) OnError(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext, err *rpckit.Error) {
	f := l.fields(req, rc)
	f["code"] = int(err.Code)
	l.logger.WithContext(ctx).WithFields(f).WithErr(err).Warn("RPC call failed")
}
