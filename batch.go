package rpckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/n-car/rpckit/observability"
)

// BatchOptions controls batch execution.
type BatchOptions struct {
	// MaxSize rejects larger batches before any dispatch. Zero disables the limit.
	MaxSize int
	// Parallel dispatches requests concurrently.
	Parallel bool
	// MaxParallelism bounds concurrent dispatches. Zero uses runtime.NumCPU().
	MaxParallelism int
	// ContinueOnError keeps going past failed requests. When false the first
	// failure fails the whole batch and no responses are returned.
	ContinueOnError bool
	// Timeout bounds the whole batch. Zero disables it.
	Timeout time.Duration
	// EnableMetrics collects BatchMetrics.
	EnableMetrics bool
}

// DefaultBatchOptions returns sequential, fault-tolerant execution of up to 100
// requests.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		MaxSize:         100,
		ContinueOnError: true,
	}
}

// RequestTiming is the measurement of one completed batch element.
type RequestTiming struct {
	Index    int             `json:"index"`
	ID       json.RawMessage `json:"id,omitempty"`
	Method   string          `json:"method"`
	Duration time.Duration   `json:"duration"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
}

// BatchMetrics is a finalized, read-only summary of one batch run.
type BatchMetrics struct {
	Total       int             `json:"total"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Duration    time.Duration   `json:"duration"`
	MinDuration time.Duration   `json:"minDuration"`
	AvgDuration time.Duration   `json:"avgDuration"`
	MaxDuration time.Duration   `json:"maxDuration"`
	Requests    []RequestTiming `json:"requests"`
}

// BatchError reports the request that aborted a batch.
type BatchError struct {
	Index int
	ID    json.RawMessage
	Err   *Error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch aborted at request %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// DispatchFunc dispatches one request.
type DispatchFunc func(ctx context.Context, req *Request, rc *RequestContext) *Response

// BatchExecutor fans batches out to a DispatchFunc.
type BatchExecutor struct {
	dispatch DispatchFunc
	logger   observability.Logger
}

func NewBatchExecutor(dispatch DispatchFunc, logger observability.Logger) *BatchExecutor {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &BatchExecutor{dispatch: dispatch, logger: logger}
}

type batchOutcome struct {
	responses []*Response
	err       error
}

// Run executes reqs and returns responses aligned index for index with reqs.
// Notification slots are nil. Each element runs with its own clone of base.
// Metrics are returned when enabled, also for failed batches.
func (b *BatchExecutor) Run(ctx context.Context, reqs []*Request, base *RequestContext, opts BatchOptions) ([]*Response, *BatchMetrics, error) {
	if opts.MaxSize > 0 && len(reqs) > opts.MaxSize {
		return nil, nil, NewInvalidRequest("batch too large").WithData(map[string]int{
			"size":    len(reqs),
			"maxSize": opts.MaxSize,
		})
	}
	if base == nil {
		base = NewRequestContext()
	}

	ctx, span := observability.StartSpan(ctx, "rpckit.Batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rpckit.batch.size", len(reqs)),
		attribute.Bool("rpckit.batch.parallel", opts.Parallel),
	)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	log := b.logger.WithFields(map[string]interface{}{
		"correlationID": base.CorrelationID,
		"size":          len(reqs),
		"parallel":      opts.Parallel,
	})
	log.Info("Batch started")

	rec := newMetricsRecorder(opts.EnableMetrics)
	done := make(chan batchOutcome, 1)
	go func() {
		var out batchOutcome
		if opts.Parallel {
			out.responses, out.err = b.runParallel(ctx, reqs, base, opts, rec)
		} else {
			out.responses, out.err = b.runSequential(ctx, reqs, base, opts, rec)
		}
		done <- out
	}()

	var outcome batchOutcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		outcome = batchOutcome{err: ctxError(ctx, opts.Timeout)}
	}

	metrics := rec.finish()
	fields := map[string]interface{}{}
	if metrics != nil {
		fields["succeeded"] = metrics.Succeeded
		fields["failed"] = metrics.Failed
		fields["duration"] = metrics.Duration.String()
	}
	if outcome.err != nil {
		observability.RecordError(span, outcome.err)
		log.WithFields(fields).WithErr(outcome.err).Warn("Batch aborted")
		return nil, metrics, outcome.err
	}

	log.WithFields(fields).Info("Batch finished")
	return outcome.responses, metrics, nil
}

func ctxError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return WrapError(CodeServerError, "Batch timeout exceeded", ctx.Err()).
			WithData(map[string]string{"timeout": timeout.String()})
	}
	return WrapError(CodeServerError, "Batch cancelled", ctx.Err())
}

func (b *BatchExecutor) runSequential(ctx context.Context, reqs []*Request, base *RequestContext, opts BatchOptions, rec *metricsRecorder) ([]*Response, error) {
	out := make([]*Response, len(reqs))
	for i, req := range reqs {
		if ctx.Err() != nil {
			return nil, ctxError(ctx, opts.Timeout)
		}
		resp, failure := b.runOne(ctx, i, req, base, rec)
		if failure != nil && !opts.ContinueOnError {
			return nil, &BatchError{Index: i, ID: req.responseID(), Err: failure}
		}
		out[i] = resp
	}
	return out, nil
}

func (b *BatchExecutor) runParallel(ctx context.Context, reqs []*Request, base *RequestContext, opts BatchOptions, rec *metricsRecorder) ([]*Response, error) {
	limit := opts.MaxParallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	out := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			if gctx.Err() != nil {
				// aborted by an earlier failure or the batch deadline
				return nil
			}
			resp, failure := b.runOne(gctx, i, req, base, rec)
			if failure != nil && !opts.ContinueOnError {
				return &BatchError{Index: i, ID: req.responseID(), Err: failure}
			}
			out[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctxError(ctx, opts.Timeout)
	}
	return out, nil
}

// runOne dispatches one element. A panic escaping the dispatcher is turned into an
// InternalError response so the slot is never dropped.
func (b *BatchExecutor) runOne(ctx context.Context, i int, req *Request, base *RequestContext, rec *metricsRecorder) (*Response, *Error) {
	rc := base.Clone()
	start := time.Now()

	var resp *Response
	func() {
		defer func() {
			if r := recover(); r != nil {
				resp = newErrorResponse(req.responseID(), NewInternalError(fmt.Errorf("panic: %v", r)))
			}
		}()
		resp = b.dispatch(ctx, req, rc)
	}()
	if resp == nil {
		resp = newErrorResponse(req.responseID(), NewInternalError(errors.New("dispatcher returned no response")))
	}

	var failure *Error
	if resp.Error != nil {
		failure = resp.Error
	}
	rec.record(i, req, time.Since(start), failure)

	if req.IsNotification() {
		return nil, failure
	}
	return resp, failure
}

type metricsRecorder struct {
	enabled bool
	started time.Time

	mu      sync.Mutex
	timings []RequestTiming
}

func newMetricsRecorder(enabled bool) *metricsRecorder {
	return &metricsRecorder{enabled: enabled, started: time.Now()}
}

func (r *metricsRecorder) record(i int, req *Request, d time.Duration, failure *Error) {
	if !r.enabled {
		return
	}
	t := RequestTiming{
		Index:    i,
		ID:       req.ID,
		Method:   req.Method,
		Duration: d,
		Success:  failure == nil,
	}
	if failure != nil {
		t.Error = failure.Message
	}

	r.mu.Lock()
	r.timings = append(r.timings, t)
	r.mu.Unlock()
}

// finish aggregates the requests that completed so far.
func (r *metricsRecorder) finish() *BatchMetrics {
	if !r.enabled {
		return nil
	}
	end := time.Now()

	r.mu.Lock()
	timings := make([]RequestTiming, len(r.timings))
	copy(timings, r.timings)
	r.mu.Unlock()

	sort.Slice(timings, func(a, b int) bool { return timings[a].Index < timings[b].Index })

	m := &BatchMetrics{
		Total:      len(timings),
		StartedAt:  r.started,
		FinishedAt: end,
		Duration:   end.Sub(r.started),
		Requests:   timings,
	}
	var sum time.Duration
	for i, t := range timings {
		if t.Success {
			m.Succeeded++
		} else {
			m.Failed++
		}
		sum += t.Duration
		if i == 0 || t.Duration < m.MinDuration {
			m.MinDuration = t.Duration
		}
		if t.Duration > m.MaxDuration {
			m.MaxDuration = t.Duration
		}
	}
	if len(timings) > 0 {
		m.AvgDuration = sum / time.Duration(len(timings))
	}
	return m
}
