package rpckit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nParams struct {
	N int `json:"n"`
}

// newBatchEngine registers:
//   - square: returns n*n, sleeping longer for smaller n so parallel runs finish out of order
//   - fail: always fails with ServerError
//   - block: waits for context cancellation
func newBatchEngine(t *testing.T, calls *atomic.Int32) *Engine {
	t.Helper()
	e := newTestEngine(t)
	require.NoError(t, e.Register("square", Typed(func(ctx context.Context, p nParams) (int, error) {
		calls.Add(1)
		time.Sleep(time.Duration(10-p.N) * time.Millisecond)
		return p.N * p.N, nil
	})))
	require.NoError(t, e.Register("fail", func(ctx context.Context, params Params, rc *RequestContext) (any, error) {
		calls.Add(1)
		return nil, NewServerError("failed on purpose")
	}))
	require.NoError(t, e.Register("block", func(ctx context.Context, params Params, rc *RequestContext) (any, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	return e
}

func mustRequest(t *testing.T, method string, params any, id any) *Request {
	t.Helper()
	req, err := NewRequest(method, params, id)
	require.NoError(t, err)
	return req
}

func squares(t *testing.T, n int) []*Request {
	reqs := make([]*Request, n)
	for i := range reqs {
		reqs[i] = mustRequest(t, "square", []int{i}, i)
	}
	return reqs
}

func TestBatch_PreservesOrder(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			var calls atomic.Int32
			e := newBatchEngine(t, &calls)

			opts := DefaultBatchOptions()
			opts.Parallel = parallel
			opts.MaxParallelism = 4

			responses, metrics, err := e.RunBatch(context.Background(), squares(t, 8), nil, opts)
			require.NoError(t, err)
			assert.Nil(t, metrics)
			require.Len(t, responses, 8)

			for i, resp := range responses {
				require.NotNil(t, resp)
				assert.Nil(t, resp.Error)
				assert.Equal(t, i*i, resp.Result)
				assert.JSONEq(t, fmt.Sprint(i), string(resp.ID))
			}
			assert.Equal(t, int32(8), calls.Load())
		})
	}
}

func TestBatch_NotificationSlotsAreNil(t *testing.T) {
	var calls atomic.Int32
	e := newBatchEngine(t, &calls)

	reqs := []*Request{
		mustRequest(t, "square", []int{2}, 1),
		mustRequest(t, "square", []int{3}, nil),
		mustRequest(t, "square", []int{4}, 3),
	}
	responses, _, err := e.RunBatch(context.Background(), reqs, nil, DefaultBatchOptions())
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, 4, responses[0].Result)
	assert.Nil(t, responses[1])
	assert.Equal(t, 16, responses[2].Result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBatch_MaxSize(t *testing.T) {
	var calls atomic.Int32
	e := newBatchEngine(t, &calls)

	opts := DefaultBatchOptions()
	opts.MaxSize = 2

	responses, _, err := e.RunBatch(context.Background(), squares(t, 3), nil, opts)
	assert.Nil(t, responses)
	assert.True(t, HasCode(err, CodeInvalidRequest))
	assert.Equal(t, int32(0), calls.Load())
}

func TestBatch_ContinueOnError(t *testing.T) {
	reqs := func(t *testing.T) []*Request {
		return []*Request{
			mustRequest(t, "square", []int{1}, 1),
			mustRequest(t, "fail", nil, 2),
			mustRequest(t, "square", []int{3}, 3),
		}
	}

	t.Run("continue", func(t *testing.T) {
		var calls atomic.Int32
		e := newBatchEngine(t, &calls)

		responses, _, err := e.RunBatch(context.Background(), reqs(t), nil, DefaultBatchOptions())
		require.NoError(t, err)
		require.Len(t, responses, 3)
		assert.Equal(t, 1, responses[0].Result)
		require.NotNil(t, responses[1].Error)
		assert.Equal(t, CodeServerError, responses[1].Error.Code)
		assert.Equal(t, 9, responses[2].Result)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("abort sequential", func(t *testing.T) {
		var calls atomic.Int32
		e := newBatchEngine(t, &calls)

		opts := DefaultBatchOptions()
		opts.ContinueOnError = false

		responses, _, err := e.RunBatch(context.Background(), reqs(t), nil, opts)
		assert.Nil(t, responses)

		var batchErr *BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 1, batchErr.Index)
		assert.JSONEq(t, `2`, string(batchErr.ID))
		assert.True(t, HasCode(err, CodeServerError))
		assert.Equal(t, int32(2), calls.Load(), "requests after the failure are not dispatched")
	})

	t.Run("abort parallel", func(t *testing.T) {
		var calls atomic.Int32
		e := newBatchEngine(t, &calls)

		opts := DefaultBatchOptions()
		opts.ContinueOnError = false
		opts.Parallel = true

		responses, _, err := e.RunBatch(context.Background(), reqs(t), nil, opts)
		assert.Nil(t, responses)

		var batchErr *BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 1, batchErr.Index)
	})
}

func TestBatch_Timeout(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			var calls atomic.Int32
			e := newBatchEngine(t, &calls)

			opts := DefaultBatchOptions()
			opts.Parallel = parallel
			opts.Timeout = 20 * time.Millisecond

			reqs := []*Request{
				mustRequest(t, "block", nil, 1),
				mustRequest(t, "square", []int{2}, 2),
			}

			start := time.Now()
			responses, _, err := e.RunBatch(context.Background(), reqs, nil, opts)
			assert.Less(t, time.Since(start), time.Second)
			assert.Nil(t, responses)

			var rpcErr *Error
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, CodeServerError, rpcErr.Code)
			assert.Equal(t, "Batch timeout exceeded", rpcErr.Message)
		})
	}
}

func TestBatch_Cancelled(t *testing.T) {
	var calls atomic.Int32
	e := newBatchEngine(t, &calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := e.RunBatch(ctx, squares(t, 2), nil, DefaultBatchOptions())
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "Batch cancelled", rpcErr.Message)
}

func TestBatch_Metrics(t *testing.T) {
	var calls atomic.Int32
	e := newBatchEngine(t, &calls)

	opts := DefaultBatchOptions()
	opts.EnableMetrics = true
	opts.Parallel = true

	reqs := []*Request{
		mustRequest(t, "square", []int{1}, 1),
		mustRequest(t, "fail", nil, 2),
		mustRequest(t, "square", []int{2}, nil),
	}

	_, metrics, err := e.RunBatch(context.Background(), reqs, nil, opts)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	assert.Equal(t, 3, metrics.Total)
	assert.Equal(t, 2, metrics.Succeeded)
	assert.Equal(t, 1, metrics.Failed)
	require.Len(t, metrics.Requests, 3)
	for i, timing := range metrics.Requests {
		assert.Equal(t, i, timing.Index)
	}
	assert.Equal(t, "fail", metrics.Requests[1].Method)
	assert.Equal(t, "failed on purpose", metrics.Requests[1].Error)
	assert.LessOrEqual(t, metrics.MinDuration, metrics.AvgDuration)
	assert.LessOrEqual(t, metrics.AvgDuration, metrics.MaxDuration)
	assert.False(t, metrics.FinishedAt.Before(metrics.StartedAt))
}

func TestBatch_ElementsGetOwnRequestContext(t *testing.T) {
	e := newTestEngine(t)

	var ids [2]string
	require.NoError(t, e.Register("id", Typed(func(ctx context.Context, p nParams) (string, error) {
		rc, _ := RequestFromContext(ctx)
		ids[p.N] = rc.CorrelationID
		return rc.UserID, nil
	})))

	base := NewRequestContext()
	base.UserID = "alice"

	reqs := []*Request{
		mustRequest(t, "id", []int{0}, 1),
		mustRequest(t, "id", []int{1}, 2),
	}
	responses, _, err := e.RunBatch(context.Background(), reqs, base, DefaultBatchOptions())
	require.NoError(t, err)

	assert.Equal(t, "alice", responses[0].Result)
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, base.CorrelationID, ids[0])
}
