package rpckit

import (
	"context"
	"sync"
)

// BeforeHook runs before the handler. A returned error aborts the call.
type BeforeHook interface {
	Before(ctx context.Context, req *Request, rc *RequestContext) error
}

// AfterHook runs after a successful handler and may replace the result.
type AfterHook interface {
	After(ctx context.Context, req *Request, rc *RequestContext, result any) (any, error)
}

// ErrorHook observes failed calls. It runs for failures raised anywhere in the
// dispatch path and cannot alter the error.
type ErrorHook interface {
	OnError(ctx context.Context, req *Request, rc *RequestContext, err *Error)
}

// Middleware has both a before and an after step.
type Middleware interface {
	BeforeHook
	AfterHook
}

// BeforeFunc adapts a function to BeforeHook.
type BeforeFunc func(ctx context.Context, req *Request, rc *RequestContext) error

func (f BeforeFunc) Before(ctx context.Context, req *Request, rc *RequestContext) error {
	return f(ctx, req, rc)
}

// AfterFunc adapts a function to AfterHook.
type AfterFunc func(ctx context.Context, req *Request, rc *RequestContext, result any) (any, error)

func (f AfterFunc) After(ctx context.Context, req *Request, rc *RequestContext, result any) (any, error) {
	return f(ctx, req, rc, result)
}

// Pipeline holds the hooks run around every dispatch. Before hooks run in
// registration order; after and error hooks run in reverse registration order.
type Pipeline struct {
	mu      sync.RWMutex
	before  []BeforeHook
	after   []AfterHook
	onError []ErrorHook
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

func (p *Pipeline) AddBefore(h BeforeHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = append(p.before, h)
}

func (p *Pipeline) AddAfter(h AfterHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.after = append(p.after, h)
}

func (p *Pipeline) AddErrorHook(h ErrorHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = append(p.onError, h)
}

// Use registers m as both a before and an after hook, and as an error hook when it
// implements ErrorHook.
func (p *Pipeline) Use(m Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = append(p.before, m)
	p.after = append(p.after, m)
	if eh, ok := m.(ErrorHook); ok {
		p.onError = append(p.onError, eh)
	}
}

// RunBefore runs the before hooks in order and stops at the first failure.
func (p *Pipeline) RunBefore(ctx context.Context, req *Request, rc *RequestContext) error {
	p.mu.RLock()
	hooks := p.before
	p.mu.RUnlock()

	for _, h := range hooks {
		if err := h.Before(ctx, req, rc); err != nil {
			return err
		}
	}
	return nil
}

// RunAfter runs the after hooks in reverse order, threading the result through
// them, and stops at the first failure.
func (p *Pipeline) RunAfter(ctx context.Context, req *Request, rc *RequestContext, result any) (any, error) {
	p.mu.RLock()
	hooks := p.after
	p.mu.RUnlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		var err error
		result, err = hooks[i].After(ctx, req, rc, result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RunOnError notifies every error hook in reverse order.
func (p *Pipeline) RunOnError(ctx context.Context, req *Request, rc *RequestContext, err *Error) {
	p.mu.RLock()
	hooks := p.onError
	p.mu.RUnlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].OnError(ctx, req, rc, err)
	}
}

// Counts returns the number of before, after and error hooks.
func (p *Pipeline) Counts() (before, after, onError int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.before), len(p.after), len(p.onError)
}
