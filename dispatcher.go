package rpckit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/n-car/rpckit/codec"
	"github.com/n-car/rpckit/observability"
)

// Dispatcher validates and routes one request through the pipeline to its handler.
type Dispatcher struct {
	registry  *Registry
	pipeline  *Pipeline
	codec     codec.Codec
	validator Validator
	sanitize  bool
	logger    observability.Logger
}

// NewDispatcher wires a dispatcher. A nil codec means codec.Plain and a nil logger
// discards output.
func NewDispatcher(registry *Registry, pipeline *Pipeline, c codec.Codec, validator Validator, sanitize bool, logger observability.Logger) *Dispatcher {
	if c == nil {
		c = codec.Plain()
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	if pipeline == nil {
		pipeline = NewPipeline()
	}
	return &Dispatcher{
		registry:  registry,
		pipeline:  pipeline,
		codec:     c,
		validator: validator,
		sanitize:  sanitize,
		logger:    logger,
	}
}

// Dispatch always returns a response, even for notifications; callers suppress
// output for those. Panics in middleware or handlers are recovered.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, rc *RequestContext) (resp *Response) {
	if req == nil {
		return newErrorResponse(nil, NewInvalidRequest("request is nil"))
	}
	if rc == nil {
		rc = NewRequestContext()
	}
	rc.Method = req.Method
	rc.ID = req.ID

	ctx, span := observability.StartSpan(ctx, "rpckit.Dispatch", trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
		attribute.String("rpc.jsonrpc.request_id", string(req.ID)),
		attribute.String("rpckit.correlation_id", rc.CorrelationID),
	))
	defer span.End()
	ctx = ContextWithRequest(ctx, rc)

	defer func() {
		if r := recover(); r != nil {
			resp = d.fail(ctx, span, req, rc, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := req.Validate(); err != nil {
		return d.fail(ctx, span, req, rc, err)
	}

	if err := d.pipeline.RunBefore(ctx, req, rc); err != nil {
		return d.fail(ctx, span, req, rc, err)
	}

	method, ok := d.registry.Lookup(req.Method)
	if !ok {
		return d.fail(ctx, span, req, rc, NewMethodNotFound(req.Method))
	}

	params, err := d.decodeParams(req)
	if err != nil {
		return d.fail(ctx, span, req, rc, err)
	}

	if d.validator != nil && d.validator.HasSchema(req.Method) {
		if res := d.validator.Validate(req.Method, params.Value()); !res.Valid {
			return d.fail(ctx, span, req, rc, NewError(CodeInvalidParams, "").WithData(map[string]any{"errors": res.Errors}))
		}
	}

	result, err := method.Handler(ctx, params, rc)
	if err != nil {
		return d.fail(ctx, span, req, rc, err)
	}

	result, err = d.pipeline.RunAfter(ctx, req, rc, result)
	if err != nil {
		return d.fail(ctx, span, req, rc, err)
	}

	encoded, err := d.codec.Encode(result)
	if err != nil {
		return d.fail(ctx, span, req, rc, fmt.Errorf("encode result: %w", err))
	}
	return newResult(req.responseID(), encoded)
}

func (d *Dispatcher) decodeParams(req *Request) (Params, error) {
	if len(req.Params) == 0 || firstByte(req.Params) == 'n' {
		return Params{}, nil
	}
	tree, err := codec.UnmarshalTree(req.Params)
	if err != nil {
		return Params{}, WrapError(CodeInvalidParams, "", err)
	}
	value, err := d.codec.Decode(tree)
	if err != nil {
		return Params{}, WrapError(CodeInvalidParams, "", err)
	}
	return Params{raw: req.Params, value: value}, nil
}

// fail maps err onto the taxonomy, notifies error hooks and logs the failure.
func (d *Dispatcher) fail(ctx context.Context, span trace.Span, req *Request, rc *RequestContext, err error) *Response {
	rpcErr := AsError(err, d.sanitize)
	observability.RecordError(span, err)
	span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", int(rpcErr.Code)))

	d.runErrorHooks(ctx, req, rc, rpcErr)

	log := d.logger.WithFields(map[string]interface{}{
		"method":        req.Method,
		"id":            string(req.ID),
		"correlationID": rc.CorrelationID,
		"code":          int(rpcErr.Code),
	})
	if rpcErr.Code == CodeInternalError {
		log.WithErr(err).Error("Request failed with internal error")
	} else {
		log.Debug("Request failed")
	}

	return newErrorResponse(req.responseID(), rpcErr)
}

func (d *Dispatcher) runErrorHooks(ctx context.Context, req *Request, rc *RequestContext, err *Error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(map[string]interface{}{
				"method": req.Method,
				"panic":  fmt.Sprint(r),
			}).Error("Error hook panicked")
		}
	}()
	d.pipeline.RunOnError(ctx, req, rc, err)
}
