package rpckit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/n-car/rpckit/codec"
	"github.com/n-car/rpckit/observability"
)

const (
	defaultServerName    = "rpckit"
	defaultServerVersion = "0.1.0"
)

// EngineConfig holds everything an Engine is built from.
type EngineConfig struct {
	logger              observability.Logger
	codec               codec.Codec
	validator           Validator
	sanitizeErrors      bool
	batch               BatchOptions
	introspection       bool
	introspectionPrefix string
	serverName          string
	serverVersion       string
	middleware          []Middleware
}

// Option is a function that modifies EngineConfig
type Option func(*EngineConfig)

// WithLogger sets the logger used for initialization, batch and failure logs.
func WithLogger(logger Logger) Option {
	return func(c *EngineConfig) {
		c.logger = logger
	}
}

// WithCodec selects the serialization strategy.
func WithCodec(c codec.Codec) Option {
	return func(cfg *EngineConfig) {
		cfg.codec = c
	}
}

// WithSafeMode selects codec.Safe when enabled and codec.Plain otherwise.
func WithSafeMode(enabled bool) Option {
	return func(c *EngineConfig) {
		if enabled {
			c.codec = codec.Safe()
		} else {
			c.codec = codec.Plain()
		}
	}
}

// WithSanitizeErrors hides the message of untyped handler errors from clients.
func WithSanitizeErrors(enabled bool) Option {
	return func(c *EngineConfig) {
		c.sanitizeErrors = enabled
	}
}

func WithValidator(v Validator) Option {
	return func(c *EngineConfig) {
		c.validator = v
	}
}

func WithBatchOptions(opts BatchOptions) Option {
	return func(c *EngineConfig) {
		c.batch = opts
	}
}

// WithIntrospection toggles the built-in methods under the reserved prefix.
func WithIntrospection(enabled bool) Option {
	return func(c *EngineConfig) {
		c.introspection = enabled
	}
}

// WithIntrospectionPrefix changes the reserved namespace. It must be non-empty.
func WithIntrospectionPrefix(prefix string) Option {
	return func(c *EngineConfig) {
		if prefix != "" {
			c.introspectionPrefix = prefix
		}
	}
}

func WithServerInfo(name, version string) Option {
	return func(c *EngineConfig) {
		c.serverName = name
		c.serverVersion = version
	}
}

// WithMiddleware registers middleware in order, as Engine.Use would.
func WithMiddleware(m ...Middleware) Option {
	return func(c *EngineConfig) {
		c.middleware = append(c.middleware, m...)
	}
}

// Logger is re-exported so callers configuring an engine need a single import.
type Logger = observability.Logger

func defaultConfig() *EngineConfig {
	return &EngineConfig{
		logger:              observability.NewDefaultLogger(),
		codec:               codec.Plain(),
		batch:               DefaultBatchOptions(),
		introspection:       true,
		introspectionPrefix: DefaultReservedPrefix,
		serverName:          defaultServerName,
		serverVersion:       defaultServerVersion,
	}
}

// Engine is the JSON-RPC processing engine: registry, pipeline, dispatcher and
// batch executor behind one facade. It is safe for concurrent use once methods
// are registered.
type Engine struct {
	cfg        EngineConfig
	registry   *Registry
	pipeline   *Pipeline
	dispatcher *Dispatcher
	batch      *BatchExecutor
	logger     observability.Logger
}

// New builds an engine with the given options.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = observability.NewNullLogger()
	}
	if cfg.codec == nil {
		cfg.codec = codec.Plain()
	}

	e := &Engine{
		cfg:      *cfg,
		registry: NewRegistry(cfg.introspectionPrefix),
		pipeline: NewPipeline(),
		logger:   cfg.logger,
	}
	e.dispatcher = NewDispatcher(e.registry, e.pipeline, cfg.codec, cfg.validator, cfg.sanitizeErrors, cfg.logger)
	e.batch = NewBatchExecutor(e.dispatcher.Dispatch, cfg.logger)

	for _, m := range cfg.middleware {
		e.pipeline.Use(m)
	}

	if cfg.introspection {
		if err := e.registerIntrospection(); err != nil {
			return nil, fmt.Errorf("register introspection: %w", err)
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"server":         cfg.serverName,
		"version":        cfg.serverVersion,
		"codec":          cfg.codec.Name(),
		"introspection":  cfg.introspection,
		"sanitizeErrors": cfg.sanitizeErrors,
		"batchMaxSize":   cfg.batch.MaxSize,
		"batchParallel":  cfg.batch.Parallel,
	}).Info("RPC engine initialized")

	return e, nil
}

// Register binds a method. Schemas attached with WithSchema are handed to the
// validator when it implements SchemaRegistrar.
func (e *Engine) Register(name string, handler HandlerFunc, opts ...MethodOption) error {
	if err := e.registry.Register(name, handler, opts...); err != nil {
		return err
	}
	m, _ := e.registry.Lookup(name)
	if len(m.Schema) == 0 {
		return nil
	}
	reg, ok := e.cfg.validator.(SchemaRegistrar)
	if !ok {
		return nil
	}
	if err := reg.AddSchema(name, m.Schema); err != nil {
		e.registry.Unregister(name)
		return fmt.Errorf("register schema for %s: %w", name, err)
	}
	return nil
}

// Unregister removes a method; unknown names are ignored.
func (e *Engine) Unregister(name string) {
	m, ok := e.registry.Lookup(name)
	if !e.registry.Unregister(name) {
		return
	}
	if reg, isReg := e.cfg.validator.(SchemaRegistrar); isReg && ok && len(m.Schema) > 0 {
		reg.RemoveSchema(name)
	}
}

// ListMethods returns user method names in registration order.
func (e *Engine) ListMethods() []string { return e.registry.ListMethods() }

func (e *Engine) Registry() *Registry { return e.registry }
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }
func (e *Engine) Codec() codec.Codec  { return e.cfg.codec }

// BatchOptions returns the options applied by Handle to batches.
func (e *Engine) BatchOptions() BatchOptions { return e.cfg.batch }

// Use adds middleware to both pipeline lists.
func (e *Engine) Use(m Middleware) { e.pipeline.Use(m) }

func (e *Engine) AddBefore(h BeforeHook) { e.pipeline.AddBefore(h) }
func (e *Engine) AddAfter(h AfterHook)   { e.pipeline.AddAfter(h) }

// Dispatch runs one request and always returns its response.
func (e *Engine) Dispatch(ctx context.Context, req *Request, rc *RequestContext) *Response {
	return e.dispatcher.Dispatch(ctx, req, rc)
}

// HandleRequest dispatches req and returns nil for notifications.
func (e *Engine) HandleRequest(ctx context.Context, req *Request, rc *RequestContext) *Response {
	resp := e.dispatcher.Dispatch(ctx, req, rc)
	if req != nil && req.IsNotification() {
		return nil
	}
	return resp
}

// RunBatch runs reqs with explicit options.
func (e *Engine) RunBatch(ctx context.Context, reqs []*Request, rc *RequestContext, opts BatchOptions) ([]*Response, *BatchMetrics, error) {
	return e.batch.Run(ctx, reqs, rc, opts)
}

// Handle processes raw request text and returns raw response text. It returns nil
// when nothing must be written: a notification, or a batch of notifications.
// Batch metrics, when enabled, are stored on rc under MetricsKey.
func (e *Engine) Handle(ctx context.Context, data []byte, rc *RequestContext) []byte {
	if rc == nil {
		rc = NewRequestContext()
	}

	reqs, isBatch, perr := ParsePayload(data)
	if perr != nil {
		return e.marshal(newErrorResponse(nil, perr))
	}

	if !isBatch {
		resp := e.HandleRequest(ctx, reqs[0], rc)
		if resp == nil {
			return nil
		}
		return e.marshal(resp)
	}

	responses, metrics, err := e.batch.Run(ctx, reqs, rc, e.cfg.batch)
	if metrics != nil {
		rc.Set(MetricsKey, metrics)
	}
	if err != nil {
		return e.marshal(newErrorResponse(nil, AsError(err, e.cfg.sanitizeErrors)))
	}

	items := make([]json.RawMessage, 0, len(responses))
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		items = append(items, e.marshal(resp))
	}
	if len(items) == 0 {
		return nil
	}
	out, err := json.Marshal(items)
	if err != nil {
		return e.marshal(newErrorResponse(nil, NewInternalError(err)))
	}
	return out
}

// marshal encodes one response, replacing it with an InternalError response when
// the result cannot be encoded.
func (e *Engine) marshal(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err == nil {
		return data
	}
	e.logger.WithErr(err).WithFields(map[string]interface{}{
		"id": string(resp.ID),
	}).Error("Failed to marshal response")

	rpcErr := AsError(fmt.Errorf("marshal response: %w", err), e.cfg.sanitizeErrors)
	data, err = json.Marshal(newErrorResponse(resp.ID, rpcErr))
	if err != nil {
		// only reachable with unencodable error data
		data, _ = json.Marshal(newErrorResponse(resp.ID, NewError(CodeInternalError, "")))
	}
	return data
}
