// Package transport exposes an rpckit engine over HTTP and WebSocket. It only
// moves bytes and fills the request context; all JSON-RPC semantics stay in the
// engine.
package transport

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/observability"
)

// DefaultMaxRequestSize bounds request bodies and WebSocket messages.
const DefaultMaxRequestSize = 1024 * 1024 // 1MB

// Handler processes raw JSON-RPC text. *rpckit.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, data []byte, rc *rpckit.RequestContext) []byte
}

// Options shared by the HTTP and WebSocket handlers.
type options struct {
	maxRequestSize int64
	logger         observability.Logger
	allowedOrigins []string
	trustProxy     bool
}

// Option configures a transport handler.
type Option func(*options)

func WithMaxRequestSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRequestSize = n
		}
	}
}

func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAllowedOrigins restricts cross-origin callers. An empty list or "*" allows all.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) { o.allowedOrigins = origins }
}

// WithTrustProxy takes the caller address from X-Forwarded-For when present.
func WithTrustProxy(trust bool) Option {
	return func(o *options) { o.trustProxy = trust }
}

func buildOptions(opts []Option) options {
	o := options{
		maxRequestSize: DefaultMaxRequestSize,
		logger:         observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) originAllowed(r *http.Request) bool {
	if len(o.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range o.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// requestContext builds the rpckit context of an HTTP request.
func (o options) requestContext(r *http.Request) *rpckit.RequestContext {
	rc := rpckit.NewRequestContext()
	rc.RemoteAddr = remoteAddr(r, o.trustProxy)
	rc.Headers = r.Header.Clone()
	rc.Token = BearerToken(r.Header.Get("Authorization"))
	if id := r.Header.Get("X-Request-ID"); id != "" {
		rc.CorrelationID = id
	}
	return rc
}

// BearerToken returns the credential of an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func remoteAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HTTPHandler serves JSON-RPC over HTTP POST.
type HTTPHandler struct {
	handler Handler
	opts    options
}

func NewHTTPHandler(handler Handler, opts ...Option) *HTTPHandler {
	return &HTTPHandler{handler: handler, opts: buildOptions(opts)}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.opts.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.maxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.opts.logger.WithErr(err).Warn("Failed to read request body")
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	rc := h.opts.requestContext(r)
	out := h.handler.Handle(r.Context(), body, rc)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", rc.CorrelationID)
	if _, err := w.Write(out); err != nil {
		h.opts.logger.WithErr(err).WithFields(map[string]interface{}{
			"correlationID": rc.CorrelationID,
		}).Warn("Failed to write response")
	}
}
