package rpckit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// DefaultReservedPrefix is the namespace of the built-in introspection methods.
const DefaultReservedPrefix = "__rpc."

// HandlerFunc serves one method. params holds the codec-decoded parameters and rc
// the explicit request context.
type HandlerFunc func(ctx context.Context, params Params, rc *RequestContext) (any, error)

// Method is a registered binding. The name is immutable once registered.
type Method struct {
	Name        string
	Handler     HandlerFunc
	Description string
	Schema      json.RawMessage
	// Exposed makes the method visible to the describe introspection call.
	Exposed bool

	internal bool
}

// MethodOption configures a binding at registration time.
type MethodOption func(*Method)

func WithDescription(description string) MethodOption {
	return func(m *Method) { m.Description = description }
}

// WithSchema attaches a JSON Schema for the params of the method.
func WithSchema(schema json.RawMessage) MethodOption {
	return func(m *Method) { m.Schema = schema }
}

// WithExposed controls visibility to introspection. Methods are hidden by default.
func WithExposed(exposed bool) MethodOption {
	return func(m *Method) { m.Exposed = exposed }
}

// Registry maps method names to bindings, keeping insertion order.
type Registry struct {
	mu      sync.RWMutex
	prefix  string
	methods map[string]*Method
	order   []string
}

// NewRegistry creates a registry. Names starting with reservedPrefix can only be
// bound by the engine itself; an empty prefix disables the check.
func NewRegistry(reservedPrefix string) *Registry {
	return &Registry{
		prefix:  reservedPrefix,
		methods: make(map[string]*Method),
	}
}

// Register binds name to handler.
func (r *Registry) Register(name string, handler HandlerFunc, opts ...MethodOption) error {
	if r.IsReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedPrefix, name)
	}
	return r.add(name, handler, false, opts)
}

// registerInternal is the bootstrap path used for introspection methods.
func (r *Registry) registerInternal(name string, handler HandlerFunc, opts ...MethodOption) error {
	return r.add(name, handler, true, opts)
}

func (r *Registry) add(name string, handler HandlerFunc, internal bool, opts []MethodOption) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyMethodName
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}

	m := &Method{Name: name, Handler: handler, internal: internal}
	for _, opt := range opts {
		opt(m)
	}

	r.mu.Lock()
	if _, exists := r.methods[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}
	r.methods[name] = m
	r.order = append(r.order, name)
	r.mu.Unlock()

	return nil
}

// Unregister removes name. Removing an unknown name is not an error. Internal
// methods cannot be removed. It reports whether a binding was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.methods[name]
	if !ok || m.internal {
		return false
	}
	delete(r.methods, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the binding for name.
func (r *Registry) Lookup(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// IsReserved reports whether name falls in the reserved namespace.
func (r *Registry) IsReserved(name string) bool {
	return r.prefix != "" && strings.HasPrefix(name, r.prefix)
}

// ListMethods returns user method names in registration order.
func (r *Registry) ListMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.methods[name].internal || r.IsReserved(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Methods returns copies of the user bindings in registration order.
func (r *Registry) Methods() []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Method, 0, len(r.order))
	for _, name := range r.order {
		m := r.methods[name]
		if m.internal || r.IsReserved(name) {
			continue
		}
		out = append(out, *m)
	}
	return out
}

// Len returns the number of bindings, internal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
