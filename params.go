package rpckit

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/n-car/rpckit/codec"
)

// Params are the decoded parameters of a call. The zero value means no params.
type Params struct {
	raw   json.RawMessage
	value any
}

// NewParams wraps an already decoded value, mainly for tests and direct calls.
func NewParams(value any) Params {
	return Params{value: value}
}

// Raw returns the params exactly as received on the wire.
func (p Params) Raw() json.RawMessage { return p.raw }

// Value returns the decoded tree: map[string]any for named params, []any for
// positional params, with codec-restored leaves.
func (p Params) Value() any { return p.value }

// IsZero reports whether the call had no params.
func (p Params) IsZero() bool { return p.value == nil }

// Map returns named params.
func (p Params) Map() (map[string]any, bool) {
	m, ok := p.value.(map[string]any)
	return m, ok
}

// List returns positional params.
func (p Params) List() ([]any, bool) {
	l, ok := p.value.([]any)
	return l, ok
}

// Get returns one named param.
func (p Params) Get(name string) (any, bool) {
	m, ok := p.Map()
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// Bind decodes the params into out. Positional params bind to struct fields in
// declaration order. Failures are reported as InvalidParams.
func (p Params) Bind(out any) error {
	value := p.value
	if list, ok := value.([]any); ok {
		if named, ok := positionalToNamed(list, out); ok {
			value = named
		}
	}
	if err := codec.Rebind(value, out); err != nil {
		return WrapError(CodeInvalidParams, "", err).WithData(map[string]string{"detail": err.Error()})
	}
	return nil
}

func positionalToNamed(list []any, out any) (map[string]any, bool) {
	t := reflect.TypeOf(out)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	t = t.Elem()

	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names = append(names, name)
	}

	named := make(map[string]any, len(list))
	for i, v := range list {
		if i >= len(names) {
			break
		}
		named[names[i]] = v
	}
	return named, true
}

// Typed adapts a function taking a concrete params type into a HandlerFunc.
// Params that fail to bind are reported as InvalidParams.
func Typed[P any, R any](fn func(ctx context.Context, params P) (R, error)) HandlerFunc {
	return func(ctx context.Context, params Params, rc *RequestContext) (any, error) {
		var p P
		if !params.IsZero() {
			if err := params.Bind(&p); err != nil {
				return nil, err
			}
		}
		return fn(ctx, p)
	}
}
