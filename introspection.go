package rpckit

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/n-car/rpckit/codec"
)

// Introspection method suffixes, appended to the reserved prefix.
const (
	introspectListMethods  = "listMethods"
	introspectDescribe     = "describe"
	introspectVersion      = "version"
	introspectCapabilities = "capabilities"
)

// MethodDescription is returned by the describe introspection call.
type MethodDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ServerInfo is returned by the version introspection call.
type ServerInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol string `json:"jsonrpc"`
}

// Capabilities is returned by the capabilities introspection call.
type Capabilities struct {
	Batch           bool     `json:"batch"`
	BatchMaxSize    int      `json:"batchMaxSize"`
	ParallelBatch   bool     `json:"parallelBatch"`
	Codec           string   `json:"codec"`
	SafeMode        bool     `json:"safeMode"`
	SchemaValidator bool     `json:"schemaValidation"`
	SanitizeErrors  bool     `json:"sanitizeErrors"`
	Introspection   []string `json:"introspection"`
}

type describeParams struct {
	Method string `json:"method"`
}

func (e *Engine) introspectionName(suffix string) string {
	return e.cfg.introspectionPrefix + suffix
}

func (e *Engine) registerIntrospection() error {
	methods := []struct {
		suffix  string
		handler HandlerFunc
		desc    string
	}{
		{introspectListMethods, e.listMethodsHandler, "Lists registered method names"},
		{introspectDescribe, e.describeHandler, "Describes exposed methods"},
		{introspectVersion, e.versionHandler, "Returns server name and version"},
		{introspectCapabilities, e.capabilitiesHandler, "Returns engine capabilities"},
	}
	for _, m := range methods {
		if err := e.registry.registerInternal(e.introspectionName(m.suffix), m.handler, WithDescription(m.desc)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) listMethodsHandler(_ context.Context, _ Params, _ *RequestContext) (any, error) {
	return e.registry.ListMethods(), nil
}

// describeHandler describes one exposed method, or every exposed method when no
// name is given. Hidden methods are reported as not found.
func (e *Engine) describeHandler(_ context.Context, params Params, _ *RequestContext) (any, error) {
	var p describeParams
	if !params.IsZero() {
		if err := params.Bind(&p); err != nil {
			return nil, err
		}
	}

	if p.Method == "" {
		out := []MethodDescription{}
		for _, m := range e.registry.Methods() {
			if m.Exposed {
				out = append(out, describe(m))
			}
		}
		return out, nil
	}

	m, ok := e.registry.Lookup(p.Method)
	if !ok || m.internal || !m.Exposed {
		return nil, NewMethodNotFound(p.Method)
	}
	return describe(*m), nil
}

func describe(m Method) MethodDescription {
	return MethodDescription{Name: m.Name, Description: m.Description, Schema: m.Schema}
}

func (e *Engine) versionHandler(_ context.Context, _ Params, _ *RequestContext) (any, error) {
	return ServerInfo{Name: e.cfg.serverName, Version: e.cfg.serverVersion, Protocol: Version}, nil
}

func (e *Engine) capabilitiesHandler(_ context.Context, _ Params, _ *RequestContext) (any, error) {
	names := []string{
		e.introspectionName(introspectListMethods),
		e.introspectionName(introspectDescribe),
		e.introspectionName(introspectVersion),
		e.introspectionName(introspectCapabilities),
	}
	sort.Strings(names)
	return Capabilities{
		Batch:           true,
		BatchMaxSize:    e.cfg.batch.MaxSize,
		ParallelBatch:   e.cfg.batch.Parallel,
		Codec:           e.cfg.codec.Name(),
		SafeMode:        e.cfg.codec.Name() == codec.NameSafe,
		SchemaValidator: e.cfg.validator != nil,
		SanitizeErrors:  e.cfg.sanitizeErrors,
		Introspection:   names,
	}, nil
}
