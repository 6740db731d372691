// Package schema validates JSON-RPC params against JSON Schema documents using
// gojsonschema. A *Validator plugs into rpckit.WithValidator; schemas attached to
// methods with rpckit.WithSchema are compiled when the method is registered.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/n-car/rpckit"
)

// Validator holds one compiled schema per method.
//
// It implements rpckit.Validator and rpckit.SchemaRegistrar.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*gojsonschema.Schema)}
}

// AddSchema compiles schema and binds it to method, replacing any previous one.
func (v *Validator) AddSchema(method string, schema json.RawMessage) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", method, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[method] = compiled
	return nil
}

func (v *Validator) RemoveSchema(method string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.schemas, method)
}

func (v *Validator) HasSchema(method string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.schemas[method]
	return ok
}

// Methods returns the methods with a schema, sorted.
func (v *Validator) Methods() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks value, the decoded params of a call. Methods without a schema
// always pass.
func (v *Validator) Validate(method string, value any) rpckit.ValidationResult {
	v.mu.RLock()
	compiled, ok := v.schemas[method]
	v.mu.RUnlock()
	if !ok {
		return rpckit.ValidationResult{Valid: true}
	}

	doc, err := json.Marshal(value)
	if err != nil {
		return rpckit.ValidationResult{Errors: []string{fmt.Sprintf("failed to marshal params: %v", err)}}
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return rpckit.ValidationResult{Errors: []string{fmt.Sprintf("validation error: %v", err)}}
	}
	if result.Valid() {
		return rpckit.ValidationResult{Valid: true}
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return rpckit.ValidationResult{Errors: errs}
}

// LoadDir adds every *.json file in dir as the schema of the method named by the
// file name without its extension, e.g. "math.add.json" for "math.add".
func (v *Validator) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := v.AddSchema(strings.TrimSuffix(entry.Name(), ".json"), data); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ rpckit.Validator       = (*Validator)(nil)
	_ rpckit.SchemaRegistrar = (*Validator)(nil)
)
