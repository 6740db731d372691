package rpckit

import "encoding/json"

// ValidationResult is the outcome of validating params against a method schema.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validator checks params of methods that have a schema. The schema engine itself
// lives outside the core; see the schema package.
type Validator interface {
	HasSchema(method string) bool
	Validate(method string, value any) ValidationResult
}

// SchemaRegistrar is implemented by validators that accept schemas attached with
// WithSchema at registration time.
type SchemaRegistrar interface {
	AddSchema(method string, schema json.RawMessage) error
	RemoveSchema(method string)
}
