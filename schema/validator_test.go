package schema

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-car/rpckit"
)

const addSchema = `{
	"type": "object",
	"properties": {
		"a": {"type": "integer"},
		"b": {"type": "integer"}
	},
	"required": ["a", "b"]
}`

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.AddSchema("add", json.RawMessage(addSchema)))

	tests := []struct {
		name      string
		value     any
		valid     bool
		errorPart string
	}{
		{name: "valid", value: map[string]any{"a": json.Number("1"), "b": 2}, valid: true},
		{name: "missing field", value: map[string]any{"a": 1}, errorPart: "b is required"},
		{name: "wrong type", value: map[string]any{"a": "one", "b": 2}, errorPart: "Invalid type"},
		{name: "no params", value: nil, errorPart: "Invalid type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate("add", tt.value)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.valid {
				assert.Empty(t, res.Errors)
				return
			}
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, strings.Join(res.Errors, "; "), tt.errorPart)
		})
	}
}

func TestValidator_UnknownMethodPasses(t *testing.T) {
	v := NewValidator()
	assert.False(t, v.HasSchema("other"))
	assert.True(t, v.Validate("other", "anything").Valid)
}

func TestValidator_InvalidSchema(t *testing.T) {
	v := NewValidator()
	err := v.AddSchema("bad", json.RawMessage(`{"type": 12}`))
	assert.Error(t, err)
	assert.False(t, v.HasSchema("bad"))
}

func TestValidator_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math.add.json"), []byte(addSchema), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o700))

	v := NewValidator()
	require.NoError(t, v.LoadDir(dir))
	assert.Equal(t, []string{"math.add"}, v.Methods())

	v.RemoveSchema("math.add")
	assert.Empty(t, v.Methods())

	assert.Error(t, v.LoadDir(filepath.Join(dir, "missing")))
}

func TestValidator_WithEngine(t *testing.T) {
	v := NewValidator()
	e, err := rpckit.New(rpckit.WithLogger(nil), rpckit.WithValidator(v))
	require.NoError(t, err)

	add := rpckit.Typed(func(ctx context.Context, p struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (int, error) {
		return p.A + p.B, nil
	})
	require.NoError(t, e.Register("add", add, rpckit.WithSchema(json.RawMessage(addSchema))))
	assert.True(t, v.HasSchema("add"))

	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":{"a":5,"b":3},"id":1}`), nil)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":8,"id":1}`, string(out))

	out = e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":{"a":5},"id":2}`), nil)
	var resp rpckit.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpckit.CodeInvalidParams, resp.Error.Code)

	err = e.Register("broken", add, rpckit.WithSchema(json.RawMessage(`{"type": 12}`)))
	assert.Error(t, err)
	_, ok := e.Registry().Lookup("broken")
	assert.False(t, ok, "method with an invalid schema is rolled back")
}
