package rpckit

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		code    ErrorCode
		value   int
		name    string
		message string
	}{
		{CodeParseError, -32700, "ParseError", "Parse error"},
		{CodeInvalidRequest, -32600, "InvalidRequest", "Invalid Request"},
		{CodeMethodNotFound, -32601, "MethodNotFound", "Method not found"},
		{CodeInvalidParams, -32602, "InvalidParams", "Invalid params"},
		{CodeInternalError, -32603, "InternalError", "Internal error"},
		{CodeServerError, -32000, "ServerError", "Server error"},
		{CodeAuthenticationError, -32001, "AuthenticationError", "Authentication required"},
		{CodeRateLimitExceeded, -32002, "RateLimitExceeded", "Rate limit exceeded"},
		{CodeValidationError, -32003, "ValidationError", "Validation error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.value, int(tt.code))
			assert.Equal(t, tt.name, tt.code.String())
			assert.Equal(t, tt.message, tt.code.Message())
		})
	}

	assert.Equal(t, "ErrorCode(-1)", ErrorCode(-1).String())
}

func TestAsError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsError(nil, true))
	})

	t.Run("taxonomy error maps to itself", func(t *testing.T) {
		orig := NewRateLimitExceeded("slow down")
		assert.Same(t, orig, AsError(orig, true))
		assert.Same(t, orig, AsError(AsError(orig, false), false))
	})

	t.Run("wrapped taxonomy error is found", func(t *testing.T) {
		orig := NewAuthenticationError("")
		got := AsError(fmt.Errorf("auth step: %w", orig), true)
		assert.Same(t, orig, got)
	})

	t.Run("plain error", func(t *testing.T) {
		cause := errors.New("disk full")

		raw := AsError(cause, false)
		assert.Equal(t, CodeInternalError, raw.Code)
		assert.Equal(t, "disk full", raw.Message)
		assert.ErrorIs(t, raw, cause)

		sanitized := AsError(cause, true)
		assert.Equal(t, SanitizedMessage, sanitized.Message)
		assert.Nil(t, sanitized.Data)
		assert.ErrorIs(t, sanitized, cause)

		assert.Same(t, sanitized, AsError(sanitized, true))
	})
}

func TestError_JSON(t *testing.T) {
	data, err := json.Marshal(NewMethodNotFound("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":-32601,"message":"Method not found","data":{"method":"nope"}}`, string(data))

	data, err = json.Marshal(WrapError(CodeServerError, "busy", errors.New("hidden cause")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":-32000,"message":"busy"}`, string(data))
}

func TestError_WithDataCopies(t *testing.T) {
	base := NewServerError("x")
	withData := base.WithData("payload")
	assert.Nil(t, base.Data)
	assert.Equal(t, "payload", withData.Data)
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(fmt.Errorf("wrap: %w", NewInvalidParams("")), CodeInvalidParams))
	assert.False(t, HasCode(errors.New("plain"), CodeInvalidParams))
	assert.False(t, HasCode(NewServerError(""), CodeInvalidParams))
}
