package rpckit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, params Params, rc *RequestContext) (any, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		handler HandlerFunc
		wantErr error
	}{
		{name: "ok", method: "sum", handler: noopHandler},
		{name: "empty name", method: "  ", handler: noopHandler, wantErr: ErrEmptyMethodName},
		{name: "nil handler", method: "x", handler: nil, wantErr: ErrNilHandler},
		{name: "reserved prefix", method: "__rpc.listMethods", handler: noopHandler, wantErr: ErrReservedPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(DefaultReservedPrefix)
			err := r.Register(tt.method, tt.handler)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, r.Len())
				return
			}
			require.NoError(t, err)
			_, ok := r.Lookup(tt.method)
			assert.True(t, ok)
		})
	}
}

func TestRegistry_DuplicateAndReregister(t *testing.T) {
	r := NewRegistry(DefaultReservedPrefix)

	require.NoError(t, r.Register("sum", noopHandler))
	assert.ErrorIs(t, r.Register("sum", noopHandler), ErrDuplicateMethod)

	assert.True(t, r.Unregister("sum"))
	assert.False(t, r.Unregister("sum"), "second unregister is a no-op")

	require.NoError(t, r.Register("sum", noopHandler))
}

func TestRegistry_ListMethodsKeepsOrder(t *testing.T) {
	r := NewRegistry(DefaultReservedPrefix)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, noopHandler, WithDescription(name+" method")))
	}
	require.NoError(t, r.registerInternal("__rpc.version", noopHandler))

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, r.ListMethods())
	assert.Equal(t, 4, r.Len())

	methods := r.Methods()
	require.Len(t, methods, 3)
	assert.Equal(t, "alpha method", methods[1].Description)
	assert.False(t, methods[1].Exposed)

	require.True(t, r.Unregister("alpha"))
	assert.Equal(t, []string{"zeta", "mid"}, r.ListMethods())
}

func TestRegistry_InternalMethodsAreProtected(t *testing.T) {
	r := NewRegistry(DefaultReservedPrefix)
	require.NoError(t, r.registerInternal("__rpc.version", noopHandler))

	assert.False(t, r.Unregister("__rpc.version"))
	_, ok := r.Lookup("__rpc.version")
	assert.True(t, ok)
}

func TestRegistry_EmptyPrefixDisablesReservation(t *testing.T) {
	r := NewRegistry("")
	assert.NoError(t, r.Register("__rpc.anything", noopHandler))
	assert.False(t, r.IsReserved("__rpc.anything"))
}
