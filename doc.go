// Package rpckit is a JSON-RPC 2.0 request-processing engine.
//
// An Engine parses single or batched calls, runs them through an ordered
// before/after middleware pipeline and dispatches them to registered handlers.
// Batches run sequentially or with bounded concurrency and always answer in
// request order. Results are serialised through a codec; codec.Safe preserves
// strings, timestamps and big integers across the wire.
//
// Basic usage:
//
//	engine, err := rpckit.New(rpckit.WithSafeMode(true))
//	if err != nil {
//		return err
//	}
//	err = engine.Register("add", rpckit.Typed(func(ctx context.Context, p struct {
//		A int `json:"a"`
//		B int `json:"b"`
//	}) (int, error) {
//		return p.A + p.B, nil
//	}))
//	out := engine.Handle(ctx, []byte(`{"jsonrpc":"2.0","method":"add","params":[5,3],"id":1}`), nil)
//
// Transports live in the transport package; the core never touches the network.
package rpckit
