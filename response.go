package rpckit

import (
	"encoding/json"
	"errors"
)

// Response is a JSON-RPC response. Exactly one of Result and Error is emitted on the
// wire; a nil Result with a nil Error is written as "result": null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type successResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result"`
	ID      json.RawMessage `json:"id"`
}

type errorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// MarshalJSON enforces the result/error exclusivity.
func (r Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	if r.Error != nil {
		return json.Marshal(errorResponse{JSONRPC: Version, Error: r.Error, ID: id})
	}
	return json.Marshal(successResponse{JSONRPC: Version, Result: r.Result, ID: id})
}

// UnmarshalJSON decodes a response. Result is left as json.RawMessage.
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Error == nil && wire.Result == nil {
		return errors.New("rpckit: response carries neither result nor error")
	}
	r.JSONRPC = wire.JSONRPC
	r.Error = wire.Error
	r.ID = wire.ID
	r.Result = nil
	if wire.Error == nil {
		r.Result = wire.Result
	}
	return nil
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r != nil && r.Error != nil
}

func newResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

func newErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}
