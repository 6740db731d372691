package rpckit

import (
	"bytes"
	"encoding/json"
)

// Version is the only accepted value of the jsonrpc member.
const Version = "2.0"

// Request is a single JSON-RPC call. An absent ID marks a notification; an explicit
// null ID is kept as the literal null.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`

	// malformed is set when a batch element could not be decoded as a request.
	malformed *Error
}

// NewRequest builds a request with a JSON-encoded id. A nil id builds a notification.
func NewRequest(method string, params any, id any) (*Request, error) {
	req := &Request{JSONRPC: Version, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	if id != nil {
		raw, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		req.ID = raw
	}
	return req, nil
}

// HasID reports whether the request carried an id member.
func (r *Request) HasID() bool {
	return len(r.ID) > 0
}

// IsNotification reports whether no response must be emitted for r. Invalid
// requests are never notifications: they always produce an error response.
func (r *Request) IsNotification() bool {
	return !r.HasID() && r.Validate() == nil
}

// Validate checks the request envelope.
func (r *Request) Validate() *Error {
	if r.malformed != nil {
		return r.malformed
	}
	if r.JSONRPC != Version {
		return NewInvalidRequest(`jsonrpc must be "2.0"`)
	}
	if r.Method == "" {
		return NewInvalidRequest("method is required")
	}
	if r.HasID() {
		switch firstByte(r.ID) {
		case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		default:
			return NewInvalidRequest("id must be a string, number or null")
		}
	}
	if len(r.Params) > 0 {
		switch firstByte(r.Params) {
		case '{', '[', 'n':
		default:
			return NewInvalidRequest("params must be an object or an array")
		}
	}
	return nil
}

// responseID is the id echoed back in a response: the request id, or null when the
// request id is unknown.
func (r *Request) responseID() json.RawMessage {
	if r == nil || r.malformed != nil || !r.HasID() {
		return nil
	}
	return r.ID
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// ParsePayload decodes raw request text. A top-level array is a batch. Malformed
// JSON yields a ParseError and an empty batch yields an InvalidRequest; both are
// reported for the payload as a whole. Batch elements that are not request objects
// are returned as requests that fail validation.
func ParsePayload(data []byte) ([]*Request, bool, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, NewParseError("empty payload")
	}
	if !json.Valid(trimmed) {
		return nil, false, NewParseError("malformed JSON")
	}

	if trimmed[0] != '[' {
		return []*Request{decodeRequest(trimmed)}, false, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, true, NewParseError(err.Error())
	}
	if len(elems) == 0 {
		return nil, true, NewInvalidRequest("empty batch")
	}

	reqs := make([]*Request, len(elems))
	for i, elem := range elems {
		reqs[i] = decodeRequest(elem)
	}
	return reqs, true, nil
}

func decodeRequest(raw json.RawMessage) *Request {
	if firstByte(raw) != '{' {
		return &Request{malformed: NewInvalidRequest("request must be an object")}
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return &Request{malformed: NewInvalidRequest(err.Error())}
	}
	return &req
}
