package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ErrTrailingData is returned when a JSON document is followed by more input.
var ErrTrailingData = errors.New("codec: unexpected data after top-level value")

// UnmarshalTree parses data into a generic tree of map[string]any, []any, string,
// bool, json.Number and nil. Numbers are kept as json.Number so no precision is
// lost before a codec or Rebind sees them.
func UnmarshalTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return v, nil
}

// Rebind converts a decoded tree into out, which must be a pointer. Decoded
// time.Time and *big.Int leaves bind to fields of the same type, and also to
// string and integer fields respectively.
func Rebind(tree any, out any) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
