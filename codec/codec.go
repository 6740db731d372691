// Package codec converts between Go values and the generic JSON trees carried in
// JSON-RPC params and results.
//
// Two strategies are provided. Plain leaves values untouched and relies on standard
// JSON semantics, which cannot tell a date-looking string from a date and loses
// integer precision above 2^53. Safe layers a reversible text convention on top of
// JSON leaves:
//
//	string      "abc"                    -> "S:abc"
//	time.Time   2024-01-02T03:04:05Z     -> "D:2024-01-02T03:04:05Z"
//	*big.Int    12345678901234567890     -> "12345678901234567890n"
//
// Objects and arrays are walked recursively; keys and indices are left alone.
package codec

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// StringPrefix marks an encoded string leaf.
	StringPrefix = "S:"
	// DatePrefix marks an encoded timestamp leaf.
	DatePrefix = "D:"
	// BigIntSuffix marks an encoded arbitrary-precision integer leaf.
	BigIntSuffix = "n"

	// TimeFormat is the round-trippable layout used for timestamps. Values are
	// always normalised to UTC before formatting.
	TimeFormat = time.RFC3339Nano

	// MaxSafeInteger is the largest integer a float64 represents exactly.
	MaxSafeInteger = 1<<53 - 1
)

const (
	NamePlain = "plain"
	NameSafe  = "safe"
)

// Codec is a serialization strategy selected once when an engine is built.
type Codec interface {
	// Name identifies the strategy, e.g. in introspection output.
	Name() string
	// Encode turns a handler result into a value ready for json.Marshal.
	Encode(v any) (any, error)
	// Decode turns a generic JSON tree (see UnmarshalTree) into handler input.
	Decode(v any) (any, error)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NamePlain:
		return Plain(), nil
	case NameSafe:
		return Safe(), nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

type plainCodec struct{}

// Plain returns the pass-through codec.
func Plain() Codec { return plainCodec{} }

func (plainCodec) Name() string              { return NamePlain }
func (plainCodec) Encode(v any) (any, error) { return v, nil }
func (plainCodec) Decode(v any) (any, error) { return v, nil }

// EncodeTime formats t as a safe-mode timestamp leaf.
func EncodeTime(t time.Time) string {
	return DatePrefix + t.UTC().Format(TimeFormat)
}

// EncodeBigInt formats n as a safe-mode integer leaf. A nil n encodes as zero.
func EncodeBigInt(n *big.Int) string {
	if n == nil {
		return "0" + BigIntSuffix
	}
	return n.String() + BigIntSuffix
}

// DecodeString reverses the safe-mode leaf convention. Strings that carry no marker,
// or whose marker payload does not parse, are returned unchanged.
func DecodeString(s string) any {
	switch {
	case strings.HasPrefix(s, StringPrefix):
		return s[len(StringPrefix):]
	case strings.HasPrefix(s, DatePrefix):
		t, err := time.Parse(TimeFormat, s[len(DatePrefix):])
		if err != nil {
			return s
		}
		return t
	case strings.HasSuffix(s, BigIntSuffix):
		digits := s[:len(s)-len(BigIntSuffix)]
		if !isInteger(digits) {
			return s
		}
		n, ok := new(big.Int).SetString(digits, 10)
		if !ok {
			return s
		}
		return n
	}
	return s
}

func isInteger(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
