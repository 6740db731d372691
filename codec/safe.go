package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	timeType       = reflect.TypeOf(time.Time{})
	bigIntType     = reflect.TypeOf(big.Int{})
	bigIntPtrType  = reflect.TypeOf((*big.Int)(nil))
	numberType     = reflect.TypeOf(json.Number(""))
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	marshalerType  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

type safeCodec struct{}

// Safe returns the type-preserving codec.
func Safe() Codec { return safeCodec{} }

func (safeCodec) Name() string { return NameSafe }

// Encode walks v and rewrites every string, timestamp and big integer leaf.
// Go integers outside the float64-safe range are written as big integers.
func (safeCodec) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return encodeValue(reflect.ValueOf(v))
}

// Decode walks a generic JSON tree and restores marked leaves. The input is not
// modified.
func (safeCodec) Decode(v any) (any, error) {
	return decodeTree(v), nil
}

func decodeTree(v any) any {
	switch t := v.(type) {
	case string:
		return DecodeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = decodeTree(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = decodeTree(val)
		}
		return out
	default:
		return v
	}
}

func encodeValue(rv reflect.Value) (any, error) {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type() == bigIntPtrType {
			return EncodeBigInt(rv.Interface().(*big.Int)), nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Type() {
	case timeType:
		return EncodeTime(rv.Interface().(time.Time)), nil
	case bigIntType:
		n := new(big.Int)
		if rv.CanAddr() {
			n.Set(rv.Addr().Interface().(*big.Int))
		} else {
			b := rv.Interface().(big.Int)
			n.Set(&b)
		}
		return EncodeBigInt(n), nil
	case numberType:
		return rv.Interface().(json.Number), nil
	case rawMessageType:
		if rv.Len() == 0 {
			return nil, nil
		}
		tree, err := UnmarshalTree(rv.Bytes())
		if err != nil {
			return nil, fmt.Errorf("codec: raw message: %w", err)
		}
		return encodeValue(reflect.ValueOf(tree))
	}

	if m, ok := asMarshaler(rv); ok {
		data, err := m.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("codec: marshal %s: %w", rv.Type(), err)
		}
		tree, err := UnmarshalTree(data)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal %s: %w", rv.Type(), err)
		}
		return encodeValue(reflect.ValueOf(tree))
	}

	switch rv.Kind() {
	case reflect.String:
		return StringPrefix + rv.String(), nil
	case reflect.Bool, reflect.Float32, reflect.Float64:
		return rv.Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > MaxSafeInteger || n < -MaxSafeInteger {
			return EncodeBigInt(big.NewInt(n)), nil
		}
		return rv.Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > MaxSafeInteger {
			return EncodeBigInt(new(big.Int).SetUint64(u)), nil
		}
		return rv.Interface(), nil
	case reflect.Map:
		return encodeMap(rv)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return StringPrefix + base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		return encodeList(rv)
	case reflect.Array:
		return encodeList(rv)
	case reflect.Struct:
		return encodeStruct(rv)
	default:
		return nil, fmt.Errorf("codec: unsupported type %s", rv.Type())
	}
}

func asMarshaler(rv reflect.Value) (json.Marshaler, bool) {
	if rv.Type().Implements(marshalerType) {
		return rv.Interface().(json.Marshaler), true
	}
	if rv.CanAddr() && reflect.PointerTo(rv.Type()).Implements(marshalerType) {
		return rv.Addr().Interface().(json.Marshaler), true
	}
	return nil, false
}

func encodeMap(rv reflect.Value) (any, error) {
	if rv.IsNil() {
		return nil, nil
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		val, err := encodeValue(iter.Value())
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	default:
		return "", fmt.Errorf("codec: unsupported map key type %s", k.Type())
	}
}

func encodeList(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		val, err := encodeValue(rv.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func encodeStruct(rv reflect.Value) (any, error) {
	fields := cachedFields(rv.Type())
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fv, err := rv.FieldByIndexErr(f.index)
		if err != nil {
			// nil embedded pointer
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		val, err := encodeValue(fv)
		if err != nil {
			return nil, fmt.Errorf("codec: field %s: %w", f.name, err)
		}
		out[f.name] = val
	}
	return out, nil
}

type structField struct {
	name      string
	index     []int
	omitEmpty bool
}

var fieldCache sync.Map // map[reflect.Type][]structField

func cachedFields(t reflect.Type) []structField {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]structField)
	}
	f, _ := fieldCache.LoadOrStore(t, typeFields(t, nil))
	return f.([]structField)
}

// typeFields lists the JSON-visible fields of t. Direct fields shadow fields
// promoted from embedded structs.
func typeFields(t reflect.Type, prefix []int) []structField {
	var direct, promoted []structField
	seen := make(map[string]bool)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		index := append(append([]int{}, prefix...), i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if !sf.IsExported() {
					continue
				}
				promoted = append(promoted, typeFields(ft, index)...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		seen[name] = true
		direct = append(direct, structField{
			name:      name,
			index:     index,
			omitEmpty: strings.Contains(","+opts+",", ",omitempty,"),
		})
	}

	for _, f := range promoted {
		if seen[f.name] {
			continue
		}
		seen[f.name] = true
		direct = append(direct, f)
	}
	return direct
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
