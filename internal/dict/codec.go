package dict

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Private CBOR tag numbers. Maps travel as a tagged key/value array so
// their order survives; integers carry their width.
const (
	tagMap    uint64 = 0x4e5000
	tagInt32  uint64 = 0x4e5001
	tagInt64  uint64 = 0x4e5002
	tagUint8  uint64 = 0x4e5003
	tagUint16 uint64 = 0x4e5004
	tagUint32 uint64 = 0x4e5005
	tagUint64 uint64 = 0x4e5006
)

// MaxDepth bounds container nesting. The root container is at depth 1.
// Both Marshal and Unmarshal enforce it, so every tree Marshal accepts
// decodes again.
const MaxDepth = 256

// wireLevels is the CBOR nesting needed for MaxDepth containers: a map is
// a tag around an array, and an integer leaf adds its width tag.
const wireLevels = 2*MaxDepth + 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dict: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		IntDec:          cbor.IntDecConvertNone,
		MaxNestedLevels: wireLevels,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("dict: cbor decoder: %v", err))
	}
}

// Marshal encodes v into the transport byte form.
func Marshal(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("marshal: nil value")
	}
	wire, err := toWire(v, 0)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(wire)
}

// Unmarshal decodes data produced by Marshal. Any deviation from the
// expected layout fails with an error matching ErrFormat; no partial tree
// is returned.
func Unmarshal(data []byte) (Value, error) {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	v, err := fromWire(raw, 0)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalMap decodes data whose root must be a map.
func UnmarshalMap(data []byte) (*Map, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, formatErrorf("root is %s, want map", v.Kind())
	}
	return m, nil
}

func toWire(v Value, depth int) (any, error) {
	switch tv := v.(type) {
	case *Map:
		if depth++; depth > MaxDepth {
			return nil, fmt.Errorf("%w: more than %d levels", ErrTooDeep, MaxDepth)
		}
		pairs := make([]any, 0, 2*tv.Len())
		for k, item := range tv.All() {
			w, err := toWire(item, depth)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, k, w)
		}
		return cbor.Tag{Number: tagMap, Content: pairs}, nil
	case *List:
		if depth++; depth > MaxDepth {
			return nil, fmt.Errorf("%w: more than %d levels", ErrTooDeep, MaxDepth)
		}
		items := make([]any, 0, tv.Len())
		for _, item := range tv.All() {
			w, err := toWire(item, depth)
			if err != nil {
				return nil, err
			}
			items = append(items, w)
		}
		return items, nil
	case String:
		return string(tv), nil
	case Bool:
		return bool(tv), nil
	case Blob:
		// Never nil: a nil slice would encode as CBOR null.
		return tv.Bytes(), nil
	case Int32:
		return cbor.Tag{Number: tagInt32, Content: int64(tv)}, nil
	case Int64:
		return cbor.Tag{Number: tagInt64, Content: int64(tv)}, nil
	case Uint8:
		return cbor.Tag{Number: tagUint8, Content: uint64(tv)}, nil
	case Uint16:
		return cbor.Tag{Number: tagUint16, Content: uint64(tv)}, nil
	case Uint32:
		return cbor.Tag{Number: tagUint32, Content: uint64(tv)}, nil
	case Uint64:
		return cbor.Tag{Number: tagUint64, Content: uint64(tv)}, nil
	}
	panic(fmt.Sprintf("dict: unknown value type %T", v))
}

func fromWire(raw any, depth int) (Value, error) {
	switch tv := raw.(type) {
	case string:
		return String(tv), nil
	case bool:
		return Bool(tv), nil
	case []byte:
		return NewBlob(tv), nil
	case []any:
		if depth++; depth > MaxDepth {
			return nil, formatErrorf("more than %d levels", MaxDepth)
		}
		l := &List{items: make([]Value, 0, len(tv))}
		for i, item := range tv {
			v, err := fromWire(item, depth)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			l.items = append(l.items, v)
		}
		return l, nil
	case cbor.Tag:
		return fromTag(tv, depth)
	case nil:
		return nil, formatErrorf("unexpected null")
	default:
		return nil, formatErrorf("unexpected item of type %T", raw)
	}
}

func fromTag(tag cbor.Tag, depth int) (Value, error) {
	if tag.Number == tagMap {
		if depth++; depth > MaxDepth {
			return nil, formatErrorf("more than %d levels", MaxDepth)
		}
		pairs, ok := tag.Content.([]any)
		if !ok || len(pairs)%2 != 0 {
			return nil, formatErrorf("map tag must wrap an even-length array")
		}
		m := &Map{
			keys: make([]string, 0, len(pairs)/2),
			vals: make(map[string]Value, len(pairs)/2),
		}
		for i := 0; i < len(pairs); i += 2 {
			key, ok := pairs[i].(string)
			if !ok {
				return nil, formatErrorf("map key of type %T", pairs[i])
			}
			if m.Has(key) {
				return nil, formatErrorf("duplicate map key %q", key)
			}
			v, err := fromWire(pairs[i+1], depth)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			m.Set(key, v)
		}
		return m, nil
	}

	switch tag.Number {
	case tagInt32:
		n, err := signedContent(tag, math.MinInt32, math.MaxInt32)
		return Int32(n), err
	case tagInt64:
		n, err := signedContent(tag, math.MinInt64, math.MaxInt64)
		return Int64(n), err
	case tagUint8:
		n, err := unsignedContent(tag, math.MaxUint8)
		return Uint8(n), err
	case tagUint16:
		n, err := unsignedContent(tag, math.MaxUint16)
		return Uint16(n), err
	case tagUint32:
		n, err := unsignedContent(tag, math.MaxUint32)
		return Uint32(n), err
	case tagUint64:
		n, err := unsignedContent(tag, math.MaxUint64)
		return Uint64(n), err
	}
	return nil, formatErrorf("unknown tag %#x", tag.Number)
}

func signedContent(tag cbor.Tag, lo, hi int64) (int64, error) {
	var n int64
	switch c := tag.Content.(type) {
	case int64:
		n = c
	case uint64:
		if c > math.MaxInt64 {
			return 0, formatErrorf("tag %#x: %d out of range", tag.Number, c)
		}
		n = int64(c)
	default:
		return 0, formatErrorf("tag %#x: content of type %T", tag.Number, tag.Content)
	}
	if n < lo || n > hi {
		return 0, formatErrorf("tag %#x: %d out of range", tag.Number, n)
	}
	return n, nil
}

func unsignedContent(tag cbor.Tag, hi uint64) (uint64, error) {
	c, ok := tag.Content.(uint64)
	if !ok {
		return 0, formatErrorf("tag %#x: content of type %T", tag.Number, tag.Content)
	}
	if c > hi {
		return 0, formatErrorf("tag %#x: %d out of range", tag.Number, c)
	}
	return c, nil
}
