package dict

import "bytes"

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindMap
	KindList
	KindString
	KindBool
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindBlob
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindMap:     "map",
	KindList:    "list",
	KindString:  "string",
	KindBool:    "bool",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUint8:   "uint8",
	KindUint16:  "uint16",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindBlob:    "blob",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Value is a node of a document tree. The set of implementations is closed.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	String string
	Bool   bool
	Int32  int32
	Int64  int64
	Uint8  uint8
	Uint16 uint16
	Uint32 uint32
	Uint64 uint64
)

func (String) Kind() Kind { return KindString }
func (Bool) Kind() Kind   { return KindBool }
func (Int32) Kind() Kind  { return KindInt32 }
func (Int64) Kind() Kind  { return KindInt64 }
func (Uint8) Kind() Kind  { return KindUint8 }
func (Uint16) Kind() Kind { return KindUint16 }
func (Uint32) Kind() Kind { return KindUint32 }
func (Uint64) Kind() Kind { return KindUint64 }

func (String) isValue() {}
func (Bool) isValue()   {}
func (Int32) isValue()  {}
func (Int64) isValue()  {}
func (Uint8) isValue()  {}
func (Uint16) isValue() {}
func (Uint32) isValue() {}
func (Uint64) isValue() {}

// Blob is an immutable byte sequence. The zero Blob is a present,
// zero-length value.
type Blob struct {
	b []byte
}

// NewBlob copies b into a new Blob. The caller may reuse b afterwards.
func NewBlob(b []byte) Blob {
	return Blob{b: bytes.Clone(b)}
}

// Bytes returns a copy of the blob contents.
func (b Blob) Bytes() []byte {
	return append([]byte{}, b.b...)
}

// Len returns the blob length in bytes.
func (b Blob) Len() int { return len(b.b) }

func (Blob) Kind() Kind { return KindBlob }
func (Blob) isValue()   {}

// Equal reports whether a and b are structurally equal. Map comparison
// ignores key order; list comparison does not.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case *Map:
		bv := b.(*Map)
		if av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			other, ok := bv.vals[k]
			if !ok || !Equal(av.vals[k], other) {
				return false
			}
		}
		return true
	case *List:
		bv := b.(*List)
		if av.Len() != bv.Len() {
			return false
		}
		for i, item := range av.items {
			if !Equal(item, bv.items[i]) {
				return false
			}
		}
		return true
	case Blob:
		return bytes.Equal(av.b, b.(Blob).b)
	default:
		return a == b
	}
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch tv := v.(type) {
	case *Map:
		return tv.Clone()
	case *List:
		return tv.Clone()
	default:
		// Scalars and blobs are immutable.
		return v
	}
}
