// Package dict implements the self-describing document model used for every
// piece of packet filter configuration exchanged with the filtering engine.
//
// # Overview
//
// A document is a tree of typed values. Containers are [Map] (ordered,
// string-keyed) and [List]. Scalars are [String], [Bool], the fixed-width
// integers [Int32], [Int64], [Uint8], [Uint16], [Uint32], [Uint64], and
// [Blob] for opaque binary data.
//
// # Schema
//
// The model does not enforce any schema. A missing key is reported as
// "not present" (ok == false). A key that holds a value of a different kind
// than the caller expects is a contract violation; use [Lookup] to tell the
// two apart, or the lenient typed getters (GetString, GetUint32, ...) to
// treat both as absent.
//
// # Transport form
//
// [Marshal] and [Unmarshal] convert a tree to and from CBOR. The encoding
// keeps map order and the exact integer width, so Unmarshal(Marshal(v)) is
// always [Equal] to v.
//
//	m := dict.NewMap()
//	m.SetString("name", "default")
//	m.SetUint32("attr", 0x1)
//	data, _ := dict.Marshal(m)
//	back, _ := dict.UnmarshalMap(data)
package dict
