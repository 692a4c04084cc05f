// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package structured implements the host's generic structured data value:
// a tagged variant exchanged between host code, event pumps and scripts.
//
// A Value is one of Undefined, Bool, Integer, Real, String, UUID, Date, URI,
// Binary, Array or Map. Maps keep keys in insertion order. The zero Value is
// Undefined.
package structured

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindBool
	KindInteger
	KindReal
	KindString
	KindUUID
	KindDate
	KindURI
	KindBinary
	KindArray
	KindMap
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindBool:      "boolean",
	KindInteger:   "integer",
	KindReal:      "real",
	KindString:    "string",
	KindUUID:      "uuid",
	KindDate:      "date",
	KindURI:       "uri",
	KindBinary:    "binary",
	KindArray:     "array",
	KindMap:       "map",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Value is a structured data value. Array and Map values share their
// storage when copied; use Clone for an independent copy.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	r     float64
	s     string
	id    uuid.UUID
	t     time.Time
	bin   []byte
	items *[]Value
	m     *orderedMap
}

type orderedMap struct {
	keys   []string
	fields map[string]Value
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Integer returns an integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Real returns a real value.
func Real(r float64) Value { return Value{kind: KindReal, r: r} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// UUID returns a UUID value.
func UUID(id uuid.UUID) Value { return Value{kind: KindUUID, id: id} }

// Date returns a date value, normalized to UTC.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }

// URI returns a URI value.
func URI(u string) Value { return Value{kind: KindURI, s: u} }

// Binary returns a binary value holding a copy of b.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: bytes.Clone(nonNil(b))}
}

// Array returns an array holding items.
func Array(items ...Value) Value {
	list := make([]Value, len(items))
	copy(list, items)
	return Value{kind: KindArray, items: &list}
}

// EmptyArray returns an array with no entries.
func EmptyArray() Value { return Array() }

// EmptyMap returns a map with no entries.
func EmptyMap() Value {
	return Value{kind: KindMap, m: &orderedMap{fields: make(map[string]Value)}}
}

// MapOf builds a map from alternating key, value pairs.
// MapOf("op", String("ping"), "reqid", Integer(1))
func MapOf(pairs ...any) Value {
	if len(pairs)%2 != 0 {
		panic("structured.MapOf: odd number of arguments")
	}
	v := EmptyMap()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("structured.MapOf: key %v is not a string", pairs[i]))
		}
		val, err := FromInterface(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("structured.MapOf: %v", err))
		}
		v.Set(key, val)
	}
	return v
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsArray() bool     { return v.kind == KindArray }
func (v Value) IsMap() bool       { return v.kind == KindMap }

// IsString reports whether v holds one of the string-like kinds.
func (v Value) IsString() bool {
	switch v.kind {
	case KindString, KindUUID, KindDate, KindURI:
		return true
	}
	return false
}

// AsBool converts v to a boolean. Numbers are true when non-zero, strings
// and binaries when non-empty.
func (v Value) AsBool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInteger:
		return v.i != 0
	case KindReal:
		return v.r != 0 && !math.IsNaN(v.r)
	case KindString, KindURI:
		return v.s != ""
	case KindBinary:
		return len(v.bin) > 0
	}
	return false
}

// AsInteger converts v to an integer. Reals are truncated, strings parsed;
// anything unconvertible yields 0.
func (v Value) AsInteger() int64 {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1
		}
	case KindInteger:
		return v.i
	case KindReal:
		if math.IsNaN(v.r) || math.IsInf(v.r, 0) {
			return 0
		}
		return int64(v.r)
	case KindString:
		if i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return int64(f)
		}
	case KindDate:
		return v.t.Unix()
	}
	return 0
}

// AsReal converts v to a real.
func (v Value) AsReal() float64 {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1
		}
	case KindInteger:
		return float64(v.i)
	case KindReal:
		return v.r
	case KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return f
		}
	case KindDate:
		return float64(v.t.UnixNano()) / 1e9
	}
	return 0
}

// AsString converts v to its string form. Containers and undefined yield "".
func (v Value) AsString() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.r, 'g', -1, 64)
	case KindString, KindURI:
		return v.s
	case KindUUID:
		return v.id.String()
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	case KindBinary:
		return base64.StdEncoding.EncodeToString(v.bin)
	}
	return ""
}

// AsUUID returns the UUID held by v, parsing string values.
func (v Value) AsUUID() (uuid.UUID, error) {
	switch v.kind {
	case KindUUID:
		return v.id, nil
	case KindString:
		return uuid.Parse(v.s)
	}
	return uuid.Nil, fmt.Errorf("cannot convert %s to uuid", v.kind)
}

// AsDate returns the time held by v, parsing RFC 3339 strings.
func (v Value) AsDate() (time.Time, error) {
	switch v.kind {
	case KindDate:
		return v.t, nil
	case KindString:
		return time.Parse(time.RFC3339Nano, v.s)
	}
	return time.Time{}, fmt.Errorf("cannot convert %s to date", v.kind)
}

// AsBinary returns a copy of the bytes held by v. Strings yield their bytes.
func (v Value) AsBinary() []byte {
	switch v.kind {
	case KindBinary:
		return bytes.Clone(v.bin)
	case KindString, KindURI:
		return []byte(v.s)
	}
	return nil
}

// Len returns the number of entries of an array or map, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(*v.items)
	case KindMap:
		return len(v.m.keys)
	}
	return 0
}

// Index returns array entry i, or Undefined when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(*v.items) {
		return Value{}
	}
	return (*v.items)[i]
}

// Items returns a copy of the array entries.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	out := make([]Value, len(*v.items))
	copy(out, *v.items)
	return out
}

// Get returns map entry key, or Undefined when absent.
func (v Value) Get(key string) Value {
	if v.kind != KindMap {
		return Value{}
	}
	return v.m.fields[key]
}

// Has reports whether the map holds key.
func (v Value) Has(key string) bool {
	if v.kind != KindMap {
		return false
	}
	_, ok := v.m.fields[key]
	return ok
}

// Keys returns the map keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	out := make([]string, len(v.m.keys))
	copy(out, v.m.keys)
	return out
}

// Append adds item to the end of an array. An undefined v becomes an array.
func (v *Value) Append(item Value) {
	v.becomeArray()
	*v.items = append(*v.items, item)
}

// SetIndex stores item at index i, growing the array with Undefined entries
// as needed. An undefined v becomes an array.
func (v *Value) SetIndex(i int, item Value) {
	if i < 0 {
		panic(fmt.Sprintf("structured: negative array index %d", i))
	}
	v.becomeArray()
	if i >= len(*v.items) {
		grown := make([]Value, i+1)
		copy(grown, *v.items)
		*v.items = grown
	}
	(*v.items)[i] = item
}

// Set stores item under key, keeping the original position of an existing
// key. An undefined v becomes a map.
func (v *Value) Set(key string, item Value) {
	if v.kind == KindUndefined {
		*v = EmptyMap()
	}
	if v.kind != KindMap {
		panic(fmt.Sprintf("structured: Set on %s value", v.kind))
	}
	if _, exists := v.m.fields[key]; !exists {
		v.m.keys = append(v.m.keys, key)
	}
	v.m.fields[key] = item
}

// Delete removes key from a map. Deleting from a non-map is a no-op.
func (v *Value) Delete(key string) {
	if v.kind != KindMap {
		return
	}
	if _, exists := v.m.fields[key]; !exists {
		return
	}
	delete(v.m.fields, key)
	for i, k := range v.m.keys {
		if k == key {
			v.m.keys = append(v.m.keys[:i], v.m.keys[i+1:]...)
			break
		}
	}
}

func (v *Value) becomeArray() {
	if v.kind == KindUndefined {
		*v = EmptyArray()
	}
	if v.kind != KindArray {
		panic(fmt.Sprintf("structured: array operation on %s value", v.kind))
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBinary:
		return Binary(v.bin)
	case KindArray:
		out := EmptyArray()
		for _, item := range *v.items {
			out.Append(item.Clone())
		}
		return out
	case KindMap:
		out := EmptyMap()
		for _, k := range v.m.keys {
			out.Set(k, v.m.fields[k].Clone())
		}
		return out
	}
	return v
}

// Equal reports whether v and other hold the same kind and contents.
// Map comparison ignores key order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindUndefined:
		return true
	case KindBool:
		return v.b == other.b
	case KindInteger:
		return v.i == other.i
	case KindReal:
		return v.r == other.r || (math.IsNaN(v.r) && math.IsNaN(other.r))
	case KindString, KindURI:
		return v.s == other.s
	case KindUUID:
		return v.id == other.id
	case KindDate:
		return v.t.Equal(other.t)
	case KindBinary:
		return bytes.Equal(v.bin, other.bin)
	case KindArray:
		if len(*v.items) != len(*other.items) {
			return false
		}
		for i, item := range *v.items {
			if !item.Equal((*other.items)[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m.keys) != len(other.m.keys) {
			return false
		}
		for k, item := range v.m.fields {
			o, ok := other.m.fields[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v in a compact notation used for logging:
// undefined as !, strings quoted, binaries as b64"..", arrays [..], maps {..}.
func (v Value) String() string {
	var sb strings.Builder
	v.writeNotation(&sb)
	return sb.String()
}

func (v Value) writeNotation(sb *strings.Builder) {
	switch v.kind {
	case KindUndefined:
		sb.WriteString("!")
	case KindBool, KindInteger, KindReal:
		sb.WriteString(v.AsString())
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindUUID:
		sb.WriteString("u" + v.id.String())
	case KindDate:
		sb.WriteString("d" + strconv.Quote(v.AsString()))
	case KindURI:
		sb.WriteString("l" + strconv.Quote(v.s))
	case KindBinary:
		sb.WriteString("b64" + strconv.Quote(v.AsString()))
	case KindArray:
		sb.WriteByte('[')
		for i, item := range *v.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.writeNotation(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, k := range v.m.keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			v.m.fields[k].writeNotation(sb)
		}
		sb.WriteByte('}')
	}
}
