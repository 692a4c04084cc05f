// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package structured

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// CBOR tag numbers from RFC 8949 / IANA registry.
const (
	cborTagDateString = 0
	cborTagEpoch      = 1
	cborTagURI        = 32
	cborTagUUID       = 37
)

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TimeTag = cbor.EncTagRequired
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("structured: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FromInterface converts a plain Go value (as produced by encoding/json,
// yaml.v3 or cbor decoding into interface{}) to a Value.
func FromInterface(x any) (Value, error) {
	switch val := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return val, nil
	case *Value:
		if val == nil {
			return Value{}, nil
		}
		return *val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Integer(int64(val)), nil
	case int8:
		return Integer(int64(val)), nil
	case int16:
		return Integer(int64(val)), nil
	case int32:
		return Integer(int64(val)), nil
	case int64:
		return Integer(val), nil
	case uint:
		return fromUnsigned(uint64(val))
	case uint8:
		return Integer(int64(val)), nil
	case uint16:
		return Integer(int64(val)), nil
	case uint32:
		return Integer(int64(val)), nil
	case uint64:
		return fromUnsigned(val)
	case float32:
		return Real(float64(val)), nil
	case float64:
		return Real(val), nil
	case json.Number:
		return fromNumberText(val.String())
	case string:
		return String(val), nil
	case []byte:
		return Binary(val), nil
	case uuid.UUID:
		return UUID(val), nil
	case time.Time:
		return Date(val), nil
	case cbor.Tag:
		return fromCBORTag(val)
	case []Value:
		return Array(val...), nil
	case []string:
		out := EmptyArray()
		for _, s := range val {
			out.Append(String(s))
		}
		return out, nil
	case []any:
		out := EmptyArray()
		for i, item := range val {
			conv, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Append(conv)
		}
		return out, nil
	case map[string]any:
		out := EmptyMap()
		for _, k := range sortedKeys(val) {
			conv, err := FromInterface(val[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			out.Set(k, conv)
		}
		return out, nil
	case map[any]any:
		out := EmptyMap()
		plain := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("map key %v (%T) is not a string", k, k)
			}
			plain[key] = item
		}
		for _, k := range sortedKeys(plain) {
			conv, err := FromInterface(plain[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			out.Set(k, conv)
		}
		return out, nil
	}
	return Value{}, fmt.Errorf("cannot convert %T to structured value", x)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fromUnsigned(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Real(float64(u)), nil
	}
	return Integer(int64(u)), nil
}

func fromNumberText(s string) (Value, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Integer(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Real(f), nil
}

func fromCBORTag(tag cbor.Tag) (Value, error) {
	switch tag.Number {
	case cborTagDateString:
		s, ok := tag.Content.(string)
		if !ok {
			return Value{}, fmt.Errorf("cbor date tag holds %T", tag.Content)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, err
		}
		return Date(t), nil
	case cborTagEpoch:
		secs, err := FromInterface(tag.Content)
		if err != nil {
			return Value{}, err
		}
		f := secs.AsReal()
		whole, frac := math.Modf(f)
		return Date(time.Unix(int64(whole), int64(frac*1e9))), nil
	case cborTagURI:
		s, ok := tag.Content.(string)
		if !ok {
			return Value{}, fmt.Errorf("cbor uri tag holds %T", tag.Content)
		}
		return URI(s), nil
	case cborTagUUID:
		b, ok := tag.Content.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("cbor uuid tag holds %T", tag.Content)
		}
		id, err := uuid.FromBytes(b)
		if err != nil {
			return Value{}, err
		}
		return UUID(id), nil
	}
	return FromInterface(tag.Content)
}

// Interface converts v to plain Go values: nil, bool, int64, float64,
// string, []byte, time.Time, []any and map[string]any. UUIDs and URIs
// become strings.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInteger:
		return v.i
	case KindReal:
		return v.r
	case KindString, KindURI:
		return v.s
	case KindUUID:
		return v.id.String()
	case KindDate:
		return v.t
	case KindBinary:
		return bytes.Clone(v.bin)
	case KindArray:
		out := make([]any, len(*v.items))
		for i, item := range *v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m.keys))
		for _, k := range v.m.keys {
			out[k] = v.m.fields[k].Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON encodes v as JSON, preserving map key order. Binary becomes a
// base64 string, dates RFC 3339 strings, undefined null.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindArray:
		buf.WriteByte('[')
		for i, item := range *v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.m.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.m.fields[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case KindReal:
		if math.IsNaN(v.r) || math.IsInf(v.r, 0) {
			buf.WriteString("null")
			return nil
		}
	case KindDate:
		out, err := json.Marshal(v.AsString())
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
	out, err := json.Marshal(v.Interface())
	if err != nil {
		return err
	}
	buf.Write(out)
	return nil
}

// UnmarshalJSON decodes JSON into v, preserving object key order. Numbers
// without fraction or exponent that fit in int64 become integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeJSON(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON value")
	}
	*v = out
	return nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			out := EmptyArray()
			for dec.More() {
				item, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				out.Append(item)
			}
			_, err := dec.Token()
			return out, err
		case '{':
			out := EmptyMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected JSON object key %v", keyTok)
				}
				item, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				out.Set(key, item)
			}
			_, err := dec.Token()
			return out, err
		}
		return Value{}, fmt.Errorf("unexpected JSON delimiter %v", t)
	case json.Number:
		return fromNumberText(t.String())
	}
	return FromInterface(tok)
}

// ParseYAML decodes YAML text into a Value, preserving mapping order.
func ParseYAML(text string) (Value, error) {
	var v Value
	if err := yaml.Unmarshal([]byte(text), &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.yamlNode(), nil
}

func (v Value) yamlNode() *yaml.Node {
	scalar := func(tag, text string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: text}
	}
	switch v.kind {
	case KindBool:
		return scalar("!!bool", v.AsString())
	case KindInteger:
		return scalar("!!int", v.AsString())
	case KindReal:
		switch {
		case math.IsNaN(v.r):
			return scalar("!!float", ".nan")
		case math.IsInf(v.r, 1):
			return scalar("!!float", ".inf")
		case math.IsInf(v.r, -1):
			return scalar("!!float", "-.inf")
		}
		text := strconv.FormatFloat(v.r, 'g', -1, 64)
		if _, err := strconv.ParseInt(text, 10, 64); err == nil {
			text += ".0"
		}
		return scalar("!!float", text)
	case KindString, KindURI, KindUUID:
		return scalar("!!str", v.AsString())
	case KindDate:
		return scalar("!!timestamp", v.AsString())
	case KindBinary:
		return scalar("!!binary", base64.StdEncoding.EncodeToString(v.bin))
	case KindArray:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range *v.items {
			node.Content = append(node.Content, item.yamlNode())
		}
		return node
	case KindMap:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.m.keys {
			node.Content = append(node.Content, scalar("!!str", k), v.m.fields[k].yamlNode())
		}
		return node
	}
	return scalar("!!null", "~")
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	out, err := fromYAMLNode(node)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromYAMLNode(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Value{}, nil
		}
		return fromYAMLNode(node.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(node.Alias)
	case yaml.SequenceNode:
		out := EmptyArray()
		for _, child := range node.Content {
			item, err := fromYAMLNode(child)
			if err != nil {
				return Value{}, err
			}
			out.Append(item)
		}
		return out, nil
	case yaml.MappingNode:
		out := EmptyMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			item, err := fromYAMLNode(node.Content[i+1])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", key, err)
			}
			out.Set(key, item)
		}
		return out, nil
	case yaml.ScalarNode:
		return fromYAMLScalar(node)
	}
	return Value{}, fmt.Errorf("line %d: unsupported YAML node kind %d", node.Line, node.Kind)
}

func fromYAMLScalar(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Value{}, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			var f float64
			if ferr := node.Decode(&f); ferr != nil {
				return Value{}, err
			}
			return Real(f), nil
		}
		return Integer(i), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, err
		}
		return Real(f), nil
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(node.Value), ""))
		if err != nil {
			return Value{}, fmt.Errorf("line %d: invalid binary: %w", node.Line, err)
		}
		return Binary(b), nil
	case "!!timestamp":
		var t time.Time
		if err := node.Decode(&t); err != nil {
			return Value{}, err
		}
		return Date(t), nil
	}
	return String(node.Value), nil
}

// MarshalCBOR encodes v as canonical CBOR. UUIDs use tag 37, URIs tag 32 and
// dates tag 0. Map keys are sorted by the canonical encoding rules.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(v.cborInterface())
}

func (v Value) cborInterface() any {
	switch v.kind {
	case KindUUID:
		return cbor.Tag{Number: cborTagUUID, Content: v.id[:]}
	case KindURI:
		return cbor.Tag{Number: cborTagURI, Content: v.s}
	case KindArray:
		out := make([]any, len(*v.items))
		for i, item := range *v.items {
			out[i] = item.cborInterface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m.keys))
		for _, k := range v.m.keys {
			out[k] = v.m.fields[k].cborInterface()
		}
		return out
	}
	return v.Interface()
}

// UnmarshalCBOR decodes CBOR into v.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("structured: unmarshal cbor: %w", err)
	}
	out, err := FromInterface(raw)
	if err != nil {
		return fmt.Errorf("structured: unmarshal cbor: %w", err)
	}
	*v = out
	return nil
}
