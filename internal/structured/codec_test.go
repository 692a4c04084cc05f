// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package structured

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func sampleNested() Value {
	v := EmptyMap()
	v.Set("name", String("fiber"))
	v.Set("count", Integer(3))
	v.Set("ratio", Real(0.25))
	v.Set("ok", Bool(true))
	v.Set("blob", Binary([]byte{0, 1, 2, 254}))
	v.Set("items", Array(Integer(1), String("two"), MapOf("three", 3)))
	return v
}

func TestJSONPreservesOrderAndNumbers(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"b":1,"a":2.5,"c":[true,null,"x"]}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got := strings.Join(v.Keys(), ","); got != "b,a,c" {
		t.Errorf("keys = %s, want b,a,c", got)
	}
	if v.Get("b").Kind() != KindInteger {
		t.Errorf("b kind = %v, want integer", v.Get("b").Kind())
	}
	if v.Get("a").Kind() != KindReal {
		t.Errorf("a kind = %v, want real", v.Get("a").Kind())
	}
	if !v.Get("c").Index(1).IsUndefined() {
		t.Errorf("c[1] = %v, want undefined", v.Get("c").Index(1))
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"b":1,"a":2.5,"c":[true,null,"x"]}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	orig := sampleNested()
	out, err := yaml.Marshal(orig)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	back, err := ParseYAML(string(out))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v\n%s", err, out)
	}
	if !back.Equal(orig) {
		t.Errorf("round trip = %v, want %v\n%s", back, orig, out)
	}
	if got := strings.Join(back.Keys(), ","); got != strings.Join(orig.Keys(), ",") {
		t.Errorf("key order = %s, want %s", got, strings.Join(orig.Keys(), ","))
	}
}

func TestParseYAMLScalars(t *testing.T) {
	v, err := ParseYAML("op: listen\nsource: lua output\nreqid: 7\nscale: 1.5\nmissing: ~\n")
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	if v.Get("op").AsString() != "listen" {
		t.Errorf("op = %v", v.Get("op"))
	}
	if v.Get("reqid").Kind() != KindInteger || v.Get("reqid").AsInteger() != 7 {
		t.Errorf("reqid = %v", v.Get("reqid"))
	}
	if v.Get("scale").Kind() != KindReal {
		t.Errorf("scale kind = %v, want real", v.Get("scale").Kind())
	}
	if !v.Has("missing") || !v.Get("missing").IsUndefined() {
		t.Errorf("missing = %v, want present and undefined", v.Get("missing"))
	}
}

func TestCBORRoundTrip(t *testing.T) {
	orig := sampleNested()
	orig.Set("id", UUID(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")))
	orig.Set("link", URI("https://example.com/x"))
	orig.Set("when", Date(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	data, err := orig.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR() error = %v", err)
	}
	var back Value
	if err := back.UnmarshalCBOR(data); err != nil {
		t.Fatalf("UnmarshalCBOR() error = %v", err)
	}
	if !back.Equal(orig) {
		t.Errorf("round trip = %v, want %v", back, orig)
	}
}

func TestFromInterfaceRejectsNonStringKeys(t *testing.T) {
	_, err := FromInterface(map[any]any{1: "x"})
	if err == nil {
		t.Fatal("FromInterface() error = nil, want error for integer key")
	}
}
