// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package structured

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestZeroValueIsUndefined(t *testing.T) {
	var v Value
	if !v.IsUndefined() {
		t.Fatalf("zero Value kind = %v, want undefined", v.Kind())
	}
	if v.Len() != 0 {
		t.Errorf("Len() = %d, want 0", v.Len())
	}
	if got := v.Get("x"); !got.IsUndefined() {
		t.Errorf("Get() on undefined = %v, want undefined", got)
	}
}

func TestSetIndexGrowsWithUndefined(t *testing.T) {
	var v Value
	v.SetIndex(3, Integer(4))

	if !v.IsArray() {
		t.Fatalf("kind = %v, want array", v.Kind())
	}
	if v.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", v.Len())
	}
	for i := 0; i < 3; i++ {
		if !v.Index(i).IsUndefined() {
			t.Errorf("Index(%d) = %v, want undefined", i, v.Index(i))
		}
	}
	if v.Index(3).AsInteger() != 4 {
		t.Errorf("Index(3) = %v, want 4", v.Index(3))
	}
}

func TestMapPreservesInsertionOrder(t *testing.T) {
	v := EmptyMap()
	v.Set("zeta", Integer(1))
	v.Set("alpha", Integer(2))
	v.Set("mid", Integer(3))
	v.Set("zeta", Integer(10))

	want := []string{"zeta", "alpha", "mid"}
	got := v.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if v.Get("zeta").AsInteger() != 10 {
		t.Errorf("Get(zeta) = %v, want 10", v.Get("zeta"))
	}

	v.Delete("alpha")
	if v.Has("alpha") || v.Len() != 2 {
		t.Errorf("after Delete: keys = %v", v.Keys())
	}
}

func TestEqual(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"undefined", Undefined(), Undefined(), true},
		{"int vs real", Integer(1), Real(1), false},
		{"strings", String("a"), String("a"), true},
		{"binary", Binary([]byte{1, 2}), Binary([]byte{1, 2}), true},
		{"binary differs", Binary([]byte{1, 2}), Binary([]byte{1}), false},
		{"uuid", UUID(id), UUID(id), true},
		{"arrays", Array(Integer(1), String("x")), Array(Integer(1), String("x")), true},
		{"array length", Array(Integer(1)), Array(Integer(1), Undefined()), false},
		{"maps ignore order", MapOf("a", 1, "b", 2), MapOf("b", 2, "a", 1), true},
		{"maps differ", MapOf("a", 1), MapOf("a", 2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	date := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name    string
		v       Value
		wantStr string
		wantInt int64
	}{
		{"bool", Bool(true), "true", 1},
		{"integer", Integer(42), "42", 42},
		{"real", Real(2.5), "2.5", 2},
		{"numeric string", String("17"), "17", 17},
		{"date", Date(date), "2026-03-04T05:06:07Z", date.Unix()},
		{"uri", URI("http://example.com/"), "http://example.com/", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.AsString(); got != tt.wantStr {
				t.Errorf("AsString() = %q, want %q", got, tt.wantStr)
			}
			if got := tt.v.AsInteger(); got != tt.wantInt {
				t.Errorf("AsInteger() = %d, want %d", got, tt.wantInt)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := MapOf("list", []any{1, 2})
	clone := orig.Clone()

	list := clone.Get("list")
	list.Append(Integer(3))

	if orig.Get("list").Len() != 2 {
		t.Errorf("original list length = %d, want 2", orig.Get("list").Len())
	}
	if clone.Get("list").Len() != 3 {
		t.Errorf("clone list length = %d, want 3", clone.Get("list").Len())
	}
}

func TestNotation(t *testing.T) {
	v := MapOf("op", "ping", "args", []any{int64(1), true, nil})
	want := `{"op":"ping","args":[1,true,!]}`
	if got := v.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}
