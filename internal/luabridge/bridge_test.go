// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luabridge

import (
	"errors"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/aplane-algo/luahost/internal/structured"
)

// evalLua assigns a Lua expression to a global and returns its value.
func evalLua(t *testing.T, L *lua.LState, expr string) lua.LValue {
	t.Helper()
	if err := L.DoString("__result = " + expr); err != nil {
		t.Fatalf("DoString(%q) error = %v", expr, err)
	}
	return L.GetGlobal("__result")
}

func roundTrip(t *testing.T, L *lua.LState, v structured.Value) structured.Value {
	t.Helper()
	lv, err := ToLua(L, v)
	if err != nil {
		t.Fatalf("ToLua(%v) error = %v", v, err)
	}
	back, err := ToValue(lv)
	if err != nil {
		t.Fatalf("ToValue(%v) error = %v", lv, err)
	}
	return back
}

func TestScalarRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		v    structured.Value
	}{
		{"true", structured.Bool(true)},
		{"false", structured.Bool(false)},
		{"string", structured.String("hello\x00world")},
		{"empty string", structured.String("")},
		{"binary", structured.Binary([]byte{0, 0xff, 7})},
		{"integer", structured.Integer(-42)},
		{"real", structured.Real(2.5)},
		{"undefined", structured.Undefined()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roundTrip(t, L, tt.v); !got.Equal(tt.v) {
				t.Errorf("round trip = %v, want %v", got, tt.v)
			}
		})
	}
}

func TestIntegralRealBecomesInteger(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	got := roundTrip(t, L, structured.Real(3.0))
	if got.Kind() != structured.KindInteger || got.AsInteger() != 3 {
		t.Errorf("Real(3.0) round trip = %v (%v), want Integer 3", got, got.Kind())
	}

	got, err := ToValue(evalLua(t, L, "7 / 2"))
	if err != nil {
		t.Fatalf("ToValue() error = %v", err)
	}
	if got.Kind() != structured.KindReal {
		t.Errorf("7/2 kind = %v, want real", got.Kind())
	}
}

func TestStringLikeKindsBecomeStrings(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	got := roundTrip(t, L, structured.URI("https://example.com"))
	if got.Kind() != structured.KindString || got.AsString() != "https://example.com" {
		t.Errorf("URI round trip = %v (%v), want String", got, got.Kind())
	}
}

func TestArrayRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	arr := structured.Array(structured.Integer(1), structured.Integer(2), structured.Integer(3))
	if got := roundTrip(t, L, arr); !got.Equal(arr) {
		t.Errorf("round trip = %v, want %v", got, arr)
	}

	trailing := structured.Array(structured.Integer(1), structured.Undefined())
	want := structured.Array(structured.Integer(1))
	if got := roundTrip(t, L, trailing); !got.Equal(want) {
		t.Errorf("trailing undefined round trip = %v, want %v", got, want)
	}
}

func TestEmptyContainersBecomeUndefined(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	for _, v := range []structured.Value{structured.EmptyArray(), structured.EmptyMap()} {
		lv, err := ToLua(L, v)
		if err != nil {
			t.Fatalf("ToLua() error = %v", err)
		}
		if _, ok := lv.(*lua.LTable); !ok {
			t.Errorf("ToLua(%v) = %T, want table", v, lv)
		}
		back, err := ToValue(lv)
		if err != nil {
			t.Fatalf("ToValue() error = %v", err)
		}
		if !back.IsUndefined() {
			t.Errorf("empty %v round trip = %v, want undefined", v.Kind(), back)
		}
	}
}

func TestMapRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	m := structured.MapOf("op", "getAPI", "api", "scripts", "nested", map[string]any{"a": []any{1, "b"}})
	if got := roundTrip(t, L, m); !got.Equal(m) {
		t.Errorf("round trip = %v, want %v", got, m)
	}
}

func TestArrayWithHole(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	got, err := ToValue(evalLua(t, L, "{[1]='a', [2]='b', [4]='d'}"))
	if err != nil {
		t.Fatalf("ToValue() error = %v", err)
	}
	if !got.IsArray() || got.Len() != 4 {
		t.Fatalf("got %v, want 4-entry array", got)
	}
	if !got.Index(2).IsUndefined() {
		t.Errorf("Index(2) = %v, want undefined", got.Index(2))
	}
	if got.Index(3).AsString() != "d" {
		t.Errorf("Index(3) = %v, want \"d\"", got.Index(3))
	}
}

func TestTableConversionErrors(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"mixed keys", "{1, x = 2}", "string array key 'x'"},
		{"fractional key", "{[1.5] = 1}", "Expected integer array key"},
		{"zero key", "{[0] = 1}", "out of bounds"},
		{"negative key", "{[-3] = 1}", "out of bounds"},
		{"large gap", "{[1] = 1, [500] = 2}", "Gaps in Lua table"},
		{"boolean key", "{[true] = 1}", "Cannot convert boolean table key"},
		{"map with number key", "(function() local t = {x = 1}; t[false] = 2; return t end)()", "map key"},
		{"function value", "print", "Cannot convert type function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToValue(evalLua(t, L, tt.expr))
			if err == nil {
				t.Fatalf("ToValue(%s) error = nil, want %q", tt.expr, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ToValue(%s) error = %q, want containing %q", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestArrayMaxLimit(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	lim := DefaultLimits()
	lim.ArrayMax = 3
	_, err := lim.ToValue(evalLua(t, L, "{1, 2, 3, 4}"))
	if err == nil || !strings.Contains(err.Error(), "limited to 3 entries") {
		t.Errorf("ToValue() error = %v, want array limit error", err)
	}
}

func TestSelfReferenceOverflows(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := ToValue(evalLua(t, L, "(function() local t = {}; t.self = t; return t end)()"))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("ToValue() error = %v, want ErrStackOverflow", err)
	}
}

func TestCheckRaisesLuaError(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("convert", L.NewFunction(func(L *lua.LState) int {
		v := DefaultLimits().Check(L, 1)
		DefaultLimits().Push(L, v)
		return 1
	}))
	if err := L.DoString("assert(convert({a = 1}).a == 1)"); err != nil {
		t.Fatalf("convert map error = %v", err)
	}
	err := L.DoString("convert({1, y = 2})")
	if err == nil || !strings.Contains(err.Error(), "array key") {
		t.Errorf("convert mixed error = %v, want array key error", err)
	}
}
