// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package luabridge converts between Lua values and structured.Value.
//
// A Lua table converts to an array when its first key is a number and to a
// map when its first key is a string. Array keys must be positive integers;
// holes become Undefined entries. Known round-trip losses:
//   - empty arrays and maps become an empty table, which converts back to
//     Undefined
//   - reals with an integral value come back as integers
//   - UUID, Date and URI values become Lua strings
//   - trailing Undefined array entries and Undefined map values are dropped,
//     since Lua tables do not store nil
package luabridge

import (
	"errors"
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/aplane-algo/luahost/internal/structured"
)

// ErrStackOverflow is returned when a value nests deeper than Limits.MaxDepth.
// Self-referencing tables always end here.
var ErrStackOverflow = errors.New("stack overflow converting nested table")

// Limits bounds table conversion.
type Limits struct {
	// ArrayMax is the largest number of entries accepted for an array table.
	ArrayMax int
	// ArrayGapMax bounds (highest key - entry count) for an array table.
	ArrayGapMax int
	// MaxDepth bounds table nesting in either direction.
	MaxDepth int
}

// DefaultLimits returns the stock conversion limits.
func DefaultLimits() Limits {
	return Limits{
		ArrayMax:    10000,
		ArrayGapMax: 100,
		MaxDepth:    200,
	}
}

// ToValue converts a Lua value using DefaultLimits.
func ToValue(lv lua.LValue) (structured.Value, error) {
	return DefaultLimits().ToValue(lv)
}

// ToLua converts a structured value using DefaultLimits.
func ToLua(L *lua.LState, v structured.Value) (lua.LValue, error) {
	return DefaultLimits().ToLua(L, v)
}

// Check converts argument n of the running Go function, raising a Lua error
// if it cannot be converted. Use it only from inside a Lua call.
func (lim Limits) Check(L *lua.LState, n int) structured.Value {
	v, err := lim.ToValue(L.Get(n))
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	return v
}

// Push converts v and pushes it on the stack, raising a Lua error on failure.
func (lim Limits) Push(L *lua.LState, v structured.Value) {
	lv, err := lim.ToLua(L, v)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(lv)
}

// ToValue converts a Lua value to a structured value.
func (lim Limits) ToValue(lv lua.LValue) (structured.Value, error) {
	return lim.toValue(lv, 0)
}

func (lim Limits) toValue(lv lua.LValue, depth int) (structured.Value, error) {
	switch val := lv.(type) {
	case *lua.LNilType:
		return structured.Undefined(), nil
	case lua.LBool:
		return structured.Bool(bool(val)), nil
	case lua.LNumber:
		return numberValue(float64(val)), nil
	case lua.LString:
		return structured.String(string(val)), nil
	case *lua.LUserData:
		if b, ok := val.Value.([]byte); ok {
			return structured.Binary(b), nil
		}
		return structured.Value{}, fmt.Errorf("Cannot convert type userdata to structured value")
	case *lua.LTable:
		if depth >= lim.MaxDepth {
			return structured.Value{}, fmt.Errorf("%w (depth %d)", ErrStackOverflow, depth)
		}
		return lim.tableValue(val, depth)
	}
	if lv == nil {
		return structured.Undefined(), nil
	}
	return structured.Value{}, fmt.Errorf("Cannot convert type %s to structured value", lv.Type())
}

// numberValue classifies n as Integer when truncation to int64 reproduces it
// exactly, since Lua keeps a single number type.
func numberValue(n float64) structured.Value {
	if !math.IsNaN(n) && !math.IsInf(n, 0) && n >= math.MinInt64 && n < math.MaxInt64 {
		if i := int64(n); float64(i) == n {
			return structured.Integer(i)
		}
	}
	return structured.Real(n)
}

func (lim Limits) tableValue(tbl *lua.LTable, depth int) (structured.Value, error) {
	first, _ := tbl.Next(lua.LNil)
	if first == lua.LNil {
		// No way to tell an empty array from an empty map.
		return structured.Undefined(), nil
	}
	switch first.Type() {
	case lua.LTNumber:
		return lim.arrayValue(tbl, depth)
	case lua.LTString:
		return lim.mapValue(tbl, depth)
	}
	return structured.Value{}, fmt.Errorf("Cannot convert %s table key to structured value", first.Type())
}

func (lim Limits) arrayValue(tbl *lua.LTable, depth int) (structured.Value, error) {
	keys := make([]int64, 0, tbl.Len())
	for k, _ := tbl.Next(lua.LNil); k != lua.LNil; k, _ = tbl.Next(k) {
		switch key := k.(type) {
		case lua.LNumber:
			f := float64(key)
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
				return structured.Value{}, fmt.Errorf("Expected integer array key, got %f instead", f)
			}
			if f < 1 || f >= math.MaxInt64 {
				return structured.Value{}, fmt.Errorf("array key %.0f out of bounds", f)
			}
			keys = append(keys, int64(f))
		case lua.LString:
			return structured.Value{}, fmt.Errorf("Cannot convert string array key '%s' to structured value", string(key))
		default:
			return structured.Value{}, fmt.Errorf("Cannot convert %s array key to structured value", k.Type())
		}
	}
	if len(keys) > lim.ArrayMax {
		return structured.Value{}, fmt.Errorf("Conversion from Lua to structured array limited to %d entries", lim.ArrayMax)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	highkey := keys[len(keys)-1]
	if highkey-int64(len(keys)) > int64(lim.ArrayGapMax) {
		return structured.Value{}, fmt.Errorf("Gaps in Lua table too large for conversion to structured array")
	}

	result := structured.EmptyArray()
	result.SetIndex(int(highkey-1), structured.Undefined())
	for k, v := tbl.Next(lua.LNil); k != lua.LNil; k, v = tbl.Next(k) {
		item, err := lim.toValue(v, depth+1)
		if err != nil {
			return structured.Value{}, err
		}
		result.SetIndex(int(k.(lua.LNumber))-1, item)
	}
	return result, nil
}

func (lim Limits) mapValue(tbl *lua.LTable, depth int) (structured.Value, error) {
	result := structured.EmptyMap()
	for k, v := tbl.Next(lua.LNil); k != lua.LNil; k, v = tbl.Next(k) {
		key, ok := k.(lua.LString)
		if !ok {
			return structured.Value{}, fmt.Errorf("Cannot convert %s map key to structured value", k.Type())
		}
		item, err := lim.toValue(v, depth+1)
		if err != nil {
			return structured.Value{}, err
		}
		result.Set(string(key), item)
	}
	return result, nil
}

// ToLua converts a structured value to a Lua value. Maps and arrays become
// fresh tables, Binary becomes userdata holding a copy of the bytes.
func (lim Limits) ToLua(L *lua.LState, v structured.Value) (lua.LValue, error) {
	return lim.toLua(L, v, 0)
}

func (lim Limits) toLua(L *lua.LState, v structured.Value, depth int) (lua.LValue, error) {
	switch v.Kind() {
	case structured.KindUndefined:
		return lua.LNil, nil
	case structured.KindBool:
		return lua.LBool(v.AsBool()), nil
	case structured.KindInteger:
		return lua.LNumber(v.AsInteger()), nil
	case structured.KindReal:
		return lua.LNumber(v.AsReal()), nil
	case structured.KindBinary:
		ud := L.NewUserData()
		ud.Value = v.AsBinary()
		return ud, nil
	case structured.KindMap:
		if depth >= lim.MaxDepth {
			return lua.LNil, fmt.Errorf("%w (depth %d)", ErrStackOverflow, depth)
		}
		tbl := L.CreateTable(0, v.Len())
		for _, key := range v.Keys() {
			item, err := lim.toLua(L, v.Get(key), depth+1)
			if err != nil {
				return lua.LNil, err
			}
			tbl.RawSetString(key, item)
		}
		return tbl, nil
	case structured.KindArray:
		if depth >= lim.MaxDepth {
			return lua.LNil, fmt.Errorf("%w (depth %d)", ErrStackOverflow, depth)
		}
		tbl := L.CreateTable(v.Len(), 0)
		for i, item := range v.Items() {
			lv, err := lim.toLua(L, item, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			if lv != lua.LNil {
				tbl.RawSetInt(i+1, lv)
			}
		}
		return tbl, nil
	}
	// String, UUID, Date, URI
	return lua.LString(v.AsString()), nil
}
