// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package template

import (
	"context"
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// unknownState is what states() returns for entities that do not exist.
const unknownState = "unknown"

// registerFunctions installs the state query functions and routes unknown
// globals to StateProvider.Variable.
func registerFunctions(L *lua.LState, states StateProvider) {
	if states == nil {
		states = emptyStates{}
	}

	L.SetGlobal("states", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		if st, ok := states.Entity(L.Context(), id); ok {
			L.Push(lua.LString(st.State))
		} else {
			L.Push(lua.LString(unknownState))
		}
		return 1
	}))

	L.SetGlobal("is_state", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		want := L.CheckAny(2)
		st, ok := states.Entity(L.Context(), id)
		L.Push(lua.LBool(ok && matchesValue(st.State, want)))
		return 1
	}))

	L.SetGlobal("state_attr", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		attr := L.CheckString(2)
		st, ok := states.Entity(L.Context(), id)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLValue(L, st.Attributes[attr]))
		return 1
	}))

	L.SetGlobal("is_state_attr", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		attr := L.CheckString(2)
		want := L.CheckAny(3)
		st, ok := states.Entity(L.Context(), id)
		if !ok {
			L.Push(lua.LFalse)
			return 1
		}
		v, present := st.Attributes[attr]
		L.Push(lua.LBool(present && toLValue(L, v).String() == want.String()))
		return 1
	}))

	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(2)
		v, ok := states.Variable(L.Context(), name)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLValue(L, v))
		return 1
	}))
	L.SetMetatable(L.G.Global, mt)
}

// matchesValue compares a state against a string or a list of strings.
func matchesValue(state string, want lua.LValue) bool {
	if tbl, ok := want.(*lua.LTable); ok {
		found := false
		tbl.ForEach(func(_, v lua.LValue) {
			if v.String() == state {
				found = true
			}
		})
		return found
	}
	return want.String() == state
}

type emptyStates struct{}

func (emptyStates) Entity(context.Context, string) (EntityState, bool) { return EntityState{}, false }

func (emptyStates) Variable(context.Context, string) (any, bool) { return nil, false }

// toLValue converts platform values to Lua values. Unsupported types are
// rendered with fmt so templates can still compare them as strings.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(toLValue(L, item))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tbl := L.CreateTable(0, len(val))
		for _, k := range keys {
			tbl.RawSetString(k, toLValue(L, val[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
