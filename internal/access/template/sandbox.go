// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package template

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the libraries templates may use.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package, coroutine, channel.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions are removed from the base library after loading.
// They reach the filesystem, load arbitrary chunks, or change global state
// that outlives a single evaluation.
var unsafeBaseFunctions = []string{
	"dofile", "loadfile", "loadstring", "load", "require",
	"collectgarbage", "module", "setfenv", "getfenv",
}

// sandbox creates fresh, isolated Lua states for template evaluation.
type sandbox struct {
	libraries []safeLibrary
	callStack int
}

func newSandbox() *sandbox {
	return &sandbox{
		libraries: defaultSafeLibraries(),
		callStack: 64,
	}
}

// newState creates a Lua state with only safe libraries loaded and binds
// ctx to it, so the VM aborts once ctx is done.
func (s *sandbox) newState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       s.callStack,
		IncludeGoStackTrace: false,
	})

	for _, lib := range s.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	L.SetContext(ctx)
	return L, nil
}
