package engine

import (
	"context"
	"log/slog"
	"strings"

	"snare/pkg/fastjson"

	lua "github.com/yuin/gopher-lua"
)

// HostModule is the global table every script state gets.
const HostModule = "snare"

// newState creates the interpreter state owned by one Script.
//
// Sandboxed states only open base, table, string and math, drop the globals
// that reach the filesystem or the loader, and get a reduced os table.
func newState(name string, o *options) *lua.LState {
	var L *lua.LState
	if o.sandbox {
		L = lua.NewState(lua.Options{SkipOpenLibs: true})
		lua.OpenBase(L)
		lua.OpenTable(L)
		lua.OpenString(L)
		lua.OpenMath(L)

		for _, g := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
			L.SetGlobal(g, lua.LNil)
		}

		// os keeps only time, date and clock
		lua.OpenOs(L)
		full, _ := L.GetGlobal("os").(*lua.LTable)
		osTbl := L.NewTable()
		for _, fn := range []string{"time", "date", "clock"} {
			if full != nil {
				osTbl.RawSetString(fn, full.RawGetString(fn))
			}
		}
		L.SetGlobal("os", osTbl)

		// Open* push their module tables.
		L.SetTop(0)
	} else {
		L = lua.NewState()
	}

	registerHostModule(L, name, o)
	return L
}

// registerHostModule installs the snare table:
//
//	snare.log([level,] message)
//	snare.json_encode(value) -> string | nil, err
//	snare.json_decode(string) -> value | nil, err
func registerHostModule(L *lua.LState, name string, o *options) {
	mod := L.NewTable()
	conv := o.converter(name)

	L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
		level := slog.LevelInfo
		msg := L.CheckString(1)
		if L.GetTop() >= 2 {
			level = parseLevel(msg)
			msg = L.CheckString(2)
		}
		o.logger.Log(context.Background(), level, "[LUA] "+msg, "script", name)
		return 0
	}))

	L.SetField(mod, "json_encode", L.NewFunction(func(L *lua.LState) int {
		b, err := fastjson.Marshal(conv.FromLua(L.CheckAny(1)))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(b))
		return 1
	}))

	L.SetField(mod, "json_decode", L.NewFunction(func(L *lua.LState) int {
		v, err := fastjson.DecodeValue(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(conv.ToLua(L, v))
		return 1
	}))

	L.SetGlobal(HostModule, mod)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
