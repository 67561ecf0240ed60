package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"snare/pkg/bridge"
	"snare/pkg/fastjson"

	lua "github.com/yuin/gopher-lua"
)

// Reserved entry points every script participates with.
const (
	EntrySchema    = "schema"
	EntryOnRequest = "on_request"
)

// Call looks up name as a global function in L and invokes it under a
// protected call with a single return value.
//
// Faults raised by script code come back as a ScriptRuntimeError and the
// stack is restored, so L stays usable for the next call. A Go panic that
// escapes the protected call is recovered here as well.
//
// PRECONDITION: the caller holds exclusive access to L.
func Call(L *lua.LState, name string, args ...lua.LValue) (ret lua.LValue, err error) {
	top := L.GetTop()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("🔥 PANIC RECOVERED IN INVOKER",
				"function", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			L.SetTop(top)
			ret = lua.LNil
			err = &ScriptError{
				Kind:    KindScriptRuntime,
				Status:  StatusPanic,
				Message: fmt.Sprintf("PANIC: %v", r),
			}
		}
	}()

	fn, ok := L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return lua.LNil, newError(KindMissingEntryPoint, "", nil, "global function %q is not defined", name)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		L.SetTop(top)
		return lua.LNil, runtimeError(err)
	}

	ret = L.Get(-1)
	L.SetTop(top)
	return ret, nil
}

// runtimeError converts a protected-call failure into a ScriptError.
func runtimeError(err error) *ScriptError {
	apiErr, ok := err.(*lua.ApiError)
	if !ok {
		return &ScriptError{Kind: KindScriptRuntime, Status: StatusRuntime, Message: err.Error(), Err: err}
	}

	return &ScriptError{
		Kind:    KindScriptRuntime,
		Status:  apiStatus(apiErr.Type),
		Message: errorMessage(apiErr),
		Err:     err,
	}
}

func apiStatus(t lua.ApiErrorType) string {
	switch t {
	case lua.ApiErrorSyntax:
		return StatusSyntax
	case lua.ApiErrorFile:
		return StatusFile
	case lua.ApiErrorPanic:
		return StatusPanic
	default:
		return StatusRuntime
	}
}

// errorMessage renders the error value raised by the script. Tables raised
// with error({...}) are rendered as JSON.
func errorMessage(apiErr *lua.ApiError) string {
	if apiErr.Object == nil {
		return apiErr.Error()
	}
	if tbl, ok := apiErr.Object.(*lua.LTable); ok {
		if b, err := fastjson.Marshal(bridge.NewConverter(func(bridge.Diagnostic) {}).FromLua(tbl)); err == nil {
			return string(b)
		}
	}
	return apiErr.Object.String()
}
