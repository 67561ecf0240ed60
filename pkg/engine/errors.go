package engine

import (
	"errors"
	"fmt"

	"snare/pkg/bridge"
)

// ErrorKind names the stage at which a script operation failed.
type ErrorKind string

const (
	KindIO                 ErrorKind = "io_error"
	KindCompile            ErrorKind = "compile_error"
	KindMissingEntryPoint  ErrorKind = "missing_entry_point"
	KindSchemaShape        ErrorKind = "schema_shape_error"
	KindMalformedArguments ErrorKind = "malformed_arguments"
	KindLock               ErrorKind = "lock_error"
	KindScriptRuntime      ErrorKind = "script_runtime_error"
)

// Sentinel errors for errors.Is classification of *ScriptError.
var (
	ErrIO                 = errors.New("script source unreadable")
	ErrCompile            = errors.New("script failed to load")
	ErrMissingEntryPoint  = errors.New("missing entry point")
	ErrSchemaShape        = errors.New("schema did not return a table")
	ErrMalformedArguments = bridge.ErrMalformedArguments
	ErrLock               = errors.New("script lock unavailable")
	ErrScriptRuntime      = errors.New("script runtime error")
)

var sentinels = map[ErrorKind]error{
	KindIO:                 ErrIO,
	KindCompile:            ErrCompile,
	KindMissingEntryPoint:  ErrMissingEntryPoint,
	KindSchemaShape:        ErrSchemaShape,
	KindMalformedArguments: ErrMalformedArguments,
	KindLock:               ErrLock,
	KindScriptRuntime:      ErrScriptRuntime,
}

// Runtime error statuses, mirroring gopher-lua's ApiError types.
const (
	StatusRuntime = "runtime"
	StatusSyntax  = "syntax"
	StatusFile    = "file"
	StatusPanic   = "panic"
)

// ScriptError is the structured failure returned by every engine operation.
type ScriptError struct {
	Kind    ErrorKind `json:"kind"`
	Script  string    `json:"script,omitempty"`
	Message string    `json:"message"`
	// Status is set for ScriptRuntimeError: runtime, syntax, file or panic.
	Status string `json:"status,omitempty"`
	Err    error  `json:"-"`
}

func (e *ScriptError) Error() string {
	msg := string(e.Kind)
	if e.Script != "" {
		msg += " in " + e.Script
	}
	if e.Status != "" {
		msg += " (" + e.Status + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *ScriptError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the kind of a *ScriptError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind ErrorKind, script string, err error, format string, args ...interface{}) *ScriptError {
	return &ScriptError{
		Kind:    kind,
		Script:  script,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
