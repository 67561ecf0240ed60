package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"snare/pkg/bridge"
	"snare/pkg/utils/coerce"

	"github.com/expr-lang/expr/vm"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Metadata is the script's self-description, extracted once from schema().
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Args        interface{} `json:"args"`
	Match       string      `json:"match,omitempty"`
	Path        string      `json:"path,omitempty"`
}

// Execution is reported to the observer after every entry-point call made
// through Execute or GetArgs.
type Execution struct {
	Script     string
	EntryPoint string
	Duration   time.Duration
	LockWait   time.Duration
	Err        error
}

// Outcome is "ok" or the error kind.
func (e Execution) Outcome() string {
	if e.Err == nil {
		return "ok"
	}
	if kind := KindOf(e.Err); kind != "" {
		return string(kind)
	}
	return "error"
}

type options struct {
	sandbox  bool
	logger   *slog.Logger
	observer func(Execution)
	warn     func(bridge.Diagnostic)
}

// converter returns the bridge converter for script name, reporting to the
// diagnostics sink or the logger.
func (o *options) converter(name string) *bridge.Converter {
	if o.warn != nil {
		return bridge.NewConverter(o.warn)
	}
	return bridge.NewConverter(func(d bridge.Diagnostic) {
		o.logger.Warn("⚠️  value dropped", "script", name, "path", d.Path, "reason", d.Reason)
	})
}

// Option configures a Script at construction.
type Option func(*options)

// WithSandbox restricts the interpreter to the base, table, string and math libraries.
func WithSandbox(enabled bool) Option {
	return func(o *options) { o.sandbox = enabled }
}

// WithLogger sets the logger used for host-module output and diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a callback invoked after each execution.
func WithObserver(fn func(Execution)) Option {
	return func(o *options) { o.observer = fn }
}

// WithDiagnostics receives argument and result values dropped by the bridge.
// By default they are logged as warnings.
func WithDiagnostics(fn func(bridge.Diagnostic)) Option {
	return func(o *options) { o.warn = fn }
}

// Script is one loaded script together with the interpreter state it owns.
//
// OWNERSHIP: the *lua.LState is created by New and closed by Close; it is
// never handed out.
// THREAD-SAFETY: Execute, GetArgs and Close may be called concurrently; they
// are serialized by the gate. Metadata and Matches never touch the state.
type Script struct {
	name  string
	path  string
	state *lua.LState
	gate  *gate
	meta  Metadata
	match *vm.Program
	conv  *bridge.Converter
	opts  options
}

// New reads, compiles and runs the script at path, then extracts its metadata
// from schema(). No Script is returned unless every step succeeds.
func New(path string, opts ...Option) (*Script, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindIO, name, err, "failed to read %s: %v", path, err)
	}
	return load(name, path, string(src), opts)
}

// FromSource builds a Script from in-memory source. name is used for error
// messages and chunk names.
func FromSource(name, source string, opts ...Option) (*Script, error) {
	return load(name, "", source, opts)
}

func load(name, path, source string, opts []Option) (*Script, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Script{
		name: name,
		path: path,
		gate: newGate(),
		opts: o,
	}
	s.conv = o.converter(name)

	// 1. Compile
	chunkName := name
	if path != "" {
		chunkName = path
	}
	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		return nil, s.fail(KindCompile, err, "syntax error: %v", err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, s.fail(KindCompile, err, "compile error: %v", err)
	}

	// 2. Run the top level
	s.state = newState(name, &o)
	s.state.Push(s.state.NewFunctionFromProto(proto))
	if err := s.state.PCall(0, lua.MultRet, nil); err != nil {
		s.state.Close()
		rt := runtimeError(err)
		return nil, s.fail(KindCompile, err, "top-level execution failed: %s", rt.Message)
	}
	s.state.SetTop(0)

	// 3. Extract metadata
	meta, err := s.readSchema()
	if err != nil {
		s.state.Close()
		return nil, err
	}
	if meta.Match != "" {
		program, err := compileMatch(meta.Match)
		if err != nil {
			s.state.Close()
			return nil, s.fail(KindSchemaShape, err, "%v", err)
		}
		s.match = program
	}
	meta.Path = path
	s.meta = meta

	o.logger.Debug("Script loaded", "script", name, "path", path, "sandbox", o.sandbox)
	return s, nil
}

// readSchema calls schema() and converts its table. Caller holds the state.
func (s *Script) readSchema() (Metadata, error) {
	ret, err := Call(s.state, EntrySchema)
	if err != nil {
		return Metadata{}, s.wrap(err)
	}

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return Metadata{}, s.fail(KindSchemaShape, nil, "schema() returned %s, expected a table", ret.Type().String())
	}

	meta := Metadata{
		Name:        s.stringField(tbl, "name"),
		Description: s.stringField(tbl, "description"),
		Match:       s.stringField(tbl, "match"),
		Args:        map[string]interface{}{},
	}
	if args := tbl.RawGetString("args"); args != lua.LNil {
		meta.Args = s.conv.FromLua(args)
	}
	return meta, nil
}

func (s *Script) stringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if v == lua.LNil {
		return ""
	}
	return coerce.ToString(s.conv.FromLua(v))
}

// Name returns the script's registry name (file stem).
func (s *Script) Name() string { return s.name }

// Path returns the source path, empty for FromSource scripts.
func (s *Script) Path() string { return s.path }

// Metadata returns a copy of the metadata cached at construction.
func (s *Script) Metadata() Metadata {
	m := s.meta
	m.Args = bridge.Clone(s.meta.Args)
	return m
}

// Matches evaluates the schema's match predicate. Scripts without one match everything.
func (s *Script) Matches(env MatchEnv) (bool, error) {
	if s.match == nil {
		return true, nil
	}
	return runMatch(s.match, env)
}

// Execute runs on_request(request, args) and returns its result in the JSON
// value model. argsJSON is a JSON array of objects, flattened in order.
//
// Malformed arguments are rejected before the interpreter is touched. A
// failing script call leaves the Script usable for the next Execute.
func (s *Script) Execute(ctx context.Context, request, argsJSON string) (result interface{}, err error) {
	objs, err := bridge.ParseArgs(argsJSON)
	if err != nil {
		err = s.fail(KindMalformedArguments, err, "%v", err)
		s.report(EntryOnRequest, 0, 0, err)
		return nil, err
	}
	args := s.conv.Flatten(objs)

	err = s.withState(ctx, EntryOnRequest, func() error {
		ret, err := Call(s.state, EntryOnRequest, lua.LString(request), s.conv.Table(s.state, args))
		if err != nil {
			return s.wrap(err)
		}
		result = s.conv.FromLua(ret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetArgs re-invokes schema() under the lock and returns its live args field.
// Use Metadata for the cached, lock-free copy.
func (s *Script) GetArgs(ctx context.Context) (args interface{}, err error) {
	err = s.withState(ctx, EntrySchema, func() error {
		meta, err := s.readSchema()
		if err != nil {
			return err
		}
		args = meta.Args
		return nil
	})
	return args, err
}

// withState runs fn while holding the gate and reports the call once the
// gate is released. A panic inside fn poisons the gate: the interpreter may
// be half-way through a call and is not reused.
func (s *Script) withState(ctx context.Context, entry string, fn func() error) (err error) {
	waitStart := time.Now()
	if err := s.gate.acquire(ctx); err != nil {
		lockErr := s.fail(KindLock, err, "%v", err)
		s.report(entry, 0, time.Since(waitStart), lockErr)
		return lockErr
	}
	start := time.Now()
	wait := start.Sub(waitStart)

	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("🔥 PANIC RECOVERED IN SCRIPT",
				"script", s.name,
				"entry", entry,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			s.gate.poison(r)
			err = &ScriptError{
				Kind:    KindScriptRuntime,
				Script:  s.name,
				Status:  StatusPanic,
				Message: fmt.Sprintf("PANIC: %v", r),
			}
		}
		duration := time.Since(start)
		s.gate.release()
		s.report(entry, duration, wait, err)
	}()

	return fn()
}

// Close releases the interpreter state once any in-flight call has finished.
// Later calls fail with LockError. Close is idempotent.
func (s *Script) Close() error {
	s.gate.close(func() {
		if s.state != nil {
			s.state.Close()
		}
	})
	return nil
}

// report runs the observer outside the gate.
func (s *Script) report(entry string, duration, wait time.Duration, err error) {
	if s.opts.observer == nil {
		return
	}
	s.opts.observer(Execution{
		Script:     s.name,
		EntryPoint: entry,
		Duration:   duration,
		LockWait:   wait,
		Err:        err,
	})
}

func (s *Script) fail(kind ErrorKind, err error, format string, args ...interface{}) *ScriptError {
	return newError(kind, s.name, err, format, args...)
}

// wrap stamps the script name on errors coming out of Call.
func (s *Script) wrap(err error) error {
	if se, ok := err.(*ScriptError); ok && se.Script == "" {
		se.Script = s.name
	}
	return err
}
