package engine

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MatchEnv is the environment a schema's match predicate is evaluated in.
type MatchEnv struct {
	Request string `expr:"request"`
	Method  string `expr:"method"`
	Path    string `expr:"path"`
	Name    string `expr:"name"`
}

// NewMatchEnv derives method and path from the request line of a raw request.
func NewMatchEnv(name, request string) MatchEnv {
	env := MatchEnv{Request: request, Name: name}

	line := request
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) > 0 {
		env.Method = fields[0]
	}
	if len(fields) > 1 {
		env.Path = fields[1]
	}
	return env
}

func compileMatch(src string) (*vm.Program, error) {
	program, err := expr.Compile(src, expr.Env(MatchEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid match expression %q: %w", src, err)
	}
	return program, nil
}

func runMatch(program *vm.Program, env MatchEnv) (bool, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
