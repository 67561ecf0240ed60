package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"snare/internal/config"
	"snare/pkg/engine"
	"snare/pkg/fastjson"
	"snare/pkg/logger"
)

const runUsage = "Usage: snare run <path/to/script.lua> <request-file|-> [args-json]"

func HandleRun(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Config Error: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Env)

	if err := runScript(os.Stdin, os.Stdout, args, engine.WithSandbox(cfg.Sandbox)); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

// runScript loads one script, executes it once and prints the result as JSON.
func runScript(stdin io.Reader, stdout io.Writer, args []string, opts ...engine.Option) error {
	if len(args) < 2 {
		return fmt.Errorf("%s", runUsage)
	}
	path, requestSrc := args[0], args[1]
	argsJSON := "[]"
	if len(args) > 2 {
		argsJSON = args[2]
	}

	var (
		request []byte
		err     error
	)
	if requestSrc == "-" {
		request, err = io.ReadAll(stdin)
	} else {
		request, err = os.ReadFile(requestSrc)
	}
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	s, err := engine.New(path, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.Execute(context.Background(), string(request), argsJSON)
	if err != nil {
		return err
	}

	out, err := fastjson.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}
