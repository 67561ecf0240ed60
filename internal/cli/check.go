package cli

import (
	"fmt"
	"io"
	"os"

	"snare/internal/config"
	"snare/pkg/engine"
	"snare/pkg/fastjson"
)

const checkUsage = "Usage: snare check [--json] <path/to/script.lua>"

func HandleCheck(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Config Error: %v\n", err)
		os.Exit(1)
	}

	if !checkScript(os.Stdout, args, engine.WithSandbox(cfg.Sandbox)) {
		os.Exit(1)
	}
}

// checkScript loads a script and reports its metadata or the load failure.
// It reports whether the script is valid.
func checkScript(stdout io.Writer, args []string, opts ...engine.Option) bool {
	isJSON := false
	path := ""

	for _, arg := range args {
		if arg == "--json" {
			isJSON = true
		} else {
			path = arg
		}
	}

	if path == "" {
		fmt.Fprintln(stdout, checkUsage)
		return false
	}

	s, err := engine.New(path, opts...)
	if err != nil {
		if isJSON {
			out, _ := fastjson.MarshalIndent(map[string]interface{}{
				"success": false,
				"error":   err,
			}, "", "  ")
			fmt.Fprintln(stdout, string(out))
		} else {
			fmt.Fprintf(stdout, "❌ %v\n", err)
		}
		return false
	}
	defer s.Close()

	meta := s.Metadata()
	if isJSON {
		out, _ := fastjson.MarshalIndent(map[string]interface{}{
			"success":  true,
			"metadata": meta,
		}, "", "  ")
		fmt.Fprintln(stdout, string(out))
		return true
	}

	fmt.Fprintf(stdout, "✅ %s OK\n", path)
	if meta.Name != "" {
		fmt.Fprintf(stdout, "   name:        %s\n", meta.Name)
	}
	if meta.Description != "" {
		fmt.Fprintf(stdout, "   description: %s\n", meta.Description)
	}
	if meta.Match != "" {
		fmt.Fprintf(stdout, "   match:       %s\n", meta.Match)
	}
	schemaArgs, _ := fastjson.Marshal(meta.Args)
	fmt.Fprintf(stdout, "   args:        %s\n", schemaArgs)
	return true
}
