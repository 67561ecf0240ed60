package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"snare/internal/config"
	"snare/pkg/engine"
	"snare/pkg/registry"
)

func HandleList(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Config Error: %v\n", err)
		os.Exit(1)
	}

	dir := cfg.ScriptsDir
	if len(args) > 0 {
		dir = args[0]
	}

	if !listScripts(os.Stdout, dir, engine.WithSandbox(cfg.Sandbox)) {
		os.Exit(1)
	}
}

// listScripts loads every script in dir and prints one row per script. It
// reports whether all scripts loaded.
func listScripts(stdout io.Writer, dir string, opts ...engine.Option) bool {
	reg, err := registry.New(dir, opts...)
	if err != nil {
		fmt.Fprintf(stdout, "❌ %v\n", err)
		return false
	}
	defer reg.Close()

	failures := reg.LoadAll()
	if err, ok := failures[""]; ok {
		fmt.Fprintf(stdout, "❌ %v\n", err)
		return false
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCRIPT\tNAME\tSTATUS\tDESCRIPTION")
	for _, info := range reg.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Script, info.Name, "ok", info.Description)
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t\t%s\t%v\n", name, engine.KindOf(failures[name]), failures[name])
	}
	tw.Flush()

	return len(failures) == 0
}
