// Package registry maps script names to loaded script units backed by a
// directory of *.lua files.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"snare/pkg/engine"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

// Ext is the script file extension.
const Ext = ".lua"

// ManifestFile is the optional per-directory manifest.
const ManifestFile = "scripts.yaml"

var (
	ErrNotFound    = errors.New("script not found")
	ErrInvalidName = errors.New("invalid script name")
	ErrDisabled    = errors.New("script disabled")
)

// Manifest holds per-script overrides read from scripts.yaml.
type Manifest struct {
	Scripts map[string]ManifestEntry `yaml:"scripts"`
}

// ManifestEntry overrides the registry defaults for one script.
type ManifestEntry struct {
	Disabled bool  `yaml:"disabled,omitempty"`
	Sandbox  *bool `yaml:"sandbox,omitempty"`
}

// Info describes a loaded script for listings.
type Info struct {
	Script string `json:"script"`
	engine.Metadata
}

// Registry owns every script unit it loads. Units live until Remove or Close.
type Registry struct {
	dir      string
	opts     []engine.Option
	manifest Manifest

	mu      sync.RWMutex // Protects scripts
	scripts map[string]*engine.Script
}

// New creates a registry over dir. Scripts are loaded lazily by Get or
// eagerly by LoadAll.
func New(dir string, opts ...engine.Option) (*Registry, error) {
	r := &Registry{
		dir:     dir,
		opts:    opts,
		scripts: make(map[string]*engine.Script),
	}

	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &r.manifest); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", manifestPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", manifestPath, err)
	}

	return r, nil
}

// Dir returns the scripts directory.
func (r *Registry) Dir() string { return r.dir }

// Manifest returns the parsed scripts.yaml (empty when absent).
func (r *Registry) Manifest() Manifest { return r.manifest }

// LoadAll loads every script in the directory. Scripts that fail to load are
// logged, skipped and returned by name.
func (r *Registry) LoadAll() map[string]error {
	failures := make(map[string]error)

	names, err := r.Available()
	if err != nil {
		slog.Error("Failed to read scripts directory", "dir", r.dir, "error", err)
		failures[""] = err
		return failures
	}

	loaded := 0
	for _, name := range names {
		if _, err := r.Get(name); err != nil {
			if errors.Is(err, ErrDisabled) {
				continue
			}
			slog.Error("Failed to load script", "script", name, "error", err)
			failures[name] = err
			continue
		}
		loaded++
	}

	slog.Info("📜 Scripts loaded", "count", loaded, "failed", len(failures), "dir", r.dir)
	return failures
}

// Available lists the script names present in the directory, sorted. Files
// whose stem is not a valid name are skipped with a warning.
func (r *Registry) Available() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Ext {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), Ext)
		if !slug.IsSlug(name) {
			slog.Warn("⚠️  Skipping script with invalid name", "file", entry.Name())
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the unit for name, loading {dir}/{name}.lua on first use.
func (r *Registry) Get(name string) (*engine.Script, error) {
	r.mu.RLock()
	s, ok := r.scripts[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	if !slug.IsSlug(name) {
		return nil, lookupError(name, ErrInvalidName)
	}
	entry := r.manifest.Scripts[name]
	if entry.Disabled {
		return nil, lookupError(name, ErrDisabled)
	}

	path := filepath.Join(r.dir, name+Ext)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, lookupError(name, ErrNotFound)
	}

	opts := r.opts
	if entry.Sandbox != nil {
		opts = append(append([]engine.Option{}, r.opts...), engine.WithSandbox(*entry.Sandbox))
	}
	loaded, err := engine.New(path, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.scripts[name]; ok {
		// Lost a concurrent first load.
		r.mu.Unlock()
		loaded.Close()
		return existing, nil
	}
	r.scripts[name] = loaded
	r.mu.Unlock()

	slog.Debug("Script registered", "script", name, "path", path)
	return loaded, nil
}

// List returns metadata for every loaded script, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.scripts))
	for name, s := range r.scripts {
		infos = append(infos, Info{Script: name, Metadata: s.Metadata()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Script < infos[j].Script })
	return infos
}

// Remove drops and closes the unit for name. It waits for an in-flight
// execution on that unit to finish.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	s, ok := r.scripts[name]
	delete(r.scripts, name)
	r.mu.Unlock()

	if !ok {
		return lookupError(name, ErrNotFound)
	}
	slog.Info("Script removed", "script", name)
	return s.Close()
}

// Close closes every loaded unit.
func (r *Registry) Close() error {
	r.mu.Lock()
	scripts := r.scripts
	r.scripts = make(map[string]*engine.Script)
	r.mu.Unlock()

	var errs []error
	for name, s := range scripts {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func lookupError(name string, err error) error {
	return &engine.ScriptError{
		Kind:    engine.KindIO,
		Script:  name,
		Message: err.Error(),
		Err:     err,
	}
}
