package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"snare/pkg/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectionScript = `
function schema()
	return { name = "connection", description = "", args = {} }
end

function on_request(req, args)
	return req
end
`

func scriptsDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func newRegistry(t *testing.T, dir string, opts ...engine.Option) *Registry {
	t.Helper()
	r, err := New(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGetLoadsOnFirstUse(t *testing.T) {
	r := newRegistry(t, scriptsDir(t, map[string]string{"connection.lua": connectionScript}))
	assert.Empty(t, r.List())

	s, err := r.Get("connection")
	require.NoError(t, err)

	out, err := s.Execute(context.Background(), "GET /", "[]")
	require.NoError(t, err)
	assert.Equal(t, "GET /", out)

	again, err := r.Get("connection")
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestGetMissingAndInvalidNames(t *testing.T) {
	r := newRegistry(t, scriptsDir(t, nil))

	_, err := r.Get("absent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, engine.KindIO, engine.KindOf(err))

	_, err = r.Get("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLoadAllSkipsFailures(t *testing.T) {
	dir := scriptsDir(t, map[string]string{
		"connection.lua": connectionScript,
		"broken.lua":     `function schema( end`,
		"no-schema.lua":  `function on_request() end`,
		"Bad_Name.lua":   connectionScript,
		"notes.txt":      "ignored",
	})
	r := newRegistry(t, dir)

	failures := r.LoadAll()
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures["broken"], engine.ErrCompile)
	assert.ErrorIs(t, failures["no-schema"], engine.ErrMissingEntryPoint)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "connection", list[0].Script)
	assert.Equal(t, "connection", list[0].Name)
}

func TestListIsSorted(t *testing.T) {
	r := newRegistry(t, scriptsDir(t, map[string]string{
		"zeta.lua":  connectionScript,
		"alpha.lua": connectionScript,
		"mid.lua":   connectionScript,
	}))
	require.Empty(t, r.LoadAll())

	var names []string
	for _, info := range r.List() {
		names = append(names, info.Script)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestRemoveClosesScript(t *testing.T) {
	r := newRegistry(t, scriptsDir(t, map[string]string{"connection.lua": connectionScript}))

	s, err := r.Get("connection")
	require.NoError(t, err)
	require.NoError(t, r.Remove("connection"))

	_, err = s.Execute(context.Background(), "GET /", "[]")
	assert.ErrorIs(t, err, engine.ErrLock)
	assert.Empty(t, r.List())

	assert.ErrorIs(t, r.Remove("connection"), ErrNotFound)

	// a later Get loads a fresh unit
	fresh, err := r.Get("connection")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
}

func TestConcurrentFirstGet(t *testing.T) {
	r := newRegistry(t, scriptsDir(t, map[string]string{"connection.lua": connectionScript}))

	var wg sync.WaitGroup
	got := make([]*engine.Script, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Get("connection")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
}

func TestManifest(t *testing.T) {
	dir := scriptsDir(t, map[string]string{
		"connection.lua": connectionScript,
		"hidden.lua":     connectionScript,
		"open.lua": `
function schema() return {} end
function on_request() return type(io) end
`,
		ManifestFile: `
scripts:
  hidden:
    disabled: true
  open:
    sandbox: false
`,
	})
	r := newRegistry(t, dir, engine.WithSandbox(true))
	assert.True(t, r.Manifest().Scripts["hidden"].Disabled)

	assert.Empty(t, r.LoadAll())
	_, err := r.Get("hidden")
	assert.ErrorIs(t, err, ErrDisabled)

	s, err := r.Get("open")
	require.NoError(t, err)
	out, err := s.Execute(context.Background(), "", "[]")
	require.NoError(t, err)
	assert.Equal(t, "table", out)
}

func TestBadManifest(t *testing.T) {
	_, err := New(scriptsDir(t, map[string]string{ManifestFile: "scripts: [unclosed"}))
	assert.Error(t, err)
}

func TestShippedScripts(t *testing.T) {
	r, err := New(filepath.Join("..", "..", "scripts"))
	require.NoError(t, err)
	defer r.Close()

	assert.Empty(t, r.LoadAll())

	guard, err := r.Get("header_guard")
	require.NoError(t, err)

	ok, err := guard.Matches(engine.NewMatchEnv("header_guard", "DELETE /x HTTP/1.1"))
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := guard.Execute(context.Background(), "GET / HTTP/1.1\nHost: a", `[{"tag": "t1"}]`)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\nHost: a\nX-Snare-Tag: t1", out)

	_, err = guard.Execute(context.Background(), "GET / HTTP/1.1\nX-Debug: 1", "[]")
	assert.ErrorIs(t, err, engine.ErrScriptRuntime)
	assert.Contains(t, err.Error(), `"code":403`)
}
