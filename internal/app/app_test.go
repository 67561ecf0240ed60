package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snare/internal/config"
	"snare/pkg/audit"
	"snare/pkg/engine"
	"snare/pkg/fastjson"
	"snare/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtures = map[string]string{
	"connection.lua": `
function schema()
	return { name = "connection", description = "", args = {} }
end
function on_request(req, args)
	return req
end
`,
	"greet.lua": `
function schema()
	return { name = "greet", args = { who = "string" } }
end
function on_request(req, args)
	if args.who == nil then error("who is required") end
	return "hello " .. args.who
end
`,
	"broken.lua": `function schema( end`,
}

type response struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data"`
	Error   map[string]interface{} `json:"error"`
	Step    *int                   `json:"step"`
}

func newTestApp(t *testing.T, mutate func(*config.Config), store *audit.Store) (*AppContext, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	for name, src := range fixtures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}

	cfg := config.Defaults()
	cfg.ScriptsDir = dir
	cfg.RateLimitRequests = 0
	cfg.BrotliEnabled = false
	if mutate != nil {
		mutate(cfg)
	}

	appCtx, err := NewAppContext(cfg, store)
	require.NoError(t, err)
	t.Cleanup(func() { appCtx.Registry.Close() })
	return appCtx, BuildRouter(appCtx)
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res response
	if rec.Body.Len() > 0 {
		require.NoError(t, fastjson.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	}
	return rec.Code, res
}

func TestHealth(t *testing.T) {
	_, h := newTestApp(t, nil, nil)

	code, _ := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestExecuteEndToEnd(t *testing.T) {
	_, h := newTestApp(t, nil, nil)

	code, res := do(t, h, "POST", "/api/scripts/connection/execute", `{"request": "GET /", "args": []}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
	assert.Equal(t, "GET /", res.Data)
}

func TestExecuteArgsForms(t *testing.T) {
	_, h := newTestApp(t, nil, nil)

	code, res := do(t, h, "POST", "/api/scripts/greet/execute", `{"request": "x", "args": [{"who": {"String": "ada"}}]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello ada", res.Data)

	code, res = do(t, h, "POST", "/api/scripts/greet/execute", `{"request": "x", "args": "[{\"who\": \"bob\"}]"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello bob", res.Data)
}

func TestExecuteErrorStatuses(t *testing.T) {
	_, h := newTestApp(t, nil, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{"unknown script", "/api/scripts/absent/execute", `{"request": "x"}`, http.StatusNotFound, "io_error"},
		{"compile error", "/api/scripts/broken/execute", `{"request": "x"}`, http.StatusUnprocessableEntity, "compile_error"},
		{"malformed args", "/api/scripts/greet/execute", `{"request": "x", "args": {"who": "a"}}`, http.StatusBadRequest, "malformed_arguments"},
		{"malformed body", "/api/scripts/greet/execute", `{"request": `, http.StatusBadRequest, "malformed_arguments"},
		{"runtime error", "/api/scripts/greet/execute", `{"request": "x", "args": []}`, http.StatusBadGateway, "script_runtime_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, res := do(t, h, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, code)
			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Error["kind"])
		})
	}
}

func TestScriptsListingAndMetadata(t *testing.T) {
	appCtx, h := newTestApp(t, nil, nil)
	failures := appCtx.Registry.LoadAll()
	assert.Contains(t, failures, "broken")

	code, res := do(t, h, "GET", "/api/scripts", "")
	require.Equal(t, http.StatusOK, code)
	list, ok := res.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "connection", list[0].(map[string]interface{})["script"])

	code, res = do(t, h, "GET", "/api/scripts/greet", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "greet", res.Data.(map[string]interface{})["name"])

	code, res = do(t, h, "GET", "/api/scripts/greet/args", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"who": "string"}, res.Data)
}

func TestFilterEndpoint(t *testing.T) {
	_, h := newTestApp(t, nil, nil)

	code, res := do(t, h, "POST", "/api/filter", `{
		"request": "x",
		"steps": [
			{"script": "connection"},
			{"script": "greet", "args": [{"who": "eve"}]}
		]
	}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello eve", res.Data.(map[string]interface{})["request"])

	code, res = do(t, h, "POST", "/api/filter", `{"request": "x", "steps": [{"script": "connection"}, {"script": "greet"}]}`)
	assert.Equal(t, http.StatusBadGateway, code)
	require.NotNil(t, res.Step)
	assert.Equal(t, 1, *res.Step)
}

func TestFilterWaitBudgetIsPerStep(t *testing.T) {
	appCtx, h := newTestApp(t, func(c *config.Config) { c.LockWaitTimeout = 200 * time.Millisecond }, nil)
	require.NoError(t, os.WriteFile(filepath.Join(appCtx.Config.ScriptsDir, "slow.lua"), []byte(`
function schema() return { name = "slow" } end
function on_request(req, args)
	local start = os.clock()
	while os.clock() - start < 0.12 do end
	return req .. "."
end
`), 0o644))

	code, res := do(t, h, "POST", "/api/filter", `{
		"request": "x",
		"steps": [{"script": "slow"}, {"script": "slow"}, {"script": "slow"}]
	}`)
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.Equal(t, "x...", res.Data.(map[string]interface{})["request"])
}

func TestExecutionsEndpoint(t *testing.T) {
	_, h := newTestApp(t, nil, nil)
	code, _ := do(t, h, "GET", "/api/executions", "")
	assert.Equal(t, http.StatusNotFound, code)

	store, err := audit.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, h = newTestApp(t, nil, store)
	do(t, h, "POST", "/api/scripts/connection/execute", `{"request": "GET /"}`)

	code, res := do(t, h, "GET", "/api/executions?script=connection", "")
	require.Equal(t, http.StatusOK, code)
	entries := res.Data.([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].(map[string]interface{})["outcome"])
}

func TestAPIRequiresTokenWhenConfigured(t *testing.T) {
	_, h := newTestApp(t, func(c *config.Config) { c.JWTSecret = "0123456789abcdef0123456789abcdef" }, nil)

	code, _ := do(t, h, "GET", "/api/scripts", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestBlockedIPsAreRejected(t *testing.T) {
	_, h := newTestApp(t, func(c *config.Config) { c.BlockedIPs = []string{"192.0.2.0/24"} }, nil)

	// httptest requests come from 192.0.2.1
	code, res := do(t, h, "GET", "/api/scripts", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", res.Error["kind"])
}

func TestStatusFor(t *testing.T) {
	scriptErr := func(kind engine.ErrorKind, err error) error {
		return &engine.ScriptError{Kind: kind, Err: err}
	}

	assert.Equal(t, http.StatusNotFound, statusFor(scriptErr(engine.KindIO, registry.ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(scriptErr(engine.KindIO, os.ErrPermission)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(scriptErr(engine.KindSchemaShape, nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(scriptErr(engine.KindMissingEntryPoint, nil)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(scriptErr(engine.KindLock, context.DeadlineExceeded)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fmt.Errorf("step: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
}
