package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snare/pkg/engine"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/scripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/scripts/echo", nil))

	body := scrape(t)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/scripts/{name}",status="418"}`)
	assert.NotContains(t, body, `path="/api/scripts/echo"`)
}

func TestObserveExecution(t *testing.T) {
	ObserveExecution(engine.Execution{Script: "metrics-ok", EntryPoint: engine.EntryOnRequest, Duration: time.Millisecond})
	ObserveExecution(engine.Execution{
		Script:     "metrics-ok",
		EntryPoint: engine.EntryOnRequest,
		Err:        &engine.ScriptError{Kind: engine.KindScriptRuntime, Err: errors.New("x")},
	})

	body := scrape(t)
	assert.Contains(t, body, `snare_script_executions_total{entry_point="on_request",outcome="ok",script="metrics-ok"} 1`)
	assert.Contains(t, body, `snare_script_executions_total{entry_point="on_request",outcome="script_runtime_error",script="metrics-ok"} 1`)
	assert.Contains(t, body, `snare_script_lock_wait_seconds_count{script="metrics-ok"} 2`)
}
