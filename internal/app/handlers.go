package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"snare/pkg/engine"
	"snare/pkg/fastjson"
	"snare/pkg/filter"
	"snare/pkg/registry"
	"snare/pkg/utils/coerce"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes      = 1 << 20
	defaultAuditLimit = 50
)

type executeRequest struct {
	Request string              `json:"request"`
	Args    fastjson.RawMessage `json:"args"`
}

type filterRequest struct {
	Request string `json:"request"`
	Steps   []struct {
		Script string              `json:"script"`
		Args   fastjson.RawMessage `json:"args"`
	} `json:"steps"`
}

// argsText accepts the argument array inline or as a string holding it.
func argsText(raw fastjson.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return "", nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := fastjson.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return text, nil
}

func (a *AppContext) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"scripts": len(a.Registry.List()),
	}
	if a.Audit != nil {
		if err := a.Audit.Ping(r.Context()); err != nil {
			body["status"] = "degraded"
			body["audit"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["audit"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *AppContext) handleListScripts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    a.Registry.List(),
	})
}

func (a *AppContext) handleGetScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s, err := a.Registry.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    registry.Info{Script: name, Metadata: s.Metadata()},
	})
}

func (a *AppContext) handleGetArgs(w http.ResponseWriter, r *http.Request) {
	s, err := a.Registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := a.lockContext(r.Context())
	defer cancel()

	args, err := s.GetArgs(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": args})
}

func (a *AppContext) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req executeRequest
	if err := fastjson.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, malformed(name, err))
		return
	}
	argsJSON, err := argsText(req.Args)
	if err != nil {
		writeError(w, malformed(name, err))
		return
	}

	s, err := a.Registry.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := a.lockContext(r.Context())
	defer cancel()

	result, err := s.Execute(ctx, req.Request, argsJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": result})
}

func (a *AppContext) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := fastjson.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, malformed("", err))
		return
	}

	steps := make([]filter.Step, 0, len(req.Steps))
	for _, st := range req.Steps {
		args, err := argsText(st.Args)
		if err != nil {
			writeError(w, malformed(st.Script, err))
			return
		}
		steps = append(steps, filter.Step{Script: st.Script, Args: args})
	}

	res, err := a.Chain.Run(r.Context(), req.Request, steps)
	if err != nil {
		var stepErr *filter.StepError
		if errors.As(err, &stepErr) {
			writeJSON(w, statusFor(stepErr.Err), map[string]interface{}{
				"success": false,
				"step":    stepErr.Index,
				"error":   errorBody(stepErr.Err),
				"data":    res,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": res})
}

func (a *AppContext) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if a.Audit == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   map[string]string{"message": "audit log is not configured"},
		})
		return
	}

	limit := coerce.ToIntDef(r.URL.Query().Get("limit"), defaultAuditLimit)
	if limit <= 0 || limit > 1000 {
		limit = defaultAuditLimit
	}

	entries, err := a.Audit.Recent(r.Context(), r.URL.Query().Get("script"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": entries})
}

// lockContext bounds how long a request waits for a busy script.
func (a *AppContext) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.Config.LockWaitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.Config.LockWaitTimeout)
}

func malformed(script string, err error) error {
	return &engine.ScriptError{
		Kind:    engine.KindMalformedArguments,
		Script:  script,
		Message: "invalid request body: " + err.Error(),
		Err:     err,
	}
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.KindIO:
		if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrInvalidName) || errors.Is(err, registry.ErrDisabled) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case engine.KindCompile, engine.KindMissingEntryPoint, engine.KindSchemaShape:
		return http.StatusUnprocessableEntity
	case engine.KindMalformedArguments:
		return http.StatusBadRequest
	case engine.KindLock:
		return http.StatusServiceUnavailable
	case engine.KindScriptRuntime:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorBody(err error) interface{} {
	var se *engine.ScriptError
	if errors.As(err, &se) {
		return se
	}
	return map[string]string{"message": err.Error()}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"success": false,
		"error":   errorBody(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fastjson.NewEncoder(w).Encode(body)
}
