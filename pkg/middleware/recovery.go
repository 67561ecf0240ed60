package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"snare/pkg/fastjson"
)

// Recoverer turns a handler panic into a JSON 500 response. In development
// the panic value and stack are included in the body.
func Recoverer(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				// 1. Stack trace
				stack := string(debug.Stack())

				// 2. Log
				slog.Error("🔥 PANIC RECOVERED",
					"error", rvr,
					"path", r.URL.Path,
					"method", r.Method,
				)

				// 3. Respond
				body := map[string]interface{}{
					"status": http.StatusInternalServerError,
					"error":  "Internal Server Error",
				}
				if env == "development" {
					body["detail"] = fmt.Sprintf("%v", rvr)
					body["stack"] = stack
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fastjson.NewEncoder(w).Encode(body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
