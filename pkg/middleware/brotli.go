package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var brWriterPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

type brotliResponseWriter struct {
	http.ResponseWriter
	bw          *brotli.Writer
	wroteHeader bool
	compressing bool
}

// WriteHeader decides whether the body is compressed. Only 200 responses
// with a compressible content type are; 204/304 must not carry an encoding.
func (w *brotliResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	if code == http.StatusOK && compressible(w.Header().Get("Content-Type")) {
		w.Header().Del("Content-Length")
		w.Header().Set("Content-Encoding", "br")
		w.Header().Add("Vary", "Accept-Encoding")
		w.compressing = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *brotliResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if !w.compressing {
		return w.ResponseWriter.Write(b)
	}
	return w.bw.Write(b)
}

// Flush implements the http.Flusher interface
func (w *brotliResponseWriter) Flush() {
	if w.compressing {
		w.bw.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *brotliResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func compressible(ct string) bool {
	switch {
	case strings.HasPrefix(ct, "image/") && !strings.Contains(ct, "svg"):
		return false
	case strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return false
	}
	return true
}

// Brotli compresses responses for clients that accept br. When enabled is
// false the middleware passes requests straight through.
func Brotli(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") || w.Header().Get("Content-Encoding") != "" {
				next.ServeHTTP(w, r)
				return
			}

			bw := brWriterPool.Get().(*brotli.Writer)
			defer brWriterPool.Put(bw)
			bw.Reset(w)

			brw := &brotliResponseWriter{ResponseWriter: w, bw: bw}
			defer func() {
				// Close writes the stream footer.
				if brw.compressing {
					bw.Close()
				}
			}()

			next.ServeHTTP(brw, r)
		})
	}
}
