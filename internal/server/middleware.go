package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	apperrors "chatterfix/internal/errors"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
)

type requestIDKey struct{}

// chain wraps h so the first middleware listed runs first
func chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// recoveryMiddleware turns a handler panic into a 500 envelope
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Printf("🚨 Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				apperrors.SendError(w, apperrors.NewInternalError("Internal server error", fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware propagates or assigns X-Request-ID
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request ID assigned by the middleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// loggingMiddleware logs failed requests, slow requests and every write.
// Successful reads are not logged so dashboard polling does not flood the log stream.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		quietRead := r.Method == http.MethodGet || r.Method == http.MethodOptions || r.Method == http.MethodHead
		switch {
		case status >= 500:
			log.Printf("❌ %s %s -> %d (%s) [%s]", r.Method, r.URL.Path, status, elapsed.Round(time.Millisecond), w.Header().Get("X-Request-ID"))
		case status >= 400:
			log.Printf("⚠️  %s %s -> %d (%s) [%s]", r.Method, r.URL.Path, status, elapsed.Round(time.Millisecond), w.Header().Get("X-Request-ID"))
		case !quietRead || (elapsed > time.Second && status != http.StatusSwitchingProtocols):
			log.Printf("🌐 %s %s -> %d (%s)", r.Method, r.URL.Path, status, elapsed.Round(time.Millisecond))
		}
	})
}

// compressMiddleware gzips responses for clients that accept it.
// WebSocket upgrades bypass it because the gzip writer cannot be hijacked.
func compressMiddleware(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gorillaws.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}
