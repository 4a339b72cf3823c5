package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	response "github.com/hanpama/docgraph/internal/response"
)

// Routes are the endpoints mounted next to the GraphQL handler.
type Routes struct {
	// Path of the GraphQL endpoint, "/graphql" when empty.
	Path string
	// Ready reports whether the backing store is reachable. Nil is always ready.
	Ready func(context.Context) error
	// Metrics serves the metrics exposition. Nil leaves /metrics unmounted.
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter mounts the GraphQL handler with health, readiness and metrics
// endpoints.
func NewRouter(h http.Handler, rt Routes) chi.Router {
	log := rt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	path := rt.Path
	if path == "" {
		path = "/graphql"
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(recoverer(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if rt.Ready != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := rt.Ready(ctx); err != nil {
				log.Warn("not ready", zap.Error(err))
				writeStatus(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}
	r.Handle(path, h)
	return r
}

func writeStatus(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"status":"` + s + `"}` + "\n"))
}

// recoverer turns a panic outside the executor into a generic 500 envelope.
// The panic value and stack are logged only.
func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic serving request",
					zap.String("path", r.URL.Path),
					zap.String("request_id", w.Header().Get(RequestIDHeader)),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				_ = response.Write(w, http.StatusInternalServerError, response.Internal(), false)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
