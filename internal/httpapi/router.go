// Package httpapi exposes the tool calls as JSON endpoints on a local HTTP
// listener. Errors carry the same codes as the MCP surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/internal/tools"
)

// Deps holds dependencies for the HTTP router
type Deps struct {
	Service *tools.Service
	Limiter *tools.Limiter
	Logger  *zap.Logger
}

// NewRouter creates the HTTP router
func NewRouter(deps *Deps) http.Handler {
	logger := logging.OrNop(deps.Logger)
	h := &handler{svc: deps.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(deps.Limiter))

		r.Get("/projects", h.listProjects)
		r.Post("/projects", h.indexProject)

		r.Route("/projects/{project}", func(r chi.Router) {
			r.Get("/", h.projectStatus)
			r.Delete("/", h.removeProject)
			r.Post("/sync", h.syncProject)
			r.Post("/search", h.searchCode)
			r.Post("/similar", h.findSimilarCode)
			r.Post("/text", h.textSearch)
			r.Get("/symbols", h.searchSymbols)
			r.Get("/file", h.getFile)
			r.Get("/patterns", h.projectPatterns)
			r.Get("/callers", h.findCallers)
			r.Get("/callees", h.findCallees)
		})
	})
	return r
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// rateLimit refuses requests beyond the limiter's budget with 429
func rateLimit(l *tools.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Allow(); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
