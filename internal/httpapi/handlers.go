package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/tools"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

type handler struct {
	svc    *tools.Service
	logger *zap.Logger
}

// searchBody is the body of the search endpoints. Snippet and Terms are
// accepted as synonyms of Query on their endpoints.
type searchBody struct {
	Query   string `json:"query"`
	Snippet string `json:"snippet"`
	Terms   string `json:"terms"`
	K       int    `json:"k"`
	Mode    string `json:"mode"`
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListProjects(r.Context())
	h.respond(w, out, err)
}

func (h *handler) indexProject(w http.ResponseWriter, r *http.Request) {
	var p tools.IndexParams
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.svc.IndexProject(r.Context(), p)
	h.respond(w, out, err)
}

func (h *handler) projectStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ProjectStatus(r.Context(), tools.ProjectParams{Project: project(r)})
	h.respond(w, out, err)
}

func (h *handler) removeProject(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RemoveProject(r.Context(), tools.ProjectParams{Project: project(r)})
	h.respond(w, out, err)
}

func (h *handler) syncProject(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.SyncProject(r.Context(), tools.ProjectParams{Project: project(r)})
	h.respond(w, out, err)
}

func (h *handler) searchCode(w http.ResponseWriter, r *http.Request) {
	var b searchBody
	if err := decode(r, &b); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.svc.SearchCode(r.Context(), tools.SearchParams{Project: project(r), Query: b.Query, K: b.K, Mode: b.Mode})
	h.respond(w, out, err)
}

func (h *handler) findSimilarCode(w http.ResponseWriter, r *http.Request) {
	var b searchBody
	if err := decode(r, &b); err != nil {
		writeError(w, err)
		return
	}
	q := b.Snippet
	if q == "" {
		q = b.Query
	}
	out, err := h.svc.FindSimilarCode(r.Context(), tools.SearchParams{Project: project(r), Query: q, K: b.K})
	h.respond(w, out, err)
}

func (h *handler) textSearch(w http.ResponseWriter, r *http.Request) {
	var b searchBody
	if err := decode(r, &b); err != nil {
		writeError(w, err)
		return
	}
	q := b.Terms
	if q == "" {
		q = b.Query
	}
	out, err := h.svc.TextSearch(r.Context(), tools.SearchParams{Project: project(r), Query: q, K: b.K})
	h.respond(w, out, err)
}

func (h *handler) searchSymbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.svc.SearchSymbols(r.Context(), tools.SymbolParams{
		Project:     project(r),
		NamePattern: q.Get("pattern"),
		Limit:       limit,
	})
	h.respond(w, out, err)
}

func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := intParam(q.Get("start_line"), "start_line")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := intParam(q.Get("end_line"), "end_line")
	if err != nil {
		writeError(w, err)
		return
	}
	p := tools.FileParams{Project: project(r), Path: q.Get("path")}
	if start != 0 || end != 0 {
		p.LineRange = &tools.LineRange{Start: start, End: end}
	}
	out, err := h.svc.GetFile(r.Context(), p)
	h.respond(w, out, err)
}

func (h *handler) projectPatterns(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ProjectPatterns(r.Context(), tools.ProjectParams{Project: project(r)})
	h.respond(w, out, err)
}

func (h *handler) findCallers(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.FindCallers(r.Context(), tools.CallParams{Project: project(r), Symbol: r.URL.Query().Get("symbol")})
	h.respond(w, out, err)
}

func (h *handler) findCallees(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.FindCallees(r.Context(), tools.CallParams{Project: project(r), Symbol: r.URL.Query().Get("symbol")})
	h.respond(w, out, err)
}

func (h *handler) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		if tools.Code(err) == tools.CodeInternalError {
			h.logger.Error("request failed", zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func project(r *http.Request) string {
	return chi.URLParam(r, "project")
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &tools.Error{Code: tools.CodeInvalidParams, Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func intParam(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &tools.Error{Code: tools.CodeInvalidParams, Message: "invalid " + name + ": not an integer"}
	}
	return n, nil
}

// statusFor maps a tool error code to an HTTP status
func statusFor(code int) int {
	switch code {
	case tools.CodeInvalidParams, tools.CodeEmptyQuery:
		return http.StatusBadRequest
	case tools.CodeProjectNotFound:
		return http.StatusNotFound
	case tools.CodeSyncInProgress, tools.CodeNotIndexed:
		return http.StatusConflict
	case tools.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	te := tools.AsError(err)
	writeJSON(w, statusFor(te.Code), map[string]any{"error": te})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
