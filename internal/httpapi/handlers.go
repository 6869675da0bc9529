package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dshills/gocontext-index/internal/indexer"
	"github.com/dshills/gocontext-index/internal/scheduler"
	"github.com/dshills/gocontext-index/internal/searcher"
	"github.com/dshills/gocontext-index/internal/workspace"
	"github.com/dshills/gocontext-index/pkg/types"
)

// ErrorBody is the standard error envelope
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError holds a machine-readable code and a human message
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WorkspaceStatus describes one workspace
type WorkspaceStatus struct {
	Path          string                 `json:"path"`
	State         types.IndexingState    `json:"state"`
	Message       string                 `json:"message"`
	UpdatedAt     time.Time              `json:"updated_at"`
	WatcherActive bool                   `json:"watcher_active"`
	Progress      types.IndexingProgress `json:"progress"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type searchRequest struct {
	Path        string   `json:"path"`
	Query       string   `json:"query"`
	Limit       int      `json:"limit"`
	Mode        string   `json:"mode"`
	Kinds       []string `json:"kinds"`
	FilePattern string   `json:"file_pattern"`
	MinScore    float64  `json:"min_score"`
}

type handlers struct {
	registry *workspace.Registry
	sched    *scheduler.Scheduler
	version  string
	started  time.Time
	baseCtx  context.Context
	logger   *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"version":    h.version,
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"workspaces": len(h.registry.List()),
	}
	if h.sched != nil {
		if next := h.sched.NextRunAt(); next != nil {
			body["next_reconcile"] = next.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) listWorkspaces(w http.ResponseWriter, _ *http.Request) {
	list := h.registry.List()
	out := make([]WorkspaceStatus, 0, len(list))
	for _, ws := range list {
		out = append(out, statusOf(ws))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": len(out)})
}

// status handles GET /api/status?path=...
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r.URL.Query().Get("path"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusOf(ws))
}

// index handles POST /api/index and runs the indexing pass in the background
func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	ws, ok := h.workspace(w, req.Path)
	if !ok {
		return
	}
	if !ws.Orchestrator().State().CanStartIndexing() {
		writeError(w, http.StatusConflict, "INDEXING_IN_PROGRESS", "Indexing is already running for this workspace")
		return
	}

	go func() {
		status := ws.StartIndexing(h.baseCtx)
		h.logger.Info("indexing request finished", "path", ws.Root(), "state", status.State, "message", status.Message)
	}()
	writeJSON(w, http.StatusAccepted, statusOf(ws))
}

func (h *handlers) clear(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	ws, ok := h.workspace(w, req.Path)
	if !ok {
		return
	}
	if err := ws.Orchestrator().ClearIndexData(r.Context()); err != nil {
		if errors.Is(err, indexer.ErrIndexingInProgress) {
			writeError(w, http.StatusConflict, "INDEXING_IN_PROGRESS", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "CLEAR_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusOf(ws))
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	ws, ok := h.workspace(w, req.Path)
	if !ok {
		return
	}
	ws.Orchestrator().StopWatcher()
	writeJSON(w, http.StatusOK, statusOf(ws))
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	ws, ok := h.workspace(w, req.Path)
	if !ok {
		return
	}

	sreq := searcher.SearchRequest{
		Query:    req.Query,
		Limit:    req.Limit,
		Mode:     searcher.SearchMode(req.Mode),
		UseCache: true,
	}
	if len(req.Kinds) > 0 || req.FilePattern != "" || req.MinScore != 0 {
		f := &searcher.Filters{FilePattern: req.FilePattern, MinScore: req.MinScore}
		for _, k := range req.Kinds {
			f.Kinds = append(f.Kinds, types.BlockKind(k))
		}
		sreq.Filters = f
	}

	resp, err := ws.Search(r.Context(), sreq)
	switch {
	case errors.Is(err, workspace.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", err.Error())
		return
	case errors.Is(err, searcher.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "SEARCH_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":     resp.Results,
		"total":       len(resp.Results),
		"mode":        resp.SearchMode,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})
}

func (h *handlers) workspace(w http.ResponseWriter, path string) (*workspace.Workspace, bool) {
	if path == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PATH", "path is required")
		return nil, false
	}
	ws, err := h.registry.Get(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "WORKSPACE_NOT_FOUND", err.Error())
		return nil, false
	}
	return ws, true
}

func statusOf(ws *workspace.Workspace) WorkspaceStatus {
	st := ws.Status()
	return WorkspaceStatus{
		Path:          ws.Root(),
		State:         st.State,
		Message:       st.Message,
		UpdatedAt:     st.UpdatedAt,
		WatcherActive: ws.Orchestrator().WatcherActive(),
		Progress:      ws.Orchestrator().Progress(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}

// writeJSON serialises v as JSON with status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode", "error", err)
	}
}

// writeError writes a standard error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: APIError{Code: code, Message: message}})
}
