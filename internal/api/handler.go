// Package api exposes the pipeline and its memory over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/penwright/scribe/internal/memory"
	"github.com/penwright/scribe/internal/orchestrator"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, query, userData string) (orchestrator.Result, error)
}

// MemoryReader is the slice of the store the HTTP layer reads and maintains.
type MemoryReader interface {
	Statistics() (memory.Stats, error)
	GetLearnings(agentName string, successOnly bool, limit int) ([]memory.Learning, error)
	GetSimilarResearch(query string, limit int) ([]memory.ResearchHit, error)
	ClearOldCache(days int) (int64, error)
}

// AppDeps holds dependencies for the HTTP handler.
type AppDeps struct {
	Runner Runner
	Store  MemoryReader
	Token  string
}

type runRequest struct {
	Query    string `json:"query"`
	UserData string `json:"user_data,omitempty"`
}

// NewAppHandler returns the HTTP handler. When Token is non-empty every
// route except /health requires a bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/run", handleRun(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/learnings", handleLearnings(deps))
		r.Get("/research/similar", handleSimilarResearch(deps))
		r.Post("/cache/clear", handleClearCache(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		result, err := deps.Runner.Run(r.Context(), req.Query, req.UserData)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "pipeline run failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Statistics()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get statistics: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleLearnings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent := r.URL.Query().Get("agent")
		successOnly := r.URL.Query().Get("success_only") == "true"
		limit := parseIntParam(r, "limit", 20, 100)

		learnings, err := deps.Store.GetLearnings(agent, successOnly, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list learnings: %v", err)
			return
		}

		if learnings == nil {
			learnings = []memory.Learning{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(learnings)
	}
}

func handleSimilarResearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)

		hits, err := deps.Store.GetSimilarResearch(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to search research: %v", err)
			return
		}

		if hits == nil {
			hits = []memory.ResearchHit{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hits)
	}
}

func handleClearCache(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", 30, 0)

		deleted, err := deps.Store.ClearOldCache(days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear cache: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"deleted": deleted})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
