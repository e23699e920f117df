// Package api exposes the retrieval core over HTTP. The single entry
// point the rest of the application needs is POST /api/context: free
// text plus optional filters in, a ready-to-inject context string out.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/assembler"
	"github.com/nidhogg/memoro/internal/journal"
	"github.com/nidhogg/memoro/internal/orchestrator"
	"github.com/nidhogg/memoro/internal/retriever"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db           Pinger
	entries      *journal.Store
	search       *retriever.Retriever
	assemble     *assembler.Assembler
	orch         *orchestrator.Orchestrator
	defaultLimit int
	maxContext   int
	logger       *zap.Logger
}

// NewHandler creates a new API handler. A nil db skips the health
// check's reachability probe.
func NewHandler(db Pinger, entries *journal.Store, search *retriever.Retriever,
	assemble *assembler.Assembler, orch *orchestrator.Orchestrator,
	defaultLimit, maxContext int, logger *zap.Logger) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = retriever.DefaultLimit
	}
	if maxContext <= 0 {
		maxContext = assembler.DefaultMaxLength
	}
	return &Handler{
		db:           db,
		entries:      entries,
		search:       search,
		assemble:     assemble,
		orch:         orch,
		defaultLimit: defaultLimit,
		maxContext:   maxContext,
		logger:       logger,
	}
}

// Router builds the chi router with all API routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/context", h.buildContext)
		r.Post("/search", h.runSearch)

		r.Post("/entries", h.createEntry)
		r.Get("/entries", h.listEntries)
		r.Get("/entries/{id}", h.getEntry)
		r.Delete("/entries/{id}", h.deleteEntry)

		r.Post("/backlog/run", h.runBacklog)
		r.Post("/cleanup", h.runCleanup)
	})

	return r
}

type filterPayload struct {
	From  string   `json:"from,omitempty"`
	To    string   `json:"to,omitempty"`
	Moods []string `json:"moods,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type contextRequest struct {
	Query     string         `json:"query"`
	Limit     int            `json:"limit,omitempty"`
	MaxLength int            `json:"max_length,omitempty"`
	Filters   *filterPayload `json:"filters,omitempty"`
}

type contextResponse struct {
	Context    string  `json:"context"`
	Results    int     `json:"results"`
	TotalScore float64 `json:"total_score"`
}

// buildContext is the caller boundary: query in, bounded context out.
// A failed retrieval presents as "no relevant context", not an error;
// this subsystem augments the assistant, it never gates it.
func (h *Handler) buildContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = h.defaultLimit
	}
	if req.MaxLength <= 0 {
		req.MaxLength = h.maxContext
	}

	f, err := parseFilters(req.Filters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.runRetrieval(r, req.Query, f, req.Limit)
	if err != nil {
		h.logger.Warn("retrieval failed", zap.Error(err))
		writeJSON(w, http.StatusOK, contextResponse{
			Context: assembler.NoContextSentinel,
		})
		return
	}

	writeJSON(w, http.StatusOK, contextResponse{
		Context:    h.assemble.Assemble(res, req.MaxLength),
		Results:    len(res.Items),
		TotalScore: res.TotalScore,
	})
}

type searchResponse struct {
	Results    []searchHit `json:"results"`
	TotalScore float64     `json:"total_score"`
}

type searchHit struct {
	MemoryID  string  `json:"memory_id"`
	EntryID   string  `json:"entry_id,omitempty"`
	Preview   string  `json:"preview"`
	Relevance float64 `json:"relevance"`
	Temporal  float64 `json:"temporal"`
	Score     float64 `json:"score"`
}

// runSearch returns ranked hits without assembling them, for clients
// that render results themselves.
func (h *Handler) runSearch(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = h.defaultLimit
	}

	f, err := parseFilters(req.Filters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.runRetrieval(r, req.Query, f, req.Limit)
	if err != nil {
		h.logger.Warn("search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "search unavailable")
		return
	}

	resp := searchResponse{TotalScore: res.TotalScore, Results: []searchHit{}}
	for _, s := range res.Items {
		resp.Results = append(resp.Results, searchHit{
			MemoryID:  s.Memory.ID,
			EntryID:   s.Memory.EntryID,
			Preview:   s.Memory.Preview,
			Relevance: s.Relevance,
			Temporal:  s.Temporal,
			Score:     s.Final,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) runRetrieval(r *http.Request, query string, f *retriever.Filters, limit int) (*retriever.Result, error) {
	if f == nil {
		return h.search.Search(r.Context(), query, limit)
	}
	return h.search.SearchWithFilters(r.Context(), query, *f, limit)
}

// parseFilters validates the filter payload up front so malformed
// dates and unknown moods reject the request instead of surfacing as a
// retrieval failure.
func parseFilters(fp *filterPayload) (*retriever.Filters, error) {
	if fp == nil {
		return nil, nil
	}
	var f retriever.Filters
	if fp.From != "" {
		t, err := time.Parse(time.RFC3339, fp.From)
		if err != nil {
			return nil, fmt.Errorf("invalid from date: %w", err)
		}
		f.From = t
	}
	if fp.To != "" {
		t, err := time.Parse(time.RFC3339, fp.To)
		if err != nil {
			return nil, fmt.Errorf("invalid to date: %w", err)
		}
		f.To = t
	}
	for _, m := range fp.Moods {
		mood, err := journal.ParseMood(m)
		if err != nil {
			return nil, err
		}
		f.Moods = append(f.Moods, mood)
	}
	f.Tags = fp.Tags
	return &f, nil
}

type createEntryRequest struct {
	Content string `json:"content"`
	Mood    string `json:"mood,omitempty"`
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	mood, err := journal.ParseMood(req.Mood)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e := &journal.Entry{Content: req.Content, Mood: mood}
	if err := h.entries.CreateEntry(r.Context(), e); err != nil {
		h.logger.Error("create entry failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	// Embed eagerly; the backlog loop catches it up on failure.
	if _, err := h.orch.EmbedEntry(r.Context(), e); err != nil {
		h.logger.Warn("eager embedding failed, left to backlog",
			zap.String("entry", e.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.entries.ListEntries(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list entries failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.entries.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) runBacklog(w http.ResponseWriter, r *http.Request) {
	processed, failed, err := h.orch.ProcessBacklog(r.Context())
	if err != nil {
		h.logger.Error("backlog run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backlog run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"processed": processed,
		"failed":    failed,
	})
}

func (h *Handler) runCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.orch.CleanupOrphans(r.Context())
	if err != nil {
		h.logger.Error("cleanup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["postgres"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
