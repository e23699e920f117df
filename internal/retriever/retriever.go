// Package retriever ranks stored memories against a free-text query by
// a blend of semantic similarity and temporal relevance.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/embedding"
	"github.com/nidhogg/memoro/internal/journal"
	"github.com/nidhogg/memoro/internal/memory"
	"github.com/nidhogg/memoro/internal/vectorstore"
)

// DefaultLimit is the result count when the caller does not specify one.
const DefaultLimit = 5

// Candidates is the coarse similarity search collaborator.
type Candidates interface {
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error)
}

// MemorySource loads memory rows for candidate IDs.
type MemorySource interface {
	GetMany(ctx context.Context, ids []string) ([]*memory.Memory, error)
}

// EntryResolver resolves a memory's weak back-reference to its entry.
type EntryResolver interface {
	GetEntry(ctx context.Context, id string) (*journal.Entry, error)
}

// ScoredMemory is one ranked hit. Entry is nil when the source entry
// could not be resolved; callers fall back to the memory preview.
type ScoredMemory struct {
	Memory    *memory.Memory
	Entry     *journal.Entry
	Relevance float64
	Temporal  float64
	Final     float64
}

// Content returns the resolved entry text, or the memory preview when
// the entry is gone.
func (s ScoredMemory) Content() string {
	if s.Entry != nil {
		return s.Entry.Content
	}
	return s.Memory.Preview
}

// Result is an ordered retrieval result, descending by final score.
// TotalScore sums the included final scores as an aggregate relevance
// signal.
type Result struct {
	Items      []ScoredMemory
	TotalScore float64
}

// Filters narrows ranked results. Zero times leave that side of the
// date range open.
type Filters struct {
	From  time.Time
	To    time.Time
	Moods []journal.Mood
	Tags  []string
}

// Retriever runs query-time retrieval. Stateless apart from reads
// against the shared stores; every dependency is injected.
type Retriever struct {
	embedder   embedding.Provider
	candidates Candidates
	memories   MemorySource
	entries    EntryResolver
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Retriever.
func New(embedder embedding.Provider, candidates Candidates, memories MemorySource,
	entries EntryResolver, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder:   embedder,
		candidates: candidates,
		memories:   memories,
		entries:    entries,
		logger:     logger,
		now:        time.Now,
	}
}

// Search embeds the query, pulls 2x limit coarse candidates, rescores
// them with the relevance/temporal blend and returns the top limit.
func (r *Retriever) Search(ctx context.Context, query string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return r.search(ctx, query, limit, 2*limit, nil)
}

// SearchWithFilters ranks an oversampled pool of 3x limit candidates,
// then drops results failing the date, mood or tag predicates. A
// restrictive filter can return fewer than limit results even when
// more matches exist outside the pool; the pool is not re-widened.
func (r *Retriever) SearchWithFilters(ctx context.Context, query string, f Filters, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return r.search(ctx, query, limit, 3*limit, f.match)
}

func (r *Retriever) search(ctx context.Context, query string, limit, pool int, keep func(ScoredMemory) bool) (*Result, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embed query: model returned no vector")
	}
	qvec := vectors[0]

	hits, err := r.candidates.Search(ctx, vectorstore.Collection, qvec, uint64(pool))
	if err != nil {
		return nil, fmt.Errorf("candidate search: %w", err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	mems, err := r.memories.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	now := r.now()
	scored := make([]ScoredMemory, 0, len(mems))
	for _, m := range mems {
		rel := cosine(qvec, m.Vector)
		if len(m.Vector) != len(qvec) {
			r.logger.Warn("memory vector dimension mismatch",
				zap.String("memory", m.ID),
				zap.Int("stored", len(m.Vector)),
				zap.Int("query", len(qvec)))
		}
		temp := temporalScore(m.CreatedAt, m.LastAccessedAt, now)

		s := ScoredMemory{
			Memory:    m,
			Relevance: rel,
			Temporal:  temp,
			Final:     finalScore(rel, temp),
		}
		s.Entry = r.resolveEntry(ctx, m)
		scored = append(scored, s)
	}

	// Stable sort keeps candidate order on ties, for reproducibility.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Final > scored[j].Final
	})

	res := &Result{}
	for _, s := range scored {
		if len(res.Items) >= limit {
			break
		}
		if keep != nil && !keep(s) {
			continue
		}
		res.Items = append(res.Items, s)
		res.TotalScore += s.Final
	}
	return res, nil
}

// resolveEntry follows the weak back-reference. Failure is a normal
// path: the preview text stands in for deleted entries.
func (r *Retriever) resolveEntry(ctx context.Context, m *memory.Memory) *journal.Entry {
	if m.EntryID == "" {
		return nil
	}
	e, err := r.entries.GetEntry(ctx, m.EntryID)
	if err != nil {
		r.logger.Debug("source entry unresolved",
			zap.String("memory", m.ID), zap.String("entry", m.EntryID))
		return nil
	}
	return e
}

// match applies all provided predicates.
func (f Filters) match(s ScoredMemory) bool {
	when := s.Memory.CreatedAt
	if s.Entry != nil {
		when = s.Entry.CreatedAt
	}
	if !f.From.IsZero() && when.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && when.After(f.To) {
		return false
	}

	if len(f.Moods) > 0 && !f.matchMood(s) {
		return false
	}

	if len(f.Tags) > 0 {
		any := false
		for _, t := range f.Tags {
			if s.Memory.HasTag(t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

func (f Filters) matchMood(s ScoredMemory) bool {
	for _, m := range f.Moods {
		if s.Entry != nil && s.Entry.Mood == m {
			return true
		}
		// Unresolved entries fall back to the mood tag written at
		// embedding time.
		if s.Entry == nil && s.Memory.HasTag(string(m)) {
			return true
		}
	}
	return false
}
