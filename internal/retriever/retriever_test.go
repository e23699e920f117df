package retriever

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/journal"
	"github.com/nidhogg/memoro/internal/memory"
	"github.com/nidhogg/memoro/internal/vectorstore"
)

type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return len(f.vec) }

type fakeCandidates struct {
	hits     []*vectorstore.SearchResult
	lastTopK uint64
}

func (f *fakeCandidates) Search(_ context.Context, _ string, _ []float32, topK uint64) ([]*vectorstore.SearchResult, error) {
	f.lastTopK = topK
	return f.hits, nil
}

type fakeMemories struct {
	byID map[string]*memory.Memory
}

func (f *fakeMemories) GetMany(_ context.Context, ids []string) ([]*memory.Memory, error) {
	var out []*memory.Memory
	for _, id := range ids {
		if m, ok := f.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeEntries struct {
	byID map[string]*journal.Entry
}

func (f *fakeEntries) GetEntry(_ context.Context, id string) (*journal.Entry, error) {
	if e, ok := f.byID[id]; ok {
		return e, nil
	}
	return nil, journal.ErrNotFound
}

func newTestRetriever(t *testing.T, mems []*memory.Memory, entries map[string]*journal.Entry, qvec []float32) (*Retriever, *fakeCandidates) {
	t.Helper()

	candidates := &fakeCandidates{}
	memsByID := make(map[string]*memory.Memory)
	for _, m := range mems {
		memsByID[m.ID] = m
		candidates.hits = append(candidates.hits, &vectorstore.SearchResult{ID: m.ID})
	}

	r := New(&fakeEmbedder{vec: qvec}, candidates, &fakeMemories{byID: memsByID}, &fakeEntries{byID: entries}, zap.NewNop())
	r.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r, candidates
}

func testMemory(id string, vec []float32, createdAt time.Time, tags ...string) *memory.Memory {
	return &memory.Memory{
		ID:             id,
		EntryID:        "entry-" + id,
		Preview:        "preview " + id,
		Vector:         vec,
		CreatedAt:      createdAt,
		LastAccessedAt: createdAt,
		Tags:           tags,
	}
}

func TestSearchRankingOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mems := []*memory.Memory{
		testMemory("a", []float32{0, 1}, now), // orthogonal
		testMemory("b", []float32{1, 0}, now), // exact match
		testMemory("c", []float32{1, 1}, now), // partial
	}

	r, candidates := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if candidates.lastTopK != 10 {
		t.Errorf("candidate pool = %d, want 2x limit = 10", candidates.lastTopK)
	}
	if len(res.Items) != 3 {
		t.Fatalf("got %d results, want 3", len(res.Items))
	}

	wantOrder := []string{"b", "c", "a"}
	for i, want := range wantOrder {
		if res.Items[i].Memory.ID != want {
			t.Errorf("rank %d: got %s, want %s", i, res.Items[i].Memory.ID, want)
		}
	}
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].Final > res.Items[i-1].Final {
			t.Errorf("results not sorted descending at rank %d", i)
		}
	}

	var sum float64
	for _, s := range res.Items {
		sum += s.Final
	}
	if res.TotalScore != sum {
		t.Errorf("TotalScore = %v, want %v", res.TotalScore, sum)
	}
}

func TestSearchExactMatchScoresOne(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mems := []*memory.Memory{testMemory("a", []float32{1, 0}, now)}

	r, _ := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := res.Items[0]
	if got.Relevance != 1.0 || got.Temporal != 1.0 || got.Final != 1.0 {
		t.Errorf("fresh exact match: relevance=%v temporal=%v final=%v, want all 1.0",
			got.Relevance, got.Temporal, got.Final)
	}
}

func TestSearchStableTieBreak(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	// Identical vectors and timestamps: candidate order must hold.
	mems := []*memory.Memory{
		testMemory("first", []float32{1, 0}, now),
		testMemory("second", []float32{1, 0}, now),
		testMemory("third", []float32{1, 0}, now),
	}

	r, _ := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []string{"first", "second", "third"}
	for i, want := range wantOrder {
		if res.Items[i].Memory.ID != want {
			t.Errorf("rank %d: got %s, want %s (ties must keep candidate order)", i, res.Items[i].Memory.ID, want)
		}
	}
}

func TestSearchDimensionMismatchScoresZero(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mems := []*memory.Memory{
		testMemory("drifted", []float32{1, 0, 0}, now), // 3-dim vs 2-dim query
		testMemory("good", []float32{1, 0}, now),
	}

	r, _ := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("mismatch must degrade, not fail: %v", err)
	}

	if res.Items[0].Memory.ID != "good" {
		t.Errorf("rank 0: got %s, want good", res.Items[0].Memory.ID)
	}
	if res.Items[1].Memory.ID != "drifted" || res.Items[1].Relevance != 0 {
		t.Errorf("drifted memory: relevance = %v, want 0", res.Items[1].Relevance)
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	var mems []*memory.Memory
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		mems = append(mems, testMemory(id, []float32{1, 0}, now))
	}

	r, _ := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 2 {
		t.Errorf("got %d results, want 2", len(res.Items))
	}
}

func TestSearchResolvesEntriesBestEffort(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mems := []*memory.Memory{
		testMemory("kept", []float32{1, 0}, now),
		testMemory("deleted", []float32{1, 0}, now),
	}
	entries := map[string]*journal.Entry{
		"entry-kept": {ID: "entry-kept", Content: "full entry text", CreatedAt: now},
	}

	r, _ := newTestRetriever(t, mems, entries, []float32{1, 0})
	res, err := r.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, s := range res.Items {
		switch s.Memory.ID {
		case "kept":
			if s.Entry == nil || s.Content() != "full entry text" {
				t.Error("resolved entry should supply content")
			}
		case "deleted":
			if s.Entry != nil {
				t.Error("deleted entry should stay unresolved")
			}
			if s.Content() != "preview deleted" {
				t.Errorf("fallback content = %q, want preview", s.Content())
			}
		}
	}
}

func TestSearchWithFiltersOversamplesAndFilters(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour)

	mems := []*memory.Memory{
		testMemory("recent", []float32{1, 0}, now),
		testMemory("old", []float32{1, 0}, old),
	}
	entries := map[string]*journal.Entry{
		"entry-recent": {ID: "entry-recent", Content: "recent", CreatedAt: now, Mood: journal.MoodHappy},
		"entry-old":    {ID: "entry-old", Content: "old", CreatedAt: old, Mood: journal.MoodSad},
	}

	r, candidates := newTestRetriever(t, mems, entries, []float32{1, 0})

	f := Filters{From: now.Add(-7 * 24 * time.Hour)}
	res, err := r.SearchWithFilters(context.Background(), "query", f, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if candidates.lastTopK != 15 {
		t.Errorf("candidate pool = %d, want 3x limit = 15", candidates.lastTopK)
	}
	if len(res.Items) != 1 || res.Items[0].Memory.ID != "recent" {
		t.Fatalf("date filter should keep only the recent memory, got %d items", len(res.Items))
	}

	// Mood filter.
	res, err = r.SearchWithFilters(context.Background(), "query", Filters{Moods: []journal.Mood{journal.MoodSad}}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Memory.ID != "old" {
		t.Fatal("mood filter should keep only the sad entry")
	}
}

func TestSearchWithFiltersTagIntersection(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mems := []*memory.Memory{
		testMemory("tagged", []float32{1, 0}, now, "travel", "family"),
		testMemory("untagged", []float32{1, 0}, now),
	}

	r, _ := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.SearchWithFilters(context.Background(), "query", Filters{Tags: []string{"travel"}}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Memory.ID != "tagged" {
		t.Fatal("tag filter should keep only the tagged memory")
	}
}

func TestSearchWithFiltersCanReturnFewerThanLimit(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	var mems []*memory.Memory
	for _, id := range []string{"a", "b", "c", "d"} {
		mems = append(mems, testMemory(id, []float32{1, 0}, now))
	}
	mems[0].Tags = []string{"rare"}

	r, _ := newTestRetriever(t, mems, nil, []float32{1, 0})
	res, err := r.SearchWithFilters(context.Background(), "query", Filters{Tags: []string{"rare"}}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A restrictive filter legitimately underfills the limit.
	if len(res.Items) != 1 {
		t.Errorf("got %d results, want 1", len(res.Items))
	}
}
