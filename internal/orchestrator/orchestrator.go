// Package orchestrator generates and persists embeddings for journal
// entries: single calls, backlog catch-up, and orphan reclamation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/chunker"
	"github.com/nidhogg/memoro/internal/embedding"
	"github.com/nidhogg/memoro/internal/journal"
	"github.com/nidhogg/memoro/internal/memory"
	"github.com/nidhogg/memoro/internal/vectorstore"
)

// DefaultBatchSize bounds how many entries are in flight at once
// during backlog processing.
const DefaultBatchSize = 10

// MemoryWriter is the slice of the memory store the orchestrator needs.
type MemoryWriter interface {
	Save(ctx context.Context, m *memory.Memory) error
	DeleteOrphans(ctx context.Context) ([]string, error)
}

// EntrySource lists entries still lacking an embedding.
type EntrySource interface {
	ListUnembedded(ctx context.Context, limit int) ([]*journal.Entry, error)
}

// VectorIndex is the slice of the vector store the orchestrator needs.
type VectorIndex interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error
	Delete(ctx context.Context, collection string, ids []string) error
}

// Orchestrator coordinates the embedding pipeline. All collaborators
// are injected; it holds no global state.
type Orchestrator struct {
	embedder  embedding.Provider
	chunks    *chunker.Chunker
	memories  MemoryWriter
	entries   EntrySource
	vectors   VectorIndex
	logger    *zap.Logger
	batchSize int
}

// New creates an Orchestrator. A non-positive batchSize falls back to
// DefaultBatchSize.
func New(embedder embedding.Provider, chunks *chunker.Chunker, memories MemoryWriter,
	entries EntrySource, vectors VectorIndex, batchSize int, logger *zap.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		embedder:  embedder,
		chunks:    chunks,
		memories:  memories,
		entries:   entries,
		vectors:   vectors,
		logger:    logger,
		batchSize: batchSize,
	}
}

// EmbedText embeds a single text. Model failures and empty results
// both surface as *GenerationError.
func (o *Orchestrator) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &GenerationError{Err: fmt.Errorf("model returned no vector")}
	}
	return vectors[0], nil
}

// StoreEmbedding persists a memory for the entry: a bounded preview
// plus the vector, upserted in the row store and the vector index.
// Persistence failures surface as *StorageError.
func (o *Orchestrator) StoreEmbedding(ctx context.Context, entryID, text string, vec []float32, tags ...string) (*memory.Memory, error) {
	m := &memory.Memory{
		EntryID: entryID,
		Preview: memory.MakePreview(text),
		Vector:  vec,
		Tags:    tags,
		Type:    memory.TypeJournal,
	}
	if err := o.memories.Save(ctx, m); err != nil {
		return nil, &StorageError{EntryID: entryID, Err: err}
	}
	err := o.vectors.Upsert(ctx, vectorstore.Collection, m.ID, vec, map[string]string{
		vectorstore.PayloadEntryID:   entryID,
		vectorstore.PayloadCreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, &StorageError{EntryID: entryID, Err: err}
	}
	return m, nil
}

// EmbedEntry embeds one entry end to end. The entry is chunked, any
// chunk still over the model's input limit is cut into coarse
// overlapping slices, and the per-piece vectors are mean-pooled into
// one entry vector.
func (o *Orchestrator) EmbedEntry(ctx context.Context, e *journal.Entry) (*memory.Memory, error) {
	var texts []string
	for _, ch := range o.chunks.Split(e.Content, e.CreatedAt, e.Mood) {
		texts = append(texts, o.chunks.SliceForEmbedding(ch.Text)...)
	}
	if len(texts) == 0 {
		return nil, &GenerationError{Err: fmt.Errorf("entry %s has no content", e.ID)}
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &GenerationError{Err: fmt.Errorf("model returned no vector")}
	}
	vec := meanPool(vectors)

	var tags []string
	if e.Mood != journal.MoodUnset {
		tags = []string{string(e.Mood)}
	}
	return o.StoreEmbedding(ctx, e.ID, e.Content, vec, tags...)
}

// ProcessBacklog embeds every entry still lacking a memory, in batches
// of at most batchSize with one goroutine per entry. A failed entry is
// logged and skipped; it never aborts its batch or the run. Partial
// completion is fine, the job is idempotent and retryable.
func (o *Orchestrator) ProcessBacklog(ctx context.Context) (processed, failed int, err error) {
	entries, err := o.entries.ListUnembedded(ctx, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("list backlog: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}
	o.logger.Info("processing embedding backlog", zap.Int("entries", len(entries)))

	var ok, bad atomic.Int64
	for start := 0; start < len(entries); start += o.batchSize {
		end := start + o.batchSize
		if end > len(entries) {
			end = len(entries)
		}

		var wg sync.WaitGroup
		for _, e := range entries[start:end] {
			wg.Add(1)
			go func(e *journal.Entry) {
				defer wg.Done()
				if _, embErr := o.EmbedEntry(ctx, e); embErr != nil {
					bad.Add(1)
					o.logger.Warn("backlog entry failed",
						zap.String("entry", e.ID), zap.Error(embErr))
					return
				}
				ok.Add(1)
			}(e)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	processed, failed = int(ok.Load()), int(bad.Load())
	o.logger.Info("backlog processing done",
		zap.Int("processed", processed), zap.Int("failed", failed))
	return processed, failed, ctx.Err()
}

// CleanupOrphans deletes memories whose source entry no longer exists
// and returns how many were removed. Running it twice back to back
// deletes nothing the second time.
func (o *Orchestrator) CleanupOrphans(ctx context.Context) (int, error) {
	ids, err := o.memories.DeleteOrphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphans: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := o.vectors.Delete(ctx, vectorstore.Collection, ids); err != nil {
		// Rows are gone; stale points stop resolving and get swept on
		// a later run if the index is rebuilt.
		o.logger.Warn("orphan vector delete failed", zap.Error(err))
	}
	o.logger.Info("orphaned memories reclaimed", zap.Int("count", len(ids)))
	return len(ids), nil
}

// meanPool averages slice vectors into a single entry vector.
func meanPool(vectors [][]float32) []float32 {
	if len(vectors) == 1 {
		return vectors[0]
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}
