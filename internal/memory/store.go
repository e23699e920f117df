package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/embedding"
)

// ErrNotFound is returned when a memory does not exist.
var ErrNotFound = errors.New("memory: not found")

// Store handles PostgreSQL operations for memory records. Vectors are
// stored as opaque binary alongside the row; the vector index lives in
// the vector store collaborator.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a memory store on an existing connection pool.
func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Save upserts a memory. Re-embedding an entry replaces its existing
// memory in place rather than creating a duplicate, keyed on entry_id.
// On conflict the surviving row keeps its original id and created_at;
// both are read back into m so callers address the row that actually
// exists. Invariant: last_accessed_at >= created_at.
func (s *Store) Save(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Type == "" {
		m.Type = TypeJournal
	}
	if m.Importance == 0 {
		m.Importance = DefaultImportance
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.Before(m.CreatedAt) {
		m.LastAccessedAt = m.CreatedAt
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO memories
			(id, entry_id, preview, vector, importance, tags, pinned, type, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entry_id) WHERE entry_id IS NOT NULL
		DO UPDATE SET
			preview = EXCLUDED.preview,
			vector = EXCLUDED.vector,
			tags = EXCLUDED.tags,
			type = EXCLUDED.type
		RETURNING id, created_at`,
		m.ID, nullable(m.EntryID), m.Preview, embedding.EncodeVector(m.Vector),
		m.Importance, m.Tags, m.Pinned, string(m.Type), m.CreatedAt, m.LastAccessedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// Get fetches a memory by ID.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, entry_id, preview, vector, importance, tags, pinned, type, created_at, last_accessed_at
		FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// GetMany fetches memories by ID, preserving the input order. IDs with
// no row are silently dropped; the vector index may briefly know about
// points whose rows are already gone.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, entry_id, preview, vector, importance, tags, pinned, type, created_at, last_accessed_at
		FROM memories WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// TouchAccessed moves a memory's last_accessed_at forward to t. The
// GREATEST keeps the write idempotent and monotonic, so late or
// replayed touches from cancelled calls do no harm.
func (s *Store) TouchAccessed(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE memories
		SET last_accessed_at = GREATEST(last_accessed_at, $2)
		WHERE id = $1`, id, t.UTC())
	if err != nil {
		return fmt.Errorf("touch memory %s: %w", id, err)
	}
	return nil
}

// DeleteOrphans removes memories whose source entry no longer exists
// and returns their IDs so the caller can drop the matching vector
// points. The delete is a single statement, so a memory committed
// mid-cleanup is either fully visible or not matched at all.
func (s *Store) DeleteOrphans(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM memories m
		WHERE m.entry_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM journal_entries e WHERE e.id = m.entry_id)
		RETURNING m.id`)
	if err != nil {
		return nil, fmt.Errorf("delete orphans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanMemory(row pgx.Row) (*Memory, error) {
	var (
		m       Memory
		entryID *string
		blob    []byte
		typ     string
	)
	if err := row.Scan(&m.ID, &entryID, &m.Preview, &blob, &m.Importance,
		&m.Tags, &m.Pinned, &typ, &m.CreatedAt, &m.LastAccessedAt); err != nil {
		return nil, err
	}
	if entryID != nil {
		m.EntryID = *entryID
	}
	vec, err := embedding.DecodeVector(blob)
	if err != nil {
		return nil, err
	}
	m.Vector = vec
	m.Type = Type(typ)
	return &m, nil
}
