package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("journal: entry not found")

// Store handles PostgreSQL operations for journal entries.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a journal store on an existing connection pool.
func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateEntry persists a new entry. An empty ID is replaced with a
// fresh UUID; an empty CreatedAt is replaced with now.
func (s *Store) CreateEntry(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := ParseMood(string(e.Mood)); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO journal_entries (id, content, mood, created_at)
		VALUES ($1, $2, $3, $4)`,
		e.ID, e.Content, string(e.Mood), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// GetEntry fetches a single entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*Entry, error) {
	var (
		e    Entry
		mood string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, content, mood, created_at
		FROM journal_entries WHERE id = $1`, id,
	).Scan(&e.ID, &e.Content, &mood, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	e.Mood = Mood(mood)
	return &e, nil
}

// EntryExists reports whether an entry with the given ID is present.
func (s *Store) EntryExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM journal_entries WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("entry exists %s: %w", id, err)
	}
	return exists, nil
}

// DeleteEntry removes an entry. Memories referencing it are left in
// place and reclaimed by the orchestrator's orphan cleanup.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM journal_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntries returns entries newest first.
func (s *Store) ListEntries(ctx context.Context, limit, offset int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, content, mood, created_at
		FROM journal_entries
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListUnembedded returns entries that have no memory record yet,
// oldest first. These form the backlog for embedding catch-up.
func (s *Store) ListUnembedded(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT e.id, e.content, e.mood, e.created_at
		FROM journal_entries e
		LEFT JOIN memories m ON m.entry_id = e.id
		WHERE m.id IS NULL
		ORDER BY e.created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unembedded: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var (
			e    Entry
			mood string
		)
		if err := rows.Scan(&e.ID, &e.Content, &mood, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Mood = Mood(mood)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
