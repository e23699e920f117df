package orchestrator

import "fmt"

// GenerationError reports that the embedding model call failed or
// returned no vector. Fatal to the single operation, never to a batch.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("embedding generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StorageError reports that persisting a computed embedding failed.
type StorageError struct {
	EntryID string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("embedding storage failed for entry %s: %v", e.EntryID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
