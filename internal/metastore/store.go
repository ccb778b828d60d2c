package metastore

import (
	"context"
	"sync"

	"github.com/ragpp/ragpp/internal/apperr"
)

// Store is a concurrent in-memory doc_id -> Document map. It is the
// store's only required tier; Backend, when configured, mirrors writes to
// a durable SQLite database so metadata survives a process restart.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	backend Backend
}

// Backend is the optional durable tier. SQLiteBackend is the production
// implementation; tests use no backend at all (durability is out of
// scope for an in-process unit test).
type Backend interface {
	Put(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, docID string) error
	LoadAll(ctx context.Context) ([]*Document, error)
	Close() error
}

// New constructs an empty store, optionally backed by a durable tier.
// If backend is non-nil, New loads its existing contents into memory.
func New(ctx context.Context, backend Backend) (*Store, error) {
	s := &Store{
		docs:    make(map[string]*Document),
		backend: backend,
	}
	if backend != nil {
		docs, err := backend.LoadAll(ctx)
		if err != nil {
			return nil, apperr.Internal("failed to load metadata store backend", err)
		}
		for _, d := range docs {
			s.docs[d.DocID] = d
		}
	}
	return s, nil
}

// Put inserts or replaces the document for doc_id, filling in
// SystemMetadata.ContentLength and IndexedAt.
func (s *Store) Put(ctx context.Context, doc *Document) error {
	if doc.DocID == "" {
		return apperr.InvalidInput("doc_id must not be empty", nil)
	}

	stored := doc.Clone()
	stored.SystemMetadata = SystemMetadata{
		ContentLength: len(stored.Text),
		IndexedAt:     now().Unix(),
	}

	s.mu.Lock()
	s.docs[stored.DocID] = stored
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Put(ctx, stored); err != nil {
			return apperr.Internal("failed to persist document to backend", err)
		}
	}
	return nil
}

// Get returns the document for doc_id, or (nil, false) if absent.
func (s *Store) Get(docID string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Has is a cheap membership test that does not pay for a full document
// copy.
func (s *Store) Has(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

// Delete removes doc_id. Deleting an absent doc_id is not an error.
func (s *Store) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	delete(s.docs, docID)
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Delete(ctx, docID); err != nil {
			return apperr.Internal("failed to delete document from backend", err)
		}
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close releases the backend, if any.
func (s *Store) Close() error {
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}
