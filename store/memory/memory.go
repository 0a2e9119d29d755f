package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/mycok/geoindex/index"
)

// Static and compile-time check to ensure InMemoryStore implements index.Store.
var _ index.Store = (*InMemoryStore)(nil)

// InMemoryStore is an index.Store implementation that keeps one in-memory
// bleve instance per location. Nothing survives the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]bleve.Index
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		indexes: make(map[string]bleve.Index),
	}
}

// Close releases every index held by the store.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for location, idx := range s.indexes {
		if cErr := idx.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("close %q: %w", location, cErr)
		}
		delete(s.indexes, location)
	}

	return err
}

// Exists reports whether a committed index lives at location.
func (s *InMemoryStore) Exists(location string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.indexes[location]

	return exists, nil
}

// OpenWriter starts a writer session against location. Documents are
// buffered by the session and applied as a single bleve batch on Close.
func (s *InMemoryStore) OpenWriter(location string, mode index.Mode) (index.Writer, error) {
	if location == "" {
		return nil, fmt.Errorf("open writer: %w: empty location", index.ErrStoreOpen)
	}

	if mode == index.ModeAppend {
		if exists, _ := s.Exists(location); !exists {
			return nil, fmt.Errorf("open writer: %w: no index at %q", index.ErrStoreOpen, location)
		}
	}

	return &writer{
		store:    s,
		location: location,
		mode:     mode,
	}, nil
}

// OpenSnapshot returns a read view of location. Bleve indexes are safe for
// concurrent use, so the view reads the live index; commits are applied as
// single batches and are therefore observed all at once.
func (s *InMemoryStore) OpenSnapshot(location string) (index.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.indexes[location]
	if !exists {
		return nil, fmt.Errorf("open snapshot: %w: %q", index.ErrNoSuchIndex, location)
	}

	return &snapshot{idx: idx}, nil
}

func (s *InMemoryStore) commit(location string, mode index.Mode, docs []*index.Document) error {
	// Acquire a general lock so that a create commit can swap the index of a
	// location without racing another commit.
	s.mu.Lock()
	defer s.mu.Unlock()

	target, exists := s.indexes[location]
	switch {
	case mode == index.ModeCreate:
		m, err := index.NewMapping()
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		if target, err = bleve.NewMemOnly(m); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	case !exists:
		return fmt.Errorf("commit: %w: no index at %q", index.ErrStoreOpen, location)
	}

	batch := target.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, index.BleveFields(doc)); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	if err := target.Batch(batch); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// Indexes replaced by a create commit are left to the garbage collector
	// since open snapshots may still be reading from them.
	s.indexes[location] = target

	return nil
}

type writer struct {
	store    *InMemoryStore
	location string
	mode     index.Mode
	docs     []*index.Document
	done     bool
}

func (w *writer) Index(doc *index.Document) error {
	if w.done {
		return fmt.Errorf("index: %w", index.ErrSessionClosed)
	}

	if doc == nil {
		return fmt.Errorf("index: nil document")
	}

	dCopy := new(index.Document)
	*dCopy = *doc
	w.docs = append(w.docs, dCopy)

	return nil
}

func (w *writer) Rollback() error {
	if w.done {
		return fmt.Errorf("rollback: %w", index.ErrSessionClosed)
	}

	w.docs = nil
	w.done = true

	return nil
}

func (w *writer) Close() error {
	if w.done {
		return nil
	}

	w.done = true
	docs := w.docs
	w.docs = nil

	return w.store.commit(w.location, w.mode, docs)
}

type snapshot struct {
	idx bleve.Index
}

func (s *snapshot) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	return s.idx.SearchInContext(ctx, req)
}

func (s *snapshot) DocCount() (uint64, error) {
	return s.idx.DocCount()
}

// Close is a no-op; the index is owned by the store.
func (s *snapshot) Close() error {
	return nil
}
