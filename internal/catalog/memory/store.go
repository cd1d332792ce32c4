// Package memory provides an in-memory catalog.Store implementation.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"warcreplay/internal/catalog"
)

// Store is an in-memory catalog.Store implementation.
// Intended for testing. Records are not persisted across restarts.
type Store struct {
	mu   sync.RWMutex
	recs map[string]catalog.Record
}

var _ catalog.Store = (*Store)(nil)

// NewStore creates a new, empty in-memory store.
func NewStore() *Store {
	return &Store{recs: make(map[string]catalog.Record)}
}

// Get returns a copy of the record for name, or nil.
func (s *Store) Get(ctx context.Context, name string) (*catalog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[name]
	if !ok {
		return nil, nil
	}
	c := rec.Clone()
	return &c, nil
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs[rec.Name] = rec.Clone()
	return nil
}

// Add inserts a record unless the name is taken.
func (s *Store) Add(ctx context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs[rec.Name]; ok {
		return catalog.ErrConflict
	}
	s.recs[rec.Name] = rec.Clone()
	return nil
}

// Delete removes the record for name.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.recs, name)
	return nil
}

// List returns all records ordered by name.
func (s *Store) List(ctx context.Context) ([]catalog.Record, error) {
	return s.collect(func(catalog.Record) bool { return true }), nil
}

// ListByType returns the records of one type ordered by name.
func (s *Store) ListByType(ctx context.Context, typ string) ([]catalog.Record, error) {
	return s.collect(func(r catalog.Record) bool { return r.Type == typ }), nil
}

func (s *Store) collect(keep func(catalog.Record) bool) []catalog.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b catalog.Record) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
