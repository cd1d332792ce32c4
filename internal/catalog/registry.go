package catalog

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Registry is the collection catalog used by the rest of the program. It
// opens its Store lazily on first use. Initialization runs once; every
// operation waits for it, so calls issued while the store is still opening
// queue behind it and observe the same result.
type Registry struct {
	init    func() (Store, error)
	started atomic.Bool
}

// NewRegistry creates a Registry that calls open on first use.
func NewRegistry(open func() (Store, error)) *Registry {
	return &Registry{init: sync.OnceValues(open)}
}

// Wrap creates a Registry over an already open Store.
func Wrap(s Store) *Registry {
	return NewRegistry(func() (Store, error) { return s, nil })
}

func (r *Registry) store() (Store, error) {
	r.started.Store(true)
	return r.init()
}

// Get returns the record for name, or nil if there is none.
func (r *Registry) Get(ctx context.Context, name string) (*Record, error) {
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, name)
}

// Has reports whether a record named name exists.
func (r *Registry) Has(ctx context.Context, name string) (bool, error) {
	rec, err := r.Get(ctx, name)
	return rec != nil, err
}

// Put inserts or replaces a record.
func (r *Registry) Put(ctx context.Context, rec Record) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.Put(ctx, rec)
}

// Add inserts a record, failing with ErrConflict if the name exists.
func (r *Registry) Add(ctx context.Context, rec Record) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.Add(ctx, rec)
}

// Delete removes the record for name.
func (r *Registry) Delete(ctx context.Context, name string) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.Delete(ctx, name)
}

// List returns all records ordered by name.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return s.List(ctx)
}

// ListByType returns the records of one type ordered by name.
func (r *Registry) ListByType(ctx context.Context, typ string) ([]Record, error) {
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return s.ListByType(ctx, typ)
}

// Close closes the underlying store if it was opened and implements
// io.Closer.
func (r *Registry) Close() error {
	if !r.started.Load() {
		return nil
	}
	s, err := r.init()
	if err != nil {
		return nil
	}
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
