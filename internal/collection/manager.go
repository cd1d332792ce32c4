// Package collection manages the lifecycle of replay collections: loading
// them from the catalog, adding new ones from a source, cancelling
// in-flight adds, updating their metadata, and deleting them together
// with their backing stores.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"warcreplay/internal/archive"
	"warcreplay/internal/callgroup"
	"warcreplay/internal/catalog"
	"warcreplay/internal/logging"
)

var (
	// ErrInvalidRequest is returned by AddCollection for a request without
	// a name or source URL.
	ErrInvalidRequest = errors.New("invalid load request")
)

// loadConcurrency bounds the number of stores LoadAll opens at once.
const loadConcurrency = 8

// Collection is a loaded collection: its catalog record and the store
// bound to it. A Collection is immutable; updates replace it.
type Collection struct {
	catalog.Record
	Store archive.Store
}

// Dropper removes the backing database of a collection. It returns an
// error wrapping archive.ErrBlocked when the database is still in use.
type Dropper interface {
	Drop(dbname string) error
}

// Config configures a Manager.
type Config struct {
	Registry  *catalog.Registry
	Factories archive.Factories

	// Dropper removes backing databases on delete and failed adds.
	// If nil, backing databases are left in place.
	Dropper Dropper

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID generates names for InitNewColl. Defaults to a random UUID.
	NewID func() string
}

// Manager owns the set of loaded collections.
//
// Concurrency model:
//   - mu guards the loaded map, the root name, and the in-flight table.
//     It is never held across catalog or store I/O.
//   - Loads of one name are deduplicated: concurrent callers share a
//     single store instantiation.
//   - Read-modify-write updates of a record (auth, metadata, size) are
//     serialized by writeMu so additive size updates are never lost.
//   - Concurrent adds of one name converge: the catalog accepts one
//     insert and every other add re-reads the winner.
type Manager struct {
	registry  *catalog.Registry
	factories archive.Factories
	dropper   Dropper
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	loaded   map[string]*Collection
	root     string
	inflight map[string]*inFlight

	writeMu sync.Mutex
	loads   callgroup.Group[string, *Collection]
}

// New creates a Manager.
func New(cfg Config) *Manager {
	m := &Manager{
		registry:  cfg.Registry,
		factories: cfg.Factories,
		dropper:   cfg.Dropper,
		logger:    logging.Default(cfg.Logger).With("component", "collection"),
		now:       cfg.Now,
		newID:     cfg.NewID,
		loaded:    make(map[string]*Collection),
		inflight:  make(map[string]*inFlight),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Registry returns the catalog the manager works against.
func (m *Manager) Registry() *catalog.Registry {
	return m.registry
}

// Root returns the name of the root collection, or "" if none has been
// loaded. The first root-flagged record to finish loading wins.
func (m *Manager) Root() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// LoadAll upserts the seed collections, then loads every catalog record.
// The seed is a comma-separated list of name:dbname pairs registered as
// archive collections. Failures to load one collection are logged and do
// not affect the others. Loaded collections no longer in the catalog are
// unloaded.
func (m *Manager) LoadAll(ctx context.Context, seed string) error {
	for _, entry := range parseSeed(seed, m.logger) {
		rec := catalog.Record{
			Name: entry.name,
			Type: catalog.TypeArchive,
			Config: catalog.Config{
				DBName:     entry.dbname,
				SourceName: entry.dbname,
				Decode:     false,
			},
		}
		if err := m.registry.Put(ctx, rec); err != nil {
			return fmt.Errorf("seed collection %q: %w", entry.name, err)
		}
	}

	recs, err := m.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	present := make(map[string]bool, len(recs))
	for _, rec := range recs {
		present[rec.Name] = true
	}
	m.mu.Lock()
	var stale []string
	for name := range m.loaded {
		if !present[name] {
			stale = append(stale, name)
		}
	}
	m.mu.Unlock()
	for _, name := range stale {
		m.unload(name)
	}

	var g errgroup.Group
	g.SetLimit(loadConcurrency)
	for _, rec := range recs {
		g.Go(func() error {
			if _, err := m.LoadColl(ctx, rec.Name); err != nil {
				m.logger.Warn("collection load failed", "name", rec.Name, "type", rec.Type, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("collections loaded", "count", len(m.Loaded()))
	return nil
}

type seedEntry struct {
	name, dbname string
}

func parseSeed(seed string, logger *slog.Logger) []seedEntry {
	var out []seedEntry
	for part := range strings.SplitSeq(seed, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, dbname, ok := strings.Cut(part, ":")
		if !ok || name == "" || dbname == "" {
			logger.Warn("ignoring malformed seed entry", "entry", part)
			continue
		}
		out = append(out, seedEntry{name: name, dbname: dbname})
	}
	return out
}

// LoadColl returns the loaded collection for name, loading it from the
// catalog if needed. It returns nil, nil when no record exists.
// Concurrent loads of one name share a single store instantiation.
func (m *Manager) LoadColl(ctx context.Context, name string) (*Collection, error) {
	if c := m.get(name); c != nil {
		return c, nil
	}
	ch := m.loads.DoChan(name, func() (*Collection, error) {
		return m.load(context.WithoutCancel(ctx), name)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetColl returns the collection for name, loading it on demand.
func (m *Manager) GetColl(ctx context.Context, name string) (*Collection, error) {
	return m.LoadColl(ctx, name)
}

// Reload discards the loaded store for name and loads it again.
func (m *Manager) Reload(ctx context.Context, name string) (*Collection, error) {
	m.unload(name)
	return m.LoadColl(ctx, name)
}

func (m *Manager) load(ctx context.Context, name string) (*Collection, error) {
	if c := m.get(name); c != nil {
		return c, nil
	}
	rec, err := m.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	store, err := m.factories.Open(ctx, *rec, nil)
	if err != nil {
		return nil, fmt.Errorf("open store for %q: %w", name, err)
	}
	c := m.install(&Collection{Record: *rec, Store: store})
	if c.Store != store {
		_ = store.Close()
	}
	m.logger.Debug("collection loaded", "name", name, "type", rec.Type)
	return c, nil
}

// install registers c as loaded unless another instance of the name won
// the race, in which case that instance is returned.
func (m *Manager) install(c *Collection) *Collection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.loaded[c.Name]; ok {
		return existing
	}
	m.loaded[c.Name] = c
	if c.Config.Root && m.root == "" {
		m.root = c.Name
	}
	return c
}

// replace swaps the record of a loaded collection, keeping its store.
func (m *Manager) replace(rec catalog.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.loaded[rec.Name]; ok {
		m.loaded[rec.Name] = &Collection{Record: rec.Clone(), Store: c.Store}
	}
}

func (m *Manager) get(name string) *Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded[name]
}

// unload forgets the loaded collection and closes its store.
func (m *Manager) unload(name string) {
	m.mu.Lock()
	c, ok := m.loaded[name]
	delete(m.loaded, name)
	if m.root == name {
		m.root = ""
	}
	m.mu.Unlock()

	if ok {
		if err := c.Store.Close(); err != nil {
			m.logger.Warn("close store", "name", name, "error", err)
		}
	}
}

// Loaded returns the names of the loaded collections.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		out = append(out, name)
	}
	return out
}

// List returns all catalog records ordered by name.
func (m *Manager) List(ctx context.Context) ([]catalog.Record, error) {
	return m.registry.List(ctx)
}

// ListByType returns the catalog records of one type ordered by name.
func (m *Manager) ListByType(ctx context.Context, typ string) ([]catalog.Record, error) {
	return m.registry.ListByType(ctx, typ)
}

// Has reports whether a record named name exists in the catalog.
func (m *Manager) Has(ctx context.Context, name string) (bool, error) {
	return m.registry.Has(ctx, name)
}

// DeleteColl removes a collection. It returns false when no record exists,
// or when the backing database is still in use elsewhere; in the latter
// case the collection is reloaded and its record kept.
func (m *Manager) DeleteColl(ctx context.Context, name string) (bool, error) {
	rec, err := m.registry.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	m.unload(name)

	if err := m.drop(rec.Config.DBName); err != nil {
		if errors.Is(err, archive.ErrBlocked) {
			m.logger.Warn("collection delete blocked", "name", name, "dbname", rec.Config.DBName)
			if _, lerr := m.LoadColl(ctx, name); lerr != nil {
				m.logger.Warn("reload after blocked delete", "name", name, "error", lerr)
			}
			return false, nil
		}
		return false, err
	}

	if err := m.registry.Delete(ctx, name); err != nil {
		return false, err
	}
	m.logger.Info("collection deleted", "name", name)
	return true, nil
}

func (m *Manager) drop(dbname string) error {
	if m.dropper == nil || dbname == "" {
		return nil
	}
	return m.dropper.Drop(dbname)
}

// Close closes every loaded store.
func (m *Manager) Close() error {
	m.mu.Lock()
	loaded := m.loaded
	m.loaded = make(map[string]*Collection)
	m.root = ""
	m.mu.Unlock()

	var errs []error
	for _, c := range loaded {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}
