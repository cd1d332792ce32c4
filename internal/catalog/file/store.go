// Package file provides a file-based catalog.Store implementation.
//
// The catalog is persisted as a versioned JSON envelope:
//
//	{"version": 1, "colls": [ ... ]}
//
// Every mutation loads the full file, mutates in memory, and atomically
// rewrites the file. A process-wide mutex serializes mutations; edits made
// by other processes are picked up on the next read and can be observed
// with Watch.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"warcreplay/internal/catalog"
	"warcreplay/internal/logging"
)

const currentVersion = 1

// envelope is the versioned on-disk format. Entries are decoded one by one
// so a single malformed entry does not hide the rest of the catalog.
type envelope struct {
	Version int               `json:"version"`
	Colls   []json.RawMessage `json:"colls"`
}

// contents is the decoded catalog file. Entries that fail to decode are
// kept verbatim in bad and written back unchanged on the next flush.
type contents struct {
	recs []catalog.Record
	bad  []badEntry
}

type badEntry struct {
	name string
	raw  json.RawMessage
	err  error
}

func (c *contents) has(name string) bool {
	return slices.ContainsFunc(c.recs, func(r catalog.Record) bool { return r.Name == name }) ||
		slices.ContainsFunc(c.bad, func(b badEntry) bool { return b.name == name })
}

// remove drops every entry for name and reports whether any existed.
func (c *contents) remove(name string) bool {
	n := len(c.recs) + len(c.bad)
	c.recs = slices.DeleteFunc(c.recs, func(r catalog.Record) bool { return r.Name == name })
	c.bad = slices.DeleteFunc(c.bad, func(b badEntry) bool { return b.name == name })
	return len(c.recs)+len(c.bad) != n
}

// Store is a file-based catalog.Store implementation.
// Writes are atomic via temp file + rename with round-trip validation.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

var _ catalog.Store = (*Store)(nil)

// NewStore creates a file-based store backed by path. The file is created
// on first write. Entries that cannot be decoded are skipped by List and
// logged to logger.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logging.Default(logger).With("component", "catalog"),
	}
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return s.path
}

// load reads and parses the catalog file. A missing file is an empty catalog.
func (s *Store) load() (contents, error) {
	var c contents
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("read catalog file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return c, fmt.Errorf("parse catalog file: %w", err)
	}
	if env.Version == 0 {
		return c, fmt.Errorf("unversioned catalog file %s", s.path)
	}
	if env.Version > currentVersion {
		return c, fmt.Errorf("catalog file version %d is newer than supported version %d", env.Version, currentVersion)
	}
	for _, raw := range env.Colls {
		var rec catalog.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			var named struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(raw, &named)
			c.bad = append(c.bad, badEntry{name: named.Name, raw: raw, err: err})
			continue
		}
		c.recs = append(c.recs, rec)
	}
	return c, nil
}

// flush atomically writes the catalog to disk with round-trip validation.
func (s *Store) flush(c contents) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}

	type entry struct {
		name string
		raw  json.RawMessage
	}
	entries := make([]entry, 0, len(c.recs)+len(c.bad))
	for _, rec := range c.recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal collection %q: %w", rec.Name, err)
		}
		entries = append(entries, entry{name: rec.Name, raw: raw})
	}
	for _, b := range c.bad {
		entries = append(entries, entry{name: b.name, raw: b.raw})
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return strings.Compare(a.name, b.name)
	})
	env := envelope{Version: currentVersion, Colls: make([]json.RawMessage, 0, len(entries))}
	for _, e := range entries {
		env.Colls = append(env.Colls, e.raw)
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	check, err := os.ReadFile(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("read-back temp file: %w", err)
	}
	var verify envelope
	if err := json.Unmarshal(check, &verify); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("round-trip validation failed: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename catalog file: %w", err)
	}
	return nil
}

// Get returns the record for name, or nil.
func (s *Store) Get(ctx context.Context, name string) (*catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, rec := range c.recs {
		if rec.Name == name {
			return &rec, nil
		}
	}
	for _, b := range c.bad {
		if b.name == name {
			return nil, fmt.Errorf("decode collection %q: %w", name, b.err)
		}
	}
	return nil, nil
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load()
	if err != nil {
		return err
	}
	c.remove(rec.Name)
	c.recs = append(c.recs, rec)
	return s.flush(c)
}

// Add inserts a record, returning catalog.ErrConflict if the name exists.
func (s *Store) Add(ctx context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load()
	if err != nil {
		return err
	}
	if c.has(rec.Name) {
		return fmt.Errorf("%w: %s", catalog.ErrConflict, rec.Name)
	}
	c.recs = append(c.recs, rec)
	return s.flush(c)
}

// Delete removes the record for name.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load()
	if err != nil {
		return err
	}
	if !c.remove(name) {
		return nil
	}
	return s.flush(c)
}

// List returns all records ordered by name.
func (s *Store) List(ctx context.Context) ([]catalog.Record, error) {
	return s.list(func(catalog.Record) bool { return true })
}

// ListByType returns the records of one type ordered by name.
func (s *Store) ListByType(ctx context.Context, typ string) ([]catalog.Record, error) {
	return s.list(func(r catalog.Record) bool { return r.Type == typ })
}

func (s *Store) list(keep func(catalog.Record) bool) ([]catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, b := range c.bad {
		s.logger.Warn("skipping undecodable catalog entry", "name", b.name, "error", b.err)
	}
	recs := slices.DeleteFunc(c.recs, func(r catalog.Record) bool { return !keep(r) })
	slices.SortFunc(recs, func(a, b catalog.Record) int {
		return strings.Compare(a.Name, b.Name)
	})
	return recs, nil
}

// Watch calls onChange whenever the catalog file is written, created,
// replaced, or removed, until ctx is canceled. The parent directory is
// watched because atomic replacement swaps the file's inode.
//
// Writes made through this Store also trigger onChange.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go s.watchLoop(ctx, w, onChange)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, onChange func()) {
	defer func() { _ = w.Close() }()
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				onChange()
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}
