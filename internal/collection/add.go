package collection

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"warcreplay/internal/archive"
	"warcreplay/internal/catalog"
)

// File describes the source a collection is added from.
type File struct {
	SourceURL string
	Name      string
	Headers   map[string]string
}

// AddRequest describes a collection to add.
type AddRequest struct {
	Name           string
	File           File
	Type           string
	Root           bool
	OnDemand       bool
	TopTemplateURL string
	Metadata       catalog.Metadata
	ExtraConfig    map[string]any
}

// inFlight tracks the adds running for one name.
type inFlight struct {
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
	n        int
	canceled bool
}

// track registers an add for name and returns its release function.
func (m *Manager) track(name string, cancel context.CancelFunc) func() {
	m.mu.Lock()
	e, ok := m.inflight[name]
	if !ok {
		e = &inFlight{}
		m.inflight[name] = e
	}
	e.cancels = append(e.cancels, cancel)
	e.n++
	e.wg.Add(1)
	canceled := e.canceled
	m.mu.Unlock()

	if canceled {
		cancel()
	}
	return func() {
		m.mu.Lock()
		e.n--
		if e.n == 0 && m.inflight[name] == e {
			delete(m.inflight, name)
		}
		m.mu.Unlock()
		e.wg.Done()
	}
}

// Pending is an add registered with the manager ahead of its work. Its
// context is canceled by Cancel of the same name.
type Pending struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

// Begin registers an add of name before any of its work starts, so a
// Cancel issued once Begin has returned is never lost. The work must run
// under the returned Pending's Context and call Done when it ends.
func (m *Manager) Begin(ctx context.Context, name string) *Pending {
	ctx, cancel := context.WithCancel(ctx)
	return &Pending{ctx: ctx, cancel: cancel, release: m.track(name, cancel)}
}

// Context returns the context the pending add runs under.
func (p *Pending) Context() context.Context {
	return p.ctx
}

// Done releases the registration. It is safe to call more than once.
func (p *Pending) Done() {
	p.once.Do(func() {
		p.release()
		p.cancel()
	})
}

// InFlight reports whether an add of name is running.
func (m *Manager) InFlight(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[name] != nil
}

// AddCollection creates a collection from req.File, instantiates its store,
// and records it in the catalog. The store is created before the record
// so a failed or cancelled add leaves no record behind; its backing
// database is dropped. When another add of the same name wins the race,
// the winner is returned.
//
// A request without a name or source URL is reported to progress and
// returned as ErrInvalidRequest.
//
// The add can be interrupted with Cancel or by cancelling ctx.
func (m *Manager) AddCollection(ctx context.Context, req AddRequest, progress archive.ProgressFunc) (*Collection, error) {
	if req.Name == "" || req.File.SourceURL == "" {
		progress.Report(archive.Progress{Err: ErrInvalidRequest})
		return nil, ErrInvalidRequest
	}

	sourceURL := strings.TrimPrefix(req.File.SourceURL, "proxy:")

	extra := maps.Clone(req.ExtraConfig)
	if extra == nil {
		extra = make(map[string]any)
	}
	if _, ok := extra["prefix"]; !ok {
		extra["prefix"] = sourceURL
	}

	typ := req.Type
	if typ == "" {
		if t, ok := extra["type"].(string); ok {
			typ = t
		}
	}
	if typ == "" {
		typ = catalog.TypeRemoteWARCProxy
	}

	sourceName := req.File.Name
	if sourceName == "" {
		sourceName = sourceURL
	}

	rec := catalog.Record{
		Name: req.Name,
		Type: typ,
		Config: catalog.Config{
			DBName:         "db:" + req.Name,
			SourceURL:      sourceURL,
			SourceName:     sourceName,
			TopTemplateURL: req.TopTemplateURL,
			OnDemand:       req.OnDemand,
			Root:           req.Root,
			Metadata:       req.Metadata.Clone(),
			Headers:        maps.Clone(req.File.Headers),
			ExtraConfig:    extra,
		},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := m.track(req.Name, cancel)
	defer release()

	m.logger.Info("collection add started", "name", req.Name, "type", typ, "source", sourceURL)

	store, err := m.factories.Open(ctx, rec, progress)
	if err != nil {
		m.discard(rec.Config.DBName)
		if ctx.Err() != nil {
			m.logger.Info("collection add canceled", "name", req.Name)
			return nil, ctx.Err()
		}
		m.logger.Warn("collection add failed", "name", req.Name, "error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = store.Close()
		m.discard(rec.Config.DBName)
		m.logger.Info("collection add canceled", "name", req.Name)
		return nil, err
	}

	rec.Config.CTime = m.now().UnixMilli()

	if err := m.registry.Add(ctx, rec); err != nil {
		_ = store.Close()
		if errors.Is(err, catalog.ErrConflict) {
			m.logger.Debug("collection already added", "name", req.Name)
			c, err := m.LoadColl(context.WithoutCancel(ctx), req.Name)
			if err == nil && c == nil {
				// The winning record was deleted before it could be read.
				m.discard(rec.Config.DBName)
				return nil, fmt.Errorf("%w: %s vanished", catalog.ErrConflict, req.Name)
			}
			return c, err
		}
		m.discard(rec.Config.DBName)
		return nil, fmt.Errorf("record collection %q: %w", req.Name, err)
	}

	c := m.install(&Collection{Record: rec, Store: store})
	if c.Store != store {
		_ = store.Close()
	}
	m.logger.Info("collection added", "name", req.Name, "type", typ)
	return c, nil
}

// discard drops the backing database of a failed add. A database still
// held by another add of the same name is left alone.
func (m *Manager) discard(dbname string) {
	if err := m.drop(dbname); err != nil && !errors.Is(err, archive.ErrBlocked) {
		m.logger.Warn("drop failed add", "dbname", dbname, "error", err)
	}
}

// Cancel interrupts the adds of name, waits for them to stop, and deletes
// whatever they left behind. It returns false when no add was running.
func (m *Manager) Cancel(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	e, ok := m.inflight[name]
	if ok {
		e.canceled = true
		for _, cancel := range e.cancels {
			cancel()
		}
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	_, err := m.DeleteColl(ctx, name)

	m.mu.Lock()
	if m.inflight[name] == e {
		delete(m.inflight, name)
	}
	m.mu.Unlock()

	m.logger.Info("collection add canceled", "name", name)
	return true, err
}
