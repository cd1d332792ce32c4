package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"warcreplay/internal/archive"
	"warcreplay/internal/catalog"
	"warcreplay/internal/logging"
	"warcreplay/internal/sqlitedb"
)

// Pool shares one open database per dbname among reference-counted
// handles. The database is closed when the last handle is closed, and it
// can only be dropped while no handle is open.
type Pool struct {
	pathFor func(dbname string) string
	logger  *slog.Logger

	mu  sync.Mutex
	dbs map[string]*pooled
}

type pooled struct {
	db   *DB
	refs int
}

// NewPool creates a Pool. pathFor maps a dbname to its database file.
// If logger is nil, logging is disabled.
func NewPool(pathFor func(dbname string) string, logger *slog.Logger) *Pool {
	return &Pool{
		pathFor: pathFor,
		logger:  logging.Default(logger).With("component", "archive-pool"),
		dbs:     make(map[string]*pooled),
	}
}

// Handle is one reference to a pooled database. It implements
// archive.Store; Close releases the reference.
type Handle struct {
	*DB
	pool   *Pool
	dbname string
	once   sync.Once
}

var _ archive.Store = (*Handle)(nil)

// Open returns a new handle to the database for dbname, opening it if no
// other handle holds it.
func (p *Pool) Open(dbname string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.dbs[dbname]
	if !ok {
		db, err := OpenDB(p.pathFor(dbname))
		if err != nil {
			return nil, err
		}
		e = &pooled{db: db}
		p.dbs[dbname] = e
		p.logger.Debug("archive opened", "dbname", dbname)
	}
	e.refs++
	return &Handle{DB: e.db, pool: p, dbname: dbname}, nil
}

// Close releases the handle. Closing a handle twice is a no-op.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() { err = h.pool.release(h.dbname) })
	return err
}

func (p *Pool) release(dbname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.dbs[dbname]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(p.dbs, dbname)
	p.logger.Debug("archive closed", "dbname", dbname)
	return e.db.Close()
}

// Refs returns the number of open handles for dbname.
func (p *Pool) Refs(dbname string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.dbs[dbname]; ok {
		return e.refs
	}
	return 0
}

// Drop removes the database for dbname. It returns archive.ErrBlocked,
// and leaves the database untouched, while any handle is open.
func (p *Pool) Drop(dbname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.dbs[dbname]; ok && e.refs > 0 {
		return fmt.Errorf("%w: %s has %d open handles", archive.ErrBlocked, dbname, e.refs)
	}
	if err := sqlitedb.Remove(p.pathFor(dbname)); err != nil {
		return err
	}
	p.logger.Info("archive dropped", "dbname", dbname)
	return nil
}

// NewFactory returns the archive.Factory for local archive collections.
func NewFactory(p *Pool) archive.Factory {
	return func(ctx context.Context, rec catalog.Record, progress archive.ProgressFunc) (archive.Store, error) {
		if rec.Config.DBName == "" {
			return nil, fmt.Errorf("collection %q has no dbname", rec.Name)
		}
		h, err := p.Open(rec.Config.DBName)
		if err != nil {
			return nil, err
		}
		progress.Report(archive.Progress{Percent: 100})
		return h, nil
	}
}
