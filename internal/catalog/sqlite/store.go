// Package sqlite provides a SQLite-based catalog.Store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"warcreplay/internal/catalog"
	"warcreplay/internal/logging"
	"warcreplay/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-based catalog.Store implementation. Each record is one
// row; the config is stored as a JSON document.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ catalog.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations. Rows whose
// config cannot be decoded are skipped by List and logged to logger.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(path, sub)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return &Store{
		db:     db,
		path:   path,
		logger: logging.Default(logger).With("component", "catalog"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for name, or nil.
func (s *Store) Get(ctx context.Context, name string) (*catalog.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT name, type, config FROM colls WHERE name = ?", name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection %q: %w", name, err)
	}
	return &rec, nil
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, rec catalog.Record) error {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("encode config for %q: %w", rec.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO colls (name, type, config) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET type = excluded.type, config = excluded.config`,
		rec.Name, rec.Type, string(cfg))
	if err != nil {
		return fmt.Errorf("put collection %q: %w", rec.Name, err)
	}
	return nil
}

// Add inserts a record, returning catalog.ErrConflict if the name exists.
func (s *Store) Add(ctx context.Context, rec catalog.Record) error {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("encode config for %q: %w", rec.Name, err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO colls (name, type, config) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING",
		rec.Name, rec.Type, string(cfg))
	if err != nil {
		return fmt.Errorf("add collection %q: %w", rec.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add collection %q: %w", rec.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrConflict, rec.Name)
	}
	return nil
}

// Delete removes the record for name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM colls WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	return nil
}

// List returns all records ordered by name.
func (s *Store) List(ctx context.Context) ([]catalog.Record, error) {
	return s.query(ctx, "SELECT name, type, config FROM colls ORDER BY name")
}

// ListByType returns the records of one type ordered by name.
func (s *Store) ListByType(ctx context.Context, typ string) ([]catalog.Record, error) {
	return s.query(ctx, "SELECT name, type, config FROM colls WHERE type = ? ORDER BY name", typ)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]catalog.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Record
	for rows.Next() {
		var name, typ, cfg string
		if err := rows.Scan(&name, &typ, &cfg); err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
		rec, err := decodeRecord(name, typ, cfg)
		if err != nil {
			s.logger.Warn("skipping undecodable catalog row", "name", name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (catalog.Record, error) {
	var name, typ, cfg string
	if err := sc.Scan(&name, &typ, &cfg); err != nil {
		return catalog.Record{}, err
	}
	return decodeRecord(name, typ, cfg)
}

func decodeRecord(name, typ, cfg string) (catalog.Record, error) {
	rec := catalog.Record{Name: name, Type: typ}
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
		return rec, fmt.Errorf("decode config for %q: %w", name, err)
	}
	return rec, nil
}
