// Package sqlite provides the local, SQLite-backed archive.Store.
//
// Each collection has its own database file holding its resource index,
// pages, page lists, and curated pages. Pool hands out reference-counted
// handles so a database is never removed while something still reads it.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"warcreplay/internal/archive"
	"warcreplay/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// prefixUpperBound is appended to a URL prefix to form the exclusive upper
// bound of a range scan over every URL starting with the prefix.
const prefixUpperBound = "\U0010FFFF"

// DB is a per-collection archive database.
type DB struct {
	db *sql.DB
}

var _ archive.Store = (*DB)(nil)

// OpenDB opens (creating if needed) the archive database at path.
func OpenDB(path string) (*DB, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(path, sub)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

const resourceCols = "url, ts, mime, status, digest, filename, rec_offset, rec_length"

// Lookup returns the newest capture of exactly url, or nil.
func (d *DB) Lookup(ctx context.Context, url string) (*archive.Resource, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+resourceCols+" FROM resources WHERE url = ? ORDER BY ts DESC LIMIT 1", url)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", url, err)
	}
	return &r, nil
}

// ResourcesByURLAndMime returns resources matching q ordered by URL then
// timestamp.
func (d *DB) ResourcesByURLAndMime(ctx context.Context, q archive.URLQuery) ([]archive.Resource, error) {
	var where []string
	var args []any

	if q.Prefix {
		where = append(where, "url >= ? AND url < ?")
		args = append(args, q.URL, q.URL+prefixUpperBound)
	} else {
		where = append(where, "url = ?")
		args = append(args, q.URL)
	}
	if mimes := splitMimes(q.Mime); len(mimes) > 0 {
		where = append(where, "mime IN ("+placeholders(len(mimes))+")")
		args = append(args, mimes...)
	}
	if q.FromURL != "" {
		where = append(where, "(url, ts) > (?, ?)")
		args = append(args, q.FromURL, q.FromTS)
	}

	query := "SELECT " + resourceCols + " FROM resources WHERE " +
		strings.Join(where, " AND ") + " ORDER BY url, ts" + limitClause(q.Count, &args)
	return d.queryResources(ctx, query, args...)
}

// ResourcesByMime returns resources of the given mime types ordered by
// mime, URL, then timestamp. An empty Mime selects every resource.
func (d *DB) ResourcesByMime(ctx context.Context, q archive.MimeQuery) ([]archive.Resource, error) {
	where := []string{"1 = 1"}
	var args []any

	if mimes := splitMimes(q.Mime); len(mimes) > 0 {
		where = append(where, "mime IN ("+placeholders(len(mimes))+")")
		args = append(args, mimes...)
	}
	if q.FromMime != "" || q.FromURL != "" {
		where = append(where, "(mime, url, ts) > (?, ?, ?)")
		args = append(args, q.FromMime, q.FromURL, q.FromTS)
	}

	query := "SELECT " + resourceCols + " FROM resources WHERE " +
		strings.Join(where, " AND ") + " ORDER BY mime, url, ts" + limitClause(q.Count, &args)
	return d.queryResources(ctx, query, args...)
}

// Pages returns up to limit pages ordered by id.
func (d *DB) Pages(ctx context.Context, limit int) ([]archive.Page, error) {
	var args []any
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, url, ts, title, size FROM pages ORDER BY id"+limitClause(limit, &args), args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []archive.Page{}
	for rows.Next() {
		var p archive.Page
		if err := rows.Scan(&p.ID, &p.URL, &p.TS, &p.Title, &p.Size); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PageLists returns all page lists in insertion order.
func (d *DB) PageLists(ctx context.Context) ([]archive.PageList, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, title, description, show FROM page_lists ORDER BY pos")
	if err != nil {
		return nil, fmt.Errorf("query page lists: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []archive.PageList{}
	for rows.Next() {
		var l archive.PageList
		if err := rows.Scan(&l.ID, &l.Title, &l.Desc, &l.Show); err != nil {
			return nil, fmt.Errorf("scan page list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CuratedPages returns up to count curated pages with id >= fromID.
func (d *DB) CuratedPages(ctx context.Context, fromID int64, count int) ([]archive.CuratedPage, error) {
	args := []any{fromID}
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, list_id, url, ts, title, description FROM curated_pages WHERE id >= ? ORDER BY id"+limitClause(count, &args),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query curated pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []archive.CuratedPage{}
	for rows.Next() {
		var c archive.CuratedPage
		if err := rows.Scan(&c.ID, &c.ListID, &c.URL, &c.TS, &c.Title, &c.Desc); err != nil {
			return nil, fmt.Errorf("scan curated page: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCuratedPages returns the number of curated pages.
func (d *DB) CountCuratedPages(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT count(*) FROM curated_pages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count curated pages: %w", err)
	}
	return n, nil
}

// AddResources inserts or replaces resources in one transaction.
func (d *DB) AddResources(ctx context.Context, rs []archive.Resource) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO resources ("+resourceCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, r := range rs {
			if _, err := stmt.ExecContext(ctx, r.URL, r.TS, r.Mime, r.Status, r.Digest, r.Filename, r.Offset, r.Length); err != nil {
				return fmt.Errorf("insert resource %s: %w", r.URL, err)
			}
		}
		return nil
	})
}

// AddPages inserts or replaces pages in one transaction.
func (d *DB) AddPages(ctx context.Context, ps []archive.Page) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range ps {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO pages (id, url, ts, title, size) VALUES (?, ?, ?, ?, ?)",
				p.ID, p.URL, p.TS, p.Title, p.Size); err != nil {
				return fmt.Errorf("insert page %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// AddPageList appends a page list and its curated pages. The curated
// pages are assigned ids in order; the assigned pages are returned.
func (d *DB) AddPageList(ctx context.Context, l archive.PageList, pages []archive.CuratedPage) ([]archive.CuratedPage, error) {
	var out []archive.CuratedPage
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO page_lists (id, pos, title, description, show) VALUES (?, (SELECT coalesce(max(pos), 0) + 1 FROM page_lists), ?, ?, ?)",
			l.ID, l.Title, l.Desc, l.Show); err != nil {
			return fmt.Errorf("insert page list %s: %w", l.ID, err)
		}
		var err error
		out, err = insertCurated(ctx, tx, l.ID, pages)
		return err
	})
	return out, err
}

// AddCuratedPages appends curated pages to an existing list.
func (d *DB) AddCuratedPages(ctx context.Context, listID string, pages []archive.CuratedPage) ([]archive.CuratedPage, error) {
	var out []archive.CuratedPage
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = insertCurated(ctx, tx, listID, pages)
		return err
	})
	return out, err
}

func insertCurated(ctx context.Context, tx *sql.Tx, listID string, pages []archive.CuratedPage) ([]archive.CuratedPage, error) {
	out := make([]archive.CuratedPage, 0, len(pages))
	for _, p := range pages {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO curated_pages (list_id, url, ts, title, description) VALUES (?, ?, ?, ?, ?)",
			listID, p.URL, p.TS, p.Title, p.Desc)
		if err != nil {
			return nil, fmt.Errorf("insert curated page %s: %w", p.URL, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		p.ID = id
		p.ListID = listID
		out = append(out, p)
	}
	return out, nil
}

// SetMeta stores a key/value pair.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO meta (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Meta returns the value stored for key, or "" if unset.
func (d *DB) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, nil
}

func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (d *DB) queryResources(ctx context.Context, query string, args ...any) ([]archive.Resource, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []archive.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(sc scanner) (archive.Resource, error) {
	var r archive.Resource
	err := sc.Scan(&r.URL, &r.TS, &r.Mime, &r.Status, &r.Digest, &r.Filename, &r.Offset, &r.Length)
	return r, err
}

// splitMimes splits a comma-separated mime list, dropping empty entries.
func splitMimes(s string) []any {
	var out []any
	for m := range strings.SplitSeq(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// limitClause appends a LIMIT for n > 0.
func limitClause(n int, args *[]any) string {
	if n <= 0 {
		return ""
	}
	*args = append(*args, n)
	return " LIMIT ?"
}
