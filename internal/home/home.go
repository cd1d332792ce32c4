// Package home manages the warcreplay home directory layout.
//
// The home directory owns all persistent state: the collection catalog
// and the per-collection archive databases.
//
// Layout:
//
//	<root>/
//	  catalog.db   or  catalog.json    (collection catalog, type-dependent)
//	  archives/
//	    <dbname>.db                    (per-collection archive database)
package home

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// Dir represents a warcreplay home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/warcreplay
//   - macOS:   ~/Library/Application Support/warcreplay
//   - Windows: %APPDATA%/warcreplay
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "warcreplay")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// CatalogPath returns the catalog file for the given catalog type
// ("sqlite" or "json").
func (d Dir) CatalogPath(catalogType string) string {
	if catalogType == "json" {
		return filepath.Join(d.root, "catalog.json")
	}
	return filepath.Join(d.root, "catalog.db")
}

// ArchivesDir returns the directory holding per-collection archive databases.
func (d Dir) ArchivesDir() string {
	return filepath.Join(d.root, "archives")
}

// ArchivePath returns the database file for a collection's dbname.
// The dbname is path-escaped so names like "db:my/coll" stay inside
// ArchivesDir.
func (d Dir) ArchivePath(dbname string) string {
	return filepath.Join(d.ArchivesDir(), url.PathEscape(dbname)+".db")
}

// EnsureExists creates the home directory and the archives directory
// if they don't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ArchivesDir(), 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
