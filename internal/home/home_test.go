package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/warcreplay-test")
	if d.Root() != "/tmp/warcreplay-test" {
		t.Errorf("expected root /tmp/warcreplay-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Skipf("no user config dir: %v", err)
	}
	if filepath.Base(d.Root()) != "warcreplay" {
		t.Errorf("expected root to end with 'warcreplay', got %s", d.Root())
	}
}

func TestCatalogPath(t *testing.T) {
	d := New("/data")
	if got := d.CatalogPath("sqlite"); got != "/data/catalog.db" {
		t.Errorf("sqlite: got %s", got)
	}
	if got := d.CatalogPath("json"); got != "/data/catalog.json" {
		t.Errorf("json: got %s", got)
	}
}

func TestArchivePath(t *testing.T) {
	d := New("/data")
	if got := d.ArchivePath("db:coll"); got != "/data/archives/db:coll.db" {
		t.Errorf("got %s", got)
	}
	// Slashes must not escape the archives directory.
	if got := d.ArchivePath("db:a/b"); got != "/data/archives/db:a%2Fb.db" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "warcreplay")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(d.ArchivesDir())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	// Calling again should be idempotent.
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
