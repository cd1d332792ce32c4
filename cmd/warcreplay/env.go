package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"warcreplay/internal/archive"
	"warcreplay/internal/archive/remote"
	archivesqlite "warcreplay/internal/archive/sqlite"
	"warcreplay/internal/catalog"
	catalogfile "warcreplay/internal/catalog/file"
	catalogmem "warcreplay/internal/catalog/memory"
	catalogsqlite "warcreplay/internal/catalog/sqlite"
	"warcreplay/internal/collection"
	"warcreplay/internal/fuzzy"
	"warcreplay/internal/home"
)

// env is the wiring shared by every command: catalog, archive pool,
// lifecycle manager, and fuzzy matcher.
type env struct {
	home      home.Dir
	registry  *catalog.Registry
	fileStore *catalogfile.Store // set for the json catalog only
	pool      *archivesqlite.Pool
	manager   *collection.Manager
	matcher   *fuzzy.Matcher
	tempDir   string
}

func openEnv(cmd *cobra.Command, logger *slog.Logger) (*env, error) {
	homeFlag, _ := cmd.Flags().GetString("home")
	catalogType, _ := cmd.Flags().GetString("catalog-type")

	matcher, err := loadMatcher(cmd)
	if err != nil {
		return nil, err
	}

	e := &env{matcher: matcher}

	if catalogType == "memory" {
		// Archive databases still need a directory; it lives as long as
		// the process.
		dir, err := os.MkdirTemp("", "warcreplay-")
		if err != nil {
			return nil, err
		}
		e.tempDir = dir
		e.home = home.New(dir)
	} else {
		hd, err := resolveHome(homeFlag)
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		e.home = hd
	}
	if err := e.home.EnsureExists(); err != nil {
		e.cleanup()
		return nil, err
	}
	logger.Debug("home directory", "path", e.home.Root(), "catalog", catalogType)

	switch catalogType {
	case "memory":
		e.registry = catalog.Wrap(catalogmem.NewStore())
	case "json":
		e.fileStore = catalogfile.NewStore(e.home.CatalogPath("json"), logger)
		e.registry = catalog.Wrap(e.fileStore)
	case "sqlite":
		path := e.home.CatalogPath("sqlite")
		e.registry = catalog.NewRegistry(func() (catalog.Store, error) {
			s, err := catalogsqlite.NewStore(path, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	default:
		e.cleanup()
		return nil, fmt.Errorf("unknown catalog store type: %q", catalogType)
	}

	e.pool = archivesqlite.NewPool(e.home.ArchivePath, logger)
	e.manager = collection.New(collection.Config{
		Registry:  e.registry,
		Factories: buildFactories(e.pool, logger),
		Dropper:   e.pool,
		Logger:    logger,
	})
	return e, nil
}

// buildFactories maps every collection type to its store factory.
func buildFactories(pool *archivesqlite.Pool, logger *slog.Logger) archive.Factories {
	return archive.Factories{
		catalog.TypeArchive:         archivesqlite.NewFactory(pool),
		catalog.TypeRemoteWARCProxy: remote.NewFactory(pool, &http.Client{}, logger),
		catalog.TypeLive:            archive.PassthroughFactory,
		catalog.TypeRemoteProxy:     archive.PassthroughFactory,
	}
}

func loadMatcher(cmd *cobra.Command) (*fuzzy.Matcher, error) {
	path, _ := cmd.Flags().GetString("rules")
	if path == "" {
		return fuzzy.Default(), nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer func() { _ = f.Close() }()
	rules, err := fuzzy.LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	return fuzzy.New(rules), nil
}

// resolveHome returns a Dir from the flag value, or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// Close releases loaded stores and the catalog.
func (e *env) Close() error {
	err := e.manager.Close()
	if cerr := e.registry.Close(); err == nil {
		err = cerr
	}
	e.cleanup()
	return err
}

func (e *env) cleanup() {
	if e.tempDir != "" {
		_ = os.RemoveAll(e.tempDir)
	}
}
