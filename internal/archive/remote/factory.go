package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"warcreplay/internal/archive"
	archivesqlite "warcreplay/internal/archive/sqlite"
	"warcreplay/internal/catalog"
	"warcreplay/internal/logging"
)

// importedKey marks an archive database whose index import completed.
const importedKey = "imported"

// NewFactory returns the archive.Factory for remotewarcproxy collections.
// The collection's index lives in a pooled local database. When the
// source is an index file that has not been imported yet, it is fetched
// and imported before the store is returned. Other sources yield an
// empty index served on demand.
func NewFactory(pool *archivesqlite.Pool, client *http.Client, logger *slog.Logger) archive.Factory {
	logger = logging.Default(logger).With("component", "remote-import")
	return func(ctx context.Context, rec catalog.Record, progress archive.ProgressFunc) (archive.Store, error) {
		if rec.Config.DBName == "" {
			return nil, fmt.Errorf("collection %q has no dbname", rec.Name)
		}
		h, err := pool.Open(rec.Config.DBName)
		if err != nil {
			return nil, err
		}

		done, err := h.Meta(ctx, importedKey)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		if done != "" || !IsIndexSource(rec.Config.SourceURL) {
			progress.Report(archive.Progress{Percent: 100})
			return h, nil
		}

		logger.Info("importing index", "name", rec.Name, "source", rec.Config.SourceURL)
		n, err := Import(ctx, client, h, Source{URL: rec.Config.SourceURL, Headers: rec.Config.Headers}, progress)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		if err := h.SetMeta(ctx, importedKey, strconv.Itoa(n)); err != nil {
			_ = h.Close()
			return nil, err
		}
		logger.Info("index imported", "name", rec.Name, "resources", n)
		return h, nil
	}
}
