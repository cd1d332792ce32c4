package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"warcreplay/internal/archive"
)

// PageWriter receives imported pages and curated page lists.
type PageWriter interface {
	AddPages(ctx context.Context, ps []archive.Page) error
	AddPageList(ctx context.Context, l archive.PageList, pages []archive.CuratedPage) ([]archive.CuratedPage, error)
	AddCuratedPages(ctx context.Context, listID string, pages []archive.CuratedPage) ([]archive.CuratedPage, error)
}

// PageImport describes a pages file to import. The file holds one JSON
// object per line; a header line carrying "format" is skipped.
//
// With List set, the pages form a new curated page list. With ListID set,
// they are appended to that existing list. Otherwise they are added as
// the collection's pages.
type PageImport struct {
	Source
	List   *archive.PageList
	ListID string
}

type pageLine struct {
	Format string  `json:"format"`
	ID     string  `json:"id"`
	URL    string  `json:"url"`
	TS     string  `json:"ts"`
	Title  string  `json:"title"`
	Desc   string  `json:"desc"`
	Size   flexInt `json:"size"`
}

// ImportPages streams the pages file of imp into w and returns the number
// of pages written. Malformed lines and lines without a url are skipped.
func ImportPages(ctx context.Context, client *http.Client, w PageWriter, imp PageImport) (int, error) {
	if imp.List != nil && imp.ListID != "" {
		return 0, fmt.Errorf("import pages: both a new list and a list id given")
	}
	body, _, err := open(ctx, client, imp.Source)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	r, err := decompress(body, sourcePath(imp.URL))
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	var list *archive.PageList
	if imp.List != nil {
		l := *imp.List
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		list = &l
	}
	listID := imp.ListID
	created := false

	var n int
	var lines []pageLine
	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		switch {
		case list != nil && !created:
			if _, err := w.AddPageList(ctx, *list, curated(lines)); err != nil {
				return err
			}
			created = true
			listID = list.ID
		case listID != "":
			if _, err := w.AddCuratedPages(ctx, listID, curated(lines)); err != nil {
				return err
			}
		default:
			ps := make([]archive.Page, 0, len(lines))
			for _, l := range lines {
				id := l.ID
				if id == "" {
					id = uuid.NewString()
				}
				ps = append(ps, archive.Page{ID: id, URL: l.URL, TS: l.TS, Title: l.Title, Size: int64(l.Size)})
			}
			if err := w.AddPages(ctx, ps); err != nil {
				return err
			}
		}
		n += len(lines)
		lines = lines[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineLength)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var l pageLine
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			continue
		}
		if l.Format != "" {
			if list != nil && list.Title == "" {
				list.Title = l.Title
			}
			continue
		}
		if l.URL == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) == batchSize {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read pages %s: %w", imp.URL, err)
	}
	if err := flush(); err != nil {
		return n, err
	}
	if list != nil && !created {
		if _, err := w.AddPageList(ctx, *list, nil); err != nil {
			return n, err
		}
	}
	return n, nil
}

func curated(lines []pageLine) []archive.CuratedPage {
	out := make([]archive.CuratedPage, 0, len(lines))
	for _, l := range lines {
		out = append(out, archive.CuratedPage{URL: l.URL, TS: l.TS, Title: l.Title, Desc: l.Desc})
	}
	return out
}
