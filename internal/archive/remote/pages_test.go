package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"warcreplay/internal/archive"
	archivesqlite "warcreplay/internal/archive/sqlite"
)

type memPageWriter struct {
	pages   []archive.Page
	lists   []archive.PageList
	curated map[string][]archive.CuratedPage
	calls   []string
}

func newMemPageWriter() *memPageWriter {
	return &memPageWriter{curated: make(map[string][]archive.CuratedPage)}
}

func (m *memPageWriter) AddPages(_ context.Context, ps []archive.Page) error {
	m.calls = append(m.calls, "pages")
	m.pages = append(m.pages, ps...)
	return nil
}

func (m *memPageWriter) AddPageList(_ context.Context, l archive.PageList, ps []archive.CuratedPage) ([]archive.CuratedPage, error) {
	m.calls = append(m.calls, "list")
	m.lists = append(m.lists, l)
	m.curated[l.ID] = append(m.curated[l.ID], ps...)
	return ps, nil
}

func (m *memPageWriter) AddCuratedPages(_ context.Context, listID string, ps []archive.CuratedPage) ([]archive.CuratedPage, error) {
	m.calls = append(m.calls, "curated")
	m.curated[listID] = append(m.curated[listID], ps...)
	return ps, nil
}

func pageLines(n int) string {
	var b strings.Builder
	b.WriteString(`{"format": "json-pages-1.0", "id": "pages", "title": "All Pages"}` + "\n")
	for i := range n {
		fmt.Fprintf(&b, `{"id": "p%d", "url": "https://example.com/%d", "ts": "2024-01-01T00:00:00Z", "title": "Page %d", "size": "%d"}`+"\n", i, i, i, i*100)
	}
	return b.String()
}

func writePages(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pages.jsonl")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportPages(t *testing.T) {
	data := pageLines(3) + "not json\n" + `{"id": "nourl"}` + "\n\n"
	w := newMemPageWriter()

	n, err := ImportPages(context.Background(), nil, w, PageImport{Source: Source{URL: writePages(t, data)}})
	if err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if n != 3 || len(w.pages) != 3 {
		t.Fatalf("imported %d (writer saw %d), want 3", n, len(w.pages))
	}
	p := w.pages[1]
	if p.ID != "p1" || p.URL != "https://example.com/1" || p.Title != "Page 1" || p.Size != 100 {
		t.Errorf("page: %+v", p)
	}
	if len(w.lists) != 0 {
		t.Errorf("unexpected page list: %+v", w.lists)
	}
}

func TestImportPagesNewList(t *testing.T) {
	w := newMemPageWriter()
	n, err := ImportPages(context.Background(), nil, w, PageImport{
		Source: Source{URL: writePages(t, pageLines(batchSize+2))},
		List:   &archive.PageList{ID: "picks", Show: true},
	})
	if err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if n != batchSize+2 {
		t.Errorf("imported %d, want %d", n, batchSize+2)
	}
	// The first batch creates the list and later batches extend it.
	if strings.Join(w.calls, ",") != "list,curated" {
		t.Errorf("calls: %v", w.calls)
	}
	if len(w.lists) != 1 || w.lists[0].Title != "All Pages" || !w.lists[0].Show {
		t.Errorf("list: %+v", w.lists)
	}
	if got := len(w.curated["picks"]); got != batchSize+2 {
		t.Errorf("curated pages: %d", got)
	}
	if len(w.pages) != 0 {
		t.Error("curated import also wrote pages")
	}
}

func TestImportPagesEmptyListStillCreated(t *testing.T) {
	w := newMemPageWriter()
	_, err := ImportPages(context.Background(), nil, w, PageImport{
		Source: Source{URL: writePages(t, "")},
		List:   &archive.PageList{Title: "Empty"},
	})
	if err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if len(w.lists) != 1 || w.lists[0].ID == "" || w.lists[0].Title != "Empty" {
		t.Errorf("list: %+v", w.lists)
	}
}

func TestImportPagesAppendToList(t *testing.T) {
	w := newMemPageWriter()
	_, err := ImportPages(context.Background(), nil, w, PageImport{
		Source: Source{URL: writePages(t, pageLines(2))},
		ListID: "existing",
	})
	if err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if len(w.lists) != 0 || len(w.curated["existing"]) != 2 {
		t.Errorf("lists %+v, curated %+v", w.lists, w.curated)
	}
}

func TestImportPagesRejectsListAndListID(t *testing.T) {
	_, err := ImportPages(context.Background(), nil, newMemPageWriter(), PageImport{
		Source: Source{URL: writePages(t, pageLines(1))},
		List:   &archive.PageList{},
		ListID: "x",
	})
	if err == nil {
		t.Error("expected error")
	}
}

func TestImportPagesHTTPGzip(t *testing.T) {
	gz := gzipped(t, pageLines(4))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(gz)
	}))
	defer srv.Close()

	w := newMemPageWriter()
	n, err := ImportPages(context.Background(), srv.Client(), w, PageImport{Source: Source{URL: srv.URL + "/pages.jsonl.gz"}})
	if err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if n != 4 {
		t.Errorf("imported %d, want 4", n)
	}
}

func TestImportPagesIntoArchive(t *testing.T) {
	dir := t.TempDir()
	pool := archivesqlite.NewPool(func(dbname string) string { return filepath.Join(dir, dbname+".db") }, nil)
	h, err := pool.Open("db:web")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()
	ctx := context.Background()

	if _, err := ImportPages(ctx, nil, h, PageImport{Source: Source{URL: writePages(t, pageLines(3))}}); err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if _, err := ImportPages(ctx, nil, h, PageImport{
		Source: Source{URL: writePages(t, pageLines(2))},
		List:   &archive.PageList{ID: "l1", Title: "Picks"},
	}); err != nil {
		t.Fatalf("ImportPages list: %v", err)
	}

	pages, err := h.Pages(ctx, 100)
	if err != nil || len(pages) != 3 {
		t.Fatalf("Pages: %v, %v", pages, err)
	}
	lists, err := h.PageLists(ctx)
	if err != nil || len(lists) != 1 || lists[0].Title != "Picks" {
		t.Fatalf("PageLists: %+v, %v", lists, err)
	}
	cps, err := h.CuratedPages(ctx, 1, 10)
	if err != nil || len(cps) != 2 || cps[0].ListID != "l1" || cps[0].ID != 1 {
		t.Fatalf("CuratedPages: %+v, %v", cps, err)
	}
}
