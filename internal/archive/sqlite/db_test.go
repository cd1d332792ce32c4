package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"warcreplay/internal/archive"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedResources(t *testing.T, db *DB) {
	t.Helper()
	rs := []archive.Resource{
		{URL: "https://example.com/", TS: "20240101000000", Mime: "text/html", Status: 200},
		{URL: "https://example.com/", TS: "20240301000000", Mime: "text/html", Status: 200},
		{URL: "https://example.com/a.js", TS: "20240101000000", Mime: "application/javascript", Status: 200},
		{URL: "https://example.com/b.css", TS: "20240101000000", Mime: "text/css", Status: 200},
		{URL: "https://example.com/img/x.png", TS: "20240101000000", Mime: "image/png", Status: 200},
		{URL: "https://other.org/", TS: "20240101000000", Mime: "text/html", Status: 301},
	}
	if err := db.AddResources(context.Background(), rs); err != nil {
		t.Fatalf("AddResources: %v", err)
	}
}

func urls(rs []archive.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.URL + " " + r.TS
	}
	return out
}

func TestLookupNewest(t *testing.T) {
	db := newTestDB(t)
	seedResources(t, db)
	ctx := context.Background()

	r, err := db.Lookup(ctx, "https://example.com/")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r == nil || r.TS != "20240301000000" {
		t.Errorf("expected newest capture, got %+v", r)
	}

	r, err = db.Lookup(ctx, "https://example.com/missing")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil, got %+v", r)
	}
}

func TestResourcesByURLAndMime(t *testing.T) {
	db := newTestDB(t)
	seedResources(t, db)
	ctx := context.Background()

	t.Run("Exact", func(t *testing.T) {
		got, err := db.ResourcesByURLAndMime(ctx, archive.URLQuery{URL: "https://example.com/", Count: 100})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("got %v", urls(got))
		}
	})

	t.Run("Prefix", func(t *testing.T) {
		got, err := db.ResourcesByURLAndMime(ctx, archive.URLQuery{URL: "https://example.com/", Prefix: true, Count: 100})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 5 {
			t.Errorf("expected 5 resources under prefix, got %v", urls(got))
		}
	})

	t.Run("PrefixMime", func(t *testing.T) {
		got, err := db.ResourcesByURLAndMime(ctx, archive.URLQuery{
			URL: "https://example.com/", Prefix: true, Mime: "text/css, image/png", Count: 100,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].URL != "https://example.com/b.css" || got[1].URL != "https://example.com/img/x.png" {
			t.Errorf("got %v", urls(got))
		}
	})

	t.Run("CursorIsExclusive", func(t *testing.T) {
		got, err := db.ResourcesByURLAndMime(ctx, archive.URLQuery{
			URL: "https://example.com/", Prefix: true, Count: 2,
			FromURL: "https://example.com/", FromTS: "20240301000000",
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].URL != "https://example.com/a.js" || got[1].URL != "https://example.com/b.css" {
			t.Errorf("got %v", urls(got))
		}
	})
}

func TestResourcesByMime(t *testing.T) {
	db := newTestDB(t)
	seedResources(t, db)
	ctx := context.Background()

	got, err := db.ResourcesByMime(ctx, archive.MimeQuery{Mime: "text/html", Count: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %v", urls(got))
	}

	got, err = db.ResourcesByMime(ctx, archive.MimeQuery{
		Mime: "text/html", Count: 100,
		FromMime: "text/html", FromURL: "https://example.com/", FromTS: "20240301000000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != "https://other.org/" {
		t.Errorf("got %v", urls(got))
	}

	got, err = db.ResourcesByMime(ctx, archive.MimeQuery{Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected count to cap results, got %d", len(got))
	}
}

func TestPages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ps := []archive.Page{
		{ID: "p2", URL: "https://example.com/2", TS: "20240101000000", Title: "two"},
		{ID: "p1", URL: "https://example.com/1", TS: "20240101000000", Title: "one"},
		{ID: "p3", URL: "https://example.com/3", TS: "20240101000000"},
	}
	if err := db.AddPages(ctx, ps); err != nil {
		t.Fatalf("AddPages: %v", err)
	}

	got, err := db.Pages(ctx, 2)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("got %+v", got)
	}
	all, err := db.Pages(ctx, 0)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected all pages, got %d", len(all))
	}
}

func TestCuratedPages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var curated []archive.CuratedPage
	for i := range 15 {
		curated = append(curated, archive.CuratedPage{URL: "https://example.com/" + string(rune('a'+i)), TS: "20240101000000"})
	}
	added, err := db.AddPageList(ctx, archive.PageList{ID: "list1", Title: "Highlights", Show: true}, curated[:10])
	if err != nil {
		t.Fatalf("AddPageList: %v", err)
	}
	if added[0].ID != 1 || added[9].ID != 10 || added[0].ListID != "list1" {
		t.Errorf("unexpected ids: first %d last %d", added[0].ID, added[9].ID)
	}
	if _, err := db.AddPageList(ctx, archive.PageList{ID: "list2", Title: "More"}, nil); err != nil {
		t.Fatalf("AddPageList: %v", err)
	}
	if _, err := db.AddCuratedPages(ctx, "list2", curated[10:]); err != nil {
		t.Fatalf("AddCuratedPages: %v", err)
	}

	lists, err := db.PageLists(ctx)
	if err != nil {
		t.Fatalf("PageLists: %v", err)
	}
	if len(lists) != 2 || lists[0].ID != "list1" || !lists[0].Show || lists[1].Show {
		t.Errorf("lists: %+v", lists)
	}

	n, err := db.CountCuratedPages(ctx)
	if err != nil {
		t.Fatalf("CountCuratedPages: %v", err)
	}
	if n != 15 {
		t.Errorf("count: got %d", n)
	}

	page, err := db.CuratedPages(ctx, 1, 10)
	if err != nil {
		t.Fatalf("CuratedPages: %v", err)
	}
	if len(page) != 10 || page[0].ID != 1 {
		t.Errorf("first page: %d entries, first id %d", len(page), page[0].ID)
	}
	page, err = db.CuratedPages(ctx, 11, 10)
	if err != nil {
		t.Fatalf("CuratedPages: %v", err)
	}
	if len(page) != 5 || page[0].ID != 11 || page[0].ListID != "list2" {
		t.Errorf("second page: %+v", page)
	}

	if _, err := db.AddCuratedPages(ctx, "nope", curated[:1]); err == nil {
		t.Error("expected error adding to unknown list")
	}
}

func TestMeta(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v, err := db.Meta(ctx, "imported")
	if err != nil || v != "" {
		t.Fatalf("Meta unset: %q, %v", v, err)
	}
	if err := db.SetMeta(ctx, "imported", "1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := db.SetMeta(ctx, "imported", "2"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	v, err = db.Meta(ctx, "imported")
	if err != nil || v != "2" {
		t.Errorf("Meta: %q, %v", v, err)
	}
}
