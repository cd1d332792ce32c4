package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"warcreplay/internal/archive"
)

type memWriter struct {
	mu  sync.Mutex
	got []archive.Resource
}

func (m *memWriter) AddResources(_ context.Context, rs []archive.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, rs...)
	return nil
}

func cdxjLines(n int) string {
	var b strings.Builder
	b.WriteString("!meta 0 {\"format\": \"cdxj-gin-1.0\"}\n")
	for i := range n {
		fmt.Fprintf(&b, "com,example)/%d 20240101000000 {\"url\": \"https://example.com/%d\", \"mime\": \"text/html\", \"status\": \"200\", \"length\": \"10\", \"offset\": \"%d\", \"filename\": \"a.warc.gz\"}\n", i, i, i*10)
	}
	return b.String()
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zstded(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsIndexSource(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/index.cdxj", true},
		{"https://example.com/index.cdx", true},
		{"https://example.com/index.cdxj.gz?sig=1", true},
		{"https://example.com/INDEX.CDXJ.ZST", true},
		{"/data/index.cdx.zstd", true},
		{"file:///data/index.cdxj", true},
		{"https://example.com/archive.wacz", false},
		{"https://example.com/", false},
	}
	for _, tt := range tests {
		if got := IsIndexSource(tt.url); got != tt.want {
			t.Errorf("IsIndexSource(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestParseLine(t *testing.T) {
	t.Run("CDXJ", func(t *testing.T) {
		r, ok := parseLine(`com,example)/ 20240101000000 {"url": "https://example.com/", "mime": "text/html", "status": 200, "digest": "sha1:X"}`)
		if !ok {
			t.Fatal("not parsed")
		}
		if r.URL != "https://example.com/" || r.TS != "20240101000000" || r.Status != 200 || r.Digest != "sha1:X" {
			t.Errorf("got %+v", r)
		}
	})
	t.Run("CDX11", func(t *testing.T) {
		r, ok := parseLine("com,example)/ 20240101000000 https://example.com/ text/html 302 DIGEST - - 512 1024 a.warc.gz")
		if !ok {
			t.Fatal("not parsed")
		}
		if r.Status != 302 || r.Length != 512 || r.Offset != 1024 || r.Filename != "a.warc.gz" {
			t.Errorf("got %+v", r)
		}
	})
	t.Run("Skipped", func(t *testing.T) {
		for _, line := range []string{
			"",
			" CDX N b a m s k r M S V g",
			"!meta 0 {}",
			"com,example)/ 20240101000000",
			`com,example)/ 20240101000000 {"mime": "text/html"}`,
			`com,example)/ 20240101000000 {broken`,
		} {
			if _, ok := parseLine(line); ok {
				t.Errorf("expected %q to be skipped", line)
			}
		}
	})
	t.Run("PlaceholderStatus", func(t *testing.T) {
		r, ok := parseLine(`com,example)/ 20240101000000 {"url": "https://example.com/", "status": "-"}`)
		if !ok || r.Status != 0 {
			t.Errorf("got %+v, %v", r, ok)
		}
	})
}

func TestImportHTTP(t *testing.T) {
	plain := cdxjLines(1200)
	gz := gzipped(t, plain)
	zs := zstded(t, plain)

	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/index.cdxj":
			_, _ = w.Write([]byte(plain))
		case "/index.cdxj.gz":
			_, _ = w.Write(gz)
		case "/index.cdxj.zst":
			_, _ = w.Write(zs)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	for _, name := range []string{"index.cdxj", "index.cdxj.gz", "index.cdxj.zst"} {
		t.Run(name, func(t *testing.T) {
			w := &memWriter{}
			var last archive.Progress
			var reports int
			n, err := Import(context.Background(), srv.Client(), w,
				Source{URL: srv.URL + "/" + name, Headers: map[string]string{"Authorization": "Bearer tok"}},
				func(p archive.Progress) { last = p; reports++ })
			if err != nil {
				t.Fatalf("Import: %v", err)
			}
			if n != 1200 || len(w.got) != 1200 {
				t.Errorf("imported %d (writer saw %d), want 1200", n, len(w.got))
			}
			if w.got[0].URL != "https://example.com/0" || w.got[0].Offset != 0 || w.got[1].Offset != 10 {
				t.Errorf("first resources: %+v %+v", w.got[0], w.got[1])
			}
			if last.Percent != 100 {
				t.Errorf("final progress: %+v", last)
			}
			// One report per batch of 500 plus the final one.
			if reports != 4 {
				t.Errorf("got %d progress reports, want 4", reports)
			}
			if got, _ := gotAuth.Load().(string); got != "Bearer tok" {
				t.Errorf("headers not forwarded: %q", got)
			}
		})
	}
}

func TestImportUnknownLength(t *testing.T) {
	plain := cdxjLines(600)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		half := len(plain) / 2
		_, _ = w.Write([]byte(plain[:half]))
		// Flushing before the body is complete forces a chunked response.
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(plain[half:]))
	}))
	defer srv.Close()

	var reports []archive.Progress
	n, err := Import(context.Background(), srv.Client(), &memWriter{}, Source{URL: srv.URL + "/index.cdxj"},
		func(p archive.Progress) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 600 {
		t.Errorf("imported %d, want 600", n)
	}
	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	for _, p := range reports {
		if p.TotalSize != 0 {
			t.Errorf("TotalSize %d for a response of unknown length", p.TotalSize)
		}
		if p.Percent < 0 || p.Percent > 100 {
			t.Errorf("Percent %d out of range", p.Percent)
		}
	}
	if last := reports[len(reports)-1]; last.Percent != 100 || last.CurrentSize != int64(len(plain)) {
		t.Errorf("final progress: %+v", last)
	}
}

func TestImportAuthNeeded(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := Import(context.Background(), srv.Client(), &memWriter{}, Source{URL: srv.URL + "/x.cdxj"}, nil)
		var auth *archive.AuthNeededError
		if !errors.As(err, &auth) {
			t.Errorf("status %d: expected AuthNeededError, got %v", status, err)
		} else if auth.FileHandle != srv.URL+"/x.cdxj" {
			t.Errorf("status %d: FileHandle %q", status, auth.FileHandle)
		}
		srv.Close()
	}
}

func TestImportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Import(context.Background(), srv.Client(), &memWriter{}, Source{URL: srv.URL + "/x.cdxj"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var auth *archive.AuthNeededError
	if errors.As(err, &auth) {
		t.Error("404 must not be reported as auth needed")
	}
}

func TestImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.cdxj")
	if err := os.WriteFile(path, []byte(cdxjLines(3)), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, src := range []string{path, "file://" + path} {
		w := &memWriter{}
		n, err := Import(context.Background(), nil, w, Source{URL: src}, nil)
		if err != nil {
			t.Fatalf("%s: Import: %v", src, err)
		}
		if n != 3 {
			t.Errorf("%s: imported %d, want 3", src, n)
		}
	}
}

func TestImportCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.cdxj")
	if err := os.WriteFile(path, []byte(cdxjLines(10)), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &memWriter{}
	n, err := Import(ctx, nil, w, Source{URL: path}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 || len(w.got) != 0 {
		t.Errorf("wrote %d resources after cancellation", len(w.got))
	}
}

func TestImportUnsupportedScheme(t *testing.T) {
	_, err := Import(context.Background(), nil, &memWriter{}, Source{URL: "ftp://example.com/x.cdxj"}, nil)
	if err == nil {
		t.Error("expected error for ftp source")
	}
}
