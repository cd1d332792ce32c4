// Package remote backs remotewarcproxy collections: collections whose
// captures live on a remote server and whose index is a CDX or CDXJ file
// fetched once and stored in a local archive database.
package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"warcreplay/internal/archive"
)

const (
	batchSize     = 500
	maxLineLength = 1 << 20
)

// Source locates an index file. URL is http(s)://, file://, or a plain
// filesystem path. Headers are sent with HTTP requests.
type Source struct {
	URL     string
	Headers map[string]string
}

// Writer receives imported resources.
type Writer interface {
	AddResources(ctx context.Context, rs []archive.Resource) error
}

// IsIndexSource reports whether rawURL names a CDX or CDXJ file, optionally
// gzip or zstd compressed.
func IsIndexSource(rawURL string) bool {
	p := sourcePath(rawURL)
	p = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(p, ".gz"), ".zst"), ".zstd")
	return strings.HasSuffix(p, ".cdx") || strings.HasSuffix(p, ".cdxj")
}

func sourcePath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Path)
	}
	return strings.ToLower(rawURL)
}

// Import streams the index at src into w and returns the number of
// resources written. Cancellation is observed between lines; resources
// already written stay written.
func Import(ctx context.Context, client *http.Client, w Writer, src Source, progress archive.ProgressFunc) (int, error) {
	body, total, err := open(ctx, client, src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	counter := &countingReader{r: body}
	r, err := decompress(counter, sourcePath(src.URL))
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	report := func() {
		p := archive.Progress{CurrentSize: counter.n, TotalSize: total}
		if total > 0 {
			p.Percent = int(min(counter.n*100/total, 99))
		}
		progress.Report(p)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineLength)

	var n int
	batch := make([]archive.Resource, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.AddResources(ctx, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		report()
		return nil
	}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		res, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		batch = append(batch, res)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read index %s: %w", src.URL, err)
	}
	if err := flush(); err != nil {
		return n, err
	}
	progress.Report(archive.Progress{Percent: 100, CurrentSize: counter.n, TotalSize: total})
	return n, nil
}

func open(ctx context.Context, client *http.Client, src Source) (io.ReadCloser, int64, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse source url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, 0, err
		}
		for k, v := range src.Headers {
			req.Header.Set(k, v)
		}
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch %s: %w", src.URL, err)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			_ = resp.Body.Close()
			return nil, 0, &archive.AuthNeededError{
				FileHandle: src.URL,
				Err:        fmt.Errorf("fetch %s: %s", src.URL, resp.Status),
			}
		case resp.StatusCode >= 300:
			_ = resp.Body.Close()
			return nil, 0, fmt.Errorf("fetch %s: %s", src.URL, resp.Status)
		}
		// -1 when the length is unknown, as for chunked responses.
		return resp.Body, max(resp.ContentLength, 0), nil

	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = src.URL
		}
		f, err := os.Open(path)
		if err != nil {
			if os.IsPermission(err) {
				return nil, 0, &archive.AuthNeededError{FileHandle: src.URL, Err: err}
			}
			return nil, 0, fmt.Errorf("open index: %w", err)
		}
		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		return f, size, nil

	default:
		return nil, 0, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func decompress(r io.Reader, path string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		return gz, nil
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		zr, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(256<<20))
		if err != nil {
			return nil, fmt.Errorf("open zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// cdxjFields is the JSON block of a CDXJ line. Numeric fields are written
// as strings by most indexers.
type cdxjFields struct {
	URL      string  `json:"url"`
	Mime     string  `json:"mime"`
	Status   flexInt `json:"status"`
	Digest   string  `json:"digest"`
	Filename string  `json:"filename"`
	Offset   flexInt `json:"offset"`
	Length   flexInt `json:"length"`
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*f = flexInt(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			// "-" and similar placeholders
			*f = 0
			return nil
		}
		*f = flexInt(n)
	}
	return nil
}

// parseLine parses one CDXJ line ("urlkey timestamp {json}") or one
// 11-field CDX line. Headers, blank, and malformed lines yield false.
func parseLine(line string) (archive.Resource, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "CDX ") {
		return archive.Resource{}, false
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return archive.Resource{}, false
	}
	ts, rest := parts[1], strings.TrimSpace(parts[2])

	if strings.HasPrefix(rest, "{") {
		var f cdxjFields
		if err := json.Unmarshal([]byte(rest), &f); err != nil || f.URL == "" {
			return archive.Resource{}, false
		}
		return archive.Resource{
			URL:      f.URL,
			TS:       ts,
			Mime:     f.Mime,
			Status:   int(f.Status),
			Digest:   f.Digest,
			Filename: f.Filename,
			Offset:   int64(f.Offset),
			Length:   int64(f.Length),
		}, true
	}

	// CDX N b a m s k r M S V g
	fields := strings.Fields(line)
	if len(fields) < 11 {
		return archive.Resource{}, false
	}
	status, _ := strconv.Atoi(fields[4])
	length, _ := strconv.ParseInt(fields[8], 10, 64)
	offset, _ := strconv.ParseInt(fields[9], 10, 64)
	return archive.Resource{
		URL:      fields[2],
		TS:       ts,
		Mime:     fields[3],
		Status:   status,
		Digest:   fields[5],
		Length:   length,
		Offset:   offset,
		Filename: fields[10],
	}, true
}
