// Package archive defines the read capability a loaded collection exposes
// and the factories that instantiate it from a catalog record.
//
// Each loaded collection owns exactly one Store. Stores are created by the
// Factory registered for the record's type and released with Close.
package archive

import (
	"context"
	"errors"
	"fmt"

	"warcreplay/internal/catalog"
)

var (
	// ErrBlocked is returned when a backing database cannot be removed
	// because another handle still holds it open.
	ErrBlocked = errors.New("backing store is in use")

	// ErrUnknownType is returned when no factory is registered for a
	// collection type.
	ErrUnknownType = errors.New("unknown collection type")
)

// AuthNeededError reports that the collection source requires
// credentials. FileHandle identifies the source so the caller can
// re-request access to it.
type AuthNeededError struct {
	FileHandle string
	Err        error
}

func (e *AuthNeededError) Error() string {
	if e.Err == nil {
		return "permission needed for " + e.FileHandle
	}
	return fmt.Sprintf("permission needed for %s: %v", e.FileHandle, e.Err)
}

func (e *AuthNeededError) Unwrap() error { return e.Err }

// Resource is one captured URL.
type Resource struct {
	URL      string `json:"url"`
	TS       string `json:"ts"`
	Mime     string `json:"mime"`
	Status   int    `json:"status"`
	Digest   string `json:"digest,omitempty"`
	Filename string `json:"filename,omitempty"`
	Offset   int64  `json:"offset,omitempty"`
	Length   int64  `json:"length,omitempty"`
}

// Page is an entry point into a collection.
type Page struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	TS    string `json:"ts"`
	Title string `json:"title,omitempty"`
	Size  int64  `json:"size,omitempty"`
}

// PageList is a named, ordered list of curated pages.
type PageList struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Desc  string `json:"desc,omitempty"`
	Show  bool   `json:"show"`
}

// CuratedPage is a page within a PageList. IDs are assigned in insertion
// order starting at 1.
type CuratedPage struct {
	ID     int64  `json:"id"`
	ListID string `json:"list"`
	URL    string `json:"url"`
	TS     string `json:"ts"`
	Title  string `json:"title,omitempty"`
	Desc   string `json:"desc,omitempty"`
}

// URLQuery selects resources by URL. With Prefix, URL matches every
// resource whose URL starts with it. Mime is an optional comma-separated
// list. FromURL and FromTS form an exclusive cursor.
type URLQuery struct {
	URL     string
	Mime    string
	Count   int
	Prefix  bool
	FromURL string
	FromTS  string
}

// MimeQuery selects resources by mime type. FromMime, FromURL, and FromTS
// form an exclusive cursor.
type MimeQuery struct {
	Mime     string
	Count    int
	FromMime string
	FromURL  string
	FromTS   string
}

// Store is the read capability of a loaded collection.
type Store interface {
	// Lookup returns the newest capture of exactly url, or nil.
	Lookup(ctx context.Context, url string) (*Resource, error)

	ResourcesByURLAndMime(ctx context.Context, q URLQuery) ([]Resource, error)
	ResourcesByMime(ctx context.Context, q MimeQuery) ([]Resource, error)

	// Pages returns up to limit pages. A limit <= 0 returns all pages.
	Pages(ctx context.Context, limit int) ([]Page, error)
	PageLists(ctx context.Context) ([]PageList, error)

	// CuratedPages returns up to count curated pages with ID >= fromID.
	CuratedPages(ctx context.Context, fromID int64, count int) ([]CuratedPage, error)
	CountCuratedPages(ctx context.Context) (int, error)

	Close() error
}

// Progress describes how far a store instantiation has come.
type Progress struct {
	Percent     int
	CurrentSize int64
	TotalSize   int64

	// Err is set on the final report of an add rejected before any work.
	Err error
}

// ProgressFunc receives progress reports. It may be nil.
type ProgressFunc func(Progress)

// Report calls f if it is not nil.
func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

// Factory instantiates the Store for a record. Long-running factories must
// observe ctx cancellation.
type Factory func(ctx context.Context, rec catalog.Record, progress ProgressFunc) (Store, error)

// Factories maps collection types to factories.
type Factories map[string]Factory

// Open instantiates the store for rec using the factory for its type.
func (fs Factories) Open(ctx context.Context, rec catalog.Record, progress ProgressFunc) (Store, error) {
	f, ok := fs[rec.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, rec.Type)
	}
	return f(ctx, rec, progress)
}

// Passthrough is the Store of collection types that have no local index
// (live and remoteproxy). Every query returns an empty result.
type Passthrough struct{}

var _ Store = Passthrough{}

// PassthroughFactory creates Passthrough stores.
func PassthroughFactory(context.Context, catalog.Record, ProgressFunc) (Store, error) {
	return Passthrough{}, nil
}

func (Passthrough) Lookup(context.Context, string) (*Resource, error) { return nil, nil }

func (Passthrough) ResourcesByURLAndMime(context.Context, URLQuery) ([]Resource, error) {
	return []Resource{}, nil
}

func (Passthrough) ResourcesByMime(context.Context, MimeQuery) ([]Resource, error) {
	return []Resource{}, nil
}

func (Passthrough) Pages(context.Context, int) ([]Page, error) { return []Page{}, nil }

func (Passthrough) PageLists(context.Context) ([]PageList, error) { return []PageList{}, nil }

func (Passthrough) CuratedPages(context.Context, int64, int) ([]CuratedPage, error) {
	return []CuratedPage{}, nil
}

func (Passthrough) CountCuratedPages(context.Context) (int, error) { return 0, nil }

func (Passthrough) Close() error { return nil }
