// Package api answers the read and administrative JSON queries of the
// replay surface: collection listing, collection detail, resource
// pagination, curated pages, deletion, and auth header updates.
//
// Every response carries a JSON body. A body with an "error" field is
// answered with 404; anything else with 200. Failures never escape as Go
// errors.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"warcreplay/internal/archive"
	"warcreplay/internal/catalog"
	"warcreplay/internal/collection"
	"warcreplay/internal/logging"
)

// Route names.
const (
	RouteIndex      = "index"
	RouteColl       = "coll"
	RouteURLs       = "urls"
	RouteDeleteColl = "deleteColl"
	RouteUpdateAuth = "updateAuth"
	RouteCurated    = "curated"
	RoutePages      = "pages"
)

// Error bodies.
const (
	ErrCollectionNotFound = "collection_not_found"
	ErrNotFound           = "not_found"
	ErrInvalidBody        = "invalid_request"
)

const (
	defaultCount = 100
	pagesLimit   = 100
	maxBodySize  = 1 << 20
)

// Collections is the part of the lifecycle manager the API reads from.
type Collections interface {
	List(ctx context.Context) ([]catalog.Record, error)
	GetColl(ctx context.Context, name string) (*collection.Collection, error)
	DeleteColl(ctx context.Context, name string) (bool, error)
	UpdateAuth(ctx context.Context, name string, headers map[string]string) (bool, error)
}

// Response is a status and a JSON-encodable body.
type Response struct {
	Status int
	Body   any
}

type errorBody struct {
	Error string `json:"error"`
}

type collData struct {
	Title     string `json:"title"`
	Desc      string `json:"desc"`
	Size      int64  `json:"size"`
	Filename  string `json:"filename"`
	SourceURL string `json:"sourceUrl"`
	ID        string `json:"id"`
	CTime     int64  `json:"ctime"`
	OnDemand  bool   `json:"onDemand"`
}

type collDetail struct {
	collData
	Lists []archive.PageList `json:"lists"`
}

type indexBody struct {
	Colls []collData `json:"colls"`
}

type urlsBody struct {
	URLs []archive.Resource `json:"urls"`
}

type pagesBody struct {
	Pages []archive.Page `json:"pages"`
}

type curatedBody struct {
	Total        int                   `json:"total"`
	CuratedPages []archive.CuratedPage `json:"curatedPages"`
}

type authBody struct {
	Headers map[string]string `json:"headers"`
}

type successBody struct {
	Success bool `json:"success"`
}

// API dispatches routed requests to the collection manager and stores.
type API struct {
	colls  Collections
	router *Router
	logger *slog.Logger
}

// New creates an API over colls. If logger is nil, logging is disabled.
func New(colls Collections, logger *slog.Logger) *API {
	r := NewRouter()
	r.Handle(RouteIndex, http.MethodGet, "index")
	r.Handle(RouteColl, http.MethodGet, ":coll")
	r.Handle(RouteURLs, http.MethodGet, ":coll/urls")
	r.Handle(RouteDeleteColl, http.MethodDelete, ":coll")
	r.Handle(RouteUpdateAuth, http.MethodPost, ":coll/updateAuth")
	r.Handle(RouteCurated, http.MethodGet, ":coll/curatedPages")
	r.Handle(RoutePages, http.MethodGet, ":coll/pages")

	return &API{
		colls:  colls,
		router: r,
		logger: logging.Default(logger).With("component", "api"),
	}
}

// Router returns the route table.
func (a *API) Router() *Router {
	return a.router
}

// Handle answers one request. rawURL is the path below the API mount
// point with an optional query string. body is read only by routes that
// take one and may be nil.
func (a *API) Handle(ctx context.Context, rawURL, method string, body io.Reader) Response {
	out := a.dispatch(ctx, a.router.Match(rawURL, method), body)
	if _, ok := out.(errorBody); ok {
		return Response{Status: http.StatusNotFound, Body: out}
	}
	return Response{Status: http.StatusOK, Body: out}
}

func (a *API) dispatch(ctx context.Context, m Match, body io.Reader) any {
	switch m.Route {
	case RouteIndex:
		return a.listAll(ctx)

	case RouteDeleteColl:
		ok, err := a.colls.DeleteColl(ctx, m.Params["coll"])
		if err != nil {
			a.logger.Warn("delete failed", "coll", m.Params["coll"], "error", err)
		}
		if !ok {
			return errorBody{ErrCollectionNotFound}
		}
		return a.listAll(ctx)

	case RouteUpdateAuth:
		var req authBody
		if body == nil {
			return errorBody{ErrInvalidBody}
		}
		if err := json.NewDecoder(io.LimitReader(body, maxBodySize)).Decode(&req); err != nil {
			return errorBody{ErrInvalidBody}
		}
		ok, err := a.colls.UpdateAuth(ctx, m.Params["coll"], req.Headers)
		if err != nil {
			a.logger.Warn("update auth failed", "coll", m.Params["coll"], "error", err)
		}
		return successBody{Success: ok}

	case RouteColl, RouteURLs, RoutePages, RouteCurated:
		c, err := a.colls.GetColl(ctx, m.Params["coll"])
		if err != nil {
			a.logger.Warn("load failed", "coll", m.Params["coll"], "error", err)
		}
		if c == nil {
			return errorBody{ErrCollectionNotFound}
		}
		out, err := a.read(ctx, c, m)
		if err != nil {
			a.logger.Warn("query failed", "route", m.Route, "coll", c.Name, "error", err)
			return errorBody{ErrNotFound}
		}
		return out
	}
	return errorBody{ErrNotFound}
}

func (a *API) read(ctx context.Context, c *collection.Collection, m Match) (any, error) {
	switch m.Route {
	case RouteColl:
		lists, err := c.Store.PageLists(ctx)
		if err != nil {
			return nil, err
		}
		if lists == nil {
			lists = []archive.PageList{}
		}
		return collDetail{collData: collDataOf(c.Record), Lists: lists}, nil

	case RouteURLs:
		q := m.Query
		count := intParam(q.Get("count"), defaultCount)
		var (
			urls []archive.Resource
			err  error
		)
		if u := q.Get("url"); u != "" {
			urls, err = c.Store.ResourcesByURLAndMime(ctx, archive.URLQuery{
				URL:     u,
				Mime:    q.Get("mime"),
				Count:   count,
				Prefix:  q.Get("prefix") == "1",
				FromURL: q.Get("fromUrl"),
				FromTS:  q.Get("fromTs"),
			})
		} else {
			urls, err = c.Store.ResourcesByMime(ctx, archive.MimeQuery{
				Mime:     q.Get("mime"),
				Count:    count,
				FromMime: q.Get("fromMime"),
				FromURL:  q.Get("fromUrl"),
				FromTS:   q.Get("fromTs"),
			})
		}
		if err != nil {
			return nil, err
		}
		if urls == nil {
			urls = []archive.Resource{}
		}
		return urlsBody{URLs: urls}, nil

	case RoutePages:
		pages, err := c.Store.Pages(ctx, pagesLimit)
		if err != nil {
			return nil, err
		}
		if pages == nil {
			pages = []archive.Page{}
		}
		return pagesBody{Pages: pages}, nil

	case RouteCurated:
		// Curated page ids start at 1; offset is 0-based.
		from := int64(intParam(m.Query.Get("offset"), 0)) + 1
		count := intParam(m.Query.Get("count"), defaultCount)
		total, err := c.Store.CountCuratedPages(ctx)
		if err != nil {
			return nil, err
		}
		pages, err := c.Store.CuratedPages(ctx, from, count)
		if err != nil {
			return nil, err
		}
		if pages == nil {
			pages = []archive.CuratedPage{}
		}
		return curatedBody{Total: total, CuratedPages: pages}, nil
	}
	return errorBody{ErrNotFound}, nil
}

// listAll lists every collection except live and proxy ones.
func (a *API) listAll(ctx context.Context) any {
	recs, err := a.colls.List(ctx)
	if err != nil {
		a.logger.Warn("list failed", "error", err)
		return errorBody{ErrNotFound}
	}
	colls := make([]collData, 0, len(recs))
	for _, rec := range recs {
		if rec.Type == catalog.TypeLive || rec.Type == catalog.TypeRemoteProxy {
			continue
		}
		colls = append(colls, collDataOf(rec))
	}
	return indexBody{Colls: colls}
}

func collDataOf(rec catalog.Record) collData {
	md := rec.Config.Metadata
	return collData{
		Title:     md.Title,
		Desc:      md.Desc,
		Size:      md.Size,
		Filename:  rec.Config.SourceName,
		SourceURL: rec.Config.SourceURL,
		ID:        rec.Name,
		CTime:     rec.Config.CTime,
		OnDemand:  rec.Config.OnDemand,
	}
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ServeHTTP answers requests whose path is relative to the API mount
// point. Mount it with http.StripPrefix.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		rawURL += "?" + r.URL.RawQuery
	}
	resp := a.Handle(r.Context(), rawURL, r.Method, http.MaxBytesReader(w, r.Body, maxBodySize))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		a.logger.Debug("write response", "error", err)
	}
}

// Handler returns the API wrapped in response compression.
func (a *API) Handler() http.Handler {
	return compressMiddleware(a)
}
