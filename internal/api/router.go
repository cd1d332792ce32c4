package api

import (
	"net/http"
	"net/url"
	"strings"
)

// RouteNotFound is the route name of a Match that selected no route.
const RouteNotFound = ""

// Match is the outcome of routing a request.
type Match struct {
	Route  string
	Params map[string]string
	Query  url.Values
}

type route struct {
	name string
	segs []string
}

// Router maps a path and method to a named route. Patterns are
// slash-separated segments; a segment starting with ':' binds exactly one
// path segment under that name. Routes are tried in registration order per
// method and the first match wins.
type Router struct {
	routes map[string][]route
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handle registers pattern under name for method. An empty method means GET.
func (r *Router) Handle(name, method, pattern string) {
	if method == "" {
		method = http.MethodGet
	}
	r.routes[method] = append(r.routes[method], route{name: name, segs: splitPath(pattern)})
}

// Match routes rawURL, a path with an optional query string, for method.
func (r *Router) Match(rawURL, method string) Match {
	if method == "" {
		method = http.MethodGet
	}
	path, rawQuery, _ := strings.Cut(rawURL, "?")
	segs := splitPath(path)

	for _, rt := range r.routes[method] {
		params, ok := rt.match(segs)
		if !ok {
			continue
		}
		query, _ := url.ParseQuery(rawQuery)
		return Match{Route: rt.name, Params: params, Query: query}
	}
	return Match{Route: RouteNotFound}
}

func (rt route) match(segs []string) (map[string]string, bool) {
	if len(segs) != len(rt.segs) {
		return nil, false
	}
	params := make(map[string]string)
	for i, want := range rt.segs {
		got := segs[i]
		if name, ok := strings.CutPrefix(want, ":"); ok {
			if got == "" {
				return nil, false
			}
			if v, err := url.PathUnescape(got); err == nil {
				got = v
			}
			params[name] = got
			continue
		}
		if got != want {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
