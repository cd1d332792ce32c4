package api

import (
	"net/http"
	"testing"
)

func TestRouterMatch(t *testing.T) {
	r := New(nil, nil).Router()

	tests := []struct {
		url, method string
		route       string
		coll        string
	}{
		{"index", http.MethodGet, RouteIndex, ""},
		{"/index", http.MethodGet, RouteIndex, ""},
		{"web", http.MethodGet, RouteColl, "web"},
		{"web", "", RouteColl, "web"},
		{"web/urls?url=x", http.MethodGet, RouteURLs, "web"},
		{"web", http.MethodDelete, RouteDeleteColl, "web"},
		{"web/updateAuth", http.MethodPost, RouteUpdateAuth, "web"},
		{"web/curatedPages", http.MethodGet, RouteCurated, "web"},
		{"web/pages", http.MethodGet, RoutePages, "web"},
		{"my%20coll/pages", http.MethodGet, RoutePages, "my coll"},
		{"web/updateAuth", http.MethodGet, RouteNotFound, ""},
		{"web/pages", http.MethodPost, RouteNotFound, ""},
		{"web/pages/extra", http.MethodGet, RouteNotFound, ""},
		{"", http.MethodGet, RouteNotFound, ""},
		{"index", http.MethodPut, RouteNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.url, func(t *testing.T) {
			m := r.Match(tt.url, tt.method)
			if m.Route != tt.route {
				t.Fatalf("route: got %q, want %q", m.Route, tt.route)
			}
			if m.Params["coll"] != tt.coll {
				t.Errorf("coll: got %q, want %q", m.Params["coll"], tt.coll)
			}
		})
	}
}

func TestRouterQuery(t *testing.T) {
	r := NewRouter()
	r.Handle("a", "", ":x/a")
	m := r.Match("1/a?count=10&prefix=1&mime=text/html", http.MethodGet)
	if m.Route != "a" || m.Params["x"] != "1" {
		t.Fatalf("got %+v", m)
	}
	if m.Query.Get("count") != "10" || m.Query.Get("prefix") != "1" || m.Query.Get("mime") != "text/html" {
		t.Errorf("query: %v", m.Query)
	}
}

func TestRouterFirstRegisteredWins(t *testing.T) {
	r := NewRouter()
	r.Handle("literal", http.MethodGet, "index")
	r.Handle("param", http.MethodGet, ":coll")
	if got := r.Match("index", http.MethodGet).Route; got != "literal" {
		t.Errorf("got %q", got)
	}
	if got := r.Match("other", http.MethodGet).Route; got != "param" {
		t.Errorf("got %q", got)
	}
}
