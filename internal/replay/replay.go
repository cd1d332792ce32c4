// Package replay resolves a request URL to a stored capture, falling back
// to fuzzy candidates when the exact URL was not captured.
package replay

import (
	"context"

	"warcreplay/internal/archive"
	"warcreplay/internal/fuzzy"
)

// Match is a resolved capture and the lookup key that found it.
type Match struct {
	Resource archive.Resource
	// MatchedURL is the URL or prefix the resource was found under.
	MatchedURL string
	// Fuzzy is true when the exact URL was not found.
	Fuzzy bool
}

// Resolver looks up captures in a collection store.
type Resolver struct {
	matcher *fuzzy.Matcher
}

// NewResolver creates a Resolver using m for fuzzy candidates. A nil m
// uses the built-in rules.
func NewResolver(m *fuzzy.Matcher) *Resolver {
	if m == nil {
		m = fuzzy.Default()
	}
	return &Resolver{matcher: m}
}

// Lookup finds the capture for url in s. It tries the exact URL, then each
// fuzzy candidate in order, then a prefix scan under the rule's lookup
// prefix. It returns nil when nothing matches.
func (r *Resolver) Lookup(ctx context.Context, s archive.Store, url string) (*Match, error) {
	res, err := s.Lookup(ctx, url)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return &Match{Resource: *res, MatchedURL: url}, nil
	}

	for _, cand := range r.matcher.Candidates(url) {
		if cand == url {
			continue
		}
		res, err := s.Lookup(ctx, cand)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return &Match{Resource: *res, MatchedURL: cand, Fuzzy: true}, nil
		}
	}

	rule := r.matcher.ResolveRule(url)
	if rule.Prefix == url {
		return nil, nil
	}
	count := 1
	if rule.Rule != nil && rule.Rule.MaxResults > 1 {
		count = rule.Rule.MaxResults
	}
	rs, err := s.ResourcesByURLAndMime(ctx, archive.URLQuery{URL: rule.Prefix, Prefix: true, Count: count})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &Match{Resource: rs[0], MatchedURL: rule.Prefix, Fuzzy: true}, nil
}
