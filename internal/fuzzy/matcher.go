// Package fuzzy maps request URLs to canonical lookup keys.
//
// A Matcher holds an ordered, immutable rule table. For a request URL it
// selects the first matching rule, derives a canonical URL and a lookup
// prefix, and expands the rule's argument sets into candidate URLs that
// an archive store can probe when the exact URL is missing.
//
// Matchers are safe for concurrent use.
package fuzzy

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

const defaultSplit = "?"

// Resolution is the result of resolving a URL against the rule table.
type Resolution struct {
	// Rule is the first matching rule, or nil.
	Rule *Rule
	// CanonicalURL is the rewritten URL, or the request URL unchanged.
	CanonicalURL string
	// Prefix is the lookup prefix. It includes the split token when the
	// token was found.
	Prefix string
}

// Matcher resolves URLs against an ordered rule table.
type Matcher struct {
	rules []Rule
}

// New creates a Matcher over rules. The slice is copied; later changes by
// the caller have no effect. A nil slice selects the built-in table.
func New(rules []Rule) *Matcher {
	if rules == nil {
		return Default()
	}
	return &Matcher{rules: slices.Clone(rules)}
}

// Default creates a Matcher over the built-in rule table.
func Default() *Matcher {
	return &Matcher{rules: defaultRules}
}

// Rules returns a copy of the rule table.
func (m *Matcher) Rules() []Rule {
	return slices.Clone(m.rules)
}

// ResolveRule selects the first rule matching reqURL and computes the
// canonical URL and lookup prefix.
func (m *Matcher) ResolveRule(reqURL string) Resolution {
	matchURL := reqURL
	if !strings.Contains(matchURL, "?") {
		matchURL += "?"
	}

	res := Resolution{CanonicalURL: reqURL}
	split := defaultSplit
	splitLast := false

	for i := range m.rules {
		r := &m.rules[i]
		if !r.Match.MatchString(matchURL) {
			continue
		}
		res.Rule = r
		if r.CanonicalReplace != "" {
			res.CanonicalURL = replaceFirst(r.Match, reqURL, r.CanonicalReplace)
		}
		if r.Split != "" {
			split = r.Split
		}
		splitLast = r.SplitLast
		break
	}

	inx := strings.Index(reqURL, split)
	if splitLast {
		inx = strings.LastIndex(reqURL, split)
	}
	res.Prefix = reqURL
	if inx > 0 {
		res.Prefix = reqURL[:inx+len(split)]
	}
	return res
}

// Candidates returns the ordered URLs to probe for reqURL. Without a
// matching rule or argument sets, the single candidate is the canonical
// URL (or the prefix when no rewrite happened). With argument sets, each
// set yields one URL carrying exactly those parameters taken from the
// request, missing ones as empty strings. A rule's MaxResults caps the list.
func (m *Matcher) Candidates(reqURL string) []string {
	res := m.ResolveRule(reqURL)

	canon := res.CanonicalURL
	if canon == reqURL {
		canon = res.Prefix
	}

	if res.Rule == nil || len(res.Rule.ArgSets) == 0 {
		return []string{canon}
	}

	fuzzURL, err := url.Parse(canon)
	if err != nil {
		return []string{canon}
	}
	origURL, err := url.Parse(reqURL)
	if err != nil {
		return []string{canon}
	}
	orig := origURL.Query()

	out := make([]string, 0, len(res.Rule.ArgSets))
	for _, args := range res.Rule.ArgSets {
		u := *fuzzURL
		u.RawQuery = encodeArgs(args, orig)
		u.ForceQuery = false
		out = append(out, u.String())
	}
	if n := res.Rule.MaxResults; n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// encodeArgs builds a query string with the named parameters in the given
// order. url.Values.Encode sorts keys, which would reorder the set.
func encodeArgs(args []string, from url.Values) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(arg))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(from.Get(arg)))
	}
	return b.String()
}

// replaceFirst replaces the leftmost match of re in src with the expanded
// template. regexp.ReplaceAllString would rewrite every match.
func replaceFirst(re *regexp.Regexp, src, template string) string {
	loc := re.FindStringSubmatchIndex(src)
	if loc == nil {
		return src
	}
	dst := re.ExpandString(nil, template, src, loc)
	return src[:loc[0]] + string(dst) + src[loc[1]:]
}
