package fuzzy

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"slices"
)

// Rule is one compiled entry of a rule table. Rules are immutable once
// compiled and are evaluated in table order; the first match wins.
type Rule struct {
	// Match selects the URLs this rule applies to. It is tested against
	// the request URL with a "?" appended when the URL has no query.
	Match *regexp.Regexp

	// CanonicalReplace, when set, is expanded against the first match of
	// Match in the original URL to produce the canonical URL. Templates
	// use regexp.Expand syntax (${1}).
	CanonicalReplace string

	// Replace is the store-side query-stripping substitution. The matcher
	// does not apply it; stores that build fuzzy index keys do.
	Replace string

	// ArgSets lists groups of query parameter names. Each group yields
	// one candidate URL carrying only those parameters, in group order.
	ArgSets [][]string

	// Split is the token the lookup prefix is cut at. Empty means "?".
	Split string

	// SplitLast cuts at the last occurrence of Split instead of the first.
	SplitLast bool

	// MaxResults caps the number of candidates, and the number of prefix
	// matches a store should consider. Zero means no cap.
	MaxResults int
}

// RuleSpec is the declarative, serializable form of a Rule. Rule tables
// are kept as data so they can be versioned and tested apart from the
// matching engine.
type RuleSpec struct {
	Match            string     `json:"match"`
	IgnoreCase       bool       `json:"ignoreCase,omitempty"`
	CanonicalReplace string     `json:"canonicalReplace,omitempty"`
	Replace          *string    `json:"replace,omitempty"`
	ArgSets          [][]string `json:"args,omitempty"`
	Split            string     `json:"split,omitempty"`
	SplitLast        bool       `json:"splitLast,omitempty"`
	MaxResults       int        `json:"maxResults,omitempty"`
}

// Compile turns rule specs into rules, preserving order.
func Compile(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		pattern := spec.Match
		if spec.IgnoreCase {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compile %q: %w", i, spec.Match, err)
		}
		if spec.MaxResults < 0 {
			return nil, fmt.Errorf("rule %d: maxResults must not be negative", i)
		}
		r := Rule{
			Match:            re,
			CanonicalReplace: spec.CanonicalReplace,
			Split:            spec.Split,
			SplitLast:        spec.SplitLast,
			MaxResults:       spec.MaxResults,
		}
		if spec.Replace != nil {
			r.Replace = *spec.Replace
		}
		for _, args := range spec.ArgSets {
			r.ArgSets = append(r.ArgSets, slices.Clone(args))
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadRules decodes a JSON array of rule specs and compiles it.
func LoadRules(r io.Reader) ([]Rule, error) {
	var specs []RuleSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return Compile(specs)
}

func strPtr(s string) *string { return &s }

// defaultSpecs is the built-in rule table. Order matters: site-specific
// rules come first, the generic rules last.
var defaultSpecs = []RuleSpec{
	// Vimeo CDN
	{
		Match:            `//.*(?:gcs-vimeo|vod|vod-progressive)\.akamaized\.net.*?/([\d/]+\.mp4)`,
		CanonicalReplace: "//vimeo-cdn.fuzzy.replayweb.page/${1}",
		Split:            ".net",
	},
	{
		Match:            `//.*player.vimeo.com/(video/[\d]+)\?.*`,
		IgnoreCase:       true,
		CanonicalReplace: "//vimeo.fuzzy.replayweb.page/${1}",
	},
	{
		Match:   `www.\washingtonpost\.com/wp-apps/imrs.php`,
		ArgSets: [][]string{{"src"}},
	},
	{
		Match:   `(static.wixstatic.com/.*\.[\w]+/v1/fill/)(w_.*)`,
		Replace: strPtr("${1}?_args=${2}"),
		Split:   "/v1/fill",
	},
	{
		Match:     `(twimg.com/profile_images/[^/]+/[^_]+)_([\w]+\.[\w]+)`,
		Replace:   strPtr("${1}=_args=${2}"),
		Split:     "_",
		SplitLast: true,
	},
	// YouTube
	{
		Match:      `^https?://(?:www\.)?(youtube\.com/embed/[^?]+)[?].*`,
		IgnoreCase: true,
		Replace:    strPtr("${1}"),
	},
	{
		Match:            `^(https?://(?:www\.)?)(youtube\.com/@[^?]+)[?].*`,
		IgnoreCase:       true,
		CanonicalReplace: "${1}${2}",
	},
	{
		Match:            `//(?:www\.)?youtube(?:-nocookie)?\.com/(get_video_info)`,
		IgnoreCase:       true,
		CanonicalReplace: "//youtube.fuzzy.replayweb.page/${1}",
		ArgSets:          [][]string{{"video_id"}},
	},
	{
		Match:            `//(?:www\.)?youtube(?:-nocookie)?\.com/(youtubei/v1/[^?]+\?).*(videoId[^&]+).*`,
		IgnoreCase:       true,
		CanonicalReplace: "//youtube.fuzzy.replayweb.page/${1}${2}",
		ArgSets:          [][]string{{"videoId"}},
	},
	{
		Match:            `//.*googlevideo.com/(videoplayback)`,
		IgnoreCase:       true,
		CanonicalReplace: "//youtube.fuzzy.replayweb.page/${1}",
		ArgSets:          [][]string{{"id", "itag"}, {"id"}},
	},
	// Facebook
	{
		Match:      `facebook\.com/ajax/pagelet/generic.php/photoviewerinitpagelet`,
		IgnoreCase: true,
		ArgSets:    [][]string{{"data"}},
	},
	{
		Match:            `(twitter.com/[^/]+/status/[^?]+)(\?.*)`,
		CanonicalReplace: "${1}",
	},
	{
		Match:      `facebook\.com/ajax/`,
		IgnoreCase: true,
	},
	// Generic rules, must stay last.
	{
		Match: `[?&](?:(callback=jsonp)[^&]+(?:&|$)|((?:\w+)=jquery)[\d]+_[\d]+|utm_[^=]+=[^&]+(?:&|$)|(_|cb|_ga|\w*cache\w*)=[\d.-]+(?:$|&))`,
		IgnoreCase: true,
		Replace:    strPtr(""),
	},
	{
		Match:      `(\.(?:js|webm|mp4|gif|jpg|png|css|json|m3u8))\?.*`,
		IgnoreCase: true,
		Replace:    strPtr("${1}"),
		MaxResults: 2,
	},
}

var defaultRules = func() []Rule {
	rules, err := Compile(defaultSpecs)
	if err != nil {
		panic("fuzzy: compile default rules: " + err.Error())
	}
	return rules
}()

// DefaultSpecs returns a copy of the built-in rule table in declarative form.
func DefaultSpecs() []RuleSpec {
	return slices.Clone(defaultSpecs)
}

// DefaultRules returns a copy of the compiled built-in rule table.
func DefaultRules() []Rule {
	return slices.Clone(defaultRules)
}
