package fuzzy

import (
	"regexp"
	"slices"
	"strings"
	"testing"
)

func TestResolveVimeoCDN(t *testing.T) {
	m := Default()
	res := m.ResolveRule("https://vod.akamaized.net/abc/123/456.mp4?x=1")

	if res.Rule == nil {
		t.Fatal("expected a matching rule")
	}
	if want := "https://vimeo-cdn.fuzzy.replayweb.page/123/456.mp4?x=1"; res.CanonicalURL != want {
		t.Errorf("canonical: got %q, want %q", res.CanonicalURL, want)
	}
	if want := "https://vod.akamaized.net"; res.Prefix != want {
		t.Errorf("prefix: got %q, want %q", res.Prefix, want)
	}
}

func TestResolveNoRule(t *testing.T) {
	m := Default()
	res := m.ResolveRule("https://example.com/page")
	if res.Rule != nil {
		t.Errorf("expected no rule, got %v", res.Rule.Match)
	}
	if res.CanonicalURL != "https://example.com/page" {
		t.Errorf("canonical: got %q", res.CanonicalURL)
	}
	if res.Prefix != "https://example.com/page" {
		t.Errorf("prefix: got %q", res.Prefix)
	}
	got := m.Candidates("https://example.com/page")
	if !slices.Equal(got, []string{"https://example.com/page"}) {
		t.Errorf("candidates: got %v", got)
	}
}

func TestPrefixIncludesSplitToken(t *testing.T) {
	m := Default()
	res := m.ResolveRule("https://example.com/a.js?v=123")
	if res.Rule == nil || res.Rule.MaxResults != 2 {
		t.Fatalf("expected the static asset rule, got %+v", res.Rule)
	}
	if res.Prefix != "https://example.com/a.js?" {
		t.Errorf("prefix: got %q", res.Prefix)
	}
	got := m.Candidates("https://example.com/a.js?v=123")
	if !slices.Equal(got, []string{"https://example.com/a.js?"}) {
		t.Errorf("candidates: got %v", got)
	}
}

func TestCustomSplit(t *testing.T) {
	m := Default()
	res := m.ResolveRule("https://static.wixstatic.com/media/abc.jpg/v1/fill/w_100,h_100/abc.jpg")
	if want := "https://static.wixstatic.com/media/abc.jpg/v1/fill"; res.Prefix != want {
		t.Errorf("prefix: got %q, want %q", res.Prefix, want)
	}
}

func TestSplitLast(t *testing.T) {
	m := Default()
	res := m.ResolveRule("https://pbs.twimg.com/profile_images/123/abc_normal.jpg")
	if want := "https://pbs.twimg.com/profile_images/123/abc_"; res.Prefix != want {
		t.Errorf("prefix: got %q, want %q", res.Prefix, want)
	}
}

func TestCandidatesArgSets(t *testing.T) {
	m := Default()
	got := m.Candidates("https://r1.googlevideo.com/videoplayback?itag=22&id=abc&expire=1")
	want := []string{
		"https://youtube.fuzzy.replayweb.page/videoplayback?id=abc&itag=22",
		"https://youtube.fuzzy.replayweb.page/videoplayback?id=abc",
	}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCandidatesMissingArgIsEmpty(t *testing.T) {
	m := Default()
	got := m.Candidates("https://www.washingtonpost.com/wp-apps/imrs.php?w=100")
	want := []string{"https://www.washingtonpost.com/wp-apps/imrs.php?src="}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFirstMatchWins(t *testing.T) {
	rules, err := Compile([]RuleSpec{
		{Match: `example\.com/(a)`, CanonicalReplace: "example.com/first-${1}"},
		{Match: `example\.com/(a)`, CanonicalReplace: "example.com/second-${1}"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	m := New(rules)
	for range 20 {
		res := m.ResolveRule("https://example.com/a")
		if res.CanonicalURL != "https://example.com/first-a" {
			t.Fatalf("got %q", res.CanonicalURL)
		}
	}
}

func TestCanonicalReplacesFirstMatchOnly(t *testing.T) {
	rules, err := Compile([]RuleSpec{{Match: `x(\d)`, CanonicalReplace: "y${1}"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	res := New(rules).ResolveRule("https://h/x1/x2")
	if res.CanonicalURL != "https://h/y1/x2" {
		t.Errorf("got %q", res.CanonicalURL)
	}
}

func TestCanonicalIdempotent(t *testing.T) {
	m := Default()
	urls := []string{
		"https://vod.akamaized.net/abc/123/456.mp4?x=1",
		"https://player.vimeo.com/video/12345?h=abc",
		"https://www.youtube.com/@channel?si=xyz",
		"https://www.youtube.com/youtubei/v1/player?key=1&videoId=abc&x=2",
		"https://www.youtube.com/get_video_info?video_id=abc&el=embedded",
		"https://r1.googlevideo.com/videoplayback?itag=22&id=abc",
		"https://twitter.com/user/status/123?s=20",
		"https://example.com/a.js?v=1",
		"https://example.com/page",
	}
	for _, u := range urls {
		once := m.ResolveRule(u).CanonicalURL
		twice := m.ResolveRule(once).CanonicalURL
		if once != twice {
			t.Errorf("%s: canonical not idempotent: %q then %q", u, once, twice)
		}
	}
}

func TestCandidatesBounded(t *testing.T) {
	m := Default()
	urls := []string{
		"https://r1.googlevideo.com/videoplayback?itag=22&id=abc",
		"https://www.facebook.com/ajax/pagelet/generic.php/PhotoViewerInitPagelet?data=1",
		"https://example.com/a.css?v=1",
		"https://example.com/?utm_source=x&a=1",
	}
	for _, u := range urls {
		res := m.ResolveRule(u)
		got := m.Candidates(u)
		if len(got) < 1 {
			t.Errorf("%s: expected at least one candidate", u)
			continue
		}
		if res.Rule == nil {
			continue
		}
		if n := len(res.Rule.ArgSets); n > 0 && len(got) > n {
			t.Errorf("%s: %d candidates exceeds %d arg sets", u, len(got), n)
		}
		if n := res.Rule.MaxResults; n > 0 && len(got) > n {
			t.Errorf("%s: %d candidates exceeds max %d", u, len(got), n)
		}
	}
}

func TestMaxResultsCapsArgSets(t *testing.T) {
	rules, err := Compile([]RuleSpec{{
		Match:      `example\.com/q`,
		ArgSets:    [][]string{{"a"}, {"b"}, {"c"}},
		MaxResults: 2,
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := New(rules).Candidates("https://example.com/q?a=1&b=2&c=3")
	want := []string{"https://example.com/q?a=1", "https://example.com/q?b=2"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNewCopiesRules(t *testing.T) {
	rules := []Rule{{Match: regexp.MustCompile(`a`), CanonicalReplace: "b"}}
	m := New(rules)
	rules[0].CanonicalReplace = "c"
	if got := m.ResolveRule("a").CanonicalURL; got != "b" {
		t.Errorf("got %q, want b", got)
	}
}

func TestLoadRules(t *testing.T) {
	src := `[{"match": "example\\.org/(item)/\\d+", "ignoreCase": true, "canonicalReplace": "example.org/${1}", "split": "/item"}]`
	rules, err := LoadRules(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	res := New(rules).ResolveRule("https://EXAMPLE.org/item/42")
	if res.CanonicalURL != "https://example.org/item" {
		t.Errorf("canonical: got %q", res.CanonicalURL)
	}
	if res.Prefix != "https://EXAMPLE.org/item" {
		t.Errorf("prefix: got %q", res.Prefix)
	}
}

func TestCompileErrors(t *testing.T) {
	if _, err := Compile([]RuleSpec{{Match: `(`}}); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if _, err := Compile([]RuleSpec{{Match: `a`, MaxResults: -1}}); err == nil {
		t.Error("expected error for negative maxResults")
	}
}

func TestDefaultSpecsCompile(t *testing.T) {
	rules, err := Compile(DefaultSpecs())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(rules) != len(DefaultRules()) {
		t.Errorf("got %d rules, want %d", len(rules), len(DefaultRules()))
	}
}
