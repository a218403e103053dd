package discovery

import (
	"net/url"
	"testing"
)

func TestTitleFromURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://usaswimming.org/safe-sport/minor-athlete-abuse-prevention.pdf": "Minor Athlete Abuse Prevention",
		"https://usopc.org/governance/athlete_safety-policy":                    "Athlete Safety Policy",
		"https://teamusa.org/":                                                  "teamusa.org",
		"https://teamusa.org":                                                   "teamusa.org",
	}
	for input, want := range cases {
		if got := TitleFromURL(input); got != want {
			t.Fatalf("TitleFromURL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMapCandidates_DeduplicatesWithinBatch(t *testing.T) {
	t.Parallel()

	links := []string{
		"https://www.usafencing.org/rules/",
		"https://usafencing.org/rules",
		"https://usafencing.org/rules#anchor",
		"https://usafencing.org/selection-criteria",
	}

	candidates := mapCandidates(links, "usafencing.org")
	if len(candidates) != 2 {
		t.Fatalf("expected 2 unique candidates, got %d", len(candidates))
	}
	for _, candidate := range candidates {
		if candidate.Method != MethodMap {
			t.Fatalf("unexpected method: %q", candidate.Method)
		}
		if candidate.DiscoveredFrom != "usafencing.org" {
			t.Fatalf("unexpected discoveredFrom: %q", candidate.DiscoveredFrom)
		}
		if candidate.ID == "" {
			t.Fatalf("candidate id must be set")
		}
	}
}

func TestSearchCandidates_KeepsAPITitle(t *testing.T) {
	t.Parallel()

	results := []SearchResult{
		{URL: "https://www.usatf.org/anti-doping", Title: "USATF Anti-Doping Resources"},
		{URL: "https://usatf.org/anti-doping/", Title: "ignored duplicate"},
		{URL: "https://usatf.org/coaching-education", Title: ""},
	}

	candidates := searchCandidates(results, "anti-doping rules")
	if len(candidates) != 2 {
		t.Fatalf("expected 2 unique candidates, got %d", len(candidates))
	}
	if candidates[0].Title != "USATF Anti-Doping Resources" {
		t.Fatalf("expected API title to win, got %q", candidates[0].Title)
	}
	if candidates[1].Title != "Coaching Education" {
		t.Fatalf("expected derived title fallback, got %q", candidates[1].Title)
	}
	if candidates[0].DiscoveredFrom != "anti-doping rules" {
		t.Fatalf("search candidates must carry the query, got %q", candidates[0].DiscoveredFrom)
	}
}

func TestScopedQuery(t *testing.T) {
	t.Parallel()

	if got := scopedQuery("selection procedures", nil); got != "selection procedures" {
		t.Fatalf("unexpected unscoped query: %q", got)
	}
	got := scopedQuery("selection procedures", []string{"usopc.org", " ", "usaswimming.org"})
	want := "selection procedures site:usopc.org site:usaswimming.org"
	if got != want {
		t.Fatalf("unexpected scoped query: got %q want %q", got, want)
	}
}

func TestResolveSameHostLink(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://usarugby.org")
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}

	if got := resolveSameHostLink(base, "/governance/bylaws"); got != "https://usarugby.org/governance/bylaws" {
		t.Fatalf("unexpected resolved link: %q", got)
	}
	if got := resolveSameHostLink(base, "https://www.usarugby.org/events"); got == "" {
		t.Fatalf("www-prefixed same host must be kept")
	}
	if got := resolveSameHostLink(base, "https://otherdomain.org/page"); got != "" {
		t.Fatalf("cross-host link must be dropped, got %q", got)
	}
	if got := resolveSameHostLink(base, "mailto:info@usarugby.org"); got != "" {
		t.Fatalf("mailto link must be dropped, got %q", got)
	}
	if got := resolveSameHostLink(base, "#section"); got != "" {
		t.Fatalf("fragment link must be dropped, got %q", got)
	}
}
