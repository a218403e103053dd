package evaluate

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"horse.fit/curator/internal/globaltime"
)

func TestCombinedConfidence(t *testing.T) {
	t.Parallel()

	got := CombinedConfidence(0.8, 0.9)
	if math.Abs(got-0.87) > 1e-9 {
		t.Fatalf("CombinedConfidence(0.8, 0.9) = %v, want 0.87", got)
	}

	if got := CombinedConfidence(0, 0); got != 0 {
		t.Fatalf("CombinedConfidence(0, 0) = %v, want 0", got)
	}
	if got := CombinedConfidence(1, 1); math.Abs(got-1) > 1e-9 {
		t.Fatalf("CombinedConfidence(1, 1) = %v, want 1", got)
	}
}

func TestParseMetadataEvaluation(t *testing.T) {
	t.Parallel()

	eval, ok := ParseMetadataEvaluation(`{
		"isRelevant": true,
		"confidence": 0.85,
		"reasoning": "official eligibility page",
		"suggestedTopicDomains": ["eligibility"],
		"preliminaryDocumentType": "policy"
	}`)
	if !ok {
		t.Fatalf("expected valid response to pass validation")
	}
	if !eval.IsRelevant || eval.Confidence != 0.85 {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
	if eval.PreliminaryDocumentType != "policy" {
		t.Fatalf("PreliminaryDocumentType = %q", eval.PreliminaryDocumentType)
	}
}

func TestParseMetadataEvaluationFenced(t *testing.T) {
	t.Parallel()

	eval, ok := ParseMetadataEvaluation("```json\n{\"isRelevant\": true, \"confidence\": 0.5, \"reasoning\": \"ok\"}\n```")
	if !ok {
		t.Fatalf("expected fenced response to pass validation")
	}
	if !eval.IsRelevant {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestParseMetadataEvaluationConservativeDefault(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		response string
	}{
		{name: "not json", response: "the page looks relevant to me"},
		{name: "missing required", response: `{"isRelevant": true}`},
		{name: "confidence out of range", response: `{"isRelevant": true, "confidence": 1.5, "reasoning": "x"}`},
		{name: "unknown field", response: `{"isRelevant": true, "confidence": 0.5, "reasoning": "x", "extra": 1}`},
		{name: "empty", response: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			eval, ok := ParseMetadataEvaluation(tc.response)
			if ok {
				t.Fatalf("expected validation failure")
			}
			if eval.IsRelevant || eval.Confidence != 0 {
				t.Fatalf("fallback not conservative: %+v", eval)
			}
		})
	}
}

func TestParseContentEvaluation(t *testing.T) {
	t.Parallel()

	eval, ok := ParseContentEvaluation(`{
		"isHighQuality": true,
		"confidence": 0.9,
		"documentType": "policy",
		"topicDomains": ["anti-doping"],
		"authorityLevel": "governing_body",
		"priority": "high",
		"description": "whereabouts filing requirements",
		"keyTopics": ["whereabouts", "testing pools"],
		"ngbId": "usa-swimming"
	}`)
	if !ok {
		t.Fatalf("expected valid response to pass validation")
	}
	if eval.AuthorityLevel != "governing_body" || eval.Priority != "high" {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
	if eval.NGBID == nil || *eval.NGBID != "usa-swimming" {
		t.Fatalf("NGBID = %v", eval.NGBID)
	}
}

func TestParseContentEvaluationConservativeDefault(t *testing.T) {
	t.Parallel()

	eval, ok := ParseContentEvaluation(`{"isHighQuality": true, "confidence": 0.9, "authorityLevel": "president"}`)
	if ok {
		t.Fatalf("expected validation failure")
	}
	if eval.IsHighQuality || eval.Confidence != 0 {
		t.Fatalf("fallback not conservative: %+v", eval)
	}
	if eval.AuthorityLevel != "unknown" || eval.Priority != "low" {
		t.Fatalf("fallback classification: %+v", eval)
	}
}

func TestMatchProfile(t *testing.T) {
	t.Parallel()

	profiles := []OrgProfile{
		{NGBID: "usa-swimming", Name: "USA Swimming", URLPatterns: []string{"usaswimming.org"}},
		{NGBID: "usopc", Name: "USOPC", URLPatterns: []string{"usopc.org", "teamusa.org"}},
	}

	if p := MatchProfile(profiles, "https://www.usaswimming.org/rules"); p == nil || p.NGBID != "usa-swimming" {
		t.Fatalf("MatchProfile usaswimming = %v", p)
	}
	if p := MatchProfile(profiles, "https://assets.teamusa.org/grants.pdf"); p == nil || p.NGBID != "usopc" {
		t.Fatalf("MatchProfile teamusa subdomain = %v", p)
	}
	if p := MatchProfile(profiles, "https://example.com/swimming"); p != nil {
		t.Fatalf("MatchProfile unrelated host = %v", p)
	}
	if p := MatchProfile(profiles, "://not a url"); p != nil {
		t.Fatalf("MatchProfile malformed = %v", p)
	}
}

func TestProfileCacheTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write profiles: %v", err)
		}
	}
	write(`[{"ngbId": "one", "name": "One", "urlPatterns": ["one.org"]}]`)

	globaltime.SetMockTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	cache := NewProfileCache(path, 10*time.Minute)

	profiles, err := cache.Profiles()
	if err != nil {
		t.Fatalf("Profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].NGBID != "one" {
		t.Fatalf("initial load: %+v", profiles)
	}

	// Within the TTL the cache serves the old content.
	write(`[{"ngbId": "two", "name": "Two", "urlPatterns": ["two.org"]}]`)
	globaltime.SetMockTime(time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC))
	profiles, err = cache.Profiles()
	if err != nil {
		t.Fatalf("Profiles within TTL: %v", err)
	}
	if len(profiles) != 1 || profiles[0].NGBID != "one" {
		t.Fatalf("expected cached content within TTL, got %+v", profiles)
	}

	// Past the TTL the file is reloaded.
	globaltime.SetMockTime(time.Date(2026, 3, 1, 12, 11, 0, 0, time.UTC))
	profiles, err = cache.Profiles()
	if err != nil {
		t.Fatalf("Profiles past TTL: %v", err)
	}
	if len(profiles) != 1 || profiles[0].NGBID != "two" {
		t.Fatalf("expected reloaded content past TTL, got %+v", profiles)
	}

	// Invalidate forces a reload regardless of age.
	write(`[{"ngbId": "three", "name": "Three", "urlPatterns": ["three.org"]}]`)
	cache.Invalidate()
	profiles, err = cache.Profiles()
	if err != nil {
		t.Fatalf("Profiles after invalidate: %v", err)
	}
	if len(profiles) != 1 || profiles[0].NGBID != "three" {
		t.Fatalf("expected reloaded content after invalidate, got %+v", profiles)
	}
}

func TestProfileCacheMissingFile(t *testing.T) {
	t.Parallel()

	cache := NewProfileCache(filepath.Join(t.TempDir(), "absent.json"), time.Minute)
	profiles, err := cache.Profiles()
	if err != nil {
		t.Fatalf("Profiles on missing file: %v", err)
	}
	if profiles != nil {
		t.Fatalf("expected empty set, got %+v", profiles)
	}
}

func TestTokenUsageEstimateFallback(t *testing.T) {
	t.Parallel()

	in, out := tokenUsage(map[string]any{"PromptTokens": 120, "CompletionTokens": 30}, "ignored", "ignored")
	if in != 120 || out != 30 {
		t.Fatalf("tokenUsage reported = (%d, %d)", in, out)
	}

	input := "abcdefgh"   // 8 runes -> 3
	output := "abcd"      // 4 runes -> 2
	in, out = tokenUsage(nil, input, output)
	if in != 3 || out != 2 {
		t.Fatalf("tokenUsage estimated = (%d, %d)", in, out)
	}
}
