package identity

import "testing"

func TestNormalize_EquivalentForms(t *testing.T) {
	t.Parallel()

	variants := []string{
		"https://www.usaswimming.org/safe-sport/policies",
		"https://usaswimming.org/safe-sport/policies/",
		"https://usaswimming.org/safe-sport/policies#section-2",
		"https://www.usaswimming.org/safe-sport/policies/#top",
	}

	want := Normalize(variants[0])
	for _, raw := range variants[1:] {
		if got := Normalize(raw); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalize_RootPathKeepsSlash(t *testing.T) {
	t.Parallel()

	if got := Normalize("https://www.example.org/"); got != "https://example.org/" {
		t.Fatalf("unexpected canonical url: %q", got)
	}
}

func TestNormalize_MalformedReturnedUnchanged(t *testing.T) {
	t.Parallel()

	inputs := []string{"not a url", "://bad", "relative/path"}
	for _, raw := range inputs {
		if got := Normalize(raw); got != raw {
			t.Fatalf("Normalize(%q) = %q, want input unchanged", raw, got)
		}
	}
}

func TestIdentify_DeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	a := Identify("https://example.org/a")
	b := Identify("https://example.org/a")
	c := Identify("https://example.org/b")

	if a != b {
		t.Fatalf("equal canonical URLs produced different ids: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("distinct canonical URLs produced identical ids: %q", a)
	}
	if len(a) != 64 {
		t.Fatalf("expected fixed-length hex digest, got %d chars", len(a))
	}
}

func TestFromURL_EquivalentVariantsShareID(t *testing.T) {
	t.Parallel()

	_, left := FromURL("https://www.teamusa.org/athlete-resources/")
	_, right := FromURL("https://teamusa.org/athlete-resources#intro")

	if left != right {
		t.Fatalf("expected identical ids for equivalent URLs, got %q and %q", left, right)
	}
}
