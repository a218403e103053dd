package review

import (
	"testing"

	"horse.fit/curator/internal/db"
)

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current string
		target  string
		wantErr bool
	}{
		{name: "pending to approved", current: db.StatusPendingContent, target: db.StatusApproved},
		{name: "rejected to approved", current: db.StatusRejected, target: db.StatusApproved},
		{name: "approved to approved", current: db.StatusApproved, target: db.StatusApproved},
		{name: "pending to rejected", current: db.StatusPendingMetadata, target: db.StatusRejected},
		{name: "approved to rejected", current: db.StatusApproved, target: db.StatusRejected, wantErr: true},
		{name: "unknown target", current: db.StatusApproved, target: "archived", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := validateTransition(tc.current, tc.target)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %s -> %s", tc.current, tc.target)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %s -> %s: %v", tc.current, tc.target, err)
			}
		})
	}
}

func TestClassifyPromotion(t *testing.T) {
	t.Parallel()

	linked := "src-1"
	known := map[string]struct{}{
		"https://example.org/handbook": {},
	}

	if got := classifyPromotion(db.StatusPendingContent, nil, known, "https://example.org/new"); got != OutcomeNotApproved {
		t.Fatalf("unapproved = %q", got)
	}
	if got := classifyPromotion(db.StatusApproved, &linked, known, "https://example.org/new"); got != OutcomeAlreadyLinked {
		t.Fatalf("linked = %q", got)
	}
	if got := classifyPromotion(db.StatusApproved, nil, known, "https://example.org/handbook"); got != OutcomeDuplicateURL {
		t.Fatalf("duplicate url = %q", got)
	}
	if got := classifyPromotion(db.StatusApproved, nil, known, "https://example.org/new"); got != OutcomeCreated {
		t.Fatalf("promotable = %q", got)
	}

	// A linked discovery reports alreadyLinked even when its URL is in the
	// catalog set, which is what a second promotion run observes.
	if got := classifyPromotion(db.StatusApproved, &linked, known, "https://example.org/handbook"); got != OutcomeAlreadyLinked {
		t.Fatalf("second run = %q", got)
	}
}

func TestClassifyPromotionInRunDedup(t *testing.T) {
	t.Parallel()

	// Two approved discoveries with the same canonical URL inside one run:
	// the first creates, extending the in-memory set, so the second sees a
	// duplicate.
	known := map[string]struct{}{}
	canonical := "https://example.org/grants"

	if got := classifyPromotion(db.StatusApproved, nil, known, canonical); got != OutcomeCreated {
		t.Fatalf("first = %q", got)
	}
	known[canonical] = struct{}{}
	if got := classifyPromotion(db.StatusApproved, nil, known, canonical); got != OutcomeDuplicateURL {
		t.Fatalf("second = %q", got)
	}
}

func TestFormatFromURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want string
	}{
		{url: "https://example.org/rules.pdf", want: "pdf"},
		{url: "https://example.org/rules.PDF", want: "pdf"},
		{url: "https://example.org/notes.txt", want: "text"},
		{url: "https://example.org/page.html", want: "html"},
		{url: "https://example.org/page", want: "html"},
		{url: "https://example.org/doc.pdf?v=2", want: "pdf"},
	}

	for _, tc := range cases {
		if got := FormatFromURL(tc.url); got != tc.want {
			t.Fatalf("FormatFromURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestSourceFromDiscovery(t *testing.T) {
	t.Parallel()

	docType := "policy"
	priority := "high"
	authority := "governing_body"
	disc := promotable{
		DiscoveryID:    "d1",
		URL:            "https://example.org/rules.pdf",
		Title:          "Competition Rules",
		Status:         db.StatusApproved,
		DocumentType:   &docType,
		Priority:       &priority,
		AuthorityLevel: &authority,
	}

	source := sourceFromDiscovery(disc)
	if source.SourceID == "" {
		t.Fatalf("expected generated source id")
	}
	if source.Format != "pdf" {
		t.Fatalf("Format = %q", source.Format)
	}
	if source.DocumentType != "policy" || source.Priority != "high" || source.AuthorityLevel != "governing_body" {
		t.Fatalf("extracted metadata not carried: %+v", source)
	}
	if !source.Enabled {
		t.Fatalf("promoted sources start enabled")
	}

	// Missing extracted metadata falls back to conservative defaults.
	bare := sourceFromDiscovery(promotable{URL: "https://example.org/page", Title: "Page", Status: db.StatusApproved})
	if bare.DocumentType != "document" || bare.Priority != "medium" || bare.AuthorityLevel != "unknown" {
		t.Fatalf("defaults not applied: %+v", bare)
	}
}
