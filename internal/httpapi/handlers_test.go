package httpapi

import (
	"encoding/json"
	"testing"
)

func TestParseListLimit(t *testing.T) {
	t.Parallel()

	if got, err := parseListLimit(""); err != nil || got != defaultPageSize {
		t.Fatalf("empty = (%d, %v)", got, err)
	}
	if got, err := parseListLimit("10"); err != nil || got != 10 {
		t.Fatalf("10 = (%d, %v)", got, err)
	}
	if got, err := parseListLimit("100000"); err != nil || got != maxPageSize {
		t.Fatalf("oversized = (%d, %v)", got, err)
	}
	if _, err := parseListLimit("0"); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := parseListLimit("-5"); err == nil {
		t.Fatalf("expected error for negative limit")
	}
	if _, err := parseListLimit("abc"); err == nil {
		t.Fatalf("expected error for non-numeric limit")
	}
}

func TestValidateActionRequest(t *testing.T) {
	t.Parallel()

	if errs := validateActionRequest(actionApprove, "reviewer", ""); len(errs) != 0 {
		t.Fatalf("approve with reviewer: %v", errs)
	}
	if errs := validateActionRequest(actionApprove, "", ""); errs["reviewer"] == "" {
		t.Fatalf("approve without reviewer should fail: %v", errs)
	}
	if errs := validateActionRequest(actionReject, "reviewer", "low quality"); len(errs) != 0 {
		t.Fatalf("reject with reason: %v", errs)
	}
	if errs := validateActionRequest(actionReject, "reviewer", "  "); errs["reason"] == "" {
		t.Fatalf("reject without reason should fail: %v", errs)
	}
	if errs := validateActionRequest(actionSendToSources, "", ""); len(errs) != 0 {
		t.Fatalf("send_to_sources needs no reviewer: %v", errs)
	}
	if errs := validateActionRequest("archive", "reviewer", ""); errs["action"] == "" {
		t.Fatalf("unknown action should fail: %v", errs)
	}
}

func TestPatchFromRequest(t *testing.T) {
	t.Parallel()

	newURL := "https://example.org/v2"
	title := "New Title"
	req := sourcePatchRequest{
		URL:          &newURL,
		Title:        &title,
		TopicDomains: json.RawMessage(`["funding"]`),
	}

	patch := patchFromRequest(req)
	if patch.URL == nil || *patch.URL != newURL {
		t.Fatalf("URL not mapped: %+v", patch)
	}
	if patch.Title == nil || *patch.Title != title {
		t.Fatalf("Title not mapped: %+v", patch)
	}
	if string(patch.TopicDomains) != `["funding"]` {
		t.Fatalf("TopicDomains not mapped: %s", patch.TopicDomains)
	}
	if patch.Format != nil || patch.Enabled != nil {
		t.Fatalf("untouched fields should stay nil: %+v", patch)
	}
}

func TestValidateSourceCreate(t *testing.T) {
	t.Parallel()

	req := sourceCreateRequest{Title: "Handbook", URL: "https://example.org/handbook.pdf"}
	if errs := validateSourceCreate(&req); len(errs) != 0 {
		t.Fatalf("valid request: %v", errs)
	}
	if req.Format != "pdf" {
		t.Fatalf("format not inferred: %q", req.Format)
	}
	if req.DocumentType != "document" || req.Priority != "medium" || req.AuthorityLevel != "unknown" {
		t.Fatalf("defaults not applied: %+v", req)
	}

	missing := sourceCreateRequest{}
	errs := validateSourceCreate(&missing)
	if errs["title"] == "" || errs["url"] == "" {
		t.Fatalf("missing fields not reported: %v", errs)
	}

	relative := sourceCreateRequest{Title: "X", URL: "/relative/path"}
	if errs := validateSourceCreate(&relative); errs["url"] == "" {
		t.Fatalf("relative url not reported: %v", errs)
	}
}
