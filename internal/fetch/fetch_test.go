package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	raw := "  Policy   overview \r\n\r\nSection  1\r\n\n\nSection 2  "
	want := "Policy overview\n\nSection 1\n\nSection 2"
	if got := CleanText(raw); got != want {
		t.Fatalf("unexpected cleaned text:\ngot  %q\nwant %q", got, want)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	clipped, truncated := TruncateText("abcdefghij", 5)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if clipped != "abcd…" {
		t.Fatalf("unexpected clipped text: %q", clipped)
	}

	full, truncated := TruncateText("short", 10)
	if truncated || full != "short" {
		t.Fatalf("expected text under limit to pass through, got %q truncated=%t", full, truncated)
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	t.Parallel()

	if ContentHash("same text") != ContentHash("same text") {
		t.Fatalf("hash must be deterministic")
	}
	if ContentHash("a") == ContentHash("b") {
		t.Fatalf("different text must hash differently")
	}
}

func TestFetchText_PlainText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Team selection criteria.\n\nPublished 2026."))
	}))
	defer server.Close()

	fetcher := New(Options{Timeout: 2 * time.Second, MaxAttempts: 1})
	text, err := fetcher.FetchText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if text != "Team selection criteria.\n\nPublished 2026." {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestFetchText_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	fetcher := New(Options{Timeout: 2 * time.Second, MaxAttempts: 3})
	text, err := fetcher.FetchText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if text != "recovered" {
		t.Fatalf("unexpected text: %q", text)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchText_BoundedAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := New(Options{Timeout: time.Second, MaxAttempts: 2})
	if _, err := fetcher.FetchText(context.Background(), server.URL); err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}
}
