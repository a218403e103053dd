package worker

import (
	"encoding/json"
	"testing"

	"horse.fit/curator/internal/queue"
)

func TestBuildChunks(t *testing.T) {
	t.Parallel()

	payload := queue.SourcePayload{
		SourceID:       "src-1",
		Title:          "Athlete Handbook",
		AuthorityLevel: "governing_body",
		Priority:       "high",
	}

	chunks := buildChunks([]string{"first part", "second part"}, payload)
	if len(chunks) != 2 {
		t.Fatalf("len = %d, want 2", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.SourceID != "src-1" || chunk.DocumentTitle != "Athlete Handbook" {
			t.Fatalf("chunk %d metadata: %+v", i, chunk)
		}
		if chunk.AuthorityLevel != "governing_body" {
			t.Fatalf("chunk %d authority: %q", i, chunk.AuthorityLevel)
		}
		if chunk.Score != 1.0 {
			t.Fatalf("chunk %d score: %v", i, chunk.Score)
		}
	}
}

func TestScoreForPriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		priority string
		want     float64
	}{
		{priority: "high", want: 1.0},
		{priority: "medium", want: 0.7},
		{priority: "low", want: 0.4},
		{priority: "", want: 0.7},
		{priority: "unexpected", want: 0.7},
	}
	for _, tc := range cases {
		if got := scoreForPriority(tc.priority); got != tc.want {
			t.Fatalf("scoreForPriority(%q) = %v, want %v", tc.priority, got, tc.want)
		}
	}
}

func TestDefaultSplitter(t *testing.T) {
	t.Parallel()

	parts, err := DefaultSplitter().SplitText("short document")
	if err != nil {
		t.Fatalf("SplitText: %v", err)
	}
	if len(parts) != 1 || parts[0] != "short document" {
		t.Fatalf("parts = %v", parts)
	}
}

func TestSourcePayloadRoundTrip(t *testing.T) {
	t.Parallel()

	ngb := "usa-swimming"
	payload := queue.SourcePayload{
		SourceID:       "src-1",
		URL:            "https://example.org/handbook",
		Title:          "Handbook",
		Format:         "html",
		DocumentType:   "policy",
		TopicDomains:   json.RawMessage(`["eligibility"]`),
		AuthorityLevel: "official",
		Priority:       "high",
		NGBID:          &ngb,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var decoded queue.SourcePayload
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.SourceID != payload.SourceID || decoded.NGBID == nil || *decoded.NGBID != ngb {
		t.Fatalf("round trip: %+v", decoded)
	}
	if string(decoded.TopicDomains) != `["eligibility"]` {
		t.Fatalf("topic domains: %s", decoded.TopicDomains)
	}
}
