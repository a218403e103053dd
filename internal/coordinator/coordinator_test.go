package coordinator

import (
	"testing"
	"time"
)

func TestDecideSource(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		src   sourceState
		force bool
		want  string
	}{
		{
			name: "fresh source is fetched",
			src:  sourceState{SourceID: "a", Enabled: true},
			want: SkipNone,
		},
		{
			name: "failure backoff",
			src:  sourceState{SourceID: "b", Enabled: true, ConsecutiveFailures: 3},
			want: SkipFailureBackoff,
		},
		{
			name: "below backoff cutoff is fetched",
			src:  sourceState{SourceID: "b2", Enabled: true, ConsecutiveFailures: 2},
			want: SkipNone,
		},
		{
			name: "already ingested",
			src:  sourceState{SourceID: "c", Enabled: true, LastIngestedAt: &now},
			want: SkipAlreadyIngested,
		},
		{
			name:  "force bypasses already ingested",
			src:   sourceState{SourceID: "c", Enabled: true, LastIngestedAt: &now},
			force: true,
			want:  SkipNone,
		},
		{
			name:  "force does not bypass backoff",
			src:   sourceState{SourceID: "d", Enabled: true, ConsecutiveFailures: 5},
			force: true,
			want:  SkipFailureBackoff,
		},
		{
			name: "disabled",
			src:  sourceState{SourceID: "e"},
			want: SkipDisabled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := decideSource(tc.src, 3, tc.force); got != tc.want {
				t.Fatalf("decideSource = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAssessHealth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name           string
		processed      int
		failed         int
		wantSystematic bool
		wantDegraded   bool
	}{
		{name: "all healthy", processed: 4, failed: 0},
		{name: "empty pass", processed: 0, failed: 0},
		{name: "all failed", processed: 3, failed: 3, wantSystematic: true, wantDegraded: true},
		{name: "over half failed", processed: 4, failed: 3, wantDegraded: true},
		{name: "exactly half failed", processed: 4, failed: 2},
		{name: "single source failed", processed: 1, failed: 1, wantSystematic: true, wantDegraded: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			systematic, degraded := assessHealth(tc.processed, tc.failed)
			if systematic != tc.wantSystematic || degraded != tc.wantDegraded {
				t.Fatalf("assessHealth(%d, %d) = (%v, %v), want (%v, %v)",
					tc.processed, tc.failed, systematic, degraded, tc.wantSystematic, tc.wantDegraded)
			}
		})
	}
}
