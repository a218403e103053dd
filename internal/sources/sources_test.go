package sources

import (
	"encoding/json"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestClassifyPatch(t *testing.T) {
	t.Parallel()

	enabled := true

	cases := []struct {
		name  string
		patch Patch
		want  string
	}{
		{
			name:  "url change is content affecting",
			patch: Patch{URL: strPtr("https://example.org/v2")},
			want:  changeContent,
		},
		{
			name:  "format change is content affecting",
			patch: Patch{Format: strPtr("pdf")},
			want:  changeContent,
		},
		{
			name:  "title change is metadata only",
			patch: Patch{Title: strPtr("New Title")},
			want:  changeMetadata,
		},
		{
			name:  "topic domains change is metadata only",
			patch: Patch{TopicDomains: json.RawMessage(`["eligibility"]`)},
			want:  changeMetadata,
		},
		{
			name:  "authority change is metadata only",
			patch: Patch{AuthorityLevel: strPtr("official")},
			want:  changeMetadata,
		},
		{
			name:  "content wins over metadata",
			patch: Patch{URL: strPtr("https://example.org/v2"), Title: strPtr("New Title")},
			want:  changeContent,
		},
		{
			name:  "enabled toggle touches no chunks",
			patch: Patch{Enabled: &enabled},
			want:  changeNone,
		},
		{
			name:  "priority and description touch no chunks",
			patch: Patch{Priority: strPtr("high"), Description: strPtr("updated")},
			want:  changeNone,
		},
		{
			name:  "empty patch",
			patch: Patch{},
			want:  changeNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := classifyPatch(tc.patch); got != tc.want {
				t.Fatalf("classifyPatch = %q, want %q", got, tc.want)
			}
		})
	}
}
