package dedup

import "testing"

func TestJaccard_IdenticalSetsIsOne(t *testing.T) {
	t.Parallel()

	set := TrigramSet("athlete eligibility policy")
	if got := Jaccard(set, set); got != 1 {
		t.Fatalf("Jaccard(A, A) = %f, want 1", got)
	}
}

func TestJaccard_EmptySetsIsZero(t *testing.T) {
	t.Parallel()

	if got := Jaccard(nil, nil); got != 0 {
		t.Fatalf("Jaccard(∅, ∅) = %f, want 0", got)
	}
	if got := Jaccard(TrigramSet("ab"), TrigramSet("ab")); got != 0 {
		t.Fatalf("sub-trigram text must yield empty sets, got similarity %f", got)
	}
}

func TestTrigramSet_NormalizesCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	left := TrigramSet("Safe  Sport\tPolicy")
	right := TrigramSet("safe sport policy")
	if got := Jaccard(left, right); got != 1 {
		t.Fatalf("expected normalized texts to be identical, similarity %f", got)
	}
}

func TestMerge_PrefersHigherAuthority(t *testing.T) {
	t.Parallel()

	chunks := []Chunk{
		{
			Content:        "Athletes must complete SafeSport training annually.",
			Score:          0.95,
			SourceID:       "src-community",
			DocumentTitle:  "Forum summary",
			AuthorityLevel: AuthorityCommunity,
		},
		{
			Content:        "Athletes must complete SafeSport training annually.",
			Score:          0.70,
			SourceID:       "src-official",
			DocumentTitle:  "USOPC SafeSport Policy",
			AuthorityLevel: AuthorityOfficial,
		},
	}

	merged := Merge(chunks, 0.85)
	if len(merged) != 1 {
		t.Fatalf("expected one representative, got %d", len(merged))
	}

	rep := merged[0]
	if rep.SourceID != "src-official" {
		t.Fatalf("expected official chunk as representative, got %q", rep.SourceID)
	}
	if rep.Score != 0.70 {
		t.Fatalf("representative must keep its own score, got %f", rep.Score)
	}
	if len(rep.Alternatives) != 1 || rep.Alternatives[0].SourceID != "src-community" {
		t.Fatalf("expected community chunk folded into alternatives, got %+v", rep.Alternatives)
	}
}

func TestMerge_EqualAuthorityBreaksTieOnScore(t *testing.T) {
	t.Parallel()

	chunks := []Chunk{
		{Content: "Team selection criteria for the national roster.", Score: 0.60, SourceID: "a", AuthorityLevel: AuthorityGoverningBody},
		{Content: "Team selection criteria for the national roster.", Score: 0.90, SourceID: "b", AuthorityLevel: AuthorityGoverningBody},
	}

	merged := Merge(chunks, 0.85)
	if len(merged) != 1 {
		t.Fatalf("expected one representative, got %d", len(merged))
	}
	if merged[0].SourceID != "b" {
		t.Fatalf("expected higher-scoring chunk to win the tie, got %q", merged[0].SourceID)
	}
}

func TestMerge_TransitiveClustering(t *testing.T) {
	t.Parallel()

	// A~B and B~C clear the threshold; A~C alone does not. Single-link
	// clustering must still produce one cluster of all three. Sliding
	// 10-char windows over one alphabet give exact pairwise overlaps:
	// adjacent windows share 5 of 11 trigrams (~0.4545), the outer pair
	// only 2 of 14 (~0.143).
	a := "abcdefghij"
	b := "defghijklm"
	c := "ghijklmnop"

	threshold := 0.45
	simAB := Jaccard(TrigramSet(a), TrigramSet(b))
	simBC := Jaccard(TrigramSet(b), TrigramSet(c))
	simAC := Jaccard(TrigramSet(a), TrigramSet(c))
	if simAB < threshold || simBC < threshold {
		t.Fatalf("test fixture broken: simAB=%f simBC=%f below threshold %f", simAB, simBC, threshold)
	}
	if simAC >= threshold {
		t.Fatalf("test fixture broken: simAC=%f should fall short of threshold %f", simAC, threshold)
	}

	merged := Merge([]Chunk{
		{Content: a, Score: 0.5, SourceID: "a", AuthorityLevel: AuthorityMedia},
		{Content: b, Score: 0.6, SourceID: "b", AuthorityLevel: AuthorityMedia},
		{Content: c, Score: 0.7, SourceID: "c", AuthorityLevel: AuthorityMedia},
	}, threshold)

	if len(merged) != 1 {
		t.Fatalf("expected transitive single cluster, got %d representatives", len(merged))
	}
	if len(merged[0].Alternatives) != 2 {
		t.Fatalf("expected two alternatives, got %d", len(merged[0].Alternatives))
	}
}

func TestMerge_SingletonHasNoAlternatives(t *testing.T) {
	t.Parallel()

	merged := Merge([]Chunk{
		{Content: "completely unrelated passage about grant funding", Score: 0.4, SourceID: "x", AuthorityLevel: AuthorityUnknown},
		{Content: "travel reimbursement schedule for national team events", Score: 0.9, SourceID: "y", AuthorityLevel: AuthorityUnknown},
	}, 0.85)

	if len(merged) != 2 {
		t.Fatalf("expected both chunks to survive, got %d", len(merged))
	}
	for _, chunk := range merged {
		if len(chunk.Alternatives) != 0 {
			t.Fatalf("singleton cluster must not carry alternatives: %+v", chunk)
		}
	}
	if merged[0].Score < merged[1].Score {
		t.Fatalf("representatives must be sorted by score descending")
	}
}

func TestAuthorityRank_TotalOrdering(t *testing.T) {
	t.Parallel()

	if AuthorityRank(AuthorityOfficial) >= AuthorityRank(AuthorityGoverningBody) {
		t.Fatalf("official must outrank governing_body")
	}
	if AuthorityRank(AuthorityGoverningBody) >= AuthorityRank(AuthorityMedia) {
		t.Fatalf("governing_body must outrank media")
	}
	if AuthorityRank("something-new") <= AuthorityRank(AuthorityUnknown) {
		t.Fatalf("unrecognized levels must rank after all known levels")
	}
}
