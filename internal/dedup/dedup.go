// Package dedup clusters near-duplicate text chunks and selects one
// authoritative representative per cluster. It is applied at ingestion time
// (strict threshold) and again when merging retrieval results (looser
// threshold), so the threshold is always caller-supplied.
package dedup

import (
	"sort"
	"strings"
)

const (
	// DefaultThreshold is the ingestion-time similarity cutoff.
	DefaultThreshold = 0.85
)

const (
	AuthorityOfficial      = "official"
	AuthorityGoverningBody = "governing_body"
	AuthorityMedia         = "media"
	AuthorityCommunity     = "community"
	AuthorityUnknown       = "unknown"
)

// authorityOrder is the explicit total ordering of authority levels, most
// authoritative first. Unrecognized levels rank after all known ones.
var authorityOrder = []string{
	AuthorityOfficial,
	AuthorityGoverningBody,
	AuthorityMedia,
	AuthorityCommunity,
	AuthorityUnknown,
}

// Chunk is one scored text span with denormalized source metadata.
type Chunk struct {
	Content        string        `json:"content"`
	Score          float64       `json:"score"`
	SourceID       string        `json:"source_id"`
	DocumentTitle  string        `json:"document_title"`
	AuthorityLevel string        `json:"authority_level"`
	Alternatives   []Alternative `json:"alternative_sources,omitempty"`
}

// Alternative records a near-duplicate cluster member folded into its
// representative.
type Alternative struct {
	SourceID      string  `json:"source_id"`
	DocumentTitle string  `json:"document_title"`
	Score         float64 `json:"score"`
}

// AuthorityRank maps an authority level to its position in the total
// ordering; lower is more authoritative.
func AuthorityRank(level string) int {
	normalized := strings.ToLower(strings.TrimSpace(level))
	for i, known := range authorityOrder {
		if normalized == known {
			return i
		}
	}
	return len(authorityOrder)
}

// Merge clusters chunks whose trigram Jaccard similarity meets the threshold
// (single-link, so similarity is transitive across cluster members), keeps
// the most authoritative member of each cluster, and folds the rest into its
// alternatives. Representatives come back sorted by score descending.
func Merge(chunks []Chunk, threshold float64) []Chunk {
	if len(chunks) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	sets := make([]map[string]struct{}, len(chunks))
	for i, chunk := range chunks {
		sets[i] = TrigramSet(chunk.Content)
	}

	parents := newUnionFind(len(chunks))
	for i := 0; i < len(chunks); i++ {
		for j := i + 1; j < len(chunks); j++ {
			if Jaccard(sets[i], sets[j]) >= threshold {
				parents.union(i, j)
			}
		}
	}

	clusters := make(map[int][]int, len(chunks))
	for i := range chunks {
		root := parents.find(i)
		clusters[root] = append(clusters[root], i)
	}

	merged := make([]Chunk, 0, len(clusters))
	for _, members := range clusters {
		sort.SliceStable(members, func(a, b int) bool {
			left, right := chunks[members[a]], chunks[members[b]]
			leftRank, rightRank := AuthorityRank(left.AuthorityLevel), AuthorityRank(right.AuthorityLevel)
			if leftRank != rightRank {
				return leftRank < rightRank
			}
			return left.Score > right.Score
		})

		representative := chunks[members[0]]
		for _, idx := range members[1:] {
			duplicate := chunks[idx]
			representative.Alternatives = append(representative.Alternatives, Alternative{
				SourceID:      duplicate.SourceID,
				DocumentTitle: duplicate.DocumentTitle,
				Score:         duplicate.Score,
			})
		}
		merged = append(merged, representative)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Score > merged[b].Score
	})
	return merged
}

// Jaccard computes |A∩B| / |A∪B|. Two empty sets have similarity 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for gram := range a {
		if _, ok := b[gram]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TrigramSet shingles normalized text into overlapping 3-character trigrams.
// Text shorter than 3 characters produces an empty set.
func TrigramSet(text string) map[string]struct{} {
	normalized := normalizeText(text)
	runes := []rune(normalized)
	if len(runes) < 3 {
		return nil
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{
		parent: parent,
		rank:   make([]int, n),
	}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	rootA, rootB := u.find(a), u.find(b)
	if rootA == rootB {
		return
	}
	if u.rank[rootA] < u.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	if u.rank[rootA] == u.rank[rootB] {
		u.rank[rootA]++
	}
}
