package chunkstore

import (
	"strings"
	"testing"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	query, args := buildQuery(Filter{
		Terms:       []string{"whereabouts", "testing"},
		TopicDomain: "anti-doping",
		NGBID:       "usa-swimming",
		Limit:       10,
	})

	if !strings.Contains(query, "content ILIKE $1") || !strings.Contains(query, "content ILIKE $2") {
		t.Fatalf("term conditions missing: %s", query)
	}
	if !strings.Contains(query, "topic_domains @> $3::jsonb") {
		t.Fatalf("topic condition missing: %s", query)
	}
	if !strings.Contains(query, "metadata->>'ngbId' = $4") {
		t.Fatalf("ngb condition missing: %s", query)
	}
	if !strings.Contains(query, "LIMIT $5") {
		t.Fatalf("limit missing: %s", query)
	}
	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}
	if args[0] != "%whereabouts%" {
		t.Fatalf("term arg = %v", args[0])
	}
	if args[2] != `["anti-doping"]` {
		t.Fatalf("topic arg = %v", args[2])
	}
	if args[4] != 10 {
		t.Fatalf("limit arg = %v", args[4])
	}
}

func TestBuildQueryDefaults(t *testing.T) {
	t.Parallel()

	query, args := buildQuery(Filter{Terms: []string{"  "}})
	if strings.Contains(query, "WHERE") {
		t.Fatalf("blank term produced a condition: %s", query)
	}
	if len(args) != 1 || args[0] != 50 {
		t.Fatalf("default limit args = %v", args)
	}
}
