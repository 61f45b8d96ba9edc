package rank

import (
	"fmt"
	"testing"

	"sentinel/internal/threat"
)

func recs(prefix string, n int) []threat.Record {
	out := make([]threat.Record, n)
	for i := range out {
		out[i] = threat.Record{ID: fmt.Sprintf("%s%d", prefix, i+1), Title: "t", Description: "d"}
	}
	return out
}

func ids(rs []threat.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergeBackfillOrder(t *testing.T) {
	t.Parallel()
	b := threat.Buckets{
		threat.SourceCISA: recs("r", 9),
		threat.SourceNVD:  nil,
		threat.SourceRSS:  recs("n", 2),
	}
	got := ids(Merge(b, 9))
	// quota 3: r1-r3, no database, n1-n2, then 4 backfilled from exploited overflow.
	want := []string{"r1", "r2", "r3", "n1", "n2", "r4", "r5", "r6", "r7"}
	if !equal(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
}

func TestMergeQuotaPerCategory(t *testing.T) {
	t.Parallel()
	db := []threat.Record{
		{ID: "low", Severity: threat.Score(2)},
		{ID: "none"},
		{ID: "high", Severity: threat.Score(9.1)},
		{ID: "mid", Severity: threat.Score(5)},
	}
	b := threat.Buckets{
		threat.SourceCISA:    recs("k", 5),
		threat.SourceNVD:     db,
		threat.SourceScraper: recs("s", 5),
	}
	got := ids(Merge(b, 7))
	// quota 2 each, then one backfill from exploited.
	want := []string{"k1", "k2", "high", "mid", "s1", "s2", "k3"}
	if !equal(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
}

func TestMergeBackfillFallsThroughCategories(t *testing.T) {
	t.Parallel()
	b := threat.Buckets{
		threat.SourceCISA:  recs("k", 1),
		threat.SourceCIRCL: recs("c", 4),
		threat.SourceRSS:   recs("n", 4),
	}
	got := ids(Merge(b, 8))
	want := []string{"k1", "c1", "c2", "n1", "n2", "c3", "c4", "n3"}
	if !equal(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
}

func TestMergeNeverExceedsLimit(t *testing.T) {
	t.Parallel()
	b := threat.Buckets{
		threat.SourceCISA:    recs("k", 4),
		threat.SourceNVD:     recs("v", 3),
		threat.SourceCIRCL:   recs("c", 2),
		threat.SourceRSS:     recs("n", 5),
		threat.SourceScraper: recs("s", 1),
	}
	total := b.Total()
	for limit := -1; limit <= total+3; limit++ {
		got := Merge(b, limit)
		want := max(0, min(limit, total))
		if len(got) != want {
			t.Fatalf("limit %d: len = %d, want %d", limit, len(got), want)
		}
	}
}

func TestMergeEmptyBuckets(t *testing.T) {
	t.Parallel()
	if got := Merge(threat.Buckets{}, 10); got == nil || len(got) != 0 {
		t.Fatalf("Merge(empty) = %#v", got)
	}
	if got := Merge(nil, 5); len(got) != 0 {
		t.Fatalf("Merge(nil) = %#v", got)
	}
}

func TestSortBySeverityStable(t *testing.T) {
	t.Parallel()
	in := []threat.Record{
		{ID: "a", Severity: threat.Score(5)},
		{ID: "b", Severity: threat.Label("Important")},
		{ID: "c", Severity: threat.Score(5)},
		{ID: "d"},
		{ID: "e", Severity: threat.Score(0)},
		{ID: "f", Severity: threat.Score(9)},
	}
	got := ids(SortBySeverity(in))
	want := []string{"f", "a", "c", "b", "d", "e"}
	if !equal(got, want) {
		t.Fatalf("SortBySeverity = %v, want %v", got, want)
	}
	if in[0].ID != "a" || in[5].ID != "f" {
		t.Fatal("input was mutated")
	}
}

func TestMergeDoesNotMutateBuckets(t *testing.T) {
	t.Parallel()
	db := []threat.Record{{ID: "x", Severity: threat.Score(1)}, {ID: "y", Severity: threat.Score(8)}}
	Merge(threat.Buckets{threat.SourceNVD: db}, 2)
	if db[0].ID != "x" {
		t.Fatal("database bucket was reordered in place")
	}
}

func TestTop(t *testing.T) {
	t.Parallel()
	b := threat.Buckets{
		threat.SourceCISA:  {{ID: "k1", Severity: threat.Label("CRITICAL")}},
		threat.SourceNVD:   {{ID: "v1", Severity: threat.Score(4)}, {ID: "v2", Severity: threat.Score(9.8)}},
		threat.SourceCIRCL: {{ID: "c1", Severity: threat.Score(7.5)}},
		threat.SourceRSS:   {{ID: "n1"}},
	}
	got := ids(Top(b, 3))
	want := []string{"v2", "c1", "v1"}
	if !equal(got, want) {
		t.Fatalf("Top = %v, want %v", got, want)
	}
	if got := Top(b, 0); len(got) != 0 {
		t.Fatalf("Top(0) = %v", got)
	}
	if got := ids(Top(b, 10)); len(got) != 5 || got[3] != "k1" {
		t.Fatalf("Top(10) = %v", got)
	}
}
