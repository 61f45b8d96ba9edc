// Package rank combines per-source buckets into one bounded, prioritized list.
package rank

import (
	"slices"

	"sentinel/internal/threat"
)

// categorize flattens buckets into one list per category. Sources inside a
// category are concatenated in threat.Sources order so the result does not
// depend on map iteration. The database category is stable-sorted by score.
func categorize(b threat.Buckets) map[threat.Category][]threat.Record {
	out := make(map[threat.Category][]threat.Record, len(threat.Categories))
	seen := make(map[threat.SourceID]bool, len(b))
	for _, id := range threat.Sources {
		seen[id] = true
		if recs := b[id]; len(recs) > 0 {
			c := id.Category()
			out[c] = append(out[c], recs...)
		}
	}

	// Sources outside the known list still count as news, in a fixed order.
	var extra []threat.SourceID
	for id := range b {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	for _, id := range extra {
		c := id.Category()
		out[c] = append(out[c], b[id]...)
	}

	if db := out[threat.CategoryDatabase]; len(db) > 0 {
		out[threat.CategoryDatabase] = SortBySeverity(db)
	}
	return out
}

// SortBySeverity returns a copy sorted by numeric severity, highest first.
// Ties and non-numeric severities keep their input order.
func SortBySeverity(recs []threat.Record) []threat.Record {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b threat.Record) int {
		ka, kb := a.Severity.SortKey(), b.Severity.SortKey()
		switch {
		case ka > kb:
			return -1
		case ka < kb:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Merge picks at most limit records: an equal quota from each category in
// precedence order (exploited, database, news), then backfills the remaining
// slots from each category's overflow in the same order.
func Merge(b threat.Buckets, limit int) []threat.Record {
	if limit <= 0 {
		return []threat.Record{}
	}
	cats := categorize(b)
	quota := limit / len(threat.Categories)

	out := make([]threat.Record, 0, limit)
	taken := make(map[threat.Category]int, len(threat.Categories))
	for _, c := range threat.Categories {
		n := min(quota, len(cats[c]))
		out = append(out, cats[c][:n]...)
		taken[c] = n
	}

	for _, c := range threat.Categories {
		if len(out) >= limit {
			break
		}
		rest := cats[c][taken[c]:]
		n := min(limit-len(out), len(rest))
		out = append(out, rest[:n]...)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Top returns the n highest-scored records across every bucket. Records are
// gathered in category precedence order first, so ties favor exploited
// vulnerabilities over database entries over news.
func Top(b threat.Buckets, n int) []threat.Record {
	if n <= 0 {
		return []threat.Record{}
	}
	cats := categorize(b)
	all := make([]threat.Record, 0, b.Total())
	for _, c := range threat.Categories {
		all = append(all, cats[c]...)
	}
	all = SortBySeverity(all)
	if len(all) > n {
		all = all[:n]
	}
	return all
}
