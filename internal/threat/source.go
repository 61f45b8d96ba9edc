package threat

import "fmt"

// SourceID identifies an upstream feed. It is the dispatch key for normalizers
// and the key of a Buckets map.
type SourceID string

const (
	SourceNVD     SourceID = "NVD"
	SourceCISA    SourceID = "CISA"
	SourceCIRCL   SourceID = "CIRCL"
	SourceRSS     SourceID = "RSS"
	SourceScraper SourceID = "Scraper"
)

// Sources lists every known source in display order.
var Sources = []SourceID{SourceNVD, SourceCIRCL, SourceCISA, SourceRSS, SourceScraper}

// ParseSourceID validates a configured source name.
func ParseSourceID(s string) (SourceID, error) {
	for _, id := range Sources {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Tag is the human label stamped on records from this source.
func (id SourceID) Tag() string {
	switch id {
	case SourceNVD:
		return "NVD"
	case SourceCISA:
		return "CISA KEV"
	case SourceCIRCL:
		return "CIRCL"
	case SourceRSS:
		return "RSS Feed"
	case SourceScraper:
		return "Web Scraper"
	default:
		return UnknownSource
	}
}

// Category groups sources for ranking. Lower values rank first.
type Category int

const (
	CategoryExploited Category = iota
	CategoryDatabase
	CategoryNews
)

// Categories in fixed precedence order.
var Categories = []Category{CategoryExploited, CategoryDatabase, CategoryNews}

func (c Category) String() string {
	switch c {
	case CategoryExploited:
		return "exploited"
	case CategoryDatabase:
		return "database"
	case CategoryNews:
		return "news"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Category reports which ranking category the source belongs to.
// Unknown sources are treated as news.
func (id SourceID) Category() Category {
	switch id {
	case SourceCISA:
		return CategoryExploited
	case SourceNVD, SourceCIRCL:
		return CategoryDatabase
	default:
		return CategoryNews
	}
}

// Buckets maps each source to the records of its latest fetch.
type Buckets map[SourceID][]Record

// Total counts records across all buckets.
func (b Buckets) Total() int {
	n := 0
	for _, recs := range b {
		n += len(recs)
	}
	return n
}

// Counts returns the per-source record count keyed by source id.
func (b Buckets) Counts() map[string]int {
	out := make(map[string]int, len(b))
	for id, recs := range b {
		out[string(id)] = len(recs)
	}
	return out
}

// Clone copies the map and its slices so callers cannot alias cached data.
func (b Buckets) Clone() Buckets {
	out := make(Buckets, len(b))
	for id, recs := range b {
		out[id] = append([]Record(nil), recs...)
	}
	return out
}
