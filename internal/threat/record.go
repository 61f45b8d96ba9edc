// Package threat holds the normalized record model shared by every source.
package threat

import (
	"net/url"
	"strings"
)

// Placeholders substituted for missing mandatory fields.
const (
	NoTitle       = "No Title"
	NoDescription = "No description."
	UnknownSource = "Unknown"

	// UnknownID marks a vulnerability entry without an identifier.
	UnknownID = "Unknown"
	// NotAvailableID is the other sentinel the formatter treats as "no id".
	NotAvailableID = "N/A"
)

// Record is one normalized threat, vulnerability or news item.
// Records are values; nothing mutates them after normalization.
type Record struct {
	Source      string   `json:"source"`
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Link        string   `json:"link,omitempty"`
}

// HasID reports whether the record carries a real identifier.
func (r Record) HasID() bool {
	id := strings.TrimSpace(r.ID)
	return id != "" && id != UnknownID && id != NotAvailableID
}

// WithDefaults fills the mandatory fields with placeholders.
func (r Record) WithDefaults() Record {
	r.Source = orDefault(r.Source, UnknownSource)
	r.Title = orDefault(r.Title, NoTitle)
	r.Description = orDefault(r.Description, NoDescription)
	r.ID = strings.TrimSpace(r.ID)
	r.Link = strings.TrimSpace(r.Link)
	return r
}

// IsWebLink reports whether s is an absolute http or https URL.
func IsWebLink(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
