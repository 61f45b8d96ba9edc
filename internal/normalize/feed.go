package normalize

import (
	"encoding/json"

	"sentinel/internal/threat"
)

// FeedItem is the entry shape produced by the RSS fetcher.
type FeedItem struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Link    string `json:"link"`
}

// ScrapedItem is the entry shape produced by the page scraper.
type ScrapedItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// RSS normalizes one syndication feed item. Severity is always absent.
func RSS(raw json.RawMessage) (threat.Record, error) {
	var it FeedItem
	if err := decodeObject(raw, &it); err != nil {
		return threat.Record{}, err
	}
	return threat.Record{Title: it.Title, Description: it.Summary, Link: it.Link}, nil
}

// Scraper normalizes one scraped article. Severity is always absent.
func Scraper(raw json.RawMessage) (threat.Record, error) {
	var it ScrapedItem
	if err := decodeObject(raw, &it); err != nil {
		return threat.Record{}, err
	}
	return threat.Record{Title: it.Title, Description: it.Description, Link: it.Link}, nil
}
