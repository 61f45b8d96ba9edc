package normalize

import (
	"encoding/json"
	"strings"

	"sentinel/internal/threat"
)

// KEVSeverity is stamped on every known-exploited entry: the catalog only
// lists vulnerabilities that are exploited in the wild.
const KEVSeverity = "CRITICAL"

type kevEntry struct {
	CVEID             string `json:"cveID"`
	VulnerabilityName string `json:"vulnerabilityName"`
	ShortDescription  string `json:"shortDescription"`
}

// CISA normalizes one entry of the CISA KEV catalog "vulnerabilities" list.
func CISA(raw json.RawMessage) (threat.Record, error) {
	var e kevEntry
	if err := decodeObject(raw, &e); err != nil {
		return threat.Record{}, err
	}
	rec := threat.Record{
		ID:          strings.TrimSpace(e.CVEID),
		Title:       e.VulnerabilityName,
		Description: e.ShortDescription,
		Severity:    threat.Label(KEVSeverity),
	}
	if rec.ID != "" {
		rec.Link = NVDDetailURL(rec.ID)
	}
	return rec, nil
}
