package normalize

import (
	"encoding/json"
	"net/url"
	"strings"

	"sentinel/internal/threat"
)

// NVDDetailURL is the public detail page for a CVE id.
func NVDDetailURL(id string) string {
	return "https://nvd.nist.gov/vuln/detail/" + url.PathEscape(id)
}

// nvdMetricOrder lists CVSS metric buckets, newest standard first.
var nvdMetricOrder = []string{"cvssMetricV40", "cvssMetricV31", "cvssMetricV30", "cvssMetricV2"}

type nvdEntry struct {
	CVE struct {
		ID           string `json:"id"`
		Descriptions []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"descriptions"`
		Metrics map[string][]struct {
			CVSSData struct {
				BaseScore *float64 `json:"baseScore"`
			} `json:"cvssData"`
		} `json:"metrics"`
	} `json:"cve"`
}

// NVD normalizes one entry of the NVD CVE API 2.0 "vulnerabilities" list.
func NVD(raw json.RawMessage) (threat.Record, error) {
	var e nvdEntry
	if err := decodeObject(raw, &e); err != nil {
		return threat.Record{}, err
	}
	c := e.CVE

	rec := threat.Record{ID: strings.TrimSpace(c.ID)}
	if rec.ID == "" {
		rec.ID = threat.UnknownID
	} else {
		rec.Link = NVDDetailURL(rec.ID)
	}
	rec.Title = rec.ID

	// The English entry wins even when blank; the placeholder fills it later.
	english := false
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			rec.Description = d.Value
			english = true
			break
		}
	}
	if !english && len(c.Descriptions) > 0 {
		rec.Description = c.Descriptions[0].Value
	}

	for _, name := range nvdMetricOrder {
		bucket := c.Metrics[name]
		if len(bucket) == 0 {
			continue
		}
		if s := bucket[0].CVSSData.BaseScore; s != nil {
			rec.Severity = threat.Score(*s)
		}
		break
	}
	return rec, nil
}
