package normalize

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"sentinel/internal/threat"
)

// CIRCLDetailURL is the CIRCL API page for a vulnerability id.
func CIRCLDetailURL(id string) string {
	return "https://cve.circl.lu/api/cve/" + url.PathEscape(id)
}

type jsonObject map[string]json.RawMessage

// CIRCL normalizes one entry of the CIRCL "last" feed. Entries are either CSAF
// advisories wrapped in a "document" envelope or flat CVE objects. The shape
// is chosen by the presence of a non-empty document; fields are then read one
// by one, and a mistyped field falls back to its placeholder.
func CIRCL(raw json.RawMessage) (threat.Record, error) {
	var e jsonObject
	if err := decodeObject(raw, &e); err != nil {
		return threat.Record{}, err
	}
	if doc, ok := asObject(e["document"]); ok && len(doc) > 0 {
		return fromCSAF(doc), nil
	}

	summary := asString(e["summary"])
	rec := threat.Record{
		ID:          asString(e["id"]),
		Title:       summary,
		Description: summary,
		Severity:    asSeverity(e["cvss"]),
	}
	if rec.ID == "" {
		rec.ID = threat.UnknownID
	} else {
		rec.Link = CIRCLDetailURL(rec.ID)
	}
	return rec, nil
}

func fromCSAF(doc jsonObject) threat.Record {
	tracking, _ := asObject(doc["tracking"])
	agg, _ := asObject(doc["aggregate_severity"])
	rec := threat.Record{
		ID:       asString(tracking["id"]),
		Title:    asString(doc["title"]),
		Severity: threat.Label(asString(agg["text"])),
	}
	if rec.ID == "" {
		rec.ID = threat.UnknownID
	}
	for _, n := range asObjects(doc["notes"]) {
		if c := asString(n["category"]); c == "summary" || c == "general" {
			rec.Description = asString(n["text"])
			break
		}
	}
	if refs := asObjects(doc["references"]); len(refs) > 0 {
		rec.Link = asString(refs[0]["url"])
	}
	return rec
}

func asObject(raw json.RawMessage) (jsonObject, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var o jsonObject
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false
	}
	return o, true
}

// asObjects returns the object elements of a JSON array; other elements are dropped.
func asObjects(raw json.RawMessage) []jsonObject {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]jsonObject, 0, len(items))
	for _, it := range items {
		if o, ok := asObject(it); ok {
			out = append(out, o)
		}
	}
	return out
}

// asString reads a string, keeping numeric literals as their text.
func asString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch {
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}

func asSeverity(raw json.RawMessage) threat.Severity {
	var s threat.Severity
	if err := s.UnmarshalJSON(raw); err != nil {
		return threat.Severity{}
	}
	return s
}
