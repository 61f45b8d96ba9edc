package threat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SeverityKind discriminates the Severity union.
type SeverityKind uint8

const (
	SeverityAbsent SeverityKind = iota
	SeverityNumeric
	SeverityCategorical
)

// Severity is either a numeric score (CVSS, conventionally 0.0-10.0), a short
// categorical label ("CRITICAL", "Important"), or absent. The zero value is absent.
type Severity struct {
	kind  SeverityKind
	score float64
	label string
}

// Score returns a numeric severity.
func Score(v float64) Severity { return Severity{kind: SeverityNumeric, score: v} }

// Label returns a categorical severity. Blank labels are absent.
func Label(s string) Severity {
	s = strings.TrimSpace(s)
	if s == "" {
		return Severity{}
	}
	return Severity{kind: SeverityCategorical, label: s}
}

// ParseSeverity turns free text into a Severity: numeric when it parses as a
// float, categorical otherwise, absent when blank.
func ParseSeverity(s string) Severity {
	s = strings.TrimSpace(s)
	if s == "" {
		return Severity{}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Score(v)
	}
	return Label(s)
}

func (s Severity) Kind() SeverityKind { return s.kind }
func (s Severity) IsAbsent() bool     { return s.kind == SeverityAbsent }

// Score returns the numeric value and whether the severity is numeric.
func (s Severity) Score() (float64, bool) {
	return s.score, s.kind == SeverityNumeric
}

// Label returns the categorical value and whether the severity is categorical.
func (s Severity) Label() (string, bool) {
	return s.label, s.kind == SeverityCategorical
}

// SortKey is the score used for ranking; anything non-numeric ranks as 0.
func (s Severity) SortKey() float64 {
	if s.kind == SeverityNumeric {
		return s.score
	}
	return 0
}

func (s Severity) String() string {
	switch s.kind {
	case SeverityNumeric:
		return FormatScore(s.score)
	case SeverityCategorical:
		return s.label
	default:
		return ""
	}
}

// FormatScore renders a score with at least one decimal ("7.5", "10.0").
func FormatScore(v float64) string {
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(out, ".eE") {
		out += ".0"
	}
	return out
}

func (s Severity) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case SeverityNumeric:
		return json.Marshal(s.score)
	case SeverityCategorical:
		return json.Marshal(s.label)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number, a string (numeric text becomes a score) or null.
func (s *Severity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = Severity{}
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = ParseSeverity(str)
	default:
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("severity: %w", err)
		}
		*s = Score(v)
	}
	return nil
}
