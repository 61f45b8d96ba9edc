// Package normalize converts raw source payloads into threat records.
//
// Every normalizer works on one raw entry at a time. The registry runs them
// over a payload and skips entries that fail to decode, so a malformed entry
// never aborts the batch.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"sentinel/internal/threat"
)

// Payload is a raw fetch result: one JSON value per upstream entry.
type Payload []json.RawMessage

// PayloadOf marshals arbitrary values into a Payload. Values that fail to
// marshal are dropped.
func PayloadOf[T any](items []T) Payload {
	out := make(Payload, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Func maps one raw entry to a record. Returning an error skips the entry.
type Func func(entry json.RawMessage) (threat.Record, error)

// Entry binds a source to its normalizer.
type Entry struct {
	Source threat.SourceID
	Func   Func
}

// Result is the output of a normalization pass.
type Result struct {
	Records []threat.Record
	Skipped int
}

// Registry dispatches payloads to normalizers by source id.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	byID map[threat.SourceID]Func
}

var (
	ErrEmptySource     = errors.New("normalize: empty source id")
	ErrNilFunc         = errors.New("normalize: nil normalizer")
	ErrDuplicateSource = errors.New("normalize: duplicate source id")

	errNotObject = errors.New("normalize: entry is not an object")
)

// NewRegistry validates entries and builds a registry.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{byID: make(map[threat.SourceID]Func, len(entries))}
	for _, e := range entries {
		if e.Source == "" {
			return nil, ErrEmptySource
		}
		if e.Func == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilFunc, e.Source)
		}
		if _, dup := r.byID[e.Source]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, e.Source)
		}
		r.byID[e.Source] = e.Func
	}
	return r, nil
}

// Default returns the registry for every built-in source.
func Default() *Registry {
	r, err := NewRegistry(
		Entry{Source: threat.SourceNVD, Func: NVD},
		Entry{Source: threat.SourceCISA, Func: CISA},
		Entry{Source: threat.SourceCIRCL, Func: CIRCL},
		Entry{Source: threat.SourceRSS, Func: RSS},
		Entry{Source: threat.SourceScraper, Func: Scraper},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Has reports whether a normalizer is registered for id.
func (r *Registry) Has(id threat.SourceID) bool {
	_, ok := r.byID[id]
	return ok
}

// Normalize runs the normalizer for id over every entry of p.
// Unknown ids and empty payloads yield an empty result.
func (r *Registry) Normalize(id threat.SourceID, p Payload) Result {
	fn, ok := r.byID[id]
	if !ok || len(p) == 0 {
		return Result{Records: []threat.Record{}}
	}
	res := Result{Records: make([]threat.Record, 0, len(p))}
	for _, raw := range p {
		rec, err := safeApply(fn, raw)
		if err != nil {
			res.Skipped++
			continue
		}
		rec.Source = id.Tag()
		res.Records = append(res.Records, rec.WithDefaults())
	}
	return res
}

func safeApply(fn Func, raw json.RawMessage) (rec threat.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalize: panic: %v", r)
		}
	}()
	return fn(raw)
}

// decodeObject decodes a JSON object entry. Non-object values are rejected.
func decodeObject(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(raw, v)
}
