// Package aggregator runs every source fetcher, normalizes the payloads and
// returns one capped bucket per source.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sentinel/internal/normalize"
	"sentinel/internal/sources"
	"sentinel/internal/threat"
	logx "sentinel/pkg/logx"
)

// Fetcher is one upstream feed.
type Fetcher = sources.Fetcher

const (
	DefaultPerSourceCap = 20
	DefaultFetchTimeout = 15 * time.Second
)

type Options struct {
	// PerSourceCap bounds every bucket (default 20).
	PerSourceCap int
	// FetchTimeout bounds each fetch independently (default 15s).
	FetchTimeout time.Duration
	// CacheTTL reuses the last result for this long. Zero disables caching.
	CacheTTL time.Duration
	// Concurrency caps parallel fetches. Zero means one goroutine per source.
	Concurrency int

	Registry *normalize.Registry
	Now      func() time.Time
}

// SourceStatus describes the latest fetch of one source.
type SourceStatus struct {
	Source   threat.SourceID
	Entries  int
	Records  int
	Skipped  int
	Err      error
	Duration time.Duration
	At       time.Time
}

func (s SourceStatus) OK() bool { return s.Err == nil }

type Aggregator struct {
	fetchers []Fetcher
	opts     Options
	log      logx.Logger

	group singleflight.Group

	mu       sync.RWMutex
	cached   threat.Buckets
	cachedAt time.Time
	status   []SourceStatus
}

func New(fetchers []Fetcher, opts Options, log logx.Logger) *Aggregator {
	if opts.PerSourceCap <= 0 {
		opts.PerSourceCap = DefaultPerSourceCap
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Registry == nil {
		opts.Registry = normalize.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		fetchers: fetchers,
		opts:     opts,
		log:      log.With(logx.String("comp", "aggregator")),
	}
}

// Sources lists the configured source ids in fetch order.
func (a *Aggregator) Sources() []threat.SourceID {
	out := make([]threat.SourceID, 0, len(a.fetchers))
	for _, f := range a.fetchers {
		out = append(out, f.Source())
	}
	return out
}

// Collect returns one bucket per configured source. A failing source yields
// an empty bucket; Collect itself never fails. Concurrent callers share one
// in-flight collection.
func (a *Aggregator) Collect(ctx context.Context) threat.Buckets {
	if b, ok := a.fromCache(); ok {
		return b
	}
	// The shared run outlives any single caller; each fetch is still bounded
	// by FetchTimeout.
	shared := context.WithoutCancel(ctx)
	v, _, _ := a.group.Do("collect", func() (any, error) {
		if b, ok := a.fromCache(); ok {
			return b, nil
		}
		return a.collect(shared), nil
	})
	return v.(threat.Buckets).Clone()
}

// Refresh collects regardless of the cache.
func (a *Aggregator) Refresh(ctx context.Context) threat.Buckets {
	return a.collect(ctx).Clone()
}

// Status returns the per-source result of the latest collection.
func (a *Aggregator) Status() []SourceStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]SourceStatus(nil), a.status...)
}

func (a *Aggregator) fromCache() (threat.Buckets, bool) {
	if a.opts.CacheTTL <= 0 {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.cached == nil || a.opts.Now().Sub(a.cachedAt) >= a.opts.CacheTTL {
		return nil, false
	}
	return a.cached.Clone(), true
}

func (a *Aggregator) collect(ctx context.Context) threat.Buckets {
	start := a.opts.Now()
	results := make([]SourceStatus, len(a.fetchers))
	records := make([][]threat.Record, len(a.fetchers))

	var g errgroup.Group
	if a.opts.Concurrency > 0 {
		g.SetLimit(a.opts.Concurrency)
	}
	for i, f := range a.fetchers {
		g.Go(func() error {
			results[i], records[i] = a.fetchOne(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	out := make(threat.Buckets, len(a.fetchers))
	for i, st := range results {
		out[st.Source] = append(out[st.Source], records[i]...)
	}
	for id, recs := range out {
		if len(recs) > a.opts.PerSourceCap {
			out[id] = recs[:a.opts.PerSourceCap]
		}
	}

	if err := ctx.Err(); err != nil {
		a.log.Warn("collection canceled; result not cached", logx.Err(err))
		return out
	}

	a.mu.Lock()
	a.cached = out
	a.cachedAt = a.opts.Now()
	a.status = results
	a.mu.Unlock()

	a.log.Info("collection finished",
		logx.Int("sources", len(a.fetchers)),
		logx.Int("records", out.Total()),
		logx.Duration("took", a.opts.Now().Sub(start)),
	)
	return out
}

func (a *Aggregator) fetchOne(ctx context.Context, f Fetcher) (st SourceStatus, recs []threat.Record) {
	id := f.Source()
	st = SourceStatus{Source: id, At: a.opts.Now()}
	recs = []threat.Record{}

	defer func() {
		if r := recover(); r != nil {
			st.Err = fmt.Errorf("fetch panic: %v", r)
			recs = []threat.Record{}
			a.log.Error("source panicked", logx.String("source", string(id)), logx.Any("panic", r))
		}
		st.Duration = a.opts.Now().Sub(st.At)
	}()

	fctx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	defer cancel()

	payload, err := f.Fetch(fctx)
	if err != nil {
		st.Err = err
		a.log.Warn("source fetch failed", logx.String("source", string(id)), logx.Err(err))
		return st, recs
	}

	res := a.opts.Registry.Normalize(id, payload)
	st.Entries = len(payload)
	st.Skipped = res.Skipped
	if res.Skipped > 0 {
		a.log.Warn("malformed entries skipped",
			logx.String("source", string(id)),
			logx.Int("skipped", res.Skipped),
			logx.Int("entries", len(payload)),
		)
	}
	recs = res.Records
	if len(recs) > a.opts.PerSourceCap {
		recs = recs[:a.opts.PerSourceCap]
	}
	st.Records = len(recs)
	return st, recs
}
