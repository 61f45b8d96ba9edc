package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"sentinel/internal/normalize"
	"sentinel/internal/threat"
	logx "sentinel/pkg/logx"
)

// DefaultFeeds are security news feeds polled when none are configured.
var DefaultFeeds = []string{
	"https://feeds.feedburner.com/TheHackersNews",
	"https://www.bleepingcomputer.com/feed/",
	"https://threatpost.com/feed/",
}

const DefaultPerFeed = 3

type RSSOptions struct {
	Feeds     []string
	PerFeed   int
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
}

// RSS reads the newest items of several RSS/Atom feeds.
// A failing feed is skipped; Fetch fails only when every feed fails.
type RSS struct {
	feeds   []string
	perFeed int
	opts    httpOptions
	log     logx.Logger
}

func NewRSS(o RSSOptions, log logx.Logger) *RSS {
	feeds := o.Feeds
	if len(feeds) == 0 {
		feeds = DefaultFeeds
	}
	per := o.PerFeed
	if per <= 0 {
		per = DefaultPerFeed
	}
	return &RSS{
		feeds:   feeds,
		perFeed: per,
		opts:    httpOptions{Client: o.Client, Timeout: o.Timeout, UserAgent: o.UserAgent},
		log:     log.With(logx.String("comp", "sources.rss")),
	}
}

func (r *RSS) Source() threat.SourceID { return threat.SourceRSS }

func (r *RSS) Fetch(ctx context.Context) (normalize.Payload, error) {
	items := make([]normalize.FeedItem, 0, len(r.feeds)*r.perFeed)
	var errs []error
	for _, u := range r.feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := r.fetchFeed(ctx, u)
		if err != nil {
			r.log.Warn("feed fetch failed", logx.String("url", u), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		items = append(items, got...)
	}
	if len(errs) == len(r.feeds) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return normalize.PayloadOf(items), nil
}

func (r *RSS) fetchFeed(ctx context.Context, url string) ([]normalize.FeedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()

	p := gofeed.NewParser()
	p.Client = r.opts.client()
	if r.opts.UserAgent != "" {
		p.UserAgent = r.opts.UserAgent
	}
	feed, err := p.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}

	out := make([]normalize.FeedItem, 0, r.perFeed)
	for _, it := range feed.Items {
		if len(out) >= r.perFeed {
			break
		}
		if it == nil {
			continue
		}
		out = append(out, normalize.FeedItem{
			Title:   strings.TrimSpace(it.Title),
			Summary: strings.TrimSpace(it.Description),
			Link:    strings.TrimSpace(it.Link),
		})
	}
	return out, nil
}
