package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks values that would otherwise fail later at wiring time.
// Defaults are applied by the consumers, so zero values are accepted.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	dur("scheduler.startup_delay", c.Scheduler.StartupDelay)
	dur("http.read_timeout", c.HTTP.ReadTimeout)
	dur("http.write_timeout", c.HTTP.WriteTimeout)
	dur("http.idle_timeout", c.HTTP.IdleTimeout)
	dur("aggregator.fetch_timeout", c.Aggregator.FetchTimeout)
	dur("aggregator.cache_ttl", c.Aggregator.CacheTTL)

	sources := map[string]SourceCommon{
		"nvd":     c.Sources.NVD.SourceCommon,
		"cisa":    c.Sources.CISA,
		"circl":   c.Sources.CIRCL,
		"rss":     c.Sources.RSS.SourceCommon,
		"scraper": c.Sources.Scraper.SourceCommon,
	}
	for name, s := range sources {
		dur("sources."+name+".timeout", s.Timeout)
		if s.URL != "" {
			add(checkURL("sources."+name+".url", s.URL))
		}
	}
	for i, f := range c.Sources.RSS.Feeds {
		add(checkURL(fmt.Sprintf("sources.rss.feeds[%d]", i), f))
	}

	nonNeg := func(path string, v int) {
		if v < 0 {
			add(fmt.Errorf("%s: must be >= 0", path))
		}
	}
	nonNeg("aggregator.per_source_cap", c.Aggregator.PerSourceCap)
	nonNeg("aggregator.concurrency", c.Aggregator.Concurrency)
	nonNeg("digest.max_len", c.Digest.MaxLen)
	nonNeg("digest.today_limit", c.Digest.TodayLimit)
	nonNeg("digest.weekly_limit", c.Digest.WeeklyLimit)
	nonNeg("digest.now_limit", c.Digest.NowLimit)
	nonNeg("digest.auto_limit", c.Digest.AutoLimit)
	nonNeg("sources.rss.per_feed", c.Sources.RSS.PerFeed)
	nonNeg("sources.scraper.max_items", c.Sources.Scraper.MaxItems)

	if n := c.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		nonNeg("notifier.workers", n.Workers)
		nonNeg("notifier.queue_size", n.QueueSize)
	}
	if s := c.Storage; s != nil {
		dur("storage.busy_timeout", s.BusyTimeout)
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}
	return errors.Join(errs...)
}

func checkURL(path, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: invalid http(s) url %q", path, raw)
	}
	return nil
}
