package sources

import (
	"net/http"
	"time"

	"sentinel/internal/config"
	logx "sentinel/pkg/logx"
)

// Build returns a fetcher for every enabled source in cfg, in display order.
func Build(cfg config.SourcesConfig, client *http.Client, log logx.Logger) ([]Fetcher, error) {
	var out []Fetcher

	timeout := func(path, raw string) (time.Duration, error) {
		return config.ParseDurationOrDefault(path, raw, DefaultTimeout)
	}

	if c := cfg.NVD; c.IsEnabled() {
		d, err := timeout("sources.nvd.timeout", c.Timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, NewNVD(NVDOptions{
			JSONOptions:    JSONOptions{URL: c.URL, Client: client, Timeout: d, UserAgent: c.UserAgent},
			APIKey:         c.APIKey,
			ResultsPerPage: c.ResultsPerPage,
		}))
	}
	if c := cfg.CIRCL; c.IsEnabled() {
		d, err := timeout("sources.circl.timeout", c.Timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, NewCIRCL(JSONOptions{URL: c.URL, Client: client, Timeout: d, UserAgent: c.UserAgent}))
	}
	if c := cfg.CISA; c.IsEnabled() {
		d, err := timeout("sources.cisa.timeout", c.Timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, NewCISA(JSONOptions{URL: c.URL, Client: client, Timeout: d, UserAgent: c.UserAgent}))
	}
	if c := cfg.RSS; c.IsEnabled() {
		d, err := timeout("sources.rss.timeout", c.Timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, NewRSS(RSSOptions{
			Feeds:     c.Feeds,
			PerFeed:   c.PerFeed,
			Client:    client,
			Timeout:   d,
			UserAgent: c.UserAgent,
		}, log))
	}
	if c := cfg.Scraper; c.IsEnabled() {
		d, err := timeout("sources.scraper.timeout", c.Timeout)
		if err != nil {
			return nil, err
		}
		linkContains := c.LinkContains
		if linkContains == "" && c.URL == "" {
			linkContains = DefaultLinkContains
		}
		var rt http.RoundTripper
		if client != nil {
			rt = client.Transport
		}
		out = append(out, NewScraper(ScraperOptions{
			URL:           c.URL,
			ItemSelector:  c.ItemSelector,
			TitleSelector: c.TitleSelector,
			DescSelector:  c.DescSelector,
			LinkContains:  linkContains,
			MaxItems:      c.MaxItems,
			RespectRobots: c.RespectRobots,
			Transport:     rt,
			Timeout:       d,
			UserAgent:     c.UserAgent,
		}, log))
	}
	return out, nil
}
