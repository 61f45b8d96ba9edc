package sources

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"

	"sentinel/internal/normalize"
	"sentinel/internal/threat"
	logx "sentinel/pkg/logx"
)

const (
	DefaultScrapeURL     = "https://thehackernews.com/"
	DefaultItemSelector  = "a.story-link"
	DefaultTitleSelector = ".home-title"
	DefaultDescSelector  = ".home-desc"
	DefaultLinkContains  = "thehackernews.com"
	DefaultMaxItems      = 5
)

type ScraperOptions struct {
	URL           string
	ItemSelector  string
	TitleSelector string
	DescSelector  string
	// LinkContains filters out anchors that leave the site (ads, sponsors).
	LinkContains  string
	MaxItems      int
	RespectRobots bool
	Transport     http.RoundTripper
	Timeout       time.Duration
	UserAgent     string
}

// Scraper extracts article cards from a news front page.
type Scraper struct {
	o   ScraperOptions
	log logx.Logger
}

func NewScraper(o ScraperOptions, log logx.Logger) *Scraper {
	if o.URL == "" {
		o.URL = DefaultScrapeURL
	}
	if o.ItemSelector == "" {
		o.ItemSelector = DefaultItemSelector
	}
	if o.TitleSelector == "" {
		o.TitleSelector = DefaultTitleSelector
	}
	if o.DescSelector == "" {
		o.DescSelector = DefaultDescSelector
	}
	if o.MaxItems <= 0 {
		o.MaxItems = DefaultMaxItems
	}
	if o.UserAgent == "" {
		o.UserAgent = BrowserUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return &Scraper{o: o, log: log.With(logx.String("comp", "sources.scraper"))}
}

func (s *Scraper) Source() threat.SourceID { return threat.SourceScraper }

// Fetch visits the page once. A fresh collector per call keeps runs independent.
func (s *Scraper) Fetch(ctx context.Context) (normalize.Payload, error) {
	timeout := s.o.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	c := colly.NewCollector(colly.UserAgent(s.o.UserAgent))
	c.IgnoreRobotsTxt = !s.o.RespectRobots
	c.SetRequestTimeout(timeout)
	if s.o.Transport != nil {
		c.WithTransport(s.o.Transport)
	}

	items := make([]normalize.ScrapedItem, 0, s.o.MaxItems)
	var scrapeErr error

	c.OnHTML(s.o.ItemSelector, func(e *colly.HTMLElement) {
		if len(items) >= s.o.MaxItems || ctx.Err() != nil {
			return
		}
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			return
		}
		link := e.Request.AbsoluteURL(href)
		if s.o.LinkContains != "" && !strings.Contains(link, s.o.LinkContains) {
			return
		}
		items = append(items, normalize.ScrapedItem{
			Title:       firstText(e.DOM, s.o.TitleSelector),
			Description: firstText(e.DOM, s.o.DescSelector),
			Link:        link,
		})
	})
	c.OnError(func(r *colly.Response, err error) {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			s.log.Info("scrape blocked by robots.txt", logx.String("url", s.o.URL))
		}
		scrapeErr = err
	})

	if err := c.Visit(s.o.URL); err != nil {
		return nil, err
	}
	c.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scrapeErr != nil {
		return nil, scrapeErr
	}
	return normalize.PayloadOf(items), nil
}

func firstText(sel *goquery.Selection, query string) string {
	return strings.Join(strings.Fields(sel.Find(query).First().Text()), " ")
}
