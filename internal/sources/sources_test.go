package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/normalize"
	"sentinel/internal/threat"
	logx "sentinel/pkg/logx"
)

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestNVDFetch(t *testing.T) {
	t.Parallel()
	seen := make(chan [2]string, 1)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- [2]string{r.Header.Get("apiKey"), r.URL.Query().Get("resultsPerPage")}
		_, _ = w.Write([]byte(`{"resultsPerPage":2,"vulnerabilities":[{"cve":{"id":"CVE-1"}},{"cve":{"id":"CVE-2"}}]}`))
	})

	f := NewNVD(NVDOptions{JSONOptions: JSONOptions{URL: srv.URL + "/rest/json/cves/2.0"}, APIKey: "k"})
	if f.Source() != threat.SourceNVD {
		t.Fatalf("source = %s", f.Source())
	}
	p, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("entries = %d", len(p))
	}
	if got := <-seen; got[0] != "k" || got[1] != "5" {
		t.Fatalf("apiKey=%q resultsPerPage=%q", got[0], got[1])
	}
	res := normalize.Default().Normalize(threat.SourceNVD, p)
	if len(res.Records) != 2 || res.Records[1].ID != "CVE-2" {
		t.Fatalf("normalized = %+v", res.Records)
	}
}

func TestJSONFetchErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		h    http.HandlerFunc
		want func(error) bool
	}{
		{
			name: "non-200",
			h:    func(w http.ResponseWriter, r *http.Request) { http.Error(w, "rate limited", http.StatusForbidden) },
			want: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Code == http.StatusForbidden
			},
		},
		{
			name: "malformed json",
			h:    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"vulnerabilities":[`)) },
			want: func(err error) bool { return err != nil },
		},
		{
			name: "not a list",
			h:    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"vulnerabilities":{"a":1}}`)) },
			want: func(err error) bool { return errors.Is(err, ErrNotList) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, tt.h)
			_, err := NewCISA(JSONOptions{URL: srv.URL}).Fetch(context.Background())
			if !tt.want(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCISAMissingKeyIsEmpty(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"title":"catalog"}`)) })
	p, err := NewCISA(JSONOptions{URL: srv.URL}).Fetch(context.Background())
	if err != nil || len(p) != 0 {
		t.Fatalf("p=%v err=%v", p, err)
	}
}

func TestCIRCLUsesBrowserAgentAndBareList(t *testing.T) {
	t.Parallel()
	agents := make(chan string, 1)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`[{"id":"CVE-9","summary":"x"}]`))
	})
	p, err := NewCIRCL(JSONOptions{URL: srv.URL}).Fetch(context.Background())
	if err != nil || len(p) != 1 {
		t.Fatalf("p=%v err=%v", p, err)
	}
	if ua := <-agents; ua != BrowserUserAgent {
		t.Fatalf("user agent = %q", ua)
	}

	obj := serve(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"error":"x"}`)) })
	if _, err := NewCIRCL(JSONOptions{URL: obj.URL}).Fetch(context.Background()); !errors.Is(err, ErrNotList) {
		t.Fatalf("err = %v, want ErrNotList", err)
	}
}

func TestFetchHonorsTimeout(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	start := time.Now()
	_, err := NewCISA(JSONOptions{URL: srv.URL, Timeout: 50 * time.Millisecond}).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied: %v", time.Since(start))
	}
}

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>News</title>
<item><title>One</title><description>first</description><link>https://news.test/1</link></item>
<item><title>Two</title><link>https://news.test/2</link></item>
<item><title>Three</title><description>third</description><link>https://news.test/3</link></item>
</channel></rss>`

func TestRSSFetch(t *testing.T) {
	t.Parallel()
	good := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDoc))
	})
	bad := serve(t, func(w http.ResponseWriter, r *http.Request) { http.Error(w, "gone", http.StatusGone) })

	f := NewRSS(RSSOptions{Feeds: []string{good.URL, bad.URL}, PerFeed: 2}, logx.Nop())
	p, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("entries = %d, want 2", len(p))
	}
	var first normalize.FeedItem
	if err := json.Unmarshal(p[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.Title != "One" || first.Summary != "first" || first.Link != "https://news.test/1" {
		t.Fatalf("first = %+v", first)
	}

	res := normalize.Default().Normalize(threat.SourceRSS, p)
	if res.Records[1].Description != threat.NoDescription {
		t.Fatalf("missing summary not defaulted: %+v", res.Records[1])
	}

	if _, err := NewRSS(RSSOptions{Feeds: []string{bad.URL}}, logx.Nop()).Fetch(context.Background()); err == nil {
		t.Fatal("expected error when every feed fails")
	}
}

const frontPage = `<html><body>
<a class="story-link" href="https://thehackernews.com/2024/01/a.html">
  <div class="home-title">  Patch   now </div><div class="home-desc">desc a</div></a>
<a class="story-link" href="https://ads.test/buy"><div class="home-title">Ad</div></a>
<a class="story-link" href="/2024/01/relative.html"><div class="home-title">Relative</div></a>
<a class="story-link"><div class="home-title">No href</div></a>
<a class="story-link" href="https://thehackernews.com/2024/01/b.html"><div class="home-title">B</div></a>
<a class="story-link" href="https://thehackernews.com/2024/01/c.html"><div class="home-title">C</div></a>
</body></html>`

func TestScraperFetch(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(frontPage))
	})
	f := NewScraper(ScraperOptions{
		URL:          srv.URL,
		LinkContains: "thehackernews.com",
		MaxItems:     2,
		Timeout:      5 * time.Second,
	}, logx.Nop())

	p, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("entries = %d, want 2", len(p))
	}
	var first normalize.ScrapedItem
	if err := json.Unmarshal(p[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.Title != "Patch now" || first.Description != "desc a" {
		t.Fatalf("first = %+v", first)
	}
	var second normalize.ScrapedItem
	_ = json.Unmarshal(p[1], &second)
	if !strings.HasSuffix(second.Link, "/b.html") {
		t.Fatalf("second link = %q", second.Link)
	}
}

func TestScraperResolvesRelativeLinks(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(frontPage))
	})
	f := NewScraper(ScraperOptions{URL: srv.URL, MaxItems: 10}, logx.Nop())
	p, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	res := normalize.Default().Normalize(threat.SourceScraper, p)
	var found bool
	for _, r := range res.Records {
		if r.Title == "Relative" {
			found = strings.HasPrefix(r.Link, srv.URL+"/2024/01/relative.html")
		}
		if r.Title == "No href" {
			t.Fatal("anchor without href was kept")
		}
	}
	if !found {
		t.Fatalf("relative link not resolved: %+v", res.Records)
	}
}

func TestScraperNon200(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusInternalServerError) })
	if _, err := NewScraper(ScraperOptions{URL: srv.URL}, logx.Nop()).Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	fs, err := Build(config.SourcesConfig{}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var got []threat.SourceID
	for _, f := range fs {
		got = append(got, f.Source())
	}
	want := []threat.SourceID{threat.SourceNVD, threat.SourceCIRCL, threat.SourceCISA, threat.SourceRSS, threat.SourceScraper}
	if len(got) != len(want) {
		t.Fatalf("sources = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sources = %v, want %v", got, want)
		}
	}

	off := false
	cfg := config.SourcesConfig{}
	cfg.CIRCL.Enabled = &off
	cfg.Scraper.Enabled = &off
	fs, err = Build(cfg, nil, logx.Nop())
	if err != nil || len(fs) != 3 {
		t.Fatalf("fetchers = %d err = %v", len(fs), err)
	}

	cfg.NVD.Timeout = "fast"
	if _, err := Build(cfg, nil, logx.Nop()); err == nil || !strings.Contains(err.Error(), "sources.nvd.timeout") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
