package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sentinel/internal/normalize"
	"sentinel/internal/threat"
)

const (
	DefaultNVDURL   = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	DefaultCISAURL  = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	DefaultCIRCLURL = "https://cve.circl.lu/api/last"

	DefaultNVDResultsPerPage = 5
)

// JSONOptions configures a JSON API fetcher.
type JSONOptions struct {
	URL       string
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
}

// JSONFetcher pulls a list of entries out of a JSON document.
type JSONFetcher struct {
	id   threat.SourceID
	url  string
	key  string
	opts httpOptions
}

func (f *JSONFetcher) Source() threat.SourceID { return f.id }

func (f *JSONFetcher) Fetch(ctx context.Context) (normalize.Payload, error) {
	body, err := getBody(ctx, f.opts, f.url)
	if err != nil {
		return nil, err
	}
	return listField(body, f.key)
}

// NVDOptions adds the NVD specific knobs.
type NVDOptions struct {
	JSONOptions
	APIKey         string
	ResultsPerPage int
}

// NewNVD fetches the latest CVEs from the NVD CVE API 2.0.
func NewNVD(o NVDOptions) *JSONFetcher {
	base := o.URL
	if base == "" {
		base = DefaultNVDURL
	}
	n := o.ResultsPerPage
	if n <= 0 {
		n = DefaultNVDResultsPerPage
	}
	u, err := url.Parse(base)
	if err == nil {
		q := u.Query()
		if q.Get("resultsPerPage") == "" {
			q.Set("resultsPerPage", strconv.Itoa(n))
		}
		u.RawQuery = q.Encode()
		base = u.String()
	}

	h := http.Header{}
	if o.APIKey != "" {
		h.Set("apiKey", o.APIKey)
	}
	return &JSONFetcher{
		id:   threat.SourceNVD,
		url:  base,
		key:  "vulnerabilities",
		opts: httpOptions{Client: o.Client, Timeout: o.Timeout, UserAgent: o.UserAgent, Header: h},
	}
}

// NewCISA fetches the CISA Known Exploited Vulnerabilities catalog.
func NewCISA(o JSONOptions) *JSONFetcher {
	u := o.URL
	if u == "" {
		u = DefaultCISAURL
	}
	return &JSONFetcher{
		id:   threat.SourceCISA,
		url:  u,
		key:  "vulnerabilities",
		opts: httpOptions{Client: o.Client, Timeout: o.Timeout, UserAgent: o.UserAgent},
	}
}

// NewCIRCL fetches the latest entries from CIRCL's vulnerability lookup.
// The endpoint answers with a bare list and rejects non-browser agents.
func NewCIRCL(o JSONOptions) *JSONFetcher {
	u := o.URL
	if u == "" {
		u = DefaultCIRCLURL
	}
	ua := o.UserAgent
	if ua == "" {
		ua = BrowserUserAgent
	}
	return &JSONFetcher{
		id:   threat.SourceCIRCL,
		url:  u,
		opts: httpOptions{Client: o.Client, Timeout: o.Timeout, UserAgent: ua},
	}
}
