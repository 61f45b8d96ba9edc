package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sentinel/internal/aggregator"
	"sentinel/internal/digest"
	"sentinel/internal/threat"
	logx "sentinel/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeCollector struct {
	b  threat.Buckets
	st []aggregator.SourceStatus
}

func (f fakeCollector) Collect(ctx context.Context) threat.Buckets { return f.b.Clone() }
func (f fakeCollector) Status() []aggregator.SourceStatus          { return f.st }

func sample() fakeCollector {
	b := threat.Buckets{
		threat.SourceCISA: {
			{Source: "CISA KEV", ID: "CVE-1", Title: "kev one", Description: "d", Severity: threat.Label("Known Exploited")},
			{Source: "CISA KEV", ID: "CVE-2", Title: "kev two", Description: "d", Severity: threat.Label("Known Exploited")},
		},
		threat.SourceNVD: {
			{Source: "NVD", ID: "CVE-3", Title: "nvd", Description: "d", Severity: threat.Score(9.8)},
		},
		threat.SourceRSS: {},
	}
	return fakeCollector{b: b, st: []aggregator.SourceStatus{
		{Source: threat.SourceCISA, Entries: 2, Records: 2, Duration: 12 * time.Millisecond},
		{Source: threat.SourceRSS, Err: errors.New("feed down")},
	}}
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := get(t, Router(sample(), 0, "secret"), "/healthz", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestFetchNow(t *testing.T) {
	t.Parallel()
	r := Router(sample(), 0, "")

	rec := get(t, r, "/fetch-now", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got fetchNowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 3 || got.Sources["CISA"] != 2 || got.Sources["NVD"] != 1 {
		t.Fatalf("response = %+v", got)
	}
	if n, ok := got.Sources["RSS"]; !ok || n != 0 {
		t.Fatalf("empty source missing from counts: %+v", got.Sources)
	}
	if len(got.Sample) != 3 || got.Sample[0].ID != "CVE-1" {
		t.Fatalf("sample = %+v", got.Sample)
	}

	rec = get(t, r, "/fetch-now?limit=1", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Sample) != 1 {
		t.Fatalf("limited sample = %d", len(got.Sample))
	}
}

func TestBadLimit(t *testing.T) {
	t.Parallel()
	r := Router(sample(), 0, "")
	for _, q := range []string{"abc", "-1", "1.5"} {
		if rec := get(t, r, "/fetch-now?limit="+q, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: status %d", q, rec.Code)
		}
	}
}

func TestDigest(t *testing.T) {
	t.Parallel()
	rec := get(t, Router(sample(), 0, ""), "/digest?tag=Daily", nil)
	var body struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Messages) == 0 || !strings.Contains(body.Messages[0], "Daily") || !strings.Contains(body.Messages[0], "CVE-3") {
		t.Fatalf("messages = %q", body.Messages)
	}

	empty := fakeCollector{b: threat.Buckets{}}
	rec = get(t, Router(empty, 0, ""), "/digest", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Messages) != 1 || body.Messages[0] != digest.NoData {
		t.Fatalf("empty digest = %q", body.Messages)
	}
}

func TestSources(t *testing.T) {
	t.Parallel()
	rec := get(t, Router(sample(), 0, ""), "/sources", nil)
	var body struct {
		Sources []sourceStatus `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sources) != 2 {
		t.Fatalf("sources = %+v", body.Sources)
	}
	if body.Sources[0].Source != "CISA KEV" || body.Sources[0].DurationMS != 12 || body.Sources[0].Error != "" {
		t.Fatalf("first = %+v", body.Sources[0])
	}
	if body.Sources[1].Error != "feed down" {
		t.Fatalf("second = %+v", body.Sources[1])
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	r := Router(sample(), 0, "secret")
	tests := []struct {
		name   string
		target string
		hdr    map[string]string
		want   int
	}{
		{"missing", "/sources", nil, http.StatusUnauthorized},
		{"wrong bearer", "/sources", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/sources", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"query", "/sources?token=secret", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if rec := get(t, r, tt.target, tt.hdr); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, sample(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = s.Addr()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not bind")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("healthz = %d %s", resp.StatusCode, body)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("still serving after disable")
	}
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, sample(), logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)
	if s.Addr() != "" {
		t.Fatal("insecure bind accepted")
	}
}
