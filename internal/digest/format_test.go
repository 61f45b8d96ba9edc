package digest

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"sentinel/internal/threat"
)

func TestFormatEmpty(t *testing.T) {
	t.Parallel()
	for _, in := range [][]threat.Record{nil, {}} {
		got := Format(in, "Daily")
		if len(got) != 1 || got[0] != NoData {
			t.Fatalf("Format(%v) = %q", in, got)
		}
	}
}

func TestFormatSingleRecord(t *testing.T) {
	t.Parallel()
	r := threat.Record{
		Source:      "NVD",
		ID:          "CVE-2024-1",
		Title:       "CVE-2024-1",
		Description: "overflow in <parser> & friends",
		Severity:    threat.Score(9.8),
		Link:        "https://nvd.nist.gov/vuln/detail/CVE-2024-1",
	}
	got := Format([]threat.Record{r}, "Realtime Update")
	if len(got) != 1 {
		t.Fatalf("pages = %d", len(got))
	}
	msg := got[0]
	for _, want := range []string{
		"🔐 <b>Realtime Update</b>\n",
		intro,
		"📌 <b>CVE-2024-1</b>\n",
		"⚠️ CVSS: <b>9.8</b> 🔴",
		"📂 Source: NVD",
		"📝 <i>overflow in &lt;parser&gt; &amp; friends</i>",
		`🔗 <a href="https://nvd.nist.gov/vuln/detail/CVE-2024-1">Read More</a>`,
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing %q in\n%s", want, msg)
		}
	}
	if strings.Contains(msg, " — ") {
		t.Fatalf("title equal to id should not be repeated:\n%s", msg)
	}
	if !strings.HasSuffix(msg, separator) {
		t.Fatalf("message should end with separator:\n%s", msg)
	}
}

func TestFormatHeaderVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rec  threat.Record
		want string
	}{
		{"id and title", threat.Record{ID: "CVE-1", Title: "Bug"}, "📌 <b>CVE-1</b> — Bug\n"},
		{"unknown id", threat.Record{ID: threat.UnknownID, Title: "Advisory"}, "📢 <b>Advisory</b>\n"},
		{"n/a id", threat.Record{ID: "N/A", Title: "x"}, "📢 <b>x</b>\n"},
		{"news", threat.Record{Title: "Breach <b>"}, "📢 <b>Breach &lt;b&gt;</b>\n"},
		{"placeholder title", threat.Record{}, "📢 <b>No Title</b>\n"},
		{"unknown title suppressed", threat.Record{ID: "CVE-2", Title: "Unknown product flaw"}, "📌 <b>CVE-2</b>\n"},
	}
	for _, tt := range tests {
		got := Format([]threat.Record{tt.rec}, "T")[0]
		if !strings.Contains(got, tt.want) {
			t.Fatalf("%s: missing %q in\n%s", tt.name, tt.want, got)
		}
	}
}

func TestFormatSeverityTiers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sev  threat.Severity
		want string
	}{
		{threat.Score(3.9), "⚠️ CVSS: <b>3.9</b> 🟢"},
		{threat.Score(4.0), "⚠️ CVSS: <b>4.0</b> 🟡"},
		{threat.Score(6.99), "⚠️ CVSS: <b>6.99</b> 🟡"},
		{threat.Score(7), "⚠️ CVSS: <b>7.0</b> 🔴"},
		{threat.Score(10), "⚠️ CVSS: <b>10.0</b> 🔴"},
		{threat.Label("Important"), "⚠️ Severity: <b>Important</b>"},
		{threat.Label("CRITICAL"), "⚠️ Severity: <b>CRITICAL</b>"},
	}
	for _, tt := range tests {
		got := Format([]threat.Record{{Title: "x", Severity: tt.sev}}, "T")[0]
		if !strings.Contains(got, tt.want) {
			t.Fatalf("missing %q in\n%s", tt.want, got)
		}
	}
	if got := Format([]threat.Record{{Title: "x"}}, "T")[0]; strings.Contains(got, "⚠️") {
		t.Fatalf("absent severity rendered:\n%s", got)
	}
}

func TestFormatTruncatesDescription(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 500)
	got := Format([]threat.Record{{Title: "x", Description: long}}, "T")[0]
	want := "<i>" + strings.Repeat("a", 300) + "...</i>"
	if !strings.Contains(got, want) {
		t.Fatalf("description not truncated to 300 runes:\n%s", got)
	}
}

func TestFormatOnlyWebLinks(t *testing.T) {
	t.Parallel()
	for _, link := range []string{
		"javascript:alert(1)",
		"example.com/no-scheme",
		"ftp://files.test/x",
		"data:text/html,<script>",
		"https://" + strings.Repeat("x", linkLimit),
	} {
		got := Format([]threat.Record{{Title: "x", Link: link}}, "T")[0]
		if strings.Contains(got, "<a ") || strings.Contains(got, "Read More") {
			t.Fatalf("link %q rendered:\n%s", link, got)
		}
	}
	got := Format([]threat.Record{{Title: "x", Link: "http://ok.test/a?b=1&c=2"}}, "T")[0]
	if !strings.Contains(got, `<a href="http://ok.test/a?b=1&amp;c=2">Read More</a>`) {
		t.Fatalf("http link missing:\n%s", got)
	}
}

func TestFormatPaginatesUnderBudget(t *testing.T) {
	t.Parallel()
	records := make([]threat.Record, 60)
	for i := range records {
		records[i] = threat.Record{
			Source:      "RSS Feed",
			ID:          fmt.Sprintf("CVE-2024-%04d", i),
			Title:       strings.Repeat("T&", 150),
			Description: strings.Repeat("<&>", 2000),
			Severity:    threat.Score(float64(i % 10)),
			Link:        "https://example.test/" + strings.Repeat("p", 200),
		}
	}
	for _, maxLen := range []int{0, 4000, 2000, MinMaxLen, 10, 9000} {
		f := Formatter{MaxLen: maxLen}
		pages := f.Format(records, "Daily Threat Summary")
		if len(pages) < 2 {
			t.Fatalf("maxLen %d: expected several pages, got %d", maxLen, len(pages))
		}
		for i, p := range pages {
			if n := utf8.RuneCountInString(p); n > f.budget() {
				t.Fatalf("maxLen %d: page %d has %d runes > %d", maxLen, i, n, f.budget())
			}
			if i > 0 && !strings.HasPrefix(p, "🔐 <b>Daily Threat Summary (Continued...)</b>") {
				t.Fatalf("page %d lacks continued header:\n%.80s", i, p)
			}
		}
		if !strings.HasPrefix(pages[0], "🔐 <b>Daily Threat Summary</b>\n"+intro) {
			t.Fatalf("first page header wrong:\n%.80s", pages[0])
		}
		blocks := 0
		for _, p := range pages {
			blocks += strings.Count(p, "\n📌 ") + strings.Count(p, "\n📢 ")
		}
		if blocks != len(records) {
			t.Fatalf("maxLen %d: rendered %d blocks, want %d", maxLen, blocks, len(records))
		}
	}
}

func TestFormatKeepsOrder(t *testing.T) {
	t.Parallel()
	records := []threat.Record{{ID: "CVE-A"}, {ID: "CVE-B"}, {ID: "CVE-C"}}
	msg := Format(records, "T")[0]
	a, b, c := strings.Index(msg, "CVE-A"), strings.Index(msg, "CVE-B"), strings.Index(msg, "CVE-C")
	if a < 0 || a >= b || b >= c {
		t.Fatalf("order not preserved:\n%s", msg)
	}
}

func TestFormatDefaultTag(t *testing.T) {
	t.Parallel()
	got := Format([]threat.Record{{Title: "x"}}, "  ")[0]
	if !strings.HasPrefix(got, "🔐 <b>Update</b>") {
		t.Fatalf("default tag missing:\n%.60s", got)
	}
}
