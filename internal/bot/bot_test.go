package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinel/internal/aggregator"
	"sentinel/internal/digest"
	"sentinel/internal/storage"
	"sentinel/internal/threat"
	kit "sentinel/internal/transport"
	logx "sentinel/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
	opts []*kit.SendOptions
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	f.opts = append(f.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

type fakeCollector struct {
	b      threat.Buckets
	status []aggregator.SourceStatus
	calls  int
}

func (f *fakeCollector) Collect(ctx context.Context) threat.Buckets {
	f.calls++
	if f.status == nil {
		f.status = []aggregator.SourceStatus{{Source: threat.SourceCISA, Records: len(f.b[threat.SourceCISA])}}
	}
	return f.b.Clone()
}

func (f *fakeCollector) Status() []aggregator.SourceStatus { return f.status }

func rec(src threat.SourceID, id string, score float64) threat.Record {
	return threat.Record{Source: src.Tag(), ID: id, Title: id, Description: "d", Severity: threat.Score(score)}.WithDefaults()
}

func fixture() threat.Buckets {
	b := threat.Buckets{}
	for i, s := range []float64{5, 9.8, 7.1, 4.0, 10, 6.6} {
		b[threat.SourceNVD] = append(b[threat.SourceNVD], rec(threat.SourceNVD, "CVE-N"+string(rune('a'+i)), s))
	}
	b[threat.SourceCISA] = []threat.Record{{Source: "CISA KEV", ID: "CVE-K", Title: "kev", Description: "x", Severity: threat.Label("CRITICAL")}}
	return b
}

func send(t *testing.T, b *Bot, text string) error {
	t.Helper()
	return b.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, ThreadID: 2, FromID: 7, Text: text}})
}

func newBot(cfg Config, col Collector, store storage.Store) (*Bot, *fakeAdapter) {
	ad := &fakeAdapter{}
	return New(cfg, ad, col, store, logx.Nop()), ad
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		args int
		ok   bool
	}{
		{"/today", "today", 0, true},
		{"/NOW@SentinelBot", "now", 0, true},
		{"  /weekly  extra args ", "weekly", 2, true},
		{"hello /today", "", 0, false},
		{"/", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.in)
		if name != tt.name || len(args) != tt.args || ok != tt.ok {
			t.Fatalf("ParseCommand(%q) = %q %v %v", tt.in, name, args, ok)
		}
	}
}

func TestTodayUsesMergeAndTag(t *testing.T) {
	t.Parallel()
	b, ad := newBot(Config{TodayLimit: 3}, &fakeCollector{b: fixture()}, nil)
	if err := send(t, b, "/today"); err != nil {
		t.Fatal(err)
	}
	if len(ad.sent) != 1 {
		t.Fatalf("pages = %d", len(ad.sent))
	}
	msg := ad.sent[0]
	if !strings.Contains(msg, "Daily Threat Summary") {
		t.Fatalf("missing tag: %s", msg)
	}
	// Exploited first, then the highest NVD scores.
	k, n1 := strings.Index(msg, "CVE-K"), strings.Index(msg, "CVE-Ne")
	if k < 0 || n1 < 0 || k > n1 {
		t.Fatalf("unexpected order:\n%s", msg)
	}
	if strings.Contains(msg, "CVE-Nd") {
		t.Fatalf("limit not applied:\n%s", msg)
	}
	if ad.to[0] != (kit.ChatTarget{ChatID: 10, ThreadID: 2}) || ad.opts[0].ParseMode != "HTML" || !ad.opts[0].DisablePreview {
		t.Fatalf("target/opts = %+v %+v", ad.to[0], ad.opts[0])
	}
}

func TestWeeklyIsTopBySeverity(t *testing.T) {
	t.Parallel()
	b, ad := newBot(Config{}, &fakeCollector{b: fixture()}, nil)
	_ = send(t, b, "/weekly")
	msg := ad.sent[0]
	if !strings.Contains(msg, TagWeekly) {
		t.Fatalf("missing tag: %s", msg)
	}
	first := strings.Index(msg, "CVE-Ne")  // 10.0
	second := strings.Index(msg, "CVE-Nb") // 9.8
	if first < 0 || second < 0 || first > second {
		t.Fatalf("not severity ordered:\n%s", msg)
	}
}

func TestNowEmptyBuckets(t *testing.T) {
	t.Parallel()
	b, ad := newBot(Config{}, &fakeCollector{b: threat.Buckets{}}, nil)
	_ = send(t, b, "/now")
	if len(ad.sent) != 1 || ad.sent[0] != digest.NoData {
		t.Fatalf("sent = %q", ad.sent)
	}
}

func TestStartAndUnknown(t *testing.T) {
	t.Parallel()
	b, ad := newBot(Config{}, &fakeCollector{}, nil)
	_ = send(t, b, "/start")
	_ = send(t, b, "/nope")
	_ = send(t, b, "just chatting")
	if len(ad.sent) != 1 || !strings.Contains(ad.sent[0], "Cyber Threat Sentinel Activated") {
		t.Fatalf("sent = %q", ad.sent)
	}
	if len(b.MenuCommands()) != len(b.cmds) || b.MenuCommands()[0].Command != "start" {
		t.Fatalf("menu = %+v", b.MenuCommands())
	}
}

func TestSourcesCollectsWhenNoStatus(t *testing.T) {
	t.Parallel()
	col := &fakeCollector{b: fixture()}
	b, ad := newBot(Config{}, col, nil)
	_ = send(t, b, "/sources")
	if col.calls != 1 {
		t.Fatalf("collect calls = %d", col.calls)
	}
	if !strings.Contains(ad.sent[0], "CISA KEV: 1") {
		t.Fatalf("sources = %s", ad.sent[0])
	}
}

func TestSourcesText(t *testing.T) {
	t.Parallel()
	txt := SourcesText([]aggregator.SourceStatus{
		{Source: threat.SourceNVD, Records: 5, Skipped: 1},
		{Source: threat.SourceCIRCL, Err: errors.New("503 <html>")},
	})
	for _, want := range []string{"✅ NVD: 5 (1 skipped)", "❌ CIRCL: 0 (503 &lt;html&gt;)", "Total: <b>5</b>"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("missing %q in:\n%s", want, txt)
		}
	}
	if !strings.Contains(SourcesText(nil), "No fetch") {
		t.Fatal("empty status text")
	}
}

func TestSubscribeFlow(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	b, ad := newBot(Config{}, &fakeCollector{}, store)

	_ = send(t, b, "/subscribe")
	_ = send(t, b, "/subscribe")
	subs, _ := store.Subscribers(context.Background())
	if len(subs) != 1 || subs[0].ChatID != 10 || subs[0].ThreadID != 2 {
		t.Fatalf("subs = %+v", subs)
	}
	_ = send(t, b, "/unsubscribe")
	_ = send(t, b, "/unsubscribe")

	want := []string{"Subscribed", "already subscribed", "Unsubscribed", "not subscribed"}
	if len(ad.sent) != len(want) {
		t.Fatalf("replies = %q", ad.sent)
	}
	for i, w := range want {
		if !strings.Contains(ad.sent[i], w) {
			t.Fatalf("reply %d = %q, want %q", i, ad.sent[i], w)
		}
	}
}

func TestSubscribeOwnerOnly(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	b, ad := newBot(Config{Owners: []int64{99}}, &fakeCollector{}, store)
	if err := send(t, b, "/subscribe"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
	subs, _ := store.Subscribers(context.Background())
	if len(subs) != 0 || !strings.Contains(ad.sent[0], "owners") {
		t.Fatalf("subs = %+v sent = %q", subs, ad.sent)
	}

	b.SetOwners([]int64{7})
	if err := send(t, b, "/subscribe"); err != nil {
		t.Fatalf("after SetOwners err = %v", err)
	}
	if subs, _ := store.Subscribers(context.Background()); len(subs) != 1 {
		t.Fatalf("subs = %+v", subs)
	}

	b2, _ := newBot(Config{}, &fakeCollector{}, nil)
	if err := send(t, b2, "/subscribe"); err != nil {
		t.Fatalf("nil store err = %v", err)
	}
}

func TestIDCommand(t *testing.T) {
	t.Parallel()
	b, ad := newBot(Config{}, &fakeCollector{}, nil)
	_ = send(t, b, "/id")
	if !strings.Contains(ad.sent[0], "<code>10</code>") || !strings.Contains(ad.sent[0], "<code>2</code>") {
		t.Fatalf("id reply = %s", ad.sent[0])
	}
}

type panicCollector struct{ fakeCollector }

func (p *panicCollector) Collect(ctx context.Context) threat.Buckets { panic("boom") }

func TestHandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()
	b, _ := newBot(Config{}, &panicCollector{}, nil)
	if err := send(t, b, "/now"); err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v", err)
	}
}

type gatedCollector struct {
	release      chan struct{}
	active, peak atomic.Int32
}

func (g *gatedCollector) Collect(ctx context.Context) threat.Buckets {
	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-g.release
	g.active.Add(-1)
	return fixture()
}

func (g *gatedCollector) Status() []aggregator.SourceStatus { return nil }

func TestRunBoundsInFlightCommands(t *testing.T) {
	t.Parallel()
	col := &gatedCollector{release: make(chan struct{})}
	b, ad := newBot(Config{MaxInFlight: 2}, col, nil)

	updates := make(chan kit.Update, 5)
	for i := 0; i < 5; i++ {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: int64(i + 1), Text: "/now"}}
	}
	close(updates)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), updates)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for col.active.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if p := col.peak.Load(); p != 2 {
		t.Fatalf("peak in flight = %d, want 2", p)
	}

	close(col.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the updates channel closed")
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) != 5 {
		t.Fatalf("replies = %d", len(ad.sent))
	}
}
