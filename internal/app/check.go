package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"sentinel/internal/aggregator"
	"sentinel/internal/config"
	"sentinel/internal/sources"
	"sentinel/internal/threat"
	logx "sentinel/pkg/logx"
)

// ErrCheckFailed is returned by RunCheck when at least one source failed.
var ErrCheckFailed = errors.New("one or more sources failed")

const sampleWidth = 48

// RunCheck fetches every enabled source once, bypassing the cache, and
// writes a status table to w.
func RunCheck(ctx context.Context, cfgPath string, w io.Writer, log logx.Logger) error {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return err
	}
	fetchers, err := sources.Build(cfg.Sources, nil, log)
	if err != nil {
		return err
	}
	opts, err := mapAggregatorOptions(cfg)
	if err != nil {
		return err
	}
	opts.CacheTTL = 0
	agg := aggregator.New(fetchers, opts, log)

	b := agg.Refresh(ctx)
	st := agg.Status()
	if _, err := io.WriteString(w, renderCheckTable(st, b)); err != nil {
		return err
	}
	for _, s := range st {
		if !s.OK() {
			return ErrCheckFailed
		}
	}
	return nil
}

func renderCheckTable(st []aggregator.SourceStatus, b threat.Buckets) string {
	rows := [][]string{{"SOURCE", "STATUS", "ENTRIES", "RECORDS", "SKIPPED", "TOOK", "SAMPLE"}}
	failed := 0
	for _, s := range st {
		status := "✅ ok"
		sample := "-"
		if !s.OK() {
			failed++
			status = "❌ " + runewidth.Truncate(oneLine(s.Err.Error()), sampleWidth, "…")
		} else if recs := b[s.Source]; len(recs) > 0 {
			sample = runewidth.Truncate(oneLine(recs[0].Title), sampleWidth, "…")
			if miss := missingFields(recs[0]); len(miss) > 0 {
				status = "⚠️ missing " + strings.Join(miss, ",")
			}
		} else {
			status = "⚠️ empty"
		}
		rows = append(rows, []string{
			s.Source.Tag(),
			status,
			fmt.Sprint(s.Entries),
			fmt.Sprint(s.Records),
			fmt.Sprint(s.Skipped),
			s.Duration.Round(time.Millisecond).String(),
			sample,
		})
	}

	var sb strings.Builder
	sb.WriteString(alignColumns(rows))
	fmt.Fprintf(&sb, "\n%d/%d sources ok, %d records\n", len(st)-failed, len(st), b.Total())
	return sb.String()
}

// alignColumns pads cells by display width so emoji and wide runes line up.
func alignColumns(rows [][]string) string {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			sb.WriteString(cell)
			if i == len(row)-1 {
				break
			}
			sb.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cell)+2))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// missingFields lists the display fields that fell back to placeholders.
func missingFields(r threat.Record) []string {
	var out []string
	if strings.TrimSpace(r.Title) == "" || r.Title == threat.NoTitle {
		out = append(out, "title")
	}
	if strings.TrimSpace(r.Description) == "" || r.Description == threat.NoDescription {
		out = append(out, "description")
	}
	if strings.TrimSpace(r.Link) == "" {
		out = append(out, "link")
	}
	if strings.TrimSpace(r.Source) == "" {
		out = append(out, "source")
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
