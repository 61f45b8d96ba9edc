// Package digest renders threat records as Telegram HTML messages.
package digest

import (
	"strings"

	"sentinel/internal/threat"
	"sentinel/pkg/tgui"
)

const (
	// DefaultMaxLen keeps a safety margin below Telegram's 4096 limit.
	DefaultMaxLen = 4000
	// MinMaxLen is the smallest budget that still fits a header and one block.
	MinMaxLen = 512

	// NoData is the single message returned for an empty record list.
	NoData = "No data available."

	// DefaultTag labels a digest when the caller gives none.
	DefaultTag = "Update"

	separator = "━━━━━━━━━━━━━━━━━━━━━━"
	intro     = "Latest cybersecurity threats detected:"

	descLimit  = 300
	titleLimit = 200
	idLimit    = 64
	fieldLimit = 64
	tagLimit   = 48
	linkLimit  = 1024
)

// Formatter paginates records into messages of at most MaxLen runes.
// The zero value uses DefaultMaxLen.
type Formatter struct {
	MaxLen int
}

// Format renders records with the default budget.
func Format(records []threat.Record, tag string) []string {
	return Formatter{}.Format(records, tag)
}

func (f Formatter) budget() int {
	switch {
	case f.MaxLen <= 0:
		return DefaultMaxLen
	case f.MaxLen < MinMaxLen:
		return MinMaxLen
	case f.MaxLen > tgui.MaxMessageRunes:
		return tgui.MaxMessageRunes
	default:
		return f.MaxLen
	}
}

// Format renders records under a tag header. Blocks never straddle messages;
// a block that cannot fit an empty message is rendered in a shorter form.
// An empty list yields exactly []string{NoData}.
func (f Formatter) Format(records []threat.Record, tag string) []string {
	if len(records) == 0 {
		return []string{NoData}
	}
	limit := f.budget()

	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = DefaultTag
	}
	tag = tgui.TruncRunes(tag, tagLimit)
	first := string(tgui.Lines("🔐 "+tgui.B(tag), tgui.Raw(intro))) + "\n\n"
	cont := "🔐 " + string(tgui.B(tag+" (Continued...)")) + "\n\n"
	footLen := tgui.Len(separator)

	var (
		pages  []string
		buf    strings.Builder
		used   int
		blocks int
	)
	open := func(header string) {
		buf.Reset()
		buf.WriteString(header)
		used = tgui.Len(header)
		blocks = 0
	}
	flush := func() {
		buf.WriteString(separator)
		pages = append(pages, buf.String())
	}

	open(first)
	for _, r := range records {
		block := renderBlock(r, true)
		if used+tgui.Len(block)+footLen > limit && blocks > 0 {
			flush()
			open(cont)
		}
		if used+tgui.Len(block)+footLen > limit {
			block = shrinkBlock(r, limit-used-footLen)
		}
		if block == "" {
			continue
		}
		buf.WriteString(block)
		used += tgui.Len(block)
		blocks++
	}
	if blocks > 0 || len(pages) == 0 {
		flush()
	}
	return pages
}

// renderBlock renders one record. The short form drops the description and link.
func renderBlock(r threat.Record, full bool) string {
	r = r.WithDefaults()

	var b strings.Builder
	b.WriteString(separator)
	b.WriteByte('\n')

	title := tgui.TruncRunes(r.Title, titleLimit)
	if r.HasID() {
		b.WriteString("📌 ")
		b.WriteString(string(tgui.B(tgui.TruncRunes(r.ID, idLimit))))
		if r.Title != r.ID && !strings.Contains(r.Title, threat.UnknownID) {
			b.WriteString(" — ")
			b.WriteString(string(tgui.Esc(title)))
		}
	} else {
		b.WriteString("📢 ")
		b.WriteString(string(tgui.B(title)))
	}
	b.WriteByte('\n')

	if line := severityLine(r.Severity); line != "" {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("📂 Source: ")
	b.WriteString(string(tgui.Esc(tgui.TruncRunes(r.Source, fieldLimit))))
	b.WriteByte('\n')

	if full {
		desc := tgui.TruncRunesWith(r.Description, descLimit, "...")
		b.WriteString("📝 ")
		b.WriteString(string(tgui.I(desc)))
		b.WriteByte('\n')

		if link := strings.TrimSpace(r.Link); len(link) <= linkLimit && threat.IsWebLink(link) {
			b.WriteString("🔗 ")
			b.WriteString(string(tgui.Link("Read More", link)))
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// shrinkBlock finds a rendering of r that fits in budget runes, or "".
func shrinkBlock(r threat.Record, budget int) string {
	if budget <= 0 {
		return ""
	}
	if s := renderBlock(r, false); tgui.Len(s) <= budget {
		return s
	}
	title := r.WithDefaults().Title
	if r.HasID() {
		title = r.ID
	}
	for n := titleLimit; n > 0; n /= 2 {
		s := separator + "\n📢 " + string(tgui.B(tgui.TruncRunes(title, n))) + "\n\n"
		if tgui.Len(s) <= budget {
			return s
		}
	}
	return ""
}

func severityLine(s threat.Severity) string {
	if v, ok := s.Score(); ok {
		return "⚠️ CVSS: " + string(tgui.B(threat.FormatScore(v))) + " " + scoreEmoji(v)
	}
	if l, ok := s.Label(); ok {
		return "⚠️ Severity: " + string(tgui.B(tgui.TruncRunes(l, fieldLimit)))
	}
	return ""
}

func scoreEmoji(v float64) string {
	switch {
	case v < 4.0:
		return "🟢"
	case v < 7.0:
		return "🟡"
	default:
		return "🔴"
	}
}
