package tgui

import "unicode/utf8"

// MaxMessageRunes is Telegram's hard limit for a text message.
const MaxMessageRunes = 4096

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	return TruncRunesWith(s, n, "…")
}

// TruncRunesWith is TruncRunes with a custom ellipsis.
// The ellipsis is not counted against n.
func TruncRunesWith(s string, n int, ellipsis string) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + ellipsis
		}
		count++
	}
	return s
}

// Len counts runes, the unit Telegram measures messages in.
func Len[T ~string](s T) int { return utf8.RuneCountInString(string(s)) }
