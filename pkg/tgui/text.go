package tgui

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is Telegram's text limit per message, in UTF-16 units.
// Counting runes is close enough with the headroom below.
const MaxMessageLen = 4096

// TruncRunes returns s truncated to at most n runes, with "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "…"
		}
		count++
	}
	return s
}

// SplitLines packs lines into chunks of at most limit runes. A single line
// longer than limit is truncated.
func SplitLines(lines []string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen - 96
	}
	var (
		out []string
		cur strings.Builder
		n   int
	)
	for _, ln := range lines {
		ln = TruncRunes(ln, limit)
		ll := utf8.RuneCountInString(ln)
		if n > 0 && n+1+ll > limit {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
		if n > 0 {
			cur.WriteByte('\n')
			n++
		}
		cur.WriteString(ln)
		n += ll
	}
	if n > 0 {
		out = append(out, cur.String())
	}
	return out
}
