package stats

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// RepairText undoes UTF-8 text that was decoded as ISO-8859-1 upstream:
// the runes are mapped back to bytes and re-read as UTF-8. Text that cannot
// be mapped back, or whose bytes are not valid UTF-8, is returned unchanged.
func RepairText(s string) string {
	if s == "" || isASCII(s) {
		return s
	}

	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return s
	}
	if !utf8.ValidString(raw) {
		return s
	}
	return raw
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
