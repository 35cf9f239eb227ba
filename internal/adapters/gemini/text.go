package gemini

import "strings"

var sentenceBreaks = []string{". ", "! ", "? ", "\n", " - "}

// CollapseWhitespace replaces every run of whitespace with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TrimToMaxChars shortens s to at most maxChars characters, preferring the
// last sentence break inside the limit.
func TrimToMaxChars(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}

	head := string(runes[:maxChars])
	cut := -1
	for _, sep := range sentenceBreaks {
		if idx := strings.LastIndex(head, sep); idx != -1 {
			end := idx + len(strings.TrimSpace(sep))
			if end > cut {
				cut = end
			}
		}
	}
	if cut > 0 {
		return strings.TrimSpace(head[:cut])
	}
	return strings.TrimRight(head, " ")
}
