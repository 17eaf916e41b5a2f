package retrieval

import "strings"

// CenterExcerpt bounds text to maxChars runes. When the text exceeds the cap
// and contains a keyword match, the window is centered on the first match so
// truncation never cuts away the sentence the user asked about. Text already
// within the cap comes back unchanged, which makes the operation idempotent.
func CenterExcerpt(text string, keywords []Keyword, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	matchIdx := firstMatchIndex(text, keywords)
	if matchIdx < 0 {
		return strings.TrimSpace(string(runes[:maxChars]))
	}

	// byte offset -> rune offset
	matchRune := len([]rune(text[:matchIdx]))

	start := matchRune - maxChars/2
	if start < 0 {
		start = 0
	}
	if start+maxChars > len(runes) {
		start = len(runes) - maxChars
	}
	return strings.TrimSpace(string(runes[start : start+maxChars]))
}

// firstMatchIndex returns the earliest byte offset of any keyword, or -1.
func firstMatchIndex(text string, keywords []Keyword) int {
	lower := strings.ToLower(text)
	best := -1
	for _, kw := range keywords {
		if idx := strings.Index(lower, kw.Text); idx >= 0 {
			if best < 0 || idx < best {
				best = idx
			}
		}
	}
	return best
}
