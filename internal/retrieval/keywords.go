package retrieval

import (
	"regexp"
	"strings"
)

// Keyword is one scoring token extracted from the query. Numeric tokens
// weigh double because version numbers and error codes are the strongest
// signal a user can give.
type Keyword struct {
	Text   string
	Weight int
}

var (
	tokenRe     = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}._-]*`)
	upperAcroRe = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	modelCodeRe = regexp.MustCompile(`\b[A-Za-z]+[-_]?\d[\w.-]*\b`)
	digitRe     = regexp.MustCompile(`\d`)
)

// ExtractKeywords builds the keyword set for a query: tokens of length >= 4,
// tokens containing digits, allow-listed short acronyms, and regex-extracted
// uppercase acronyms and alphanumeric model codes. Deduplicated
// case-insensitively; a token that qualifies both ways keeps the higher
// weight.
func ExtractKeywords(text string, acronymAllowList []string) []Keyword {
	allow := make(map[string]bool, len(acronymAllowList))
	for _, a := range acronymAllowList {
		allow[strings.ToLower(a)] = true
	}

	weights := make(map[string]int)
	order := []string{}
	add := func(tok string, weight int) {
		key := strings.ToLower(tok)
		if len(key) < 2 {
			return
		}
		if w, seen := weights[key]; seen {
			if weight > w {
				weights[key] = weight
			}
			return
		}
		weights[key] = weight
		order = append(order, key)
	}

	for _, tok := range tokenRe.FindAllString(text, -1) {
		hasDigit := digitRe.MatchString(tok)
		switch {
		case hasDigit:
			add(tok, 2)
		case len([]rune(tok)) >= 4:
			add(tok, 1)
		case allow[strings.ToLower(tok)]:
			add(tok, 1)
		}
	}
	for _, tok := range upperAcroRe.FindAllString(text, -1) {
		add(tok, 1)
	}
	for _, tok := range modelCodeRe.FindAllString(text, -1) {
		add(tok, 2)
	}

	out := make([]Keyword, 0, len(order))
	for _, key := range order {
		out = append(out, Keyword{Text: key, Weight: weights[key]})
	}
	return out
}

// ScoreText counts weighted keyword occurrences in a candidate text.
func ScoreText(text string, keywords []Keyword) float64 {
	if text == "" || len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range keywords {
		if n := strings.Count(lower, kw.Text); n > 0 {
			score += n * kw.Weight
		}
	}
	return float64(score)
}

var incidentRe = regexp.MustCompile(`(?i)\b(incident|outage|postmortem|downtime|crash(ed|ing)?|fail(ed|ure|ing)?|error|broken|regression|rollback)\b`)

// LooksIncidentRelated gates the curated incident compendium lookup.
func LooksIncidentRelated(text string) bool {
	return incidentRe.MatchString(text)
}
