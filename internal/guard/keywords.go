package guard

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// stopwords are function words that carry no narrative content and must
// never count as a sighting of a goal or hint on their own.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {},
	"that": {}, "this": {}, "these": {}, "those": {}, "was": {}, "were": {},
	"are": {}, "has": {}, "had": {}, "have": {}, "his": {}, "her": {},
	"its": {}, "their": {}, "she": {}, "him": {}, "they": {}, "them": {},
	"you": {}, "not": {}, "but": {}, "out": {}, "over": {}, "under": {},
	"about": {}, "after": {}, "before": {}, "then": {}, "than": {},
	"will": {}, "would": {}, "could": {}, "can": {}, "all": {}, "any": {},
	"one": {}, "who": {}, "what": {}, "when": {}, "where": {}, "which": {},
}

// extractKeywords derives search terms from an authored goal or hint:
// lowercased content words of three or more runes, stopwords removed.
// When nothing qualifies the whole phrase is the single keyword, so
// short goals still match.
func extractKeywords(phrase string) []string {
	var kws []string
	for _, w := range tokenize(phrase) {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		kws = append(kws, w)
	}
	if len(kws) == 0 {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p != "" {
			kws = append(kws, p)
		}
	}
	return kws
}

// phraseObserved reports whether the text attests the phrase behind the
// keywords: at least half of them (rounded up) must appear as whole
// tokens. A multi-word keyword, the whole-phrase fallback, matches as a
// case-insensitive substring instead.
func phraseObserved(text string, keywords []string) bool {
	if text == "" || len(keywords) == 0 {
		return false
	}
	tokens := map[string]struct{}{}
	for _, w := range tokenize(text) {
		tokens[w] = struct{}{}
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(lower, kw) {
				matched++
			}
			continue
		}
		if _, ok := tokens[kw]; ok {
			matched++
		}
	}
	return matched*2 >= len(keywords)
}
