package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// LexicalSettings bound the prose-diversity metrics.
type LexicalSettings struct {
	MinTTR        float64 // type-token ratio floor
	MaxTrigramDup float64 // 3-gram duplication ceiling
}

// LexicalGuard rejects drafts whose vocabulary collapses: a type-token
// ratio below the floor or a trigram duplication rate above the ceiling.
// Pure function of the draft text.
type LexicalGuard struct {
	settings LexicalSettings
}

func NewLexicalGuard(s LexicalSettings) *LexicalGuard {
	return &LexicalGuard{settings: s}
}

func (g *LexicalGuard) Name() string { return "lexical" }

func (g *LexicalGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (Result, error) {
	ttr := typeTokenRatio(d.Text)
	dup := trigramDuplicationRate(d.Text)

	var problems []string
	if ttr < g.settings.MinTTR {
		problems = append(problems, fmt.Sprintf("type-token ratio %.3f below %.2f", ttr, g.settings.MinTTR))
	}
	if dup > g.settings.MaxTrigramDup {
		problems = append(problems, fmt.Sprintf("trigram duplication %.3f above %.2f", dup, g.settings.MaxTrigramDup))
	}

	res := pass(g.Name())
	res.Scores = map[string]float64{"ttr": ttr, "trigram_dup": dup}
	if len(problems) > 0 {
		res.Passed = false
		res.Message = strings.Join(problems, "; ")
	}
	return res, nil
}

// typeTokenRatio returns unique/total words. Empty text counts as
// perfectly diverse so placeholder drafts don't trip the floor.
func typeTokenRatio(text string) float64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 1.0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

// trigramDuplicationRate returns the share of repeated 3-grams.
func trigramDuplicationRate(text string) float64 {
	words := tokenize(text)
	if len(words) < 3 {
		return 0.0
	}
	total := len(words) - 2
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		seen[words[i]+" "+words[i+1]+" "+words[i+2]] = struct{}{}
	}
	return float64(total-len(seen)) / float64(total)
}

var _ Guard = (*LexicalGuard)(nil)
