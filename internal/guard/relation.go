package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// RelationGuard blocks relation flips that arrive without authorization.
// A draft asserting a different kind for a committed pair must carry a
// transition event for that pair in the same episode; incidental
// narrative mention never rewrites the matrix.
type RelationGuard struct{}

func NewRelationGuard() *RelationGuard { return &RelationGuard{} }

func (g *RelationGuard) Name() string { return "relation" }

func (g *RelationGuard) Evaluate(_ context.Context, d *episode.Draft, snap *continuity.Snapshot) (Result, error) {
	authorized := map[string]episode.RelationTransition{}
	for _, t := range d.Transitions {
		authorized[continuity.NormalizePair(t.Pair)] = t
	}

	var violations []string
	for _, rel := range d.Relations {
		key := continuity.NormalizePair(rel.Pair)
		committed, ok := snap.Relation(key)
		if !ok || committed.Kind == rel.Kind {
			continue
		}
		t, has := authorized[key]
		if !has {
			violations = append(violations, fmt.Sprintf(
				"%s flips %s -> %s without a transition event", key, committed.Kind, rel.Kind))
			continue
		}
		if t.To != rel.Kind {
			violations = append(violations, fmt.Sprintf(
				"%s transition authorizes %s -> %s but draft asserts %s", key, t.From, t.To, rel.Kind))
		}
	}

	if len(violations) > 0 {
		return fail(g.Name(), "relation violations: "+strings.Join(violations, "; ")), nil
	}
	res := pass(g.Name())
	if len(d.Transitions) > 0 {
		res.Mutations = &continuity.Mutations{Episode: d.Number, Transitions: d.Transitions}
	}
	return res, nil
}

var _ Guard = (*RelationGuard)(nil)
