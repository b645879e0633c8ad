package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// ImmutableGuard enforces write-once character facts. Any asserted
// attribute that contradicts the committed value fails; attributes not
// yet on record are staged for commit.
type ImmutableGuard struct{}

func NewImmutableGuard() *ImmutableGuard { return &ImmutableGuard{} }

func (g *ImmutableGuard) Name() string { return "immutable" }

func (g *ImmutableGuard) Evaluate(_ context.Context, d *episode.Draft, snap *continuity.Snapshot) (Result, error) {
	var violations []string
	staged := &continuity.Mutations{Episode: d.Number}

	for _, f := range d.Facts {
		committed, ok := snap.Fact(f.Character, f.Attribute)
		if !ok {
			staged.NewFacts = append(staged.NewFacts, f)
			continue
		}
		if committed != f.Value {
			violations = append(violations,
				fmt.Sprintf("%s.%s: expected %q, got %q", f.Character, f.Attribute, committed, f.Value))
		}
	}

	if len(violations) > 0 {
		return fail(g.Name(), "immutable fact violations: "+strings.Join(violations, "; ")), nil
	}
	res := pass(g.Name())
	if len(staged.NewFacts) > 0 {
		res.Mutations = staged
	}
	return res, nil
}

var _ Guard = (*ImmutableGuard)(nil)
