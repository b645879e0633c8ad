package guard

import (
	"context"
	"testing"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

func snapWithRelation(pair, kind string) *continuity.Snapshot {
	s := continuity.NewSnapshot("p")
	key := continuity.NormalizePair(pair)
	s.Relations[key] = continuity.RelationEntry{Pair: key, Kind: kind, ChangedEp: 1}
	return s
}

func TestRelationGuardRejectsUnauthorizedFlip(t *testing.T) {
	d := &episode.Draft{Number: 3, Relations: []episode.RelationAssertion{
		{Pair: "mira|tomas", Kind: "enemy"},
	}}

	res, err := NewRelationGuard().Evaluate(context.Background(), d, snapWithRelation("mira|tomas", "ally"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Fatal("expected flip without transition to fail")
	}
}

func TestRelationGuardAcceptsAuthorizedFlip(t *testing.T) {
	d := &episode.Draft{
		Number:    3,
		Relations: []episode.RelationAssertion{{Pair: "tomas|mira", Kind: "enemy"}},
		Transitions: []episode.RelationTransition{
			{Pair: "mira|tomas", From: "ally", To: "enemy", Reason: "betrayal at the docks"},
		},
	}

	res, err := NewRelationGuard().Evaluate(context.Background(), d, snapWithRelation("mira|tomas", "ally"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("authorized flip should pass: %s", res.Message)
	}
	if res.Mutations == nil || len(res.Mutations.Transitions) != 1 {
		t.Fatal("transition should be staged for commit")
	}
}

func TestRelationGuardRejectsMismatchedTransition(t *testing.T) {
	d := &episode.Draft{
		Number:    3,
		Relations: []episode.RelationAssertion{{Pair: "mira|tomas", Kind: "lover"}},
		Transitions: []episode.RelationTransition{
			{Pair: "mira|tomas", From: "ally", To: "enemy"},
		},
	}

	res, err := NewRelationGuard().Evaluate(context.Background(), d, snapWithRelation("mira|tomas", "ally"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Fatal("transition target must match the asserted kind")
	}
}

func TestRelationGuardIgnoresUnknownPairs(t *testing.T) {
	d := &episode.Draft{Number: 3, Relations: []episode.RelationAssertion{
		{Pair: "mira|nadia", Kind: "stranger"},
	}}

	res, err := NewRelationGuard().Evaluate(context.Background(), d, snapWithRelation("mira|tomas", "ally"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("uncommitted pairs carry no constraint: %s", res.Message)
	}
}
