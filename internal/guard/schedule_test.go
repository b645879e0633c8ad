package guard

import (
	"context"
	"testing"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

func TestScheduleGuardFailsOverdueHint(t *testing.T) {
	snap := continuity.NewSnapshot("p")
	snap.Foreshadows = []continuity.ForeshadowRecord{
		{ID: "f-1", Hint: "the silver locket", IntroducedEp: 1, DueEp: 5},
	}
	d := &episode.Draft{Number: 6, Text: "Nothing about jewelry here."}

	res, err := NewScheduleGuard(ScheduleSettings{}).Evaluate(context.Background(), d, snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Fatal("overdue unresolved hint must fail the draft")
	}
}

func TestScheduleGuardStagesPayoff(t *testing.T) {
	snap := continuity.NewSnapshot("p")
	snap.Foreshadows = []continuity.ForeshadowRecord{
		{ID: "f-1", Hint: "the silver locket", IntroducedEp: 1, DueEp: 5},
	}
	// payoff lands in the very episode the hint comes due
	d := &episode.Draft{Number: 5, Text: "She opened the silver locket at last."}

	res, err := NewScheduleGuard(ScheduleSettings{}).Evaluate(context.Background(), d, snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("resolving draft should pass: %s", res.Message)
	}
	if res.Mutations == nil || len(res.Mutations.Payoffs) != 1 || res.Mutations.Payoffs[0] != "f-1" {
		t.Fatalf("payoff not staged: %+v", res.Mutations)
	}
}

func TestScheduleGuardAllowsEarlyPayoff(t *testing.T) {
	snap := continuity.NewSnapshot("p")
	snap.Foreshadows = []continuity.ForeshadowRecord{
		{ID: "f-1", Hint: "the silver locket", IntroducedEp: 1, DueEp: 10},
	}
	d := &episode.Draft{Number: 3, Text: "The locket slipped from her sleeve."}

	res, err := NewScheduleGuard(ScheduleSettings{}).Evaluate(context.Background(), d, snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed || res.Mutations == nil || len(res.Mutations.Payoffs) != 1 {
		t.Fatalf("early payoff should pass and stage the resolution, got %+v", res)
	}
}

func TestScheduleGuardIgnoresResolvedHints(t *testing.T) {
	paid := 4
	snap := continuity.NewSnapshot("p")
	snap.Foreshadows = []continuity.ForeshadowRecord{
		{ID: "f-1", Hint: "the silver locket", IntroducedEp: 1, DueEp: 5, PayoffEp: &paid},
	}
	d := &episode.Draft{Number: 9, Text: "No lockets anywhere."}

	res, err := NewScheduleGuard(ScheduleSettings{}).Evaluate(context.Background(), d, snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("resolved hints never come due again: %s", res.Message)
	}
}

func TestScheduleGuardStagesNewHints(t *testing.T) {
	d := &episode.Draft{
		Number: 3,
		Text:   "A stranger left a sealed envelope on the counter.",
		Foreshadows: []episode.ForeshadowIntro{
			{Hint: "the sealed envelope"},
			{ID: "f-env2", Hint: "a second envelope", Due: 7},
		},
	}

	res, err := NewScheduleGuard(ScheduleSettings{DefaultSpan: 10}).Evaluate(context.Background(), d, continuity.NewSnapshot("p"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Mutations == nil || len(res.Mutations.NewForeshadows) != 2 {
		t.Fatalf("expected 2 staged hints, got %+v", res.Mutations)
	}
	first := res.Mutations.NewForeshadows[0]
	if first.ID == "" {
		t.Fatal("unnamed hints get generated ids")
	}
	if first.DueEp != 13 {
		t.Fatalf("default span not applied: due %d, want 13", first.DueEp)
	}
	second := res.Mutations.NewForeshadows[1]
	if second.ID != "f-env2" || second.DueEp != 7 {
		t.Fatalf("declared id/due must survive intake: %+v", second)
	}
}
