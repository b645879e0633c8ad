package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// ScheduleSettings tune foreshadow intake.
type ScheduleSettings struct {
	// DefaultSpan is the episodes a new hint gets until due when the
	// draft does not declare one.
	DefaultSpan int
}

// ScheduleGuard enforces foreshadow due-dates. A hint past due without a
// payoff fails the draft unless this very draft supplies the payoff, in
// which case the resolution is staged for commit. Early payoffs are
// staged too, and hints planted by the draft enter the ledger on commit.
type ScheduleGuard struct {
	settings ScheduleSettings
}

func NewScheduleGuard(s ScheduleSettings) *ScheduleGuard {
	if s.DefaultSpan <= 0 {
		s.DefaultSpan = 20
	}
	return &ScheduleGuard{settings: s}
}

func (g *ScheduleGuard) Name() string { return "schedule" }

func (g *ScheduleGuard) Evaluate(_ context.Context, d *episode.Draft, snap *continuity.Snapshot) (Result, error) {
	staged := &continuity.Mutations{Episode: d.Number}

	resolved := map[string]bool{}
	for _, f := range snap.Foreshadows {
		if f.Resolved() {
			continue
		}
		if phraseObserved(d.Text, extractKeywords(f.Hint)) {
			staged.Payoffs = append(staged.Payoffs, f.ID)
			resolved[f.ID] = true
		}
	}

	var overdue []string
	for _, f := range snap.Foreshadows {
		if f.Overdue(d.Number) && !resolved[f.ID] {
			overdue = append(overdue, fmt.Sprintf(
				"%s (%q, introduced ep %d, due ep %d, %d overdue)",
				f.ID, f.Hint, f.IntroducedEp, f.DueEp, d.Number-f.DueEp))
		}
	}
	if len(overdue) > 0 {
		return fail(g.Name(), "unresolved foreshadows past due: "+strings.Join(overdue, "; ")), nil
	}

	for _, intro := range d.Foreshadows {
		rec := continuity.ForeshadowRecord{
			ID:           intro.ID,
			Hint:         intro.Hint,
			IntroducedEp: d.Number,
			DueEp:        intro.Due,
		}
		if rec.ID == "" {
			rec.ID = "f-" + uuid.New().String()[:8]
		}
		if rec.DueEp <= d.Number {
			rec.DueEp = d.Number + g.settings.DefaultSpan
		}
		staged.NewForeshadows = append(staged.NewForeshadows, rec)
	}

	res := pass(g.Name())
	if !staged.Empty() {
		res.Mutations = staged
	}
	return res, nil
}

var _ Guard = (*ScheduleGuard)(nil)
