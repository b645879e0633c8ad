package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

var dateLayouts = []string{"2006-01-02", "2006/01/02"}

// DateGuard keeps the story-internal date ledger non-decreasing. A draft
// dated before the last committed episode fails; an equal date is fine.
// Drafts without a parseable date pass and stage nothing.
type DateGuard struct{}

func NewDateGuard() *DateGuard { return &DateGuard{} }

func (g *DateGuard) Name() string { return "date" }

func (g *DateGuard) Evaluate(_ context.Context, d *episode.Draft, snap *continuity.Snapshot) (Result, error) {
	if d.Date == "" {
		return pass(g.Name()), nil
	}
	current, ok := parseStoryDate(d.Date)
	if !ok {
		// unparseable dates are not this guard's concern
		return pass(g.Name()), nil
	}

	res := pass(g.Name())
	res.Mutations = &continuity.Mutations{Episode: d.Number, Date: d.Date}

	prev, exists := snap.LastDate()
	if !exists {
		return res, nil
	}
	prevDate, ok := parseStoryDate(prev.Date)
	if !ok {
		return res, nil
	}
	if current.Before(prevDate) {
		days := int(prevDate.Sub(current).Hours() / 24)
		return fail(g.Name(), fmt.Sprintf(
			"episode %d date %s steps back %d day(s) from episode %d date %s",
			d.Number, d.Date, days, prev.Episode, prev.Date)), nil
	}
	return res, nil
}

func parseStoryDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var _ Guard = (*DateGuard)(nil)
