package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// AnchorGuard checks mandatory plot events against their tolerance
// windows. Inside the window [anchor_ep-tol, anchor_ep+tol] (inclusive)
// a sighting is staged and a miss fails the draft, since a retry can
// still land the event. Once the window has fully elapsed without a
// sighting the anchor is permanently marked missed; that is reported as
// a warning rather than a failure because no regeneration of a later
// episode can reopen the window.
type AnchorGuard struct{}

func NewAnchorGuard() *AnchorGuard { return &AnchorGuard{} }

func (g *AnchorGuard) Name() string { return "anchor" }

func (g *AnchorGuard) Evaluate(_ context.Context, d *episode.Draft, snap *continuity.Snapshot) (Result, error) {
	staged := &continuity.Mutations{Episode: d.Number}
	var missing, expired []string

	for _, a := range snap.Anchors {
		if a.FoundEp != nil || a.Missed {
			continue
		}
		keywords := a.Keywords
		if len(keywords) == 0 {
			keywords = extractKeywords(a.Goal)
		}
		switch {
		case a.InWindow(d.Number):
			if phraseObserved(d.Text, keywords) {
				staged.AnchorsFound = append(staged.AnchorsFound, a.ID)
			} else {
				missing = append(missing, fmt.Sprintf(
					"%s (%q, window [%d,%d])", a.ID, a.Goal, a.WindowStart(), a.WindowEnd()))
			}
		case d.Number > a.WindowEnd():
			staged.AnchorsMissed = append(staged.AnchorsMissed, a.ID)
			expired = append(expired, fmt.Sprintf(
				"%s (%q, window closed at ep %d)", a.ID, a.Goal, a.WindowEnd()))
		}
	}

	if len(missing) > 0 {
		res := fail(g.Name(), "anchor events missing in window: "+strings.Join(missing, "; "))
		return res, nil
	}

	res := pass(g.Name())
	if len(expired) > 0 {
		res.Severity = SeverityWarn
		res.Message = "anchors permanently missed: " + strings.Join(expired, "; ")
	}
	if !staged.Empty() {
		res.Mutations = staged
	}
	return res, nil
}

var _ Guard = (*AnchorGuard)(nil)
