package continuity

import (
	"sort"
	"strings"

	"github.com/joon-park/storyforge/internal/episode"
)

// ForeshadowRecord tracks a planted hint and its resolution schedule.
// PayoffEp is set exactly once, by the commit that resolves the hint.
type ForeshadowRecord struct {
	ID           string `json:"id"`
	Hint         string `json:"hint"`
	IntroducedEp int    `json:"introduced_ep"`
	DueEp        int    `json:"due_ep"`
	PayoffEp     *int   `json:"payoff_ep,omitempty"`
}

// Resolved reports whether the hint has been paid off.
func (f ForeshadowRecord) Resolved() bool { return f.PayoffEp != nil }

// Overdue reports whether the hint is past due and still unresolved.
func (f ForeshadowRecord) Overdue(ep int) bool { return !f.Resolved() && f.DueEp <= ep }

// AnchorRecord is a mandatory plot event with a tolerance window around
// its target episode. FoundEp records the first in-window sighting;
// Missed is set permanently once the window closes without one.
type AnchorRecord struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	Keywords  []string `json:"keywords,omitempty"`
	AnchorEp  int      `json:"anchor_ep"`
	Tolerance int      `json:"tolerance"`
	FoundEp   *int     `json:"found_ep,omitempty"`
	Missed    bool     `json:"missed"`
}

// WindowStart returns the first episode of the inclusive anchor window.
func (a AnchorRecord) WindowStart() int { return a.AnchorEp - a.Tolerance }

// WindowEnd returns the last episode of the inclusive anchor window.
func (a AnchorRecord) WindowEnd() int { return a.AnchorEp + a.Tolerance }

// InWindow reports whether ep falls inside [anchor_ep-tol, anchor_ep+tol].
func (a AnchorRecord) InWindow(ep int) bool {
	return ep >= a.WindowStart() && ep <= a.WindowEnd()
}

// RelationEntry is the committed relation kind for a character pair.
type RelationEntry struct {
	Pair      string `json:"pair"`
	Kind      string `json:"kind"`
	ChangedEp int    `json:"changed_ep"`
}

// DateEntry maps a committed episode to its story-internal date.
type DateEntry struct {
	Episode int    `json:"episode"`
	Date    string `json:"date"`
}

// NormalizePair canonicalizes a character pair key so "B,A" and "A,B"
// address the same matrix entry.
func NormalizePair(pair string) string {
	parts := strings.FieldsFunc(pair, func(r rune) bool { return r == ',' || r == '|' })
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// Snapshot is a read-only view of everything committed for one project.
// Guards receive a Snapshot and must never observe staged state from
// other validation sessions.
type Snapshot struct {
	ProjectID   string                       `json:"project_id"`
	LastEpisode int                          `json:"last_episode"` // 0 when nothing committed
	Foreshadows []ForeshadowRecord           `json:"foreshadows"`
	Anchors     []AnchorRecord               `json:"anchors"`
	Facts       map[string]map[string]string `json:"facts"` // character -> attribute -> value
	Relations   map[string]RelationEntry     `json:"relations"`
	Dates       []DateEntry                  `json:"dates"` // ascending by episode
}

// NewSnapshot returns an empty snapshot for a project.
func NewSnapshot(projectID string) *Snapshot {
	return &Snapshot{
		ProjectID: projectID,
		Facts:     map[string]map[string]string{},
		Relations: map[string]RelationEntry{},
	}
}

// Clone deep-copies the snapshot so staged work cannot leak into it.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		ProjectID:   s.ProjectID,
		LastEpisode: s.LastEpisode,
		Foreshadows: make([]ForeshadowRecord, len(s.Foreshadows)),
		Anchors:     make([]AnchorRecord, len(s.Anchors)),
		Facts:       make(map[string]map[string]string, len(s.Facts)),
		Relations:   make(map[string]RelationEntry, len(s.Relations)),
		Dates:       append([]DateEntry(nil), s.Dates...),
	}
	for i, f := range s.Foreshadows {
		c.Foreshadows[i] = f
		if f.PayoffEp != nil {
			v := *f.PayoffEp
			c.Foreshadows[i].PayoffEp = &v
		}
	}
	for i, a := range s.Anchors {
		c.Anchors[i] = a
		c.Anchors[i].Keywords = append([]string(nil), a.Keywords...)
		if a.FoundEp != nil {
			v := *a.FoundEp
			c.Anchors[i].FoundEp = &v
		}
	}
	for ch, attrs := range s.Facts {
		m := make(map[string]string, len(attrs))
		for k, v := range attrs {
			m[k] = v
		}
		c.Facts[ch] = m
	}
	for k, v := range s.Relations {
		c.Relations[k] = v
	}
	return c
}

// Fact looks up a committed immutable attribute value.
func (s *Snapshot) Fact(character, attribute string) (string, bool) {
	attrs, ok := s.Facts[character]
	if !ok {
		return "", false
	}
	v, ok := attrs[attribute]
	return v, ok
}

// Relation looks up the committed relation for a pair key (any order).
func (s *Snapshot) Relation(pair string) (RelationEntry, bool) {
	e, ok := s.Relations[NormalizePair(pair)]
	return e, ok
}

// LastDate returns the most recent committed date entry, if any.
func (s *Snapshot) LastDate() (DateEntry, bool) {
	if len(s.Dates) == 0 {
		return DateEntry{}, false
	}
	return s.Dates[len(s.Dates)-1], true
}

// Mutations is the staged effect of one accepted episode. It is built
// during validation and applied to committed state only on commit.
type Mutations struct {
	Episode        int                          `json:"episode"`
	Date           string                       `json:"date,omitempty"`
	NewFacts       []episode.FactAssertion      `json:"new_facts,omitempty"`
	Transitions    []episode.RelationTransition `json:"transitions,omitempty"`
	Payoffs        []string                     `json:"payoffs,omitempty"`
	NewForeshadows []ForeshadowRecord           `json:"new_foreshadows,omitempty"`
	AnchorsFound   []string                     `json:"anchors_found,omitempty"`
	AnchorsMissed  []string                     `json:"anchors_missed,omitempty"`
}

// Empty reports whether the mutation set carries no effects beyond the
// episode marker itself.
func (m Mutations) Empty() bool {
	return m.Date == "" && len(m.NewFacts) == 0 && len(m.Transitions) == 0 &&
		len(m.Payoffs) == 0 && len(m.NewForeshadows) == 0 &&
		len(m.AnchorsFound) == 0 && len(m.AnchorsMissed) == 0
}

// MergeFrom folds another staged set into this one. Guards stage their
// own slices; the chain aggregates them per draft.
func (m *Mutations) MergeFrom(other *Mutations) {
	if other == nil {
		return
	}
	if other.Episode != 0 {
		m.Episode = other.Episode
	}
	if other.Date != "" {
		m.Date = other.Date
	}
	m.NewFacts = append(m.NewFacts, other.NewFacts...)
	m.Transitions = append(m.Transitions, other.Transitions...)
	m.Payoffs = append(m.Payoffs, other.Payoffs...)
	m.NewForeshadows = append(m.NewForeshadows, other.NewForeshadows...)
	m.AnchorsFound = append(m.AnchorsFound, other.AnchorsFound...)
	m.AnchorsMissed = append(m.AnchorsMissed, other.AnchorsMissed...)
}

// Apply folds staged mutations into a snapshot in place. Callers are
// expected to hand in a Clone of committed state; stores rely on Apply
// so memory and postgres commits stay semantically identical.
func Apply(s *Snapshot, m Mutations) error {
	if m.Episode <= s.LastEpisode {
		return &CorruptionError{Reason: "commit out of order", Detail: "episode must advance the committed ledger"}
	}
	if m.Date != "" {
		s.Dates = append(s.Dates, DateEntry{Episode: m.Episode, Date: m.Date})
	}
	for _, f := range m.NewFacts {
		attrs, ok := s.Facts[f.Character]
		if !ok {
			attrs = map[string]string{}
			s.Facts[f.Character] = attrs
		}
		if _, exists := attrs[f.Attribute]; !exists {
			attrs[f.Attribute] = f.Value
		}
	}
	for _, t := range m.Transitions {
		key := NormalizePair(t.Pair)
		s.Relations[key] = RelationEntry{Pair: key, Kind: t.To, ChangedEp: m.Episode}
	}
	for _, id := range m.Payoffs {
		for i := range s.Foreshadows {
			if s.Foreshadows[i].ID == id && s.Foreshadows[i].PayoffEp == nil {
				ep := m.Episode
				s.Foreshadows[i].PayoffEp = &ep
			}
		}
	}
	s.Foreshadows = append(s.Foreshadows, m.NewForeshadows...)
	for _, id := range m.AnchorsFound {
		for i := range s.Anchors {
			if s.Anchors[i].ID == id && s.Anchors[i].FoundEp == nil {
				ep := m.Episode
				s.Anchors[i].FoundEp = &ep
			}
		}
	}
	for _, id := range m.AnchorsMissed {
		for i := range s.Anchors {
			if s.Anchors[i].ID == id && s.Anchors[i].FoundEp == nil {
				s.Anchors[i].Missed = true
			}
		}
	}
	s.LastEpisode = m.Episode
	return nil
}

// Seed is the authored story bible loaded before a run.
type Seed struct {
	Anchors     []AnchorRecord          `json:"anchors,omitempty"`
	Facts       []episode.FactAssertion `json:"facts,omitempty"`
	Foreshadows []ForeshadowRecord      `json:"foreshadows,omitempty"`
	Relations   []RelationEntry         `json:"relations,omitempty"`
}
