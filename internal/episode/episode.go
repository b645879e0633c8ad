package episode

import "time"

// SceneKind classifies a scene for pacing analysis.
type SceneKind string

const (
	SceneAction    SceneKind = "action"
	SceneDialogue  SceneKind = "dialogue"
	SceneMonologue SceneKind = "monologue"
)

// SceneTag marks one scene of a draft with its kind and length.
type SceneTag struct {
	Kind  SceneKind `json:"kind"`
	Words int       `json:"words"`
}

// FactAssertion is one character attribute the draft states as true.
type FactAssertion struct {
	Character string `json:"character"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// RelationAssertion is the relation kind a draft implies for a character pair.
type RelationAssertion struct {
	Pair string `json:"pair"` // canonical "A|B", sorted
	Kind string `json:"kind"` // ally, enemy, lover, stranger, ...
}

// RelationTransition is an explicit, authorized relation change event
// carried by the draft. A relation flip without a matching transition in
// the same episode is a continuity violation.
type RelationTransition struct {
	Pair   string `json:"pair"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ForeshadowIntro declares a new narrative hint planted by this draft.
type ForeshadowIntro struct {
	ID   string `json:"id,omitempty"` // assigned on commit when empty
	Hint string `json:"hint"`
	Due  int    `json:"due,omitempty"` // 0 means default span from config
}

// Draft is one candidate episode handed to the guard chain. It is
// immutable once produced; a retry produces a fresh Draft.
type Draft struct {
	ProjectID   string               `json:"project_id"`
	Number      int                  `json:"number"`
	Text        string               `json:"text"`
	Date        string               `json:"date,omitempty"` // story-internal, YYYY-MM-DD
	Scenes      []SceneTag           `json:"scenes,omitempty"`
	Facts       []FactAssertion      `json:"facts,omitempty"`
	Relations   []RelationAssertion  `json:"relations,omitempty"`
	Transitions []RelationTransition `json:"transitions,omitempty"`
	Foreshadows []ForeshadowIntro    `json:"foreshadows,omitempty"`
	Params      GenerationParams     `json:"params"`
	CreatedAt   time.Time            `json:"created_at"`
}

// GenerationParams are the knobs handed to the external generator. The
// retry controller perturbs Temperature between attempts.
type GenerationParams struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Guidance    string  `json:"guidance,omitempty"` // extra steering appended on retries
}

// Request describes the episode the generator should produce.
type Request struct {
	ProjectID string           `json:"project_id"`
	Number    int              `json:"number"`
	Outline   string           `json:"outline,omitempty"`
	Params    GenerationParams `json:"params"`
}
