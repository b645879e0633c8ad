package guard

import "fmt"

// Settings collects every guard's thresholds. Zero values fall back to
// the defaults the evaluators apply themselves.
type Settings struct {
	Lexical  LexicalSettings
	Emotion  EmotionSettings
	Pacing   PacingSettings
	Rule     RuleSettings
	Schedule ScheduleSettings
	Critique CritiqueSettings
}

// DefaultOrder is the evaluation order used when config leaves the
// chain unset: cheap deterministic guards first, the judged guard last.
var DefaultOrder = []string{
	"lexical", "emotion", "pacing", "immutable", "date", "relation", "rule", "schedule", "anchor", "critique",
}

// DefaultSettings mirror the thresholds the engine shipped with.
func DefaultSettings() Settings {
	return Settings{
		Lexical:  LexicalSettings{MinTTR: 0.17, MaxTrigramDup: 0.06},
		Emotion:  EmotionSettings{MaxDelta: 0.7},
		Pacing:   PacingSettings{Targets: DefaultPacingTargets(), MaxDeviation: 0.25},
		Schedule: ScheduleSettings{DefaultSpan: 20},
		Critique: CritiqueSettings{MinScore: 7.0},
	}
}

// Build assembles the enabled guards in the exact order given. Order is
// part of the chain contract: stop-on-fail short-circuiting must be
// reproducible for identical inputs.
func Build(order []string, settings Settings, judge Judge) ([]Guard, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	guards := make([]Guard, 0, len(order))
	for _, name := range order {
		g, err := construct(name, settings, judge)
		if err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}
	return guards, nil
}

func construct(name string, s Settings, judge Judge) (Guard, error) {
	switch name {
	case "lexical":
		return NewLexicalGuard(s.Lexical), nil
	case "emotion":
		return NewEmotionGuard(s.Emotion), nil
	case "pacing":
		return NewPacingGuard(s.Pacing), nil
	case "immutable":
		return NewImmutableGuard(), nil
	case "date":
		return NewDateGuard(), nil
	case "relation":
		return NewRelationGuard(), nil
	case "rule":
		return NewRuleGuard(s.Rule)
	case "schedule":
		return NewScheduleGuard(s.Schedule), nil
	case "anchor":
		return NewAnchorGuard(), nil
	case "critique":
		return NewCritiqueGuard(judge, s.Critique), nil
	default:
		return nil, fmt.Errorf("unknown guard %q", name)
	}
}
