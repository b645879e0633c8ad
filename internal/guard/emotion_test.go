package guard

import (
	"context"
	"testing"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

func evalEmotion(t *testing.T, text string) Result {
	t.Helper()
	d := &episode.Draft{Number: 1, Text: text}
	res, err := NewEmotionGuard(EmotionSettings{}).Evaluate(context.Background(), d, continuity.NewSnapshot("p"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return res
}

func TestEmotionGuardFailsOnMoodWhiplash(t *testing.T) {
	res := evalEmotion(t,
		"The market was calm and quiet, an ordinary morning.\n\n"+
			"He was furious, full of rage and hatred, screaming in anger.")
	if res.Passed {
		t.Fatalf("calm-to-rage jump should fail, delta %v", res.Scores)
	}
	if res.Scores["max_emotion_delta"] <= 0.7 {
		t.Fatalf("delta = %v, want > 0.7", res.Scores)
	}
}

func TestEmotionGuardPassesSteadyMood(t *testing.T) {
	res := evalEmotion(t,
		"The morning was calm and quiet.\n\n"+
			"The afternoon stayed peaceful and still.")
	if !res.Passed {
		t.Fatalf("steady mood should pass: %s", res.Message)
	}
	if res.Scores["max_emotion_delta"] != 0 {
		t.Fatalf("identical moods should score zero delta, got %v", res.Scores)
	}
}

func TestEmotionGuardPassesMildShift(t *testing.T) {
	res := evalEmotion(t,
		"It was an ordinary, quiet evening on the pier.\n\n"+
			"She was pleased with the quiet result of the long day.")
	if !res.Passed {
		t.Fatalf("a mild mood shift stays under the ceiling: %s (%v)", res.Message, res.Scores)
	}
}

func TestEmotionGuardSingleSegmentPasses(t *testing.T) {
	res := evalEmotion(t, "One furious paragraph of rage with nothing to jump from.")
	if !res.Passed {
		t.Fatalf("one segment has no transition to judge: %s", res.Message)
	}
}

func TestEmotionGuardHonorsConfiguredCeiling(t *testing.T) {
	d := &episode.Draft{Number: 1, Text: "The market was calm and quiet, an ordinary morning.\n\n" +
		"He was furious, full of rage and hatred, screaming in anger."}
	res, err := NewEmotionGuard(EmotionSettings{MaxDelta: 1.9}).Evaluate(context.Background(), d, continuity.NewSnapshot("p"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("a loose ceiling admits the same jump: %s", res.Message)
	}
}
