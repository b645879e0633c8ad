package guard

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// emotionAxes fixes the vector layout; neutral stays last.
var emotionAxes = []string{"joy", "sadness", "anger", "fear", "surprise", "disgust", "neutral"}

var emotionLexicon = map[string][]string{
	"joy": {
		"happy", "joy", "joyful", "glad", "cheerful", "delighted", "pleased",
		"excited", "thrilled", "elated", "content", "satisfied", "blissful",
		"ecstatic", "euphoric", "jubilant", "merry", "upbeat", "positive",
		"wonderful", "amazing", "fantastic", "great", "excellent", "brilliant",
		"smile", "smiling", "laugh", "laughing", "celebration", "celebrate",
	},
	"sadness": {
		"sad", "sadness", "sorrow", "grief", "melancholy", "depressed",
		"gloomy", "miserable", "dejected", "despondent", "downcast", "blue",
		"heartbroken", "mournful", "somber", "sorrowful", "forlorn", "glum",
		"crying", "cry", "tears", "weep", "weeping", "sob", "sobbing",
		"disappointed", "regret", "loss", "lost", "lonely",
	},
	"anger": {
		"angry", "anger", "mad", "furious", "rage", "enraged", "livid",
		"irate", "wrathful", "outraged", "incensed", "indignant", "hostile",
		"annoyed", "irritated", "frustrated", "aggravated", "infuriated",
		"resentful", "bitter", "hatred", "hate", "loathe", "despise",
		"fight", "fighting", "attack", "violent", "aggressive", "confrontation",
	},
	"fear": {
		"fear", "afraid", "scared", "frightened", "terrified", "horrified",
		"panicked", "anxious", "worried", "nervous", "apprehensive", "uneasy",
		"alarmed", "startled", "petrified", "dread", "dreading", "phobia",
		"paranoid", "timid", "cowardly", "trembling", "shaking", "horror",
		"terror", "nightmare", "threat", "threatening", "danger", "dangerous",
	},
	"surprise": {
		"surprised", "surprise", "amazed", "astonished", "astounded",
		"stunned", "shocked", "startled", "bewildered", "perplexed",
		"confused", "puzzled", "baffled", "flabbergasted", "speechless",
		"unexpected", "sudden", "suddenly", "wow", "whoa", "incredible",
		"unbelievable", "remarkable", "extraordinary", "strange", "odd",
		"curious", "mystery", "mysterious", "wonder", "wondering",
	},
	"disgust": {
		"disgusted", "disgust", "revolted", "repulsed", "nauseated", "sick",
		"sickening", "gross", "nasty", "foul", "vile", "repugnant",
		"loathsome", "abhorrent", "detestable", "offensive", "appalling",
		"horrible", "awful", "terrible", "dreadful", "hideous", "ugly",
		"repulsive", "contempt", "contemptuous", "scorn", "disdain", "revulsion",
	},
	"neutral": {
		"normal", "ordinary", "usual", "typical", "regular", "standard",
		"common", "average", "routine", "everyday", "plain", "simple",
		"calm", "peaceful", "quiet", "still", "steady", "stable",
		"balanced", "neutral", "indifferent", "detached", "objective", "factual",
	},
}

// EmotionSettings tune the transition ceiling.
type EmotionSettings struct {
	// MaxDelta is the largest allowed cosine delta between adjacent
	// segments' emotion vectors. Deltas range 0 (identical) to 2.
	MaxDelta float64
}

// EmotionGuard rejects whiplash mood swings between adjacent segments
// of a draft. Each segment gets a seven-axis emotion vector from a
// keyword lexicon; the cosine delta between consecutive vectors must
// stay under the configured ceiling.
type EmotionGuard struct {
	settings EmotionSettings
}

func NewEmotionGuard(s EmotionSettings) *EmotionGuard {
	if s.MaxDelta <= 0 {
		s.MaxDelta = 0.7
	}
	return &EmotionGuard{settings: s}
}

func (g *EmotionGuard) Name() string { return "emotion" }

func (g *EmotionGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (Result, error) {
	segments := emotionSegments(d.Text)
	if len(segments) < 2 {
		return pass(g.Name()), nil
	}

	worst := 0.0
	worstAt := 0
	for i := 1; i < len(segments); i++ {
		delta := emotionDelta(segments[i-1], segments[i])
		if delta > worst {
			worst = delta
			worstAt = i
		}
	}

	res := pass(g.Name())
	if worst > g.settings.MaxDelta {
		res = fail(g.Name(), fmt.Sprintf(
			"emotion delta %.3f at segment %d exceeds %.2f", worst, worstAt, g.settings.MaxDelta))
	}
	res.Scores = map[string]float64{"max_emotion_delta": worst}
	return res, nil
}

// emotionSegments splits a draft into blank-line paragraphs.
func emotionSegments(text string) []string {
	var segs []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

var emotionOfWord = func() map[string]string {
	m := map[string]string{}
	for axis, words := range emotionLexicon {
		for _, w := range words {
			m[w] = axis
		}
	}
	return m
}()

// classifyEmotions scores a segment 0..1 per axis. Scores scale with
// keyword frequency, capped at 0.8, with a 0.3 neutral floor so single
// strong emotions still produce mixed vectors.
func classifyEmotions(text string) map[string]float64 {
	scores := map[string]float64{}
	for _, axis := range emotionAxes {
		scores[axis] = 0
	}
	words := tokenize(text)
	if len(words) == 0 {
		return scores
	}

	counts := map[string]int{}
	for _, w := range words {
		if axis, ok := emotionOfWord[w]; ok {
			counts[axis]++
		}
	}
	for axis, c := range counts {
		scores[axis] = math.Min(float64(c)/float64(len(words))*5, 0.8)
	}
	scores["neutral"] = math.Max(scores["neutral"], 0.3)

	charged := 0.0
	for _, axis := range emotionAxes[:len(emotionAxes)-1] {
		charged += scores[axis]
	}
	if charged == 0 {
		for _, axis := range emotionAxes {
			scores[axis] = 0
		}
		scores["neutral"] = 1.0
		return scores
	}

	// bleed related axes into each other so vectors stay off the axes
	joy, sad, ang, fr := scores["joy"], scores["sadness"], scores["anger"], scores["fear"]
	scores["surprise"] = math.Min(scores["surprise"]+joy*0.1, 1.0)
	scores["disgust"] = math.Min(scores["disgust"]+ang*0.05, 1.0)
	scores["sadness"] = math.Min(sad+fr*0.1, 1.0)
	scores["fear"] = math.Min(fr+sad*0.1+ang*0.05, 1.0)
	return scores
}

func emotionVector(scores map[string]float64) []float64 {
	v := make([]float64, len(emotionAxes))
	for i, axis := range emotionAxes {
		v[i] = scores[axis]
	}
	return v
}

func cosineDelta(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	sim = math.Max(-1, math.Min(1, sim))
	return 1 - sim
}

// emotionDelta measures the mood jump between two segments. A jump
// between a dominantly neutral segment and a strongly charged one is
// amplified: cosine distance alone understates that transition because
// of the shared neutral floor.
func emotionDelta(prev, curr string) float64 {
	pe := classifyEmotions(prev)
	ce := classifyEmotions(curr)
	delta := cosineDelta(emotionVector(pe), emotionVector(ce))

	prevMax, currMax := 0.0, 0.0
	for _, axis := range emotionAxes[:len(emotionAxes)-1] {
		prevMax = math.Max(prevMax, pe[axis])
		currMax = math.Max(currMax, ce[axis])
	}
	if (pe["neutral"] > 0.8 && currMax > 0.6) || (ce["neutral"] > 0.8 && prevMax > 0.6) {
		if math.Abs(prevMax-currMax) > 0.5 {
			delta = math.Min(delta*1.2, 2.0)
		}
	}
	return delta
}

var _ Guard = (*EmotionGuard)(nil)
