package provider

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	openai_provider "github.com/joon-park/storyforge/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface all LLM implementations must satisfy: it is
// both the draft generator the retry loop calls and the judge the
// critique guard calls.
type Provider interface {
	GenerateEpisode(ctx context.Context, req episode.Request) (*episode.Draft, error)
	Critique(ctx context.Context, text string) (guard.CritiqueScores, error)
}

// Options carry the tuning the config layer resolves for a provider.
type Options struct {
	APIKey      string
	Model       string
	JudgeModel  string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, opts Options) (Provider, error) {
	switch client {
	case OpenAI:
		apiKey := opts.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		model := opts.Model
		if model == "" {
			model = "gpt-4o"
		}
		judgeModel := opts.JudgeModel
		if judgeModel == "" {
			judgeModel = model
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		return openai_provider.NewOpenAIClient(apiKey, model, judgeModel, opts.Temperature, opts.MaxTokens, timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
