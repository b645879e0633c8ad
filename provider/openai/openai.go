package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
)

// client implements the provider interface using OpenAI's API
type client struct {
	apiKey      string
	draftModel  string
	judgeModel  string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, draftModel, judgeModel string, temperature float64, maxTokens int, timeout time.Duration) *client {
	return &client{
		apiKey:      apiKey,
		draftModel:  draftModel,
		judgeModel:  judgeModel,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GenerateEpisode asks the model for one draft episode as structured JSON.
func (c *client) GenerateEpisode(ctx context.Context, req episode.Request) (*episode.Draft, error) {
	systemPrompt := `
You are an episode writer for a serialized fiction project. You produce one
complete episode draft per request, together with the structured metadata the
continuity system needs.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "text": "the full prose of the episode",
  "date": "YYYY-MM-DD story-internal date, or empty string",
  "scenes": [{"kind": "action|dialogue|monologue", "words": 0}],
  "facts": [{"character": "name", "attribute": "attr", "value": "value"}],
  "relations": [{"pair": "A|B", "kind": "ally|enemy|lover|stranger"}],
  "transitions": [{"pair": "A|B", "from": "old", "to": "new", "reason": "why"}],
  "foreshadows": [{"hint": "the planted hint", "due": 0}]
}
Do not include any other text or explanation.
`
	userPrompt := fmt.Sprintf(`
PROJECT: %q
EPISODE NUMBER: %d

OUTLINE:
%s

ADDITIONAL GUIDANCE:
%s
`, req.ProjectID, req.Number, req.Outline, req.Params.Guidance)

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	model := req.Params.Model
	if model == "" {
		model = c.draftModel
	}
	temperature := req.Params.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	responseStr, err := c.sendRequest(ctx, model, temperature, maxTokens, messages)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Text        string                       `json:"text"`
		Date        string                       `json:"date"`
		Scenes      []episode.SceneTag           `json:"scenes"`
		Facts       []episode.FactAssertion      `json:"facts"`
		Relations   []episode.RelationAssertion  `json:"relations"`
		Transitions []episode.RelationTransition `json:"transitions"`
		Foreshadows []episode.ForeshadowIntro    `json:"foreshadows"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(responseStr)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse draft: %w", err)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return nil, fmt.Errorf("model returned an empty draft")
	}

	return &episode.Draft{
		ProjectID:   req.ProjectID,
		Number:      req.Number,
		Text:        payload.Text,
		Date:        payload.Date,
		Scenes:      payload.Scenes,
		Facts:       payload.Facts,
		Relations:   payload.Relations,
		Transitions: payload.Transitions,
		Foreshadows: payload.Foreshadows,
		Params:      req.Params,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Critique asks the judge model to score a draft on the fun and logic axes.
func (c *client) Critique(ctx context.Context, text string) (guard.CritiqueScores, error) {
	systemPrompt := `
You are a strict fiction editor. Score the episode you are given on two
independent axes, each from 1 to 10:
- "fun": how engaging the episode is to read
- "logic": how internally consistent and causally sound it is

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{"fun": 0.0, "logic": 0.0, "comment": "one sentence on the weakest aspect"}
Do not include any other text or explanation.
`
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}

	responseStr, err := c.sendRequest(ctx, c.judgeModel, 0.0, c.maxTokens, messages)
	if err != nil {
		return guard.CritiqueScores{}, err
	}

	var scores guard.CritiqueScores
	if err := json.Unmarshal([]byte(stripCodeFence(responseStr)), &scores); err != nil {
		return guard.CritiqueScores{}, fmt.Errorf("failed to parse critique: %w", err)
	}
	return scores, nil
}

// sendRequest sends a request to the OpenAI API
func (c *client) sendRequest(ctx context.Context, model string, temperature float64, maxTokens int, messages []Message) (string, error) {
	requestBody := request{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openaiAPIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return openaiResp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models insist on.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
