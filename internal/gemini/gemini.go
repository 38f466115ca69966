// Package gemini implements the automated assessor and the mission-suggestion
// provider on top of the Gemini generative API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"stakeproof/internal/domain"
	"stakeproof/internal/engine"
	"stakeproof/internal/suggest"
)

var (
	_ engine.Assessor  = (*Client)(nil)
	_ suggest.Provider = (*Client)(nil)
)

// generateFunc sends one prompt and returns the raw model text.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Client talks to Gemini. It satisfies engine.Assessor and suggest.Provider.
type Client struct {
	model    string
	generate generateFunc
}

// New creates a Gemini client for model.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c := &Client{model: model}
	c.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := gc.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return c, nil
}

// Model is the Gemini model name in use.
func (c *Client) Model() string { return c.model }

func (c *Client) call(ctx context.Context, prompt string, open byte, v any) error {
	text, err := c.generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("%w: gemini: %w", domain.ErrProviderUnavailable, err)
	}
	raw, ok := extractJSON(text, open)
	if !ok {
		return fmt.Errorf("%w: gemini returned no json", domain.ErrProviderUnavailable)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: decode gemini output: %w", domain.ErrProviderUnavailable, err)
	}
	return nil
}

// extractJSON pulls the first array or object out of model text, accepting a
// fenced ```json block or bare JSON surrounded by prose.
func extractJSON(text string, open byte) (string, bool) {
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			body := strings.TrimSpace(rest[:j])
			if len(body) > 0 && body[0] == open {
				text = body
			}
		}
	}
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, closer)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

type assessmentWire struct {
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AssessEvidence asks the model whether one evidence item supports the mission.
func (c *Client) AssessEvidence(ctx context.Context, req engine.AssessmentRequest) (engine.Assessment, error) {
	var w assessmentWire
	if err := c.call(ctx, evidencePrompt(req), '{', &w); err != nil {
		return engine.Assessment{}, err
	}
	choice := domain.Choice(strings.ToLower(strings.TrimSpace(w.Result)))
	if !choice.Valid() {
		return engine.Assessment{}, fmt.Errorf("%w: gemini result %q", domain.ErrProviderUnavailable, w.Result)
	}
	return engine.Assessment{
		Result:     choice,
		Confidence: clampPercent(w.Confidence),
		Reason:     strings.TrimSpace(w.Reason),
	}, nil
}

type evaluationWire struct {
	OverallScore       float64 `json:"overallScore"`
	AIAssessment       string  `json:"aiAssessment"`
	PassedRequirements bool    `json:"passedRequirements"`
}

// EvaluateMission asks the model for a final judgment over the approved evidence.
func (c *Client) EvaluateMission(ctx context.Context, req engine.EvaluationRequest) (engine.Evaluation, error) {
	var w evaluationWire
	if err := c.call(ctx, evaluationPrompt(req), '{', &w); err != nil {
		return engine.Evaluation{}, err
	}
	return engine.Evaluation{
		OverallScore: clampPercent(w.OverallScore),
		Assessment:   strings.TrimSpace(w.AIAssessment),
		Passed:       w.PassedRequirements,
	}, nil
}

type suggestionWire struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Difficulty    string   `json:"difficulty"`
	EstimatedTime float64  `json:"estimatedTime"`
	XPReward      int      `json:"xpReward"`
	CoinReward    int      `json:"coinReward"`
	Tags          []string `json:"tags"`
	Reasoning     string   `json:"reasoning"`
}

// Generate produces count mission suggestions for prefs.
func (c *Client) Generate(ctx context.Context, prefs domain.SuggestionPreferences, count int) ([]domain.MissionSuggestion, error) {
	var ws []suggestionWire
	if err := c.call(ctx, generatePrompt(prefs, count), '[', &ws); err != nil {
		return nil, err
	}
	out := make([]domain.MissionSuggestion, 0, len(ws))
	for _, w := range ws {
		s, ok := normalize(w, prefs, "Generated from your interests and goals")
		if ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no usable missions", domain.ErrProviderUnavailable)
	}
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// Reroll produces one alternative to current.
func (c *Client) Reroll(ctx context.Context, current domain.MissionSuggestion, prefs domain.SuggestionPreferences, reason string) (domain.MissionSuggestion, error) {
	var w suggestionWire
	if err := c.call(ctx, rerollPrompt(current, prefs, reason), '{', &w); err != nil {
		return domain.MissionSuggestion{}, err
	}
	s, ok := normalize(w, prefs, "Rerolled based on your feedback")
	if !ok {
		return domain.MissionSuggestion{}, fmt.Errorf("%w: gemini returned a mission without a title", domain.ErrProviderUnavailable)
	}
	return s, nil
}

var rewards = map[string][2]int{
	"easy":   {100, 50},
	"medium": {250, 100},
	"hard":   {500, 200},
}

func normalize(w suggestionWire, prefs domain.SuggestionPreferences, reasoning string) (domain.MissionSuggestion, bool) {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return domain.MissionSuggestion{}, false
	}
	diff := strings.ToLower(strings.TrimSpace(w.Difficulty))
	r, ok := rewards[diff]
	if !ok {
		diff = "medium"
		r = rewards[diff]
	}
	s := domain.MissionSuggestion{
		Title:         title,
		Description:   strings.TrimSpace(w.Description),
		Category:      strings.ToLower(strings.TrimSpace(w.Category)),
		Difficulty:    diff,
		EstimatedTime: int(w.EstimatedTime),
		XPReward:      w.XPReward,
		CoinReward:    w.CoinReward,
		Tags:          w.Tags,
		Reasoning:     strings.TrimSpace(w.Reasoning),
	}
	if s.Category == "" {
		s.Category = "other"
	}
	if s.XPReward <= 0 {
		s.XPReward = r[0]
	}
	if s.CoinReward <= 0 {
		s.CoinReward = r[1]
	}
	if len(s.Tags) == 0 {
		s.Tags = append([]string{}, prefs.Interests[:min(3, len(prefs.Interests))]...)
	}
	if s.Reasoning == "" {
		s.Reasoning = reasoning
	}
	return s, true
}

func clampPercent(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v + 0.5)
}
