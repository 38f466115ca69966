package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/domain"
	"stakeproof/internal/engine"
)

func fake(reply string, err error) (*Client, *[]string) {
	var prompts []string
	return &Client{model: "test", generate: func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return reply, err
	}}, &prompts
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		text string
		open byte
		want string
		ok   bool
	}{
		{"fenced array", "Here:\n```json\n[{\"a\":1}]\n```\nbye", '[', `[{"a":1}]`, true},
		{"fence without tag", "```\n{\"a\":{\"b\":2}}\n```", '{', `{"a":{"b":2}}`, true},
		{"bare nested object", `Sure! {"a":{"b":2},"c":3} hope it helps`, '{', `{"a":{"b":2},"c":3}`, true},
		{"bare array", `[1,2,3]`, '[', `[1,2,3]`, true},
		{"nothing", "no json here", '{', "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractJSON(tc.text, tc.open)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAssessEvidence(t *testing.T) {
	c, prompts := fake("```json\n{\"result\":\"Approve\",\"confidence\":87.6,\"reason\":\" matches the run log \"}\n```", nil)
	got, err := c.AssessEvidence(context.Background(), engine.AssessmentRequest{
		EvidenceDescription: "5km run screenshot",
		Media:               domain.MediaImage,
		MissionTitle:        "Run every day",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Assessment{Result: domain.Approve, Confidence: 88, Reason: "matches the run log"}, got)
	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "Run every day")
	assert.Contains(t, (*prompts)[0], "5km run screenshot")
}

func TestAssessEvidenceFailures(t *testing.T) {
	ctx := context.Background()
	c, _ := fake("", errors.New("429 quota"))
	_, err := c.AssessEvidence(ctx, engine.AssessmentRequest{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	c, _ = fake(`{"result":"maybe","confidence":50}`, nil)
	_, err = c.AssessEvidence(ctx, engine.AssessmentRequest{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	c, _ = fake(`I cannot help with that`, nil)
	_, err = c.AssessEvidence(ctx, engine.AssessmentRequest{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestEvaluateMission(t *testing.T) {
	c, prompts := fake(`{"overallScore":130,"aiAssessment":"consistent","passedRequirements":true}`, nil)
	got, err := c.EvaluateMission(context.Background(), engine.EvaluationRequest{
		MissionTitle:  "Read daily",
		CommittedDays: 7,
		Approved: []domain.Evidence{{
			Description: "chapter 1",
			Media:       domain.MediaText,
			SubmittedAt: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
			AI:          &domain.AIVerification{Result: domain.Approve, Confidence: 90},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Evaluation{OverallScore: 100, Assessment: "consistent", Passed: true}, got)
	assert.Contains(t, (*prompts)[0], "7 days")
	assert.Contains(t, (*prompts)[0], "2024-05-02")
	assert.Contains(t, (*prompts)[0], "confidence 90%")
}

func TestGenerateNormalizes(t *testing.T) {
	reply := `[
	  {"title":"Build a CLI","description":"d","category":"Learning","difficulty":"Hard","estimatedTime":45,"xpReward":0,"coinReward":0,"tags":[],"reasoning":""},
	  {"title":"  ","difficulty":"easy"},
	  {"title":"Walk","difficulty":"extreme","xpReward":90,"coinReward":40,"tags":["outdoor"],"reasoning":"fresh air"}
	]`
	c, prompts := fake(reply, nil)
	prefs := domain.SuggestionPreferences{Interests: []string{"coding", "go", "cli", "music"}, Goals: []string{"ship"}, Avoid: []string{"crypto"}}
	got, err := c.Generate(context.Background(), prefs, 3)
	require.NoError(t, err)

	want := []domain.MissionSuggestion{
		{Title: "Build a CLI", Description: "d", Category: "learning", Difficulty: "hard", EstimatedTime: 45, XPReward: 500, CoinReward: 200, Tags: []string{"coding", "go", "cli"}, Reasoning: "Generated from your interests and goals"},
		{Title: "Walk", Category: "other", Difficulty: "medium", XPReward: 90, CoinReward: 40, Tags: []string{"outdoor"}, Reasoning: "fresh air"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("suggestions mismatch (-want +got):\n%s", diff)
	}
	p := (*prompts)[0]
	assert.Contains(t, p, "Generate 3 personalized missions")
	assert.Contains(t, p, "Avoid topics: crypto")
}

func TestGenerateRejectsEmptyBatch(t *testing.T) {
	c, _ := fake(`[]`, nil)
	_, err := c.Generate(context.Background(), domain.SuggestionPreferences{Interests: []string{"x"}}, 3)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestRerollCarriesReason(t *testing.T) {
	c, prompts := fake(`{"title":"Sketch a bird","difficulty":"easy","category":"creative"}`, nil)
	current := domain.MissionSuggestion{Title: "Paint a landscape", Difficulty: "medium"}
	got, err := c.Reroll(context.Background(), current, domain.SuggestionPreferences{Interests: []string{"art"}}, "too long")
	require.NoError(t, err)
	assert.Equal(t, "Sketch a bird", got.Title)
	assert.Equal(t, 100, got.XPReward)
	assert.Equal(t, []string{"art"}, got.Tags)
	assert.Equal(t, "Rerolled based on your feedback", got.Reasoning)
	assert.True(t, strings.Contains((*prompts)[0], "Why rejected: too long"))
	assert.Contains(t, (*prompts)[0], "Paint a landscape")
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), " ", "")
	require.Error(t, err)
}
