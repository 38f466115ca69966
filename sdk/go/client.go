package stakeproofsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stakeproof HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// UserID is sent as X-User-Id when no bearer token is set. Servers accept
	// it only with --allow-user-header.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Mission represents the API mission model (partial).
type Mission struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	Title              string     `json:"title"`
	Category           string     `json:"category"`
	Difficulty         string     `json:"difficulty"`
	Stake              int64      `json:"stake"`
	Visibility         string     `json:"visibility"`
	Status             string     `json:"status"`
	Progress           int        `json:"progress"`
	StartsAt           time.Time  `json:"starts_at"`
	EndsAt             time.Time  `json:"ends_at"`
	Evidence           []Evidence `json:"evidence"`
	SubmittedForReview bool       `json:"submitted_for_review"`
	FinalEvaluation    *struct {
		OverallScore int    `json:"overall_score"`
		Assessment   string `json:"assessment"`
		Passed       bool   `json:"passed"`
		Settled      bool   `json:"settled"`
	} `json:"final_evaluation,omitempty"`
}

// Evidence represents one proof item and its verification state.
type Evidence struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	Media       string `json:"media"`
	MediaRef    string `json:"media_ref"`
	Description string `json:"description"`
	Status      string `json:"status"`
	AI          *struct {
		Result     string `json:"result"`
		Confidence int    `json:"confidence"`
		Reason     string `json:"reason"`
	} `json:"ai_verification,omitempty"`
	Votes []struct {
		VoterID string `json:"voter_id"`
		Choice  string `json:"choice"`
	} `json:"votes"`
	Verdict *Verdict `json:"final_verdict,omitempty"`
}

// Verdict is the settled outcome of an evidence item.
type Verdict struct {
	Result         string   `json:"result"`
	AIScore        float64  `json:"ai_score"`
	CommunityScore float64  `json:"community_score"`
	Score          float64  `json:"score"`
	Penalized      []string `json:"penalized"`
	// Settled is false while voter rewards are still being applied.
	Settled bool `json:"settled"`
}

// VoteResult carries the verdict when the vote reached quorum.
type VoteResult struct {
	Evidence Evidence `json:"evidence"`
	Verdict  *Verdict `json:"verdict,omitempty"`
}

// Account is a user's balance and voting record.
type Account struct {
	UserID       string  `json:"user_id"`
	Balance      int64   `json:"balance"`
	Reputation   int     `json:"reputation"`
	TotalVotes   int     `json:"total_votes"`
	CorrectVotes int     `json:"correct_votes"`
	Accuracy     float64 `json:"accuracy"`
}

// Suggestion is a generated mission idea.
type Suggestion struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Difficulty    string   `json:"difficulty"`
	EstimatedTime int      `json:"estimated_time"`
	XPReward      int      `json:"xp_reward"`
	CoinReward    int      `json:"coin_reward"`
	Tags          []string `json:"tags"`
	Reasoning     string   `json:"reasoning"`
}

// SuggestionPreferences drives suggestion generation.
type SuggestionPreferences struct {
	Interests        []string `json:"interests"`
	Goals            []string `json:"goals"`
	SkillLevel       string   `json:"skill_level,omitempty"`
	AvailableMinutes int      `json:"available_minutes,omitempty"`
	Avoid            []string `json:"avoid,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateMission stakes on a new mission lasting days (server default when 0).
func (c *Client) CreateMission(ctx context.Context, title, category string, stake int64, days int) (Mission, error) {
	body := map[string]any{
		"title":    title,
		"category": category,
		"stake":    stake,
	}
	if days > 0 {
		body["days"] = days
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions", body, &resp)
	return resp, err
}

// Mission fetches a mission with its evidence.
func (c *Client) Mission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// JoinMission copies a public mission into the caller's own, staking stake.
func (c *Client) JoinMission(ctx context.Context, id string, stake int64) (Mission, error) {
	var resp struct {
		Mission Mission `json:"mission"`
	}
	endpoint := fmt.Sprintf("missions/%s/join", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"stake": stake}, &resp)
	return resp.Mission, err
}

// SubmitEvidence attaches proof to a mission.
func (c *Client) SubmitEvidence(ctx context.Context, missionID, media, mediaRef, description string) (Evidence, error) {
	body := map[string]any{
		"media":       media,
		"media_ref":   mediaRef,
		"description": description,
	}
	var resp Evidence
	endpoint := fmt.Sprintf("missions/%s/evidence", url.PathEscape(missionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Evidence fetches one evidence item.
func (c *Client) Evidence(ctx context.Context, id string) (Evidence, error) {
	var resp Evidence
	err := c.do(ctx, http.MethodGet, "evidence/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Vote casts approve or reject on evidence.
func (c *Client) Vote(ctx context.Context, evidenceID, choice string) (VoteResult, error) {
	var resp VoteResult
	endpoint := fmt.Sprintf("evidence/%s/votes", url.PathEscape(evidenceID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"choice": choice}, &resp)
	return resp, err
}

// SubmitForReview asks for the final evaluation of a mission.
func (c *Client) SubmitForReview(ctx context.Context, missionID string) (Mission, error) {
	var resp Mission
	endpoint := fmt.Sprintf("missions/%s/review", url.PathEscape(missionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Account returns a user's balance and voting record.
func (c *Client) Account(ctx context.Context, userID string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodGet, "accounts/"+url.PathEscape(userID), nil, &resp)
	return resp, err
}

// Suggest generates mission ideas.
func (c *Client) Suggest(ctx context.Context, prefs SuggestionPreferences, count int) ([]Suggestion, error) {
	body := map[string]any{"preferences": prefs}
	if count > 0 {
		body["count"] = count
	}
	var resp struct {
		Items []Suggestion `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "suggestions", body, &resp)
	return resp.Items, err
}

// Events returns the oldest events after the start of the log.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
