package server

import (
	"encoding/json"
	"time"

	"stakeproof/internal/domain"
	"stakeproof/internal/engine"
	"stakeproof/internal/progress"
)

// Request payloads

type CreateMissionRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Difficulty  string     `json:"difficulty,omitempty" enum:"beginner,intermediate,advanced,expert"`
	Stake       int64      `json:"stake"`
	Points      int        `json:"points,omitempty"`
	Visibility  string     `json:"visibility,omitempty" enum:"private,group,public"`
	StartsAt    *time.Time `json:"starts_at,omitempty" format:"date-time"`
	EndsAt      *time.Time `json:"ends_at,omitempty" format:"date-time"`
	Days        int        `json:"days,omitempty" minimum:"0"`
}

type JoinMissionRequest struct {
	Stake int64 `json:"stake"`
}

type SubmitEvidenceRequest struct {
	Description string `json:"description,omitempty"`
	Media       string `json:"media" enum:"image,video,text"`
	MediaRef    string `json:"media_ref,omitempty"`
}

type ManualAssessmentRequest struct {
	Result     string `json:"result" enum:"approve,reject"`
	Confidence int    `json:"confidence" minimum:"0" maximum:"100"`
	Reason     string `json:"reason,omitempty"`
}

type VoteRequest struct {
	Choice string `json:"choice" enum:"approve,reject"`
}

type PreferencesRequest struct {
	Favorite     []string `json:"favorite,omitempty"`
	Avoid        []string `json:"avoid,omitempty"`
	DailyMinutes int      `json:"daily_minutes,omitempty" minimum:"0"`
}

type ScheduleRequest struct {
	Days []domain.DaySchedule `json:"days"`
}

type AcceptRecommendationRequest struct {
	Stake int64 `json:"stake"`
	Days  int   `json:"days,omitempty" minimum:"0"`
}

type SuggestRequest struct {
	Preferences domain.SuggestionPreferences `json:"preferences"`
	Count       int                          `json:"count,omitempty" minimum:"0"`
}

type RerollRequest struct {
	SessionID   string                       `json:"session_id"`
	Current     domain.MissionSuggestion     `json:"current"`
	Preferences domain.SuggestionPreferences `json:"preferences"`
	Reason      string                       `json:"reason,omitempty"`
}

type AcceptSuggestionRequest struct {
	Suggestion domain.MissionSuggestion `json:"suggestion"`
	Stake      int64                    `json:"stake"`
	Days       int                      `json:"days,omitempty" minimum:"0"`
}

type DevLoginRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type JoinResponse struct {
	Join    domain.JoinedMission `json:"join"`
	Mission domain.Mission       `json:"mission"`
}

type AccountResponse struct {
	domain.Account
	Accuracy float64 `json:"accuracy"`
}

type SuggestionsResponse struct {
	Items []domain.MissionSuggestion `json:"items"`
}

type RerollResponse struct {
	Suggestion      domain.MissionSuggestion `json:"suggestion"`
	RemainingReroll int                      `json:"remaining_rerolls"`
}

type RecommendationsResponse struct {
	Items []domain.SuggestedTask `json:"items"`
}

type AvailableTasksResponse struct {
	Items []progress.AvailableTask `json:"items"`
}

type LockedTasksResponse struct {
	Items []progress.LockedTask `json:"items"`
}

type CategoryProgressResponse struct {
	Items []progress.CategoryProgress `json:"items"`
}

type TimeSlotsResponse struct {
	TemplateID string                      `json:"template_id"`
	Items      []domain.TimeSlotSuggestion `json:"items"`
}

type VoteResponse struct {
	Evidence domain.Evidence      `json:"evidence"`
	Verdict  *domain.FinalVerdict `json:"verdict,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedMissions struct {
	Items []domain.Mission `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func missionResponse(m domain.Mission) domain.Mission {
	m.Evidence = nonNilSlice(m.Evidence)
	for i := range m.Evidence {
		m.Evidence[i] = evidenceResponse(m.Evidence[i])
	}
	return m
}

func evidenceResponse(ev domain.Evidence) domain.Evidence {
	ev.Votes = nonNilSlice(ev.Votes)
	if ev.Verdict != nil {
		v := *ev.Verdict
		v.Penalized = nonNilSlice(v.Penalized)
		ev.Verdict = &v
	}
	return ev
}

func mapMissions(in []domain.Mission) []domain.Mission {
	out := make([]domain.Mission, 0, len(in))
	for _, m := range in {
		out = append(out, missionResponse(m))
	}
	return out
}

func accountResponse(a domain.Account) AccountResponse {
	return AccountResponse{Account: a, Accuracy: a.Accuracy()}
}

func voteResponse(r engine.VoteResult) VoteResponse {
	out := VoteResponse{Evidence: evidenceResponse(r.Evidence)}
	if r.Verdict != nil {
		v := *r.Verdict
		v.Penalized = nonNilSlice(v.Penalized)
		out.Verdict = &v
	}
	return out
}

func profileResponse(p domain.UserProfile) domain.UserProfile {
	p.Completed = nonNilSlice(p.Completed)
	p.Schedule = nonNilSlice(p.Schedule)
	p.Preferences.Favorite = nonNilSlice(p.Preferences.Favorite)
	p.Preferences.Avoid = nonNilSlice(p.Preferences.Avoid)
	return p
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS.UTC().Format(time.RFC3339Nano),
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
