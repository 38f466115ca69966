package domain

import "time"

// Categories are the life areas a user levels up in.
var Categories = []string{
	"đời sống",
	"học tập",
	"thể thao",
	"sức khỏe",
	"tài chính",
	"sáng tạo",
	"công việc",
	"xã hội",
}

const (
	MinLevel = 1
	MaxLevel = 100
)

type UserProfile struct {
	UserID      string         `json:"user_id"`
	Levels      map[string]int `json:"levels"`
	Experience  map[string]int `json:"experience"`
	Completed   []Completion   `json:"completed"`
	Schedule    []DaySchedule  `json:"schedule"`
	Preferences Preferences    `json:"preferences"`
	Stats       Stats          `json:"stats"`
}

// NewProfile returns a profile with every category at level 1.
func NewProfile(userID string) UserProfile {
	p := UserProfile{
		UserID:     userID,
		Levels:     map[string]int{},
		Experience: map[string]int{},
		Preferences: Preferences{
			DailyMinutes: 60,
		},
	}
	for _, c := range Categories {
		p.Levels[c] = MinLevel
		p.Experience[c] = 0
	}
	return p
}

// Level returns the user's level in category, defaulting to 1.
func (p UserProfile) Level(category string) int {
	if l, ok := p.Levels[category]; ok && l >= MinLevel {
		return l
	}
	return MinLevel
}

// Clone returns a deep copy safe to mutate.
func (p UserProfile) Clone() UserProfile {
	out := p
	out.Levels = make(map[string]int, len(p.Levels))
	for k, v := range p.Levels {
		out.Levels[k] = v
	}
	out.Experience = make(map[string]int, len(p.Experience))
	for k, v := range p.Experience {
		out.Experience[k] = v
	}
	out.Completed = append([]Completion(nil), p.Completed...)
	out.Schedule = make([]DaySchedule, len(p.Schedule))
	for i, d := range p.Schedule {
		out.Schedule[i] = DaySchedule{Day: d.Day, Slots: append([]TimeSlot(nil), d.Slots...)}
	}
	out.Preferences.Favorite = append([]string(nil), p.Preferences.Favorite...)
	out.Preferences.Avoid = append([]string(nil), p.Preferences.Avoid...)
	return out
}

type Completion struct {
	MissionID   string     `json:"mission_id,omitempty"`
	Category    string     `json:"category"`
	Difficulty  Difficulty `json:"difficulty"`
	Points      int        `json:"points"`
	Experience  int        `json:"experience"`
	CompletedAt time.Time  `json:"completed_at"`
}

// DaySchedule lists busy slots for one weekday (0 = Sunday).
type DaySchedule struct {
	Day   int        `json:"day" minimum:"0" maximum:"6"`
	Slots []TimeSlot `json:"slots"`
}

// TimeSlot is a busy interval in HH:MM.
type TimeSlot struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Activity string `json:"activity,omitempty"`
}

type Preferences struct {
	Favorite     []string `json:"favorite"`
	Avoid        []string `json:"avoid"`
	DailyMinutes int      `json:"daily_minutes"`
}

type Stats struct {
	TotalPoints int       `json:"total_points"`
	Streak      int       `json:"streak"`
	LastActive  time.Time `json:"last_active"`
}

type Variation struct {
	Level         int    `json:"level" yaml:"level"`
	Title         string `json:"title" yaml:"title"`
	Description   string `json:"description,omitempty" yaml:"description"`
	EstimatedTime int    `json:"estimated_time,omitempty" yaml:"estimated_time"`
	Points        int    `json:"points,omitempty" yaml:"points"`
}

// EvidenceRequirement describes what proof a template expects.
type EvidenceRequirement struct {
	Media       string `json:"media" yaml:"media"`
	Description string `json:"description" yaml:"description"`
	Minimum     int    `json:"minimum" yaml:"minimum"`
}

type TaskTemplate struct {
	ID              string               `json:"id" yaml:"id"`
	Title           string               `json:"title" yaml:"title"`
	Description     string               `json:"description" yaml:"description"`
	Category        string               `json:"category" yaml:"category"`
	Difficulty      Difficulty           `json:"difficulty" yaml:"difficulty"`
	EstimatedTime   int                  `json:"estimated_time" yaml:"estimated_time"`
	MinLevel        int                  `json:"min_level" yaml:"min_level"`
	MaxLevel        int                  `json:"max_level" yaml:"max_level"`
	BasePoints      int                  `json:"base_points" yaml:"base_points"`
	Evidence        *EvidenceRequirement `json:"evidence,omitempty" yaml:"evidence"`
	SuccessCriteria []string             `json:"success_criteria,omitempty" yaml:"success_criteria"`
	Variations      []Variation          `json:"variations,omitempty" yaml:"variations"`
}

type TimeSlotSuggestion struct {
	Day       int    `json:"day"`
	Start     string `json:"start"`
	End       string `json:"end"`
	TimeOfDay string `json:"time_of_day" enum:"morning,afternoon,evening,night"`
	Reason    string `json:"reason"`
}

// SuggestedTask is a template projected onto one user's profile.
type SuggestedTask struct {
	TemplateID    string               `json:"template_id"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Category      string               `json:"category"`
	Difficulty    Difficulty           `json:"difficulty"`
	EstimatedTime int                  `json:"estimated_time"`
	Points        int                  `json:"points"`
	MatchScore    int                  `json:"match_score"`
	RequiredLevel int                  `json:"required_level"`
	TimeSlots     []TimeSlotSuggestion `json:"time_slots"`
	Tips          []string             `json:"tips"`
	Prerequisites []string             `json:"prerequisites,omitempty"`
}

// MissionSuggestion is a generated mission idea.
type MissionSuggestion struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Difficulty    string   `json:"difficulty" enum:"easy,medium,hard"`
	EstimatedTime int      `json:"estimated_time"`
	XPReward      int      `json:"xp_reward"`
	CoinReward    int      `json:"coin_reward"`
	Tags          []string `json:"tags"`
	Reasoning     string   `json:"reasoning"`
	TemplateID    string   `json:"template_id,omitempty"`
}

// SuggestionPreferences is the input to mission generation.
type SuggestionPreferences struct {
	Interests        []string `json:"interests"`
	Goals            []string `json:"goals"`
	SkillLevel       string   `json:"skill_level,omitempty" enum:"beginner,intermediate,advanced"`
	AvailableMinutes int      `json:"available_minutes,omitempty"`
	Avoid            []string `json:"avoid,omitempty"`
}
