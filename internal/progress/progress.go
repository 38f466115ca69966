// Package progress tracks per-category levels and what a user can attempt next.
package progress

import (
	"sort"
	"time"

	"stakeproof/internal/domain"
	"stakeproof/internal/scoring"
)

// UnlockEvery is the level interval at which a new tier unlock is checked.
const UnlockEvery = 5

type CompletionInput struct {
	// MissionID, when set, makes the completion idempotent per mission.
	MissionID  string
	Category   string
	Points     int
	Difficulty domain.Difficulty
	At         time.Time
}

// LevelChange summarises what one completion did to a category.
type LevelChange struct {
	Category       string `json:"category"`
	From           int    `json:"from"`
	To             int    `json:"to"`
	Experience     int    `json:"experience"`
	Remainder      int    `json:"remainder"`
	UnlockEligible bool   `json:"unlock_eligible"`
	// Duplicate reports that the mission was already credited and nothing changed.
	Duplicate bool `json:"duplicate,omitempty"`
}

// RecordCompletion returns a new profile with the completion applied. p is not modified.
func RecordCompletion(p domain.UserProfile, in CompletionInput) (domain.UserProfile, LevelChange) {
	out := p.Clone()
	if out.Levels == nil {
		out.Levels = map[string]int{}
	}
	if out.Experience == nil {
		out.Experience = map[string]int{}
	}
	from := out.Level(in.Category)
	earned := scoring.ExperienceEarned(in.Points, in.Difficulty)
	to, rem := scoring.ApplyLevelUps(from, out.Experience[in.Category], earned)
	out.Levels[in.Category] = to
	out.Experience[in.Category] = rem
	out.Completed = append(out.Completed, domain.Completion{
		MissionID:   in.MissionID,
		Category:    in.Category,
		Difficulty:  in.Difficulty,
		Points:      in.Points,
		Experience:  earned,
		CompletedAt: in.At,
	})
	out.Stats.TotalPoints += in.Points
	out.Stats.Streak = nextStreak(out.Stats, in.At)
	out.Stats.LastActive = in.At
	return out, LevelChange{
		Category:       in.Category,
		From:           from,
		To:             to,
		Experience:     earned,
		Remainder:      rem,
		UnlockEligible: to != from && IsUnlockEligible(in.Category, out),
	}
}

// Completed reports whether the profile already holds a completion for the mission.
func Completed(p domain.UserProfile, missionID string) bool {
	if missionID == "" {
		return false
	}
	for _, c := range p.Completed {
		if c.MissionID == missionID {
			return true
		}
	}
	return false
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// nextStreak counts consecutive active days.
func nextStreak(s domain.Stats, at time.Time) int {
	if s.LastActive.IsZero() {
		return 1
	}
	gap := day(at).Sub(day(s.LastActive))
	switch {
	case gap <= 0:
		if s.Streak == 0 {
			return 1
		}
		return s.Streak
	case gap == 24*time.Hour:
		return s.Streak + 1
	default:
		return 1
	}
}

// IsUnlockEligible is true on every fifth level of a category.
func IsUnlockEligible(category string, p domain.UserProfile) bool {
	return p.Level(category)%UnlockEvery == 0
}

// NextTask returns the closest harder template within ten levels, lowest minLevel first.
func NextTask(category string, p domain.UserProfile, templates []domain.TaskTemplate) (domain.TaskTemplate, bool) {
	level := p.Level(category)
	var best domain.TaskTemplate
	found := false
	for _, t := range templates {
		if t.Category != category || t.MinLevel <= level || t.MinLevel > level+10 {
			continue
		}
		if !found || t.MinLevel < best.MinLevel {
			best = t
			found = true
		}
	}
	return best, found
}

type AvailableTask struct {
	domain.TaskTemplate
	Priority    int  `json:"priority"`
	Unlocked    bool `json:"unlocked"`
	Recommended bool `json:"recommended"`
}

// AvailableTasks lists up to three templates per category near the user's level,
// unlocked ones first, then by closeness to minLevel. An empty category means all.
func AvailableTasks(p domain.UserProfile, templates []domain.TaskTemplate, category string) []AvailableTask {
	byCat := map[string][]AvailableTask{}
	var order []string
	for _, t := range templates {
		if category != "" && t.Category != category {
			continue
		}
		level := p.Level(t.Category)
		if level < t.MinLevel-2 || level > t.MaxLevel+5 {
			continue
		}
		if _, ok := byCat[t.Category]; !ok {
			order = append(order, t.Category)
		}
		byCat[t.Category] = append(byCat[t.Category], AvailableTask{
			TaskTemplate: t,
			Priority:     100 - abs(level-t.MinLevel),
			Unlocked:     level >= t.MinLevel,
			Recommended:  level >= t.MinLevel && level <= t.MinLevel+5,
		})
	}
	var out []AvailableTask
	for _, cat := range order {
		tasks := byCat[cat]
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Unlocked != tasks[j].Unlocked {
				return tasks[i].Unlocked
			}
			return tasks[i].Priority > tasks[j].Priority
		})
		if len(tasks) > 3 {
			tasks = tasks[:3]
		}
		out = append(out, tasks...)
	}
	return out
}

type LockedTask struct {
	domain.TaskTemplate
	LevelRequired int `json:"level_required"`
	LevelNeeded   int `json:"level_needed"`
}

// LockedTasks lists templates whose minLevel is above the user's level.
func LockedTasks(p domain.UserProfile, templates []domain.TaskTemplate, category string) []LockedTask {
	var out []LockedTask
	for _, t := range templates {
		if category != "" && t.Category != category {
			continue
		}
		level := p.Level(t.Category)
		if level >= t.MinLevel {
			continue
		}
		out = append(out, LockedTask{TaskTemplate: t, LevelRequired: t.MinLevel, LevelNeeded: t.MinLevel - level})
	}
	return out
}

type CategoryProgress struct {
	Category   string `json:"category"`
	Level      int    `json:"level"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

// ProgressByCategory counts completions against the catalog size of each category.
func ProgressByCategory(p domain.UserProfile, templates []domain.TaskTemplate) []CategoryProgress {
	out := make([]CategoryProgress, 0, len(domain.Categories))
	for _, cat := range domain.Categories {
		cp := CategoryProgress{Category: cat, Level: p.Level(cat)}
		for _, t := range templates {
			if t.Category == cat {
				cp.Total++
			}
		}
		for _, c := range p.Completed {
			if c.Category == cat {
				cp.Completed++
			}
		}
		if cp.Total > 0 {
			cp.Percentage = int(float64(cp.Completed)/float64(cp.Total)*100 + 0.5)
		}
		out = append(out, cp)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
