// Package recommend scores catalog templates against a user profile.
package recommend

import (
	"fmt"
	"sort"
	"time"

	"stakeproof/internal/domain"
)

const (
	// RecentWindow is how far back completions count as recent activity.
	RecentWindow = 7 * 24 * time.Hour
	// LevelGrace widens the template level window on both ends.
	LevelGrace = 5
)

// EligibleTemplates keeps templates whose level window, widened by LevelGrace, covers the user.
func EligibleTemplates(p domain.UserProfile, templates []domain.TaskTemplate) []domain.TaskTemplate {
	var out []domain.TaskTemplate
	for _, t := range templates {
		level := p.Level(t.Category)
		if level >= t.MinLevel-LevelGrace && level <= t.MaxLevel+LevelGrace {
			out = append(out, t)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// RecentCompletions counts completions in category since now-RecentWindow.
func RecentCompletions(p domain.UserProfile, category string, now time.Time) int {
	cutoff := now.Add(-RecentWindow)
	n := 0
	for _, c := range p.Completed {
		if c.Category == category && !c.CompletedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// MatchScore rates how well t suits p, clamped to 0-100.
func MatchScore(t domain.TaskTemplate, p domain.UserProfile, now time.Time) int {
	score := 50

	if contains(p.Preferences.Favorite, t.Category) {
		score += 30
	} else if contains(p.Preferences.Avoid, t.Category) {
		score -= 20
	}

	switch diff := abs(p.Level(t.Category) - t.MinLevel); {
	case diff == 0:
		score += 25
	case diff <= 3:
		score += 15
	case diff <= 7:
		score += 5
	}

	budget := p.Preferences.DailyMinutes
	if t.EstimatedTime <= budget {
		score += 20
	} else if float64(t.EstimatedTime) <= float64(budget)*1.5 {
		score += 10
	}

	switch recent := RecentCompletions(p, t.Category, now); {
	case recent == 0:
		score += 15
	case recent < 3:
		score += 10
	default:
		score += 5
	}

	if p.Stats.Streak > 7 {
		score += 10
	} else if p.Stats.Streak > 3 {
		score += 5
	}

	return clamp(score, 0, 100)
}

// ApplyVariation overrides title, description, time and points with the
// highest variation the user's level qualifies for.
func ApplyVariation(t domain.TaskTemplate, level int) domain.TaskTemplate {
	best := -1
	for i, v := range t.Variations {
		if level >= v.Level && (best < 0 || v.Level > t.Variations[best].Level) {
			best = i
		}
	}
	if best < 0 {
		return t
	}
	v := t.Variations[best]
	if v.Title != "" {
		t.Title = v.Title
	}
	if v.Description != "" {
		t.Description = v.Description
	}
	if v.EstimatedTime > 0 {
		t.EstimatedTime = v.EstimatedTime
	}
	if v.Points > 0 {
		t.BasePoints = v.Points
	}
	return t
}

// AdjustDifficulty shifts the tier by level: above 50 one harder, above 30 unchanged, else one easier.
func AdjustDifficulty(base domain.Difficulty, level int) domain.Difficulty {
	idx := 0
	for i, d := range domain.Difficulties {
		if d == base {
			idx = i
		}
	}
	switch {
	case level > 50:
		idx++
	case level > 30:
	default:
		idx--
	}
	idx = clamp(idx, 0, len(domain.Difficulties)-1)
	return domain.Difficulties[idx]
}

// Points adds ten per full ten levels to the template's base points.
func Points(t domain.TaskTemplate, level int) int {
	return t.BasePoints + (level/10)*10
}

// Tips returns one general tip, two category tips and one level tip.
func Tips(t domain.TaskTemplate, p domain.UserProfile) []string {
	tips := []string{generalTip}
	specific := categoryTips[t.Category]
	if len(specific) > 2 {
		specific = specific[:2]
	}
	tips = append(tips, specific...)
	switch level := p.Level(t.Category); {
	case level < 10:
		tips = append(tips, tipBeginner)
	case level < 30:
		tips = append(tips, tipGrowing)
	default:
		tips = append(tips, tipAdvanced)
	}
	return tips
}

// Prerequisites explains the missing level, or returns nil when t is unlocked.
func Prerequisites(t domain.TaskTemplate, p domain.UserProfile) []string {
	level := p.Level(t.Category)
	if level >= t.MinLevel {
		return nil
	}
	return []string{
		fmt.Sprintf(prereqLevelFmt, t.MinLevel, t.Category),
		fmt.Sprintf(prereqCurrentFmt, level),
	}
}

// Suggest projects one template onto the profile.
func Suggest(t domain.TaskTemplate, p domain.UserProfile, now time.Time) domain.SuggestedTask {
	level := p.Level(t.Category)
	applied := ApplyVariation(t, level)
	return domain.SuggestedTask{
		TemplateID:    t.ID,
		Title:         applied.Title,
		Description:   applied.Description,
		Category:      t.Category,
		Difficulty:    AdjustDifficulty(t.Difficulty, level),
		EstimatedTime: applied.EstimatedTime,
		Points:        Points(applied, level),
		MatchScore:    MatchScore(t, p, now),
		RequiredLevel: t.MinLevel,
		TimeSlots:     SuggestTimeSlots(t, p.Schedule),
		Tips:          Tips(t, p),
		Prerequisites: Prerequisites(t, p),
	}
}

// Rank scores every eligible template and returns the best limit, highest first.
// Equal scores keep catalog order. A non-positive limit means no limit.
func Rank(p domain.UserProfile, templates []domain.TaskTemplate, limit int, now time.Time) []domain.SuggestedTask {
	eligible := EligibleTemplates(p, templates)
	out := make([]domain.SuggestedTask, 0, len(eligible))
	for _, t := range eligible {
		out = append(out, Suggest(t, p, now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchScore > out[j].MatchScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
