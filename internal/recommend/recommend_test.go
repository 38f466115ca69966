package recommend_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/catalog"
	"stakeproof/internal/domain"
	"stakeproof/internal/recommend"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func TestMatchScoreClampsAtHundred(t *testing.T) {
	p := domain.NewProfile("u1")
	p.Preferences.Favorite = []string{"học tập"}
	p.Preferences.DailyMinutes = 60
	p.Levels["học tập"] = 20
	p.Stats.Streak = 10
	tmpl := domain.TaskTemplate{ID: "x", Category: "học tập", Difficulty: domain.Beginner, EstimatedTime: 30, MinLevel: 20, MaxLevel: 40}
	assert.Equal(t, 100, recommend.MatchScore(tmpl, p, now))
}

func TestMatchScoreComponents(t *testing.T) {
	tmpl := domain.TaskTemplate{ID: "x", Category: "thể thao", Difficulty: domain.Beginner, EstimatedTime: 80, MinLevel: 1, MaxLevel: 30}
	p := domain.NewProfile("u1")
	p.Preferences.DailyMinutes = 60
	p.Preferences.Avoid = []string{"thể thao"}
	p.Levels["thể thao"] = 6
	p.Completed = []domain.Completion{
		{Category: "thể thao", CompletedAt: now.Add(-24 * time.Hour)},
		{Category: "thể thao", CompletedAt: now.Add(-30 * 24 * time.Hour)},
	}
	p.Stats.Streak = 4
	// 50 - 20 (avoided) + 5 (diff 5) + 10 (80 <= 90) + 10 (one recent) + 5 (streak > 3)
	assert.Equal(t, 60, recommend.MatchScore(tmpl, p, now))

	p.Preferences.Avoid = nil
	p.Preferences.DailyMinutes = 10
	p.Levels["thể thao"] = 20
	p.Stats.Streak = 0
	for i := 0; i < 3; i++ {
		p.Completed = append(p.Completed, domain.Completion{Category: "thể thao", CompletedAt: now.Add(-time.Hour)})
	}
	// 50 + 0 + 0 (diff 19) + 0 + 5 (busy) + 0
	assert.Equal(t, 55, recommend.MatchScore(tmpl, p, now))
}

func TestMatchScoreAvoidedCategory(t *testing.T) {
	tmpl := domain.TaskTemplate{Category: "x", EstimatedTime: 500, MinLevel: 50}
	p := domain.NewProfile("u1")
	p.Preferences.Avoid = []string{"x"}
	p.Preferences.DailyMinutes = 0
	score := recommend.MatchScore(tmpl, p, now)
	assert.GreaterOrEqual(t, score, 0)
	assert.Equal(t, 45, score)
}

func TestEligibleTemplatesGraceWindow(t *testing.T) {
	templates := []domain.TaskTemplate{
		{ID: "low", Category: "c", MinLevel: 1, MaxLevel: 10},
		{ID: "mid", Category: "c", MinLevel: 20, MaxLevel: 30},
		{ID: "high", Category: "c", MinLevel: 21, MaxLevel: 40},
	}
	p := domain.NewProfile("u1")
	p.Levels["c"] = 15
	got := recommend.EligibleTemplates(p, templates)
	ids := []string{}
	for _, g := range got {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"low", "mid"}, ids)
}

func TestApplyVariationPicksHighestQualifying(t *testing.T) {
	sport, err := catalog.Default().Get("sport_1")
	require.NoError(t, err)

	assert.Equal(t, sport.Title, recommend.ApplyVariation(sport, 9).Title)

	v10 := recommend.ApplyVariation(sport, 10)
	assert.Equal(t, "Chạy bộ 5km", v10.Title)
	assert.Equal(t, 35, v10.EstimatedTime)
	assert.Equal(t, 150, v10.BasePoints)

	v30 := recommend.ApplyVariation(sport, 30)
	assert.Equal(t, "Chạy bộ 10km", v30.Title)
	assert.Equal(t, 250, v30.BasePoints)
}

func TestAdjustDifficulty(t *testing.T) {
	assert.Equal(t, domain.Beginner, recommend.AdjustDifficulty(domain.Beginner, 10))
	assert.Equal(t, domain.Beginner, recommend.AdjustDifficulty(domain.Intermediate, 30))
	assert.Equal(t, domain.Intermediate, recommend.AdjustDifficulty(domain.Intermediate, 31))
	assert.Equal(t, domain.Advanced, recommend.AdjustDifficulty(domain.Intermediate, 51))
	assert.Equal(t, domain.Expert, recommend.AdjustDifficulty(domain.Expert, 99))
}

func TestPoints(t *testing.T) {
	tmpl := domain.TaskTemplate{BasePoints: 70}
	assert.Equal(t, 70, recommend.Points(tmpl, 9))
	assert.Equal(t, 80, recommend.Points(tmpl, 10))
	assert.Equal(t, 120, recommend.Points(tmpl, 55))
}

func TestTipsAndPrerequisites(t *testing.T) {
	tmpl := domain.TaskTemplate{Category: "học tập", MinLevel: 15}
	p := domain.NewProfile("u1")
	tips := recommend.Tips(tmpl, p)
	require.Len(t, tips, 4)
	assert.Equal(t, "Tạo môi trường yên tĩnh để học", tips[1])
	assert.Contains(t, tips[3], "giai đoạn đầu")

	pre := recommend.Prerequisites(tmpl, p)
	assert.Equal(t, []string{"Cần đạt level 15 trong category học tập", "Bạn hiện tại đang ở level 1"}, pre)

	p.Levels["học tập"] = 15
	assert.Nil(t, recommend.Prerequisites(tmpl, p))
	assert.Contains(t, recommend.Tips(tmpl, p)[3], "Tăng dần")
}

func TestSuggestTimeSlots(t *testing.T) {
	tmpl := domain.TaskTemplate{Category: "thể thao", EstimatedTime: 60}
	schedule := []domain.DaySchedule{
		{Day: 1, Slots: []domain.TimeSlot{
			{Start: "13:00", End: "18:00"},
			{Start: "08:00", End: "12:30"},
		}},
	}
	got := recommend.SuggestTimeSlots(tmpl, schedule)
	want := []domain.TimeSlotSuggestion{
		{Day: 1, Start: "06:00", End: "08:00", TimeOfDay: recommend.Morning, Reason: "Buổi sáng là thời điểm tốt nhất để tập luyện, tăng năng lượng cả ngày"},
		{Day: 1, Start: "18:00", End: "23:00", TimeOfDay: recommend.Evening, Reason: "Tập buổi tối giúp giảm stress sau một ngày làm việc"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestTimeSlotsStayInsideDay(t *testing.T) {
	tmpl := domain.TaskTemplate{Category: "unknown", EstimatedTime: 60}
	schedule := []domain.DaySchedule{
		{Day: 2, Slots: []domain.TimeSlot{{Start: "23:30", End: "23:45"}}},
		{Day: 3, Slots: []domain.TimeSlot{{Start: "05:00", End: "07:00"}, {Start: "22:30", End: "24:00"}}},
	}
	got := recommend.SuggestTimeSlots(tmpl, schedule)
	require.Len(t, got, 2)
	assert.Equal(t, "06:00", got[0].Start)
	assert.Equal(t, "23:00", got[0].End)
	assert.Equal(t, "07:00", got[1].Start)
	assert.Equal(t, "22:30", got[1].End)
	for _, s := range got {
		assert.LessOrEqual(t, s.End, "23:00")
		assert.GreaterOrEqual(t, s.Start, "06:00")
	}
}

func TestSuggestTimeSlotsCapsAtFive(t *testing.T) {
	tmpl := domain.TaskTemplate{Category: "unknown", EstimatedTime: 30}
	var schedule []domain.DaySchedule
	for d := 0; d < 7; d++ {
		schedule = append(schedule, domain.DaySchedule{Day: d})
	}
	got := recommend.SuggestTimeSlots(tmpl, schedule)
	require.Len(t, got, recommend.MaxSlots)
	assert.Equal(t, "Thời điểm phù hợp để thực hiện", got[0].Reason)
	assert.Equal(t, 4, got[4].Day)
}

func TestTimeOfDay(t *testing.T) {
	cases := map[int]string{
		4 * 60:     recommend.Night,
		5 * 60:     recommend.Morning,
		11*60 + 59: recommend.Morning,
		12 * 60:    recommend.Afternoon,
		17 * 60:    recommend.Evening,
		21 * 60:    recommend.Night,
	}
	for minutes, want := range cases {
		assert.Equal(t, want, recommend.TimeOfDay(minutes), minutes)
	}
}

func TestRankStableAndLimited(t *testing.T) {
	templates := []domain.TaskTemplate{
		{ID: "a", Category: "c", Difficulty: domain.Beginner, EstimatedTime: 200, MinLevel: 1, MaxLevel: 10, BasePoints: 10},
		{ID: "b", Category: "c", Difficulty: domain.Beginner, EstimatedTime: 200, MinLevel: 1, MaxLevel: 10, BasePoints: 20},
		{ID: "fav", Category: "f", Difficulty: domain.Beginner, EstimatedTime: 10, MinLevel: 1, MaxLevel: 10, BasePoints: 30},
		{ID: "far", Category: "c", Difficulty: domain.Beginner, EstimatedTime: 10, MinLevel: 50, MaxLevel: 60},
	}
	p := domain.NewProfile("u1")
	p.Preferences.Favorite = []string{"f"}

	got := recommend.Rank(p, templates, 0, now)
	ids := []string{}
	for _, s := range got {
		ids = append(ids, s.TemplateID)
	}
	assert.Equal(t, []string{"fav", "a", "b"}, ids)

	top := recommend.Rank(p, templates, 2, now)
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[1].TemplateID)
}

func TestRankCatalogCarriesTemplateID(t *testing.T) {
	p := domain.NewProfile("u1")
	p.Preferences.Favorite = []string{"học tập"}
	got := recommend.Rank(p, catalog.Default().Templates(), 5, now)
	require.Len(t, got, 5)
	for i, s := range got {
		require.NotEmpty(t, s.TemplateID)
		if i > 0 {
			assert.LessOrEqual(t, s.MatchScore, got[i-1].MatchScore)
		}
	}
	// Many templates clamp to 100, so ties fall back to catalog order.
	assert.Equal(t, "life_1", got[0].TemplateID)
	assert.Equal(t, 100, got[0].MatchScore)
}
