package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stakeproof/internal/app"
	"stakeproof/internal/domain"
	"stakeproof/internal/progress"
	"stakeproof/internal/recommend"
)

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Levels, schedule and preferences"}
	p.AddCommand(profileShowCmd())
	p.AddCommand(profilePrefsCmd())
	p.AddCommand(profileScheduleCmd())
	p.AddCommand(profileProgressCmd())
	p.AddCommand(profileTasksCmd())
	return p
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the profile for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Tracker.Profile(ctx, currentUser())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Level", "Experience"})
				for _, c := range domain.Categories {
					tw.AppendRow(table.Row{c, p.Level(c), p.Experience[c]})
				}
				tw.AppendFooter(table.Row{"points", p.Stats.TotalPoints, fmt.Sprintf("streak %d", p.Stats.Streak)})
				tw.Render()
				return nil
			})
		},
	}
}

func profilePrefsCmd() *cobra.Command {
	var prefs domain.Preferences
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Replace category preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Tracker.SetPreferences(ctx, currentUser(), prefs)
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Preferences)
			})
		},
	}
	cmd.Flags().StringArrayVar(&prefs.Favorite, "favorite", nil, "favorite category (repeatable)")
	cmd.Flags().StringArrayVar(&prefs.Avoid, "avoid", nil, "category to avoid (repeatable)")
	cmd.Flags().IntVar(&prefs.DailyMinutes, "minutes", 60, "minutes available per day")
	return cmd
}

func profileScheduleCmd() *cobra.Command {
	var busy []string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Replace the weekly busy schedule",
		Long:  "Each --busy is DAY=HH:MM-HH:MM[:activity] where DAY is 0 (Sunday) to 6.",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := parseBusy(busy)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Tracker.SetSchedule(ctx, currentUser(), schedule)
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Schedule)
			})
		},
	}
	cmd.Flags().StringArrayVar(&busy, "busy", nil, "busy slot DAY=HH:MM-HH:MM[:activity] (repeatable)")
	return cmd
}

func parseBusy(specs []string) ([]domain.DaySchedule, error) {
	byDay := map[int][]domain.TimeSlot{}
	for _, entry := range specs {
		dayPart, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --busy %q: want DAY=HH:MM-HH:MM", entry)
		}
		day, err := strconv.Atoi(strings.TrimSpace(dayPart))
		if err != nil || day < 0 || day > 6 {
			return nil, fmt.Errorf("invalid --busy %q: day must be 0-6", entry)
		}
		start, tail, ok := strings.Cut(rest, "-")
		if !ok || len(tail) < 5 {
			return nil, fmt.Errorf("invalid --busy %q: want DAY=HH:MM-HH:MM", entry)
		}
		slot := domain.TimeSlot{Start: strings.TrimSpace(start), End: tail[:5]}
		if len(tail) > 6 && tail[5] == ':' {
			slot.Activity = tail[6:]
		}
		byDay[day] = append(byDay[day], slot)
	}
	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)
	out := make([]domain.DaySchedule, 0, len(days))
	for _, d := range days {
		out = append(out, domain.DaySchedule{Day: d, Slots: byDay[d]})
	}
	return out, nil
}

func profileProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Completion progress per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Tracker.Profile(ctx, currentUser())
				if err != nil {
					return err
				}
				items := progress.ProgressByCategory(p, a.Engine.Catalog.Templates())
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Level", "Completed", "Total", "%"})
				for _, cp := range items {
					tw.AppendRow(table.Row{cp.Category, cp.Level, cp.Completed, cp.Total, cp.Percentage})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func profileTasksCmd() *cobra.Command {
	var category string
	var locked bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Templates available at your level, or still locked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Tracker.Profile(ctx, currentUser())
				if err != nil {
					return err
				}
				templates := a.Engine.Catalog.Templates()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				if locked {
					items := progress.LockedTasks(p, templates, category)
					if viper.GetBool("json") {
						return printJSON(items)
					}
					tw.AppendHeader(table.Row{"ID", "Title", "Category", "Level Required", "Levels To Go"})
					for _, t := range items {
						tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.LevelRequired, t.LevelNeeded})
					}
					tw.Render()
					return nil
				}
				items := progress.AvailableTasks(p, templates, category)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Unlocked", "Recommended", "Priority"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.Unlocked, t.Recommended, t.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().BoolVar(&locked, "locked", false, "list locked templates instead")
	return cmd
}

func recommendCmd() *cobra.Command {
	r := &cobra.Command{Use: "recommend", Short: "Catalog recommendations"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Rank the catalog for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Recommendations(ctx, currentUser(), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Template", "Title", "Category", "Difficulty", "Points", "Match"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.TemplateID, t.Title, t.Category, t.Difficulty, t.Points, t.MatchScore})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 10, "max recommendations")
	r.AddCommand(list)

	r.AddCommand(&cobra.Command{
		Use:   "slots <template-id>",
		Short: "Free time slots for a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Catalog.Get(args[0])
				if err != nil {
					return err
				}
				p, err := a.Engine.Tracker.Profile(ctx, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(recommend.SuggestTimeSlots(recommend.ApplyVariation(t, p.Level(t.Category)), p.Schedule))
			})
		},
	})

	var stake int64
	var days int
	accept := &cobra.Command{
		Use:   "accept <template-id>",
		Short: "Stake on a recommended template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				task, err := a.Engine.Recommend(ctx, currentUser(), args[0])
				if err != nil {
					return err
				}
				m, err := a.Engine.AcceptTemplate(ctx, currentUser(), task, stake, days)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	accept.Flags().Int64Var(&stake, "stake", 0, "coins to stake")
	accept.Flags().IntVar(&days, "days", 0, "mission length in days")
	_ = accept.MarkFlagRequired("stake")
	r.AddCommand(accept)
	return r
}

func suggestCmd() *cobra.Command {
	s := &cobra.Command{Use: "suggest", Short: "Generated mission ideas"}
	var prefs domain.SuggestionPreferences
	var count int
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate ideas from interests and goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Suggest.Suggest(ctx, prefs, count)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Category", "Difficulty", "Minutes", "XP", "Coins"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Title, it.Category, it.Difficulty, it.EstimatedTime, it.XPReward, it.CoinReward})
				}
				tw.Render()
				return nil
			})
		},
	}
	gen.Flags().StringArrayVar(&prefs.Interests, "interest", nil, "interest (repeatable)")
	gen.Flags().StringArrayVar(&prefs.Goals, "goal", nil, "goal (repeatable)")
	gen.Flags().StringArrayVar(&prefs.Avoid, "avoid", nil, "topic to avoid (repeatable)")
	gen.Flags().StringVar(&prefs.SkillLevel, "skill", "", "beginner|intermediate|advanced")
	gen.Flags().IntVar(&prefs.AvailableMinutes, "minutes", 0, "minutes available per day")
	gen.Flags().IntVar(&count, "count", 0, "number of ideas")
	s.AddCommand(gen)

	var file string
	var stake int64
	var days int
	accept := &cobra.Command{
		Use:   "accept",
		Short: "Stake on a suggestion saved as JSON (from generate --json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var sug domain.MissionSuggestion
			if err := json.Unmarshal(data, &sug); err != nil {
				return fmt.Errorf("decode %s: %w", file, err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.AcceptSuggestion(ctx, currentUser(), sug, stake, days)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	accept.Flags().StringVar(&file, "file", "", "suggestion JSON file")
	accept.Flags().Int64Var(&stake, "stake", 0, "coins to stake")
	accept.Flags().IntVar(&days, "days", 0, "mission length in days")
	_ = accept.MarkFlagRequired("file")
	_ = accept.MarkFlagRequired("stake")
	s.AddCommand(accept)
	return s
}
