package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stakeproof/internal/app"
	"stakeproof/internal/domain"
	"stakeproof/internal/engine"
	"stakeproof/internal/ledger"
)

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Create, join and review missions"}
	m.AddCommand(missionCreateCmd())
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	m.AddCommand(missionJoinCmd())
	m.AddCommand(missionReviewCmd())
	return m
}

func missionCreateCmd() *cobra.Command {
	var opts engine.MissionCreateOptions
	var difficulty, visibility string
	var days int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Stake on a new mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now().UTC()
				opts.OwnerID = currentUser()
				opts.Difficulty = domain.Difficulty(difficulty)
				opts.Visibility = domain.Visibility(visibility)
				opts.StartsAt = now
				opts.EndsAt = now.AddDate(0, 0, days)
				m, err := a.Engine.CreateMission(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "mission title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "mission description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "progress category")
	cmd.Flags().StringVar(&difficulty, "difficulty", string(domain.Beginner), "beginner|intermediate|advanced|expert")
	cmd.Flags().StringVar(&visibility, "visibility", string(domain.VisibilityPrivate), "private|group|public")
	cmd.Flags().Int64Var(&opts.Stake, "stake", 0, "coins to stake")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "experience awarded on completion")
	cmd.Flags().IntVar(&days, "days", engine.DefaultMissionDays, "mission length in days")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func missionListCmd() *cobra.Command {
	var owner, status, visibility string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Missions(ctx, ledger.Filter{
					OwnerID:    owner,
					Status:     domain.MissionStatus(status),
					Visibility: domain.Visibility(visibility),
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Owner", "Status", "Stake", "Evidence", "Ends"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Title, m.OwnerID, m.Status, m.Stake, len(m.Evidence), m.EndsAt.Format(time.DateOnly)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&visibility, "visibility", "", "visibility filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max missions")
	return cmd
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission with its evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.Mission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func missionJoinCmd() *cobra.Command {
	var stake int64
	cmd := &cobra.Command{
		Use:   "join <mission-id>",
		Short: "Join a public mission with your own stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				j, m, err := a.Engine.JoinMission(ctx, currentUser(), args[0], stake)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"join": j, "mission": m})
			})
		},
	}
	cmd.Flags().Int64Var(&stake, "stake", 0, "coins to stake")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func missionReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <mission-id>",
		Short: "Submit a mission for final evaluation and settlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.SubmitForReview(ctx, currentUser(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func evidenceCmd() *cobra.Command {
	ev := &cobra.Command{Use: "evidence", Short: "Submit, assess, vote on and finalize evidence"}
	ev.AddCommand(evidenceSubmitCmd())
	ev.AddCommand(evidenceShowCmd())
	ev.AddCommand(evidenceAssessCmd())
	ev.AddCommand(evidenceRecordCmd())
	ev.AddCommand(evidenceVoteCmd())
	ev.AddCommand(evidenceFinalizeCmd())
	return ev
}

func evidenceSubmitCmd() *cobra.Command {
	var s ledger.Submission
	var media string
	var assess bool
	cmd := &cobra.Command{
		Use:   "submit <mission-id>",
		Short: "Submit evidence for your mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s.MissionID = args[0]
				s.Media = domain.MediaKind(media)
				// The CLI exits before a queue worker would pick the job up.
				e := a.Engine
				e.Queue = nil
				ev, err := e.SubmitEvidence(ctx, currentUser(), s)
				if err != nil {
					return err
				}
				if assess && e.Assessor != nil {
					if assessed, err := e.Assess(ctx, ev.ID); err == nil {
						ev = assessed
					} else {
						fmt.Fprintln(os.Stderr, "assessment pending:", err)
					}
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&s.Description, "description", "", "what the evidence shows")
	cmd.Flags().StringVar(&media, "media", "", "image|video|text (image when --ref is set, else text)")
	cmd.Flags().StringVar(&s.MediaRef, "ref", "", "media URL or reference")
	cmd.Flags().BoolVar(&assess, "assess", true, "run the automated assessment right away")
	return cmd
}

func evidenceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <evidence-id>",
		Short: "Show evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.Evidence(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
}

func evidenceAssessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess <evidence-id>",
		Short: "Run the automated assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.Assess(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
}

func evidenceRecordCmd() *cobra.Command {
	var result, reason string
	var confidence int
	cmd := &cobra.Command{
		Use:   "record <evidence-id>",
		Short: "Record an assessment by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.RecordAssessment(ctx, currentUser(), args[0], engine.Assessment{
					Result:     domain.Choice(result),
					Confidence: confidence,
					Reason:     reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "approve|reject")
	cmd.Flags().IntVar(&confidence, "confidence", 100, "confidence 0-100")
	cmd.Flags().StringVar(&reason, "reason", "", "short justification")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func evidenceVoteCmd() *cobra.Command {
	var choice string
	cmd := &cobra.Command{
		Use:   "vote <evidence-id>",
		Short: "Vote on someone else's evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.CastVote(ctx, args[0], currentUser(), domain.Choice(choice))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&choice, "choice", "", "approve|reject")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}

func evidenceFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <evidence-id>",
		Short: "Settle the verdict once the vote quorum is reached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.Finalize(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func accountCmd() *cobra.Command {
	acct := &cobra.Command{Use: "account", Short: "Balances and voting records"}
	acct.AddCommand(&cobra.Command{
		Use:   "show [user-id]",
		Short: "Show an account (defaults to --user)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := currentUser()
			if len(args) == 1 {
				user = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				acc, err := a.Engine.Account(ctx, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(acc)
			})
		},
	})
	acct.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Wallet.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Balance", "Reputation", "Votes", "Accuracy"})
				for _, acc := range items {
					tw.AppendRow(table.Row{acc.UserID, acc.Balance, acc.Reputation, acc.TotalVotes, fmt.Sprintf("%.0f%%", acc.Accuracy())})
				}
				tw.Render()
				return nil
			})
		},
	})
	return acct
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var after int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show events after a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Events.After(ctx, after, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().Int64Var(&after, "after", 0, "event id cursor")
	l.AddCommand(tail)
	return l
}
