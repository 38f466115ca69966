package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stakeproof/internal/domain"
	"stakeproof/internal/events"
	"stakeproof/internal/ledger"
	"stakeproof/internal/recommend"
)

// DefaultMissionDays is the duration used when accepting a suggestion without one.
const DefaultMissionDays = 7

// MissionCreateOptions are parameters for creating a mission.
type MissionCreateOptions struct {
	OwnerID     string
	Title       string
	Description string
	Category    string
	Difficulty  domain.Difficulty
	Stake       int64
	Points      int
	TemplateID  string
	Visibility  domain.Visibility
	StartsAt    time.Time
	EndsAt      time.Time
}

// CreateMission validates the options, debits the stake once and stores an active mission.
func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions) (domain.Mission, error) {
	opts.OwnerID = strings.TrimSpace(opts.OwnerID)
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.OwnerID == "" {
		return domain.Mission{}, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if opts.Title == "" {
		return domain.Mission{}, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if opts.Stake < e.Config.Economy.MinStake {
		return domain.Mission{}, fmt.Errorf("%w: stake %d below minimum %d", domain.ErrValidation, opts.Stake, e.Config.Economy.MinStake)
	}
	if opts.Points < 0 {
		return domain.Mission{}, fmt.Errorf("%w: points must not be negative", domain.ErrValidation)
	}
	if opts.Difficulty == "" {
		opts.Difficulty = domain.Beginner
	}
	if !opts.Difficulty.Valid() {
		return domain.Mission{}, fmt.Errorf("%w: unknown difficulty %q", domain.ErrValidation, opts.Difficulty)
	}
	switch opts.Visibility {
	case "":
		opts.Visibility = domain.VisibilityPrivate
	case domain.VisibilityPrivate, domain.VisibilityGroup, domain.VisibilityPublic:
	default:
		return domain.Mission{}, fmt.Errorf("%w: unknown visibility %q", domain.ErrValidation, opts.Visibility)
	}
	now := e.now()
	if opts.StartsAt.IsZero() {
		opts.StartsAt = now
	}
	if !opts.EndsAt.After(opts.StartsAt) {
		return domain.Mission{}, fmt.Errorf("%w: end must be after start", domain.ErrValidation)
	}

	if _, err := e.Wallet.Debit(ctx, opts.OwnerID, opts.Stake); err != nil {
		return domain.Mission{}, err
	}
	m := domain.Mission{
		ID:          e.newID(),
		OwnerID:     opts.OwnerID,
		Title:       opts.Title,
		Description: strings.TrimSpace(opts.Description),
		Category:    opts.Category,
		Difficulty:  opts.Difficulty,
		Stake:       opts.Stake,
		Points:      opts.Points,
		TemplateID:  opts.TemplateID,
		Visibility:  opts.Visibility,
		Status:      domain.MissionActive,
		StartsAt:    opts.StartsAt.UTC(),
		EndsAt:      opts.EndsAt.UTC(),
		Evidence:    []domain.Evidence{},
		CreatedAt:   now,
	}
	if err := e.Ledger.Store().CreateMission(ctx, m); err != nil {
		if _, rerr := e.Wallet.Credit(ctx, opts.OwnerID, opts.Stake); rerr != nil {
			e.logger().Error("refund stake failed",
				zap.String("user_id", opts.OwnerID),
				zap.Int64("stake", opts.Stake),
				zap.Error(rerr))
		}
		return domain.Mission{}, fmt.Errorf("create mission: %w", err)
	}
	e.emit(ctx, "mission.created", "mission", m.ID, m.OwnerID, events.EventPayload{
		"title":       m.Title,
		"stake":       m.Stake,
		"visibility":  m.Visibility,
		"template_id": m.TemplateID,
	})
	return m, nil
}

// JoinMission gives userID an independent copy of a group or public mission,
// staked with stake or, when zero, the source stake.
func (e Engine) JoinMission(ctx context.Context, userID, sourceID string, stake int64) (domain.JoinedMission, domain.Mission, error) {
	unlock := e.shared.joins.Lock(sourceID)
	defer unlock()

	src, err := e.Ledger.Store().GetMission(ctx, sourceID)
	if err != nil {
		return domain.JoinedMission{}, domain.Mission{}, err
	}
	if src.Visibility == domain.VisibilityPrivate {
		return domain.JoinedMission{}, domain.Mission{}, fmt.Errorf("%w: mission %s is private", domain.ErrValidation, sourceID)
	}
	if src.OwnerID == userID {
		return domain.JoinedMission{}, domain.Mission{}, fmt.Errorf("%w: cannot join your own mission", domain.ErrValidation)
	}
	if src.Status.Terminal() {
		return domain.JoinedMission{}, domain.Mission{}, fmt.Errorf("%w: mission %s is %s", domain.ErrValidation, sourceID, src.Status)
	}
	joins, err := e.Ledger.Store().ListJoins(ctx, sourceID)
	if err != nil {
		return domain.JoinedMission{}, domain.Mission{}, err
	}
	for _, j := range joins {
		if j.UserID == userID {
			return domain.JoinedMission{}, domain.Mission{}, fmt.Errorf("%w: %s already joined %s", domain.ErrValidation, userID, sourceID)
		}
	}
	if stake == 0 {
		stake = src.Stake
	}
	m, err := e.CreateMission(ctx, MissionCreateOptions{
		OwnerID:     userID,
		Title:       src.Title,
		Description: src.Description,
		Category:    src.Category,
		Difficulty:  src.Difficulty,
		Stake:       stake,
		Points:      src.Points,
		TemplateID:  src.TemplateID,
		Visibility:  domain.VisibilityPrivate,
		EndsAt:      e.now().Add(src.EndsAt.Sub(src.StartsAt)),
	})
	if err != nil {
		return domain.JoinedMission{}, domain.Mission{}, err
	}
	j := domain.JoinedMission{
		ID:              e.newID(),
		SourceMissionID: sourceID,
		MissionID:       m.ID,
		UserID:          userID,
		JoinedAt:        m.CreatedAt,
	}
	if err := e.Ledger.Store().CreateJoin(ctx, j); err != nil {
		return domain.JoinedMission{}, domain.Mission{}, fmt.Errorf("record join: %w", err)
	}
	e.emit(ctx, "mission.joined", "mission", sourceID, userID, events.EventPayload{
		"mission_id": m.ID,
		"stake":      m.Stake,
	})
	return j, m, nil
}

// AcceptTemplate turns a catalog recommendation into a staked mission carrying its template id.
func (e Engine) AcceptTemplate(ctx context.Context, userID string, task domain.SuggestedTask, stake int64, days int) (domain.Mission, error) {
	if task.TemplateID == "" {
		return domain.Mission{}, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}
	if days <= 0 {
		days = DefaultMissionDays
	}
	now := e.now()
	return e.CreateMission(ctx, MissionCreateOptions{
		OwnerID:     userID,
		Title:       task.Title,
		Description: task.Description,
		Category:    task.Category,
		Difficulty:  task.Difficulty,
		Stake:       stake,
		Points:      task.Points,
		TemplateID:  task.TemplateID,
		StartsAt:    now,
		EndsAt:      now.AddDate(0, 0, days),
	})
}

// AcceptSuggestion turns a generated suggestion into a staked mission.
func (e Engine) AcceptSuggestion(ctx context.Context, userID string, s domain.MissionSuggestion, stake int64, days int) (domain.Mission, error) {
	if days <= 0 {
		days = DefaultMissionDays
	}
	now := e.now()
	return e.CreateMission(ctx, MissionCreateOptions{
		OwnerID:     userID,
		Title:       s.Title,
		Description: s.Description,
		Category:    s.Category,
		Difficulty:  SuggestionDifficulty(s.Difficulty),
		Stake:       stake,
		Points:      s.XPReward,
		TemplateID:  s.TemplateID,
		StartsAt:    now,
		EndsAt:      now.AddDate(0, 0, days),
	})
}

// SuggestionDifficulty maps easy/medium/hard onto difficulty tiers.
func SuggestionDifficulty(s string) domain.Difficulty {
	switch strings.ToLower(s) {
	case "medium":
		return domain.Intermediate
	case "hard":
		return domain.Advanced
	default:
		return domain.Beginner
	}
}

func (e Engine) Mission(ctx context.Context, id string) (domain.Mission, error) {
	return e.Ledger.Store().GetMission(ctx, id)
}

func (e Engine) Missions(ctx context.Context, f ledger.Filter) ([]domain.Mission, error) {
	return e.Ledger.Store().ListMissions(ctx, f)
}

func (e Engine) Evidence(ctx context.Context, id string) (domain.Evidence, error) {
	_, ev, err := e.Ledger.Evidence(ctx, id)
	return ev, err
}

func (e Engine) Account(ctx context.Context, userID string) (domain.Account, error) {
	return e.Wallet.Account(ctx, userID)
}

// Recommendations ranks the catalog for userID. A missing profile ranks as level 1 everywhere.
func (e Engine) Recommendations(ctx context.Context, userID string, limit int) ([]domain.SuggestedTask, error) {
	p, err := e.Tracker.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return recommend.Rank(p, e.Catalog.Templates(), limit, e.now()), nil
}

// Recommend returns the suggestion for one template, applied to userID's profile.
func (e Engine) Recommend(ctx context.Context, userID, templateID string) (domain.SuggestedTask, error) {
	t, err := e.Catalog.Get(templateID)
	if err != nil {
		return domain.SuggestedTask{}, err
	}
	p, err := e.Tracker.Profile(ctx, userID)
	if err != nil {
		return domain.SuggestedTask{}, err
	}
	return recommend.Suggest(t, p, e.now()), nil
}
