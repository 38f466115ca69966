package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stakeproof/internal/domain"
	"stakeproof/internal/events"
	"stakeproof/internal/progress"
	"stakeproof/internal/wallet"
)

// SubmitForReview asks the assessor for an overall evaluation and settles the
// mission: a pass pays out and completes it, anything else fails it. The
// evaluation is stored before any payout and marked settled after it, so a
// review interrupted between the two is finished by submitting again without
// asking the assessor twice. Provider errors leave the mission open.
func (e Engine) SubmitForReview(ctx context.Context, actorID, missionID string) (domain.Mission, error) {
	if !e.beginReview(missionID) {
		return domain.Mission{}, fmt.Errorf("%w: review of %s in progress", domain.ErrAlreadyReviewed, missionID)
	}
	defer e.endReview(missionID)

	m, err := e.Ledger.Store().GetMission(ctx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if actorID != "" && actorID != m.OwnerID {
		return domain.Mission{}, fmt.Errorf("%w: only the mission owner submits for review", domain.ErrValidation)
	}
	if m.FinalEvaluation != nil && !m.FinalEvaluation.Settled {
		return e.settleReview(ctx, actorID, m)
	}
	if m.SubmittedForReview || m.Status.Terminal() {
		return domain.Mission{}, fmt.Errorf("%w: %s", domain.ErrAlreadyReviewed, missionID)
	}
	if len(m.Evidence) == 0 {
		return domain.Mission{}, fmt.Errorf("%w: %s", domain.ErrNoEvidence, missionID)
	}
	approved := m.Approved()
	if len(approved) == 0 {
		return domain.Mission{}, fmt.Errorf("%w: %s", domain.ErrNoApprovedEvidence, missionID)
	}
	if e.Assessor == nil {
		return domain.Mission{}, fmt.Errorf("%w: no assessor configured", domain.ErrProviderUnavailable)
	}

	log := e.logger().With(zap.String("mission_id", missionID))
	callCtx, cancel := context.WithTimeout(ctx, e.Config.Verification.AssessmentTimeout)
	defer cancel()
	eval, err := e.Assessor.EvaluateMission(callCtx, EvaluationRequest{
		MissionTitle:       m.Title,
		MissionDescription: m.Description,
		Approved:           approved,
		CommittedDays:      m.CommittedDays(),
	})
	if err != nil {
		log.Warn("mission evaluation failed", zap.Error(err))
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return domain.Mission{}, err
		}
		return domain.Mission{}, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	eval.OverallScore = max(0, min(100, eval.OverallScore))

	reviewed, err := e.Ledger.Update(ctx, missionID, func(m *domain.Mission) error {
		if m.SubmittedForReview || m.Status.Terminal() {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyReviewed, missionID)
		}
		if eval.Passed {
			m.Status = domain.MissionCompleted
			m.Progress = 100
		} else {
			m.Status = domain.MissionFailed
			m.Progress = eval.OverallScore
		}
		m.SubmittedForReview = true
		m.FinalEvaluation = &domain.FinalEvaluation{
			OverallScore: eval.OverallScore,
			Assessment:   eval.Assessment,
			Passed:       eval.Passed,
			EvaluatedAt:  e.now(),
		}
		return nil
	})
	if err != nil {
		return domain.Mission{}, err
	}
	return e.settleReview(ctx, actorID, reviewed)
}

// settleReview applies a stored evaluation: a pass pays the owner and credits
// progress, both keyed by mission so a retry applies each once. The evaluation
// is then marked settled.
func (e Engine) settleReview(ctx context.Context, actorID string, m domain.Mission) (domain.Mission, error) {
	eval := *m.FinalEvaluation
	if eval.Passed {
		econ := e.Config.Economy
		payout := wallet.Entry{UserID: m.OwnerID, Amount: m.Stake * econ.PayoutMultiplier, Reputation: econ.CompletionReputation}
		if err := e.Wallet.Settle(ctx, reviewSettlementKey(m.ID), []wallet.Entry{payout}); err != nil {
			return domain.Mission{}, fmt.Errorf("pay out %s: %w", m.ID, err)
		}
		if err := e.recordProgress(ctx, m); err != nil {
			return domain.Mission{}, err
		}
	}
	settled, err := e.Ledger.Update(ctx, m.ID, func(m *domain.Mission) error {
		if m.FinalEvaluation == nil {
			return fmt.Errorf("%w: %s has no evaluation", domain.ErrNotReady, m.ID)
		}
		if m.FinalEvaluation.Settled {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyReviewed, m.ID)
		}
		m.FinalEvaluation.Settled = true
		return nil
	})
	if err != nil {
		return domain.Mission{}, err
	}
	e.Metrics.Settlement(string(settled.Status))
	e.logger().Info("mission settled",
		zap.String("mission_id", m.ID),
		zap.String("status", string(settled.Status)),
		zap.Int("score", eval.OverallScore))
	e.emit(ctx, "mission.settled", "mission", m.ID, actorID, events.EventPayload{
		"status": settled.Status,
		"score":  eval.OverallScore,
		"passed": eval.Passed,
	})
	return settled, nil
}

// recordProgress credits a completed mission to the owner's progression
// profile once. Missions without a category earn no experience.
func (e Engine) recordProgress(ctx context.Context, m domain.Mission) error {
	if e.Tracker == nil || m.Category == "" {
		return nil
	}
	_, change, err := e.Tracker.RecordCompletion(ctx, m.OwnerID, progress.CompletionInput{
		MissionID:  m.ID,
		Category:   m.Category,
		Points:     m.Points,
		Difficulty: m.Difficulty,
		At:         e.now(),
	})
	if err != nil {
		e.logger().Warn("record completion failed",
			zap.String("mission_id", m.ID),
			zap.String("user_id", m.OwnerID),
			zap.Error(err))
		return fmt.Errorf("record completion of %s: %w", m.ID, err)
	}
	if change.Duplicate {
		return nil
	}
	e.emit(ctx, "profile.progressed", "profile", m.OwnerID, m.OwnerID, events.EventPayload{
		"mission_id":      m.ID,
		"category":        change.Category,
		"from":            change.From,
		"to":              change.To,
		"experience":      change.Experience,
		"unlock_eligible": change.UnlockEligible,
	})
	return nil
}
