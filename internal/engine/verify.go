package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stakeproof/internal/domain"
	"stakeproof/internal/events"
	"stakeproof/internal/ledger"
	"stakeproof/internal/wallet"
)

// SubmitEvidence stores new evidence from the mission owner and queues its assessment.
func (e Engine) SubmitEvidence(ctx context.Context, actorID string, s ledger.Submission) (domain.Evidence, error) {
	m, err := e.Ledger.Store().GetMission(ctx, s.MissionID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if actorID != "" && actorID != m.OwnerID {
		return domain.Evidence{}, fmt.Errorf("%w: only the mission owner submits evidence", domain.ErrValidation)
	}
	ev, err := e.Ledger.SubmitEvidence(ctx, s)
	if err != nil {
		return domain.Evidence{}, err
	}
	e.emit(ctx, "evidence.submitted", "evidence", ev.ID, actorID, events.EventPayload{
		"mission_id": ev.MissionID,
		"media":      ev.Media,
	})
	if e.Queue != nil {
		e.Queue.Enqueue(ev.ID)
	}
	return ev, nil
}

// Assess obtains the automated assessment for evidenceID. Concurrent callers
// share one provider call, and evidence that already has a result is returned
// unchanged. Provider failures leave the evidence unassessed and are retryable.
func (e Engine) Assess(ctx context.Context, evidenceID string) (domain.Evidence, error) {
	v, err, _ := e.shared.flights.Do(evidenceID, func() (any, error) {
		return e.assess(ctx, evidenceID)
	})
	if err != nil {
		return domain.Evidence{}, err
	}
	return v.(domain.Evidence), nil
}

func (e Engine) assess(ctx context.Context, evidenceID string) (domain.Evidence, error) {
	m, ev, err := e.Ledger.Evidence(ctx, evidenceID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if ev.AI != nil {
		return ev, nil
	}
	if e.Assessor == nil {
		return domain.Evidence{}, fmt.Errorf("%w: no assessor configured", domain.ErrProviderUnavailable)
	}
	log := e.logger().With(zap.String("mission_id", m.ID), zap.String("evidence_id", evidenceID))

	callCtx, cancel := context.WithTimeout(ctx, e.Config.Verification.AssessmentTimeout)
	defer cancel()
	started := time.Now()
	res, err := e.Assessor.AssessEvidence(callCtx, AssessmentRequest{
		EvidenceDescription: ev.Description,
		Media:               ev.Media,
		MediaRef:            ev.MediaRef,
		MissionTitle:        m.Title,
		MissionDescription:  m.Description,
	})
	if err != nil {
		e.Metrics.Assessment("failed", time.Since(started))
		log.Warn("assessment failed", zap.Error(err))
		e.emit(ctx, "evidence.assessment_failed", "evidence", evidenceID, "", events.EventPayload{
			"mission_id": m.ID,
			"error":      err.Error(),
		})
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return domain.Evidence{}, err
		}
		return domain.Evidence{}, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	e.Metrics.Assessment("ok", time.Since(started))

	ev, err = e.Ledger.RecordAssessment(ctx, evidenceID, res.Result, res.Confidence, res.Reason)
	if errors.Is(err, domain.ErrAlreadyAssessed) {
		_, ev, err = e.Ledger.Evidence(ctx, evidenceID)
		return ev, err
	}
	if err != nil {
		return domain.Evidence{}, err
	}
	log.Info("evidence assessed", zap.String("result", string(res.Result)), zap.Int("confidence", res.Confidence))
	e.emit(ctx, "evidence.assessed", "evidence", evidenceID, "", events.EventPayload{
		"mission_id": m.ID,
		"result":     res.Result,
		"confidence": res.Confidence,
	})
	return ev, nil
}

// RecordAssessment stores an assessment delivered from outside the queue,
// such as a moderator or a provider callback.
func (e Engine) RecordAssessment(ctx context.Context, actorID, evidenceID string, a Assessment) (domain.Evidence, error) {
	ev, err := e.Ledger.RecordAssessment(ctx, evidenceID, a.Result, a.Confidence, a.Reason)
	if err != nil {
		return domain.Evidence{}, err
	}
	e.emit(ctx, "evidence.assessed", "evidence", evidenceID, actorID, events.EventPayload{
		"mission_id": ev.MissionID,
		"result":     a.Result,
		"confidence": a.Confidence,
	})
	return ev, nil
}

// VoteResult is the evidence after a vote, plus the verdict when the vote completed the quorum.
type VoteResult struct {
	Evidence domain.Evidence      `json:"evidence"`
	Verdict  *domain.FinalVerdict `json:"verdict,omitempty"`
}

// CastVote records a community vote once the automated assessment has landed,
// and finalizes the evidence in the same call when the quorum is reached.
func (e Engine) CastVote(ctx context.Context, evidenceID, voterID string, choice domain.Choice) (VoteResult, error) {
	_, current, err := e.Ledger.Evidence(ctx, evidenceID)
	if err != nil {
		return VoteResult{}, err
	}
	if current.Verdict == nil && current.AI == nil {
		return VoteResult{}, fmt.Errorf("%w: %s is awaiting automated assessment", domain.ErrNotReady, evidenceID)
	}
	ev, err := e.Ledger.CastVote(ctx, evidenceID, voterID, choice)
	if err != nil {
		return VoteResult{}, err
	}
	e.Metrics.Vote()
	e.emit(ctx, "vote.cast", "evidence", evidenceID, voterID, events.EventPayload{
		"mission_id": ev.MissionID,
		"choice":     choice,
		"votes":      len(ev.Votes),
	})
	res := VoteResult{Evidence: ev}
	if len(ev.Votes) < e.Ledger.MinVotes() {
		return res, nil
	}
	v, err := e.Finalize(ctx, evidenceID)
	switch {
	case err == nil:
		res.Verdict = &v
		if _, fresh, err := e.Ledger.Evidence(ctx, evidenceID); err == nil {
			res.Evidence = fresh
		}
	case errors.Is(err, domain.ErrAlreadyFinalized):
	default:
		// The vote stands; finalization can be retried on its own.
		e.logger().Warn("finalize after quorum failed",
			zap.String("evidence_id", evidenceID),
			zap.String("voter_id", voterID),
			zap.Error(err))
	}
	return res, nil
}

// Finalize stores the evidence verdict and pays voters exactly once. A
// verdict whose settlement failed earlier is settled by calling it again.
func (e Engine) Finalize(ctx context.Context, evidenceID string) (domain.FinalVerdict, error) {
	ev, err := e.Ledger.Finalize(ctx, evidenceID, e.settleVotes)
	if err != nil {
		return domain.FinalVerdict{}, err
	}
	v := *ev.Verdict
	e.Metrics.Verdict(string(v.Result))
	e.logger().Info("evidence finalized",
		zap.String("evidence_id", evidenceID),
		zap.String("mission_id", ev.MissionID),
		zap.String("result", string(v.Result)),
		zap.Float64("score", v.Score))
	e.emit(ctx, "evidence.finalized", "evidence", evidenceID, "", events.EventPayload{
		"mission_id": ev.MissionID,
		"result":     v.Result,
		"score":      v.Score,
		"penalized":  v.Penalized,
	})
	return v, nil
}

func verdictSettlementKey(evidenceID string) string { return "verdict:" + evidenceID }

func reviewSettlementKey(missionID string) string { return "review:" + missionID }

// settleVotes rewards voters who agreed with the verdict and penalizes the
// rest in one batch, keyed by evidence so a retried settlement applies once.
func (e Engine) settleVotes(ctx context.Context, _ domain.Mission, ev domain.Evidence, v domain.FinalVerdict) error {
	econ := e.Config.Economy
	entries := make([]wallet.Entry, 0, len(ev.Votes))
	for _, vote := range ev.Votes {
		if v.Result.Agrees(vote.Choice) {
			entries = append(entries, wallet.Entry{UserID: vote.VoterID, Amount: econ.VoteReward, Voted: true, Correct: true})
			continue
		}
		entries = append(entries, wallet.Entry{UserID: vote.VoterID, Amount: -econ.VotePenalty, Voted: true})
	}
	if err := e.Wallet.Settle(ctx, verdictSettlementKey(ev.ID), entries); err != nil {
		return fmt.Errorf("settle votes on %s: %w", ev.ID, err)
	}
	return nil
}
