// Package ledger owns evidence and votes for each mission. Every mutation of
// one mission is a single atomic Store.UpdateMission, so checks and writes never
// interleave with another writer of the same mission.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stakeproof/internal/domain"
	"stakeproof/internal/scoring"
)

type Config struct {
	Weights  scoring.Weights
	MinVotes int
	Now      func() time.Time
	NewID    func() string
}

type Ledger struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Ledger {
	if cfg.Weights == (scoring.Weights{}) {
		cfg.Weights = scoring.DefaultWeights()
	}
	if cfg.MinVotes <= 0 {
		cfg.MinVotes = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Ledger{store: store, cfg: cfg}
}

func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) MinVotes() int { return l.cfg.MinVotes }

func (l *Ledger) now() time.Time { return l.cfg.Now().UTC() }

// Update loads the mission, applies fn and saves the result in one store
// update. Nothing is saved when fn fails.
func (l *Ledger) Update(ctx context.Context, missionID string, fn func(m *domain.Mission) error) (domain.Mission, error) {
	return l.store.UpdateMission(ctx, missionID, fn)
}

// updateEvidence resolves the owning mission and runs fn on the evidence inside the mission update.
func (l *Ledger) updateEvidence(ctx context.Context, evidenceID string, fn func(m *domain.Mission, ev *domain.Evidence) error) (domain.Evidence, error) {
	missionID, err := l.store.MissionForEvidence(ctx, evidenceID)
	if err != nil {
		return domain.Evidence{}, err
	}
	var out domain.Evidence
	_, err = l.Update(ctx, missionID, func(m *domain.Mission) error {
		i := m.EvidenceIndex(evidenceID)
		if i < 0 {
			return fmt.Errorf("evidence %s: %w", evidenceID, domain.ErrNotFound)
		}
		if err := fn(m, &m.Evidence[i]); err != nil {
			return err
		}
		out = m.Evidence[i].Clone()
		return nil
	})
	return out, err
}

// Evidence returns one evidence item and its mission.
func (l *Ledger) Evidence(ctx context.Context, evidenceID string) (domain.Mission, domain.Evidence, error) {
	missionID, err := l.store.MissionForEvidence(ctx, evidenceID)
	if err != nil {
		return domain.Mission{}, domain.Evidence{}, err
	}
	m, err := l.store.GetMission(ctx, missionID)
	if err != nil {
		return domain.Mission{}, domain.Evidence{}, err
	}
	i := m.EvidenceIndex(evidenceID)
	if i < 0 {
		return domain.Mission{}, domain.Evidence{}, fmt.Errorf("evidence %s: %w", evidenceID, domain.ErrNotFound)
	}
	return m, m.Evidence[i], nil
}

type Submission struct {
	MissionID   string
	Description string
	Media       domain.MediaKind
	MediaRef    string
}

// SubmitEvidence appends a pending evidence item with no votes.
func (l *Ledger) SubmitEvidence(ctx context.Context, s Submission) (domain.Evidence, error) {
	s.Description = strings.TrimSpace(s.Description)
	s.MediaRef = strings.TrimSpace(s.MediaRef)
	if s.Description == "" && s.MediaRef == "" {
		return domain.Evidence{}, fmt.Errorf("%w: evidence needs a description or media", domain.ErrValidation)
	}
	if s.Media == "" {
		s.Media = domain.MediaText
		if s.MediaRef != "" {
			s.Media = domain.MediaImage
		}
	}
	switch s.Media {
	case domain.MediaImage, domain.MediaVideo, domain.MediaText:
	default:
		return domain.Evidence{}, fmt.Errorf("%w: unknown media kind %q", domain.ErrValidation, s.Media)
	}
	var ev domain.Evidence
	_, err := l.Update(ctx, s.MissionID, func(m *domain.Mission) error {
		if m.SubmittedForReview || m.Status.Terminal() {
			return fmt.Errorf("%w: mission %s is %s", domain.ErrAlreadyReviewed, m.ID, m.Status)
		}
		ev = domain.Evidence{
			ID:          l.cfg.NewID(),
			MissionID:   m.ID,
			SubmittedAt: l.now(),
			Media:       s.Media,
			MediaRef:    s.MediaRef,
			Description: s.Description,
			Status:      domain.EvidencePending,
			Votes:       []domain.EvidenceVote{},
		}
		m.Evidence = append(m.Evidence, ev)
		return nil
	})
	if err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// RecordAssessment stores the automated result once. Status is left untouched.
func (l *Ledger) RecordAssessment(ctx context.Context, evidenceID string, result domain.Choice, confidence int, reason string) (domain.Evidence, error) {
	if !result.Valid() {
		return domain.Evidence{}, fmt.Errorf("%w: unknown assessment result %q", domain.ErrValidation, result)
	}
	if confidence < 0 || confidence > 100 {
		return domain.Evidence{}, fmt.Errorf("%w: confidence %d out of range", domain.ErrValidation, confidence)
	}
	return l.updateEvidence(ctx, evidenceID, func(_ *domain.Mission, ev *domain.Evidence) error {
		if ev.AI != nil {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyAssessed, evidenceID)
		}
		ev.AI = &domain.AIVerification{
			Result:     result,
			Confidence: confidence,
			Reason:     reason,
			AssessedAt: l.now(),
		}
		return nil
	})
}

// CastVote adds one vote. The finalized check and the insert happen in the same update.
func (l *Ledger) CastVote(ctx context.Context, evidenceID, voterID string, choice domain.Choice) (domain.Evidence, error) {
	if strings.TrimSpace(voterID) == "" {
		return domain.Evidence{}, fmt.Errorf("%w: voter is required", domain.ErrValidation)
	}
	if !choice.Valid() {
		return domain.Evidence{}, fmt.Errorf("%w: unknown choice %q", domain.ErrValidation, choice)
	}
	return l.updateEvidence(ctx, evidenceID, func(m *domain.Mission, ev *domain.Evidence) error {
		if ev.Verdict != nil {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyFinalized, evidenceID)
		}
		if m.OwnerID == voterID {
			return fmt.Errorf("%w: %s", domain.ErrSelfVote, voterID)
		}
		if ev.HasVoted(voterID) {
			return fmt.Errorf("%w: %s on %s", domain.ErrDuplicateVote, voterID, evidenceID)
		}
		ev.Votes = append(ev.Votes, domain.EvidenceVote{VoterID: voterID, Choice: choice, CastAt: l.now()})
		return nil
	})
}

// SettleFunc applies the economic effects of a stored verdict. It runs after
// the verdict is persisted and may run again for the same evidence when an
// earlier attempt failed, so it must apply its effects at most once.
type SettleFunc func(ctx context.Context, m domain.Mission, ev domain.Evidence, v domain.FinalVerdict) error

// Finalize stores the verdict, settles it and marks it settled. Status and
// verdict are stored together. A verdict left unsettled by a failed settle or
// save is settled by the next call instead of being decided again; once it is
// settled, further calls fail with ErrAlreadyFinalized.
func (l *Ledger) Finalize(ctx context.Context, evidenceID string, settle SettleFunc) (domain.Evidence, error) {
	missionID, err := l.store.MissionForEvidence(ctx, evidenceID)
	if err != nil {
		return domain.Evidence{}, err
	}
	var decided domain.Evidence
	m, err := l.Update(ctx, missionID, func(m *domain.Mission) error {
		i := m.EvidenceIndex(evidenceID)
		if i < 0 {
			return fmt.Errorf("evidence %s: %w", evidenceID, domain.ErrNotFound)
		}
		ev := &m.Evidence[i]
		if ev.Verdict != nil {
			if ev.Verdict.Settled {
				return fmt.Errorf("%w: %s", domain.ErrAlreadyFinalized, evidenceID)
			}
			decided = ev.Clone()
			return nil
		}
		if ev.AI == nil {
			return fmt.Errorf("%w: %s has no automated assessment", domain.ErrNotReady, evidenceID)
		}
		if len(ev.Votes) < l.cfg.MinVotes {
			return fmt.Errorf("%w: %s has %d of %d votes", domain.ErrNotReady, evidenceID, len(ev.Votes), l.cfg.MinVotes)
		}
		approve, reject := ev.Tally()
		r := scoring.WeightedVerdict(l.cfg.Weights, ev.AI.Result, approve, reject)
		ev.Verdict = &domain.FinalVerdict{
			Result:         r.Verdict,
			AIScore:        r.AIScore,
			CommunityScore: r.CommunityScore,
			Score:          r.Score,
			Penalized:      scoring.Dissenters(r.Verdict, ev.Votes),
			DecidedAt:      l.now(),
		}
		ev.Status = domain.EvidenceRejected
		if r.Verdict == domain.Approved {
			ev.Status = domain.EvidenceApproved
		}
		decided = ev.Clone()
		return nil
	})
	if err != nil {
		return domain.Evidence{}, err
	}
	if settle != nil {
		if err := settle(ctx, m, decided, *decided.Verdict); err != nil {
			return domain.Evidence{}, fmt.Errorf("settle %s: %w", evidenceID, err)
		}
	}
	return l.updateEvidence(ctx, evidenceID, func(_ *domain.Mission, ev *domain.Evidence) error {
		if ev.Verdict == nil {
			return fmt.Errorf("%w: %s has no verdict", domain.ErrNotReady, evidenceID)
		}
		if ev.Verdict.Settled {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyFinalized, evidenceID)
		}
		ev.Verdict.Settled = true
		return nil
	})
}
