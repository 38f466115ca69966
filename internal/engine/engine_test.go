package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stakeproof/internal/config"
	"stakeproof/internal/domain"
	"stakeproof/internal/events"
	"stakeproof/internal/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeAssessor struct {
	mu         sync.Mutex
	assessment Assessment
	assessErr  error
	evaluation Evaluation
	evalErr    error
	assessed   int
	evaluated  int
	gate       chan struct{}
	lastEval   EvaluationRequest
}

func (f *fakeAssessor) AssessEvidence(ctx context.Context, _ AssessmentRequest) (Assessment, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return Assessment{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessed++
	return f.assessment, f.assessErr
}

func (f *fakeAssessor) EvaluateMission(_ context.Context, req EvaluationRequest) (Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated++
	f.lastEval = req
	return f.evaluation, f.evalErr
}

func (f *fakeAssessor) set(fn func(f *fakeAssessor)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type testEnv struct {
	Engine
	assessor *fakeAssessor
	events   *events.Memory
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.Default()
	st := MemoryStores(cfg)
	e := New(cfg, st)
	e.Now = func() time.Time { return fixedNow }
	fa := &fakeAssessor{
		assessment: Assessment{Result: domain.Approve, Confidence: 80, Reason: "looks right"},
		evaluation: Evaluation{OverallScore: 85, Assessment: "consistent effort", Passed: true},
	}
	e.Assessor = fa
	return testEnv{Engine: e, assessor: fa, events: st.Events.(*events.Memory)}
}

func (env testEnv) mission(t *testing.T, owner string, stake int64) domain.Mission {
	t.Helper()
	m, err := env.CreateMission(context.Background(), MissionCreateOptions{
		OwnerID:    owner,
		Title:      "Run every morning",
		Category:   "thể thao",
		Difficulty: domain.Beginner,
		Stake:      stake,
		Points:     100,
		Visibility: domain.VisibilityPublic,
		EndsAt:     fixedNow.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return m
}

func (env testEnv) evidence(t *testing.T, m domain.Mission) domain.Evidence {
	t.Helper()
	ev, err := env.SubmitEvidence(context.Background(), m.OwnerID, ledger.Submission{
		MissionID:   m.ID,
		Description: "5km at 6am",
		MediaRef:    "https://img.example/run.jpg",
	})
	require.NoError(t, err)
	return ev
}

func (env testEnv) balance(t *testing.T, user string) int64 {
	t.Helper()
	a, err := env.Account(context.Background(), user)
	require.NoError(t, err)
	return a.Balance
}

func (env testEnv) eventTypes(t *testing.T) []string {
	t.Helper()
	evts, err := env.events.After(context.Background(), 0, 1000)
	require.NoError(t, err)
	var out []string
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

func TestEndToEndSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m := env.mission(t, "owner", 1000)
	assert.Equal(t, int64(0), env.balance(t, "owner"))

	ev := env.evidence(t, m)
	ev, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, ev.AI)
	assert.Equal(t, domain.Approve, ev.AI.Result)
	assert.Equal(t, 80, ev.AI.Confidence)
	assert.Equal(t, domain.EvidencePending, ev.Status)

	for i := 1; i <= 4; i++ {
		res, err := env.CastVote(ctx, ev.ID, fmt.Sprintf("v%d", i), domain.Approve)
		require.NoError(t, err)
		assert.Nil(t, res.Verdict)
	}
	res, err := env.CastVote(ctx, ev.ID, "v5", domain.Reject)
	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, domain.Approved, res.Verdict.Result)
	assert.InDelta(t, 92.0, res.Verdict.Score, 1e-9)
	assert.Equal(t, []string{"v5"}, res.Verdict.Penalized)
	assert.Equal(t, domain.EvidenceApproved, res.Evidence.Status)

	for i := 1; i <= 4; i++ {
		assert.Equal(t, int64(1020), env.balance(t, fmt.Sprintf("v%d", i)))
	}
	assert.Equal(t, int64(950), env.balance(t, "v5"))
	dissenter, err := env.Account(ctx, "v5")
	require.NoError(t, err)
	assert.Equal(t, 1, dissenter.TotalVotes)
	assert.Equal(t, 0, dissenter.CorrectVotes)

	settled, err := env.SubmitForReview(ctx, "owner", m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionCompleted, settled.Status)
	assert.Equal(t, 100, settled.Progress)
	assert.True(t, settled.SubmittedForReview)
	require.NotNil(t, settled.FinalEvaluation)
	assert.Equal(t, 85, settled.FinalEvaluation.OverallScore)
	assert.True(t, settled.FinalEvaluation.Settled)
	assert.Equal(t, 7, env.assessor.lastEval.CommittedDays)
	assert.Len(t, env.assessor.lastEval.Approved, 1)

	owner, err := env.Account(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), owner.Balance)
	assert.Equal(t, 50, owner.Reputation)

	profile, err := env.Tracker.Profile(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, profile.Completed, 1)
	assert.Equal(t, 100, profile.Experience["thể thao"])

	assert.Equal(t, []string{
		"mission.created",
		"evidence.submitted",
		"evidence.assessed",
		"vote.cast", "vote.cast", "vote.cast", "vote.cast", "vote.cast",
		"evidence.finalized",
		"profile.progressed",
		"mission.settled",
	}, env.eventTypes(t))

	_, err = env.SubmitForReview(ctx, "owner", m.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
	assert.Equal(t, int64(2000), env.balance(t, "owner"))
}

func TestVoteWaitsForAssessment(t *testing.T) {
	env := newTestEnv(t)
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)

	_, err := env.CastVote(context.Background(), ev.ID, "v1", domain.Approve)
	require.ErrorIs(t, err, domain.ErrNotReady)

	_, err = env.Finalize(context.Background(), ev.ID)
	require.ErrorIs(t, err, domain.ErrNotReady)
}

func TestAutomatedRejectIsDispositive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assessor.set(func(f *fakeAssessor) {
		f.assessment = Assessment{Result: domain.Reject, Confidence: 95, Reason: "photo unrelated"}
	})
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	_, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)

	var res VoteResult
	for i := 1; i <= 5; i++ {
		res, err = env.CastVote(ctx, ev.ID, fmt.Sprintf("v%d", i), domain.Approve)
		require.NoError(t, err)
	}
	require.NotNil(t, res.Verdict)
	assert.Equal(t, domain.Rejected, res.Verdict.Result)
	assert.InDelta(t, 40.0, res.Verdict.Score, 1e-9)
	assert.Len(t, res.Verdict.Penalized, 5)
	for i := 1; i <= 5; i++ {
		assert.Equal(t, int64(950), env.balance(t, fmt.Sprintf("v%d", i)))
	}

	_, err = env.SubmitForReview(ctx, "owner", m.ID)
	require.ErrorIs(t, err, domain.ErrNoApprovedEvidence)
}

func TestFinalizePaysOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	_, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := env.CastVote(ctx, ev.ID, fmt.Sprintf("v%d", i), domain.Approve)
		require.NoError(t, err)
	}
	_, err = env.Finalize(ctx, ev.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	_, err = env.CastVote(ctx, ev.ID, "late", domain.Approve)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Equal(t, int64(1020), env.balance(t, "v1"))
	assert.Equal(t, int64(1000), env.balance(t, "late"))
}

func TestAssessFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assessor.set(func(f *fakeAssessor) { f.assessErr = errors.New("quota exceeded") })
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)

	_, err := env.Assess(ctx, ev.ID)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, domain.Retryable(err))
	got, err := env.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AI)
	assert.Equal(t, domain.EvidencePending, got.Status)
	assert.Contains(t, env.eventTypes(t), "evidence.assessment_failed")

	env.assessor.set(func(f *fakeAssessor) { f.assessErr = nil })
	got, err = env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AI)
	assert.Equal(t, 2, env.assessor.assessed)
}

func TestAssessRunsProviderOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gate := make(chan struct{})
	env.assessor.set(func(f *fakeAssessor) { f.gate = gate })
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.Assess(ctx, ev.ID)
			assert.NoError(t, err)
			assert.NotNil(t, got.AI)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	_, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, env.assessor.assessed)
}

func TestNoAssessorIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.Assessor = nil
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	_, err := env.Assess(context.Background(), ev.ID)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestManualAssessmentIsWriteOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	_, err := env.RecordAssessment(ctx, "moderator", ev.ID, Assessment{Result: domain.Approve, Confidence: 60})
	require.NoError(t, err)
	_, err = env.RecordAssessment(ctx, "moderator", ev.ID, Assessment{Result: domain.Reject, Confidence: 60})
	require.ErrorIs(t, err, domain.ErrAlreadyAssessed)

	got, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Approve, got.AI.Result)
	assert.Equal(t, 0, env.assessor.assessed)
}

func TestSubmitForReviewPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.mission(t, "owner", 200)

	_, err := env.SubmitForReview(ctx, "owner", m.ID)
	require.ErrorIs(t, err, domain.ErrNoEvidence)

	ev := env.evidence(t, m)
	_, err = env.SubmitForReview(ctx, "owner", m.ID)
	require.ErrorIs(t, err, domain.ErrNoApprovedEvidence)

	_, err = env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := env.CastVote(ctx, ev.ID, fmt.Sprintf("v%d", i), domain.Approve)
		require.NoError(t, err)
	}

	_, err = env.SubmitForReview(ctx, "stranger", m.ID)
	require.ErrorIs(t, err, domain.ErrValidation)

	env.assessor.set(func(f *fakeAssessor) { f.evalErr = errors.New("timeout") })
	_, err = env.SubmitForReview(ctx, "owner", m.ID)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	still, err := env.Mission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionActive, still.Status)
	assert.False(t, still.SubmittedForReview)
	assert.Nil(t, still.FinalEvaluation)
}

func TestSubmitForReviewFailedBranch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assessor.set(func(f *fakeAssessor) {
		f.evaluation = Evaluation{OverallScore: 40, Assessment: "too sparse", Passed: false}
	})
	m := env.mission(t, "owner", 500)
	ev := env.evidence(t, m)
	_, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := env.CastVote(ctx, ev.ID, fmt.Sprintf("v%d", i), domain.Approve)
		require.NoError(t, err)
	}

	settled, err := env.SubmitForReview(ctx, "owner", m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionFailed, settled.Status)
	assert.Equal(t, 40, settled.Progress)
	assert.True(t, settled.SubmittedForReview)
	assert.Equal(t, int64(500), env.balance(t, "owner"))

	_, err = env.SubmitEvidence(ctx, "owner", ledger.Submission{MissionID: m.ID, Description: "late proof"})
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
}

func TestCreateMissionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := MissionCreateOptions{OwnerID: "owner", Title: "Read", Stake: 200, EndsAt: fixedNow.Add(time.Hour)}

	cases := map[string]func(o *MissionCreateOptions){
		"no title":       func(o *MissionCreateOptions) { o.Title = " " },
		"low stake":      func(o *MissionCreateOptions) { o.Stake = 99 },
		"ends too early": func(o *MissionCreateOptions) { o.EndsAt = fixedNow },
		"difficulty":     func(o *MissionCreateOptions) { o.Difficulty = "legendary" },
		"visibility":     func(o *MissionCreateOptions) { o.Visibility = "secret" },
	}
	for name, mutate := range cases {
		opts := base
		mutate(&opts)
		_, err := env.CreateMission(ctx, opts)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}

	opts := base
	opts.Stake = 5000
	_, err := env.CreateMission(ctx, opts)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), env.balance(t, "owner"))

	m, err := env.CreateMission(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionActive, m.Status)
	assert.Equal(t, domain.VisibilityPrivate, m.Visibility)
	assert.Equal(t, int64(800), env.balance(t, "owner"))
}

func TestJoinMission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.mission(t, "owner", 300)

	_, _, err := env.JoinMission(ctx, "owner", src.ID, 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	j, m, err := env.JoinMission(ctx, "friend", src.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, src.ID, j.SourceMissionID)
	assert.Equal(t, m.ID, j.MissionID)
	assert.Equal(t, "friend", m.OwnerID)
	assert.NotEqual(t, src.ID, m.ID)
	assert.Equal(t, int64(300), m.Stake)
	assert.Equal(t, int64(700), env.balance(t, "friend"))

	_, _, err = env.JoinMission(ctx, "friend", src.ID, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(700), env.balance(t, "friend"))

	_, _, err = env.JoinMission(ctx, "other", m.ID, 0)
	require.ErrorIs(t, err, domain.ErrValidation, "joined copies are private")
}

func TestAcceptTemplateCarriesTemplateID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	recs, err := env.Recommendations(ctx, "u1", 3)
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	m, err := env.AcceptTemplate(ctx, "u1", recs[0], 150, 0)
	require.NoError(t, err)
	assert.Equal(t, recs[0].TemplateID, m.TemplateID)
	assert.Equal(t, recs[0].Title, m.Title)
	assert.Equal(t, DefaultMissionDays, m.CommittedDays())

	_, err = env.AcceptTemplate(ctx, "u1", domain.SuggestedTask{Title: "x"}, 150, 1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAcceptSuggestionMapsDifficulty(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.AcceptSuggestion(context.Background(), "u1", domain.MissionSuggestion{
		Title: "Cook at home", Category: "đời sống", Difficulty: "hard", XPReward: 80,
	}, 100, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.Advanced, m.Difficulty)
	assert.Equal(t, 80, m.Points)
	assert.Equal(t, 3, m.CommittedDays())
	assert.Equal(t, domain.Intermediate, SuggestionDifficulty("Medium"))
	assert.Equal(t, domain.Beginner, SuggestionDifficulty(""))
}

func TestConcurrentQuorumFinalizesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	_, err := env.Assess(ctx, ev.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	verdicts := 0
	for i := 1; i <= 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.CastVote(ctx, ev.ID, fmt.Sprintf("v%d", i), domain.Approve)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
				return
			}
			if res.Verdict != nil {
				mu.Lock()
				verdicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, verdicts)

	got, err := env.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Verdict)
	var paid int
	for _, v := range got.Votes {
		assert.Equal(t, int64(1020), env.balance(t, v.VoterID))
		paid++
	}
	assert.GreaterOrEqual(t, paid, 5)
}
