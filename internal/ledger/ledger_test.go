package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/domain"
	"stakeproof/internal/ledger"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*ledger.Ledger, context.Context) {
	t.Helper()
	return newLedgerOn(t, ledger.NewMemoryStore())
}

func newLedgerOn(t *testing.T, store ledger.Store) (*ledger.Ledger, context.Context) {
	t.Helper()
	seq := 0
	var mu sync.Mutex
	l := ledger.New(store, ledger.Config{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("ev-%d", seq)
		},
	})
	ctx := context.Background()
	require.NoError(t, store.CreateMission(ctx, domain.Mission{
		ID:         "m-1",
		OwnerID:    "owner",
		Title:      "Run every day",
		Stake:      1000,
		Difficulty: domain.Beginner,
		Visibility: domain.VisibilityPublic,
		Status:     domain.MissionActive,
		StartsAt:   fixedNow,
		EndsAt:     fixedNow.Add(7 * 24 * time.Hour),
	}))
	return l, ctx
}

func submit(t *testing.T, l *ledger.Ledger, ctx context.Context) domain.Evidence {
	t.Helper()
	ev, err := l.SubmitEvidence(ctx, ledger.Submission{MissionID: "m-1", Description: "ran 5km"})
	require.NoError(t, err)
	return ev
}

func TestSubmitEvidence(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)
	assert.Equal(t, domain.EvidencePending, ev.Status)
	assert.Empty(t, ev.Votes)
	assert.Nil(t, ev.Verdict)
	assert.Nil(t, ev.AI)
	assert.Equal(t, domain.MediaText, ev.Media)

	_, err := l.SubmitEvidence(ctx, ledger.Submission{MissionID: "m-1", Description: "  "})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = l.SubmitEvidence(ctx, ledger.Submission{MissionID: "missing", Description: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	photo, err := l.SubmitEvidence(ctx, ledger.Submission{MissionID: "m-1", MediaRef: "s3://proof.jpg"})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaImage, photo.Media)
}

func TestRecordAssessmentWriteOnce(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)
	got, err := l.RecordAssessment(ctx, ev.ID, domain.Approve, 80, "looks right")
	require.NoError(t, err)
	require.NotNil(t, got.AI)
	assert.Equal(t, domain.EvidencePending, got.Status)

	_, err = l.RecordAssessment(ctx, ev.ID, domain.Reject, 10, "changed mind")
	require.ErrorIs(t, err, domain.ErrAlreadyAssessed)

	_, stored, err := l.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Approve, stored.AI.Result)

	_, err = l.RecordAssessment(ctx, ev.ID, domain.Approve, 101, "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCastVoteRules(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)

	_, err := l.CastVote(ctx, ev.ID, "owner", domain.Approve)
	require.ErrorIs(t, err, domain.ErrSelfVote)

	got, err := l.CastVote(ctx, ev.ID, "u1", domain.Approve)
	require.NoError(t, err)
	require.Len(t, got.Votes, 1)

	_, err = l.CastVote(ctx, ev.ID, "u1", domain.Reject)
	require.ErrorIs(t, err, domain.ErrDuplicateVote)

	_, stored, err := l.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Votes, 1)
	assert.Equal(t, domain.Approve, stored.Votes[0].Choice)
}

func TestFinalizeRoundTrip(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)

	_, err := l.Finalize(ctx, ev.ID, nil)
	require.ErrorIs(t, err, domain.ErrNotReady)

	_, err = l.RecordAssessment(ctx, ev.ID, domain.Approve, 80, "looks right")
	require.NoError(t, err)
	for i, c := range []domain.Choice{domain.Approve, domain.Approve, domain.Approve, domain.Approve} {
		_, err := l.CastVote(ctx, ev.ID, fmt.Sprintf("u%d", i), c)
		require.NoError(t, err)
	}
	_, err = l.Finalize(ctx, ev.ID, nil)
	require.ErrorIs(t, err, domain.ErrNotReady)

	_, err = l.CastVote(ctx, ev.ID, "dissent", domain.Reject)
	require.NoError(t, err)

	settled := 0
	got, err := l.Finalize(ctx, ev.ID, func(_ context.Context, _ domain.Mission, ev domain.Evidence, _ domain.FinalVerdict) error {
		settled++
		assert.Equal(t, domain.EvidenceApproved, ev.Status)
		assert.False(t, ev.Verdict.Settled)
		return nil
	})
	require.NoError(t, err)
	v := *got.Verdict
	assert.True(t, v.Settled)
	assert.Equal(t, "m-1", got.MissionID)
	assert.Equal(t, domain.Approved, v.Result)
	assert.Equal(t, 92.0, v.Score)
	assert.Equal(t, []string{"dissent"}, v.Penalized)
	assert.Equal(t, 1, settled)

	_, stored, err := l.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EvidenceApproved, stored.Status)
	require.NotNil(t, stored.Verdict)

	_, err = l.Finalize(ctx, ev.ID, func(context.Context, domain.Mission, domain.Evidence, domain.FinalVerdict) error {
		settled++
		return nil
	})
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Equal(t, 1, settled)

	_, err = l.CastVote(ctx, ev.ID, "late", domain.Approve)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestFinalizeSettleFailureKeepsVerdictForRetry(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)
	_, err := l.RecordAssessment(ctx, ev.ID, domain.Reject, 90, "blurry")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.CastVote(ctx, ev.ID, fmt.Sprintf("u%d", i), domain.Approve)
		require.NoError(t, err)
	}
	boom := errors.New("wallet down")
	_, err = l.Finalize(ctx, ev.ID, func(context.Context, domain.Mission, domain.Evidence, domain.FinalVerdict) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, stored, err := l.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Verdict)
	assert.False(t, stored.Verdict.Settled)
	assert.Equal(t, domain.EvidenceRejected, stored.Status)

	_, err = l.CastVote(ctx, ev.ID, "late", domain.Approve)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	var seen []domain.FinalVerdict
	got, err := l.Finalize(ctx, ev.ID, func(_ context.Context, _ domain.Mission, _ domain.Evidence, v domain.FinalVerdict) error {
		seen = append(seen, v)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, stored.Verdict.DecidedAt, seen[0].DecidedAt)
	assert.Equal(t, domain.Rejected, got.Verdict.Result)
	assert.Len(t, got.Verdict.Penalized, 5)
	assert.True(t, got.Verdict.Settled)

	_, err = l.Finalize(ctx, ev.ID, func(context.Context, domain.Mission, domain.Evidence, domain.FinalVerdict) error {
		t.Fatal("settled verdict must not settle again")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

// failingStore runs fn but drops the next n saves, as a locked or full
// database would.
type failingStore struct {
	*ledger.MemoryStore
	n int
}

var errSaveFailed = errors.New("database is locked")

func (s *failingStore) UpdateMission(ctx context.Context, id string, fn func(m *domain.Mission) error) (domain.Mission, error) {
	if s.n == 0 {
		return s.MemoryStore.UpdateMission(ctx, id, fn)
	}
	s.n--
	m, err := s.MemoryStore.GetMission(ctx, id)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := fn(&m); err != nil {
		return domain.Mission{}, err
	}
	return domain.Mission{}, errSaveFailed
}

func TestFinalizeSaveFailureDoesNotSettle(t *testing.T) {
	store := &failingStore{MemoryStore: ledger.NewMemoryStore()}
	l, ctx := newLedgerOn(t, store)
	ev := submit(t, l, ctx)
	_, err := l.RecordAssessment(ctx, ev.ID, domain.Approve, 90, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.CastVote(ctx, ev.ID, fmt.Sprintf("u%d", i), domain.Approve)
		require.NoError(t, err)
	}

	settled := 0
	settle := func(context.Context, domain.Mission, domain.Evidence, domain.FinalVerdict) error {
		settled++
		return nil
	}
	store.n = 1
	_, err = l.Finalize(ctx, ev.ID, settle)
	require.ErrorIs(t, err, errSaveFailed)
	assert.Zero(t, settled)

	_, stored, err := l.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Verdict)
	assert.Equal(t, domain.EvidencePending, stored.Status)

	got, err := l.Finalize(ctx, ev.ID, settle)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.True(t, got.Verdict.Settled)
}

func TestFinalizeMarkFailureResettlesSameVerdict(t *testing.T) {
	store := &failingStore{MemoryStore: ledger.NewMemoryStore()}
	l, ctx := newLedgerOn(t, store)
	ev := submit(t, l, ctx)
	_, err := l.RecordAssessment(ctx, ev.ID, domain.Approve, 90, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.CastVote(ctx, ev.ID, fmt.Sprintf("u%d", i), domain.Approve)
		require.NoError(t, err)
	}

	var seen []domain.FinalVerdict
	settle := func(_ context.Context, _ domain.Mission, _ domain.Evidence, v domain.FinalVerdict) error {
		seen = append(seen, v)
		// The second save of the first attempt is the settled mark.
		store.n = 1
		return nil
	}
	_, err = l.Finalize(ctx, ev.ID, settle)
	require.ErrorIs(t, err, errSaveFailed)

	store.n = 0
	_, err = l.Finalize(ctx, ev.ID, func(_ context.Context, _ domain.Mission, _ domain.Evidence, v domain.FinalVerdict) error {
		seen = append(seen, v)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, seen[0].DecidedAt, seen[1].DecidedAt)
	assert.Equal(t, seen[0].Result, seen[1].Result)
}

func TestConcurrentVotesSerialized(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)
	_, err := l.RecordAssessment(ctx, ev.ID, domain.Approve, 70, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.CastVote(ctx, ev.ID, fmt.Sprintf("u%d", i%25), domain.Approve)
		}(i)
	}
	wg.Wait()

	_, stored, err := l.Evidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Votes, 25)
}

func TestConcurrentFinalizeSettlesOnce(t *testing.T) {
	l, ctx := newLedger(t)
	ev := submit(t, l, ctx)
	_, err := l.RecordAssessment(ctx, ev.ID, domain.Approve, 70, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.CastVote(ctx, ev.ID, fmt.Sprintf("u%d", i), domain.Approve)
		require.NoError(t, err)
	}
	var mu sync.Mutex
	var verdicts []domain.FinalVerdict
	successes := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Finalize(ctx, ev.ID, func(_ context.Context, _ domain.Mission, _ domain.Evidence, v domain.FinalVerdict) error {
				mu.Lock()
				verdicts = append(verdicts, v)
				mu.Unlock()
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	require.NotEmpty(t, verdicts)
	// Concurrent callers may resume an unsettled verdict, but never decide a second one.
	for _, v := range verdicts {
		assert.Equal(t, verdicts[0].DecidedAt, v.DecidedAt)
		assert.Equal(t, verdicts[0].Result, v.Result)
	}
}

func TestListMissionsAwaitingAssessment(t *testing.T) {
	l, ctx := newLedger(t)
	ms, err := l.Store().ListMissions(ctx, ledger.Filter{AwaitingAssessment: true})
	require.NoError(t, err)
	assert.Empty(t, ms)

	ev := submit(t, l, ctx)
	ms, err = l.Store().ListMissions(ctx, ledger.Filter{AwaitingAssessment: true})
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	_, err = l.RecordAssessment(ctx, ev.ID, domain.Approve, 70, "")
	require.NoError(t, err)
	ms, err = l.Store().ListMissions(ctx, ledger.Filter{AwaitingAssessment: true})
	require.NoError(t, err)
	assert.Empty(t, ms)
}
