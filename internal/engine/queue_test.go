package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/domain"
)

func TestQueueAssessesSubmittedEvidence(t *testing.T) {
	env := newTestEnv(t)
	env.Queue = NewQueue(env.Engine)
	stop := env.Queue.Start(context.Background())
	defer stop()

	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)

	require.Eventually(t, func() bool {
		got, err := env.Evidence(context.Background(), ev.ID)
		return err == nil && got.AI != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueueSweepRetriesFailedAssessments(t *testing.T) {
	env := newTestEnv(t)
	env.assessor.set(func(f *fakeAssessor) { f.assessErr = errors.New("unavailable") })
	q := NewQueue(env.Engine)
	env.Queue = q

	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	stop := q.Start(context.Background())
	defer stop()

	require.Eventually(t, func() bool {
		env.assessor.mu.Lock()
		defer env.assessor.mu.Unlock()
		return env.assessor.assessed >= 1
	}, 2*time.Second, 5*time.Millisecond)
	got, err := env.Evidence(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AI)

	env.assessor.set(func(f *fakeAssessor) { f.assessErr = nil })
	require.Eventually(t, func() bool {
		q.Sweep(context.Background())
		got, err := env.Evidence(context.Background(), ev.ID)
		return err == nil && got.AI != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Sweep(context.Background()))
}

func TestQueuePeriodicSweep(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Verification.SweepInterval = 10 * time.Millisecond
	q := NewQueue(env.Engine)

	// Submitted without a queue attached, so only the sweep can find it.
	m := env.mission(t, "owner", 200)
	ev := env.evidence(t, m)
	stop := q.Start(context.Background())
	defer stop()

	require.Eventually(t, func() bool {
		got, err := env.Evidence(context.Background(), ev.ID)
		return err == nil && got.AI != nil && got.AI.Result == domain.Approve
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueueFullDropsJob(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Verification.Workers = 1
	q := NewQueue(env.Engine)
	for i := 0; i < cap(q.jobs); i++ {
		require.True(t, q.Enqueue("e"))
	}
	assert.False(t, q.Enqueue("overflow"))
}
