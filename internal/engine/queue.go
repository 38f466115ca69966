package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stakeproof/internal/ledger"
	"stakeproof/internal/metrics"
)

// Queue runs automated assessments in the background. Submitted evidence is
// enqueued once; evidence dropped from a full queue, or whose assessment
// failed, is picked up again by the optional sweep.
type Queue struct {
	run     func(ctx context.Context, evidenceID string) error
	pending func(ctx context.Context) ([]string, error)
	jobs    chan string
	workers int
	sweep   time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewQueue builds a queue over e using e.Config.Verification for sizing.
func NewQueue(e Engine) *Queue {
	v := e.Config.Verification
	workers := v.Workers
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		run: func(ctx context.Context, evidenceID string) error {
			_, err := e.Assess(ctx, evidenceID)
			return err
		},
		pending: func(ctx context.Context) ([]string, error) { return unassessed(ctx, e.Ledger.Store()) },
		jobs:    make(chan string, 64*workers),
		workers: workers,
		sweep:   v.SweepInterval,
		log:     e.logger(),
		metrics: e.Metrics,
	}
}

// unassessed lists open evidence that has no automated result yet.
func unassessed(ctx context.Context, store ledger.Store) ([]string, error) {
	missions, err := store.ListMissions(ctx, ledger.Filter{AwaitingAssessment: true})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range missions {
		if m.Status.Terminal() {
			continue
		}
		for _, ev := range m.Evidence {
			if ev.AI == nil && ev.Verdict == nil {
				ids = append(ids, ev.ID)
			}
		}
	}
	return ids, nil
}

// Enqueue schedules an assessment without blocking. It reports false when the queue is full.
func (q *Queue) Enqueue(evidenceID string) bool {
	select {
	case q.jobs <- evidenceID:
		q.metrics.QueueDepth(len(q.jobs))
		return true
	default:
		q.log.Warn("assessment queue full", zap.String("evidence_id", evidenceID))
		return false
	}
}

// Run processes jobs until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}
	if q.sweep > 0 {
		g.Go(func() error {
			q.sweepLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Start runs the queue in the background and returns a func that stops it and waits.
func (q *Queue) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.metrics.QueueDepth(len(q.jobs))
			if err := q.run(ctx, id); err != nil && ctx.Err() == nil {
				q.log.Warn("assessment job failed", zap.String("evidence_id", id), zap.Error(err))
			}
		}
	}
}

func (q *Queue) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(q.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Sweep enqueues every open evidence item still waiting for its assessment.
func (q *Queue) Sweep(ctx context.Context) int {
	ids, err := q.pending(ctx)
	if err != nil {
		q.log.Warn("assessment sweep failed", zap.Error(err))
		return 0
	}
	n := 0
	for _, id := range ids {
		if q.Enqueue(id) {
			n++
		}
	}
	if n > 0 {
		q.log.Debug("assessment sweep", zap.Int("enqueued", n))
	}
	return n
}
