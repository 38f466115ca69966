package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stakeproof/internal/catalog"
	"stakeproof/internal/config"
	"stakeproof/internal/events"
	"stakeproof/internal/keymu"
	"stakeproof/internal/ledger"
	"stakeproof/internal/metrics"
	"stakeproof/internal/progress"
	"stakeproof/internal/scoring"
	"stakeproof/internal/wallet"
)

type Engine struct {
	Ledger   *ledger.Ledger
	Wallet   wallet.Wallet
	Tracker  *progress.Tracker
	Catalog  *catalog.Catalog
	Events   events.Log
	Assessor Assessor
	Queue    *Queue
	Metrics  *metrics.Metrics
	Config   *config.Config
	Logger   *zap.Logger
	Now      func() time.Time
	NewID    func() string

	shared *shared
}

// shared is the coordination state every copy of an Engine points at.
type shared struct {
	flights singleflight.Group
	joins   keymu.Map

	mu      sync.Mutex
	reviews map[string]struct{}
}

// Stores bundles the persistence an Engine runs on.
type Stores struct {
	Missions ledger.Store
	Wallet   wallet.Wallet
	Profiles progress.Store
	Events   events.Log
}

// MemoryStores returns in-process stores seeded from cfg.
func MemoryStores(cfg *config.Config) Stores {
	return Stores{
		Missions: ledger.NewMemoryStore(),
		Wallet:   wallet.NewMemory(cfg.Economy.StartingBalance),
		Profiles: progress.NewMemoryStore(),
		Events:   &events.Memory{},
	}
}

func New(cfg *config.Config, st Stores) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	v := cfg.Verification
	return Engine{
		Ledger: ledger.New(st.Missions, ledger.Config{
			Weights:  scoring.Weights{AI: v.AIWeight, Community: v.CommunityWeight, Threshold: v.ApproveThreshold},
			MinVotes: v.MinVotes,
		}),
		Wallet:  st.Wallet,
		Tracker: progress.NewTracker(st.Profiles),
		Catalog: catalog.Default(),
		Events:  st.Events,
		Config:  cfg,
		Logger:  zap.NewNop(),
		Now:     time.Now,
		NewID:   uuid.NewString,
		shared:  &shared{reviews: map[string]struct{}{}},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// emit appends an event after the state change it describes is stored.
// A failed append is logged; the change itself stands.
func (e Engine) emit(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Append(ctx, evtType, entityKind, entityID, actorID, payload); err != nil {
		e.logger().Warn("append event failed",
			zap.String("type", evtType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// beginReview marks missionID as under review; false if a review is already running.
func (e Engine) beginReview(missionID string) bool {
	e.shared.mu.Lock()
	defer e.shared.mu.Unlock()
	if _, busy := e.shared.reviews[missionID]; busy {
		return false
	}
	e.shared.reviews[missionID] = struct{}{}
	return true
}

func (e Engine) endReview(missionID string) {
	e.shared.mu.Lock()
	delete(e.shared.reviews, missionID)
	e.shared.mu.Unlock()
}
