package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/redmansion/progression-engine/pkg/logger"
	"github.com/redmansion/progression-engine/pkg/timeutil"
)

// testCurve has thresholds 0/50/120.
func testCurve(t *testing.T) *progression.LevelCurve {
	t.Helper()
	curve, err := progression.NewLevelCurve([]progression.LevelDefinition{
		{Level: 0, XPThreshold: 0},
		{Level: 1, XPThreshold: 50, UnlockedContent: []string{"chapters-1-10"}, UnlockedPermissions: []string{"community.comment"}},
		{Level: 2, XPThreshold: 120, UnlockedContent: []string{"chapters-11-30"}, UnlockedPermissions: []string{"community.post"},
			AttributeRewards: map[string]int{shared.AttributeLiterary: 5}},
	})
	require.NoError(t, err)
	return curve
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// day returns noon of a reference-zone date.
func day(year, month, d int) time.Time {
	return timeutil.Date(year, month, d).Add(12 * time.Hour)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// failingStore fails SaveProfile after the guard has been claimed in the
// same transaction.
type failingStore struct {
	progression.Store
	failSave bool
}

type failingTx struct {
	progression.Tx
	failSave bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) RunInTransaction(ctx context.Context, userID string, fn func(progression.Tx) error) error {
	return s.Store.RunInTransaction(ctx, userID, func(tx progression.Tx) error {
		return fn(&failingTx{Tx: tx, failSave: s.failSave})
	})
}

func (tx *failingTx) SaveProfile(ctx context.Context, p *progression.Profile) error {
	if tx.failSave {
		return errDiskFull
	}
	return tx.Tx.SaveProfile(ctx, p)
}

type harness struct {
	store     *memory.Store
	clock     *clock
	publisher *recordingPublisher
	logs      *observer.ObservedLogs
	deps      Deps
	award     *AwardXPHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		store:     memory.NewStore(),
		clock:     newClock(day(2026, 10, 18)),
		publisher: &recordingPublisher{},
		logs:      logs,
	}
	h.deps = Deps{
		Store:     h.store,
		Curve:     testCurve(t),
		Publisher: h.publisher,
		Logger:    logger.NewFromZap(zap.New(core)),
		Now:       h.clock.Now,
	}
	h.award = NewAwardXPHandler(h.deps, DefaultAwardXPHandlerConfig())
	return h
}

func (h *harness) profile(t *testing.T, userID string) *progression.Profile {
	t.Helper()
	p, err := h.store.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return p
}
