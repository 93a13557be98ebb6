package session_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/session"
	mock_session "github.com/conorfennell/hoksip/internal/session/mock"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	now   = time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC)
	today = domain.DateIn(now, time.UTC)
)

// memStore is an in-memory card store.
type memStore struct {
	mu      sync.Mutex
	cards   map[int64]domain.Card
	updates int
}

func newMemStore(cards ...domain.Card) *memStore {
	m := &memStore{cards: make(map[int64]domain.Card)}
	for _, c := range cards {
		m.cards[c.ID] = c
	}
	return m
}

func (m *memStore) sorted(keep func(domain.Card) bool) []domain.Card {
	var out []domain.Card
	for _, c := range m.cards {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) GetCardsBySubject(_ context.Context, owner, subject string) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c domain.Card) bool {
		return c.Owner == owner && c.Subject == subject && !c.Retired
	}), nil
}

func (m *memStore) GetDueCards(_ context.Context, owner, subject string, day time.Time) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c domain.Card) bool {
		return c.Owner == owner && c.Subject == subject && !c.Retired && !c.NextDueDate.After(day)
	}), nil
}

func (m *memStore) GetCard(_ context.Context, id int64) (domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memStore) UpdateProgress(_ context.Context, id int64, p domain.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Progress = p
	m.cards[id] = c
	m.updates++
	return nil
}

func (m *memStore) DeleteCard(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.cards, id)
	return nil
}

func (m *memStore) card(id int64) (domain.Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	return c, ok
}

type countingLedger struct {
	calls atomic.Int32
}

func (l *countingLedger) AwardCompletion(context.Context, string) (domain.Award, error) {
	n := l.calls.Add(1)
	return domain.Award{Points: int(n), StreakDays: 1}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func dueCard(id int64, subject string, proficiency int) domain.Card {
	return domain.Card{
		ID:       id,
		Owner:    "u1",
		Subject:  subject,
		Original: "sentence",
		Progress: domain.Progress{
			Proficiency:      proficiency,
			LastExerciseDate: today.AddDate(0, 0, -1),
			NextDueDate:      today,
		},
	}
}

func newEngine(t *testing.T, store session.CardStore, ledger session.RewardLedger) (*session.Engine, *clock) {
	t.Helper()
	clk := &clock{t: now}
	e := session.NewEngine(session.NewRegistry(), store, ledger, nil, session.Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
		Now:           clk.Now,
	}, zap.NewNop())
	return e, clk
}

func TestEngine_PassiveReviewEndToEnd(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 5), dueCard(2, "jp", 0))
	ledger := &countingLedger{}
	e, _ := newEngine(t, store, ledger)
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Card.ID)
	assert.Equal(t, 1, v.Position)
	assert.Equal(t, 2, v.Total)

	res, err := e.Answer(ctx, "u1", v.Version, true)
	require.NoError(t, err)
	assert.Equal(t, session.Scheduled, res.Outcome)
	assert.Equal(t, session.Active, res.State)
	assert.Equal(t, int64(2), res.Card.ID)
	assert.Nil(t, res.Award)

	a, _ := store.card(1)
	assert.Equal(t, 6, a.Proficiency)
	assert.True(t, a.Retired)

	res, err = e.Answer(ctx, "u1", res.Version, false)
	require.NoError(t, err)
	assert.Equal(t, session.Completed, res.State)
	require.NotNil(t, res.Award)

	b, _ := store.card(2)
	assert.Equal(t, 0, b.Proficiency)
	assert.True(t, b.NextDueDate.Equal(today.AddDate(0, 0, 1)))
	assert.True(t, b.LastExerciseDate.Equal(today))
	assert.Equal(t, 1, b.ReviewCount)
	assert.Equal(t, 0, b.SuccessCount)

	assert.Equal(t, int32(1), ledger.calls.Load())
	assert.Nil(t, e.Registry().Lookup("u1"))

	_, err = e.Answer(ctx, "u1", res.Version, true)
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Equal(t, int32(1), ledger.calls.Load())
}

func TestEngine_StaleAnswerIsIgnored(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 2), dueCard(2, "jp", 2))
	e, _ := newEngine(t, store, &countingLedger{})
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)

	res, err := e.Answer(ctx, "u1", v.Version, true)
	require.NoError(t, err)

	// The same button clicked twice.
	_, err = e.Answer(ctx, "u1", v.Version, true)
	assert.ErrorIs(t, err, session.ErrStale)
	_, err = e.Delete(ctx, "u1", v.Version)
	assert.ErrorIs(t, err, session.ErrStale)
	_, err = e.End(ctx, "u1", v.Version)
	assert.ErrorIs(t, err, session.ErrStale)

	cur, err := e.Current("u1")
	require.NoError(t, err)
	assert.Equal(t, res.Version, cur.Version)
	assert.Equal(t, int64(2), cur.Card.ID)

	c1, _ := store.card(1)
	c2, _ := store.card(2)
	assert.Equal(t, 3, c1.Proficiency)
	assert.Equal(t, 2, c2.Proficiency)
	assert.Equal(t, 1, store.updates)
}

func TestEngine_ConcurrentDuplicateAnswers(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 0), dueCard(2, "jp", 0), dueCard(3, "jp", 0))
	e, _ := newEngine(t, store, &countingLedger{})
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
		stale   atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Answer(ctx, "u1", v.Version, true)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, session.ErrStale):
				stale.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(15), stale.Load())
	c1, _ := store.card(1)
	assert.Equal(t, 1, c1.Proficiency)
	assert.Equal(t, 1, c1.ReviewCount)
}

func TestEngine_DeleteLastCardCompletes(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 1))
	ledger := &countingLedger{}
	e, _ := newEngine(t, store, ledger)
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)

	res, err := e.Delete(ctx, "u1", v.Version)
	require.NoError(t, err)
	assert.Equal(t, session.Deleted, res.Outcome)
	assert.Equal(t, session.Completed, res.State)
	assert.Equal(t, 1, res.Tally.Deleted)
	assert.Equal(t, int32(1), ledger.calls.Load())

	_, ok := store.card(1)
	assert.False(t, ok)
	assert.Nil(t, e.Registry().Lookup("u1"))
}

func TestEngine_DeleteKeepsOrderOfRemainingCards(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 1), dueCard(2, "jp", 1), dueCard(3, "jp", 1))
	e, _ := newEngine(t, store, &countingLedger{})
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)
	res, err := e.Answer(ctx, "u1", v.Version, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Card.ID)

	res, err = e.Delete(ctx, "u1", res.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Card.ID)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Position)
}

func TestEngine_BusyUntilEnded(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 0), dueCard(2, "de", 0))
	ledger := &countingLedger{}
	e, _ := newEngine(t, store, ledger)
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)

	_, err = e.Start(ctx, "u1", "de", domain.Active)
	assert.ErrorIs(t, err, session.ErrBusy)

	res, err := e.End(ctx, "u1", v.Version)
	require.NoError(t, err)
	assert.Equal(t, session.Cancelled, res.State)
	assert.Equal(t, session.Ended, res.Outcome)
	assert.Equal(t, int32(0), ledger.calls.Load())

	_, err = e.Start(ctx, "u1", "de", domain.Active)
	require.NoError(t, err)
}

func TestEngine_ActiveModeDoesNotReschedule(t *testing.T) {
	c := dueCard(1, "jp", 3)
	c.NextDueDate = today.AddDate(0, 0, 4)
	store := newMemStore(c)
	e, _ := newEngine(t, store, &countingLedger{})
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Active)
	require.NoError(t, err)
	res, err := e.Answer(ctx, "u1", v.Version, false)
	require.NoError(t, err)
	assert.Equal(t, session.Practiced, res.Outcome)
	assert.Equal(t, session.Completed, res.State)

	got, _ := store.card(1)
	assert.Equal(t, 3, got.Proficiency)
	assert.True(t, got.NextDueDate.Equal(c.NextDueDate))
	assert.Equal(t, 1, got.ReviewCount)
}

func TestEngine_NoCardsReleasesSlot(t *testing.T) {
	future := dueCard(1, "jp", 0)
	future.NextDueDate = today.AddDate(0, 0, 2)
	e, _ := newEngine(t, newMemStore(future), &countingLedger{})
	ctx := context.Background()

	_, err := e.Start(ctx, "u1", "jp", domain.Passive)
	assert.ErrorIs(t, err, session.ErrNoCards)
	assert.Nil(t, e.Registry().Lookup("u1"))

	_, err = e.Start(ctx, "u1", "", domain.Passive)
	assert.ErrorIs(t, err, domain.ErrInvalid)
	assert.Nil(t, e.Registry().Lookup("u1"))
}

func TestEngine_StartTrimsSubject(t *testing.T) {
	e, _ := newEngine(t, newMemStore(dueCard(1, "jp", 0)), &countingLedger{})

	v, err := e.Start(context.Background(), "u1", "  jp \t", domain.Passive)
	require.NoError(t, err)
	assert.Equal(t, "jp", v.Subject)
	assert.Equal(t, int64(1), v.Card.ID)
	assert.Equal(t, "jp", e.Registry().Lookup("u1").Subject)
}

func TestEngine_VanishedCardIsSkipped(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 2), dueCard(2, "jp", 2))
	e, _ := newEngine(t, store, &countingLedger{})
	ctx := context.Background()

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)
	require.NoError(t, store.DeleteCard(ctx, 1))

	res, err := e.Answer(ctx, "u1", v.Version, true)
	require.NoError(t, err)
	assert.Equal(t, session.Skipped, res.Outcome)
	assert.Equal(t, int64(2), res.Card.ID)
	assert.Equal(t, 1, res.Tally.Skipped)
	assert.Equal(t, 0, store.updates)
}

func TestEngine_SweepExpiresIdleSessions(t *testing.T) {
	store := newMemStore(dueCard(1, "jp", 0), dueCard(2, "de", 0))
	store.cards[2] = func() domain.Card { c := store.cards[2]; c.Owner = "u2"; return c }()
	e, clk := newEngine(t, store, &countingLedger{})
	ctx := context.Background()

	v1, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)
	_, err = e.Start(ctx, "u2", "de", domain.Passive)
	require.NoError(t, err)

	clk.Advance(15 * time.Minute)
	assert.Equal(t, 1, e.Sweep(ctx))
	assert.Equal(t, 1, e.Registry().Len())
	assert.Nil(t, e.Registry().Lookup("u1"))
	assert.NotNil(t, e.Registry().Lookup("u2"))

	_, err = e.Answer(ctx, "u1", v1.Version, true)
	assert.ErrorIs(t, err, session.ErrNoSession)

	_, err = e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)
}

func TestEngine_StoreFailureDoesNotAdvance(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_session.NewMockCardStore(ctrl)
	ledger := mock_session.NewMockRewardLedger(ctrl)
	e, _ := newEngine(t, store, ledger)
	ctx := context.Background()

	c := dueCard(7, "jp", 1)
	store.EXPECT().GetDueCards(gomock.Any(), "u1", "jp", today).Return([]domain.Card{c}, nil)
	store.EXPECT().GetCard(gomock.Any(), int64(7)).Return(c, nil).Times(2)

	diskErr := errors.New("database is locked")
	gomock.InOrder(
		store.EXPECT().UpdateProgress(gomock.Any(), int64(7), gomock.Any()).Return(diskErr),
		store.EXPECT().UpdateProgress(gomock.Any(), int64(7), gomock.Any()).Return(nil),
	)
	ledger.EXPECT().AwardCompletion(gomock.Any(), "u1").Return(domain.Award{Points: 3, StreakDays: 2}, nil).Times(1)

	v, err := e.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)

	_, err = e.Answer(ctx, "u1", v.Version, true)
	var storeErr *session.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, diskErr)

	cur, err := e.Current("u1")
	require.NoError(t, err)
	assert.Equal(t, v.Version, cur.Version)
	assert.Equal(t, int64(7), cur.Card.ID)

	res, err := e.Answer(ctx, "u1", v.Version, true)
	require.NoError(t, err)
	assert.Equal(t, session.Completed, res.State)
	require.NotNil(t, res.Award)
	assert.Equal(t, 3, res.Award.Points)
}

func TestEngine_DeleteFailureDoesNotAdvance(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_session.NewMockCardStore(ctrl)
	ledger := mock_session.NewMockRewardLedger(ctrl)
	e, _ := newEngine(t, store, ledger)
	ctx := context.Background()

	store.EXPECT().GetCardsBySubject(gomock.Any(), "u1", "jp").
		Return([]domain.Card{dueCard(1, "jp", 0), dueCard(2, "jp", 0)}, nil)
	store.EXPECT().DeleteCard(gomock.Any(), int64(1)).Return(errors.New("timeout"))

	v, err := e.Start(ctx, "u1", "jp", domain.Active)
	require.NoError(t, err)

	_, err = e.Delete(ctx, "u1", v.Version)
	var storeErr *session.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "delete", storeErr.Op)

	cur, err := e.Current("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Card.ID)
	assert.Equal(t, 2, cur.Total)
}

func TestEngine_SnapshotsAndRestore(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore(dueCard(1, "jp", 0), dueCard(2, "jp", 0), dueCard(3, "jp", 0))
	snaps := mock_session.NewMockSnapshotStore(ctrl)
	clk := &clock{t: now}
	cfg := session.Config{IdleTimeout: 30 * time.Minute, Now: clk.Now}
	ctx := context.Background()

	var saved session.Snapshot
	snaps.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s session.Snapshot) error {
			saved = s
			return nil
		}).Times(2)

	first := session.NewEngine(session.NewRegistry(), store, &countingLedger{}, snaps, cfg, zap.NewNop())
	v, err := first.Start(ctx, "u1", "jp", domain.Passive)
	require.NoError(t, err)
	res, err := first.Answer(ctx, "u1", v.Version, true)
	require.NoError(t, err)

	assert.Equal(t, [][]int64{{1, 2, 3}}, saved.Batches)
	assert.Equal(t, 1, saved.CardIndex)
	assert.Equal(t, res.Version, saved.Version)

	// Card 1 disappears while the process is down; the pointer must still land on card 2.
	require.NoError(t, store.DeleteCard(ctx, 1))
	stale := saved
	stale.UserID = "u2"
	stale.LastActivity = now.Add(-2 * time.Hour)

	snaps.EXPECT().LoadSnapshots(gomock.Any()).Return([]session.Snapshot{saved, stale}, nil)
	snaps.EXPECT().DeleteSnapshot(gomock.Any(), "u2").Return(nil)

	second := session.NewEngine(session.NewRegistry(), store, &countingLedger{}, snaps, cfg, zap.NewNop())
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err := second.Current("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Card.ID)
	assert.Equal(t, res.Version, cur.Version)

	snaps.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(nil)
	next, err := second.Answer(ctx, "u1", cur.Version, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Card.ID)
	assert.Greater(t, next.Version, cur.Version)
}
