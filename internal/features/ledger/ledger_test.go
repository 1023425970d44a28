package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/db/memory"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/ledger"
	"serotonyl.ru/reputation/internal/features/tiers"
	"serotonyl.ru/reputation/internal/features/users"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	events  *events.Service
	service *ledger.Service
	engine  *ledger.Engine
	tiers   map[string]tiers.Tier
}

func newFixture(t *testing.T, batch int, tierDefs map[string]int64) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := func() time.Time { return now }

	store := memory.New()
	store.SetClock(clock)

	f := &fixture{
		store:  store,
		events: events.NewService(store.Events(), events.WithClock(clock), events.WithLogger(logger)),
		tiers:  make(map[string]tiers.Tier),
	}
	f.service = ledger.NewService(store.Ledger(), f.events, ledger.WithClock(clock), ledger.WithLogger(logger))
	f.engine = ledger.NewEngine(store.Ledger(), store.Tiers(),
		ledger.WithBatchSize(batch),
		ledger.WithEngineLogger(logger),
		ledger.WithEngineClock(clock),
	)

	for name, score := range tierDefs {
		tier := tiers.Tier{Name: name, RequiredScore: score}
		require.NoError(t, store.Tiers().Upsert(context.Background(), &tier))
		f.tiers[name] = tier
	}
	return f
}

func (f *fixture) user(t *testing.T, name string) int64 {
	t.Helper()
	u := &users.User{Username: name}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u.ID
}

func (f *fixture) karma(t *testing.T, id int64) *users.User {
	t.Helper()
	u, err := f.store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

var defaultTiers = map[string]int64{"Новичок": 0, "Участник": 100, "Знаток": 500}

func TestRecalculateAllSumsLedger(t *testing.T) {
	f := newFixture(t, 2, defaultTiers)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")

	for i := 0; i < 5; i++ {
		_, err := f.service.Append(ctx, alice, 100, ledger.SourcePost, "пост")
		require.NoError(t, err)
	}
	_, err := f.service.Append(ctx, bob, 120, ledger.SourceComment, "")
	require.NoError(t, err)
	_, err = f.service.Append(ctx, bob, -30, ledger.SourceVote, "минус")
	require.NoError(t, err)

	// Оптимистичный сдвиг без записи в журнале: пересчёт обязан его убрать.
	require.NoError(t, f.store.Ledger().AddKarma(ctx, carol, 300))

	sum, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Processed)
	require.Equal(t, 3, sum.Succeeded)
	require.Zero(t, sum.Failed)
	require.Equal(t, carol, sum.LastUserID)

	require.EqualValues(t, 500, f.karma(t, alice).KarmaPoints)
	require.EqualValues(t, f.tiers["Знаток"].ID, *f.karma(t, alice).TierID)
	require.EqualValues(t, 90, f.karma(t, bob).KarmaPoints)
	require.EqualValues(t, f.tiers["Новичок"].ID, *f.karma(t, bob).TierID)
	require.Zero(t, f.karma(t, carol).KarmaPoints)
}

func TestRecalculateAllIdempotent(t *testing.T) {
	f := newFixture(t, 10, defaultTiers)
	ctx := context.Background()

	id := f.user(t, "alice")
	_, err := f.service.Append(ctx, id, 150, ledger.SourcePost, "")
	require.NoError(t, err)

	first, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	before := f.karma(t, id)

	second, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	after := f.karma(t, id)

	require.Equal(t, before.KarmaPoints, after.KarmaPoints)
	require.Equal(t, *before.TierID, *after.TierID)
	require.Equal(t, first.Processed, second.Processed)
	require.Len(t, first.TierUps, 1)
	require.Empty(t, second.TierUps)
	require.Len(t, f.store.Ledger().Entries(id), 1)
}

func TestRecalculateDetectsTierUps(t *testing.T) {
	f := newFixture(t, 10, defaultTiers)
	ctx := context.Background()

	id := f.user(t, "alice")
	_, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, f.tiers["Новичок"].ID, *f.karma(t, id).TierID)

	_, err = f.service.Append(ctx, id, 600, ledger.SourcePost, "")
	require.NoError(t, err)

	sum, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Len(t, sum.TierUps, 1)
	up := sum.TierUps[0]
	require.Equal(t, id, up.UserID)
	require.Equal(t, "Знаток", up.To.Name)
	require.NotNil(t, up.From)
	require.Equal(t, "Новичок", up.From.Name)

	// Понижение уровня повышением не считается.
	_, err = f.service.Append(ctx, id, -550, ledger.SourceAdmin, "штраф")
	require.NoError(t, err)
	sum, err = f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Empty(t, sum.TierUps)
}

func TestRecalculateMissingTierIsIsolatedFailure(t *testing.T) {
	f := newFixture(t, 10, map[string]int64{"Участник": 100})
	ctx := context.Background()

	low := f.user(t, "low")
	high := f.user(t, "high")
	_, err := f.service.Append(ctx, low, 10, ledger.SourcePost, "")
	require.NoError(t, err)
	_, err = f.service.Append(ctx, high, 200, ledger.SourcePost, "")
	require.NoError(t, err)

	sum, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, 1, sum.Succeeded)
	require.Equal(t, 1, sum.Failed)

	require.EqualValues(t, 10, f.karma(t, low).KarmaPoints)
	require.Nil(t, f.karma(t, low).TierID)
	require.EqualValues(t, 200, f.karma(t, high).KarmaPoints)
	require.NotNil(t, f.karma(t, high).TierID)
}

func TestRecalculateFallsBackPerUserWhenChunkFails(t *testing.T) {
	f := newFixture(t, 2, defaultTiers)
	ctx := context.Background()

	ids := make([]int64, 5)
	for i := range ids {
		ids[i] = f.user(t, fmt.Sprintf("user%d", i))
		_, err := f.service.Append(ctx, ids[i], int64(100*(i+1)), ledger.SourcePost, "")
		require.NoError(t, err)
	}
	f.store.FailUser(ids[2], errors.New("битая строка"))

	sum, err := f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, sum.Processed)
	require.Equal(t, 4, sum.Succeeded)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, ids[4], sum.LastUserID)

	require.EqualValues(t, 400, f.karma(t, ids[3]).KarmaPoints)
	require.EqualValues(t, 500, f.karma(t, ids[4]).KarmaPoints)
	require.Zero(t, f.karma(t, ids[2]).KarmaPoints)
}

func TestRecalculateFromResumes(t *testing.T) {
	f := newFixture(t, 2, defaultTiers)
	ctx := context.Background()

	a := f.user(t, "a")
	b := f.user(t, "b")
	c := f.user(t, "c")
	for _, id := range []int64{a, b, c} {
		_, err := f.service.Append(ctx, id, 100, ledger.SourcePost, "")
		require.NoError(t, err)
	}

	sum, err := f.engine.RecalculateFrom(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	require.Zero(t, f.karma(t, a).KarmaPoints)
	require.EqualValues(t, 100, f.karma(t, c).KarmaPoints)
}

func TestRecalculateUser(t *testing.T) {
	f := newFixture(t, 10, defaultTiers)
	ctx := context.Background()

	id := f.user(t, "alice")
	_, err := f.service.Append(ctx, id, 120, ledger.SourcePost, "")
	require.NoError(t, err)

	agg, change, err := f.engine.RecalculateUser(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 120, agg.KarmaPoints)
	require.NotNil(t, change)
	require.Equal(t, "Участник", change.To.Name)

	_, _, err = f.engine.RecalculateUser(ctx, 9999)
	require.ErrorIs(t, err, common.ErrUserNotFound)
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t, 10, defaultTiers)
	ctx := context.Background()

	_, err := f.service.Append(ctx, 0, 10, ledger.SourcePost, "")
	require.True(t, common.IsValidation(err))

	id := f.user(t, "alice")
	_, err = f.service.Append(ctx, id, 10, "", "")
	require.True(t, common.IsValidation(err))

	_, err = f.service.Append(ctx, 424242, 10, ledger.SourcePost, "")
	require.ErrorIs(t, err, common.ErrUserNotFound)
}

func TestAwardAppliesActiveMultipliersAtWriteTime(t *testing.T) {
	f := newFixture(t, 10, defaultTiers)
	ctx := context.Background()
	id := f.user(t, "alice")

	entry, err := f.service.Award(ctx, id, 10, ledger.SourcePost, "без события")
	require.NoError(t, err)
	require.EqualValues(t, 10, entry.Amount)

	_, err = f.events.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: now.Add(-time.Hour), DurationHours: 2})
	require.NoError(t, err)
	m := decimal.RequireFromString("1.25")
	_, err = f.events.Schedule(ctx, events.ScheduleParams{Type: "boost", StartAt: now.Add(-time.Hour), DurationHours: 2, Multiplier: &m})
	require.NoError(t, err)

	entry, err = f.service.Award(ctx, id, 5, ledger.SourcePost, "прилив")
	require.NoError(t, err)
	require.EqualValues(t, 13, entry.Amount) // 5 * 2 * 1.25 = 12.5 -> 13

	require.EqualValues(t, 23, f.karma(t, id).KarmaPoints)

	// Пересчёт только суммирует уже умноженные записи.
	_, err = f.engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 23, f.karma(t, id).KarmaPoints)
}

func TestApplyMultiplierRoundsHalfAwayFromZero(t *testing.T) {
	half := decimal.RequireFromString("1.5")
	require.EqualValues(t, 2, ledger.ApplyMultiplier(1, half))
	require.EqualValues(t, -2, ledger.ApplyMultiplier(-1, half))
	require.EqualValues(t, 0, ledger.ApplyMultiplier(0, half))
	require.EqualValues(t, 7, ledger.ApplyMultiplier(7, decimal.NewFromInt(1)))
}

func TestAwardLogsOptimisticFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	svc := ledger.NewService(failingKarmaStore{}, fixedMultiplier{}, ledger.WithLogger(logger))
	entry, err := svc.Award(context.Background(), 7, 10, ledger.SourcePost, "")
	require.NoError(t, err)
	require.EqualValues(t, 10, entry.Amount)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	require.True(t, warned)
}

type fixedMultiplier struct{}

func (fixedMultiplier) MultiplierAt(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

type failingKarmaStore struct{}

func (failingKarmaStore) Append(_ context.Context, e *ledger.Entry) error {
	e.ID = 1
	return nil
}

func (failingKarmaStore) AddKarma(context.Context, int64, int64) error {
	return errors.New("соединение потеряно")
}

func (failingKarmaStore) History(context.Context, int64, int) ([]*ledger.Entry, error) {
	return nil, nil
}
