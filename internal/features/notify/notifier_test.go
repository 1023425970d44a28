package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/reputation/internal/db/memory"
	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/notify"
	"serotonyl.ru/reputation/internal/features/tiers"
	"serotonyl.ru/reputation/internal/features/users"
)

// 15 июня 2026, 12:00 UTC — 15:00 по Москве.
var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	userID int64
	kind   notify.Kind
	ref    string
	text   string
}

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[int64]bool
	panics map[int64]bool
}

func (d *recordingDispatcher) Send(_ context.Context, r notify.Recipient, kind notify.Kind, p notify.Payload) error {
	if d.panics[r.UserID] {
		panic("сломанный доставщик")
	}
	if d.failOn[r.UserID] {
		return errors.New("канал недоступен")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{userID: r.UserID, kind: kind, ref: p.Reference, text: p.Text})
	return nil
}

func (d *recordingDispatcher) users() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, 0, len(d.sent))
	for _, m := range d.sent {
		out = append(out, m.userID)
	}
	return out
}

type fixture struct {
	store      *memory.Store
	dispatcher *recordingDispatcher
	notifier   *notify.Notifier
	hook       *test.Hook
}

func newFixture(t *testing.T, opts notify.Options) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	store := memory.New()
	d := &recordingDispatcher{failOn: map[int64]bool{}, panics: map[int64]bool{}}
	n := notify.NewNotifier(store.Notifications(), store.Notifications(), d, opts,
		notify.WithClock(func() time.Time { return now }),
		notify.WithLogger(logger),
	)
	return &fixture{store: store, dispatcher: d, notifier: n, hook: hook}
}

// user создаёт пользователя, активного daysAgo календарных дней назад (по MSK).
// daysAgo < 0 — без сигнала активности.
func (f *fixture) user(t *testing.T, name string, verified bool, daysAgo int) int64 {
	t.Helper()
	ctx := context.Background()

	u := &users.User{Username: name, Email: name + "@example.org"}
	if verified {
		at := now.Add(-30 * 24 * time.Hour)
		u.EmailVerifiedAt = &at
	}
	require.NoError(t, f.store.Users().Create(ctx, u))

	if daysAgo >= 0 {
		msk := time.FixedZone("MSK", 3*60*60)
		local := now.In(msk)
		d := time.Date(local.Year(), local.Month(), local.Day()-daysAgo, 0, 0, 0, 0, time.UTC)
		_, err := f.store.Signals().Record(ctx, u.ID, d)
		require.NoError(t, err)
	}
	return u.ID
}

func event() *events.KarmaEvent {
	return &events.KarmaEvent{
		ID:         uuid.MustParse("7d0f3c57-3f5a-4a1e-9d43-0b1c2d3e4f50"),
		Type:       "tide",
		Name:       "Прилив кармы",
		Multiplier: decimal.NewFromInt(2),
		StartAt:    now.Add(3 * time.Hour),
		EndAt:      now.Add(27 * time.Hour),
	}
}

func mskOptions() notify.Options {
	return notify.Options{Location: time.FixedZone("MSK", 3*60*60), BatchSize: 2, MaxInflight: 4}
}

func TestNotifyUpcomingEventAudienceFilters(t *testing.T) {
	f := newFixture(t, mskOptions())
	ctx := context.Background()

	sixDays := f.user(t, "six", true, 6)
	sevenDays := f.user(t, "seven", true, 7)
	f.user(t, "eight", true, 8)
	f.user(t, "unverified", false, 0)
	f.user(t, "silent", true, -1)
	today := f.user(t, "today", true, 0)

	sent, err := f.notifier.NotifyUpcomingEvent(ctx, event(), 0)
	require.NoError(t, err)
	require.Equal(t, 3, sent)
	require.ElementsMatch(t, []int64{sixDays, sevenDays, today}, f.dispatcher.users())
}

func TestUpcomingEventTextNamesWholeDays(t *testing.T) {
	f := newFixture(t, mskOptions())
	f.user(t, "alice", true, 0)

	sent, err := f.notifier.NotifyUpcomingEvent(context.Background(), event(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Equal(t, "Прилив кармы начнётся 15.06.2026 18:00 и продлится 1 день. Вся карма ×2.", f.dispatcher.sent[0].text)
}

func TestNotifyUpcomingEventLimitIsDeterministic(t *testing.T) {
	f := newFixture(t, mskOptions())
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, f.user(t, name, true, 1))
	}

	sent, err := f.notifier.NotifyUpcomingEvent(ctx, event(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, sent)
	require.ElementsMatch(t, ids[:3], f.dispatcher.users())

	// Повторный прогон доходит до тех, кому анонс ещё не отправлялся.
	sent, err = f.notifier.NotifyUpcomingEvent(ctx, event(), 3)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.ElementsMatch(t, ids, f.dispatcher.users())

	sent, err = f.notifier.NotifyUpcomingEvent(ctx, event(), 3)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Len(t, f.dispatcher.users(), 5)
}

func TestSelectAudienceSkipsAlreadyNotified(t *testing.T) {
	f := newFixture(t, mskOptions())
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, f.user(t, name, true, 2))
	}
	ref := event().ID.String()
	for _, id := range ids[:3] {
		_, err := f.store.Notifications().Reserve(ctx, notify.DedupeKey(notify.KindUpcomingEvent, ref, id), id, notify.KindUpcomingEvent, now)
		require.NoError(t, err)
	}

	got, err := f.notifier.SelectAudience(ctx, now, 2, notify.KindUpcomingEvent, ref)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ids[3], got[0].UserID)
	require.Equal(t, ids[4], got[1].UserID)

	// Другое событие журналом не затронуто.
	got, err = f.notifier.SelectAudience(ctx, now, 2, notify.KindUpcomingEvent, "другое")
	require.NoError(t, err)
	require.Equal(t, ids[0], got[0].UserID)
}

func TestNotifyUpcomingEventIsolatesFailures(t *testing.T) {
	f := newFixture(t, mskOptions())
	ctx := context.Background()

	a := f.user(t, "a", true, 0)
	b := f.user(t, "b", true, 0)
	c := f.user(t, "c", true, 0)
	d := f.user(t, "d", true, 0)
	f.dispatcher.failOn[b] = true
	f.dispatcher.panics[c] = true

	sent, err := f.notifier.NotifyUpcomingEvent(ctx, event(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.ElementsMatch(t, []int64{a, d}, f.dispatcher.users())
}

func TestNotifyAchievementUnlockedSendsOnce(t *testing.T) {
	f := newFixture(t, mskOptions())
	ctx := context.Background()
	id := f.user(t, "alice", false, -1)

	a := &achievements.Achievement{ID: 1, Slug: "members-10", Name: "Десятка", KarmaBonus: 50}
	require.True(t, f.notifier.NotifyAchievementUnlocked(ctx, id, a))
	require.False(t, f.notifier.NotifyAchievementUnlocked(ctx, id, a))
	require.Len(t, f.dispatcher.users(), 1)
	require.Equal(t, notify.KindAchievementUnlocked, f.dispatcher.sent[0].kind)

	require.False(t, f.notifier.NotifyAchievementUnlocked(ctx, 4242, a))
}

func TestNotifyAchievementUnlockedReportsDeliveryFailure(t *testing.T) {
	f := newFixture(t, mskOptions())
	ctx := context.Background()
	id := f.user(t, "alice", true, 0)
	f.dispatcher.failOn[id] = true

	a := &achievements.Achievement{ID: 1, Slug: "members-10", Name: "Десятка"}
	require.False(t, f.notifier.NotifyAchievementUnlocked(ctx, id, a))
}

func TestNotifyTierUpWritesSingleAuditEntry(t *testing.T) {
	f := newFixture(t, mskOptions())

	ok := f.notifier.NotifyTierUp(context.Background(), 42, tiers.Tier{ID: 3, Name: "Знаток", RequiredScore: 500})
	require.True(t, ok)

	entries := f.hook.AllEntries()
	require.Len(t, entries, 1)
	require.Equal(t, logrus.InfoLevel, entries[0].Level)
	require.EqualValues(t, 42, entries[0].Data["user_id"])
	require.Equal(t, "Знаток", entries[0].Data["tier"])
	require.Empty(t, f.dispatcher.users())
}

func TestSinceIsInclusiveCalendarBoundary(t *testing.T) {
	f := newFixture(t, mskOptions())
	since := f.notifier.Since(now)
	require.True(t, since.Equal(time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)))
}

func TestDedupeKey(t *testing.T) {
	k := notify.DedupeKey(notify.KindUpcomingEvent, "ref", 1)
	require.Len(t, k, 32)
	require.Equal(t, k, notify.DedupeKey(notify.KindUpcomingEvent, "ref", 1))
	require.NotEqual(t, k, notify.DedupeKey(notify.KindUpcomingEvent, "ref", 2))
	require.NotEqual(t, k, notify.DedupeKey(notify.KindAchievementUnlocked, "ref", 1))
}
