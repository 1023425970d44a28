package streak_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/db/memory"
	"serotonyl.ru/reputation/internal/features/streak"
	"serotonyl.ru/reputation/internal/features/users"
)

func day(d int) time.Time {
	return time.Date(2026, 4, d, 0, 0, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	s := streak.Next(nil, 1, day(1))
	require.Equal(t, 1, s.CurrentStreak)
	require.Equal(t, 1, s.LongestStreak)

	s = streak.Next(&s, 1, day(1))
	require.Equal(t, 1, s.CurrentStreak)

	s = streak.Next(&s, 1, day(2))
	s = streak.Next(&s, 1, day(3))
	require.Equal(t, 3, s.CurrentStreak)
	require.Equal(t, 3, s.LongestStreak)

	// Запоздавшая активность за прошлый день ничего не ломает.
	s = streak.Next(&s, 1, day(2))
	require.Equal(t, 3, s.CurrentStreak)
	require.True(t, s.LastActivityDate.Equal(day(3)))

	s = streak.Next(&s, 1, day(6))
	require.Equal(t, 1, s.CurrentStreak)
	require.Equal(t, 3, s.LongestStreak)
	require.True(t, s.LastActivityDate.Equal(day(6)))
}

func TestRecordActivityUsesLocalCalendarDay(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := memory.New()

	u := &users.User{Username: "alice"}
	require.NoError(t, store.Users().Create(ctx, u))

	msk := time.FixedZone("MSK", 3*60*60)
	svc := streak.NewService(store.Signals(), msk, logger)

	// 22:30 UTC 1 апреля — уже 2 апреля по Москве.
	sig, err := svc.RecordActivity(ctx, u.ID, time.Date(2026, 4, 1, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, sig.LastActivityDate.Equal(day(2)))

	sig, err = svc.RecordActivity(ctx, u.ID, time.Date(2026, 4, 3, 8, 0, 0, 0, msk))
	require.NoError(t, err)
	require.Equal(t, 2, sig.CurrentStreak)

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, sig.CurrentStreak, got.CurrentStreak)

	_, err = svc.Get(ctx, 999)
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = svc.RecordActivity(ctx, 0, time.Now())
	require.True(t, common.IsValidation(err))
}
