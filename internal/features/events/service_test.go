package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/db/memory"
	"serotonyl.ru/reputation/internal/features/events"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*events.Service, *memory.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	svc := events.NewService(store.Events(),
		events.WithLogger(logger),
		events.WithClock(func() time.Time { return t0 }),
	)
	return svc, store
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func TestScheduleTideUsesTypeDefault(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: t0, DurationHours: 24})
	require.NoError(t, err)
	require.True(t, e.EndAt.Equal(t0.Add(24*time.Hour)))
	require.True(t, e.Multiplier.Equal(decimal.NewFromInt(2)))
	require.Equal(t, "Прилив кармы", e.Name)

	stored, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, stored.Multiplier.Equal(decimal.RequireFromString("2.0")))
}

func TestScheduleExplicitFieldsStoredExactly(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Schedule(ctx, events.ScheduleParams{
		Type:          "boost",
		StartAt:       t0,
		DurationHours: 12,
		Multiplier:    dec("3.0"),
		Description:   str("X"),
	})
	require.NoError(t, err)

	stored, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "boost", stored.Type)
	require.Equal(t, "X", stored.Description)
	require.True(t, stored.Multiplier.Equal(decimal.NewFromInt(3)))
	require.True(t, stored.StartAt.Equal(t0))
	require.True(t, stored.EndAt.Equal(t0.Add(12*time.Hour)))
}

func TestScheduleValidation(t *testing.T) {
	cases := []struct {
		name   string
		params events.ScheduleParams
		field  string
	}{
		{"zero duration", events.ScheduleParams{Type: "tide", StartAt: t0, DurationHours: 0}, "duration_hours"},
		{"negative duration", events.ScheduleParams{Type: "tide", StartAt: t0, DurationHours: -3}, "duration_hours"},
		{"zero multiplier", events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 1, Multiplier: dec("0")}, "multiplier"},
		{"negative multiplier", events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 1, Multiplier: dec("-1.5")}, "multiplier"},
		{"too many decimals", events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 1, Multiplier: dec("3.14159")}, "multiplier"},
		{"below column precision", events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 1, Multiplier: dec("0.00001")}, "multiplier"},
		{"above column range", events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 1, Multiplier: dec("1000000")}, "multiplier"},
		{"unknown type", events.ScheduleParams{Type: "eclipse", StartAt: t0, DurationHours: 1}, "type"},
		{"empty type", events.ScheduleParams{StartAt: t0, DurationHours: 1}, "type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newService(t)
			ctx := context.Background()

			_, err := svc.Schedule(ctx, tc.params)
			require.Error(t, err)

			var verr *common.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.field, verr.Field)

			upcoming, err := store.Events().ListStartingIn(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
			require.NoError(t, err)
			require.Empty(t, upcoming)
		})
	}
}

func TestScheduleKeepsMultiplierExactly(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, m := range []string{"0.0001", "1.2345", "999999.9999", "1.50000"} {
		e, err := svc.Schedule(ctx, events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 1, Multiplier: dec(m)})
		require.NoError(t, err, m)
		require.True(t, decimal.RequireFromString(m).Equal(e.Multiplier), m)

		stored, err := svc.Get(ctx, e.ID)
		require.NoError(t, err)
		require.True(t, e.Multiplier.Equal(stored.Multiplier), m)
	}
}

func TestScheduleUnknownTypeWrapsSentinel(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Schedule(context.Background(), events.ScheduleParams{Type: "eclipse", StartAt: t0, DurationHours: 2})
	require.ErrorIs(t, err, common.ErrUnknownEventType)

	e, err := svc.Schedule(context.Background(), events.ScheduleParams{
		Type: "eclipse", StartAt: t0, DurationHours: 2, Multiplier: dec("1.25"),
	})
	require.NoError(t, err)
	require.Equal(t, "eclipse", e.Name)
}

func TestActiveAtHalfOpenWindow(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: t0, DurationHours: 2})
	require.NoError(t, err)

	active, err := svc.ActiveAt(ctx, t0.Add(-time.Second))
	require.NoError(t, err)
	require.Empty(t, active)

	active, err = svc.ActiveAt(ctx, t0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, e.ID, active[0].ID)

	active, err = svc.ActiveAt(ctx, e.EndAt)
	require.NoError(t, err)
	require.Empty(t, active)

	require.Equal(t, events.StatusPending, e.StatusAt(t0.Add(-time.Minute)))
	require.Equal(t, events.StatusActive, e.StatusAt(t0.Add(time.Hour)))
	require.Equal(t, events.StatusExpired, e.StatusAt(e.EndAt))
}

func TestUpcomingWindow(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	now := t0
	for _, offset := range []time.Duration{0, time.Hour, 24 * time.Hour, 25 * time.Hour} {
		_, err := svc.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: now.Add(offset), DurationHours: 1})
		require.NoError(t, err)
	}

	upcoming, err := svc.Upcoming(ctx, 24, now)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	require.True(t, upcoming[0].StartAt.Equal(now.Add(time.Hour)))
	require.True(t, upcoming[1].StartAt.Equal(now.Add(24*time.Hour)))

	_, err = svc.Upcoming(ctx, 0, now)
	require.True(t, common.IsValidation(err))
}

func TestSweepIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	running, err := svc.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: t0.Add(-time.Hour), DurationHours: 3})
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: t0.Add(time.Hour), DurationHours: 3})
	require.NoError(t, err)

	res, err := svc.Sweep(ctx, t0)
	require.NoError(t, err)
	require.Len(t, res.Activated, 1)
	require.Equal(t, running.ID, res.Activated[0].ID)
	require.Empty(t, res.Deactivated)

	res, err = svc.Sweep(ctx, t0)
	require.NoError(t, err)
	require.Empty(t, res.Activated)
	require.Empty(t, res.Deactivated)

	res, err = svc.Sweep(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Activated, 1)
	require.Len(t, res.Deactivated, 1)
	require.Equal(t, running.ID, res.Deactivated[0].ID)
}

func TestMultiplierAtMultipliesConcurrentEvents(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	m, err := svc.MultiplierAt(ctx, t0)
	require.NoError(t, err)
	require.True(t, m.Equal(decimal.NewFromInt(1)))

	_, err = svc.Schedule(ctx, events.ScheduleParams{Type: "tide", StartAt: t0, DurationHours: 2})
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, events.ScheduleParams{Type: "boost", StartAt: t0, DurationHours: 2, Multiplier: dec("1.5")})
	require.NoError(t, err)

	m, err = svc.MultiplierAt(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, m.Equal(decimal.NewFromInt(3)), m.String())
}
