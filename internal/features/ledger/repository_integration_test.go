//go:build integration

package ledger_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/db/postgres/pgtest"
	"serotonyl.ru/reputation/internal/features/ledger"
	"serotonyl.ru/reputation/internal/features/tiers"
	"serotonyl.ru/reputation/internal/features/users"
)

func TestRepositoryRecalculateAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.NewPool(t)
	logger, _ := test.NewNullLogger()

	tierRepo := tiers.NewRepository(pool)
	for name, score := range map[string]int64{"Новичок": 0, "Участник": 100, "Знаток": 500} {
		tier := tiers.Tier{Name: name, RequiredScore: score}
		require.NoError(t, tierRepo.Upsert(ctx, &tier))
	}

	repo := ledger.NewRepository(pool)
	engine := ledger.NewEngine(repo, tierRepo, ledger.WithBatchSize(2), ledger.WithEngineLogger(logger))

	alice := pgtest.CreateUser(t, pool, "alice", true)
	bob := pgtest.CreateUser(t, pool, "bob", true)
	carol := pgtest.CreateUser(t, pool, "carol", false)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, &ledger.Entry{UserID: alice, Amount: 100, Source: ledger.SourcePost}))
	}
	require.NoError(t, repo.Append(ctx, &ledger.Entry{UserID: bob, Amount: 40, Source: ledger.SourceComment}))
	// Рассинхронизированный агрегат без записей в журнале.
	require.NoError(t, repo.AddKarma(ctx, carol, 300))

	sum, err := engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Processed)
	require.Equal(t, 3, sum.Succeeded)
	require.Equal(t, carol, sum.LastUserID)

	userRepo := users.NewRepository(pool)
	for id, want := range map[int64]int64{alice: 500, bob: 40, carol: 0} {
		u, err := userRepo.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, u.KarmaPoints)
		require.NotNil(t, u.TierID)
	}

	again, err := engine.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Empty(t, again.TierUps)

	history, err := repo.History(ctx, alice, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)

	err = repo.Append(ctx, &ledger.Entry{UserID: 999999, Amount: 1, Source: ledger.SourceAdmin})
	require.ErrorIs(t, err, common.ErrUserNotFound)
}
