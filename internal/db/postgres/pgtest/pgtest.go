//go:build integration

// Package pgtest поднимает PostgreSQL в testcontainers для интеграционных тестов репозиториев.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"serotonyl.ru/reputation/internal/db/postgres"
)

// NewPool запускает контейнер, применяет миграции и возвращает пул.
// Контейнер и пул закрываются через t.Cleanup.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("reputation"),
		postgrescontainer.WithUsername("reputation"),
		postgrescontainer.WithPassword("reputation"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

// CreateUser вставляет пользователя напрямую, минуя CRUD-слой.
func CreateUser(t *testing.T, pool *pgxpool.Pool, username string, verified bool) int64 {
	t.Helper()
	var verifiedAt *time.Time
	if verified {
		now := time.Now().UTC()
		verifiedAt = &now
	}
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO users (username, email, email_verified_at)
		VALUES ($1, $1 || '@example.com', $2)
		RETURNING id
	`, username, verifiedAt).Scan(&id)
	require.NoError(t, err)
	return id
}
