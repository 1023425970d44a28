// Package events — repository.go выполняет операции с таблицей karma_events.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/reputation/internal/common"
)

const eventColumns = `id, type, name, description, multiplier, start_at, end_at, is_active, created_at`

// Repository работает с таблицей karma_events.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий событий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create сохраняет новое событие. Флаг is_active сразу выводится из времени БД.
func (r *Repository) Create(ctx context.Context, e *KarmaEvent) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO karma_events (id, type, name, description, multiplier, start_at, end_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING created_at
	`, e.ID, e.Type, e.Name, e.Description, e.Multiplier, e.StartAt, e.EndAt).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания события: %w", err)
	}
	return nil
}

// GetByID возвращает событие; если нет — common.ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*KarmaEvent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM karma_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("событие %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения события: %w", err)
	}
	return e, nil
}

// ListActiveAt — события с start_at <= t < end_at.
func (r *Repository) ListActiveAt(ctx context.Context, t time.Time) ([]*KarmaEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+`
		FROM karma_events
		WHERE start_at <= $1 AND end_at > $1
		ORDER BY start_at, id
	`, t)
}

// ListStartingIn — события с start_at в (from, to].
func (r *Repository) ListStartingIn(ctx context.Context, from, to time.Time) ([]*KarmaEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+`
		FROM karma_events
		WHERE start_at > $1 AND start_at <= $2
		ORDER BY start_at, id
	`, from, to)
}

// SyncActiveFlags одним UPDATE приводит is_active к значению, выведенному из времени.
// Строки, где флаг уже верный, не трогаются, поэтому повтор ничего не возвращает.
func (r *Repository) SyncActiveFlags(ctx context.Context, t time.Time) ([]*KarmaEvent, error) {
	return r.query(ctx, `
		UPDATE karma_events
		SET is_active = (start_at <= $1 AND end_at > $1)
		WHERE is_active IS DISTINCT FROM (start_at <= $1 AND end_at > $1)
		RETURNING `+eventColumns, t)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]*KarmaEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса событий: %w", err)
	}
	defer rows.Close()

	var out []*KarmaEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования события: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*KarmaEvent, error) {
	var e KarmaEvent
	err := row.Scan(
		&e.ID, &e.Type, &e.Name, &e.Description, &e.Multiplier,
		&e.StartAt, &e.EndAt, &e.IsActive, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
