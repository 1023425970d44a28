// Package streak — repository.go выполняет операции с таблицей activity_signals.
package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/reputation/internal/common"
)

// Repository работает с таблицей activity_signals.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий сигналов активности.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Record — та же логика, что и Next, одним оператором UPSERT.
func (r *Repository) Record(ctx context.Context, userID int64, day time.Time) (*Signal, error) {
	query := `
		INSERT INTO activity_signals (user_id, current_streak, longest_streak, last_activity_date)
		VALUES ($1, 1, 1, $2::date)
		ON CONFLICT (user_id) DO UPDATE
		SET current_streak = CASE
		        WHEN activity_signals.last_activity_date IS NULL THEN 1
		        WHEN activity_signals.last_activity_date >= EXCLUDED.last_activity_date THEN activity_signals.current_streak
		        WHEN activity_signals.last_activity_date = EXCLUDED.last_activity_date - 1 THEN activity_signals.current_streak + 1
		        ELSE 1
		    END,
		    longest_streak = GREATEST(activity_signals.longest_streak, CASE
		        WHEN activity_signals.last_activity_date IS NULL THEN 1
		        WHEN activity_signals.last_activity_date >= EXCLUDED.last_activity_date THEN activity_signals.current_streak
		        WHEN activity_signals.last_activity_date = EXCLUDED.last_activity_date - 1 THEN activity_signals.current_streak + 1
		        ELSE 1
		    END),
		    last_activity_date = GREATEST(activity_signals.last_activity_date, EXCLUDED.last_activity_date),
		    updated_at = NOW()
		RETURNING user_id, current_streak, longest_streak, last_activity_date, updated_at
	`
	var s Signal
	err := r.db.QueryRow(ctx, query, userID, day).Scan(
		&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.LastActivityDate, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления активности (user_id=%d): %w", userID, err)
	}
	return &s, nil
}

// Get возвращает сигнал пользователя.
func (r *Repository) Get(ctx context.Context, userID int64) (*Signal, error) {
	var s Signal
	var last *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT user_id, current_streak, longest_streak, last_activity_date, updated_at
		FROM activity_signals
		WHERE user_id = $1
	`, userID).Scan(&s.UserID, &s.CurrentStreak, &s.LongestStreak, &last, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("активность user_id=%d: %w", userID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения активности: %w", err)
	}
	if last != nil {
		s.LastActivityDate = *last
	}
	return &s, nil
}
