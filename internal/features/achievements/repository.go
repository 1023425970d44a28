// Package achievements — repository.go выполняет операции с таблицами
// achievements и unlock_records.
package achievements

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/reputation/internal/features/ledger"
)

// Repository работает с достижениями в PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий достижений.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListRaw возвращает все достижения по id.
func (r *Repository) ListRaw(ctx context.Context) ([]RawAchievement, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, slug, name, description, type, requirement_kind, requirement_params, karma_bonus
		FROM achievements
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения достижений: %w", err)
	}
	defer rows.Close()

	var out []RawAchievement
	for rows.Next() {
		var a RawAchievement
		err := rows.Scan(&a.ID, &a.Slug, &a.Name, &a.Description, &a.Type,
			&a.RequirementKind, &a.RequirementParams, &a.KarmaBonus)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования достижения: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert добавляет достижение. Достижения неизменяемы: существующий slug не обновляется.
func (r *Repository) Insert(ctx context.Context, a *RawAchievement) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO achievements (slug, name, description, type, requirement_kind, requirement_params, karma_bonus)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO NOTHING
		RETURNING id
	`, a.Slug, a.Name, a.Description, a.Type, a.RequirementKind, a.RequirementParams, a.KarmaBonus).Scan(&a.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка добавления достижения %s: %w", a.Slug, err)
	}
	return true, nil
}

// Unlock — условная вставка по ключу (user_id, achievement_id): строка
// возвращается только если unlocked_at был NULL. Конкурирующая транзакция
// ждёт на уникальном ключе и после фиксации первой не получает строку.
func (r *Repository) Unlock(ctx context.Context, c Claim) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO unlock_records (user_id, achievement_id, progress, unlocked_at)
		VALUES ($1, $2, 100, $3)
		ON CONFLICT (user_id, achievement_id) DO UPDATE
		SET progress = 100, unlocked_at = EXCLUDED.unlocked_at, updated_at = NOW()
		WHERE unlock_records.unlocked_at IS NULL
		RETURNING user_id
	`, c.UserID, c.AchievementID, c.At).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка разблокировки: %w", err)
	}

	if c.Bonus != nil {
		if err := ledger.AppendTx(ctx, tx, c.Bonus); err != nil {
			return false, fmt.Errorf("ошибка начисления бонуса: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации разблокировки: %w", err)
	}
	return true, nil
}

// SaveProgress обновляет прогресс, пока достижение не разблокировано.
func (r *Repository) SaveProgress(ctx context.Context, userID, achievementID int64, progress int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO unlock_records (user_id, achievement_id, progress)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO UPDATE
		SET progress = EXCLUDED.progress, updated_at = NOW()
		WHERE unlock_records.unlocked_at IS NULL
		  AND unlock_records.progress <> EXCLUDED.progress
	`, userID, achievementID, progress)
	if err != nil {
		return fmt.Errorf("ошибка сохранения прогресса: %w", err)
	}
	return nil
}

// Records возвращает записи пользователя.
func (r *Repository) Records(ctx context.Context, userID int64) ([]UnlockRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, achievement_id, progress, unlocked_at
		FROM unlock_records
		WHERE user_id = $1
		ORDER BY achievement_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения прогресса: %w", err)
	}
	defer rows.Close()

	var out []UnlockRecord
	for rows.Next() {
		var rec UnlockRecord
		if err := rows.Scan(&rec.UserID, &rec.AchievementID, &rec.Progress, &rec.UnlockedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования прогресса: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
