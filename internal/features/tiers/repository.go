// Package tiers — repository.go выполняет операции с таблицей tiers.
package tiers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository работает с таблицей tiers.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий уровней.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// List возвращает все уровни по возрастанию порога.
func (r *Repository) List(ctx context.Context) ([]Tier, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, required_score, created_at
		FROM tiers
		ORDER BY required_score, id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уровней: %w", err)
	}
	defer rows.Close()

	var out []Tier
	for rows.Next() {
		var t Tier
		if err := rows.Scan(&t.ID, &t.Name, &t.RequiredScore, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уровня: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert создаёт уровень или обновляет порог существующего (по имени).
func (r *Repository) Upsert(ctx context.Context, t *Tier) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO tiers (name, required_score)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET required_score = EXCLUDED.required_score
		RETURNING id, created_at
	`, t.Name, t.RequiredScore).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения уровня %q: %w", t.Name, err)
	}
	return nil
}
