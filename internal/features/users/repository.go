// Package users — repository.go отвечает за операции с таблицей users.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/reputation/internal/common"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create добавляет пользователя. На конфликте по username обновляет только контакты
// (карму и уровень не трогает — они производные).
func (r *Repository) Create(ctx context.Context, u *User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (username, email, email_verified_at, telegram_chat_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
		SET email = EXCLUDED.email,
		    email_verified_at = EXCLUDED.email_verified_at,
		    telegram_chat_id = EXCLUDED.telegram_chat_id,
		    updated_at = NOW()
		RETURNING id, karma_points, tier_id, created_at, updated_at
	`, u.Username, u.Email, u.EmailVerifiedAt, u.TelegramChatID).Scan(
		&u.ID, &u.KarmaPoints, &u.TierID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания пользователя %q: %w", u.Username, err)
	}
	return nil
}

// GetByID: если не найден — common.ErrUserNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	var u User
	var email *string
	err := r.db.QueryRow(ctx, `
		SELECT id, username, email, email_verified_at, telegram_chat_id,
		       karma_points, tier_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&u.ID, &u.Username, &email, &u.EmailVerifiedAt, &u.TelegramChatID,
		&u.KarmaPoints, &u.TierID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", id, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (user_id=%d): %w", id, err)
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}

// VerifyEmail отмечает почту подтверждённой (повторный вызов не сдвигает дату).
func (r *Repository) VerifyEmail(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET email_verified_at = COALESCE(email_verified_at, $2), updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка подтверждения почты: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user_id=%d: %w", id, common.ErrUserNotFound)
	}
	return nil
}
