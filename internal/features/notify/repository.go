// Package notify — repository.go выбирает аудиторию и ведёт журнал уведомлений в PostgreSQL.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/reputation/internal/common"
)

// Repository реализует Audience и Journal.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий уведомлений.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ActiveVerified — см. Audience. Граница since включительна.
func (r *Repository) ActiveVerified(ctx context.Context, since time.Time, afterID int64, limit int) ([]Recipient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT u.id, u.username, COALESCE(u.email, ''), u.telegram_chat_id
		FROM users u
		JOIN activity_signals a ON a.user_id = u.id
		WHERE u.email_verified_at IS NOT NULL
		  AND a.last_activity_date >= $1::date
		  AND u.id > $2
		ORDER BY u.id
		LIMIT $3
	`, since, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки аудитории: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var rc Recipient
		if err := rows.Scan(&rc.UserID, &rc.Username, &rc.Email, &rc.TelegramChatID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования получателя: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// Recipient — адреса пользователя.
func (r *Repository) Recipient(ctx context.Context, userID int64) (*Recipient, error) {
	var rc Recipient
	err := r.db.QueryRow(ctx, `
		SELECT id, username, COALESCE(email, ''), telegram_chat_id
		FROM users
		WHERE id = $1
	`, userID).Scan(&rc.UserID, &rc.Username, &rc.Email, &rc.TelegramChatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения получателя: %w", err)
	}
	return &rc, nil
}

// Reserve — вставка ключа, если его нет.
func (r *Repository) Reserve(ctx context.Context, key string, userID int64, kind Kind, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO notification_log (dedupe_key, user_id, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, key, userID, string(kind), at)
	if err != nil {
		return false, fmt.Errorf("ошибка записи журнала уведомлений: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Known — какие из ключей уже записаны.
func (r *Repository) Known(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT dedupe_key FROM notification_log WHERE dedupe_key = ANY($1)
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала уведомлений: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("ошибка сканирования журнала: %w", err)
		}
		out[key] = true
	}
	return out, rows.Err()
}
