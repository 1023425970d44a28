// Package ledger — repository.go выполняет операции с таблицами ledger_entries и users.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/reputation/internal/common"
)

// SQLSTATE нарушения внешнего ключа
const pgForeignKeyViolation = "23503"

// recalcChunkSQL пересчитывает порцию пользователей одним оператором:
// строки пользователей блокируются, сумма журнала и уровень записываются
// в том же UPDATE, старый уровень возвращается для поиска повышений.
const recalcChunkSQL = `
	WITH chunk AS (
		SELECT id, tier_id AS old_tier
		FROM users
		WHERE id > $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE
	), sums AS (
		SELECT c.id, COALESCE(SUM(l.amount), 0)::BIGINT AS total
		FROM chunk c
		LEFT JOIN ledger_entries l ON l.user_id = c.id
		GROUP BY c.id
	)
	UPDATE users u
	SET karma_points = s.total,
	    tier_id = (
	        SELECT t.id FROM tiers t
	        WHERE t.required_score <= s.total
	        ORDER BY t.required_score DESC, t.id
	        LIMIT 1
	    ),
	    updated_at = NOW()
	FROM sums s
	JOIN chunk c ON c.id = s.id
	WHERE u.id = s.id
	RETURNING u.id, c.old_tier, u.tier_id, u.karma_points
`

const recalcUserSQL = `
	WITH target AS (
		SELECT id, tier_id AS old_tier FROM users WHERE id = $1 FOR UPDATE
	), sums AS (
		SELECT t.id, COALESCE(SUM(l.amount), 0)::BIGINT AS total
		FROM target t
		LEFT JOIN ledger_entries l ON l.user_id = t.id
		GROUP BY t.id
	)
	UPDATE users u
	SET karma_points = s.total,
	    tier_id = (
	        SELECT t.id FROM tiers t
	        WHERE t.required_score <= s.total
	        ORDER BY t.required_score DESC, t.id
	        LIMIT 1
	    ),
	    updated_at = NOW()
	FROM sums s
	JOIN target g ON g.id = s.id
	WHERE u.id = s.id
	RETURNING u.id, g.old_tier, u.tier_id, u.karma_points
`

// Repository работает с журналом и агрегатами пользователей.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий журнала.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Append добавляет запись в журнал.
func (r *Repository) Append(ctx context.Context, e *Entry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, amount, source, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.UserID, e.Amount, string(e.Source), e.Description).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return wrapUserErr(e.UserID, err)
	}
	return nil
}

// AppendTx добавляет запись в рамках чужой транзакции (бонус за достижение).
func AppendTx(ctx context.Context, tx pgx.Tx, e *Entry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, amount, source, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.UserID, e.Amount, string(e.Source), e.Description).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return wrapUserErr(e.UserID, err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE users SET karma_points = karma_points + $2, updated_at = NOW() WHERE id = $1
	`, e.UserID, e.Amount)
	if err != nil {
		return fmt.Errorf("ошибка обновления кармы: %w", err)
	}
	return nil
}

// AddKarma оптимистично сдвигает karma_points.
func (r *Repository) AddKarma(ctx context.Context, userID, delta int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET karma_points = karma_points + $2, updated_at = NOW() WHERE id = $1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("ошибка обновления кармы: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	return nil
}

// History возвращает последние записи пользователя.
func (r *Repository) History(ctx context.Context, userID int64, limit int) ([]*Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, amount, source, description, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var source string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &source, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		e.Source = Source(source)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RecalculateChunk — см. recalcChunkSQL.
func (r *Repository) RecalculateChunk(ctx context.Context, afterID int64, limit int) ([]Aggregate, error) {
	rows, err := r.db.Query(ctx, recalcChunkSQL, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка пересчёта порции: %w", err)
	}
	defer rows.Close()

	out := make([]Aggregate, 0, limit)
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.UserID, &a.PrevTierID, &a.TierID, &a.KarmaPoints); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка пересчёта порции: %w", err)
	}

	// RETURNING не гарантирует порядок, курсор должен быть максимальным id.
	sortAggregates(out)
	return out, nil
}

// RecalculateUser пересчитывает одного пользователя.
func (r *Repository) RecalculateUser(ctx context.Context, userID int64) (Aggregate, error) {
	var a Aggregate
	err := r.db.QueryRow(ctx, recalcUserSQL, userID).Scan(&a.UserID, &a.PrevTierID, &a.TierID, &a.KarmaPoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{}, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
		}
		return Aggregate{}, fmt.Errorf("ошибка пересчёта user_id=%d: %w", userID, err)
	}
	return a, nil
}

// UserIDs — id пользователей после afterID.
func (r *Repository) UserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователей: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func wrapUserErr(userID int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	return fmt.Errorf("ошибка записи в журнал: %w", err)
}
