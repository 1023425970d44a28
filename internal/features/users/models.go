// Package users описывает пользователей платформы в том объёме,
// который нужен движку репутации: агрегат кармы, уровень и адреса для уведомлений.
// Регистрация и профили живут в CRUD-слое, здесь только чтение и минимальная запись.
package users

import "time"

// User — пользователь платформы.
// KarmaPoints и TierID производные: их пересчитывает ledger.Engine из журнала.
type User struct {
	ID              int64      `db:"id"`
	Username        string     `db:"username"`
	Email           string     `db:"email"`
	EmailVerifiedAt *time.Time `db:"email_verified_at"` // nil — почта не подтверждена, рассылки не получает
	TelegramChatID  *int64     `db:"telegram_chat_id"`  // nil — нет канала в Telegram
	KarmaPoints     int64      `db:"karma_points"`
	TierID          *int64     `db:"tier_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// IsVerified сообщает, подтверждена ли почта.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// DisplayName возвращает отображаемое имя пользователя.
func (u *User) DisplayName() string {
	return "@" + u.Username
}
