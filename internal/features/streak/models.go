// Package streak ведёт сигналы активности пользователей: серию дней подряд,
// рекорд и дату последней активности. Дату читает таргетинг уведомлений.
package streak

import "time"

// Signal — сигнал активности пользователя.
type Signal struct {
	UserID           int64     `db:"user_id"`
	CurrentStreak    int       `db:"current_streak"` // дней подряд, включая LastActivityDate
	LongestStreak    int       `db:"longest_streak"` // личный рекорд
	LastActivityDate time.Time `db:"last_activity_date"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Next применяет активность в календарный день day к сигналу prev.
//
//   - первый день активности: серия 1
//   - тот же день: без изменений
//   - следующий день: серия +1
//   - пропуск дня: серия начинается заново с 1
//   - день раньше последнего (запоздавшее событие): без изменений
//
// day — полночь UTC календарной даты (см. common.DateIn).
func Next(prev *Signal, userID int64, day time.Time) Signal {
	if prev == nil || prev.LastActivityDate.IsZero() {
		return Signal{UserID: userID, CurrentStreak: 1, LongestStreak: 1, LastActivityDate: day}
	}

	next := *prev
	switch {
	case !day.After(prev.LastActivityDate):
		return next
	case day.Equal(prev.LastActivityDate.AddDate(0, 0, 1)):
		next.CurrentStreak++
	default:
		next.CurrentStreak = 1
	}
	next.LastActivityDate = day
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next
}
