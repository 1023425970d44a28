// Package ledger ведёт журнал начислений кармы и пересчитывает из него
// агрегаты пользователей (karma_points, tier_id).
// Журнал только дополняется: записи не редактируются и не удаляются.
package ledger

import (
	"sort"
	"time"

	"serotonyl.ru/reputation/internal/features/tiers"
)

// Source — тег источника начисления.
type Source string

// Источники начислений
const (
	SourcePost        Source = "post"
	SourceComment     Source = "comment"
	SourceVote        Source = "vote"
	SourceSubCreated  Source = "sub_created"
	SourceAchievement Source = "achievement"
	SourceStreak      Source = "streak"
	SourceAdmin       Source = "admin"
)

// Entry — неизменяемая запись журнала.
type Entry struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Source      Source    `db:"source"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Aggregate — результат пересчёта одного пользователя.
// PrevTierID — уровень до пересчёта, TierID — после (nil — ни один уровень не подошёл).
type Aggregate struct {
	UserID      int64
	KarmaPoints int64
	PrevTierID  *int64
	TierID      *int64
}

// TierChange — повышение уровня, обнаруженное при пересчёте.
type TierChange struct {
	UserID      int64
	KarmaPoints int64
	From        *tiers.Tier // nil — уровня не было
	To          tiers.Tier
}

// Summary — итог прохода пересчёта.
type Summary struct {
	Processed  int
	Succeeded  int
	Failed     int
	TierUps    []TierChange
	LastUserID int64 // последний обработанный пользователь; с него можно продолжить
	Duration   time.Duration
}

func sortAggregates(list []Aggregate) {
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
}
