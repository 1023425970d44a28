// Package tiers описывает уровни репутации («левелы»).
package tiers

import (
	"sort"
	"time"
)

// Tier — именованный диапазон кармы. Пользователь находится на уровне
// с наибольшим RequiredScore, не превышающим его karma_points.
type Tier struct {
	ID            int64     `db:"id"`
	Name          string    `db:"name"`
	RequiredScore int64     `db:"required_score"`
	CreatedAt     time.Time `db:"created_at"`
}

// SortByScore упорядочивает уровни по возрастанию RequiredScore (на месте).
func SortByScore(list []Tier) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].RequiredScore < list[j].RequiredScore
	})
}

// Resolve выбирает уровень для заданного количества очков.
// list может быть в любом порядке. false — ни один уровень не подходит
// (например, в каталоге нет уровня с порогом 0, а карма отрицательная).
func Resolve(list []Tier, points int64) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, t := range list {
		if t.RequiredScore > points {
			continue
		}
		if !found || t.RequiredScore > best.RequiredScore {
			best = t
			found = true
		}
	}
	return best, found
}

// ByID возвращает уровень из списка по ID.
func ByID(list []Tier, id int64) (Tier, bool) {
	for _, t := range list {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}
