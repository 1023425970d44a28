// Package achievements выдаёт достижения за пересечение порогов метрик.
// Каждое достижение разблокируется не более одного раза на пользователя,
// бонус в журнал пишется в той же транзакции, что и разблокировка.
package achievements

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind — вид сущности, для которой считаются метрики.
type EntityKind string

const (
	EntitySub  EntityKind = "sub"
	EntityUser EntityKind = "user"
)

// Entity — сущность оценки. Для сообщества достижение получает владелец.
type Entity struct {
	Kind        EntityKind
	ID          int64
	OwnerUserID int64
}

// Recipient — пользователь, которому достаются достижения этой сущности.
func (e Entity) Recipient() int64 {
	if e.Kind == EntitySub {
		return e.OwnerUserID
	}
	return e.ID
}

// Snapshot — значения метрик сущности на момент оценки.
type Snapshot struct {
	Entity  Entity
	Metrics map[string]int64
}

// RawAchievement — достижение в том виде, в каком оно хранится.
type RawAchievement struct {
	ID                int64          `db:"id"`
	Slug              string         `db:"slug"`
	Name              string         `db:"name"`
	Description       string         `db:"description"`
	Type              string         `db:"type"`
	RequirementKind   string         `db:"requirement_kind"`
	RequirementParams map[string]any `db:"requirement_params"`
	KarmaBonus        int64          `db:"karma_bonus"`
}

// Parse проверяет запись и возвращает достижение с типизированным условием.
func (r RawAchievement) Parse() (*Achievement, error) {
	slug := strings.TrimSpace(r.Slug)
	if slug == "" {
		return nil, fmt.Errorf("достижение без slug")
	}
	if r.KarmaBonus < 0 {
		return nil, fmt.Errorf("достижение %s: отрицательный бонус %d", slug, r.KarmaBonus)
	}
	req, err := ParseRequirement(r.RequirementKind, r.RequirementParams)
	if err != nil {
		return nil, fmt.Errorf("достижение %s: %w", slug, err)
	}
	name := r.Name
	if name == "" {
		name = slug
	}
	return &Achievement{
		ID:          r.ID,
		Slug:        slug,
		Name:        name,
		Description: r.Description,
		Type:        r.Type,
		Requirement: req,
		KarmaBonus:  r.KarmaBonus,
	}, nil
}

// Achievement — проверенное достижение.
type Achievement struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	Type        string
	Requirement Requirement
	KarmaBonus  int64
}

// Raw возвращает форму для хранения.
func (a *Achievement) Raw() RawAchievement {
	return RawAchievement{
		ID:                a.ID,
		Slug:              a.Slug,
		Name:              a.Name,
		Description:       a.Description,
		Type:              a.Type,
		RequirementKind:   string(a.Requirement.Kind),
		RequirementParams: a.Requirement.Params(),
		KarmaBonus:        a.KarmaBonus,
	}
}

// UnlockRecord — состояние достижения у пользователя.
// UnlockedAt ставится один раз и больше не меняется.
type UnlockRecord struct {
	UserID        int64      `db:"user_id"`
	AchievementID int64      `db:"achievement_id"`
	Progress      int        `db:"progress"`
	UnlockedAt    *time.Time `db:"unlocked_at"`
}

// Unlocked сообщает, разблокировано ли достижение.
func (r *UnlockRecord) Unlocked() bool {
	return r != nil && r.UnlockedAt != nil
}

// Unlock — факт разблокировки в текущем проходе.
type Unlock struct {
	UserID      int64
	Achievement *Achievement
	UnlockedAt  time.Time
	Notified    bool
}

// Result — итог оценки одной сущности.
type Result struct {
	Unlocked   []Unlock
	Progressed int // сохранён прогресс ниже порога
	Failed     int // ошибки хранилища по отдельным достижениям
}
