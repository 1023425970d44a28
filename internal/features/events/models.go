// Package events управляет событиями кармы — окнами времени,
// в которые начисления умножаются на множитель («прилив», «буст»).
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status — производное состояние события относительно часов.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// KarmaEvent — запланированное окно множителя.
// Инварианты: EndAt = StartAt + длительность, EndAt > StartAt, Multiplier > 0.
// IsActive — кеш последнего прохода Sweep, источником истины не является.
type KarmaEvent struct {
	ID          uuid.UUID       `db:"id"`
	Type        string          `db:"type"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Multiplier  decimal.Decimal `db:"multiplier"`
	StartAt     time.Time       `db:"start_at"`
	EndAt       time.Time       `db:"end_at"`
	IsActive    bool            `db:"is_active"`
	CreatedAt   time.Time       `db:"created_at"`
}

// ActiveAt — событие действует в полуинтервале [StartAt, EndAt).
func (e *KarmaEvent) ActiveAt(t time.Time) bool {
	return !t.Before(e.StartAt) && t.Before(e.EndAt)
}

// StatusAt выводит состояние события из времени, игнорируя IsActive.
func (e *KarmaEvent) StatusAt(t time.Time) Status {
	switch {
	case t.Before(e.StartAt):
		return StatusPending
	case t.Before(e.EndAt):
		return StatusActive
	default:
		return StatusExpired
	}
}

// Duration возвращает длительность окна.
func (e *KarmaEvent) Duration() time.Duration {
	return e.EndAt.Sub(e.StartAt)
}

// Множитель хранится в NUMERIC(10,4): не больше 4 знаков после запятой
// и не больше MaxMultiplier.
const MultiplierScale = 4

var MaxMultiplier = decimal.RequireFromString("999999.9999")

// TypeDefaults — значения по умолчанию для типа события.
type TypeDefaults struct {
	Type        string
	Name        string
	Description string
	Multiplier  decimal.Decimal
}

// BuiltinTypes — таблица типов, известных без каталога.
// Каталог может переопределить или дополнить её.
func BuiltinTypes() map[string]TypeDefaults {
	return map[string]TypeDefaults{
		"tide": {
			Type:        "tide",
			Name:        "Прилив кармы",
			Description: "Вся карма за действия удваивается",
			Multiplier:  decimal.NewFromInt(2),
		},
	}
}

// ScheduleParams — входные данные для Schedule.
// Multiplier и Description необязательны: nil берёт значение из таблицы типов.
type ScheduleParams struct {
	Type          string
	StartAt       time.Time
	DurationHours int
	Multiplier    *decimal.Decimal
	Description   *string
}
